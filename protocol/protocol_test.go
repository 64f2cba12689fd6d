package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"uds-rpc/codec"
)

func buildFrame(t *testing.T, routineID uint32, payload []byte) []byte {
	t.Helper()
	b, err := NewBuilder(make([]byte, MaxFrameSize), routineID)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	if err := b.Raw(payload); err != nil {
		t.Fatalf("Raw failed: %v", err)
	}
	frame, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	return frame
}

func TestBuildAndParseRoundTrip(t *testing.T) {
	b, err := NewBuilder(make([]byte, 128), 0x1000)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	pb := b.Buffer()
	if err := pb.PutByte(0x01); err != nil {
		t.Fatalf("PutByte failed: %v", err)
	}
	if err := pb.PutFloat64(10.5); err != nil {
		t.Fatalf("PutFloat64 failed: %v", err)
	}
	if err := pb.PutString("hi"); err != nil {
		t.Fatalf("PutString failed: %v", err)
	}
	frame, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	parsed, consumed, err := NextFrame(frame)
	if err != nil {
		t.Fatalf("NextFrame failed: %v", err)
	}
	if consumed != len(frame) {
		t.Errorf("consumed: got %d, want %d", consumed, len(frame))
	}
	if parsed.RoutineID != 0x1000 {
		t.Errorf("RoutineID: got %#x, want 0x1000", parsed.RoutineID)
	}
	if parsed.Version != Version {
		t.Errorf("Version: got %#x, want %#x", parsed.Version, Version)
	}
	if len(parsed.Payload) != len(frame)-MinFrameSize {
		t.Errorf("payload length: got %d, want %d", len(parsed.Payload), len(frame)-MinFrameSize)
	}

	// The payload span must stop short of the END sentinel.
	pp, err := codec.NewBuffer(parsed.Payload)
	if err != nil {
		t.Fatalf("NewBuffer over payload failed: %v", err)
	}
	if op, _ := pp.GetByte(); op != 0x01 {
		t.Errorf("payload op: got %#x, want 0x01", op)
	}
	if v, _ := pp.GetFloat64(); v != 10.5 {
		t.Errorf("payload float: got %g, want 10.5", v)
	}
	if s, _ := pp.GetString(); s != "hi" {
		t.Errorf("payload string: got %q, want %q", s, "hi")
	}
}

func TestBuilderPatchesLength(t *testing.T) {
	frame := buildFrame(t, 7, []byte{0xAA, 0xBB, 0xCC})

	if frame[0] != StartByte {
		t.Errorf("first byte: got %#x, want START", frame[0])
	}
	if frame[len(frame)-1] != EndByte {
		t.Errorf("last byte: got %#x, want END", frame[len(frame)-1])
	}
	declared := binary.BigEndian.Uint32(frame[1:5])
	if int(declared) != len(frame) {
		t.Errorf("declared length: got %d, want %d", declared, len(frame))
	}
	if got := binary.BigEndian.Uint32(frame[5:9]); got != 7 {
		t.Errorf("routine id on the wire: got %d, want 7", got)
	}
	if frame[9] != Version {
		t.Errorf("version on the wire: got %#x, want %#x", frame[9], Version)
	}
}

func TestMinimalFrame(t *testing.T) {
	frame := buildFrame(t, 1, nil)
	if len(frame) != MinFrameSize {
		t.Fatalf("empty-payload frame: got %d bytes, want %d", len(frame), MinFrameSize)
	}
	parsed, consumed, err := NextFrame(frame)
	if err != nil {
		t.Fatalf("NextFrame failed: %v", err)
	}
	if consumed != MinFrameSize {
		t.Errorf("consumed: got %d, want %d", consumed, MinFrameSize)
	}
	if len(parsed.Payload) != 0 {
		t.Errorf("payload: got %d bytes, want 0", len(parsed.Payload))
	}
}

func TestMaximumFrame(t *testing.T) {
	payload := make([]byte, MaxFrameSize-MinFrameSize)
	frame := buildFrame(t, 2, payload)
	if len(frame) != MaxFrameSize {
		t.Fatalf("max frame: got %d bytes, want %d", len(frame), MaxFrameSize)
	}
	if _, consumed, err := NextFrame(frame); err != nil || consumed != MaxFrameSize {
		t.Errorf("NextFrame on max frame: consumed %d, err %v", consumed, err)
	}
}

func TestNextFrameIncomplete(t *testing.T) {
	frame := buildFrame(t, 0x2000, []byte("partial delivery"))

	for _, n := range []int{0, 1, 5, MinFrameSize - 1, MinFrameSize, len(frame) - 1} {
		_, consumed, err := NextFrame(frame[:n])
		if err != nil {
			t.Errorf("NextFrame on %d-byte prefix: unexpected error %v", n, err)
		}
		if consumed != 0 {
			t.Errorf("NextFrame on %d-byte prefix: consumed %d, want 0", n, consumed)
		}
	}
}

func TestNextFramePipelined(t *testing.T) {
	first := buildFrame(t, 1, []byte("first"))
	second := buildFrame(t, 2, []byte("second"))
	stream := append(append([]byte{}, first...), second...)

	f1, n1, err := NextFrame(stream)
	if err != nil {
		t.Fatalf("first NextFrame failed: %v", err)
	}
	if f1.RoutineID != 1 || n1 != len(first) {
		t.Errorf("first frame: routine %d consumed %d, want 1 and %d", f1.RoutineID, n1, len(first))
	}
	f2, n2, err := NextFrame(stream[n1:])
	if err != nil {
		t.Fatalf("second NextFrame failed: %v", err)
	}
	if f2.RoutineID != 2 || n2 != len(second) {
		t.Errorf("second frame: routine %d consumed %d, want 2 and %d", f2.RoutineID, n2, len(second))
	}
	if !bytes.Equal(f2.Payload, []byte("second")) {
		t.Errorf("second payload: got %q, want %q", f2.Payload, "second")
	}
}

func TestNextFrameBadStart(t *testing.T) {
	frame := buildFrame(t, 1, []byte("x"))
	frame[0] = 0x00

	if _, _, err := NextFrame(frame); !errors.Is(err, ErrBadStart) {
		t.Errorf("NextFrame: got %v, want ErrBadStart", err)
	}
}

func TestNextFrameBadVersion(t *testing.T) {
	frame := buildFrame(t, 1, []byte("x"))
	frame[9] = 0xFF

	if _, _, err := NextFrame(frame); !errors.Is(err, ErrBadVersion) {
		t.Errorf("NextFrame: got %v, want ErrBadVersion", err)
	}
}

func TestNextFrameLengthOutOfRange(t *testing.T) {
	frame := buildFrame(t, 1, []byte("abcdef"))

	binary.BigEndian.PutUint32(frame[1:5], MinFrameSize-1)
	if _, _, err := NextFrame(frame); !errors.Is(err, ErrBadLength) {
		t.Errorf("undersized declared length: got %v, want ErrBadLength", err)
	}

	binary.BigEndian.PutUint32(frame[1:5], MaxFrameSize+1)
	if _, _, err := NextFrame(frame); !errors.Is(err, ErrBadLength) {
		t.Errorf("oversized declared length: got %v, want ErrBadLength", err)
	}
}

func TestNextFrameLengthMismatch(t *testing.T) {
	// Declare one byte less than the actual layout so the END check lands
	// on a payload byte.
	frame := buildFrame(t, 1, []byte("abcdef"))
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(frame)-1))

	if _, _, err := NextFrame(frame); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("NextFrame: got %v, want ErrLengthMismatch", err)
	}
}

func TestDeclaredLength(t *testing.T) {
	frame := buildFrame(t, 9, []byte("abc"))

	total, err := DeclaredLength(frame[:5])
	if err != nil {
		t.Fatalf("DeclaredLength failed: %v", err)
	}
	if total != len(frame) {
		t.Errorf("DeclaredLength: got %d, want %d", total, len(frame))
	}

	if _, err := DeclaredLength(frame[:4]); !errors.Is(err, ErrBadLength) {
		t.Errorf("short prologue: got %v, want ErrBadLength", err)
	}
	if _, err := DeclaredLength([]byte{0x00, 0, 0, 0, 20}); !errors.Is(err, ErrBadStart) {
		t.Errorf("bad start: got %v, want ErrBadStart", err)
	}
}

func TestBuilderRegionTooSmall(t *testing.T) {
	if _, err := NewBuilder(make([]byte, MinFrameSize-1), 1); err == nil {
		t.Fatal("NewBuilder on undersized region: expected error, got nil")
	}
}

func TestBuilderOverflow(t *testing.T) {
	b, err := NewBuilder(make([]byte, 32), 1)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	if err := b.Raw(make([]byte, 64)); !errors.Is(err, codec.ErrOverflow) {
		t.Errorf("Raw past region: got %v, want codec.ErrOverflow", err)
	}
}

func TestBuilderFinishLeavesParseableBytes(t *testing.T) {
	region := make([]byte, 64)
	b, err := NewBuilder(region, 0xABCD)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	if err := b.Buffer().PutString("payload"); err != nil {
		t.Fatalf("PutString failed: %v", err)
	}
	frame, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	parsed, _, err := NextFrame(frame)
	if err != nil {
		t.Fatalf("NextFrame failed: %v", err)
	}
	pb, _ := codec.NewBuffer(parsed.Payload)
	if s, _ := pb.GetString(); s != "payload" {
		t.Errorf("payload string: got %q, want %q", s, "payload")
	}
}
