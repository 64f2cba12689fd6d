// Package protocol implements the length-prefixed binary frame format that
// travels over the Unix domain socket.
//
// Every frame is delimited by START and END sentinel bytes and carries its
// own total length, so a receiver can assemble frames from an arbitrary byte
// stream: read the prologue to learn the total length, accumulate until that
// many bytes have arrived, then verify the END sentinel sits exactly where
// the length says it should.
//
// Frame format:
//
//	0      1          5          9     10           total-1
//	┌──────┬──────────┬──────────┬─────┬────────────┬──────┐
//	│START │ totalLen │ routine  │ ver │  payload   │ END  │
//	│ 0x7E │  uint32  │  uint32  │ 01  │  opaque    │ 0x7F │
//	└──────┴──────────┴──────────┴─────┴────────────┴──────┘
//
// All integers are big-endian. The total length covers the whole frame,
// START and END included; the legal range is [11, 8192].
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"uds-rpc/codec"
)

const (
	StartByte byte = 0x7E
	EndByte   byte = 0x7F
	Version   byte = 0x01

	// MinFrameSize is a frame with an empty payload: START + length +
	// routine id + version + END.
	MinFrameSize = 11
	// MaxFrameSize bounds every frame, requests and responses alike.
	MaxFrameSize = 8192
)

// Byte offsets within a frame.
const (
	offStart   = 0
	offLength  = 1
	offRoutine = 5
	offVersion = 9
	offPayload = 10
)

var (
	ErrBadStart       = errors.New("protocol: frame does not begin with START")
	ErrBadLength      = errors.New("protocol: declared frame length out of range")
	ErrLengthMismatch = errors.New("protocol: END sentinel not at declared frame end")
	ErrBadVersion     = errors.New("protocol: unsupported protocol version")
	ErrFrameTooLarge  = errors.New("protocol: frame exceeds maximum size")
)

// Frame is one parsed frame. Payload aliases the buffer handed to NextFrame
// and excludes the END byte; it is valid only until the caller recycles that
// buffer.
type Frame struct {
	RoutineID uint32
	Version   byte
	Payload   []byte
}

// DeclaredLength reads the total length out of a frame prologue (the first
// five bytes). It validates the START sentinel and the length bounds but
// nothing else; receivers use it to decide how many bytes to keep reading.
func DeclaredLength(prefix []byte) (int, error) {
	if len(prefix) < offRoutine {
		return 0, fmt.Errorf("%w: prologue needs %d bytes, got %d", ErrBadLength, offRoutine, len(prefix))
	}
	if prefix[offStart] != StartByte {
		return 0, fmt.Errorf("%w: got %#02x", ErrBadStart, prefix[offStart])
	}
	total := int(binary.BigEndian.Uint32(prefix[offLength:offRoutine]))
	if total < MinFrameSize || total > MaxFrameSize {
		return 0, fmt.Errorf("%w: %d", ErrBadLength, total)
	}
	return total, nil
}

// NextFrame attempts to parse one complete frame from the front of data,
// which may hold a partial frame, exactly one frame, or several back to
// back.
//
// It returns (frame, total, nil) when a complete frame is present, where
// total is the number of bytes consumed. It returns (zero, 0, nil) when the
// data so far is a plausible prefix and the caller should keep
// accumulating. It returns an error when the leading bytes cannot be a
// valid frame; the caller should discard its buffered data.
func NextFrame(data []byte) (Frame, int, error) {
	if len(data) < MinFrameSize {
		return Frame{}, 0, nil
	}
	total, err := DeclaredLength(data)
	if err != nil {
		return Frame{}, 0, err
	}
	if len(data) < total {
		return Frame{}, 0, nil
	}
	if data[total-1] != EndByte {
		return Frame{}, 0, fmt.Errorf("%w: length %d, last byte %#02x",
			ErrLengthMismatch, total, data[total-1])
	}
	if v := data[offVersion]; v != Version {
		return Frame{}, 0, fmt.Errorf("%w: got %#02x", ErrBadVersion, v)
	}
	return Frame{
		RoutineID: binary.BigEndian.Uint32(data[offRoutine:offVersion]),
		Version:   data[offVersion],
		Payload:   data[offPayload : total-1],
	}, total, nil
}

// Builder encodes one frame into a caller-provided region. The total length
// is not known until the payload has been written, so the builder writes a
// zero placeholder up front and patches the real value in Finish.
//
// A builder is single-use: construct, append payload fields through
// Buffer() or Raw(), then Finish.
type Builder struct {
	buf *codec.Buffer
}

// NewBuilder starts a frame for the given routine id in region. The region
// must hold at least a minimum frame.
func NewBuilder(region []byte, routineID uint32) (*Builder, error) {
	if len(region) < MinFrameSize {
		return nil, fmt.Errorf("protocol: region of %d bytes cannot hold a frame: %w",
			len(region), codec.ErrOverflow)
	}
	buf, err := codec.NewBuffer(region)
	if err != nil {
		return nil, err
	}
	if err := buf.PutByte(StartByte); err != nil {
		return nil, err
	}
	if err := buf.PutUint32(0); err != nil { // total length, patched in Finish
		return nil, err
	}
	if err := buf.PutUint32(routineID); err != nil {
		return nil, err
	}
	if err := buf.PutByte(Version); err != nil {
		return nil, err
	}
	return &Builder{buf: buf}, nil
}

// Buffer exposes the underlying codec buffer, positioned at the payload,
// for appending payload fields.
func (b *Builder) Buffer() *codec.Buffer {
	return b.buf
}

// Raw splices an already-encoded payload into the frame.
func (b *Builder) Raw(p []byte) error {
	return b.buf.PutBytes(p)
}

// Finish writes the END sentinel, patches the total length at offset 1, and
// returns the completed frame. The slice shares the builder's region.
func (b *Builder) Finish() ([]byte, error) {
	if err := b.buf.PutByte(EndByte); err != nil {
		return nil, err
	}
	total := b.buf.Position()
	if total > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}
	if err := b.buf.SetPosition(offLength); err != nil {
		return nil, err
	}
	if err := b.buf.PutUint32(uint32(total)); err != nil {
		return nil, err
	}
	if err := b.buf.SetPosition(total); err != nil {
		return nil, err
	}
	return b.buf.Bytes(), nil
}
