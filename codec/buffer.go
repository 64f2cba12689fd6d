// Package codec implements the bounds-checked binary buffer that frame
// payloads are encoded into and decoded from.
//
// A Buffer wraps a caller-provided region of fixed capacity and maintains a
// cursor. All multi-byte integers are big-endian; floats cross the wire as
// their IEEE-754 bit patterns. Strings are a uint32 byte length followed by
// the raw bytes, maps a uint32 entry count followed by key/value string
// pairs. Every operation is bounds-checked: a write past the capacity fails
// with ErrOverflow, a read past it with ErrUnderflow, and a failed operation
// leaves the cursor where it was.
package codec

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	ErrEmptyRegion = errors.New("codec: buffer region must not be empty")
	ErrOverflow    = errors.New("codec: write exceeds buffer capacity")
	ErrUnderflow   = errors.New("codec: read exceeds buffer capacity")
	ErrOutOfRange  = errors.New("codec: position out of range")
)

// Buffer is a cursor over a fixed-capacity byte region. It does not grow;
// the capacity is the length of the region handed to NewBuffer.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer wraps region. The buffer reads and writes the region in place;
// the caller keeps ownership of the backing array.
func NewBuffer(region []byte) (*Buffer, error) {
	if len(region) == 0 {
		return nil, ErrEmptyRegion
	}
	return &Buffer{data: region}, nil
}

func (b *Buffer) checkWrite(n int) error {
	if n < 0 || b.pos+n > len(b.data) {
		return ErrOverflow
	}
	return nil
}

func (b *Buffer) checkRead(n int) error {
	if n < 0 || b.pos+n > len(b.data) {
		return ErrUnderflow
	}
	return nil
}

func (b *Buffer) PutByte(v byte) error {
	if err := b.checkWrite(1); err != nil {
		return err
	}
	b.data[b.pos] = v
	b.pos++
	return nil
}

func (b *Buffer) PutUint16(v uint16) error {
	if err := b.checkWrite(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b.data[b.pos:b.pos+2], v)
	b.pos += 2
	return nil
}

func (b *Buffer) PutUint32(v uint32) error {
	if err := b.checkWrite(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.data[b.pos:b.pos+4], v)
	b.pos += 4
	return nil
}

func (b *Buffer) PutUint64(v uint64) error {
	if err := b.checkWrite(8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b.data[b.pos:b.pos+8], v)
	b.pos += 8
	return nil
}

func (b *Buffer) PutInt64(v int64) error {
	return b.PutUint64(uint64(v))
}

func (b *Buffer) PutFloat32(v float32) error {
	return b.PutUint32(math.Float32bits(v))
}

func (b *Buffer) PutFloat64(v float64) error {
	return b.PutUint64(math.Float64bits(v))
}

// PutString writes a uint32 length prefix followed by the string bytes.
// Nothing is written if the whole string does not fit.
func (b *Buffer) PutString(s string) error {
	if err := b.checkWrite(4 + len(s)); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.data[b.pos:b.pos+4], uint32(len(s)))
	b.pos += 4
	copy(b.data[b.pos:], s)
	b.pos += len(s)
	return nil
}

// PutBytes splices p into the buffer as-is, with no length prefix.
func (b *Buffer) PutBytes(p []byte) error {
	if err := b.checkWrite(len(p)); err != nil {
		return err
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return nil
}

// PutMap writes a uint32 entry count followed by key/value string pairs.
// Entry order follows map iteration order and is not significant on the
// wire. If any entry does not fit, the cursor is restored and nothing is
// considered written.
func (b *Buffer) PutMap(m map[string]string) error {
	mark := b.pos
	if err := b.PutUint32(uint32(len(m))); err != nil {
		return err
	}
	for k, v := range m {
		if err := b.PutString(k); err != nil {
			b.pos = mark
			return err
		}
		if err := b.PutString(v); err != nil {
			b.pos = mark
			return err
		}
	}
	return nil
}

func (b *Buffer) GetByte() (byte, error) {
	if err := b.checkRead(1); err != nil {
		return 0, err
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *Buffer) GetUint16() (uint16, error) {
	if err := b.checkRead(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(b.data[b.pos : b.pos+2])
	b.pos += 2
	return v, nil
}

func (b *Buffer) GetUint32() (uint32, error) {
	if err := b.checkRead(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.data[b.pos : b.pos+4])
	b.pos += 4
	return v, nil
}

func (b *Buffer) GetUint64() (uint64, error) {
	if err := b.checkRead(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b.data[b.pos : b.pos+8])
	b.pos += 8
	return v, nil
}

func (b *Buffer) GetInt64() (int64, error) {
	v, err := b.GetUint64()
	return int64(v), err
}

func (b *Buffer) GetFloat32() (float32, error) {
	v, err := b.GetUint32()
	return math.Float32frombits(v), err
}

func (b *Buffer) GetFloat64() (float64, error) {
	v, err := b.GetUint64()
	return math.Float64frombits(v), err
}

// GetString reads a uint32 length prefix and that many bytes. If the
// declared length exceeds the remaining region the cursor is restored and
// ErrUnderflow is returned.
func (b *Buffer) GetString() (string, error) {
	mark := b.pos
	n, err := b.GetUint32()
	if err != nil {
		return "", err
	}
	if err := b.checkRead(int(n)); err != nil {
		b.pos = mark
		return "", err
	}
	s := string(b.data[b.pos : b.pos+int(n)])
	b.pos += int(n)
	return s, nil
}

// GetBytes reads n raw bytes into a fresh slice.
func (b *Buffer) GetBytes(n int) ([]byte, error) {
	if err := b.checkRead(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.data[b.pos:b.pos+n])
	b.pos += n
	return out, nil
}

// GetMap reads a uint32 entry count followed by key/value string pairs.
// On any decoding failure the cursor is restored.
func (b *Buffer) GetMap() (map[string]string, error) {
	mark := b.pos
	count, err := b.GetUint32()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		k, err := b.GetString()
		if err != nil {
			b.pos = mark
			return nil, err
		}
		v, err := b.GetString()
		if err != nil {
			b.pos = mark
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// Position returns the cursor offset from the start of the region.
func (b *Buffer) Position() int {
	return b.pos
}

// SetPosition moves the cursor. A position equal to the capacity is valid
// (the buffer is exhausted); anything outside [0, Capacity] is rejected.
func (b *Buffer) SetPosition(p int) error {
	if p < 0 || p > len(b.data) {
		return ErrOutOfRange
	}
	b.pos = p
	return nil
}

// Reset moves the cursor back to the start of the region.
func (b *Buffer) Reset() {
	b.pos = 0
}

// Capacity returns the length of the backing region.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Remaining returns the bytes left between the cursor and the capacity.
func (b *Buffer) Remaining() int {
	return len(b.data) - b.pos
}

// Bytes returns a view of the region up to the cursor. The slice shares the
// backing array; it is valid until the caller reuses the region.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.pos]
}
