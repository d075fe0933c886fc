package storage

import (
	"math"

	"github.com/bramblekv/pagewal/errs"
)

// Endpoint is a positioned handle to a contiguous region of a Storage,
// normally one page. All multi-byte primitives are big-endian to preserve
// the on-disk contract regardless of host endianness. Endpoint holds no
// cursor: every method takes an absolute storage offset, so two goroutines
// reading through the same Endpoint never perturb one another's position.
type Endpoint struct {
	acc  accessor
	base int64 // absolute offset of the first byte this endpoint covers
	size int64 // number of bytes this endpoint covers, starting at base
}

func newEndpoint(acc accessor, base, size int64) *Endpoint {
	return &Endpoint{acc: acc, base: base, size: size}
}

// Base returns the absolute offset this endpoint's region begins at.
func (e *Endpoint) Base() int64 { return e.base }

// Size returns the number of bytes this endpoint's region covers.
func (e *Endpoint) Size() int64 { return e.size }

func (e *Endpoint) bounds(off int64, n int) error {
	if off < e.base || off+int64(n) > e.base+e.size {
		return errs.New(errs.OutOfBounds, "endpoint", nil)
	}
	return nil
}

func (e *Endpoint) read(off int64, buf []byte) error {
	if err := e.bounds(off, len(buf)); err != nil {
		return err
	}
	return e.acc.readAt(off, buf)
}

func (e *Endpoint) write(off int64, buf []byte) error {
	if err := e.bounds(off, len(buf)); err != nil {
		return err
	}
	return e.acc.writeAt(off, buf)
}

// ReadUint8 reads a single byte at off.
func (e *Endpoint) ReadUint8(off int64) (uint8, error) {
	var b [1]byte
	if err := e.read(off, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteUint8 writes a single byte at off.
func (e *Endpoint) WriteUint8(off int64, v uint8) error {
	return e.write(off, []byte{v})
}

// ReadChar reads a big-endian 16-bit character at off.
func (e *Endpoint) ReadChar(off int64) (uint16, error) {
	var b [2]byte
	if err := e.read(off, b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// WriteChar writes a big-endian 16-bit character at off.
func (e *Endpoint) WriteChar(off int64, v uint16) error {
	return e.write(off, []byte{byte(v >> 8), byte(v)})
}

// ReadInt16 reads a big-endian signed 16-bit integer at off.
func (e *Endpoint) ReadInt16(off int64) (int16, error) {
	v, err := e.ReadChar(off)
	return int16(v), err
}

// WriteInt16 writes a big-endian signed 16-bit integer at off.
func (e *Endpoint) WriteInt16(off int64, v int16) error {
	return e.WriteChar(off, uint16(v))
}

// ReadInt32 reads a big-endian signed 32-bit integer at off.
func (e *Endpoint) ReadInt32(off int64) (int32, error) {
	var b [4]byte
	if err := e.read(off, b[:]); err != nil {
		return 0, err
	}
	return int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])), nil
}

// WriteInt32 writes a big-endian signed 32-bit integer at off.
func (e *Endpoint) WriteInt32(off int64, v int32) error {
	u := uint32(v)
	return e.write(off, []byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)})
}

// ReadInt64 reads a big-endian signed 64-bit integer at off.
func (e *Endpoint) ReadInt64(off int64) (int64, error) {
	var b [8]byte
	if err := e.read(off, b[:]); err != nil {
		return 0, err
	}
	var u uint64
	for _, c := range b {
		u = u<<8 | uint64(c)
	}
	return int64(u), nil
}

// WriteInt64 writes a big-endian signed 64-bit integer at off.
func (e *Endpoint) WriteInt64(off int64, v int64) error {
	u := uint64(v)
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
	return e.write(off, b[:])
}

// ReadFloat32 reads a big-endian IEEE-754 float at off.
func (e *Endpoint) ReadFloat32(off int64) (float32, error) {
	v, err := e.ReadInt32(off)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

// WriteFloat32 writes a big-endian IEEE-754 float at off.
func (e *Endpoint) WriteFloat32(off int64, v float32) error {
	return e.WriteInt32(off, int32(math.Float32bits(v)))
}

// ReadFloat64 reads a big-endian IEEE-754 double at off.
func (e *Endpoint) ReadFloat64(off int64) (float64, error) {
	v, err := e.ReadInt64(off)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}

// WriteFloat64 writes a big-endian IEEE-754 double at off.
func (e *Endpoint) WriteFloat64(off int64, v float64) error {
	return e.WriteInt64(off, int64(math.Float64bits(v)))
}

// ReadBytes reads n bytes starting at off.
func (e *Endpoint) ReadBytes(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := e.read(off, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadBytesInto reads len(buf) bytes starting at off into buf.
func (e *Endpoint) ReadBytesInto(off int64, buf []byte) error {
	return e.read(off, buf)
}

// WriteBytes writes data starting at off.
func (e *Endpoint) WriteBytes(off int64, data []byte) error {
	return e.write(off, data)
}
