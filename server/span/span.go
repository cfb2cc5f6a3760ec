// Package span implements the byte-codec primitive the rest of the engine
// serializes through: a non-owning, mutable view of a byte region with
// bounds-checked advance/sub-span and little-endian primitive/container
// (de)serialization. A single bounds-checked type means every subsystem
// shares one failure mode for truncated input: ErrParse.
package span

import (
	"encoding/binary"

	"github.com/zhukovaskychina/pagestore/server/common/errs"
)

// Span is a mutable, non-owning view of a byte slice.
type Span struct {
	buf []byte
}

// New wraps buf in a Span. The Span shares the underlying array with buf.
func New(buf []byte) Span { return Span{buf: buf} }

// Size returns the number of bytes remaining in the span.
func (s Span) Size() int { return len(s.buf) }

// Bytes returns the span's underlying bytes. Mutations to the returned
// slice are visible through the span.
func (s Span) Bytes() []byte { return s.buf }

// Advance drops n bytes from the front of the span, returning the
// remainder. Panics if n > s.Size(): callers must bounds-check via Size()
// first, since a Span never owns or copies the underlying bytes.
func (s Span) Advance(n int) Span { return Span{buf: s.buf[n:]} }

// Sub returns a new span over s.buf[offset : offset+length] without
// copying. Fails with ErrParse if the requested range exceeds the span.
func (s Span) Sub(offset, length int) (Span, error) {
	if offset < 0 || length < 0 || offset+length > s.Size() {
		return Span{}, errs.Wrapf(errs.ErrParse, "sub-span [%d:%d] exceeds span of size %d", offset, length, s.Size())
	}
	return Span{buf: s.buf[offset : offset+length]}, nil
}

func (s Span) need(n int) error {
	if s.Size() < n {
		return errs.Wrapf(errs.ErrParse, "need %d bytes, have %d", n, s.Size())
	}
	return nil
}

// --- fixed-width primitive codec, little-endian ---

func (s Span) DumpUint8(v uint8) (Span, error) {
	if err := s.need(1); err != nil {
		return s, err
	}
	s.buf[0] = v
	return s.Advance(1), nil
}

func (s Span) LoadUint8() (uint8, Span, error) {
	if err := s.need(1); err != nil {
		return 0, s, err
	}
	return s.buf[0], s.Advance(1), nil
}

func (s Span) DumpUint16(v uint16) (Span, error) {
	if err := s.need(2); err != nil {
		return s, err
	}
	binary.LittleEndian.PutUint16(s.buf, v)
	return s.Advance(2), nil
}

func (s Span) LoadUint16() (uint16, Span, error) {
	if err := s.need(2); err != nil {
		return 0, s, err
	}
	return binary.LittleEndian.Uint16(s.buf), s.Advance(2), nil
}

func (s Span) DumpUint32(v uint32) (Span, error) {
	if err := s.need(4); err != nil {
		return s, err
	}
	binary.LittleEndian.PutUint32(s.buf, v)
	return s.Advance(4), nil
}

func (s Span) LoadUint32() (uint32, Span, error) {
	if err := s.need(4); err != nil {
		return 0, s, err
	}
	return binary.LittleEndian.Uint32(s.buf), s.Advance(4), nil
}

func (s Span) DumpUint64(v uint64) (Span, error) {
	if err := s.need(8); err != nil {
		return s, err
	}
	binary.LittleEndian.PutUint64(s.buf, v)
	return s.Advance(8), nil
}

func (s Span) LoadUint64() (uint64, Span, error) {
	if err := s.need(8); err != nil {
		return 0, s, err
	}
	return binary.LittleEndian.Uint64(s.buf), s.Advance(8), nil
}

// --- container framing: size_t length prefix (as uint32) + elements ---

// DumpBytes frames v as a uint32 length prefix followed by the raw bytes.
func (s Span) DumpBytes(v []byte) (Span, error) {
	s, err := s.DumpUint32(uint32(len(v)))
	if err != nil {
		return s, err
	}
	if err := s.need(len(v)); err != nil {
		return s, err
	}
	copy(s.buf, v)
	return s.Advance(len(v)), nil
}

// LoadBytes reads a uint32-length-prefixed byte slice. The returned slice
// aliases the span's backing array.
func (s Span) LoadBytes() ([]byte, Span, error) {
	n, s, err := s.LoadUint32()
	if err != nil {
		return nil, s, err
	}
	if err := s.need(int(n)); err != nil {
		return nil, s, err
	}
	out := s.buf[:n]
	return out, s.Advance(int(n)), nil
}

// SizeOfBytes returns how many bytes DumpBytes would consume for v,
// without writing anything. Used by callers computing free-space.
func SizeOfBytes(v []byte) int { return 4 + len(v) }
