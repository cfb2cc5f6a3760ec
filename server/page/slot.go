package page

import (
	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
	"github.com/zhukovaskychina/pagestore/server/span"
	"github.com/zhukovaskychina/pagestore/util"
)

// SlotHeaderSize is the fixed, on-disk size in bytes of a PageSlot's
// header: previous and next chain locations plus a checksum over the rest
// of the slot.
const SlotHeaderSize = 8 + 8 + 8 + 8 + 8 // prev.PageId, prev.SlotId, next.PageId, next.SlotId, checksum

// PageSlot is one record fragment held in a record page's high-address
// region. A logical record larger than one slot's usable payload is
// split into a doubly-linked chain of slots, possibly across pages; Prev
// and Next address the neighboring fragments. The chain is acyclic: the
// head's Prev is NULL and the tail's Next is NULL.
type PageSlot struct {
	Prev    common.RecordLocation
	Next    common.RecordLocation
	Payload []byte
}

// Size returns the total on-disk size of the slot (header + payload).
func (s *PageSlot) Size() int { return SlotHeaderSize + len(s.Payload) }

func (s *PageSlot) checksum() uint64 {
	buf := make([]byte, 0, 32+len(s.Payload))
	buf = appendUint64(buf, uint64(s.Prev.PageId))
	buf = appendUint64(buf, uint64(s.Prev.SlotId))
	buf = appendUint64(buf, uint64(s.Next.PageId))
	buf = appendUint64(buf, uint64(s.Next.SlotId))
	buf = append(buf, s.Payload...)
	return util.HashCode(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// DumpSlot serializes slot into out, which must be exactly slot.Size()
// bytes. Exported for the log record codec, which frames slot
// images inside a log record body using the same wire format a record
// page stores them in.
func DumpSlot(slot *PageSlot, out span.Span) error { return slot.dump(out) }

// LoadSlot parses a PageSlot out of in, which must hold exactly length
// bytes. Exported for the log record codec.
func LoadSlot(in span.Span, length int) (*PageSlot, error) { return loadSlot(in, length) }

// dump serializes the slot into s, which must be exactly s.Size() bytes.
func (s *PageSlot) dump(out span.Span) error {
	out, err := out.DumpUint64(uint64(s.Prev.PageId))
	if err != nil {
		return err
	}
	out, err = out.DumpUint64(uint64(s.Prev.SlotId))
	if err != nil {
		return err
	}
	out, err = out.DumpUint64(uint64(s.Next.PageId))
	if err != nil {
		return err
	}
	out, err = out.DumpUint64(uint64(s.Next.SlotId))
	if err != nil {
		return err
	}
	out, err = out.DumpUint64(s.checksum())
	if err != nil {
		return err
	}
	if out.Size() != len(s.Payload) {
		return errs.Wrapf(errs.ErrParse, "slot payload span mismatch: want %d, have %d", len(s.Payload), out.Size())
	}
	copy(out.Bytes(), s.Payload)
	return nil
}

// loadSlot parses a PageSlot out of in, which must hold exactly `length`
// bytes (SlotHeaderSize + payload length). Verifies the checksum on load.
func loadSlot(in span.Span, length int) (*PageSlot, error) {
	if in.Size() < SlotHeaderSize {
		return nil, errs.Wrapf(errs.ErrParse, "slot span too small: %d", in.Size())
	}
	var s PageSlot
	var err error
	var prevPage, prevSlot, nextPage, nextSlot, sum uint64

	prevPage, in, err = in.LoadUint64()
	if err != nil {
		return nil, err
	}
	prevSlot, in, err = in.LoadUint64()
	if err != nil {
		return nil, err
	}
	nextPage, in, err = in.LoadUint64()
	if err != nil {
		return nil, err
	}
	nextSlot, in, err = in.LoadUint64()
	if err != nil {
		return nil, err
	}
	sum, in, err = in.LoadUint64()
	if err != nil {
		return nil, err
	}

	s.Prev = common.RecordLocation{PageId: common.PageId(prevPage), SlotId: common.SlotId(prevSlot)}
	s.Next = common.RecordLocation{PageId: common.PageId(nextPage), SlotId: common.SlotId(nextSlot)}

	payloadLen := length - SlotHeaderSize
	if in.Size() != payloadLen {
		return nil, errs.Wrapf(errs.ErrParse, "slot payload length mismatch: want %d, have %d", payloadLen, in.Size())
	}
	s.Payload = make([]byte, payloadLen)
	copy(s.Payload, in.Bytes())

	if s.checksum() != sum {
		return nil, errs.Wrapf(errs.ErrCorrupt, "slot checksum mismatch")
	}
	return &s, nil
}
