// Package wal implements the log record codec and the log
// manager: an append-only write-ahead log over its own small
// buffer manager on log-page storage, providing the durability ordering
// the buffer manager and transaction manager depend on.
package wal

import (
	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
	"github.com/zhukovaskychina/pagestore/server/page"
	"github.com/zhukovaskychina/pagestore/server/span"
	"github.com/zhukovaskychina/pagestore/util"
)

// RecordType tags the kind of a LogRecord.
type RecordType uint8

const (
	RecordBegin RecordType = iota + 1
	RecordInsert
	RecordUpdate
	RecordDelete
	RecordCommit
	RecordAbort
	RecordDone
)

// recordFixedSize is the size of every field up to and including the
// two slot-presence flags, before any slot image bytes. Each present
// slot image is additionally framed with a 4-byte length prefix so two
// slot images (UPDATE's before/after) can be told apart within one
// record span.
const recordFixedSize = 8 + 8 + 8 + 8 + 1 + 8 + 8 + 1 + 1

// Record is a single write-ahead log entry. SlotA carries
// the INSERT/DELETE payload or UPDATE's new image; SlotB carries
// UPDATE's old image (for undo) and is nil for every other type.
type Record struct {
	SeqNumber     common.SeqNumber
	PrevSeqNumber common.SeqNumber
	TxnId         common.TxnId
	Type          RecordType
	Location      common.RecordLocation
	SlotA         *page.PageSlot
	SlotB         *page.PageSlot
}

// Size returns the on-disk size of the record.
func (r *Record) Size() int {
	n := recordFixedSize
	if r.SlotA != nil {
		n += 4 + r.SlotA.Size()
	}
	if r.SlotB != nil {
		n += 4 + r.SlotB.Size()
	}
	return n
}

func (r *Record) checksum(typeTag uint8, locPage, locSlot uint64, aBytes, bBytes []byte) uint64 {
	buf := make([]byte, 0, recordFixedSize+len(aBytes)+len(bBytes))
	buf = appendU64(buf, uint64(r.SeqNumber))
	buf = appendU64(buf, uint64(r.PrevSeqNumber))
	buf = appendU64(buf, uint64(r.TxnId))
	buf = append(buf, typeTag)
	buf = appendU64(buf, locPage)
	buf = appendU64(buf, locSlot)
	buf = append(buf, boolByte(aBytes != nil))
	buf = append(buf, aBytes...)
	buf = append(buf, boolByte(bBytes != nil))
	buf = append(buf, bBytes...)
	return util.HashCode(buf)
}

func appendU64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func slotBytes(s *page.PageSlot) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	buf := make([]byte, s.Size())
	if err := page.DumpSlot(s, span.New(buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Dump serializes the record into out, which must be exactly r.Size() bytes.
func (r *Record) Dump(out span.Span) error {
	if out.Size() != r.Size() {
		return errs.Wrapf(errs.ErrParse, "log record dump span mismatch: want %d, have %d", r.Size(), out.Size())
	}

	aBytes, err := slotBytes(r.SlotA)
	if err != nil {
		return err
	}
	bBytes, err := slotBytes(r.SlotB)
	if err != nil {
		return err
	}
	sum := r.checksum(uint8(r.Type), uint64(r.Location.PageId), uint64(r.Location.SlotId), aBytes, bBytes)

	rest, err := out.DumpUint64(uint64(r.SeqNumber))
	if err != nil {
		return err
	}
	rest, err = rest.DumpUint64(uint64(r.PrevSeqNumber))
	if err != nil {
		return err
	}
	rest, err = rest.DumpUint64(uint64(r.TxnId))
	if err != nil {
		return err
	}
	rest, err = rest.DumpUint64(sum)
	if err != nil {
		return err
	}
	rest, err = rest.DumpUint8(uint8(r.Type))
	if err != nil {
		return err
	}
	rest, err = rest.DumpUint64(uint64(r.Location.PageId))
	if err != nil {
		return err
	}
	rest, err = rest.DumpUint64(uint64(r.Location.SlotId))
	if err != nil {
		return err
	}

	rest, err = rest.DumpUint8(boolByte(aBytes != nil))
	if err != nil {
		return err
	}
	if aBytes != nil {
		rest, err = rest.DumpBytes(aBytes)
		if err != nil {
			return err
		}
	}

	rest, err = rest.DumpUint8(boolByte(bBytes != nil))
	if err != nil {
		return err
	}
	if bBytes != nil {
		rest, err = rest.DumpBytes(bBytes)
		if err != nil {
			return err
		}
	}

	return nil
}

// LoadRecord parses a Record out of in, which must hold exactly the
// bytes a prior Dump produced (callers determine the length from the
// enclosing log page's directory entry). Verifies the checksum.
func LoadRecord(in span.Span) (*Record, error) {
	var r Record
	var seq, prev, txn, sum, locPage, locSlot uint64
	var typeTag, aPresent, bPresent uint8
	var err error

	seq, in, err = in.LoadUint64()
	if err != nil {
		return nil, err
	}
	prev, in, err = in.LoadUint64()
	if err != nil {
		return nil, err
	}
	txn, in, err = in.LoadUint64()
	if err != nil {
		return nil, err
	}
	sum, in, err = in.LoadUint64()
	if err != nil {
		return nil, err
	}
	typeTag, in, err = in.LoadUint8()
	if err != nil {
		return nil, err
	}
	locPage, in, err = in.LoadUint64()
	if err != nil {
		return nil, err
	}
	locSlot, in, err = in.LoadUint64()
	if err != nil {
		return nil, err
	}

	r.SeqNumber = common.SeqNumber(seq)
	r.PrevSeqNumber = common.SeqNumber(prev)
	r.TxnId = common.TxnId(txn)
	r.Type = RecordType(typeTag)
	r.Location = common.RecordLocation{PageId: common.PageId(locPage), SlotId: common.SlotId(locSlot)}

	var aBytes, bBytes []byte

	aPresent, in, err = in.LoadUint8()
	if err != nil {
		return nil, err
	}
	if aPresent != 0 {
		aBytes, in, err = in.LoadBytes()
		if err != nil {
			return nil, err
		}
		r.SlotA, err = page.LoadSlot(span.New(aBytes), len(aBytes))
		if err != nil {
			return nil, err
		}
	}

	bPresent, in, err = in.LoadUint8()
	if err != nil {
		return nil, err
	}
	if bPresent != 0 {
		bBytes, in, err = in.LoadBytes()
		if err != nil {
			return nil, err
		}
		r.SlotB, err = page.LoadSlot(span.New(bBytes), len(bBytes))
		if err != nil {
			return nil, err
		}
	}

	if r.checksum(typeTag, locPage, locSlot, aBytes, bBytes) != sum {
		return nil, errs.Wrapf(errs.ErrCorrupt, "log record %d checksum mismatch", r.SeqNumber)
	}
	return &r, nil
}
