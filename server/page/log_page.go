package page

import (
	"sort"

	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
	"github.com/zhukovaskychina/pagestore/server/span"
)

// logHeaderSize is the fixed on-disk size of a LogPage's header: the next
// page in the log's singly-linked chain, the last sequence number
// written on this page, and the count of log records it holds.
const logHeaderSize = 8 + 8 + 4

// logDirEntrySize mirrors dirEntrySize, keyed by SeqNumber instead of
// SlotId: the write-ahead log appends records in strictly increasing
// sequence-number order, so a page never needs to renumber entries.
const logDirEntrySize = 8 + 4 + 4

// LogPage holds a contiguous run of serialized log records, in
// sequence-number order, using the same directory + high-address slot
// layout as RecordPage. Log pages are append-only: records are
// never updated or removed in place, so LogPage exposes Append and Get
// but no Update/Remove.
type LogPage struct {
	baseObservable

	id            common.PageId
	nextPageId    common.PageId
	lastSeqNumber common.SeqNumber
	size          int

	dir  map[common.SeqNumber]dirEntry
	data map[common.SeqNumber][]byte
	tail int
}

// NewLogPage allocates an empty LogPage of the given body size.
func NewLogPage(id common.PageId, size int) *LogPage {
	return &LogPage{
		id:   id,
		size: size,
		dir:  make(map[common.SeqNumber]dirEntry),
		data: make(map[common.SeqNumber][]byte),
		tail: size,
	}
}

func (p *LogPage) ID() common.PageId                      { return p.id }
func (p *LogPage) TypeID() common.PageTypeId              { return common.PageTypeLog }
func (p *LogPage) Size() int                              { return p.size }
func (p *LogPage) NextPageId() common.PageId              { return p.nextPageId }
func (p *LogPage) SetNextPageId(id common.PageId)         { p.nextPageId = id }
func (p *LogPage) LastSeqNumber() common.SeqNumber        { return p.lastSeqNumber }

func (p *LogPage) directorySpan() int { return len(p.dir) * logDirEntrySize }

// FreeSpace reports the bytes available for one more appended record of
// the given size, including its directory entry; op is accepted for
// interface symmetry with Page but log pages have no separate
// update-vs-insert cost since records are never updated.
func (p *LogPage) FreeSpace(op common.Operation) int {
	free := p.tail - logHeaderSize - p.directorySpan() - logDirEntrySize
	if free < 0 {
		return 0
	}
	return free
}

// Append adds record as the next log record on this page, keyed by seq.
// Callers (the log manager) must supply seq numbers in increasing order;
// Append does not itself allocate them.
func (p *LogPage) Append(seq common.SeqNumber, record []byte) error {
	need := len(record) + logDirEntrySize
	if p.FreeSpace(common.OpInsert) < len(record) {
		return errs.Wrapf(errs.ErrInsufficientSpace, "log page %d has no room for a %d byte record", p.id, need)
	}
	p.tail -= len(record)
	p.dir[seq] = dirEntry{offset: p.tail, length: len(record)}
	p.data[seq] = record
	if seq > p.lastSeqNumber {
		p.lastSeqNumber = seq
	}
	p.notifyObserversOf(p)
	return nil
}

// Get returns the raw record bytes stored at seq.
func (p *LogPage) Get(seq common.SeqNumber) ([]byte, error) {
	b, ok := p.data[seq]
	if !ok {
		return nil, errs.Wrapf(errs.ErrNotFound, "log record %d not found on page %d", seq, p.id)
	}
	return b, nil
}

// SeqNumbers returns every sequence number stored on the page, sorted.
func (p *LogPage) SeqNumbers() []common.SeqNumber {
	out := make([]common.SeqNumber, 0, len(p.dir))
	for seq := range p.dir {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *LogPage) Dump(out span.Span) error {
	if out.Size() != p.size {
		return errs.Wrapf(errs.ErrParse, "log page dump span mismatch: want %d, have %d", p.size, out.Size())
	}
	full := out

	rest, err := out.DumpUint64(uint64(p.nextPageId))
	if err != nil {
		return err
	}
	rest, err = rest.DumpUint64(uint64(p.lastSeqNumber))
	if err != nil {
		return err
	}
	rest, err = rest.DumpUint32(uint32(len(p.dir)))
	if err != nil {
		return err
	}

	seqs := p.SeqNumbers()
	dirOut := rest
	for _, seq := range seqs {
		e := p.dir[seq]
		dirOut, err = dirOut.DumpUint64(uint64(seq))
		if err != nil {
			return err
		}
		dirOut, err = dirOut.DumpUint32(uint32(e.offset))
		if err != nil {
			return err
		}
		dirOut, err = dirOut.DumpUint32(uint32(e.length))
		if err != nil {
			return err
		}
	}

	for _, seq := range seqs {
		e := p.dir[seq]
		s, err := full.Sub(e.offset, e.length)
		if err != nil {
			return err
		}
		copy(s.Bytes(), p.data[seq])
	}
	return nil
}

func (p *LogPage) Load(in span.Span) error {
	if in.Size() != p.size {
		return errs.Wrapf(errs.ErrParse, "log page load span mismatch: want %d, have %d", p.size, in.Size())
	}
	full := in

	var nextPage, lastSeq uint64
	var count uint32
	var err error

	nextPage, in, err = in.LoadUint64()
	if err != nil {
		return err
	}
	lastSeq, in, err = in.LoadUint64()
	if err != nil {
		return err
	}
	count, in, err = in.LoadUint32()
	if err != nil {
		return err
	}

	p.nextPageId = common.PageId(nextPage)
	p.lastSeqNumber = common.SeqNumber(lastSeq)
	p.dir = make(map[common.SeqNumber]dirEntry, count)
	p.data = make(map[common.SeqNumber][]byte, count)

	type pending struct {
		seq    common.SeqNumber
		offset int
		length int
	}
	entries := make([]pending, 0, count)
	for i := uint32(0); i < count; i++ {
		var seq uint64
		var offset, length uint32
		seq, in, err = in.LoadUint64()
		if err != nil {
			return err
		}
		offset, in, err = in.LoadUint32()
		if err != nil {
			return err
		}
		length, in, err = in.LoadUint32()
		if err != nil {
			return err
		}
		entries = append(entries, pending{seq: common.SeqNumber(seq), offset: int(offset), length: int(length)})
	}

	p.tail = p.size
	for _, e := range entries {
		if e.offset < p.tail {
			p.tail = e.offset
		}
		p.dir[e.seq] = dirEntry{offset: e.offset, length: e.length}
		s, err := full.Sub(e.offset, e.length)
		if err != nil {
			return err
		}
		b := make([]byte, e.length)
		copy(b, s.Bytes())
		p.data[e.seq] = b
	}
	return nil
}
