package page

import (
	"sort"

	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
	"github.com/zhukovaskychina/pagestore/server/span"
)

// recordHeaderSize is the fixed on-disk size of a RecordPage's header:
// prevPageId, nextPageId, tail offset, slot count, and the high-water
// mark for slot ids ever allocated on this page.
const recordHeaderSize = 8 + 8 + 4 + 4 + 4

// dirEntrySize is the on-disk size of one slot-directory entry: a slot id
// plus its offset and length. Offsets are absolute, measured from the
// start of the page body (so they index directly into the Dump/Load
// span), not relative to the end of the directory.
const dirEntrySize = 8 + 4 + 4

type dirEntry struct {
	offset int
	length int
}

// RecordPage is a slotted page holding a variable number of PageSlots.
// The directory grows from the low address of the body toward the high
// address; slot bytes are appended from the high address toward the low
// address. Between them lies the page's free space.
type RecordPage struct {
	baseObservable

	id         common.PageId
	prevPageId common.PageId
	nextPageId common.PageId
	size       int

	dir     map[common.SlotId]dirEntry
	slots   map[common.SlotId]*PageSlot
	tail    int // absolute offset of the first byte currently used by slot data
	maxSlot common.SlotId
}

// NewRecordPage allocates an empty RecordPage of the given body size.
func NewRecordPage(id common.PageId, size int) *RecordPage {
	return &RecordPage{
		id:    id,
		size:  size,
		dir:   make(map[common.SlotId]dirEntry),
		slots: make(map[common.SlotId]*PageSlot),
		tail:  size,
	}
}

func (p *RecordPage) ID() common.PageId             { return p.id }
func (p *RecordPage) TypeID() common.PageTypeId     { return common.PageTypeRecord }
func (p *RecordPage) Size() int                     { return p.size }
func (p *RecordPage) PrevPageId() common.PageId     { return p.prevPageId }
func (p *RecordPage) NextPageId() common.PageId     { return p.nextPageId }
func (p *RecordPage) SetPrevPageId(id common.PageId) { p.prevPageId = id }
func (p *RecordPage) SetNextPageId(id common.PageId) { p.nextPageId = id }

// directorySpan returns the number of bytes currently consumed by the
// slot directory.
func (p *RecordPage) directorySpan() int { return len(p.dir) * dirEntrySize }

// FreeSpace reports the number of contiguous bytes available between the
// directory and the slot data. Inserting costs one additional directory
// entry, so FreeSpace(OpInsert) <= FreeSpace(OpUpdate) always.
func (p *RecordPage) FreeSpace(op common.Operation) int {
	free := p.tail - recordHeaderSize - p.directorySpan()
	if op == common.OpInsert {
		free -= dirEntrySize
	}
	if free < 0 {
		return 0
	}
	return free
}

// Get returns the slot stored at id, or ErrNotFound.
func (p *RecordPage) Get(id common.SlotId) (*PageSlot, error) {
	s, ok := p.slots[id]
	if !ok {
		return nil, errs.Wrapf(errs.ErrNotFound, "slot %d not found on page %d", id, p.id)
	}
	return s, nil
}

// Insert places slot on the page and returns the newly assigned SlotId.
// Fails with ErrInsufficientSpace if the slot (plus a new directory
// entry) does not fit even after compaction.
func (p *RecordPage) Insert(slot *PageSlot) (common.SlotId, error) {
	if p.FreeSpace(common.OpInsert) < slot.Size() {
		p.compact()
	}
	if p.FreeSpace(common.OpInsert) < slot.Size() {
		return common.NullSlotId, errs.Wrapf(errs.ErrInsufficientSpace,
			"page %d has no room for a %d byte slot", p.id, slot.Size())
	}

	p.maxSlot++
	id := p.maxSlot
	p.tail -= slot.Size()
	p.dir[id] = dirEntry{offset: p.tail, length: slot.Size()}
	p.slots[id] = slot

	p.notifyObserversOf(p)
	return id, nil
}

// Update replaces the slot stored at id with slot. A slot no larger than
// the one it replaces is rewritten in place; a larger one gives up its old
// bytes and may need to compact to make room.
func (p *RecordPage) Update(id common.SlotId, slot *PageSlot) error {
	old, ok := p.dir[id]
	if !ok {
		return errs.Wrapf(errs.ErrNotFound, "slot %d not found on page %d", id, p.id)
	}
	delta := slot.Size() - old.length
	if delta <= 0 {
		p.dir[id] = dirEntry{offset: old.offset, length: slot.Size()}
		p.slots[id] = slot
		p.notifyObserversOf(p)
		return nil
	}
	if p.FreeSpace(common.OpUpdate) < delta {
		return errs.Wrapf(errs.ErrInsufficientSpace,
			"page %d has no room to grow slot %d by %d bytes", p.id, id, delta)
	}
	delete(p.dir, id)
	delete(p.slots, id)
	p.compact()

	p.tail -= slot.Size()
	p.dir[id] = dirEntry{offset: p.tail, length: slot.Size()}
	p.slots[id] = slot

	p.notifyObserversOf(p)
	return nil
}

// Remove deletes the slot at id. The backing bytes are reclaimed lazily,
// at the next compaction, not immediately.
func (p *RecordPage) Remove(id common.SlotId) error {
	if _, ok := p.dir[id]; !ok {
		return errs.Wrapf(errs.ErrNotFound, "slot %d not found on page %d", id, p.id)
	}
	delete(p.dir, id)
	delete(p.slots, id)
	p.notifyObserversOf(p)
	return nil
}

// UndoRemove re-inserts slot under its original id, used by the
// transaction manager to compensate an uncommitted delete on abort. Fails
// if id is already occupied.
func (p *RecordPage) UndoRemove(id common.SlotId, slot *PageSlot) error {
	if _, ok := p.dir[id]; ok {
		return errs.Wrapf(errs.ErrState, "slot %d already occupied on page %d", id, p.id)
	}
	if p.tail-recordHeaderSize-p.directorySpan() < slot.Size() {
		p.compact()
	}
	if p.tail-recordHeaderSize-p.directorySpan() < slot.Size() {
		return errs.Wrapf(errs.ErrInsufficientSpace, "page %d has no room to undo-remove slot %d", p.id, id)
	}
	p.tail -= slot.Size()
	p.dir[id] = dirEntry{offset: p.tail, length: slot.Size()}
	p.slots[id] = slot
	if id > p.maxSlot {
		p.maxSlot = id
	}
	p.notifyObserversOf(p)
	return nil
}

// compact slides all live slots toward the high end of the page,
// eliminating the gaps left by removed or shrunk slots. Relative order of
// slot ids is preserved; only offsets change.
func (p *RecordPage) compact() {
	ids := make([]common.SlotId, 0, len(p.dir))
	for id := range p.dir {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tail := p.size
	for _, id := range ids {
		s := p.slots[id]
		tail -= s.Size()
		p.dir[id] = dirEntry{offset: tail, length: s.Size()}
	}
	p.tail = tail
}

// Dump encodes the page body: header, sorted directory (absolute
// offsets), then slot bytes placed at those offsets.
func (p *RecordPage) Dump(out span.Span) error {
	if out.Size() != p.size {
		return errs.Wrapf(errs.ErrParse, "record page dump span mismatch: want %d, have %d", p.size, out.Size())
	}

	full := out

	rest, err := out.DumpUint64(uint64(p.prevPageId))
	if err != nil {
		return err
	}
	rest, err = rest.DumpUint64(uint64(p.nextPageId))
	if err != nil {
		return err
	}
	rest, err = rest.DumpUint32(uint32(p.tail))
	if err != nil {
		return err
	}
	rest, err = rest.DumpUint32(uint32(len(p.dir)))
	if err != nil {
		return err
	}
	rest, err = rest.DumpUint32(uint32(p.maxSlot))
	if err != nil {
		return err
	}

	ids := make([]common.SlotId, 0, len(p.dir))
	for id := range p.dir {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	dirOut := rest
	for _, id := range ids {
		e := p.dir[id]
		dirOut, err = dirOut.DumpUint64(uint64(id))
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

	for _, id := range ids {
		e := p.dir[id]
		slotSpan, err := full.Sub(e.offset, e.length)
		if err != nil {
			return err
		}
		if err := p.slots[id].dump(slotSpan); err != nil {
			return err
		}
	}

	return nil
}

// Load decodes a RecordPage body previously produced by Dump.
func (p *RecordPage) Load(in span.Span) error {
	if in.Size() != p.size {
		return errs.Wrapf(errs.ErrParse, "record page load span mismatch: want %d, have %d", p.size, in.Size())
	}

	full := in

	var prevPage, nextPage uint64
	var tail, count, maxSlot uint32
	var err error

	prevPage, in, err = in.LoadUint64()
	if err != nil {
		return err
	}
	nextPage, in, err = in.LoadUint64()
	if err != nil {
		return err
	}
	tail, in, err = in.LoadUint32()
	if err != nil {
		return err
	}
	count, in, err = in.LoadUint32()
	if err != nil {
		return err
	}
	maxSlot, in, err = in.LoadUint32()
	if err != nil {
		return err
	}

	p.prevPageId = common.PageId(prevPage)
	p.nextPageId = common.PageId(nextPage)
	p.tail = int(tail)
	p.maxSlot = common.SlotId(maxSlot)
	p.dir = make(map[common.SlotId]dirEntry, count)
	p.slots = make(map[common.SlotId]*PageSlot, count)

	type pending struct {
		id     common.SlotId
		offset int
		length int
	}
	entries := make([]pending, 0, count)

	for i := uint32(0); i < count; i++ {
		var id uint64
		var offset, length uint32
		id, in, err = in.LoadUint64()
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
		entries = append(entries, pending{id: common.SlotId(id), offset: int(offset), length: int(length)})
	}

	for _, e := range entries {
		p.dir[e.id] = dirEntry{offset: e.offset, length: e.length}
		slotSpan, err := full.Sub(e.offset, e.length)
		if err != nil {
			return err
		}
		s, err := loadSlot(slotSpan, e.length)
		if err != nil {
			return err
		}
		p.slots[e.id] = s
	}

	return nil
}
