package page

import (
	"sort"

	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
	"github.com/zhukovaskychina/pagestore/server/span"
)

// fslHeaderSize is the fixed on-disk size of an FSLPage's header: the
// prev/next page ids chaining the FSL's own linked list, and the count
// of page ids tracked on this page.
const fslHeaderSize = 8 + 8 + 4

// fslEntrySize is the size, in bytes, of one tracked PageId.
const fslEntrySize = 8

// FSLPage is a free-space-list page: a simple sorted set of PageIds
// known to have at least some free space, partitioned by the range
// formula the free-space manager uses to pick which FSLPage tracks a
// given data page. FSLPage itself is range-agnostic: it is
// simply a capacity-bounded set of page ids, owned and partitioned by
// the free-space manager above it.
// It replaces a bitmap-per-extent scheme with a flat free-page set,
// which is simpler to reason about at the cost of eight bytes per tracked
// page id on disk instead of one bit.
type FSLPage struct {
	baseObservable

	id         common.PageId
	prevPageId common.PageId
	nextPageId common.PageId
	size       int

	free map[common.PageId]struct{}
}

// NewFSLPage allocates an empty FSLPage of the given body size.
func NewFSLPage(id common.PageId, size int) *FSLPage {
	return &FSLPage{
		id:   id,
		size: size,
		free: make(map[common.PageId]struct{}),
	}
}

func (p *FSLPage) ID() common.PageId              { return p.id }
func (p *FSLPage) TypeID() common.PageTypeId      { return common.PageTypeFSL }
func (p *FSLPage) Size() int                      { return p.size }
func (p *FSLPage) PrevPageId() common.PageId      { return p.prevPageId }
func (p *FSLPage) NextPageId() common.PageId      { return p.nextPageId }
func (p *FSLPage) SetPrevPageId(id common.PageId) { p.prevPageId = id }
func (p *FSLPage) SetNextPageId(id common.PageId) { p.nextPageId = id }

// Capacity reports how many page ids this page's body can track.
func (p *FSLPage) Capacity() int { return (p.size - fslHeaderSize) / fslEntrySize }

// FreeSpace reports how many more page-id entries this FSLPage can
// track; op is accepted for interface symmetry only, since tracking a
// page id has a single fixed cost.
func (p *FSLPage) FreeSpace(op common.Operation) int {
	return (p.Capacity() - len(p.free)) * fslEntrySize
}

// Contains reports whether id is currently tracked as free.
func (p *FSLPage) Contains(id common.PageId) bool {
	_, ok := p.free[id]
	return ok
}

// Insert marks id as having free space. Fails with ErrInsufficientSpace
// if the page's tracked-id capacity is exhausted.
func (p *FSLPage) Insert(id common.PageId) error {
	if _, ok := p.free[id]; ok {
		return nil
	}
	if len(p.free) >= p.Capacity() {
		return errs.Wrapf(errs.ErrInsufficientSpace, "FSL page %d is full", p.id)
	}
	p.free[id] = struct{}{}
	p.notifyObserversOf(p)
	return nil
}

// Remove un-marks id, typically once the page it names has no insertable
// room left.
func (p *FSLPage) Remove(id common.PageId) error {
	if _, ok := p.free[id]; !ok {
		return errs.Wrapf(errs.ErrNotFound, "page %d not tracked as free on FSL page %d", id, p.id)
	}
	delete(p.free, id)
	p.notifyObserversOf(p)
	return nil
}

// Any returns an arbitrary tracked free page id, or NullPageId, false if
// none are tracked. The free-space manager uses this to pick a
// candidate page without caring which one.
func (p *FSLPage) Any() (common.PageId, bool) {
	for id := range p.free {
		return id, true
	}
	return common.NullPageId, false
}

// FreePageIds returns every tracked page id, sorted.
func (p *FSLPage) FreePageIds() []common.PageId {
	out := make([]common.PageId, 0, len(p.free))
	for id := range p.free {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *FSLPage) Dump(out span.Span) error {
	if out.Size() != p.size {
		return errs.Wrapf(errs.ErrParse, "fsl page dump span mismatch: want %d, have %d", p.size, out.Size())
	}
	rest, err := out.DumpUint64(uint64(p.prevPageId))
	if err != nil {
		return err
	}
	rest, err = rest.DumpUint64(uint64(p.nextPageId))
	if err != nil {
		return err
	}
	ids := p.FreePageIds()
	rest, err = rest.DumpUint32(uint32(len(ids)))
	if err != nil {
		return err
	}
	for _, id := range ids {
		rest, err = rest.DumpUint64(uint64(id))
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *FSLPage) Load(in span.Span) error {
	if in.Size() != p.size {
		return errs.Wrapf(errs.ErrParse, "fsl page load span mismatch: want %d, have %d", p.size, in.Size())
	}
	var prevPage, nextPage uint64
	var count uint32
	var err error

	prevPage, in, err = in.LoadUint64()
	if err != nil {
		return err
	}
	nextPage, in, err = in.LoadUint64()
	if err != nil {
		return err
	}
	count, in, err = in.LoadUint32()
	if err != nil {
		return err
	}

	p.prevPageId = common.PageId(prevPage)
	p.nextPageId = common.PageId(nextPage)
	p.free = make(map[common.PageId]struct{}, count)
	for i := uint32(0); i < count; i++ {
		var id uint64
		id, in, err = in.LoadUint64()
		if err != nil {
			return err
		}
		p.free[common.PageId(id)] = struct{}{}
	}
	return nil
}
