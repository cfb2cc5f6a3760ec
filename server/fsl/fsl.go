// Package fsl implements the free-space manager: it tracks which
// data pages have spare capacity so pagemgr can hand out a page with
// room for an insert instead of always allocating a new one. Free space
// is tracked out-of-line, on its own dedicated chain of FSLPage images,
// partitioned by page-id range so a page's free-space state always maps
// to exactly one FSL page. It is a flat per-range free-page set addressed
// through a chain of FSLPages rather than a bitmap.
package fsl

import (
	"sync"

	"github.com/zhukovaskychina/pagestore/server/buffer"
	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
	"github.com/zhukovaskychina/pagestore/server/page"
)

// Manager owns the chain of FSLPages and answers "which page id has
// free space" without the caller needing to know the range-partitioning
// scheme.
type Manager struct {
	mu      sync.Mutex
	buf     *buffer.Manager
	headId  common.PageId
	rangeSz int // how many data-page ids one FSLPage's free-set is responsible for
}

// Open locates (or creates, if headId is NullPageId) the head FSLPage
// and returns a Manager bound to it. rangeSize is the number of data-page
// ids each FSLPage in the chain is responsible for; it decides which chain
// position Manage and Unmanage use for a page id, so it must be the same
// value the existing chain was filled with. It does not size the
// FSLPages: each one computes its own capacity from its body size.
func Open(buf *buffer.Manager, headId common.PageId, rangeSize int) (*Manager, error) {
	m := &Manager{buf: buf, headId: headId, rangeSz: rangeSize}
	if headId == common.NullPageId {
		h, err := buf.NewPage(common.PageTypeFSL)
		if err != nil {
			return nil, err
		}
		m.headId = h.ID()
		h.Release()
	}
	return m, nil
}

// HeadPageId returns the PageId of the first FSL page in the chain, for
// the embedder to persist in its metadata record.
func (m *Manager) HeadPageId() common.PageId { return m.headId }

// rangeOf returns the inclusive [lo,hi] page-id range that FSL range number
// rangeNum is responsible for, using the 1-indexed
// (n-1)*rangeSz+1 .. n*rangeSz formula.
func (m *Manager) rangeOf(rangeNum int) (common.PageId, common.PageId) {
	lo := common.PageId(rangeNum-1)*common.PageId(m.rangeSz) + 1
	hi := common.PageId(rangeNum) * common.PageId(m.rangeSz)
	return lo, hi
}

func (m *Manager) rangeNumFor(id common.PageId) int {
	return int((uint64(id)-1)/uint64(m.rangeSz)) + 1
}

// fslPageFor walks the chain to find (creating, if necessary, by
// appending to the chain) the FSLPage responsible for rangeNum, and
// returns a pinned handle to it. Caller must Release.
func (m *Manager) fslPageFor(rangeNum int) (*buffer.PageHandle, error) {
	h, err := m.buf.FetchPage(m.headId)
	if err != nil {
		return nil, err
	}
	cur := h

	for i := 1; i < rangeNum; i++ {
		fp := cur.Page().(*page.FSLPage)
		next := fp.NextPageId()
		if next == common.NullPageId {
			nh, err := m.buf.NewPage(common.PageTypeFSL)
			if err != nil {
				cur.Release()
				return nil, err
			}
			fp.SetNextPageId(nh.ID())
			cur.MarkDirty()
			nh.Page().(*page.FSLPage).SetPrevPageId(fp.ID())
			cur.Release()
			cur = nh
			continue
		}
		cur.Release()
		nh, err := m.buf.FetchPage(next)
		if err != nil {
			return nil, err
		}
		cur = nh
	}
	return cur, nil
}

// Manage marks id as having free space, recording it on the FSL page
// responsible for id's range. Manager is not registered as a page
// Observer; the embedder (or pagemgr) calls Manage explicitly after an
// insert/update leaves a page with spare room, and the buffer manager's
// own dirty-tracking keeps the change durable across eviction.
func (m *Manager) Manage(id common.PageId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.fslPageFor(m.rangeNumFor(id))
	if err != nil {
		return err
	}
	defer h.Release()

	fp := h.Page().(*page.FSLPage)
	if err := fp.Insert(id); err != nil {
		return err
	}
	return nil
}

// Unmanage removes id from the free-space set, typically once the
// caller has filled the page back up.
func (m *Manager) Unmanage(id common.PageId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.fslPageFor(m.rangeNumFor(id))
	if err != nil {
		return err
	}
	defer h.Release()

	fp := h.Page().(*page.FSLPage)
	return fp.Remove(id)
}

// PageWithFreeSpace returns a page id known to have free space, or
// ErrNotFound if none is currently tracked.
func (m *Manager) PageWithFreeSpace() (common.PageId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.buf.FetchPage(m.headId)
	if err != nil {
		return common.NullPageId, err
	}
	cur := h
	for {
		fp := cur.Page().(*page.FSLPage)
		if id, ok := fp.Any(); ok {
			cur.Release()
			return id, nil
		}
		next := fp.NextPageId()
		cur.Release()
		if next == common.NullPageId {
			return common.NullPageId, errs.Wrapf(errs.ErrNotFound, "no page with tracked free space")
		}
		cur, err = m.buf.FetchPage(next)
		if err != nil {
			return common.NullPageId, err
		}
	}
}
