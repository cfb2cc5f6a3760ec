package buffer

import (
	"sync"

	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/page"
)

// PageHandle is a pinned reference to a resident page. Go has no
// destructors, so unlike the RAII handle this mirrors, a PageHandle must
// be released explicitly — call Release (directly or via defer) exactly
// once when done with the page. A PageHandle must not be copied; pass it
// by pointer.
type PageHandle struct {
	mgr      *Manager
	pageId   common.PageId
	frame    int
	once     sync.Once
	released bool
}

// Page returns the underlying Page. The returned value is only valid
// until Release is called.
func (h *PageHandle) Page() page.Page {
	return h.mgr.frames[h.frame].page
}

// ID returns the handle's page id.
func (h *PageHandle) ID() common.PageId { return h.pageId }

// Release unpins the page, making it eligible for eviction once no other
// handle holds it pinned. Safe to call more than once; only the first
// call has effect.
func (h *PageHandle) Release() {
	h.once.Do(func() {
		h.mgr.unpin(h.frame, false)
		h.released = true
	})
}

// MarkDirty flags the page as modified without relying on the page's own
// Observer notification (e.g. a caller that mutated the returned Page
// through a foreign API). RecordPage, LogPage, and FSLPage normally
// don't need this: their mutating methods notify observers themselves.
func (h *PageHandle) MarkDirty() {
	h.mgr.mu.Lock()
	h.mgr.frames[h.frame].dirty = true
	h.mgr.mu.Unlock()
}
