// Package buffer implements the buffer manager and its PageHandle
// pin/unpin wrapper: a fixed-capacity pool of in-memory page
// frames backed by a storage.Backend, with page replacement delegated to
// a replacer.Replacer so the eviction policy is swappable without
// touching pin-count bookkeeping.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/zhukovaskychina/pagestore/logger"
	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
	"github.com/zhukovaskychina/pagestore/server/page"
	"github.com/zhukovaskychina/pagestore/server/replacer"
	"github.com/zhukovaskychina/pagestore/server/span"
	"github.com/zhukovaskychina/pagestore/server/storage"
)

type frame struct {
	page     page.Page
	pinCount int
	dirty    bool
}

// stats tracks hit/miss/eviction counters for the buffer manager's
// single-list replacement policy.
type stats struct {
	hits      uint64
	misses    uint64
	evictions uint64
	flushes   uint64
}

// Manager is the buffer manager: the single point through which every
// other component reads and writes pages. Capacity must be at least 2,
// since a page split or a log-flush-before-data-flush sequence routinely
// needs two distinct pages pinned at once.
type Manager struct {
	mu sync.Mutex

	backend  storage.Backend
	factory  *page.Factory
	replacer replacer.Replacer
	capacity int

	frames     []frame
	pageTable  map[common.PageId]int
	freeFrames []int

	stats stats
}

// NewManager constructs a Manager over backend with room for capacity
// resident pages, using rep as the eviction policy.
func NewManager(backend storage.Backend, factory *page.Factory, capacity int, rep replacer.Replacer) (*Manager, error) {
	if capacity < 2 {
		return nil, errs.Wrapf(errs.ErrState, "buffer manager capacity must be >= 2, got %d", capacity)
	}
	m := &Manager{
		backend:   backend,
		factory:   factory,
		replacer:  rep,
		capacity:  capacity,
		frames:    make([]frame, capacity),
		pageTable: make(map[common.PageId]int, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		m.freeFrames = append(m.freeFrames, i)
	}
	return m, nil
}

// HandlePageModified implements page.Observer: any mutation to a page
// resident in this buffer marks its frame dirty, so it gets written back
// on eviction or Flush.
func (m *Manager) HandlePageModified(p page.Page) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.pageTable[p.ID()]; ok {
		m.frames[idx].dirty = true
	}
}

// FetchPage returns a pinned PageHandle for id, loading it from storage
// if not already resident. Callers must Release the handle when done.
func (m *Manager) FetchPage(id common.PageId) (*PageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, ok := m.pageTable[id]; ok {
		atomic.AddUint64(&m.stats.hits, 1)
		m.frames[idx].pinCount++
		m.replacer.Pin(idx)
		return &PageHandle{mgr: m, pageId: id, frame: idx}, nil
	}
	atomic.AddUint64(&m.stats.misses, 1)

	idx, err := m.reserveFrame()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, m.backend.PageSize())
	if err := m.backend.Read(id, buf); err != nil {
		m.freeFrames = append(m.freeFrames, idx)
		return nil, err
	}
	p, err := m.factory.Load(id, span.New(buf))
	if err != nil {
		m.freeFrames = append(m.freeFrames, idx)
		return nil, err
	}
	p.AddObserver(m)

	m.frames[idx] = frame{page: p, pinCount: 1}
	m.pageTable[id] = idx
	m.replacer.Track(idx)
	m.replacer.Pin(idx)
	return &PageHandle{mgr: m, pageId: id, frame: idx}, nil
}

// NewPage allocates a fresh PageId from the backend, constructs an empty
// page of typeID, and returns it pinned. The caller is responsible for
// persisting its location (e.g. into an FSL) once populated.
func (m *Manager) NewPage(typeID common.PageTypeId) (*PageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.backend.Allocate()
	if err != nil {
		return nil, err
	}

	idx, err := m.reserveFrame()
	if err != nil {
		return nil, err
	}

	p, err := m.factory.New(typeID, id, m.backend.PageSize()-pageBodyOverhead())
	if err != nil {
		m.freeFrames = append(m.freeFrames, idx)
		return nil, err
	}
	p.AddObserver(m)

	m.frames[idx] = frame{page: p, pinCount: 1, dirty: true}
	m.pageTable[id] = idx
	m.replacer.Track(idx)
	m.replacer.Pin(idx)
	return &PageHandle{mgr: m, pageId: id, frame: idx}, nil
}

// pageBodyOverhead is the type-header framing cost every page image
// carries ahead of its body.
func pageBodyOverhead() int { return page.ImageSize(0) }

// reserveFrame returns an index into m.frames ready to receive a page,
// evicting and flushing a victim if the pool is full. Caller must hold m.mu.
func (m *Manager) reserveFrame() (int, error) {
	if n := len(m.freeFrames); n > 0 {
		idx := m.freeFrames[n-1]
		m.freeFrames = m.freeFrames[:n-1]
		return idx, nil
	}

	victim, ok := m.replacer.Victim()
	if !ok {
		return 0, errs.Wrapf(errs.ErrBufferFull, "no unpinned frame available among %d", m.capacity)
	}
	f := m.frames[victim]
	if f.dirty {
		if err := m.flushFrame(victim); err != nil {
			return 0, err
		}
	}
	delete(m.pageTable, f.page.ID())
	atomic.AddUint64(&m.stats.evictions, 1)
	return victim, nil
}

// flushFrame writes the frame's page image back to storage. Caller must
// hold m.mu.
func (m *Manager) flushFrame(idx int) error {
	f := &m.frames[idx]
	buf := make([]byte, m.backend.PageSize())
	if err := m.factory.Dump(f.page, span.New(buf)); err != nil {
		return err
	}
	if err := m.backend.Write(f.page.ID(), buf); err != nil {
		return err
	}
	f.dirty = false
	atomic.AddUint64(&m.stats.flushes, 1)
	return nil
}

// unpin decrements the pin count for frame and, once it reaches zero,
// tells the replacer the frame is eligible for eviction again. A caller
// may pass markDirty=true if it mutated the page outside the Observer
// notification path (unused by this package's own pages, which always
// notify, but kept for embedders wrapping foreign page types).
func (m *Manager) unpin(frameIdx int, markDirty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &m.frames[frameIdx]
	if markDirty {
		f.dirty = true
	}
	if f.pinCount > 0 {
		f.pinCount--
	}
	if f.pinCount == 0 {
		m.replacer.Unpin(frameIdx)
	}
}

// FlushPage writes id's page image to storage if resident and dirty. A
// pinned page is left untouched: flush is a no-op, not a forced
// writeback, so a caller holding a handle never races a concurrent
// flush against its own in-progress mutation.
func (m *Manager) FlushPage(id common.PageId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.pageTable[id]
	if !ok {
		return errs.Wrapf(errs.ErrNotFound, "page %d not resident", id)
	}
	if m.frames[idx].pinCount > 0 || !m.frames[idx].dirty {
		return nil
	}
	return m.flushFrame(idx)
}

// FlushAll writes every resident, dirty, unpinned page image to storage,
// then fsyncs the backend. A pinned page is skipped, the same way
// FlushPage skips it: it is left dirty for a later flush once unpinned.
// Used on clean shutdown and at transaction commit time.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for idx := range m.frames {
		if m.frames[idx].page == nil || !m.frames[idx].dirty || m.frames[idx].pinCount > 0 {
			continue
		}
		if err := m.flushFrame(idx); err != nil {
			return err
		}
	}
	return m.backend.Flush()
}

// Stats returns a snapshot of hit/miss/eviction/flush counters.
func (m *Manager) Stats() (hits, misses, evictions, flushes uint64) {
	return atomic.LoadUint64(&m.stats.hits),
		atomic.LoadUint64(&m.stats.misses),
		atomic.LoadUint64(&m.stats.evictions),
		atomic.LoadUint64(&m.stats.flushes)
}

// Close flushes every dirty page and closes the backend.
func (m *Manager) Close() error {
	if err := m.FlushAll(); err != nil {
		logger.LogErr(err)
		return err
	}
	return m.backend.Close()
}
