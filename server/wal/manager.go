package wal

import (
	"sync"

	"github.com/zhukovaskychina/pagestore/server/buffer"
	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
	"github.com/zhukovaskychina/pagestore/server/page"
	"github.com/zhukovaskychina/pagestore/server/replacer"
	"github.com/zhukovaskychina/pagestore/server/span"
	"github.com/zhukovaskychina/pagestore/server/storage"
)

// Location addresses a single log record: the log page holding it and
// its sequence number within that page's directory. Distinct from
// common.RecordLocation, which addresses data-page slots by SlotId.
type Location struct {
	PageId    common.PageId
	SeqNumber common.SeqNumber
}

// Manager is the log manager: an append-only sequence of log
// pages behind its own small buffer manager, handing out monotonically
// increasing sequence numbers and guaranteeing the write-ahead ordering
// the rest of the engine relies on. It is a plain append/flush cycle
// over the generic LogPage rather than a fixed redo block format.
type Manager struct {
	mu sync.Mutex

	buf *buffer.Manager

	nextSeqNumber uint64
	tailPageId    common.PageId
	index         map[common.SeqNumber]common.PageId
}

// minLogBufferCapacity is the floor for the log manager's private buffer
// pool: buffer.NewManager itself rejects anything smaller, since a
// page-split sequence can need two log pages pinned at once.
const minLogBufferCapacity = 2

// Open starts the log manager over backend, recovering next_seq_number
// from the tail log page if any pages already exist. bufferCapacity sizes
// the log manager's own private buffer pool; the log is append-only and
// flushed eagerly, so a deep cache buys little, but callers with a bursty
// write path may still want more than the floor.
func Open(backend storage.Backend, bufferCapacity int) (*Manager, error) {
	if bufferCapacity < minLogBufferCapacity {
		bufferCapacity = minLogBufferCapacity
	}
	buf, err := buffer.NewManager(backend, page.NewFactory(), bufferCapacity, replacer.NewLRU())
	if err != nil {
		return nil, err
	}
	m := &Manager{buf: buf, index: make(map[common.SeqNumber]common.PageId)}

	last := backend.NumPages()
	if last == common.NullPageId {
		m.nextSeqNumber = 1
		return m, nil
	}

	h, err := buf.FetchPage(last)
	if err != nil {
		return nil, err
	}
	lp := h.Page().(*page.LogPage)
	m.tailPageId = last
	m.nextSeqNumber = uint64(lp.LastSeqNumber()) + 1
	for _, seq := range lp.SeqNumbers() {
		m.index[seq] = last
	}
	h.Release()
	return m, nil
}

// Add assigns rec the next sequence number, serializes it, and appends
// it to the current tail log page, allocating and linking a new one if
// it doesn't fit. Appends are serialized by m.mu.
func (m *Manager) Add(rec *Record) (Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := common.SeqNumber(m.nextSeqNumber)
	m.nextSeqNumber++
	rec.SeqNumber = seq

	buf := make([]byte, rec.Size())
	if err := rec.Dump(span.New(buf)); err != nil {
		return Location{}, err
	}

	tail, err := m.tailHandle()
	if err != nil {
		return Location{}, err
	}

	lp := tail.Page().(*page.LogPage)
	if lp.FreeSpace(common.OpInsert) < len(buf) {
		newTail, err := m.buf.NewPage(common.PageTypeLog)
		if err != nil {
			tail.Release()
			return Location{}, err
		}
		lp.SetNextPageId(newTail.ID())
		tail.MarkDirty()
		tail.Release()
		m.tailPageId = newTail.ID()
		tail = newTail
		lp = tail.Page().(*page.LogPage)
	}

	if err := lp.Append(seq, buf); err != nil {
		tail.Release()
		return Location{}, err
	}
	loc := Location{PageId: tail.ID(), SeqNumber: seq}
	m.index[seq] = tail.ID()
	tail.Release()
	return loc, nil
}

// tailHandle returns a pinned handle to the current tail log page,
// allocating the very first log page if the log is empty. Caller must
// hold m.mu and Release the handle.
func (m *Manager) tailHandle() (*buffer.PageHandle, error) {
	if m.tailPageId == common.NullPageId {
		h, err := m.buf.NewPage(common.PageTypeLog)
		if err != nil {
			return nil, err
		}
		m.tailPageId = h.ID()
		return h, nil
	}
	return m.buf.FetchPage(m.tailPageId)
}

// Get reads and verifies the log record at loc.
func (m *Manager) Get(loc Location) (*Record, error) {
	h, err := m.buf.FetchPage(loc.PageId)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	lp, ok := h.Page().(*page.LogPage)
	if !ok {
		return nil, errs.Wrapf(errs.ErrCorrupt, "page %d is not a log page", loc.PageId)
	}
	raw, err := lp.Get(loc.SeqNumber)
	if err != nil {
		return nil, err
	}
	return LoadRecord(span.New(raw))
}

// Locate resolves a bare sequence number (as found in a record's
// PrevSeqNumber field) to the Location the transaction manager needs to
// fetch it, using the in-memory seq-to-page index built up by Add and
// Open. Returns false if seq was never appended through this manager
// instance (e.g. it predates the index and recovery hasn't rebuilt it).
func (m *Manager) Locate(seq common.SeqNumber) (Location, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pageId, ok := m.index[seq]
	if !ok {
		return Location{}, false
	}
	return Location{PageId: pageId, SeqNumber: seq}, true
}

// Flush writes every dirty log page to log storage. The transaction
// manager must call this before flushing any data page modified by the
// transaction being committed.
func (m *Manager) Flush() error {
	return m.buf.FlushAll()
}

// Recover returns every log record ever appended, oldest first, by
// walking the log page chain from its head (always PageId 1, since the
// log manager owns a dedicated backend and that is always the first
// page it ever allocates). As a side effect it rebuilds the seq-to-page
// index so Locate resolves PrevSeqNumber chains spanning the whole log,
// not just the tail page — the transaction manager's own Recover needs
// this to walk an incomplete transaction's chain back past page
// boundaries.
func (m *Manager) Recover() ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Record
	if m.tailPageId == common.NullPageId {
		return out, nil
	}

	pageId := common.PageId(1)
	for {
		h, err := m.buf.FetchPage(pageId)
		if err != nil {
			return nil, err
		}
		lp, ok := h.Page().(*page.LogPage)
		if !ok {
			h.Release()
			return nil, errs.Wrapf(errs.ErrCorrupt, "page %d is not a log page", pageId)
		}

		for _, seq := range lp.SeqNumbers() {
			raw, err := lp.Get(seq)
			if err != nil {
				h.Release()
				return nil, err
			}
			rec, err := LoadRecord(span.New(raw))
			if err != nil {
				h.Release()
				return nil, err
			}
			m.index[seq] = pageId
			out = append(out, rec)
		}

		next := lp.NextPageId()
		h.Release()
		if next == common.NullPageId {
			break
		}
		pageId = next
	}
	return out, nil
}

// Close flushes and closes the log backend.
func (m *Manager) Close() error {
	return m.buf.Close()
}
