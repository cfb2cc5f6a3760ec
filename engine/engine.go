// Package engine is the top-level facade an embedder opens: it wires
// storage, the buffer manager, the free-space manager, the page
// manager, the write-ahead log, and the transaction manager into one
// handle exposing Begin/Insert/Read/Update/Delete/Commit/Abort, and
// runs the crash-recovery sweep before handing control back.
package engine

import (
	"github.com/zhukovaskychina/pagestore/logger"
	"github.com/zhukovaskychina/pagestore/server/buffer"
	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
	"github.com/zhukovaskychina/pagestore/server/conf"
	"github.com/zhukovaskychina/pagestore/server/fsl"
	"github.com/zhukovaskychina/pagestore/server/page"
	"github.com/zhukovaskychina/pagestore/server/pagemgr"
	"github.com/zhukovaskychina/pagestore/server/replacer"
	"github.com/zhukovaskychina/pagestore/server/storage"
	"github.com/zhukovaskychina/pagestore/server/txn"
	"github.com/zhukovaskychina/pagestore/server/wal"
)

// fslHeadPageId is the fixed location of the free-space manager's head
// page. The metadata record claims PageId 1 (common.MetadataLocation)
// the moment a backend is created, so the free-space manager's head
// page - the next page anything allocates - always lands on PageId 2.
const fslHeadPageId common.PageId = 2

// Engine is an open storage engine instance bound to one data backend
// and one log backend.
type Engine struct {
	dataBackend storage.Backend
	logBackend  storage.Backend

	buf  *buffer.Manager
	fsl  *fsl.Manager
	page *pagemgr.Manager
	log  *wal.Manager
	txns *txn.Manager
}

// Open wires every layer over cfg's paths and options, runs the
// recovery sweep, and ensures the canonical (1,1) metadata record
// exists.
func Open(cfg *conf.Cfg) (*Engine, error) {
	dataBackend, logBackend, err := openBackends(cfg)
	if err != nil {
		return nil, err
	}

	buf, err := buffer.NewManager(dataBackend, page.NewFactory(), cfg.CacheSize, replacer.NewLRU())
	if err != nil {
		return nil, err
	}

	fresh := dataBackend.NumPages() == common.NullPageId

	// The metadata record must claim PageId 1 before anything else
	// allocates a page, since fsl.Open allocates its own head page
	// immediately when given a NullPageId head.
	if fresh {
		if err := initMetadata(buf); err != nil {
			return nil, err
		}
	}

	headId := common.NullPageId
	if !fresh {
		headId = fslHeadPageId
	}
	fm, err := fsl.Open(buf, headId, cfg.FSLRangeSize)
	if err != nil {
		return nil, err
	}
	if fresh && fm.HeadPageId() != fslHeadPageId {
		return nil, errs.Wrapf(errs.ErrState, "engine: expected fsl head page id %d, got %d", fslHeadPageId, fm.HeadPageId())
	}

	pm := pagemgr.New(buf, fm)

	log, err := wal.Open(logBackend, cfg.LogBufferPages)
	if err != nil {
		return nil, err
	}
	txns := txn.NewManager(log, pm)

	e := &Engine{
		dataBackend: dataBackend,
		logBackend:  logBackend,
		buf:         buf,
		fsl:         fm,
		page:        pm,
		log:         log,
		txns:        txns,
	}

	if err := txns.Recover(); err != nil {
		return nil, err
	}

	return e, nil
}

func openBackends(cfg *conf.Cfg) (storage.Backend, storage.Backend, error) {
	switch cfg.StorageMode {
	case conf.StorageModeMemory:
		return storage.NewMemoryBackend(cfg.PageSize), storage.NewMemoryBackend(cfg.PageSize), nil
	case conf.StorageModeFile:
		data, err := storage.OpenFileBackend(cfg.DataPath, cfg.PageSize)
		if err != nil {
			return nil, nil, err
		}
		log, err := storage.OpenFileBackend(cfg.LogPath, cfg.PageSize)
		if err != nil {
			return nil, nil, err
		}
		return data, log, nil
	default:
		return nil, nil, errs.Wrapf(errs.ErrState, "engine: unknown storage mode %q", cfg.StorageMode)
	}
}

// initMetadata writes an empty collection metadata record at the
// canonical location (1,1) the first time a fresh backend is opened.
// It runs directly against buf, ahead of the free-space manager's own
// setup, so the metadata record is guaranteed PageId 1 (see
// fslHeadPageId).
func initMetadata(buf *buffer.Manager) error {
	h, err := buf.NewPage(common.PageTypeRecord)
	if err != nil {
		return err
	}
	defer h.Release()
	if h.ID() != common.MetadataLocation.PageId {
		return errs.Wrapf(errs.ErrState, "engine: expected metadata page id %d, got %d", common.MetadataLocation.PageId, h.ID())
	}

	rp := h.Page().(*page.RecordPage)
	slotId, err := rp.Insert(&page.PageSlot{Payload: make([]byte, 0)})
	if err != nil {
		return err
	}
	if slotId != common.MetadataLocation.SlotId {
		return errs.Wrapf(errs.ErrState, "engine: expected metadata slot id %d, got %d", common.MetadataLocation.SlotId, slotId)
	}
	return buf.FlushPage(h.ID())
}

// Metadata returns the raw bytes of the collection metadata record
// stored at the canonical (1,1) location, for a collection layer built
// on top of this core.
func (e *Engine) Metadata() ([]byte, error) {
	h, err := e.page.GetPage(common.MetadataLocation.PageId)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	slot, err := h.Page().(*page.RecordPage).Get(common.MetadataLocation.SlotId)
	if err != nil {
		return nil, err
	}
	return slot.Payload, nil
}

// SetMetadata overwrites the collection metadata record in its own
// transaction, committed before returning.
func (e *Engine) SetMetadata(payload []byte) error {
	tx, err := e.Begin()
	if err != nil {
		return err
	}
	if err := e.Update(tx, common.MetadataLocation, payload); err != nil {
		_ = e.Abort(tx)
		return err
	}
	return e.Commit(tx)
}

// Begin starts a new transaction.
func (e *Engine) Begin() (*txn.Transaction, error) {
	return e.txns.Begin()
}

// Insert splits payload into as many PageSlot fragments as fit the pages
// the free-space manager hands back (preferring pages it already tracks,
// falling back to a fresh one), chains the fragments head-to-tail via
// Prev/Next, logs each fragment's insert, and returns the head location.
// A payload that fits one slot produces a chain of length one, with both
// Prev and Next left NULL. The chain is visible to readers immediately
// but not durable until tx is committed.
func (e *Engine) Insert(tx *txn.Transaction, payload []byte) (common.RecordLocation, error) {
	locs, err := e.insertFragments(payload)
	if err != nil {
		return common.RecordLocation{}, err
	}

	for i, loc := range locs {
		var prev, next common.RecordLocation
		if i > 0 {
			prev = locs[i-1]
		}
		if i < len(locs)-1 {
			next = locs[i+1]
		}

		h, err := e.page.GetPage(loc.PageId)
		if err != nil {
			return common.RecordLocation{}, err
		}
		rp := h.Page().(*page.RecordPage)
		slot, err := rp.Get(loc.SlotId)
		if err != nil {
			h.Release()
			return common.RecordLocation{}, err
		}
		if prev != slot.Prev || next != slot.Next {
			linked := &page.PageSlot{Prev: prev, Next: next, Payload: slot.Payload}
			if err := rp.Update(loc.SlotId, linked); err != nil {
				h.Release()
				return common.RecordLocation{}, err
			}
			slot = linked
		}
		logErr := e.txns.LogInsert(tx, loc, slot)
		h.Release()
		if logErr != nil {
			return common.RecordLocation{}, logErr
		}
	}

	return locs[0], nil
}

// insertFragments places payload across one or more freshly inserted
// slots, splitting at whatever each page GetFreeOrNewPage hands back can
// actually hold, and returns their locations in head-to-tail order. It
// does not set Prev/Next: a fragment's neighbors are only known once the
// whole chain exists, so linking is a separate pass over the results.
func (e *Engine) insertFragments(payload []byte) ([]common.RecordLocation, error) {
	var locs []common.RecordLocation
	remaining := payload

	for {
		h, err := e.page.GetFreeOrNewPage(common.PageTypeRecord)
		if err != nil {
			return nil, err
		}
		rp := h.Page().(*page.RecordPage)
		avail := rp.FreeSpace(common.OpInsert) - page.SlotHeaderSize
		if avail < 0 {
			h.Release()
			h, err = e.page.GetNewPage(common.PageTypeRecord)
			if err != nil {
				return nil, err
			}
			rp = h.Page().(*page.RecordPage)
			avail = rp.FreeSpace(common.OpInsert) - page.SlotHeaderSize
			if avail < 0 {
				h.Release()
				return nil, errs.Wrapf(errs.ErrInsufficientSpace, "page %d has no room for even an empty slot", h.ID())
			}
		}

		n := len(remaining)
		if n > avail {
			n = avail
		}
		chunk := remaining[:n]
		remaining = remaining[n:]

		slotId, err := rp.Insert(&page.PageSlot{Payload: chunk})
		if err != nil {
			h.Release()
			return nil, err
		}
		locs = append(locs, common.RecordLocation{PageId: h.ID(), SlotId: slotId})

		trackErr := e.trackFreeSpace(h.ID(), rp)
		h.Release()
		if trackErr != nil {
			return nil, trackErr
		}

		if len(remaining) == 0 {
			return locs, nil
		}
	}
}

// Read returns the payload at loc, reassembled across the whole chain if
// the record was split into multiple fragments at insert time.
func (e *Engine) Read(loc common.RecordLocation) ([]byte, error) {
	var out []byte
	cur := loc
	for {
		h, err := e.page.GetPage(cur.PageId)
		if err != nil {
			return nil, err
		}
		slot, err := h.Page().(*page.RecordPage).Get(cur.SlotId)
		if err != nil {
			h.Release()
			return nil, err
		}
		out = append(out, slot.Payload...)
		next := slot.Next
		h.Release()

		if next == (common.RecordLocation{}) {
			return out, nil
		}
		cur = next
	}
}

// Update replaces the payload at loc, logging both the new and old
// images so the change can be undone on abort. The new payload is stored
// as a single slot at loc with NULL Prev/Next; it is not split across
// pages, and fragments that followed loc in a chained record are left in
// place, not removed.
func (e *Engine) Update(tx *txn.Transaction, loc common.RecordLocation, payload []byte) error {
	h, err := e.page.GetPage(loc.PageId)
	if err != nil {
		return err
	}
	defer h.Release()

	rp := h.Page().(*page.RecordPage)
	old, err := rp.Get(loc.SlotId)
	if err != nil {
		return err
	}
	oldCopy := &page.PageSlot{Payload: append([]byte(nil), old.Payload...)}
	newSlot := &page.PageSlot{Payload: payload}

	if err := rp.Update(loc.SlotId, newSlot); err != nil {
		return err
	}
	if err := e.txns.LogUpdate(tx, loc, oldCopy, newSlot); err != nil {
		return err
	}
	return e.trackFreeSpace(loc.PageId, rp)
}

// Delete removes the slot at loc, logging its image so the delete can be
// undone on abort. Only that slot is removed: for a record split into a
// chain, the fragments after loc stay on their pages.
func (e *Engine) Delete(tx *txn.Transaction, loc common.RecordLocation) error {
	h, err := e.page.GetPage(loc.PageId)
	if err != nil {
		return err
	}
	defer h.Release()

	rp := h.Page().(*page.RecordPage)
	slot, err := rp.Get(loc.SlotId)
	if err != nil {
		return err
	}
	if err := rp.Remove(loc.SlotId); err != nil {
		return err
	}
	if err := e.txns.LogDelete(tx, loc, slot); err != nil {
		return err
	}
	return e.trackFreeSpace(loc.PageId, rp)
}

// Commit finalizes tx.
func (e *Engine) Commit(tx *txn.Transaction) error {
	return e.txns.Commit(tx)
}

// Abort rolls tx back.
func (e *Engine) Abort(tx *txn.Transaction) error {
	return e.txns.Abort(tx)
}

// trackFreeSpace updates the free-space manager's view of id after a
// mutation. It never fails the caller's operation: any error from the
// free-space manager other than ErrNotFound is logged and dropped —
// losing a free-space hint only costs a future allocation, not
// correctness.
func (e *Engine) trackFreeSpace(id common.PageId, rp *page.RecordPage) error {
	var err error
	if rp.FreeSpace(common.OpInsert) > 0 {
		err = e.fsl.Manage(id)
	} else {
		err = e.fsl.Unmanage(id)
	}
	if err != nil && !errs.Is(err, errs.ErrNotFound) {
		logger.Warnf("engine: free-space tracking for page %d failed: %v", id, err)
	}
	return nil
}

// Close flushes every manager and closes both backends.
func (e *Engine) Close() error {
	if err := e.log.Close(); err != nil {
		return err
	}
	return e.buf.Close()
}
