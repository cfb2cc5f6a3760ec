// Package txn implements the transaction and transaction manager: the
// ACTIVE/PARTIALLY_COMMITTED/COMMITTED and ACTIVE/FAILED/ABORTED state
// machine, staged-page tracking, and the commit/abort protocols that tie
// the page manager and the log manager together into an atomic,
// crash-recoverable unit of work. The manager itself is a mutex-guarded
// map keyed by TxnId, the same shape used elsewhere in this module for
// keyed, concurrency-safe bookkeeping.
package txn

import (
	"sync"

	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
	"github.com/zhukovaskychina/pagestore/server/page"
	"github.com/zhukovaskychina/pagestore/server/pagemgr"
	"github.com/zhukovaskychina/pagestore/server/wal"
)

// State is a transaction's position in the state machine.
type State int

const (
	StateActive State = iota
	StatePartiallyCommitted
	StateCommitted
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StatePartiallyCommitted:
		return "PARTIALLY_COMMITTED"
	case StateCommitted:
		return "COMMITTED"
	case StateFailed:
		return "FAILED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Transaction is a single unit of work. Staged tracks every page id the
// transaction has dirtied, so commit knows what to flush and recovery
// knows what to consider. LastLogLocation chains the transaction's log
// records backward via PrevSeqNumber for abort's rollback walk.
type Transaction struct {
	mu sync.Mutex

	Id              common.TxnId
	State           State
	Staged          map[common.PageId]struct{}
	LastLogLocation wal.Location
}

func (t *Transaction) stage(id common.PageId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Staged[id] = struct{}{}
}

func (t *Transaction) stagedPages() []common.PageId {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]common.PageId, 0, len(t.Staged))
	for id := range t.Staged {
		out = append(out, id)
	}
	return out
}

// Manager is the transaction manager: owns every live Transaction, the
// log manager, and the page manager it drives commit/abort through.
type Manager struct {
	mu sync.Mutex

	log   *wal.Manager
	pages *pagemgr.Manager

	nextTxnId uint64
	txns      map[common.TxnId]*Transaction
}

// NewManager binds a transaction manager to an already-open log manager
// and page manager.
func NewManager(log *wal.Manager, pages *pagemgr.Manager) *Manager {
	return &Manager{
		log:       log,
		pages:     pages,
		nextTxnId: 1,
		txns:      make(map[common.TxnId]*Transaction),
	}
}

// Begin allocates a fresh TxnId, appends a BEGIN record, and returns the
// new Transaction in state ACTIVE.
func (m *Manager) Begin() (*Transaction, error) {
	m.mu.Lock()
	id := common.TxnId(m.nextTxnId)
	m.nextTxnId++
	m.mu.Unlock()

	loc, err := m.log.Add(&wal.Record{Type: wal.RecordBegin, TxnId: id})
	if err != nil {
		return nil, err
	}

	t := &Transaction{
		Id:              id,
		State:           StateActive,
		Staged:          make(map[common.PageId]struct{}),
		LastLogLocation: loc,
	}

	m.mu.Lock()
	m.txns[id] = t
	m.mu.Unlock()
	return t, nil
}

func (m *Manager) requireActive(t *Transaction) error {
	if t.State != StateActive {
		return errs.Wrapf(errs.ErrState, "transaction %d is not ACTIVE (state=%s)", t.Id, t.State)
	}
	return nil
}

// logInsert records an INSERT for the page slot at loc carrying slot,
// and stages loc.PageId for commit-time flush.
func (t *Transaction) logInsert(m *Manager, loc common.RecordLocation, slot *page.PageSlot) error {
	rec := &wal.Record{
		PrevSeqNumber: t.LastLogLocation.SeqNumber,
		TxnId:         t.Id,
		Type:          wal.RecordInsert,
		Location:      loc,
		SlotA:         slot,
	}
	logLoc, err := m.log.Add(rec)
	if err != nil {
		return err
	}
	t.LastLogLocation = logLoc
	t.stage(loc.PageId)
	return nil
}

// LogInsert appends an INSERT log record for the given slot image.
func (m *Manager) LogInsert(t *Transaction, loc common.RecordLocation, slot *page.PageSlot) error {
	if err := m.requireActive(t); err != nil {
		return err
	}
	return t.logInsert(m, loc, slot)
}

// LogUpdate appends an UPDATE log record carrying both the new image
// (SlotA) and the old image (SlotB, needed for undo on abort).
func (m *Manager) LogUpdate(t *Transaction, loc common.RecordLocation, oldSlot, newSlot *page.PageSlot) error {
	if err := m.requireActive(t); err != nil {
		return err
	}
	rec := &wal.Record{
		PrevSeqNumber: t.LastLogLocation.SeqNumber,
		TxnId:         t.Id,
		Type:          wal.RecordUpdate,
		Location:      loc,
		SlotA:         newSlot,
		SlotB:         oldSlot,
	}
	logLoc, err := m.log.Add(rec)
	if err != nil {
		return err
	}
	t.LastLogLocation = logLoc
	t.stage(loc.PageId)
	return nil
}

// LogDelete appends a DELETE log record carrying the removed slot's
// image, needed by abort's undo_remove.
func (m *Manager) LogDelete(t *Transaction, loc common.RecordLocation, slot *page.PageSlot) error {
	if err := m.requireActive(t); err != nil {
		return err
	}
	rec := &wal.Record{
		PrevSeqNumber: t.LastLogLocation.SeqNumber,
		TxnId:         t.Id,
		Type:          wal.RecordDelete,
		Location:      loc,
		SlotA:         slot,
	}
	logLoc, err := m.log.Add(rec)
	if err != nil {
		return err
	}
	t.LastLogLocation = logLoc
	t.stage(loc.PageId)
	return nil
}

// Commit runs the five-step commit protocol: append COMMIT,
// flush the log, flush every staged page, append DONE and flush again,
// then transition to COMMITTED. Any failure transitions the transaction
// to FAILED and invokes Abort.
func (m *Manager) Commit(t *Transaction) error {
	if err := m.requireActive(t); err != nil {
		return err
	}

	if err := m.doCommit(t); err != nil {
		t.State = StateFailed
		if abortErr := m.Abort(t); abortErr != nil {
			return errs.Wrapf(abortErr, "commit failed (%v) and abort also failed", err)
		}
		return err
	}
	return nil
}

func (m *Manager) doCommit(t *Transaction) error {
	commitLoc, err := m.log.Add(&wal.Record{
		PrevSeqNumber: t.LastLogLocation.SeqNumber,
		TxnId:         t.Id,
		Type:          wal.RecordCommit,
	})
	if err != nil {
		return err
	}
	t.LastLogLocation = commitLoc
	t.State = StatePartiallyCommitted

	if err := m.log.Flush(); err != nil {
		return err
	}

	for _, id := range t.stagedPages() {
		if err := m.pages.FlushPage(id); err != nil {
			return err
		}
	}

	doneLoc, err := m.log.Add(&wal.Record{
		PrevSeqNumber: t.LastLogLocation.SeqNumber,
		TxnId:         t.Id,
		Type:          wal.RecordDone,
	})
	if err != nil {
		return err
	}
	t.LastLogLocation = doneLoc
	if err := m.log.Flush(); err != nil {
		return err
	}

	t.State = StateCommitted
	return nil
}

// Abort walks t's log chain backward from LastLogLocation, applying the
// inverse of each operation and appending a compensating log record for
// it, then appends ABORT, flushes, and transitions to ABORTED.
func (m *Manager) Abort(t *Transaction) error {
	if t.State == StateCommitted || t.State == StateAborted {
		return errs.Wrapf(errs.ErrState, "transaction %d cannot be aborted from state %s", t.Id, t.State)
	}
	t.State = StateFailed

	loc := t.LastLogLocation
	for {
		rec, err := m.log.Get(loc)
		if err != nil {
			return err
		}

		switch rec.Type {
		case wal.RecordBegin:
			goto walked
		case wal.RecordInsert:
			if err := m.undoInsert(t, rec); err != nil {
				return err
			}
		case wal.RecordDelete:
			if err := m.undoDelete(t, rec); err != nil {
				return err
			}
		case wal.RecordUpdate:
			if err := m.undoUpdate(t, rec); err != nil {
				return err
			}
		}

		if rec.PrevSeqNumber == common.NullSeqNumber {
			break
		}
		next, ok := m.log.Locate(rec.PrevSeqNumber)
		if !ok {
			return errs.Wrapf(errs.ErrCorrupt, "transaction %d log chain broken at seq %d", t.Id, rec.PrevSeqNumber)
		}
		loc = next
	}
walked:

	abortLoc, err := m.log.Add(&wal.Record{
		PrevSeqNumber: t.LastLogLocation.SeqNumber,
		TxnId:         t.Id,
		Type:          wal.RecordAbort,
	})
	if err != nil {
		return err
	}
	t.LastLogLocation = abortLoc
	if err := m.log.Flush(); err != nil {
		return err
	}

	t.State = StateAborted
	return nil
}

func (m *Manager) undoInsert(t *Transaction, rec *wal.Record) error {
	h, err := m.pages.GetPage(rec.Location.PageId)
	if err != nil {
		return err
	}
	rp := h.Page().(*page.RecordPage)
	if err := rp.Remove(rec.Location.SlotId); err != nil && !errs.Is(err, errs.ErrNotFound) {
		h.Release()
		return err
	}
	h.Release()

	loc, err := m.log.Add(&wal.Record{
		PrevSeqNumber: t.LastLogLocation.SeqNumber,
		TxnId:         t.Id,
		Type:          wal.RecordDelete,
		Location:      rec.Location,
		SlotA:         rec.SlotA,
	})
	if err != nil {
		return err
	}
	t.LastLogLocation = loc
	return nil
}

func (m *Manager) undoDelete(t *Transaction, rec *wal.Record) error {
	h, err := m.pages.GetPage(rec.Location.PageId)
	if err != nil {
		return err
	}
	rp := h.Page().(*page.RecordPage)
	if err := rp.UndoRemove(rec.Location.SlotId, rec.SlotA); err != nil && !errs.Is(err, errs.ErrState) {
		h.Release()
		return err
	}
	h.Release()

	loc, err := m.log.Add(&wal.Record{
		PrevSeqNumber: t.LastLogLocation.SeqNumber,
		TxnId:         t.Id,
		Type:          wal.RecordInsert,
		Location:      rec.Location,
		SlotA:         rec.SlotA,
	})
	if err != nil {
		return err
	}
	t.LastLogLocation = loc
	return nil
}

// txnLog accumulates one transaction's records during recovery, in the
// order they were originally appended.
type txnLog struct {
	records []*wal.Record
	done    bool
	aborted bool
}

// Recover replays the write-ahead log after a restart. Transactions that
// reached DONE are redone into the data pages, since a crash may have
// happened before their staged pages were actually flushed; transactions
// with an ABORT record are left alone; every other transaction (including
// one that logged COMMIT but not DONE) is rolled back exactly as Abort
// does. Call once, immediately after Open, before accepting new work.
func (m *Manager) Recover() error {
	records, err := m.log.Recover()
	if err != nil {
		return err
	}

	byTxn := make(map[common.TxnId]*txnLog)
	var order []common.TxnId
	for _, rec := range records {
		tl, ok := byTxn[rec.TxnId]
		if !ok {
			tl = &txnLog{}
			byTxn[rec.TxnId] = tl
			order = append(order, rec.TxnId)
		}
		tl.records = append(tl.records, rec)
		switch rec.Type {
		case wal.RecordDone:
			tl.done = true
		case wal.RecordAbort:
			tl.aborted = true
		}
	}

	for _, id := range order {
		tl := byTxn[id]
		switch {
		case tl.done:
			if err := m.redo(tl.records); err != nil {
				return err
			}
		case tl.aborted:
			// Already rolled back in a prior run; its compensating
			// records are already among tl.records, nothing further to do.
		default:
			if err := m.rollbackIncomplete(id, tl.records); err != nil {
				return err
			}
		}
	}

	m.mu.Lock()
	for _, id := range order {
		if uint64(id) >= m.nextTxnId {
			m.nextTxnId = uint64(id) + 1
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) redo(records []*wal.Record) error {
	for _, rec := range records {
		var err error
		switch rec.Type {
		case wal.RecordInsert:
			err = m.redoInsert(rec)
		case wal.RecordUpdate:
			err = m.redoUpdate(rec)
		case wal.RecordDelete:
			err = m.redoDelete(rec)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) redoInsert(rec *wal.Record) error {
	h, err := m.pages.GetPage(rec.Location.PageId)
	if err != nil {
		return err
	}
	defer h.Release()
	rp := h.Page().(*page.RecordPage)
	if err := rp.UndoRemove(rec.Location.SlotId, rec.SlotA); err != nil && !errs.Is(err, errs.ErrState) {
		return err
	}
	return nil
}

func (m *Manager) redoDelete(rec *wal.Record) error {
	h, err := m.pages.GetPage(rec.Location.PageId)
	if err != nil {
		return err
	}
	defer h.Release()
	rp := h.Page().(*page.RecordPage)
	if err := rp.Remove(rec.Location.SlotId); err != nil && !errs.Is(err, errs.ErrNotFound) {
		return err
	}
	return nil
}

func (m *Manager) redoUpdate(rec *wal.Record) error {
	h, err := m.pages.GetPage(rec.Location.PageId)
	if err != nil {
		return err
	}
	defer h.Release()
	rp := h.Page().(*page.RecordPage)
	return rp.Update(rec.Location.SlotId, rec.SlotA)
}

// rollbackIncomplete drives a synthetic Transaction through the ordinary
// Abort path for a transaction recovered with no terminal record. The
// index wal.Manager.Recover just rebuilt lets Locate resolve the whole
// chain, not just entries from this process's own lifetime.
func (m *Manager) rollbackIncomplete(id common.TxnId, records []*wal.Record) error {
	last := records[len(records)-1]
	loc, ok := m.log.Locate(last.SeqNumber)
	if !ok {
		return errs.Wrapf(errs.ErrCorrupt, "recovery: cannot locate seq %d for txn %d", last.SeqNumber, id)
	}

	t := &Transaction{
		Id:              id,
		State:           StateFailed,
		Staged:          make(map[common.PageId]struct{}),
		LastLogLocation: loc,
	}
	m.mu.Lock()
	m.txns[id] = t
	m.mu.Unlock()

	return m.Abort(t)
}

func (m *Manager) undoUpdate(t *Transaction, rec *wal.Record) error {
	h, err := m.pages.GetPage(rec.Location.PageId)
	if err != nil {
		return err
	}
	rp := h.Page().(*page.RecordPage)
	if err := rp.Update(rec.Location.SlotId, rec.SlotB); err != nil {
		h.Release()
		return err
	}
	h.Release()

	loc, err := m.log.Add(&wal.Record{
		PrevSeqNumber: t.LastLogLocation.SeqNumber,
		TxnId:         t.Id,
		Type:          wal.RecordUpdate,
		Location:      rec.Location,
		SlotA:         rec.SlotB,
		SlotB:         rec.SlotA,
	})
	if err != nil {
		return err
	}
	t.LastLogLocation = loc
	return nil
}
