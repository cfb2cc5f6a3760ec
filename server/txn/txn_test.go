package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/pagestore/server/buffer"
	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/fsl"
	"github.com/zhukovaskychina/pagestore/server/page"
	"github.com/zhukovaskychina/pagestore/server/pagemgr"
	"github.com/zhukovaskychina/pagestore/server/replacer"
	"github.com/zhukovaskychina/pagestore/server/storage"
	"github.com/zhukovaskychina/pagestore/server/wal"
)

func newTestManager(t *testing.T) *Manager {
	dataBackend := storage.NewMemoryBackend(256)
	buf, err := buffer.NewManager(dataBackend, page.NewFactory(), 8, replacer.NewLRU())
	require.NoError(t, err)
	fm, err := fsl.Open(buf, common.NullPageId, 64)
	require.NoError(t, err)
	pages := pagemgr.New(buf, fm)

	logBackend := storage.NewMemoryBackend(256)
	log, err := wal.Open(logBackend, 4)
	require.NoError(t, err)

	return NewManager(log, pages)
}

func TestBeginAssignsActiveState(t *testing.T) {
	m := newTestManager(t)
	tx, err := m.Begin()
	require.NoError(t, err)
	require.Equal(t, StateActive, tx.State)
	require.Equal(t, common.TxnId(1), tx.Id)
}

func TestCommitFlushesStagedPageAndTransitionsCommitted(t *testing.T) {
	m := newTestManager(t)
	tx, err := m.Begin()
	require.NoError(t, err)

	h, err := m.pages.GetNewPage(common.PageTypeRecord)
	require.NoError(t, err)
	rp := h.Page().(*page.RecordPage)
	slot := &page.PageSlot{Payload: []byte("row-one")}
	slotId, err := rp.Insert(slot)
	require.NoError(t, err)
	loc := common.RecordLocation{PageId: h.ID(), SlotId: slotId}
	require.NoError(t, m.LogInsert(tx, loc, slot))
	h.Release()

	require.NoError(t, m.Commit(tx))
	require.Equal(t, StateCommitted, tx.State)

	h2, err := m.pages.GetPage(loc.PageId)
	require.NoError(t, err)
	defer h2.Release()
	got, err := h2.Page().(*page.RecordPage).Get(loc.SlotId)
	require.NoError(t, err)
	require.Equal(t, []byte("row-one"), got.Payload)
}

func TestAbortUndoesInsert(t *testing.T) {
	m := newTestManager(t)
	tx, err := m.Begin()
	require.NoError(t, err)

	h, err := m.pages.GetNewPage(common.PageTypeRecord)
	require.NoError(t, err)
	rp := h.Page().(*page.RecordPage)
	slot := &page.PageSlot{Payload: []byte("doomed")}
	slotId, err := rp.Insert(slot)
	require.NoError(t, err)
	loc := common.RecordLocation{PageId: h.ID(), SlotId: slotId}
	require.NoError(t, m.LogInsert(tx, loc, slot))
	h.Release()

	require.NoError(t, m.Abort(tx))
	require.Equal(t, StateAborted, tx.State)

	h2, err := m.pages.GetPage(loc.PageId)
	require.NoError(t, err)
	defer h2.Release()
	_, err = h2.Page().(*page.RecordPage).Get(loc.SlotId)
	require.Error(t, err)
}

func TestAbortUndoesUpdate(t *testing.T) {
	m := newTestManager(t)

	// Seed a committed row first, in its own transaction.
	seed, err := m.Begin()
	require.NoError(t, err)
	h, err := m.pages.GetNewPage(common.PageTypeRecord)
	require.NoError(t, err)
	rp := h.Page().(*page.RecordPage)
	oldSlot := &page.PageSlot{Payload: []byte("original")}
	slotId, err := rp.Insert(oldSlot)
	require.NoError(t, err)
	loc := common.RecordLocation{PageId: h.ID(), SlotId: slotId}
	require.NoError(t, m.LogInsert(seed, loc, oldSlot))
	h.Release()
	require.NoError(t, m.Commit(seed))

	tx, err := m.Begin()
	require.NoError(t, err)
	h2, err := m.pages.GetPage(loc.PageId)
	require.NoError(t, err)
	newSlot := &page.PageSlot{Payload: []byte("changed")}
	require.NoError(t, h2.Page().(*page.RecordPage).Update(loc.SlotId, newSlot))
	require.NoError(t, m.LogUpdate(tx, loc, oldSlot, newSlot))
	h2.Release()

	require.NoError(t, m.Abort(tx))

	h3, err := m.pages.GetPage(loc.PageId)
	require.NoError(t, err)
	defer h3.Release()
	got, err := h3.Page().(*page.RecordPage).Get(loc.SlotId)
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got.Payload)
}

func TestLogOperationsRejectedOnInactiveTransaction(t *testing.T) {
	m := newTestManager(t)
	tx, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Commit(tx))

	err = m.LogInsert(tx, common.RecordLocation{PageId: 1, SlotId: 1}, &page.PageSlot{Payload: []byte("x")})
	require.Error(t, err)
}
