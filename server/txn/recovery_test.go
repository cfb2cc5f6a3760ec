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

type recoveryFixture struct {
	dataBackend storage.Backend
	logBackend  storage.Backend
}

func newRecoveryFixture() *recoveryFixture {
	return &recoveryFixture{
		dataBackend: storage.NewMemoryBackend(256),
		logBackend:  storage.NewMemoryBackend(256),
	}
}

func (f *recoveryFixture) open(t *testing.T) *Manager {
	buf, err := buffer.NewManager(f.dataBackend, page.NewFactory(), 8, replacer.NewLRU())
	require.NoError(t, err)
	fm, err := fsl.Open(buf, common.NullPageId, 64)
	require.NoError(t, err)
	pages := pagemgr.New(buf, fm)

	log, err := wal.Open(f.logBackend, 4)
	require.NoError(t, err)

	return NewManager(log, pages)
}

// TestRecoverRollsBackIncompleteTransaction simulates a restart after a
// transaction logged and applied an insert but never reached COMMIT: the
// data page write happened to reach storage (a buffer manager may evict
// and flush at any time, independent of transaction boundaries) but the
// transaction itself never finished. Recover must undo it.
func TestRecoverRollsBackIncompleteTransaction(t *testing.T) {
	f := newRecoveryFixture()

	m := f.open(t)
	tx, err := m.Begin()
	require.NoError(t, err)

	h, err := m.pages.GetNewPage(common.PageTypeRecord)
	require.NoError(t, err)
	slot := &page.PageSlot{Payload: []byte("crashed-before-commit")}
	slotId, err := h.Page().(*page.RecordPage).Insert(slot)
	require.NoError(t, err)
	loc := common.RecordLocation{PageId: h.ID(), SlotId: slotId}
	require.NoError(t, m.LogInsert(tx, loc, slot))
	h.Release()

	require.NoError(t, m.pages.FlushPage(loc.PageId))
	require.NoError(t, m.log.Flush())

	// Simulate a restart: fresh managers over the same backends.
	recovered := f.open(t)
	require.NoError(t, recovered.Recover())

	h2, err := recovered.pages.GetPage(loc.PageId)
	require.NoError(t, err)
	defer h2.Release()
	_, err = h2.Page().(*page.RecordPage).Get(loc.SlotId)
	require.Error(t, err)
}

// TestRecoverRedoesCommittedTransaction simulates a restart after a
// transaction reached DONE but (hypothetically) its staged page write
// never reached storage before the crash. Recover must reapply it.
func TestRecoverRedoesCommittedTransaction(t *testing.T) {
	f := newRecoveryFixture()

	m := f.open(t)
	tx, err := m.Begin()
	require.NoError(t, err)

	h, err := m.pages.GetNewPage(common.PageTypeRecord)
	require.NoError(t, err)
	slot := &page.PageSlot{Payload: []byte("committed-row")}
	slotId, err := h.Page().(*page.RecordPage).Insert(slot)
	require.NoError(t, err)
	loc := common.RecordLocation{PageId: h.ID(), SlotId: slotId}
	require.NoError(t, m.LogInsert(tx, loc, slot))
	h.Release()

	require.NoError(t, m.Commit(tx))
	require.NoError(t, m.log.Flush())

	recovered := f.open(t)
	require.NoError(t, recovered.Recover())

	h2, err := recovered.pages.GetPage(loc.PageId)
	require.NoError(t, err)
	defer h2.Release()
	got, err := h2.Page().(*page.RecordPage).Get(loc.SlotId)
	require.NoError(t, err)
	require.Equal(t, []byte("committed-row"), got.Payload)
}

// TestRecoverAssignsFreshTxnIdsPastRecoveredOnes ensures Begin after
// Recover never reuses a TxnId seen in the log.
func TestRecoverAssignsFreshTxnIdsPastRecoveredOnes(t *testing.T) {
	f := newRecoveryFixture()

	m := f.open(t)
	tx, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Commit(tx))
	require.NoError(t, m.log.Flush())

	recovered := f.open(t)
	require.NoError(t, recovered.Recover())

	next, err := recovered.Begin()
	require.NoError(t, err)
	require.Greater(t, uint64(next.Id), uint64(tx.Id))
}
