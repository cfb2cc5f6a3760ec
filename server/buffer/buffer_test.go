package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/page"
	"github.com/zhukovaskychina/pagestore/server/replacer"
	"github.com/zhukovaskychina/pagestore/server/storage"
)

const testBackendPageSize = 128 // image size; body = 128 - frameHeaderSize

func newTestManager(t *testing.T, capacity int) *Manager {
	backend := storage.NewMemoryBackend(testBackendPageSize)
	factory := page.NewFactory()
	mgr, err := NewManager(backend, factory, capacity, replacer.NewLRU())
	require.NoError(t, err)
	return mgr
}

func TestNewManagerRejectsSmallCapacity(t *testing.T) {
	backend := storage.NewMemoryBackend(testBackendPageSize)
	_, err := NewManager(backend, page.NewFactory(), 1, replacer.NewLRU())
	require.Error(t, err)
}

func TestNewPageThenFetchRoundTrip(t *testing.T) {
	mgr := newTestManager(t, 4)
	h, err := mgr.NewPage(common.PageTypeRecord)
	require.NoError(t, err)
	rp := h.Page().(*page.RecordPage)
	_, err = rp.Insert(&page.PageSlot{Payload: []byte("v1")})
	require.NoError(t, err)
	h.Release()

	require.NoError(t, mgr.FlushAll())

	h2, err := mgr.FetchPage(h.ID())
	require.NoError(t, err)
	defer h2.Release()
	loaded := h2.Page().(*page.RecordPage)
	s, err := loaded.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), s.Payload)
}

func TestFetchPageCacheHit(t *testing.T) {
	mgr := newTestManager(t, 4)
	h, err := mgr.NewPage(common.PageTypeRecord)
	require.NoError(t, err)
	h.Release()

	h2, err := mgr.FetchPage(h.ID())
	require.NoError(t, err)
	h2.Release()

	hits, misses, _, _ := mgr.Stats()
	require.Equal(t, uint64(1), hits)
	require.Equal(t, uint64(1), misses)
}

func TestBufferFullWhenAllPinned(t *testing.T) {
	mgr := newTestManager(t, 2)
	h1, err := mgr.NewPage(common.PageTypeRecord)
	require.NoError(t, err)
	h2, err := mgr.NewPage(common.PageTypeRecord)
	require.NoError(t, err)

	_, err = mgr.NewPage(common.PageTypeRecord)
	require.Error(t, err)

	h1.Release()
	h2.Release()
}

func TestFlushAllSkipsPinnedPage(t *testing.T) {
	mgr := newTestManager(t, 4)
	h, err := mgr.NewPage(common.PageTypeRecord)
	require.NoError(t, err)
	rp := h.Page().(*page.RecordPage)
	_, err = rp.Insert(&page.PageSlot{Payload: []byte("pinned")})
	require.NoError(t, err)
	id := h.ID()

	// h is still held (pinned): FlushAll must leave it dirty rather than
	// write it back.
	require.NoError(t, mgr.FlushAll())
	_, _, _, flushesBefore := mgr.Stats()

	require.NoError(t, mgr.FlushPage(id))
	_, _, _, flushesAfter := mgr.Stats()
	require.Equal(t, flushesBefore, flushesAfter, "FlushPage must no-op on a pinned page")

	h.Release()
	require.NoError(t, mgr.FlushAll())
	_, _, _, flushesFinal := mgr.Stats()
	require.Greater(t, flushesFinal, flushesAfter, "FlushAll must flush the page once unpinned")
}

func TestEvictionFlushesDirtyVictim(t *testing.T) {
	mgr := newTestManager(t, 2)
	h1, err := mgr.NewPage(common.PageTypeRecord)
	require.NoError(t, err)
	rp1 := h1.Page().(*page.RecordPage)
	_, err = rp1.Insert(&page.PageSlot{Payload: []byte("a")})
	require.NoError(t, err)
	id1 := h1.ID()
	h1.Release()

	h2, err := mgr.NewPage(common.PageTypeRecord)
	require.NoError(t, err)
	h2.Release()

	// fill remaining capacity and force id1 out
	h3, err := mgr.NewPage(common.PageTypeRecord)
	require.NoError(t, err)
	h3.Release()

	h1reload, err := mgr.FetchPage(id1)
	require.NoError(t, err)
	defer h1reload.Release()
	rp1reload := h1reload.Page().(*page.RecordPage)
	s, err := rp1reload.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), s.Payload)
}
