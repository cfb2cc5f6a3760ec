package pagemgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/pagestore/server/buffer"
	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/fsl"
	"github.com/zhukovaskychina/pagestore/server/page"
	"github.com/zhukovaskychina/pagestore/server/replacer"
	"github.com/zhukovaskychina/pagestore/server/storage"
)

func newTestManager(t *testing.T) *Manager {
	backend := storage.NewMemoryBackend(256)
	buf, err := buffer.NewManager(backend, page.NewFactory(), 8, replacer.NewLRU())
	require.NoError(t, err)
	fm, err := fsl.Open(buf, common.NullPageId, 64)
	require.NoError(t, err)
	return New(buf, fm)
}

func TestGetFreeOrNewPageFallsBackToAllocation(t *testing.T) {
	m := newTestManager(t)
	h, err := m.GetFreeOrNewPage(common.PageTypeRecord)
	require.NoError(t, err)
	defer h.Release()
	require.Equal(t, common.PageTypeRecord, h.Page().TypeID())
}

func TestGetFreeOrNewPageReusesManagedPage(t *testing.T) {
	m := newTestManager(t)
	h, err := m.GetNewPage(common.PageTypeRecord)
	require.NoError(t, err)
	id := h.ID()
	h.Release()

	require.NoError(t, m.Manage(id))

	h2, err := m.GetFreeOrNewPage(common.PageTypeRecord)
	require.NoError(t, err)
	defer h2.Release()
	require.Equal(t, id, h2.ID())
}
