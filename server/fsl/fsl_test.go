package fsl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/pagestore/server/buffer"
	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/page"
	"github.com/zhukovaskychina/pagestore/server/replacer"
	"github.com/zhukovaskychina/pagestore/server/storage"
)

func newTestBuffer(t *testing.T) *buffer.Manager {
	backend := storage.NewMemoryBackend(256)
	mgr, err := buffer.NewManager(backend, page.NewFactory(), 8, replacer.NewLRU())
	require.NoError(t, err)
	return mgr
}

func TestManageThenPageWithFreeSpace(t *testing.T) {
	buf := newTestBuffer(t)
	m, err := Open(buf, common.NullPageId, 64)
	require.NoError(t, err)

	require.NoError(t, m.Manage(common.PageId(5)))

	id, err := m.PageWithFreeSpace()
	require.NoError(t, err)
	require.Equal(t, common.PageId(5), id)
}

func TestUnmanageRemovesEntry(t *testing.T) {
	buf := newTestBuffer(t)
	m, err := Open(buf, common.NullPageId, 64)
	require.NoError(t, err)

	require.NoError(t, m.Manage(common.PageId(5)))
	require.NoError(t, m.Unmanage(common.PageId(5)))

	_, err = m.PageWithFreeSpace()
	require.Error(t, err)
}

func TestPageWithFreeSpaceEmptyFails(t *testing.T) {
	buf := newTestBuffer(t)
	m, err := Open(buf, common.NullPageId, 64)
	require.NoError(t, err)

	_, err = m.PageWithFreeSpace()
	require.Error(t, err)
}
