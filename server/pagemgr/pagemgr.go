// Package pagemgr composes the buffer manager and the free-space
// manager into the single entry point the engine facade and the
// transaction manager use to get at pages: fetch an existing page, force
// a brand new one, or ask for "any page with room, else allocate". It is
// a thin composition layer over two peer managers, nothing more.
package pagemgr

import (
	"github.com/zhukovaskychina/pagestore/server/buffer"
	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
	"github.com/zhukovaskychina/pagestore/server/fsl"
)

// Manager is the page-access facade: GetPage/GetNewPage/GetFreeOrNewPage.
type Manager struct {
	buf *buffer.Manager
	fsl *fsl.Manager
}

// New binds a pagemgr.Manager over an already-open buffer manager and
// free-space manager.
func New(buf *buffer.Manager, freeSpace *fsl.Manager) *Manager {
	return &Manager{buf: buf, fsl: freeSpace}
}

// GetPage returns a pinned handle to an existing page.
func (m *Manager) GetPage(id common.PageId) (*buffer.PageHandle, error) {
	return m.buf.FetchPage(id)
}

// GetNewPage allocates and returns a pinned handle to a brand new page
// of typeID, bypassing the free-space list entirely.
func (m *Manager) GetNewPage(typeID common.PageTypeId) (*buffer.PageHandle, error) {
	return m.buf.NewPage(typeID)
}

// GetFreeOrNewPage returns a pinned handle to a page the free-space
// manager believes has room, falling back to allocating a new page of
// typeID if none is currently tracked.
func (m *Manager) GetFreeOrNewPage(typeID common.PageTypeId) (*buffer.PageHandle, error) {
	id, err := m.fsl.PageWithFreeSpace()
	if err == nil {
		return m.buf.FetchPage(id)
	}
	if !errs.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	return m.buf.NewPage(typeID)
}

// Manage tells the free-space manager that id has spare capacity.
func (m *Manager) Manage(id common.PageId) error { return m.fsl.Manage(id) }

// Unmanage tells the free-space manager id no longer has spare capacity
// worth tracking.
func (m *Manager) Unmanage(id common.PageId) error { return m.fsl.Unmanage(id) }

// FlushPage delegates to the underlying buffer manager.
func (m *Manager) FlushPage(id common.PageId) error { return m.buf.FlushPage(id) }

// FlushAll delegates to the underlying buffer manager.
func (m *Manager) FlushAll() error { return m.buf.FlushAll() }
