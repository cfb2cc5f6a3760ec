package storage

import (
	"sync"

	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
)

// MemoryBackend is an in-process Backend used by unit tests and by
// embedders that only need a scratch engine instance. It carries no
// durability guarantee: Flush is a no-op.
type MemoryBackend struct {
	mu       sync.Mutex
	pageSize int
	pages    map[common.PageId][]byte
	numPages common.PageId
}

// NewMemoryBackend returns an empty MemoryBackend for the given page size.
func NewMemoryBackend(pageSize int) *MemoryBackend {
	return &MemoryBackend{pageSize: pageSize, pages: make(map[common.PageId][]byte)}
}

func (b *MemoryBackend) PageSize() int { return b.pageSize }

func (b *MemoryBackend) Allocate() (common.PageId, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.numPages++
	return b.numPages, nil
}

func (b *MemoryBackend) Read(id common.PageId, out []byte) error {
	if len(out) != b.pageSize {
		return errs.Wrapf(errs.ErrParse, "storage: read buffer size %d != page size %d", len(out), b.pageSize)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.pages[id]
	if !ok {
		if id == common.NullPageId || id > b.numPages {
			return errs.Wrapf(errs.ErrNotFound, "storage: page %d not allocated", id)
		}
		// allocated but never written: reads as zeroes
		return nil
	}
	copy(out, data)
	return nil
}

func (b *MemoryBackend) Write(id common.PageId, data []byte) error {
	if len(data) != b.pageSize {
		return errs.Wrapf(errs.ErrParse, "storage: write buffer size %d != page size %d", len(data), b.pageSize)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == common.NullPageId || id > b.numPages {
		return errs.Wrapf(errs.ErrNotFound, "storage: page %d not allocated", id)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.pages[id] = cp
	return nil
}

func (b *MemoryBackend) NumPages() common.PageId {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numPages
}

func (b *MemoryBackend) Flush() error { return nil }
func (b *MemoryBackend) Close() error { return nil }
