// Package storage implements the backend abstraction the buffer manager
// reads and writes raw page images through: a fixed-size-page
// file with a small header, plus an in-memory backend for tests. It is
// deliberately flat: one file, one header, no tablespace/segment
// hierarchy above the page level.
package storage

import (
	"os"
	"sync"

	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
)

// fileHeaderSize is the fixed size of the backend's leading file header:
// a format-version tag and the page size the file was created with.
// page_size is stored as a u64 so a file format change to larger pages
// never needs another header revision.
const fileHeaderSize = 4 + 8

// FormatVersion is bumped whenever the on-disk file header or page
// framing changes incompatibly.
const FormatVersion uint32 = 1

// Backend is the minimal contract the buffer manager, log manager, and
// free-space manager need from durable storage: read and write a
// fixed-size page image by PageId, allocate the next id, and report how
// many pages currently exist.
type Backend interface {
	PageSize() int
	// Allocate reserves and returns the next PageId; the page is not
	// written until the first Write call.
	Allocate() (common.PageId, error)
	Read(id common.PageId, out []byte) error
	Write(id common.PageId, data []byte) error
	// NumPages reports the highest PageId allocated so far.
	NumPages() common.PageId
	Flush() error
	Close() error
}

// FileBackend stores page images in a single flat file: a fixed header
// followed by fixed-size page slots indexed directly by PageId (page 1
// starts at offset fileHeaderSize).
type FileBackend struct {
	mu       sync.Mutex
	f        *os.File
	pageSize int
	numPages common.PageId
}

// OpenFileBackend opens (creating if absent) path as a FileBackend with
// the given page size. If the file already exists, its header's page
// size must match.
func OpenFileBackend(path string, pageSize int) (*FileBackend, error) {
	exists, err := pathExists(path)
	if err != nil {
		return nil, errs.Wrap(err, "storage: stat backend file")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errs.Wrap(err, "storage: open backend file")
	}

	b := &FileBackend{f: f, pageSize: pageSize}
	if !exists {
		if err := b.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		return b, nil
	}

	if err := b.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

func pathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (b *FileBackend) writeHeader() error {
	hdr := make([]byte, fileHeaderSize)
	putUint32(hdr[0:4], FormatVersion)
	putUint64(hdr[4:12], uint64(b.pageSize))
	_, err := b.f.WriteAt(hdr, 0)
	if err != nil {
		return errs.Wrap(err, "storage: write backend header")
	}
	return nil
}

func (b *FileBackend) readHeader() error {
	hdr := make([]byte, fileHeaderSize)
	if _, err := b.f.ReadAt(hdr, 0); err != nil {
		return errs.Wrap(err, "storage: read backend header")
	}
	version := getUint32(hdr[0:4])
	if version != FormatVersion {
		return errs.Wrapf(errs.ErrCorrupt, "storage: unsupported format version %d", version)
	}
	pageSize := int(getUint64(hdr[4:12]))
	if pageSize != b.pageSize {
		return errs.Wrapf(errs.ErrCorrupt, "storage: page size mismatch: file has %d, opened with %d", pageSize, b.pageSize)
	}

	info, err := b.f.Stat()
	if err != nil {
		return errs.Wrap(err, "storage: stat backend file")
	}
	body := info.Size() - fileHeaderSize
	if body < 0 {
		body = 0
	}
	b.numPages = common.PageId(body / int64(b.pageSize))
	return nil
}

func (b *FileBackend) PageSize() int { return b.pageSize }

func (b *FileBackend) offset(id common.PageId) int64 {
	return int64(fileHeaderSize) + int64(id-1)*int64(b.pageSize)
}

func (b *FileBackend) Allocate() (common.PageId, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.numPages++
	return b.numPages, nil
}

func (b *FileBackend) Read(id common.PageId, out []byte) error {
	if len(out) != b.pageSize {
		return errs.Wrapf(errs.ErrParse, "storage: read buffer size %d != page size %d", len(out), b.pageSize)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == common.NullPageId || id > b.numPages {
		return errs.Wrapf(errs.ErrNotFound, "storage: page %d not allocated", id)
	}
	if _, err := b.f.ReadAt(out, b.offset(id)); err != nil {
		return errs.Wrapf(errs.ErrIO, "storage: read page %d: %v", id, err)
	}
	return nil
}

func (b *FileBackend) Write(id common.PageId, data []byte) error {
	if len(data) != b.pageSize {
		return errs.Wrapf(errs.ErrParse, "storage: write buffer size %d != page size %d", len(data), b.pageSize)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == common.NullPageId || id > b.numPages {
		return errs.Wrapf(errs.ErrNotFound, "storage: page %d not allocated", id)
	}
	if _, err := b.f.WriteAt(data, b.offset(id)); err != nil {
		return errs.Wrapf(errs.ErrIO, "storage: write page %d: %v", id, err)
	}
	return nil
}

func (b *FileBackend) NumPages() common.PageId {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numPages
}

func (b *FileBackend) Flush() error {
	if err := b.f.Sync(); err != nil {
		return errs.Wrap(err, "storage: fsync backend file")
	}
	return nil
}

func (b *FileBackend) Close() error { return b.f.Close() }

func putUint32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func getUint32(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func getUint64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}
