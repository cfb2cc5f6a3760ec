package page

import (
	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/common/errs"
	"github.com/zhukovaskychina/pagestore/server/span"
	"github.com/zhukovaskychina/pagestore/util"
)

// frameHeaderSize is the fixed on-disk size of the type-header framing
// every page image carries ahead of its body: a type tag plus a
// checksum over the body bytes.
const frameHeaderSize = 1 + 8

// Factory constructs an empty Page of a given type and size, and
// (de)serializes full page images (frame header + body) through the
// registry of constructors it holds. The registry lets storage-backend
// code and the buffer manager move bytes without knowing about any
// concrete page kind beyond PageTypeId. The registry is open and
// caller-extensible: PageTypeId values at or above
// ReservedPageTypeThreshold can be registered by embedders without
// modifying this package.
type Factory struct {
	ctors map[common.PageTypeId]func(id common.PageId, size int) Page
}

// NewFactory returns a Factory with the built-in page kinds
// (PageTypeRecord, PageTypeLog, PageTypeFSL) pre-registered.
func NewFactory() *Factory {
	f := &Factory{ctors: make(map[common.PageTypeId]func(id common.PageId, size int) Page)}
	f.Register(common.PageTypeRecord, func(id common.PageId, size int) Page { return NewRecordPage(id, size) })
	f.Register(common.PageTypeLog, func(id common.PageId, size int) Page { return NewLogPage(id, size) })
	f.Register(common.PageTypeFSL, func(id common.PageId, size int) Page { return NewFSLPage(id, size) })
	return f
}

// Register associates typeID with a constructor. Embedders extending the
// page hierarchy with their own record formats use typeID values at or
// above common.ReservedPageTypeThreshold.
func (f *Factory) Register(typeID common.PageTypeId, ctor func(id common.PageId, size int) Page) {
	f.ctors[typeID] = ctor
}

// New constructs an empty page of the given type and id/size.
func (f *Factory) New(typeID common.PageTypeId, id common.PageId, size int) (Page, error) {
	ctor, ok := f.ctors[typeID]
	if !ok {
		return nil, errs.Wrapf(errs.ErrParse, "no page constructor registered for type %d", typeID)
	}
	return ctor(id, size), nil
}

// Dump encodes a full page image (type header + checksum + body) into
// out, which must be exactly ImageSize(p.Size()) bytes.
func (f *Factory) Dump(p Page, out span.Span) error {
	bodySize := p.Size()
	if out.Size() != frameHeaderSize+bodySize {
		return errs.Wrapf(errs.ErrParse, "page image span mismatch: want %d, have %d", frameHeaderSize+bodySize, out.Size())
	}

	body, err := out.Sub(frameHeaderSize, bodySize)
	if err != nil {
		return err
	}
	if err := p.Dump(body); err != nil {
		return err
	}

	rest, err := out.DumpUint8(uint8(p.TypeID()))
	if err != nil {
		return err
	}
	if _, err := rest.DumpUint64(util.HashCode(body.Bytes())); err != nil {
		return err
	}
	return nil
}

// Load decodes a full page image previously produced by Dump, verifying
// the checksum and constructing the right concrete Page via the
// registry.
func (f *Factory) Load(id common.PageId, in span.Span) (Page, error) {
	if in.Size() < frameHeaderSize {
		return nil, errs.Wrapf(errs.ErrParse, "page image too small: %d", in.Size())
	}
	bodySize := in.Size() - frameHeaderSize

	typeTag, rest, err := in.LoadUint8()
	if err != nil {
		return nil, err
	}
	sum, rest, err := rest.LoadUint64()
	if err != nil {
		return nil, err
	}

	body, err := in.Sub(frameHeaderSize, bodySize)
	if err != nil {
		return nil, err
	}
	if util.HashCode(body.Bytes()) != sum {
		return nil, errs.Wrapf(errs.ErrCorrupt, "page %d checksum mismatch", id)
	}

	p, err := f.New(common.PageTypeId(typeTag), id, bodySize)
	if err != nil {
		return nil, err
	}
	if err := p.Load(body); err != nil {
		return nil, err
	}
	_ = rest
	return p, nil
}

// ImageSize returns the on-disk size of a full page image (frame header
// + body) for a page body of bodySize bytes.
func ImageSize(bodySize int) int { return frameHeaderSize + bodySize }
