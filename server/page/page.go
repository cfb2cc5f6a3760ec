// Package page implements the page hierarchy and the page factory
// and serializer: typed, slotted pages framed behind a small
// type-tagged header with a checksum, loaded and dumped through a registry
// keyed by PageTypeId. The checksum uses util/hash_utils.go's
// xxhash-backed helper, and the page shapes are a generic, flat
// replacement for a fixed tablespace page format.
package page

import (
	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/span"
)

// Observer is notified exactly once, after a mutating page operation
// leaves the page in a consistent state. The buffer manager implements it;
// the free-space manager is updated through explicit Manage/Unmanage calls
// instead.
type Observer interface {
	HandlePageModified(p Page)
}

// Page is the abstract contract every concrete page kind satisfies.
// Size() is constant for a page's lifetime; FreeSpace(OpInsert) must never
// exceed FreeSpace(OpUpdate), since inserting also costs one slot
// directory entry.
type Page interface {
	ID() common.PageId
	TypeID() common.PageTypeId
	Size() int
	FreeSpace(op common.Operation) int

	// Load decodes the page body (everything after the type-header
	// framing written by Factory.Dump and read by Factory.Load) from s.
	// s.Size() == Size().
	Load(s span.Span) error
	// Dump encodes the page body into s. s.Size() == Size().
	Dump(s span.Span) error

	AddObserver(o Observer)
}

// baseObservable is embedded by every concrete page kind to share the
// observer-list bookkeeping.
type baseObservable struct {
	observers []Observer
}

func (b *baseObservable) AddObserver(o Observer) {
	b.observers = append(b.observers, o)
}

func (b *baseObservable) notifyObserversOf(p Page) {
	for _, o := range b.observers {
		o.HandlePageModified(p)
	}
}
