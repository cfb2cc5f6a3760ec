// Package replacer implements the buffer manager's pluggable page
// replacement policy: a Replacer tracks candidate frames and
// picks a victim to evict when the buffer pool needs to load a new
// page. The buffer manager is the only caller; a Replacer knows nothing
// about pages, only about the frame indices the buffer manager assigns.
package replacer

import (
	"container/list"
	"sync"
)

// Replacer selects a victim frame among those that are unpinned. Pin and
// Unpin mirror the buffer manager's pin-count bookkeeping: a pinned
// frame is never eligible for eviction.
type Replacer interface {
	// Track registers frame as a replacement candidate, most-recently-used.
	Track(frame int)
	// Forget removes frame from consideration entirely (e.g. on flush-and-drop).
	Forget(frame int)
	// Pin marks frame as currently in use; Victim will never return it.
	Pin(frame int)
	// Unpin marks frame as eligible for eviction again.
	Unpin(frame int)
	// Victim picks and removes the least-recently-used unpinned frame.
	// Returns false if every tracked frame is pinned.
	Victim() (int, bool)
	// Len reports how many frames are currently eligible for eviction.
	Len() int
}

// LRU is a least-recently-used Replacer backed by container/list for
// O(1) touch/evict.
type LRU struct {
	mu      sync.Mutex
	order   *list.List
	entries map[int]*list.Element
	pinned  map[int]bool
}

type lruEntry struct {
	frame int
}

// NewLRU returns an empty LRU replacer.
func NewLRU() *LRU {
	return &LRU{
		order:   list.New(),
		entries: make(map[int]*list.Element),
		pinned:  make(map[int]bool),
	}
}

func (l *LRU) Track(frame int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.entries[frame]; ok {
		l.order.MoveToFront(el)
		return
	}
	el := l.order.PushFront(lruEntry{frame: frame})
	l.entries[frame] = el
}

func (l *LRU) Forget(frame int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.entries[frame]; ok {
		l.order.Remove(el)
		delete(l.entries, frame)
	}
	delete(l.pinned, frame)
}

func (l *LRU) Pin(frame int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pinned[frame] = true
}

func (l *LRU) Unpin(frame int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pinned, frame)
	if el, ok := l.entries[frame]; ok {
		l.order.MoveToFront(el)
	}
}

func (l *LRU) Victim() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for el := l.order.Back(); el != nil; el = el.Prev() {
		frame := el.Value.(lruEntry).frame
		if l.pinned[frame] {
			continue
		}
		l.order.Remove(el)
		delete(l.entries, frame)
		return frame, true
	}
	return 0, false
}

func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for el := l.order.Front(); el != nil; el = el.Next() {
		frame := el.Value.(lruEntry).frame
		if !l.pinned[frame] {
			n++
		}
	}
	return n
}
