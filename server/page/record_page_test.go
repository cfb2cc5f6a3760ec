package page

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/pagestore/server/common"
	"github.com/zhukovaskychina/pagestore/server/span"
)

const testPageSize = 256

func TestRecordPageInsertGetRoundTrip(t *testing.T) {
	p := NewRecordPage(1, testPageSize)
	id, err := p.Insert(&PageSlot{Payload: []byte("hello")})
	require.NoError(t, err)

	got, err := p.Get(id)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got.Payload)
}

func TestRecordPageFreeSpaceInsertNeverExceedsUpdate(t *testing.T) {
	p := NewRecordPage(1, testPageSize)
	require.LessOrEqual(t, p.FreeSpace(common.OpInsert), p.FreeSpace(common.OpUpdate))

	_, err := p.Insert(&PageSlot{Payload: []byte("x")})
	require.NoError(t, err)
	require.LessOrEqual(t, p.FreeSpace(common.OpInsert), p.FreeSpace(common.OpUpdate))
}

func TestRecordPageRemoveThenCompactReclaimsSpace(t *testing.T) {
	p := NewRecordPage(1, testPageSize)
	id1, err := p.Insert(&PageSlot{Payload: make([]byte, 40)})
	require.NoError(t, err)
	_, err = p.Insert(&PageSlot{Payload: make([]byte, 40)})
	require.NoError(t, err)

	require.NoError(t, p.Remove(id1))
	_, err = p.Get(id1)
	require.Error(t, err)

	beforeReinsert := p.FreeSpace(common.OpInsert)
	// the removed slot's bytes are not reclaimed until the next compaction
	_, err = p.Insert(&PageSlot{Payload: make([]byte, 40)})
	require.NoError(t, err)
	afterReinsert := p.FreeSpace(common.OpInsert)

	// a same-size reinsert after a same-size removal should leave free
	// space roughly unchanged (one new directory entry, one fewer gap)
	require.InDelta(t, beforeReinsert-dirEntrySize, afterReinsert, 1)
}

func TestRecordPageInsertFailsWhenFull(t *testing.T) {
	p := NewRecordPage(1, 64)
	_, err := p.Insert(&PageSlot{Payload: make([]byte, 200)})
	require.Error(t, err)
}

func TestRecordPageUndoRemoveRestoresSlotId(t *testing.T) {
	p := NewRecordPage(1, testPageSize)
	id, err := p.Insert(&PageSlot{Payload: []byte("abc")})
	require.NoError(t, err)
	slot, err := p.Get(id)
	require.NoError(t, err)

	require.NoError(t, p.Remove(id))
	require.NoError(t, p.UndoRemove(id, slot))

	got, err := p.Get(id)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got.Payload)
}

func TestRecordPageDumpLoadRoundTrip(t *testing.T) {
	p := NewRecordPage(7, testPageSize)
	p.SetPrevPageId(3)
	p.SetNextPageId(9)
	id1, err := p.Insert(&PageSlot{Payload: []byte("first")})
	require.NoError(t, err)
	id2, err := p.Insert(&PageSlot{Payload: []byte("second-record")})
	require.NoError(t, err)

	buf := make([]byte, testPageSize)
	require.NoError(t, p.Dump(span.New(buf)))

	loaded := NewRecordPage(7, testPageSize)
	require.NoError(t, loaded.Load(span.New(buf)))

	require.Equal(t, common.PageId(3), loaded.PrevPageId())
	require.Equal(t, common.PageId(9), loaded.NextPageId())

	s1, err := loaded.Get(id1)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), s1.Payload)

	s2, err := loaded.Get(id2)
	require.NoError(t, err)
	require.Equal(t, []byte("second-record"), s2.Payload)
}

func TestRecordPageUpdateGrowTriggersCompaction(t *testing.T) {
	p := NewRecordPage(1, testPageSize)
	id, err := p.Insert(&PageSlot{Payload: make([]byte, 10)})
	require.NoError(t, err)
	_, err = p.Insert(&PageSlot{Payload: make([]byte, 10)})
	require.NoError(t, err)

	require.NoError(t, p.Update(id, &PageSlot{Payload: make([]byte, 60)}))
	got, err := p.Get(id)
	require.NoError(t, err)
	require.Len(t, got.Payload, 60)
}
