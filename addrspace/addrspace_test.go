package addrspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmkern/defs"
	"vmkern/pagetable"
)

type fakeFrames struct{ removed []int }

func (f *fakeFrames) RemovePhysicalToVirtualMapping(pp int) {
	f.removed = append(f.removed, pp)
}

type fakeSwap struct{ released []int }

func (f *fakeSwap) ReleasePageSwap(sector int) defs.Err_t {
	f.released = append(f.released, sector)
	return 0
}

func TestCreateAssignsDistinctHandles(t *testing.T) {
	r := NewRegistry()
	a := r.Create(4, nil)
	b := r.Create(4, nil)

	require.NotEqual(t, a.Handle, b.Handle)
	require.NotEqual(t, a.Tag, b.Tag)
	require.Same(t, a.Table, r.Table(a.Handle))
	require.Same(t, b.Table, r.Table(b.Handle))
}

func TestTablePanicsOnUnknownHandle(t *testing.T) {
	r := NewRegistry()
	require.Panics(t, func() { r.Table(999) })
}

func TestRemoveDropsHandle(t *testing.T) {
	r := NewRegistry()
	a := r.Create(2, nil)
	r.Remove(a.Handle)
	require.Nil(t, r.Get(a.Handle))
}

func TestDestroyReleasesFramesAndSwapThenUnregisters(t *testing.T) {
	r := NewRegistry()
	a := r.Create(4, nil)

	// vpage 0: resident, frame 7.
	a.Table.Set(0, pagetable.V)
	a.Table.SetPhysicalPage(0, 7)
	// vpage 1: evicted to swap sector 3.
	a.Table.Set(1, pagetable.Swap)
	a.Table.SetAddrDisk(1, 3)
	// vpage 2: a writeback race left addrDisk at -1; nothing to release yet.
	a.Table.Set(2, pagetable.Swap)
	a.Table.SetAddrDisk(2, -1)
	// vpage 3: never faulted in; untouched.

	frames := &fakeFrames{}
	sw := &fakeSwap{}
	r.Destroy(a.Handle, frames, sw)

	require.Equal(t, []int{7}, frames.removed)
	require.Equal(t, []int{3}, sw.released)
	require.Nil(t, r.Get(a.Handle))
}

func TestDestroyPanicsOnUnknownHandle(t *testing.T) {
	r := NewRegistry()
	require.Panics(t, func() { r.Destroy(999, &fakeFrames{}, &fakeSwap{}) })
}
