package frame

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmkern/addrspace"
	"vmkern/defs"
	"vmkern/pagetable"
	"vmkern/sched"
	"vmkern/swap"
)

func setup(t *testing.T, numFrames, pageSize int) (*Table_t, *addrspace.Registry_t, *swap.Manager_t) {
	t.Helper()
	reg := addrspace.NewRegistry()
	sw := swap.New(8, pageSize)
	tr := New(numFrames, pageSize, reg, sw, nil)
	return tr, reg, sw
}

// run drives fn to completion as the sole thread on a fresh scheduler,
// giving tests a *sched.Thread_t to pass into frame-table calls that may
// yield.
func run(t *testing.T, fn func(self *sched.Thread_t)) {
	t.Helper()
	s := sched.New()
	s.Spawn(fn)
	s.Run()
}

func TestAddPhysicalToVirtualMappingUsesFreeListFirst(t *testing.T) {
	tr, reg, _ := setup(t, 2, 128)
	sp := reg.Create(4, nil)

	run(t, func(self *sched.Thread_t) {
		pp, err := tr.AddPhysicalToVirtualMapping(self, sp.Handle, 0)
		require.Equal(t, defs.Err_t(0), err)
		require.GreaterOrEqual(t, pp, 0)
		owner, vpage := tr.Owner(pp)
		require.Equal(t, sp.Handle, owner)
		require.Equal(t, 0, vpage)
	})
}

func TestEvictionPrefersLowerClockIndexWithUClear(t *testing.T) {
	// Mirrors spec.md 8 scenario 3: NumPhysPages=2, two zero-fill pages
	// loaded (vpage 0 and 1 of the same process), M(0) set, then a third
	// fault must evict vpage 0.
	tr, reg, sw := setup(t, 2, 64)
	sp := reg.Create(4, nil)

	run(t, func(self *sched.Thread_t) {
		pp0, err := tr.AddPhysicalToVirtualMapping(self, sp.Handle, 0)
		require.Equal(t, defs.Err_t(0), err)
		sp.Table.Set(0, pagetable.V)
		sp.Table.SetPhysicalPage(0, pp0)
		tr.UnlockPage(pp0)

		pp1, err := tr.AddPhysicalToVirtualMapping(self, sp.Handle, 1)
		require.Equal(t, defs.Err_t(0), err)
		sp.Table.Set(1, pagetable.V)
		sp.Table.SetPhysicalPage(1, pp1)
		tr.UnlockPage(pp1)

		// MMU marks vpage 0 dirty.
		sp.Table.Set(0, pagetable.M)
		copy(tr.Bytes(pp0), []byte("dirty-contents-of-vpage-0"))

		pp2, err := tr.AddPhysicalToVirtualMapping(self, sp.Handle, 2)
		require.Equal(t, defs.Err_t(0), err)

		// vpage 0 must have been evicted to swap.
		require.True(t, sp.Table.Get(0, pagetable.Swap))
		require.False(t, sp.Table.Get(0, pagetable.V))
		sector := sp.Table.AddrDisk(0)
		require.GreaterOrEqual(t, sector, 0)

		out := make([]byte, 64)
		require.Equal(t, defs.Err_t(0), sw.GetPageSwap(self, sector, out))
		require.Equal(t, "dirty-contents-of-vpage-0", string(out[:len("dirty-contents-of-vpage-0")]))

		// vpage 1 is untouched: still valid.
		require.True(t, sp.Table.Get(1, pagetable.V))

		// The evicted frame (pp0, recycled) now belongs to vpage 2.
		owner, vpage := tr.Owner(pp2)
		require.Equal(t, sp.Handle, owner)
		require.Equal(t, 2, vpage)
		require.Equal(t, pp0, pp2)
	})
}

// TestEvictionOfDirtyExecBackedPageAllocatesFreshSector covers the path
// TestEvictionPrefersLowerClockIndexWithUClear does not: the victim's
// AddrDisk holds an exec-file offset, not -1, when it is dirtied and
// evicted. Eviction must still request a newly allocated swap sector
// (spec.md 4.C) rather than mistake that offset for one.
func TestEvictionOfDirtyExecBackedPageAllocatesFreshSector(t *testing.T) {
	tr, reg, sw := setup(t, 1, 64)
	sp := reg.Create(4, nil)

	run(t, func(self *sched.Thread_t) {
		pp0, err := tr.AddPhysicalToVirtualMapping(self, sp.Handle, 0)
		require.Equal(t, defs.Err_t(0), err)
		// vpage 0 is backed by the executable image at a large file
		// offset, one that would be wildly out of range as a swap
		// sector index.
		sp.Table.InstallExec(0, 4096)
		sp.Table.Set(0, pagetable.V)
		sp.Table.SetPhysicalPage(0, pp0)
		tr.UnlockPage(pp0)

		// MMU marks vpage 0 dirty (a writable exec-backed page).
		sp.Table.Set(0, pagetable.M)
		copy(tr.Bytes(pp0), []byte("dirtied-exec-backed-page"))

		// Only one frame exists, so this fault must evict vpage 0.
		pp1, err := tr.AddPhysicalToVirtualMapping(self, sp.Handle, 1)
		require.Equal(t, defs.Err_t(0), err)
		require.Equal(t, pp0, pp1)

		require.True(t, sp.Table.Get(0, pagetable.Swap))
		require.False(t, sp.Table.Get(0, pagetable.V))
		sector := sp.Table.AddrDisk(0)
		require.GreaterOrEqual(t, sector, 0)
		require.Less(t, sector, 8) // sw has 8 sectors; 4096 would not fit

		out := make([]byte, 64)
		require.Equal(t, defs.Err_t(0), sw.GetPageSwap(self, sector, out))
		require.Equal(t, "dirtied-exec-backed-page", string(out[:len("dirtied-exec-backed-page")]))
	})
}

func TestOutOfFramesWhenEveryFrameLocked(t *testing.T) {
	tr, reg, _ := setup(t, 1, 32)
	sp := reg.Create(4, nil)

	run(t, func(self *sched.Thread_t) {
		_, err := tr.AddPhysicalToVirtualMapping(self, sp.Handle, 0)
		require.Equal(t, defs.Err_t(0), err)
		// Frame 0 is still locked (never UnlockPage'd): no candidate.
		_, err = tr.AddPhysicalToVirtualMapping(self, sp.Handle, 1)
		require.Equal(t, defs.EOutOfFrames, err)
		require.NotNil(t, tr.LastOOMProfile())
	})
}

func TestUnlockPageOnUnlockedFramePanics(t *testing.T) {
	tr, reg, _ := setup(t, 1, 32)
	sp := reg.Create(4, nil)

	run(t, func(self *sched.Thread_t) {
		pp, err := tr.AddPhysicalToVirtualMapping(self, sp.Handle, 0)
		require.Equal(t, defs.Err_t(0), err)
		tr.UnlockPage(pp)
		require.Panics(t, func() { tr.UnlockPage(pp) })
	})
}

func TestChangeOwnerRebindsAndCountsAccess(t *testing.T) {
	tr, reg, _ := setup(t, 1, 32)
	sp1 := reg.Create(2, nil)
	sp2 := reg.Create(2, nil)

	var accessed []defs.AS_t
	acctTr := acctFunc(func(as defs.AS_t) { accessed = append(accessed, as) })
	tr.acct = acctTr

	run(t, func(self *sched.Thread_t) {
		pp, err := tr.AddPhysicalToVirtualMapping(self, sp1.Handle, 0)
		require.Equal(t, defs.Err_t(0), err)
		tr.ChangeOwner(pp, sp2.Handle)
		owner, _ := tr.Owner(pp)
		require.Equal(t, sp2.Handle, owner)
	})
	require.Equal(t, []defs.AS_t{sp2.Handle}, accessed)
}

type acctFunc func(defs.AS_t)

func (f acctFunc) IncrMemoryAccess(as defs.AS_t) { f(as) }
