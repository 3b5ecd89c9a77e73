// Package addrspace is the address-space registry the page-fault manager
// and frame table consult by stable handle (defs.AS_t) rather than by
// pointer, per spec.md 9's cyclic-reference-avoidance design note. It
// plays the role the teacher module's vm.Vm_t plays for a process's page
// table, widened to also hold the executable-image reader a page fault
// reads exec-backed pages from.
package addrspace

import (
	"sync"

	"github.com/google/uuid"

	"vmkern/defs"
	"vmkern/pagetable"
	"vmkern/sched"
)

// FrameReleaser is the frame-table operation address-space teardown uses
// to give back every frame a dying process still holds. Implemented by
// *frame.Table_t; declared here (rather than imported) because frame's
// tests import this package for a Registry implementation, so importing
// frame here would form an import cycle.
type FrameReleaser interface {
	RemovePhysicalToVirtualMapping(pp int)
}

// SwapReleaser is the swap-manager operation address-space teardown uses
// to give back every sector a dying process's evicted pages still own.
// Implemented by *swap.Manager_t.
type SwapReleaser interface {
	ReleasePageSwap(sector int) defs.Err_t
}

// ExecFile is the positional reader backing a process's code/data pages.
// len(dst) is always the page size; offset is the addrDisk value recorded
// for the faulting page at process creation. self is the faulting
// thread, passed through so an implementation backed by simulated disk
// I/O can yield the baton while the read is "in flight", the same way
// the swap manager does.
type ExecFile interface {
	ReadAt(self *sched.Thread_t, dst []byte, offset int64) error
}

// Space_t is one process's address space: its translation table, its
// executable-image reader (nil for a purely anonymous address space),
// and a debug tag used only in diagnostics, never in any lookup.
type Space_t struct {
	Handle defs.AS_t
	Table  *pagetable.Table_t
	Exec   ExecFile
	Tag    uuid.UUID
}

// Registry_t hands out address-space handles and resolves them back to
// their Space_t. It is the frame.Registry implementation the frame table
// uses to reach a victim's translation table during eviction.
type Registry_t struct {
	mu     sync.Mutex
	spaces map[defs.AS_t]*Space_t
	next   defs.AS_t
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry_t {
	return &Registry_t{spaces: make(map[defs.AS_t]*Space_t)}
}

// Create allocates a new address space with an npages translation table
// and registers it under a fresh handle. exec may be nil for an address
// space with no executable-backed pages.
func (r *Registry_t) Create(npages int, exec ExecFile) *Space_t {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	sp := &Space_t{
		Handle: r.next,
		Table:  pagetable.New(npages),
		Exec:   exec,
		Tag:    uuid.New(),
	}
	r.spaces[sp.Handle] = sp
	return sp
}

// Get returns the Space_t registered under as, or nil if none.
func (r *Registry_t) Get(as defs.AS_t) *Space_t {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spaces[as]
}

// Table implements frame.Registry: it returns the translation table of
// the address space registered under as, panicking if as is unknown
// (the frame table only ever asks about an address space that currently
// owns a frame, so an unknown handle is a VM-core bug).
func (r *Registry_t) Table(as defs.AS_t) *pagetable.Table_t {
	sp := r.Get(as)
	if sp == nil {
		panic("addrspace: unknown address space")
	}
	return sp.Table
}

// Remove unregisters as. Existing Space_t values obtained via Get remain
// valid for any caller still holding one.
func (r *Registry_t) Remove(as defs.AS_t) {
	r.mu.Lock()
	delete(r.spaces, as)
	r.mu.Unlock()
}

// Destroy tears down the address space registered under as, per spec.md
// 3's lifecycle and 9's teardown design note: every V=1 page's frame is
// released to the free list (which also clears V, via
// RemovePhysicalToVirtualMapping), and every swap sector a page still
// owns (Swap=1 with addrDisk >= 0) is released; a Swap=1 page whose
// writeback left addrDisk at -1 holds no sector yet and is skipped. The handle is then unregistered. Mirrors the teacher
// module's Vm_t.Uvmfree walk over its region list at process exit.
func (r *Registry_t) Destroy(as defs.AS_t, frames FrameReleaser, sw SwapReleaser) {
	sp := r.Get(as)
	if sp == nil {
		panic("addrspace: destroy of unknown address space")
	}
	tbl := sp.Table
	for vpn := 0; vpn < tbl.Len(); vpn++ {
		if tbl.Get(vpn, pagetable.V) {
			frames.RemovePhysicalToVirtualMapping(tbl.PhysicalPage(vpn))
		}
		if tbl.Get(vpn, pagetable.Swap) {
			if sector := tbl.AddrDisk(vpn); sector >= 0 {
				sw.ReleasePageSwap(sector)
			}
		}
	}
	r.Remove(as)
}
