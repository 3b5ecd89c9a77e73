// Package frame implements the physical frame table from spec.md 4.C: the
// inverse map from physical frame to the single virtual page currently
// occupying it, a free-frame pool, and the clock (second-chance) algorithm
// that chooses a victim when the pool is empty.
//
// Table_t owns the backing memory for every frame; callers read and write
// page contents through Bytes, never through a separate physical-memory
// object, mirroring the teacher module's Physmem_t/Dmap pairing of frame
// bookkeeping with direct byte access (mem/mem.go, mem/dmap.go).
package frame

import (
	"sync"

	"github.com/google/pprof/profile"

	"vmkern/defs"
	"vmkern/pagetable"
	"vmkern/sched"
	"vmkern/swap"
)

// Registry resolves an address-space handle to its translation table. The
// frame table never creates or owns address spaces; it only ever asks the
// registry for the table of whichever address space currently owns a
// frame, so it can inspect or clear that page's U/M bits during eviction.
type Registry interface {
	Table(as defs.AS_t) *pagetable.Table_t
}

// Accounting receives the one statistic ChangeOwner updates on behalf of
// callers that never touch the translation table themselves.
type Accounting interface {
	IncrMemoryAccess(as defs.AS_t)
}

type desc struct {
	free   bool
	locked bool
	owner  defs.AS_t
	vpage  int
}

// Table_t is the physical frame table plus the memory it describes.
type Table_t struct {
	mu       sync.Mutex
	mem      []byte
	pageSize int
	frames   []desc
	freeList []int
	clock    int // index of the last frame the clock hand selected as a victim, or -1

	reg  Registry
	sw   *swap.Manager_t
	acct Accounting

	lastOOM *profile.Profile
}

// New returns a frame table of numFrames frames of pageSize bytes each,
// all initially free. reg is consulted during eviction to reach the
// translation table of whichever address space owns the frame the clock
// hand is examining; sw is where dirty victims are written back.
func New(numFrames, pageSize int, reg Registry, sw *swap.Manager_t, acct Accounting) *Table_t {
	t := &Table_t{
		mem:      make([]byte, numFrames*pageSize),
		pageSize: pageSize,
		frames:   make([]desc, numFrames),
		clock:    -1,
		reg:      reg,
		sw:       sw,
		acct:     acct,
	}
	// Pushed highest index first, so the free list's LIFO pop order hands
	// out frame 0, then 1, then 2, ... — matching the clock hand's own
	// left-to-right sweep order, so the first frames filled are also the
	// first the clock considers once the pool runs dry.
	for i := len(t.frames) - 1; i >= 0; i-- {
		t.frames[i].free = true
		t.freeList = append(t.freeList, i)
	}
	return t
}

// NumFrames returns the number of frames in the table.
func (t *Table_t) NumFrames() int {
	return len(t.frames)
}

// NumFree returns the number of frames currently on the free list.
func (t *Table_t) NumFree() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.freeList)
}

// Bytes returns the byte slice backing frame pp. Callers must hold the
// frame locked (it has just been returned by AddPhysicalToVirtualMapping
// and not yet unlocked) before reading or writing it.
func (t *Table_t) Bytes(pp int) []byte {
	return t.mem[pp*t.pageSize : (pp+1)*t.pageSize]
}

// AddPhysicalToVirtualMapping assigns a frame to (owner, vpage), evicting
// a victim via the clock algorithm if no frame is free. The frame is
// returned locked: the caller must UnlockPage it once the page's contents
// have been staged and its translation-table entry published, per spec.md
// 4.D step 5. Fails with EOutOfFrames if eviction finds no unlocked
// victim, or if writing a dirty victim back to swap fails.
func (t *Table_t) AddPhysicalToVirtualMapping(self *sched.Thread_t, owner defs.AS_t, vpage int) (int, defs.Err_t) {
	t.mu.Lock()
	if n := len(t.freeList); n > 0 {
		pp := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.frames[pp] = desc{locked: true, owner: owner, vpage: vpage}
		t.mu.Unlock()
		return pp, 0
	}
	victim, err := t.selectVictimLocked()
	t.mu.Unlock()
	if err != 0 {
		return -1, err
	}

	if err := t.writeBackIfDirty(self, victim); err != 0 {
		t.mu.Lock()
		t.frames[victim].locked = false
		t.mu.Unlock()
		return -1, err
	}

	t.mu.Lock()
	t.frames[victim] = desc{locked: true, owner: owner, vpage: vpage}
	t.mu.Unlock()
	return victim, 0
}

// selectVictimLocked runs the clock hand forward, clearing U bits as it
// goes, until it finds a frame that is neither free nor locked and whose
// U bit is already clear. It returns that frame locked (so nothing else
// can claim it) before releasing t.mu. The first pass may clear every U
// bit, so a second pass finds a victim whenever any frame is unlocked;
// only when two full passes find none (every frame locked) does it
// capture the diagnostic snapshot and fail with EOutOfFrames. Must be
// called with t.mu held; it does not itself release t.mu.
func (t *Table_t) selectVictimLocked() (int, defs.Err_t) {
	n := len(t.frames)
	i := (t.clock + 1) % n
	for step := 0; step < 2*n; step++ {
		f := &t.frames[i]
		if !f.free && !f.locked {
			tbl := t.reg.Table(f.owner)
			if !tbl.Get(f.vpage, pagetable.U) {
				t.clock = i
				f.locked = true
				return i, 0
			}
			tbl.Clear(f.vpage, pagetable.U)
		}
		i = (i + 1) % n
	}
	t.dumpDiagnostic()
	return -1, defs.EOutOfFrames
}

// writeBackIfDirty evicts the page currently bound to the locked frame
// victim: if dirty, it is compressed and written to swap and the
// translation table is pointed at the new sector; either way the frame's
// old owner is unbound from it. Must be called with victim locked and
// t.mu NOT held, since the swap write may yield the baton.
func (t *Table_t) writeBackIfDirty(self *sched.Thread_t, victim int) defs.Err_t {
	t.mu.Lock()
	owner, vpage := t.frames[victim].owner, t.frames[victim].vpage
	t.mu.Unlock()

	tbl := t.reg.Table(owner)
	if tbl.Get(vpage, pagetable.M) {
		// V and Swap are never both set on a page being evicted, so
		// whatever AddrDisk currently holds (an exec-file offset, or
		// -1 for an anonymous page) is not a swap sector: every dirty
		// eviction allocates a fresh one, per spec.md 4.C.
		tbl.Set(vpage, pagetable.Swap)
		tbl.SetAddrDisk(vpage, -1)
		sector, err := t.sw.PutPageSwap(self, -1, t.Bytes(victim))
		if err != 0 {
			return defs.EOutOfFrames
		}
		tbl.SetAddrDisk(vpage, sector)
	}
	tbl.SetPhysicalPage(vpage, -1)
	tbl.Clear(vpage, pagetable.V)
	return 0
}

// UnlockPage clears the lock flag on pp, making it eligible for eviction.
// Callers must have published the page's translation-table entry (V bit
// set, physical page recorded) before calling this. Calling it on a frame
// that is not currently locked is a VM-core bug and panics, per spec.md
// 8's idempotence invariant.
func (t *Table_t) UnlockPage(pp int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.frames[pp].locked {
		panic("frame: UnlockPage on a frame that is not locked")
	}
	t.frames[pp].locked = false
}

// RemovePhysicalToVirtualMapping clears V in pp's prior owner's page and
// returns pp to the head of the free list. Used when an address space is
// torn down and its frames no longer back any page, per spec.md 9's
// teardown design note.
func (t *Table_t) RemovePhysicalToVirtualMapping(pp int) {
	t.mu.Lock()
	owner, vpage := t.frames[pp].owner, t.frames[pp].vpage
	t.frames[pp] = desc{free: true}
	t.freeList = append(t.freeList, pp)
	t.mu.Unlock()

	t.reg.Table(owner).Clear(vpage, pagetable.V)
}

// ChangeOwner rebinds frame pp to newOwner without disturbing its
// contents or lock state, and records one memory access against
// newOwner. This is the only frame-table operation that updates
// statistics on behalf of a caller that does not itself touch the
// translation table.
func (t *Table_t) ChangeOwner(pp int, newOwner defs.AS_t) {
	t.mu.Lock()
	t.frames[pp].owner = newOwner
	t.mu.Unlock()
	if t.acct != nil {
		t.acct.IncrMemoryAccess(newOwner)
	}
}

// LastOOMProfile returns the frame-table snapshot captured the last time
// eviction failed to find a victim, or nil if that has never happened.
func (t *Table_t) LastOOMProfile() *profile.Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastOOM
}

// Owner reports the address space and virtual page currently bound to pp.
func (t *Table_t) Owner(pp int) (defs.AS_t, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames[pp].owner, t.frames[pp].vpage
}
