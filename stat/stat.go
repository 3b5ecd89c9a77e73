// Package stat accumulates the small set of per-address-space usage
// counters the VM core reports. It plays the role the teacher module's
// accnt.Accnt_t and stats.Counter_t packages play for CPU time and kernel
// event counts, narrowed to the one counter spec.md 4.C actually
// specifies: memory accesses recorded on ChangeOwner.
package stat

import (
	"sync"

	"vmkern/defs"
)

// Tracker_t accumulates memory-access counts per address space.
type Tracker_t struct {
	mu     sync.Mutex
	access map[defs.AS_t]int64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker_t {
	return &Tracker_t{access: make(map[defs.AS_t]int64)}
}

// IncrMemoryAccess records one memory access against as.
func (tr *Tracker_t) IncrMemoryAccess(as defs.AS_t) {
	tr.mu.Lock()
	tr.access[as]++
	tr.mu.Unlock()
}

// MemoryAccesses returns the number of memory accesses recorded for as.
func (tr *Tracker_t) MemoryAccesses(as defs.AS_t) int64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.access[as]
}
