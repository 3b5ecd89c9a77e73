// Package swap implements the swap manager from spec.md 4.B: a pool of
// fixed-size sectors on a backing store, addressed by integer index, each
// either free or holding the contents of exactly one virtual page.
//
// Sectors are stored s2-compressed with a blake2b-256 checksum of the
// plaintext page recorded alongside them, so that a corrupted or
// truncated sector is caught as a BadSector fault on read rather than
// silently returning garbage to the page-fault manager.
package swap

import (
	"sync"

	"github.com/klauspost/compress/s2"
	"golang.org/x/crypto/blake2b"

	"vmkern/defs"
	"vmkern/sched"
)

type sectorRec struct {
	allocated bool
	packed    []byte
	sum       [32]byte
}

// Manager_t is the swap sector pool. It is safe for concurrent use, though
// under the cooperative scheduling model spec.md assumes, only one guest
// thread is ever inside a Manager_t method at a time.
type Manager_t struct {
	mu       sync.Mutex
	pageSize int
	sectors  []sectorRec
	freeHint int
}

// New returns a pool of numSectors sectors, each holding pageSize bytes
// once occupied.
func New(numSectors, pageSize int) *Manager_t {
	return &Manager_t{
		pageSize: pageSize,
		sectors:  make([]sectorRec, numSectors),
	}
}

// simulateIO models the "blocking I/O, bounded simulated time, other
// threads run" behavior spec.md 4.B requires of both transfers: the
// calling thread yields the baton once. Callers outside the cooperative
// scheduler (unit tests exercising the pool directly) may pass a nil
// thread, in which case the transfer is simply synchronous.
func simulateIO(t *sched.Thread_t) {
	if t != nil {
		t.Yield()
	}
}

func (m *Manager_t) allocLocked() (int, bool) {
	n := len(m.sectors)
	for i := 0; i < n; i++ {
		idx := (m.freeHint + i) % n
		if !m.sectors[idx].allocated {
			m.freeHint = (idx + 1) % n
			return idx, true
		}
	}
	return 0, false
}

// PutPageSwap writes the page-sized buf to sector. If sector is -1, a free
// sector is allocated and its index returned; otherwise sector must
// already be allocated, and its contents are overwritten in place.
// Fails with ESwapFull if sector is -1 and no free sector exists, or with
// EBadSector if an explicit sector is not allocated.
func (m *Manager_t) PutPageSwap(t *sched.Thread_t, sector int, buf []byte) (int, defs.Err_t) {
	if len(buf) != m.pageSize {
		panic("swap: wrong page size")
	}
	packed := s2.Encode(nil, buf)
	sum := blake2b.Sum256(buf)

	m.mu.Lock()
	if sector == -1 {
		idx, ok := m.allocLocked()
		if !ok {
			m.mu.Unlock()
			return 0, defs.ESwapFull
		}
		sector = idx
	} else if !m.sectors[sector].allocated {
		m.mu.Unlock()
		return 0, defs.EBadSector
	}
	m.sectors[sector] = sectorRec{allocated: true, packed: packed, sum: sum}
	m.mu.Unlock()

	simulateIO(t)
	return sector, 0
}

// GetPageSwap reads the page stored at sector into buf, which must be
// exactly pageSize bytes long. Fails with EBadSector if sector is
// unallocated or its stored checksum does not match its contents.
func (m *Manager_t) GetPageSwap(t *sched.Thread_t, sector int, buf []byte) defs.Err_t {
	if len(buf) != m.pageSize {
		panic("swap: wrong page size")
	}
	m.mu.Lock()
	if sector < 0 || sector >= len(m.sectors) || !m.sectors[sector].allocated {
		m.mu.Unlock()
		return defs.EBadSector
	}
	rec := m.sectors[sector]
	m.mu.Unlock()

	simulateIO(t)

	plain, err := s2.Decode(buf[:0:len(buf)], rec.packed)
	if err != nil || len(plain) != m.pageSize {
		return defs.EBadSector
	}
	if blake2b.Sum256(plain) != rec.sum {
		return defs.EBadSector
	}
	copy(buf, plain)
	return 0
}

// ReleasePageSwap marks sector free. Calling it on an already-free sector
// is an error (EBadSector), not idempotent, per spec.md 4.B.
func (m *Manager_t) ReleasePageSwap(sector int) defs.Err_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sector < 0 || sector >= len(m.sectors) || !m.sectors[sector].allocated {
		return defs.EBadSector
	}
	m.sectors[sector] = sectorRec{}
	return 0
}
