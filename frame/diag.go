package frame

import (
	"fmt"
	"time"

	"github.com/google/pprof/profile"

	"vmkern/util"
)

// dumpDiagnostic builds a pprof profile snapshotting every occupied
// frame's owner, virtual page and content fingerprint at the moment the
// clock algorithm fails to find a victim, per spec.md 4.C / 4.H. The
// profile is kept in memory only, returned by LastOOMProfile, so a
// developer investigating an EOutOfFrames failure can see exactly what the
// frame table looked like; nothing is encoded or written out here.
//
// Must be called with t.mu held.
func (t *Table_t) dumpDiagnostic() {
	t.lastOOM = t.buildDiagnosticProfile()
}

func (t *Table_t) buildDiagnosticProfile() *profile.Profile {
	frameVal := &profile.ValueType{Type: "frame", Unit: "count"}
	p := &profile.Profile{
		SampleType: []*profile.ValueType{frameVal},
		TimeNanos:  1,
	}

	locs := make(map[string]*profile.Location)
	locID := uint64(1)
	funcID := uint64(1)

	locFor := func(name string) *profile.Location {
		if l, ok := locs[name]; ok {
			return l
		}
		fn := &profile.Function{ID: funcID, Name: name}
		p.Function = append(p.Function, fn)
		funcID++
		loc := &profile.Location{
			ID:   locID,
			Line: []profile.Line{{Function: fn}},
		}
		locID++
		locs[name] = loc
		p.Location = append(p.Location, loc)
		return loc
	}

	for pp := range t.frames {
		f := &t.frames[pp]
		if f.free {
			continue
		}
		fp := util.Fingerprint(t.Bytes(pp))
		name := fmt.Sprintf("frame=%d owner=%v vpage=%d locked=%t fp=%016x",
			pp, f.owner, f.vpage, f.locked, fp)
		loc := locFor(name)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{1},
		})
	}

	p.DurationNanos = int64(time.Second)
	return p
}
