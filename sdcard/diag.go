package sdcard

import (
	"sync/atomic"

	"github.com/ardnew/softsd/pkg"
)

// DefaultDiagnostics collects poll counts for every card that is not
// configured with its own Diagnostics.
var DefaultDiagnostics = NewDiagnostics()

// Diagnostics records, per phase, the largest number of poll iterations
// observed before a wait succeeded. The values are for tuning Bounds and
// play no part in protocol decisions.
type Diagnostics struct {
	max [pkg.NumPhases]atomic.Int64
}

// NewDiagnostics returns zeroed counters.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// Observe raises the counter of phase p to n if n is larger.
func (d *Diagnostics) Observe(p pkg.Phase, n int) {
	if p < 0 || p >= pkg.NumPhases {
		return
	}
	v := int64(n)
	for {
		cur := d.max[p].Load()
		if v <= cur || d.max[p].CompareAndSwap(cur, v) {
			return
		}
	}
}

// Reset zeroes every counter.
func (d *Diagnostics) Reset() {
	for i := range d.max {
		d.max[i].Store(0)
	}
}

// Snapshot returns a copy of the counters.
func (d *Diagnostics) Snapshot() Snapshot {
	var s Snapshot
	for i := range d.max {
		s[i] = d.max[i].Load()
	}
	return s
}

// Snapshot is a point-in-time copy of Diagnostics, indexed by phase.
type Snapshot [pkg.NumPhases]int64

// Get returns the counter of phase p.
func (s Snapshot) Get(p pkg.Phase) int64 {
	if p < 0 || p >= pkg.NumPhases {
		return 0
	}
	return s[p]
}

// Map returns the counters keyed by phase name.
func (s Snapshot) Map() map[string]int64 {
	m := make(map[string]int64, len(s))
	for i, v := range s {
		m[pkg.Phase(i).String()] = v
	}
	return m
}
