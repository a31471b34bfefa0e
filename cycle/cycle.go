// Package cycle defines the scheduler's notion of time: a lexicographic
// (bundle, cycle) pair shared by instructions, variables and registers.
package cycle

import "fmt"

// Cycle is a point in scheduling time. Bundle increases only when the
// co-scheduler explicitly flushes a bundle; Cycle is the relative clock
// cycle within that bundle.
type Cycle struct {
	Bundle int
	Cycle  int
}

// Zero is the cycle at the very start of scheduling.
var Zero = Cycle{Bundle: 0, Cycle: 0}

// New builds a Cycle from a bundle index and a relative cycle.
func New(bundle, c int) Cycle {
	return Cycle{Bundle: bundle, Cycle: c}
}

// Compare returns -1, 0 or 1 if c is before, equal to or after other,
// comparing Bundle first and Cycle second.
func (c Cycle) Compare(other Cycle) int {
	if c.Bundle != other.Bundle {
		if c.Bundle < other.Bundle {
			return -1
		}
		return 1
	}
	switch {
	case c.Cycle < other.Cycle:
		return -1
	case c.Cycle > other.Cycle:
		return 1
	default:
		return 0
	}
}

// Less reports whether c strictly precedes other.
func (c Cycle) Less(other Cycle) bool { return c.Compare(other) < 0 }

// LessOrEqual reports whether c precedes or equals other.
func (c Cycle) LessOrEqual(other Cycle) bool { return c.Compare(other) <= 0 }

// Equal reports whether c and other denote the same point in time.
func (c Cycle) Equal(other Cycle) bool { return c.Compare(other) == 0 }

// Add advances the relative cycle by k, leaving Bundle untouched. Bundle
// rollover only happens through an explicit bundle flush.
func (c Cycle) Add(k int) Cycle {
	return Cycle{Bundle: c.Bundle, Cycle: c.Cycle + k}
}

// NextBundle returns the first cycle of the following bundle.
func (c Cycle) NextBundle() Cycle {
	return Cycle{Bundle: c.Bundle + 1, Cycle: 0}
}

func (c Cycle) String() string {
	return fmt.Sprintf("(bundle=%d, cycle=%d)", c.Bundle, c.Cycle)
}

// Max returns the later of a and b.
func Max(a, b Cycle) Cycle {
	if a.Less(b) {
		return b
	}
	return a
}

// Tracker is embedded by anything that carries a "ready" cycle: the point
// in scheduling time at which the value it decorates becomes usable.
// Grounded on the original CycleTracker base class shared by Variable and
// Register.
type Tracker struct {
	cycleReady Cycle
}

// NewTracker builds a Tracker ready at the given cycle.
func NewTracker(ready Cycle) Tracker {
	return Tracker{cycleReady: ready}
}

// CycleReady returns the cycle at which the tracked value becomes ready.
func (t *Tracker) CycleReady() Cycle { return t.cycleReady }

// SetCycleReady updates the ready cycle.
func (t *Tracker) SetCycleReady(c Cycle) { t.cycleReady = c }

// Advance pushes the ready cycle forward by a latency if that results in a
// later cycle than the one currently recorded; it never moves readiness
// backwards.
func (t *Tracker) Advance(from Cycle, latency int) {
	candidate := from.Add(latency)
	if candidate.Compare(t.cycleReady) > 0 {
		t.cycleReady = candidate
	}
}
