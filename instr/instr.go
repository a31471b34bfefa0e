// Package instr defines the instruction objects scheduled onto the three
// accelerator queues (XInstQ, CInstQ, MInstQ). It replaces the teacher's
// generic, behavior-closure Inst with a tagged-variant family, grounded on
// the original assembler's instructions/xinst, instructions/cinst and
// instructions/minst packages.
package instr

import (
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/heracles-asm/cycle"
	"github.com/sarchlab/heracles-asm/variable"
)

// Queue identifies which of the three accelerator queues an instruction
// belongs to.
type Queue int

const (
	XInstQ Queue = iota
	CInstQ
	MInstQ
)

func (q Queue) String() string {
	switch q {
	case XInstQ:
		return "xinst"
	case CInstQ:
		return "cinst"
	case MInstQ:
		return "minst"
	default:
		return "unknown"
	}
}

// ID uniquely identifies an instruction: a client-assigned id paired with a
// monotonic nonce. The nonce comes from a single package-level counter
// shared by every scheduler in the process; it is not owned per scheduler.
type ID struct {
	Client int
	Nonce  uint64
}

var nonceCounter uint64

// NextNonce returns a fresh, monotonically increasing nonce. Safe for
// concurrent use, though the scheduler itself is single-threaded.
func NextNonce() uint64 { return atomic.AddUint64(&nonceCounter, 1) }

// Format names a textual rendering target for a frozen instruction.
type Format int

const (
	PISA Format = iota
	XASMISA
	CASMISA
	MASMISA
)

// ScheduleTiming is the (cycle, index) pair assigned to an instruction once
// the co-scheduler places it.
type ScheduleTiming struct {
	Cycle cycle.Cycle
	Index int
}

// State is the per-instruction lifecycle position (spec.md §4.4.9).
type State int

const (
	Queued State = iota
	Prepared
	Scheduled
	Frozen
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Prepared:
		return "prepared"
	case Scheduled:
		return "scheduled"
	case Frozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// Header is the metadata shared by every XInst/CInst/MInst variant.
type Header struct {
	ID         ID
	Op         string
	Queue      Queue
	Throughput int
	Latency    int
	Sources    []*variable.Variable
	Dests      []*variable.Variable
	Comment    string

	Timing *ScheduleTiming
	State  State
	Frozen map[Format]string

	// deferredUntil overrides CycleReady's floor when the co-scheduler
	// bumps an instruction past a transient constraint (write-port
	// conflict, seed-in-use, no free register/SPAD slot) without
	// mutating the underlying variables (spec.md §4.4.10).
	deferredUntil *cycle.Cycle
}

// Instruction is implemented by XInst, CInst and MInst.
type Instruction interface {
	Header() *Header
	fmt.Stringer
}

// NewHeader builds a Header with the given identity, op name and queue. The
// caller sets Throughput/Latency from the loaded ISA spec.
func NewHeader(client int, op string, q Queue) Header {
	return Header{
		ID:     ID{Client: client, Nonce: NextNonce()},
		Op:     op,
		Queue:  q,
		Frozen: make(map[Format]string),
	}
}

// Schedule records the timing assigned by the co-scheduler/P-ISA scheduler
// and advances the instruction's state to Scheduled.
func (h *Header) Schedule(c cycle.Cycle, index int) {
	h.Timing = &ScheduleTiming{Cycle: c, Index: index}
	h.State = Scheduled
}

// Freeze stores the textual rendering of this instruction for format f and
// advances state to Frozen.
func (h *Header) Freeze(f Format, text string) {
	h.Frozen[f] = text
	h.State = Frozen
}

// CycleReady returns the maximum ready-cycle across every source and
// destination variable: the readiness floor for scheduling this
// instruction (spec.md §8, testable property 1).
func (h *Header) CycleReady() cycle.Cycle {
	ready := cycle.Zero
	for _, v := range h.Sources {
		ready = cycle.Max(ready, v.CycleReady())
	}
	for _, v := range h.Dests {
		ready = cycle.Max(ready, v.CycleReady())
	}
	if h.deferredUntil != nil {
		ready = cycle.Max(ready, *h.deferredUntil)
	}
	return ready
}

// SetDeferredReady bumps this instruction's effective CycleReady floor
// without touching its operand variables, used by the co-scheduler to
// defer an instruction past a transient bundle constraint.
func (h *Header) SetDeferredReady(c cycle.Cycle) { h.deferredUntil = &c }

// ClearDeferredReady removes any deferral, restoring the operand-derived
// floor as CycleReady's sole source.
func (h *Header) ClearDeferredReady() { h.deferredUntil = nil }

func (h *Header) String() string {
	return fmt.Sprintf("%s[id=%v]", h.Op, h.ID)
}
