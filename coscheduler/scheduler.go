// Package coscheduler implements the three-queue ASM-ISA co-scheduler: the
// hard core that turns a P-ISA dependency graph into cycle-consistent
// XInstQ/CInstQ/MInstQ streams, honoring the register-bank protocol,
// per-bundle constraints, eviction/flush and metadata-reload rules, and
// performing the two-pass csyncm/msyncc finalization. Grounded throughout
// on stages/scheduler.py's bundle-construction loop.
package coscheduler

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/cycle"
	"github.com/sarchlab/heracles-asm/depgraph"
	"github.com/sarchlab/heracles-asm/instr"
	"github.com/sarchlab/heracles-asm/isaspec"
	"github.com/sarchlab/heracles-asm/memmodel"
	"github.com/sarchlab/heracles-asm/schedconfig"
	"github.com/sarchlab/heracles-asm/variable"
)

// windowSize bounds the topological lookahead window (spec.md §4.4.1: "at
// most ~100 upcoming instructions").
const windowSize = 100

// bundleState holds everything reset at each flush (spec.md §4.4.6).
type bundleState struct {
	xCount int

	// writePortCycle[bank] is the set of relative cycles within the bundle
	// already claimed by a completing write into that bank.
	writePortCycle map[int]map[int]bool

	shuffleKind      string // "" | "rshuffle" | "irshuffle"
	shuffleCount     int
	lastShuffleCycle cycle.Cycle

	residualSet     bool
	residualSegment int

	routingTable string // currently-loaded NTT/iNTT routing table instance name

	postBundleCStores []*instr.CInst
	lastXStoreCycle   cycle.Cycle
	hasXStore         bool

	seedConsumed    bool
	consumedSeedIdx int
}

func newBundleState() *bundleState {
	return &bundleState{writePortCycle: make(map[int]map[int]bool), consumedSeedIdx: -1}
}

// Scheduler is the co-scheduler's mutable run state. One Scheduler
// schedules exactly one kernel; construct a fresh one per run.
type Scheduler struct {
	cfg   schedconfig.Config
	spec  *isaspec.Spec
	model *memmodel.Model
	graph *depgraph.Graph

	clientID int

	window    []instr.ID
	allNodes  []instr.ID
	nodeIdx   int
	indegree  map[instr.ID]int
	enqueued  map[instr.ID]bool
	ready     *readyQueue
	deferred  []instr.ID // instructions bumped past the window, re-tried next loop

	pendingXStore []string // variable names awaiting an xstore slot

	currentCycle cycle.Cycle
	bundle       *bundleState

	XInstQ []*instr.XInst
	CInstQ []*instr.CInst
	MInstQ []*instr.MInst

	csyncmRef map[*instr.CInst]*instr.MInst
	msynccRef map[*instr.MInst]*instr.CInst

	lastKeyIndex     map[int]int // seed index -> last generated key index, -1 if none
	currentSeed      int
	haveSeed         bool
	generatedKeygen  map[string]bool

	// outputs maps a mem-info output variable's name to its declared HBM
	// address, consulted when an output's last use completes so it can be
	// flushed to HBM before the program ends (spec.md §4.4.5).
	outputs map[string]int

	scheduledCount int
}

// NewScheduler builds a Scheduler over a declared memory model and ISA
// timing spec. outputs maps mem-info output variable names to their
// declared HBM address (meminfo.Info.Outputs).
func NewScheduler(cfg schedconfig.Config, spec *isaspec.Spec, model *memmodel.Model, clientID int, outputs map[string]int) *Scheduler {
	if outputs == nil {
		outputs = make(map[string]int)
	}
	return &Scheduler{
		cfg:             cfg,
		spec:            spec,
		model:           model,
		clientID:        clientID,
		indegree:        make(map[instr.ID]int),
		enqueued:        make(map[instr.ID]bool),
		ready:           newReadyQueue(),
		currentCycle:    cycle.New(0, 1),
		bundle:          newBundleState(),
		csyncmRef:       make(map[*instr.CInst]*instr.MInst),
		msynccRef:       make(map[*instr.MInst]*instr.CInst),
		lastKeyIndex:    make(map[int]int),
		generatedKeygen: make(map[string]bool),
		outputs:         outputs,
	}
}

// Schedule runs the full bundle-construction loop over g and returns the
// three finalized instruction streams.
func (s *Scheduler) Schedule(g *depgraph.Graph) ([]*instr.XInst, []*instr.CInst, []*instr.MInst, error) {
	s.graph = g
	s.allNodes = g.Nodes()
	for _, id := range s.allNodes {
		s.indegree[id] = len(g.Predecessors(id))
	}
	s.refillWindow()
	for _, id := range s.window {
		if s.indegree[id] == 0 {
			s.enqueue(id)
		}
	}

	total := len(s.allNodes)
	for s.scheduledCount < total {
		if s.ready.Len() == 0 {
			s.refillWindow()
			if s.ready.Len() == 0 {
				return nil, nil, nil, errors.New("coscheduler: ready queue starved before every instruction was scheduled")
			}
		}

		x, immediate := s.chooseNext()

		ok, deferBundle, err := s.prepareInstruction(x)
		if err != nil {
			return nil, nil, nil, err
		}
		if !ok {
			if deferBundle {
				if err := s.deferToNextBundle(x); err != nil {
					return nil, nil, nil, err
				}
			} else {
				// Deferred: bump readiness by one cycle and re-insert.
				x.Header().SetDeferredReady(s.currentCycle.Add(1))
				s.ready.pushItem(x)
			}
			continue
		}

		if !immediate {
			ready := x.Header().CycleReady()
			if ready.Compare(s.currentCycle) > 0 {
				s.emitGapFiller(ready)
			}
		}

		if blocked, bumpTo := s.violatesBundleConstraints(x); blocked {
			if bumpTo.Bundle > s.currentCycle.Bundle {
				if err := s.deferToNextBundle(x); err != nil {
					return nil, nil, nil, err
				}
			} else {
				x.Header().SetDeferredReady(bumpTo)
				s.ready.pushItem(x)
			}
			continue
		}

		s.commitSchedule(x)
		s.scheduledCount++
		for i, w := range s.window {
			if w == x.Header().ID {
				s.window = append(s.window[:i], s.window[i+1:]...)
				break
			}
		}

		for _, dep := range g.Successors(x.Header().ID) {
			s.indegree[dep]--
			if s.indegree[dep] == 0 && s.inWindow(dep) {
				s.enqueue(dep)
			}
		}

		if x.IsBundleTerminator() || s.bundle.xCount >= s.cfg.MaxBundle-1 {
			if err := s.flushBundle(); err != nil {
				return nil, nil, nil, err
			}
		}
	}

	if s.bundle.xCount > 0 {
		if err := s.flushBundle(); err != nil {
			return nil, nil, nil, err
		}
	}

	if err := s.finalize(); err != nil {
		return nil, nil, nil, err
	}

	return s.XInstQ, s.CInstQ, s.MInstQ, nil
}

// refillWindow extends the topological window up to windowSize entries,
// pulling from the remaining node order (spec.md §4.4.2 step 1).
func (s *Scheduler) refillWindow() {
	for len(s.window) < windowSize && s.nodeIdx < len(s.allNodes) {
		id := s.allNodes[s.nodeIdx]
		s.nodeIdx++
		s.window = append(s.window, id)
		if s.indegree[id] == 0 {
			s.enqueue(id)
		}
	}
}

func (s *Scheduler) inWindow(id instr.ID) bool {
	for _, w := range s.window {
		if w == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) enqueue(id instr.ID) {
	if s.enqueued[id] {
		return
	}
	x, ok := s.graph.Instruction(id)
	if !ok {
		return
	}
	s.enqueued[id] = true
	s.ready.pushItem(x)
}

// chooseNext implements spec.md §4.4.2's "immediate-match first, else pop
// the head" selection.
func (s *Scheduler) chooseNext() (x *instr.XInst, immediate bool) {
	if idx, ok := s.ready.FindExactMatch(s.currentCycle); ok {
		return s.ready.RemoveAt(idx), true
	}
	return s.ready.popItem(), false
}

// deferToNextBundle closes the bundle currently under construction (with
// whatever work it already holds) and re-queues x to be retried against a
// fresh bundle, whose per-bundle state starts clean. Used when x cannot join
// the current bundle at all (an opposite-kind shuffle, a routing-table/
// residual-segment switch, or a keygen seed switch once the current seed has
// already been consumed this bundle, per spec.md §4's "deferred to the next
// bundle" scenarios), rather than merely needing to wait a few cycles within
// it. emitGapFiller only ever advances the in-bundle cycle counter, so
// crossing a bundle boundary must go through here instead.
func (s *Scheduler) deferToNextBundle(x *instr.XInst) error {
	if s.bundle.xCount > 0 {
		if err := s.flushBundle(); err != nil {
			return err
		}
	}
	x.Header().SetDeferredReady(s.currentCycle)
	s.ready.pushItem(x)
	return nil
}

// emitGapFiller advances current_cycle to target by emitting a single nop
// covering the gap (spec.md §4.4.2 step 4).
func (s *Scheduler) emitGapFiller(target cycle.Cycle) {
	gap := target.Cycle - s.currentCycle.Cycle
	if gap <= 0 {
		s.currentCycle = target
		return
	}
	nop, err := s.newXInst("nop")
	if err != nil {
		return
	}
	nop.Header().Throughput = gap
	nop.Header().Latency = gap
	s.placeXInst(nop)
	s.currentCycle = target
}

// commitSchedule assigns timing, advances current_cycle, updates variable
// readiness and the bundle's write-port/shuffle/residual bookkeeping
// (spec.md §4.4.2 step 5).
func (s *Scheduler) commitSchedule(x *instr.XInst) {
	s.placeXInst(x)

	completion := s.currentCycle.Add(x.Header().Latency)
	for _, v := range x.Header().Dests {
		v.SetCycleReady(cycle.Max(v.CycleReady(), completion))
		v.SetLastXAccess(s.currentCycle)
		v.SetRegisterDirty(true)
		if v.Register() != nil {
			v.Register().SetCycleReady(cycle.Max(v.Register().CycleReady(), completion))
		}
	}
	for _, v := range x.Header().Sources {
		v.SetLastXAccess(s.currentCycle)
	}

	s.reserveWritePort(x, completion)
	s.afterCommitBundleBookkeeping(x)
	if x.IsShuffle() {
		s.bundle.shuffleKind = x.Header().Op
		s.bundle.shuffleCount++
		s.bundle.lastShuffleCycle = s.currentCycle
	}
	if x.Header().Op == "xstore" {
		s.bundle.hasXStore = true
		s.bundle.lastXStoreCycle = completion
	}

	s.currentCycle = s.currentCycle.Add(x.Header().Throughput)

	s.retireDeadOperands(x)
}

// retireDeadOperands pops x's consumed AccessElement off each operand's
// access list; a variable whose list becomes empty has no remaining uses.
// If that variable is a declared mem-info output, it is flushed to HBM
// right away via xstore->cstore->msyncc->mstore (spec.md §4.4.5's "output
// variable becomes dead" rule). Errors from that flush are discarded here
// and not logged.
func (s *Scheduler) retireDeadOperands(x *instr.XInst) {
	id := x.Header().ID
	operands := append(append([]*variable.Variable{}, x.Header().Dests...), x.Header().Sources...)
	for _, v := range operands {
		if v.IsDummy() {
			continue
		}
		for i, a := range v.AccessedByXInsts {
			if a.InstructionID == [2]uint64{uint64(id.Client), id.Nonce} {
				v.AccessedByXInsts = append(v.AccessedByXInsts[:i], v.AccessedByXInsts[i+1:]...)
				break
			}
		}
		if len(v.AccessedByXInsts) == 0 {
			if addr, ok := s.outputs[v.Name()]; ok {
				_ = s.flushDeadOutput(v, addr)
			}
		}
	}
}

func (s *Scheduler) placeXInst(x *instr.XInst) {
	x.Header().Schedule(s.currentCycle, len(s.XInstQ)+1)
	s.XInstQ = append(s.XInstQ, x)
	s.bundle.xCount++
}

func (s *Scheduler) newXInst(op string) (*instr.XInst, error) {
	x, err := instr.NewXInst(s.clientID, op)
	if err != nil {
		return nil, err
	}
	if err := s.spec.ApplyToXInst(x); err != nil {
		return nil, err
	}
	return x, nil
}

func (s *Scheduler) newCInst(op string) (*instr.CInst, error) {
	c, err := instr.NewCInst(s.clientID, op)
	if err != nil {
		return nil, err
	}
	if err := s.spec.ApplyToCInst(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Scheduler) newMInst(op string) (*instr.MInst, error) {
	m, err := instr.NewMInst(s.clientID, op)
	if err != nil {
		return nil, err
	}
	if err := s.spec.ApplyToMInst(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Scheduler) emitCInst(op string) (*instr.CInst, error) {
	c, err := s.newCInst(op)
	if err != nil {
		return nil, err
	}
	c.Header().Schedule(s.currentCycle, len(s.CInstQ)+1)
	s.CInstQ = append(s.CInstQ, c)
	return c, nil
}

func (s *Scheduler) emitMInst(op string) (*instr.MInst, error) {
	m, err := s.newMInst(op)
	if err != nil {
		return nil, err
	}
	m.Header().Schedule(s.currentCycle, len(s.MInstQ)+1)
	s.MInstQ = append(s.MInstQ, m)
	return m, nil
}

// liveVarNames approximates "must not evict" by scanning the topological
// window for variables still referenced ahead. A bounded window (rather
// than a full-program scan) mirrors the scheduler's own windowed lookahead.
func (s *Scheduler) liveVarNames() map[string]bool {
	live := make(map[string]bool)
	for _, id := range s.window {
		x, ok := s.graph.Instruction(id)
		if !ok {
			continue
		}
		for _, v := range x.Header().Sources {
			live[v.Name()] = true
		}
		for _, v := range x.Header().Dests {
			live[v.Name()] = true
		}
	}
	return live
}

func suggestedBankOf(v *variable.Variable) int {
	if v.SuggestedBank() < 0 {
		return 1
	}
	return v.SuggestedBank()
}
