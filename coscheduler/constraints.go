package coscheduler

import (
	"github.com/sarchlab/heracles-asm/cycle"
	"github.com/sarchlab/heracles-asm/instr"
	"github.com/sarchlab/heracles-asm/memmodel"
)

// reserveWritePort claims, for every bank x writes into, the relative
// bundle cycle at which that write completes, so a later candidate landing
// on the same (bank, cycle) is detected by violatesBundleConstraints
// (spec.md §4.4.4).
func (s *Scheduler) reserveWritePort(x *instr.XInst, completion cycle.Cycle) {
	for _, v := range x.Header().Dests {
		if v.Register() == nil {
			continue
		}
		bank := v.Register().Bank().Index()
		if s.bundle.writePortCycle[bank] == nil {
			s.bundle.writePortCycle[bank] = make(map[int]bool)
		}
		s.bundle.writePortCycle[bank][completion.Cycle] = true
	}
}

// violatesBundleConstraints checks write-port conflicts, shuffle slotting/
// monopoly and residual-segment monopoly for x as it is about to be
// committed at s.currentCycle. If blocked, it returns the cycle x should be
// re-tried at.
func (s *Scheduler) violatesBundleConstraints(x *instr.XInst) (bool, cycle.Cycle) {
	completion := s.currentCycle.Add(x.Header().Latency)

	for _, v := range x.Header().Dests {
		if v.Register() == nil {
			continue
		}
		bank := v.Register().Bank().Index()
		if s.bundle.writePortCycle[bank] != nil && s.bundle.writePortCycle[bank][completion.Cycle] {
			return true, s.currentCycle.Add(1)
		}
	}

	if x.IsShuffle() {
		if s.bundle.shuffleKind != "" && s.bundle.shuffleKind != x.Header().Op {
			// Opposite-kind shuffles are segregated across bundles.
			return true, s.currentCycle.NextBundle()
		}
		if s.bundle.shuffleCount > 0 {
			desc, err := s.spec.XInst(x.Header().Op)
			if err == nil && desc.SpecialLatencyIncrement > 0 {
				delta := desc.SpecialLatencyIncrement
				floor := s.bundle.lastShuffleCycle.Add(x.Header().Throughput)
				if s.currentCycle.Compare(floor) < 0 {
					k := 1
					slot := s.bundle.lastShuffleCycle.Add(k * delta)
					for slot.Compare(floor) < 0 {
						k++
						slot = s.bundle.lastShuffleCycle.Add(k * delta)
					}
					if desc.SpecialLatencyMax > 0 && k*delta > desc.SpecialLatencyMax {
						return true, s.currentCycle.NextBundle()
					}
					return true, slot
				}
			}
		}
		if s.bundle.routingTable != "" && x.RoutingTable != "" && x.RoutingTable != s.bundle.routingTable {
			return true, s.currentCycle.NextBundle()
		}
	}

	if x.IsArithmetic() {
		seg := x.ResidualSegment()
		if s.bundle.residualSet && s.bundle.residualSegment != seg {
			return true, s.currentCycle.NextBundle()
		}
	}

	return false, cycle.Zero
}

// afterCommitBundleBookkeeping records the per-bundle monopoly state (needed
// residual segment, routing table instance) once x has actually been
// committed. Called from commitSchedule, which records the shuffle
// kind/count itself.
func (s *Scheduler) afterCommitBundleBookkeeping(x *instr.XInst) {
	if x.IsArithmetic() && !s.bundle.residualSet {
		s.bundle.residualSet = true
		s.bundle.residualSegment = x.ResidualSegment()
	}
	if x.IsShuffle() && x.RoutingTable != "" {
		s.bundle.routingTable = x.RoutingTable
	}
}

// ensureMetadataResident reloads ones/twiddle/routing-table metadata ahead
// of x, when the currently CE-resident instance doesn't match (spec.md
// §4.4.7). It returns true once every needed reload has been emitted, or
// false with the error that stopped it; it never defers x.
func (s *Scheduler) ensureMetadataResident(x *instr.XInst) (bool, error) {
	if x.IsShuffle() && x.RoutingTable != "" {
		kind := memmodel.NTTRoutingTable
		if !x.IsNTTKind() {
			kind = memmodel.INTTRoutingTable
		}
		if s.model.MetaNeeds(kind, x.RoutingTable) {
			if err := s.reloadMetadata(kind, x.RoutingTable, "nload"); err != nil {
				return false, err
			}
		}
	}
	if x.IsArithmetic() {
		if x.OnesName != "" && s.model.MetaNeeds(memmodel.Ones, x.OnesName) {
			if err := s.reloadMetadata(memmodel.Ones, x.OnesName, "bones"); err != nil {
				return false, err
			}
		}
		if x.TwiddleName != "" && s.model.MetaNeeds(memmodel.Twiddle, x.TwiddleName) {
			if err := s.reloadMetadata(memmodel.Twiddle, x.TwiddleName, "bload"); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// reloadMetadata emits the HBM->SPAD->special-register sequence for a
// reloadable metadata kind: mload, a csyncm on that mload, then the
// kind-specific special-register load op, recording the new residency.
func (s *Scheduler) reloadMetadata(kind memmodel.MetaKind, name, loadOp string) error {
	mload, err := s.emitMInst("mload")
	if err != nil {
		return err
	}

	if err := s.emitCsyncmFor(mload); err != nil {
		return err
	}

	special, err := s.newCInst(loadOp)
	if err != nil {
		return err
	}
	if _, err := s.scheduleCInst(special); err != nil {
		return err
	}

	s.model.MetaLoad(kind, name)
	return nil
}
