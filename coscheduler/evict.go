package coscheduler

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/variable"
)

// evictRegister frees reg, held by v, so a new value can occupy it. A
// clean register (or one holding a dummy) is simply cleared; a dirty one
// must reach SPAD first via xstore+cstore, whether or not v has further
// uses (spec.md §4.4.5).
func (s *Scheduler) evictRegister(v *variable.Variable, reg *variable.Register, live map[string]bool) error {
	if !reg.Dirty() || v.IsDummy() {
		reg.Allocate(nil)
		return nil
	}

	addr, err := s.allocateSpadAddressFor(v, live)
	if err != nil {
		return err
	}

	xstore, err := s.newXInst("xstore")
	if err != nil {
		return err
	}
	xstore.Header().Sources = []*variable.Variable{v}
	s.placeXInst(xstore)
	completion := s.currentCycle.Add(xstore.Header().Latency)
	s.currentCycle = s.currentCycle.Add(xstore.Header().Throughput)
	s.bundle.hasXStore = true
	s.bundle.lastXStoreCycle = completion

	if err := s.model.StoreBuffer.Push(v, addr); err != nil {
		return err
	}

	cstore, err := s.newCInst("cstore")
	if err != nil {
		return err
	}
	cstore.Header().Dests = []*variable.Variable{v}
	s.bundle.postBundleCStores = append(s.bundle.postBundleCStores, cstore)

	// Block the SPAD slot immediately with a dummy so a racing allocator in
	// the same bundle cannot pick the same address before the cstore drains
	// it (spec.md §4.4.5).
	dummy := variable.NewDummy(s.currentCycle.Bundle)
	if err := s.model.SPAD.AllocateForce(addr, dummy); err != nil {
		return err
	}

	reg.Allocate(nil)
	return nil
}

// allocateSpadAddressFor finds (evicting another resident if necessary) a
// free SPAD address for v.
func (s *Scheduler) allocateSpadAddressFor(v *variable.Variable, live map[string]bool) (int, error) {
	policy := s.cfg.ReplacementPolicy
	addr := s.model.SPAD.FindAvailableAddress(live, &policy)
	if addr < 0 {
		return 0, errors.Errorf("coscheduler: out of spad: no victim available while allocating for %q", v.Name())
	}
	if resident := s.model.SPAD.Buffer()[addr]; resident != nil {
		if err := s.evictSpadResident(resident, addr); err != nil {
			return 0, err
		}
	}
	return addr, nil
}

// evictSpadResident frees SPAD address addr, held by v. If v is dirty it
// must first reach HBM via msyncc (syncing any pending cstore) then
// mstore, allocating an HBM address if v doesn't have one yet (spec.md
// §4.4.5 "S5 — SPAD pressure eviction").
func (s *Scheduler) evictSpadResident(v *variable.Variable, addr int) error {
	if v.IsDummy() {
		if _, err := s.model.SPAD.Deallocate(addr); err != nil {
			return err
		}
		return nil
	}

	if !v.SpadDirty() {
		if _, err := s.model.SPAD.Deallocate(addr); err != nil {
			return err
		}
		return nil
	}

	tracker, err := s.model.SPAD.AccessTrackerAt(addr)
	if err != nil {
		return err
	}
	if tracker.CstoreNeedsSyncBeforeMstore() {
		if target, ok := tracker.LastCstore(); ok {
			if err := s.emitMsynccFor(target); err != nil {
				return err
			}
		}
	}

	if v.HBMAddress() < 0 {
		hbmAddr := s.model.HBM.FindAvailableAddress(nil)
		if hbmAddr < 0 {
			return errors.Errorf("coscheduler: out of hbm: no free address to evict %q", v.Name())
		}
		if err := s.model.HBM.AllocateForce(hbmAddr, v); err != nil {
			return err
		}
	}

	mstore, err := s.emitMInst("mstore")
	if err != nil {
		return err
	}
	mstore.Header().Sources = []*variable.Variable{v}
	tracker.RecordMstore(mstore)

	if _, err := s.model.SPAD.Deallocate(addr); err != nil {
		return err
	}
	v.SetSpadDirty(false)
	return nil
}

// flushDeadOutput lands a dead output variable in HBM via
// xstore->cstore->msyncc->mstore, used when an output's last use just
// completed (spec.md §4.4.5's "output variable becomes dead" rule and "S6 —
// Output flush").
func (s *Scheduler) flushDeadOutput(v *variable.Variable, hbmAddr int) error {
	if v.Register() != nil && v.Register().Dirty() {
		live := s.liveVarNames()
		if err := s.evictRegister(v, v.Register(), live); err != nil {
			return err
		}
	} else if v.SpadDirty() {
		// Already out of registers but SPAD-dirty: stage straight to HBM.
		addr := v.SpadAddress()
		tracker, err := s.model.SPAD.AccessTrackerAt(addr)
		if err != nil {
			return err
		}
		if tracker.CstoreNeedsSyncBeforeMstore() {
			if target, ok := tracker.LastCstore(); ok {
				if err := s.emitMsynccFor(target); err != nil {
					return err
				}
			}
		}
		if v.HBMAddress() < 0 {
			if err := s.model.HBM.AllocateForce(hbmAddr, v); err != nil {
				return err
			}
		}
		mstore, err := s.emitMInst("mstore")
		if err != nil {
			return err
		}
		mstore.Header().Sources = []*variable.Variable{v}
		tracker.RecordMstore(mstore)
		v.SetSpadDirty(false)
	}

	if v.HBMAddress() < 0 && v.HBMAddress() != hbmAddr {
		if hbmAddr >= 0 {
			if err := s.model.HBM.AllocateForce(hbmAddr, v); err != nil {
				return err
			}
		}
	}
	return nil
}
