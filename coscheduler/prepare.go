package coscheduler

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/cycle"
	"github.com/sarchlab/heracles-asm/instr"
	"github.com/sarchlab/heracles-asm/memmodel"
	"github.com/sarchlab/heracles-asm/variable"
)

// keygenWarmupCycles models the keygen engine's latency between a seed
// switch (kg_seed + kg_start) and the first kg_load that may follow it.
const keygenWarmupCycles = 8

// prepareInstruction realizes the register-bank protocol of spec.md
// §4.4.3 for x: every source must end up in a register (bank 0 first,
// then moved to its suggested bank), every destination must have a free
// register in its suggested bank. Returns ok=false (no error) if some step
// cannot be completed this bundle, meaning x must be deferred; deferBundle
// distinguishes a defer that can only be resolved by closing the bundle
// currently under construction (e.g. a forbidden keygen seed switch, spec.md
// §4's "Seed switch forced to next bundle") from an ordinary same-bundle
// retry (no free register yet, a pending SPAD slot, and so on).
func (s *Scheduler) prepareInstruction(x *instr.XInst) (bool, bool, error) {
	live := s.liveVarNames()

	for _, v := range x.Header().Sources {
		if v.IsDummy() {
			continue
		}
		if v.Register() == nil {
			ok, deferBundle, err := s.ensureSourceInRegister(v, live)
			if err != nil {
				return false, false, err
			}
			if !ok {
				return false, deferBundle, nil
			}
			continue
		}
		if v.Register().Bank().Index() == 0 {
			sb := suggestedBankOf(v)
			if sb == 0 {
				continue
			}
			ok, err := s.moveToBank(v, sb, live)
			if err != nil {
				return false, false, err
			}
			if !ok {
				return false, false, nil
			}
		}
	}

	for _, v := range x.Header().Dests {
		sb := suggestedBankOf(v)
		if v.Register() != nil && v.Register().Bank().Index() == sb {
			continue
		}
		ok, err := s.allocateDestRegister(v, sb, live)
		if err != nil {
			return false, false, err
		}
		if !ok {
			return false, false, nil
		}
	}

	ok, err := s.ensureMetadataResident(x)
	return ok, false, err
}

// ensureSourceInRegister places v into a bank-0 register, staging it
// through SPAD first (or through the keygen engine, if v is ungenerated
// key material). spec.md §4.4.3 step 1.
func (s *Scheduler) ensureSourceInRegister(v *variable.Variable, live map[string]bool) (bool, bool, error) {
	if kidx, ok := s.model.KeygenVars[v.Name()]; ok && !s.generatedKeygen[v.Name()] {
		return s.ensureKeygenSourceInRegister(v, kidx, live)
	}

	if v.SpadAddress() < 0 {
		ok, err := s.loadIntoSpad(v, live)
		if err != nil {
			return false, false, err
		}
		if !ok {
			return false, false, nil
		}
	}

	reg := s.model.StagingBank().FindAvailableRegister(live, nil)
	if reg == nil {
		return false, false, nil
	}
	if reg.ContainedVariable() != nil {
		// bank 0 never evicts live staging variables (spec.md §4.4.3 step 1).
		return false, false, nil
	}

	tracker, err := s.model.SPAD.AccessTrackerAt(v.SpadAddress())
	if err != nil {
		return false, false, err
	}
	if tracker.MloadNeedsSyncBeforeCRead() {
		if target, ok := tracker.LastMload(); ok {
			if err := s.emitCsyncmFor(target); err != nil {
				return false, false, err
			}
		}
	}

	cload, err := s.newCInst("cload")
	if err != nil {
		return false, false, err
	}
	cload.Header().Sources = []*variable.Variable{v}
	if _, err := s.scheduleCInst(cload); err != nil {
		return false, false, err
	}
	tracker.RecordCload(cload)

	reg.Allocate(v)
	s.model.StagingBank().NoteAccess(v.Name(), s.currentCycle)
	return true, false, nil
}

// ensureKeygenSourceInRegister pulls v directly from the keygen engine via
// kg_load, switching seeds first if necessary (spec.md §4.4.3 step 1's
// keygen branch, §5's "seed must not change within a bundle once
// consumed").
func (s *Scheduler) ensureKeygenSourceInRegister(v *variable.Variable, kidx memmodel.KeygenIndex, live map[string]bool) (bool, bool, error) {
	if last, ok := s.lastKeyIndex[kidx.SeedIdx]; ok && kidx.KeyIdx != last+1 {
		return false, false, errors.Errorf("coscheduler: keygen out-of-order generation for seed %d: have %d, want %d",
			kidx.SeedIdx, last, last+1)
	}
	if _, ok := s.lastKeyIndex[kidx.SeedIdx]; !ok && kidx.KeyIdx != 0 {
		return false, false, errors.Errorf("coscheduler: keygen generation for seed %d must start at key index 0, got %d",
			kidx.SeedIdx, kidx.KeyIdx)
	}

	if !s.haveSeed || s.currentSeed != kidx.SeedIdx {
		if s.bundle.seedConsumed && s.bundle.consumedSeedIdx != kidx.SeedIdx {
			// A seed switch is forbidden once the current seed has been
			// consumed in this bundle; defer the consumer to the next
			// bundle (spec.md §4's "Seed switch forced to next bundle").
			return false, true, nil
		}
		if err := s.switchKeygenSeed(kidx.SeedIdx); err != nil {
			return false, false, err
		}
	}

	reg := s.model.StagingBank().FindAvailableRegister(live, nil)
	if reg == nil {
		return false, false, nil
	}
	if reg.ContainedVariable() != nil {
		return false, false, nil
	}

	kgLoad, err := s.newCInst("kg_load")
	if err != nil {
		return false, false, err
	}
	kgLoad.Header().Dests = []*variable.Variable{v}
	if _, err := s.scheduleCInst(kgLoad); err != nil {
		return false, false, err
	}

	reg.Allocate(v)
	s.model.StagingBank().NoteAccess(v.Name(), s.currentCycle)
	s.generatedKeygen[v.Name()] = true
	s.lastKeyIndex[kidx.SeedIdx] = kidx.KeyIdx
	s.bundle.seedConsumed = true
	s.bundle.consumedSeedIdx = kidx.SeedIdx
	return true, false, nil
}

// switchKeygenSeed emits kg_seed + kg_start and the surrounding cnop/
// csyncm for the keygen engine's warm-up latency, and resets the
// last-generated key index for the new seed (spec.md §4.4.7).
func (s *Scheduler) switchKeygenSeed(seedIdx int) error {
	seedName, err := s.keygenSeedInstanceName(seedIdx)
	if err != nil {
		return err
	}

	if s.model.MetaNeeds(memmodel.KeygenSeed, seedName) {
		mload, err := s.emitMInst("mload")
		if err != nil {
			return err
		}
		if err := s.emitCsyncmFor(mload); err != nil {
			return err
		}

		kgSeed, err := s.newCInst("kg_seed")
		if err != nil {
			return err
		}
		if _, err := s.scheduleCInst(kgSeed); err != nil {
			return err
		}

		kgStart, err := s.newCInst("kg_start")
		if err != nil {
			return err
		}
		if _, err := s.scheduleCInst(kgStart); err != nil {
			return err
		}

		cnop, err := s.newCInst("cnop")
		if err != nil {
			return err
		}
		cnop.Header().Throughput = keygenWarmupCycles
		cnop.Header().Latency = keygenWarmupCycles
		if _, err := s.scheduleCInst(cnop); err != nil {
			return err
		}

		s.model.MetaLoad(memmodel.KeygenSeed, seedName)
	}

	s.currentSeed = seedIdx
	s.haveSeed = true
	delete(s.lastKeyIndex, seedIdx)
	s.lastKeyIndex[seedIdx] = -1
	return nil
}

func (s *Scheduler) keygenSeedInstanceName(seedIdx int) (string, error) {
	return "seed" + strconv.Itoa(seedIdx), nil
}

// loadIntoSpad stages v from HBM into SPAD via mload, preceded by msyncc if
// the target SPAD address has a more-recent C-side access (spec.md §4.4.3
// step 1).
func (s *Scheduler) loadIntoSpad(v *variable.Variable, live map[string]bool) (bool, error) {
	policy := s.cfg.ReplacementPolicy
	addr := s.model.SPAD.FindAvailableAddress(live, &policy)
	if addr < 0 {
		return false, nil
	}
	if resident := s.model.SPAD.Buffer()[addr]; resident != nil {
		if err := s.evictSpadResident(resident, addr); err != nil {
			return false, err
		}
	}

	if v.HBMAddress() < 0 {
		return false, errors.Errorf("coscheduler: variable %q has no hbm address to load from", v.Name())
	}

	tracker, err := s.model.SPAD.AccessTrackerAt(addr)
	if err != nil {
		return false, err
	}
	if tracker.CstoreNeedsSyncBeforeMstore() {
		// A pending cstore at this address must drain before we overwrite
		// it with fresh HBM data.
		if target, ok := tracker.LastCstore(); ok {
			if err := s.emitMsynccFor(target); err != nil {
				return false, err
			}
		}
	}

	mload, err := s.emitMInst("mload")
	if err != nil {
		return false, err
	}
	tracker.RecordMload(mload)

	if err := s.model.SPAD.AllocateForce(addr, v); err != nil {
		return false, err
	}
	return true, nil
}

// moveToBank frees v's bank-0 register (tagging it with a dummy for the
// current bundle) and places v into a register of its suggested bank
// (spec.md §4.4.3 step 2).
func (s *Scheduler) moveToBank(v *variable.Variable, targetBank int, live map[string]bool) (bool, error) {
	target := s.model.Banks[targetBank]
	reg := target.FindAvailableRegister(live, &s.cfg.ReplacementPolicy)
	if reg == nil {
		return false, nil
	}
	if resident := reg.ContainedVariable(); resident != nil {
		if err := s.evictRegister(resident, reg, live); err != nil {
			return false, err
		}
	}

	srcReg := v.Register()
	move, err := s.newXInst("move")
	if err != nil {
		return false, err
	}
	move.Header().Sources = []*variable.Variable{v}
	s.placeXInst(move)
	completion := s.currentCycle.Add(move.Header().Latency)
	s.currentCycle = s.currentCycle.Add(move.Header().Throughput)

	dummy := variable.NewDummy(s.currentCycle.Bundle)
	srcReg.Allocate(dummy)

	reg.Allocate(v)
	v.SetCycleReady(cycle.Max(v.CycleReady(), completion))
	target.NoteAccess(v.Name(), s.currentCycle)
	return true, nil
}

// allocateDestRegister finds (evicting if necessary) a free register in
// the destination's suggested bank (spec.md §4.4.3 step 3).
func (s *Scheduler) allocateDestRegister(v *variable.Variable, bank int, live map[string]bool) (bool, error) {
	rb := s.model.Banks[bank]
	reg := rb.FindAvailableRegister(live, &s.cfg.ReplacementPolicy)
	if reg == nil {
		return false, nil
	}
	if resident := reg.ContainedVariable(); resident != nil && resident != v {
		if err := s.evictRegister(resident, reg, live); err != nil {
			return false, err
		}
	}
	reg.Allocate(v)
	rb.NoteAccess(v.Name(), s.currentCycle)
	return true, nil
}
