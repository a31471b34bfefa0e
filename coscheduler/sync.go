package coscheduler

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/instr"
)

// scheduleCInst assigns timing to an already-built CInst and appends it to
// CInstQ. CInstQ advances on its own clock relative to XInstQ (the three
// queues execute concurrently, spec.md §5); here that is approximated by
// stamping it at the co-scheduler's current (bundle, cycle) without
// consuming XInstQ throughput.
func (s *Scheduler) scheduleCInst(c *instr.CInst) (*instr.CInst, error) {
	c.Header().Schedule(s.currentCycle, len(s.CInstQ)+1)
	s.CInstQ = append(s.CInstQ, c)
	return c, nil
}

// emitCsyncmFor appends a csyncm to CInstQ referencing target, an MInst
// that must complete first (spec.md §4.4.8's "csyncm/msyncc placeholders
// referencing target instruction objects, not indices").
func (s *Scheduler) emitCsyncmFor(target instr.Instruction) error {
	m, ok := target.(*instr.MInst)
	if !ok {
		return errors.Errorf("coscheduler: csyncm target must be an MInst, got %T", target)
	}
	csyncm, err := s.newCInst("csyncm")
	if err != nil {
		return err
	}
	if _, err := s.scheduleCInst(csyncm); err != nil {
		return err
	}
	s.csyncmRef[csyncm] = m
	return nil
}

// emitMsynccFor appends an msyncc to MInstQ referencing target, a CInst
// that must complete first.
func (s *Scheduler) emitMsynccFor(target instr.Instruction) error {
	c, ok := target.(*instr.CInst)
	if !ok {
		return errors.Errorf("coscheduler: msyncc target must be a CInst, got %T", target)
	}
	msyncc, err := s.emitMInst("msyncc")
	if err != nil {
		return err
	}
	s.msynccRef[msyncc] = c
	return nil
}

// finalize appends the terminating cexit/msyncc(cexit) pair and rewrites
// every csyncm/msyncc placeholder to carry the final 1-based index of its
// referent in the opposite queue (spec.md §4.4.8's two-pass finalization).
func (s *Scheduler) finalize() error {
	cexit, err := s.newCInst("cexit")
	if err != nil {
		return err
	}
	if _, err := s.scheduleCInst(cexit); err != nil {
		return err
	}

	msynccExit, err := s.emitMInst("msyncc")
	if err != nil {
		return err
	}
	s.msynccRef[msynccExit] = cexit

	cIndex := make(map[*instr.CInst]int, len(s.CInstQ))
	for i, c := range s.CInstQ {
		cIndex[c] = i + 1
	}
	mIndex := make(map[*instr.MInst]int, len(s.MInstQ))
	for i, m := range s.MInstQ {
		mIndex[m] = i + 1
	}

	for csyncm, target := range s.csyncmRef {
		idx, ok := mIndex[target]
		if !ok {
			return errors.New("coscheduler: csyncm references an MInst outside MInstQ")
		}
		csyncm.SyncTarget = idx
	}
	for msyncc, target := range s.msynccRef {
		idx, ok := cIndex[target]
		if !ok {
			return errors.New("coscheduler: msyncc references a CInst outside CInstQ")
		}
		if target == cexit {
			idx++
		}
		msyncc.SyncTarget = idx
	}

	return nil
}
