package memmodel

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/instr"
	"github.com/sarchlab/heracles-asm/variable"
)

var spadAccessSeq uint64

func nextSpadAccessSeq() uint64 {
	return atomic.AddUint64(&spadAccessSeq, 1)
}

// spadAccess pairs a monotonically increasing sequence number with the
// instruction that performed the access, so two accesses can be ordered
// regardless of access kind.
type spadAccess struct {
	seq   uint64
	instr instr.Instruction
}

func (a spadAccess) Before(b spadAccess) bool { return a.seq < b.seq }

// AccessTracker stamps the last mload/mstore/cload/cstore to touch a given
// SPAD address, letting the scheduler decide which cross-queue sync
// (csyncm/msyncc) is still outstanding. Grounded on
// memory_model/spad.py's SPAD.AccessTracker.
type AccessTracker struct {
	lastMload  spadAccess
	lastMstore spadAccess
	lastCload  spadAccess
	lastCstore spadAccess
}

// LastMload returns the last `mload` to touch this address, if any.
func (t *AccessTracker) LastMload() (instr.Instruction, bool) { return t.lastMload.instr, t.lastMload.instr != nil }

// LastCstore returns the last `cstore` to touch this address, if any.
func (t *AccessTracker) LastCstore() (instr.Instruction, bool) { return t.lastCstore.instr, t.lastCstore.instr != nil }

// LastMstore returns the last `mstore` to touch this address, if any.
func (t *AccessTracker) LastMstore() (instr.Instruction, bool) { return t.lastMstore.instr, t.lastMstore.instr != nil }

// LastCload returns the last `cload` to touch this address, if any.
func (t *AccessTracker) LastCload() (instr.Instruction, bool) { return t.lastCload.instr, t.lastCload.instr != nil }

// RecordMload stamps i as the most recent mload.
func (t *AccessTracker) RecordMload(i instr.Instruction) { t.lastMload = spadAccess{nextSpadAccessSeq(), i} }

// RecordMstore stamps i as the most recent mstore.
func (t *AccessTracker) RecordMstore(i instr.Instruction) { t.lastMstore = spadAccess{nextSpadAccessSeq(), i} }

// RecordCload stamps i as the most recent cload.
func (t *AccessTracker) RecordCload(i instr.Instruction) { t.lastCload = spadAccess{nextSpadAccessSeq(), i} }

// RecordCstore stamps i as the most recent cstore.
func (t *AccessTracker) RecordCstore(i instr.Instruction) { t.lastCstore = spadAccess{nextSpadAccessSeq(), i} }

// MloadNeedsSyncBeforeCRead reports whether the last mload to this address
// happened after the last cload, meaning a fresh csyncm must precede
// any new C-side read (spec §5: "mload into a SPAD address must precede any
// cload/.../kg_seed from that address in program order (via csyncm)").
func (t *AccessTracker) MloadNeedsSyncBeforeCRead() bool {
	if t.lastMload.seq == 0 {
		return false
	}
	return t.lastMload.seq > t.lastCload.seq
}

// CstoreNeedsSyncBeforeMstore reports whether the pending cstore at this
// address has not yet been synced against by an mstore (spec §5: "mstore
// from a SPAD address must wait on the last cstore there (via msyncc)").
func (t *AccessTracker) CstoreNeedsSyncBeforeMstore() bool {
	if t.lastCstore.seq == 0 {
		return false
	}
	return t.lastCstore.seq > t.lastMstore.seq
}

// SPAD is the on-chip scratchpad. Grounded on memory_model/spad.py.
type SPAD struct {
	memBank
	access []AccessTracker
}

// NewSPAD builds a SPAD of the given word capacity.
func NewSPAD(capacityWords int) (*SPAD, error) {
	mb, err := newMemBank("spad", capacityWords)
	if err != nil {
		return nil, err
	}
	return &SPAD{memBank: mb, access: make([]AccessTracker, capacityWords)}, nil
}

// AccessTrackerAt returns the per-address access tracker.
func (s *SPAD) AccessTrackerAt(addr int) (*AccessTracker, error) {
	if addr < 0 || addr >= len(s.access) {
		return nil, errors.Errorf("spad: address %d out of range [0,%d)", addr, len(s.access))
	}
	return &s.access[addr], nil
}

// AllocateForce places v at addr, which must be free, and records the
// address on v.
func (s *SPAD) AllocateForce(addr int, v *variable.Variable) error {
	if v.SpadAddress() >= 0 {
		return errors.Errorf("spad: variable %q already has spad address %d", v.Name(), v.SpadAddress())
	}
	if err := s.allocateForce(addr, v); err != nil {
		return err
	}
	v.SetSpadAddress(addr)
	return nil
}

// Deallocate frees addr and clears the evicted variable's SPAD address.
func (s *SPAD) Deallocate(addr int) (*variable.Variable, error) {
	v, err := s.deallocate(addr)
	if err != nil {
		return nil, err
	}
	v.SetSpadAddress(-1)
	return v, nil
}

// FindAvailableAddress returns the first free SPAD address, or — given a
// replacement policy — the best eviction candidate among non-live
// residents. Returns -1 if nothing is available.
func (s *SPAD) FindAvailableAddress(liveVarNames map[string]bool, policy *variable.ReplacementPolicy) int {
	return s.findAvailableAddress(liveVarNames, policy)
}
