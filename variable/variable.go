// Package variable models polynomial-residue variables and the registers
// that may hold them, following the teacher's two-way Variable<->Register
// link (grounded on memory_model/variable.py and memory_model/register_file.py
// of the original assembler).
package variable

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/cycle"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateName reports whether name is a valid variable identifier.
func ValidateName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return identifierPattern.MatchString(name)
}

// AccessElement records that an XInst accesses a variable, tagged with the
// instruction's estimated position in the instruction listing so that
// replacement policies can reason about "furthest next use".
type AccessElement struct {
	Index         int
	InstructionID [2]uint64 // (client id, nonce), mirrors instr.ID
}

// Variable represents a polynomial residue tracked across HBM, SPAD and the
// register file. A Variable created via NewDummy is a DummyVariable: a
// tagged placeholder with an empty name that reserves a register slot for a
// specific bundle without representing real data (spec: operand
// preparation step 2, after a `move`).
type Variable struct {
	cycle.Tracker

	name             string
	suggestedBank    int
	hbmAddress       int
	spadAddress      int
	spadDirtyFlag    bool
	register         *Register
	lastXAccess      *cycle.Cycle
	AccessedByXInsts []AccessElement

	dummy bool
	// Tag identifies the bundle a dummy variable was created for; zero for
	// real variables.
	Tag int
}

// New constructs a Variable with the given name and suggested bank ([0,
// bankCount) or negative for "no suggestion").
func New(name string, suggestedBank, bankCount int) (*Variable, error) {
	if !ValidateName(name) {
		return nil, errors.Errorf("variable: invalid name %q", name)
	}
	if suggestedBank >= bankCount {
		return nil, errors.Errorf("variable: suggested_bank must be < %d, got %d", bankCount, suggestedBank)
	}
	return &Variable{
		Tracker:       cycle.NewTracker(cycle.Zero),
		name:          strings.TrimSpace(name),
		suggestedBank: suggestedBank,
		hbmAddress:    -1,
		spadAddress:   -1,
	}, nil
}

// Name returns the variable's identifier, or "" for a dummy placeholder.
func (v *Variable) Name() string { return v.name }

// SuggestedBank returns the bank this variable prefers to live in once
// staged out of bank 0, or a negative value if unset.
func (v *Variable) SuggestedBank() int { return v.suggestedBank }

// SetSuggestedBank updates the suggestion; negative values are ignored, as
// in the original implementation.
func (v *Variable) SetSuggestedBank(bank, bankCount int) error {
	if bank >= bankCount {
		return errors.Errorf("variable: suggested_bank must be < %d, got %d", bankCount, bank)
	}
	if bank >= 0 {
		v.suggestedBank = bank
	}
	return nil
}

// HBMAddress returns the HBM word address, or -1 if not resident.
func (v *Variable) HBMAddress() int { return v.hbmAddress }

// SetHBMAddress records (or clears, with a negative value) the HBM address.
func (v *Variable) SetHBMAddress(addr int) {
	if addr < 0 {
		v.hbmAddress = -1
		return
	}
	v.hbmAddress = addr
}

// SpadAddress returns the SPAD word address, or -1 if not resident.
func (v *Variable) SpadAddress() int { return v.spadAddress }

// SetSpadAddress records the SPAD address and clears the dirty flag, since
// whatever was there is being overwritten fresh. A no-op for dummy
// variables.
func (v *Variable) SetSpadAddress(addr int) {
	if v.dummy {
		return
	}
	v.spadDirtyFlag = false
	if addr < 0 {
		v.spadAddress = -1
		return
	}
	v.spadAddress = addr
}

// SpadDirty reports whether the SPAD copy has unflushed writes.
func (v *Variable) SpadDirty() bool { return v.spadAddress >= 0 && v.spadDirtyFlag }

// SetSpadDirty sets the SPAD dirty flag.
func (v *Variable) SetSpadDirty(dirty bool) { v.spadDirtyFlag = dirty }

// Register returns the register currently holding this variable, or nil.
func (v *Variable) Register() *Register { return v.register }

// SetRegister installs (or, with nil, clears) the variable's register. A
// no-op for dummy variables, which never own a real back-reference.
// Invariant: a variable lives in at most one register.
func (v *Variable) SetRegister(r *Register) {
	if v.dummy {
		return
	}
	v.register = r
	v.lastXAccess = nil
}

// RegisterDirty reports whether the register holding this variable (if any)
// has been written but not yet flushed to SPAD.
func (v *Variable) RegisterDirty() bool {
	if v.register == nil {
		return false
	}
	return v.register.dirty
}

// SetRegisterDirty marks the backing register dirty/clean. No-op if the
// variable is not currently registered.
func (v *Variable) SetRegisterDirty(dirty bool) {
	if v.register != nil {
		v.register.dirty = dirty
	}
}

// LastXAccess returns the last cycle at which an XInst touched this
// variable, if any.
func (v *Variable) LastXAccess() (cycle.Cycle, bool) {
	if v.lastXAccess == nil {
		return cycle.Zero, false
	}
	return *v.lastXAccess, true
}

// SetLastXAccess records the cycle of the most recent XInst access.
func (v *Variable) SetLastXAccess(c cycle.Cycle) { v.lastXAccess = &c }

// CycleReady returns the larger of the variable's own ready cycle and its
// register's, mirroring the original's overridden _get_cycle_ready.
func (v *Variable) CycleReady() cycle.Cycle {
	ready := v.Tracker.CycleReady()
	if v.register != nil {
		ready = cycle.Max(ready, v.register.CycleReady())
	}
	return ready
}

// IsDummy reports whether this is a placeholder reservation rather than a
// real variable.
func (v *Variable) IsDummy() bool { return v.dummy }

// NewDummy creates a placeholder Variable tagged with the bundle index that
// must not reuse the register slot it reserves.
func NewDummy(tag int) *Variable {
	return &Variable{
		Tracker:     cycle.NewTracker(cycle.Zero),
		hbmAddress:  -1,
		spadAddress: -1,
		dummy:       true,
		Tag:         tag,
	}
}

// FindByName returns the first variable in vars with the given name, or nil.
func FindByName(vars []*Variable, name string) *Variable {
	for _, v := range vars {
		if v.Name() == name {
			return v
		}
	}
	return nil
}
