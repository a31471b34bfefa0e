package memmodel

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/variable"
)

// HBM is the accelerator's high-bandwidth DRAM. Grounded on
// memory_model/hbm.py.
type HBM struct {
	memBank
}

// NewHBM builds an HBM of the given word capacity.
func NewHBM(capacityWords int) (*HBM, error) {
	mb, err := newMemBank("hbm", capacityWords)
	if err != nil {
		return nil, err
	}
	return &HBM{memBank: mb}, nil
}

// AllocateForce places v at hbmAddr, which must be free, and records the
// address on v.
func (h *HBM) AllocateForce(hbmAddr int, v *variable.Variable) error {
	if v.HBMAddress() >= 0 {
		return errors.Errorf("hbm: variable %q already has hbm address %d", v.Name(), v.HBMAddress())
	}
	if err := h.allocateForce(hbmAddr, v); err != nil {
		return err
	}
	v.SetHBMAddress(hbmAddr)
	return nil
}

// Deallocate frees hbmAddr and clears the evicted variable's HBM address.
func (h *HBM) Deallocate(hbmAddr int) (*variable.Variable, error) {
	v, err := h.deallocate(hbmAddr)
	if err != nil {
		return nil, err
	}
	v.SetHBMAddress(-1)
	return v, nil
}

// DeallocateVariable frees whatever address v currently occupies in HBM.
func (h *HBM) DeallocateVariable(v *variable.Variable) (*variable.Variable, error) {
	if v.HBMAddress() < 0 {
		return nil, errors.Errorf("hbm: variable %q is not resident in hbm", v.Name())
	}
	return h.Deallocate(v.HBMAddress())
}

// FindAvailableAddress returns the first free HBM address, or -1 if the
// device is full. HBM never evicts live data on its own — callers must
// decide which output-bound variable to make room for.
func (h *HBM) FindAvailableAddress(liveVarNames map[string]bool) int {
	return h.findAvailableAddress(liveVarNames, nil)
}
