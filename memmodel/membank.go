// Package memmodel implements the fixed-capacity HBM and SPAD buffers, the
// store-buffer FIFO between CE and SPAD, and the aggregate memory model the
// co-scheduler allocates against. Grounded on memory_model/memory_bank.py,
// memory_model/hbm.py and memory_model/spad.py of the original assembler.
package memmodel

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/variable"
)

// memBank is the capacity-bookkeeping base shared by HBM and SPAD: a flat,
// word-addressed slice of variable slots.
type memBank struct {
	kind     string
	capacity int
	buffer   []*variable.Variable
}

func newMemBank(kind string, capacityWords int) (memBank, error) {
	if capacityWords <= 0 {
		return memBank{}, errors.Errorf("%s: capacity must be positive, got %d", kind, capacityWords)
	}
	return memBank{kind: kind, capacity: capacityWords, buffer: make([]*variable.Variable, capacityWords)}, nil
}

// CapacityWords returns the total number of addressable words.
func (m *memBank) CapacityWords() int { return m.capacity }

// CurrentCapacityWords returns the number of still-free words.
func (m *memBank) CurrentCapacityWords() int {
	free := 0
	for _, v := range m.buffer {
		if v == nil {
			free++
		}
	}
	return free
}

// Buffer exposes the raw backing slice, read-only by convention.
func (m *memBank) Buffer() []*variable.Variable { return m.buffer }

// allocateForce places v at addr; addr must be in range and currently
// free, otherwise an error is returned.
func (m *memBank) allocateForce(addr int, v *variable.Variable) error {
	if addr < 0 || addr >= m.capacity {
		return errors.Errorf("%s: address %d out of range [0,%d)", m.kind, addr, m.capacity)
	}
	if m.buffer[addr] != nil {
		return errors.Errorf("%s: address %d already occupied by %q", m.kind, addr, m.buffer[addr].Name())
	}
	m.buffer[addr] = v
	return nil
}

// Deallocate frees addr and returns what was there.
func (m *memBank) deallocate(addr int) (*variable.Variable, error) {
	if addr < 0 || addr >= m.capacity {
		return nil, errors.Errorf("%s: address %d out of range [0,%d)", m.kind, addr, m.capacity)
	}
	v := m.buffer[addr]
	if v == nil {
		return nil, errors.Errorf("%s: address %d already free", m.kind, addr)
	}
	m.buffer[addr] = nil
	return v, nil
}

// findAvailableAddress mirrors mem_utilities.findAvailableLocation applied
// to a flat buffer of Variables: first empty slot, or — with a policy — the
// best eviction candidate.
func (m *memBank) findAvailableAddress(liveVarNames map[string]bool, policy *variable.ReplacementPolicy) int {
	best := -1
	var bestHas bool
	var bestFurthest int
	var bestRemaining int

	for idx, v := range m.buffer {
		if v == nil {
			return idx
		}
		if policy == nil || v.Name() == "" || liveVarNames[v.Name()] {
			continue
		}
		if len(v.AccessedByXInsts) == 0 && *policy == variable.FTBU {
			continue
		}
		furthest := 0
		if len(v.AccessedByXInsts) > 0 {
			furthest = -v.AccessedByXInsts[0].Index
		}
		remaining := len(v.AccessedByXInsts)
		candidate := !bestHas || furthest < bestFurthest || (furthest == bestFurthest && remaining < bestRemaining)
		if candidate {
			best = idx
			bestHas = true
			bestFurthest = furthest
			bestRemaining = remaining
		}
	}
	return best
}
