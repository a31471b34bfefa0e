package memmodel

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/variable"
)

// KeygenIndex locates a keygen variable within the engine's production
// order: seed Idx selects the PRNG seed, KeyIdx is the ascending
// key-material index produced under that seed (spec.md §4.2).
type KeygenIndex struct {
	SeedIdx int
	KeyIdx  int
}

// MetaKind names a reloadable piece of persistent CE/routing-network
// metadata (spec.md §7's `dload` meta_kind enum).
type MetaKind int

const (
	Ones MetaKind = iota
	NTTAuxTable
	NTTRoutingTable
	INTTAuxTable
	INTTRoutingTable
	Twiddle
	KeygenSeed
)

func (k MetaKind) String() string {
	switch k {
	case Ones:
		return "ones"
	case NTTAuxTable:
		return "ntt_aux_table"
	case NTTRoutingTable:
		return "ntt_routing_table"
	case INTTAuxTable:
		return "intt_aux_table"
	case INTTRoutingTable:
		return "intt_routing_table"
	case Twiddle:
		return "twiddle"
	case KeygenSeed:
		return "keygen_seed"
	default:
		return "unknown"
	}
}

// metaResidency tracks which instance of a reloadable metadata kind is
// currently resident on the CE side, so the co-scheduler can tell whether a
// bundle's need matches what's already loaded (spec.md §4.4.6).
type metaResidency struct {
	loaded map[MetaKind]string
}

func newMetaResidency() *metaResidency {
	return &metaResidency{loaded: make(map[MetaKind]string)}
}

// Needs reports whether switching MetaKind k to instance name would require
// a reload (true if nothing, or a different instance, is currently loaded).
func (m *metaResidency) Needs(k MetaKind, name string) bool {
	cur, ok := m.loaded[k]
	return !ok || cur != name
}

// Load records that instance name of MetaKind k is now resident.
func (m *metaResidency) Load(k MetaKind, name string) { m.loaded[k] = name }

// Loaded returns the currently resident instance of MetaKind k, if any.
func (m *metaResidency) Loaded(k MetaKind) (string, bool) {
	v, ok := m.loaded[k]
	return v, ok
}

// BankCount is the number of banked register files a Model owns: bank 0 is
// the dedicated SPAD<->CE staging bank (spec.md §4).
const BankCount = 4

// Model aggregates every piece of scheduler-owned memory state: HBM, SPAD,
// the banked register file, the store buffer and metadata residency.
// Instructions hold weak references into a Model for bookkeeping only; the
// Model itself is mutated exclusively by the scheduler during a schedule
// step (spec.md §4.4.1's ownership rule).
type Model struct {
	HBM          *HBM
	SPAD         *SPAD
	Banks        [BankCount]*variable.RegisterBank
	StoreBuffer  *StoreBuffer
	metaResident *metaResidency

	vars map[string]*variable.Variable

	// KeygenVars maps a keygen variable's name to its production order.
	// NumSeeds is the total number of distinct seeds declared by the
	// kernel's memory-info (spec.md §7's `keygen, <seed_index>,
	// <key_index>, <var_name>` directive).
	KeygenVars map[string]KeygenIndex
	NumSeeds   int

	freshVarSeq uint64
}

// NewModel builds a Model with the given HBM/SPAD capacities and a uniform
// register count per bank.
func NewModel(hbmCapacityWords, spadCapacityWords, registersPerBank int) (*Model, error) {
	hbm, err := NewHBM(hbmCapacityWords)
	if err != nil {
		return nil, errors.Wrap(err, "model: building hbm")
	}
	spad, err := NewSPAD(spadCapacityWords)
	if err != nil {
		return nil, errors.Wrap(err, "model: building spad")
	}
	m := &Model{
		HBM:          hbm,
		SPAD:         spad,
		StoreBuffer:  NewStoreBuffer(),
		metaResident: newMetaResidency(),
		vars:         make(map[string]*variable.Variable),
		KeygenVars:   make(map[string]KeygenIndex),
	}
	for i := 0; i < BankCount; i++ {
		bank, err := variable.NewRegisterBank(i, registersPerBank)
		if err != nil {
			return nil, errors.Wrapf(err, "model: building register bank %d", i)
		}
		m.Banks[i] = bank
	}
	return m, nil
}

// StagingBank returns bank 0, the only bank `cload`/`cstore` may target.
func (m *Model) StagingBank() *variable.RegisterBank { return m.Banks[0] }

// DeclareVariable registers v by name; returns an error if the name is
// already taken by a different variable with a different HBM address
// (spec.md §7's "an identical name must not map to two different HBM
// addresses").
func (m *Model) DeclareVariable(v *variable.Variable) error {
	if existing, ok := m.vars[v.Name()]; ok && existing != v {
		if existing.HBMAddress() >= 0 && v.HBMAddress() >= 0 && existing.HBMAddress() != v.HBMAddress() {
			return errors.Errorf("model: variable %q already maps to hbm address %d, cannot rebind to %d",
				v.Name(), existing.HBMAddress(), v.HBMAddress())
		}
	}
	m.vars[v.Name()] = v
	return nil
}

// Variable looks up a previously declared variable by name.
func (m *Model) Variable(name string) (*variable.Variable, bool) {
	v, ok := m.vars[name]
	return v, ok
}

// Variables returns every declared variable, in no particular order.
func (m *Model) Variables() []*variable.Variable {
	out := make([]*variable.Variable, 0, len(m.vars))
	for _, v := range m.vars {
		out = append(out, v)
	}
	return out
}

// FreshVarName returns a throwaway variable name guaranteed not to collide
// with anything declared so far, for injected synthetic instructions like
// the keygen-ordering `copy` (spec.md §4.2).
func (m *Model) FreshVarName() string {
	n := atomic.AddUint64(&m.freshVarSeq, 1)
	for {
		name := "__synth" + itoa64(n)
		if _, ok := m.vars[name]; !ok {
			return name
		}
		n = atomic.AddUint64(&m.freshVarSeq, 1)
	}
}

func itoa64(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// MetaNeeds reports whether loading instance name of MetaKind k onto the CE
// would require a reload.
func (m *Model) MetaNeeds(k MetaKind, name string) bool { return m.metaResident.Needs(k, name) }

// MetaLoad records that instance name of MetaKind k is now CE-resident.
func (m *Model) MetaLoad(k MetaKind, name string) { m.metaResident.Load(k, name) }

// MetaLoaded returns the currently CE-resident instance of MetaKind k.
func (m *Model) MetaLoaded(k MetaKind) (string, bool) { return m.metaResident.Loaded(k) }
