package variable

import (
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sarchlab/heracles-asm/cycle"
)

// ReplacementPolicy selects how a register/SPAD bank proposes a victim when
// every slot is occupied (spec §4.4.1).
type ReplacementPolicy int

const (
	// FTBU replaces the variable with the Farthest-next-Use, breaking ties
	// by LRU and then by remaining use count.
	FTBU ReplacementPolicy = iota
	// LRU replaces the least-recently-accessed variable.
	LRU
)

var policyTitleCaser = cases.Title(language.English)

// String renders the policy in the title-cased form ("Ftbu", "Lru") that
// cmd/hecsched's -dump output prints, matching the teacher's
// core/emu.go convention of title-casing names before they reach a log or
// report (that package's titleCaser).
func (p ReplacementPolicy) String() string {
	switch p {
	case FTBU:
		return policyTitleCaser.String("ftbu")
	case LRU:
		return policyTitleCaser.String("lru")
	default:
		return policyTitleCaser.String("unknown")
	}
}

// Register is one slot of a RegisterBank. Its name follows the
// "r{index}b{bank}" convention from the spec's data model.
type Register struct {
	cycle.Tracker

	bank              *RegisterBank
	index             int
	containedVariable *Variable
	dirty             bool
}

// Name returns the register's "r{index}b{bank}" identifier.
func (r *Register) Name() string {
	return regName(r.index, r.bank.index)
}

func regName(index, bank int) string {
	return "r" + strconv.Itoa(index) + "b" + strconv.Itoa(bank)
}

// Index returns the register's position within its bank.
func (r *Register) Index() int { return r.index }

// Bank returns the owning RegisterBank.
func (r *Register) Bank() *RegisterBank { return r.bank }

// ContainedVariable returns the Variable currently allocated to this
// register, or nil if empty.
func (r *Register) ContainedVariable() *Variable { return r.containedVariable }

// Dirty reports whether this register's content has been written but not
// yet flushed to SPAD. Invariant: Dirty() ⇒ ContainedVariable() != nil &&
// !ContainedVariable().IsDummy().
func (r *Register) Dirty() bool { return r.dirty }

// SetDirty updates the dirty flag directly; used by Variable.SetRegisterDirty.
func (r *Register) SetDirty(dirty bool) { r.dirty = dirty }

// Allocate installs v into this register (nil clears it), maintaining the
// two-way Variable<->Register link.
func (r *Register) Allocate(v *Variable) {
	if r.containedVariable != nil {
		r.containedVariable.SetRegister(nil)
	}
	r.containedVariable = v
	r.dirty = false
	if v != nil {
		v.SetRegister(r)
	}
}

// RegisterBank is one of the memory model's banked register files. Bank 0
// is the dedicated staging bank for SPAD<->CE transfers.
type RegisterBank struct {
	index     int
	registers []*Register
	lru       *lru.LRU[string, cycle.Cycle]
}

// NewRegisterBank constructs a bank with the given index and register
// count.
func NewRegisterBank(index, registerCount int) (*RegisterBank, error) {
	if index < 0 {
		return nil, errors.Errorf("register bank: index must be non-negative, got %d", index)
	}
	if registerCount < 1 {
		return nil, errors.Errorf("register bank: registerCount must be >= 1, got %d", registerCount)
	}
	recencyCache, err := lru.NewLRU[string, cycle.Cycle](registerCount, nil)
	if err != nil {
		return nil, errors.Wrap(err, "register bank: building LRU recency tracker")
	}
	rb := &RegisterBank{index: index, lru: recencyCache}
	rb.registers = make([]*Register, registerCount)
	for i := range rb.registers {
		rb.registers[i] = &Register{Tracker: cycle.NewTracker(cycle.Zero), bank: rb, index: i}
	}
	return rb, nil
}

// Index returns the bank's zero-based index.
func (rb *RegisterBank) Index() int { return rb.index }

// RegisterCount returns the number of registers in this bank.
func (rb *RegisterBank) RegisterCount() int { return len(rb.registers) }

// Register returns the register at idx.
func (rb *RegisterBank) Register(idx int) (*Register, error) {
	if idx < 0 || idx >= len(rb.registers) {
		return nil, errors.Errorf("register bank %d: index %d out of range [0,%d)", rb.index, idx, len(rb.registers))
	}
	return rb.registers[idx], nil
}

// All returns every register in the bank, in index order.
func (rb *RegisterBank) All() []*Register { return rb.registers }

// NoteAccess records that name was just touched at cycle c, feeding the LRU
// tie-break used by FindAvailableRegister under the FTBU/LRU policies.
func (rb *RegisterBank) NoteAccess(name string, c cycle.Cycle) {
	if name == "" {
		return
	}
	rb.lru.Add(name, c)
}

// computePriority mirrors mem_utilities.computePriority: the smaller the
// tuple, the higher the priority for reuse. An empty register always wins
// (handled by the caller before this is reached).
type priority struct {
	hasValue      bool
	furthestIndex int // -index of next access: larger magnitude = more negative = smaller tuple = higher priority
	lastAccess    cycle.Cycle
	remainingUses int
}

func less(a, b priority) bool {
	if !a.hasValue {
		return true
	}
	if !b.hasValue {
		return false
	}
	if a.furthestIndex != b.furthestIndex {
		return a.furthestIndex < b.furthestIndex
	}
	if cmp := a.lastAccess.Compare(b.lastAccess); cmp != 0 {
		return cmp < 0
	}
	return a.remainingUses < b.remainingUses
}

// recency resolves the cycle v was last accessed at for the purpose of the
// LRU/FTBU tie-break: the bank's own recency cache (fed by NoteAccess) takes
// priority over the variable's lastXAccess stamp, since the cache reflects
// this bank's view of access order even if v was touched in another bank
// between visits here.
func (rb *RegisterBank) recency(v *Variable) cycle.Cycle {
	if c, ok := rb.lru.Get(v.Name()); ok {
		return c
	}
	if v.lastXAccess != nil {
		return *v.lastXAccess
	}
	return cycle.Zero
}

func (rb *RegisterBank) computePriority(v *Variable, policy ReplacementPolicy) priority {
	if v == nil {
		return priority{hasValue: false}
	}
	last := rb.recency(v)
	switch policy {
	case FTBU:
		if len(v.AccessedByXInsts) == 0 {
			return priority{hasValue: false}
		}
		return priority{
			hasValue:      true,
			furthestIndex: -v.AccessedByXInsts[0].Index,
			lastAccess:    last,
			remainingUses: len(v.AccessedByXInsts),
		}
	case LRU:
		return priority{hasValue: true, lastAccess: last}
	default:
		return priority{hasValue: false}
	}
}

// FindAvailableRegister returns the first free register, or — if the bank
// is full and a replacement policy is given — the register holding the
// best eviction candidate under that policy. liveVarNames lists variables
// that must not be chosen for replacement (just-allocated dependencies of
// an upcoming instruction). Dummy-tagged registers are always considered
// live. Returns nil if no suitable register exists.
func (rb *RegisterBank) FindAvailableRegister(liveVarNames map[string]bool, policy *ReplacementPolicy) *Register {
	var best *Register
	var bestPriority priority
	bestPriority.hasValue = false
	havePolicy := policy != nil

	for _, r := range rb.registers {
		v := r.containedVariable
		if v == nil {
			return r
		}
		if v.IsDummy() {
			continue
		}
		if !havePolicy {
			continue
		}
		if liveVarNames[v.Name()] {
			continue
		}
		p := rb.computePriority(v, *policy)
		if best == nil || less(p, bestPriority) {
			best = r
			bestPriority = p
		}
	}
	return best
}
