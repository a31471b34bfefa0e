package variable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sarchlab/heracles-asm/cycle"
	"github.com/sarchlab/heracles-asm/variable"
)

func TestValidateName(t *testing.T) {
	require.True(t, variable.ValidateName("ct0"))
	require.True(t, variable.ValidateName("_tmp"))
	require.False(t, variable.ValidateName(""))
	require.False(t, variable.ValidateName("0ct"))
	require.False(t, variable.ValidateName("  "))
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := variable.New("0bad", -1, 4)
	require.Error(t, err)

	_, err = variable.New("ok", 9, 4)
	require.Error(t, err)

	v, err := variable.New("ok", 2, 4)
	require.NoError(t, err)
	require.Equal(t, "ok", v.Name())
	require.Equal(t, 2, v.SuggestedBank())
	require.Equal(t, -1, v.HBMAddress())
	require.Equal(t, -1, v.SpadAddress())
}

func TestDummyVariableIsInert(t *testing.T) {
	d := variable.NewDummy(7)
	require.True(t, d.IsDummy())
	require.Equal(t, "", d.Name())
	require.Equal(t, 7, d.Tag)

	bank, err := variable.NewRegisterBank(0, 4)
	require.NoError(t, err)
	r, err := bank.Register(0)
	require.NoError(t, err)

	d.SetRegister(r)
	require.Nil(t, d.Register())

	d.SetSpadAddress(5)
	require.Equal(t, -1, d.SpadAddress())
}

func TestRegisterDirtyInvariant(t *testing.T) {
	bank, err := variable.NewRegisterBank(1, 8)
	require.NoError(t, err)
	r, err := bank.Register(0)
	require.NoError(t, err)

	v, err := variable.New("ct1", 1, 4)
	require.NoError(t, err)

	r.Allocate(v)
	require.Same(t, r, v.Register())
	require.False(t, v.RegisterDirty())

	v.SetRegisterDirty(true)
	require.True(t, v.RegisterDirty())
	require.True(t, r.Dirty())
}

func TestCycleReadyIsMaxOfSelfAndRegister(t *testing.T) {
	bank, err := variable.NewRegisterBank(0, 1)
	require.NoError(t, err)
	r, err := bank.Register(0)
	require.NoError(t, err)
	r.SetCycleReady(cycle.New(2, 5))

	v, err := variable.New("ct2", -1, 4)
	require.NoError(t, err)
	v.SetCycleReady(cycle.New(1, 99))
	r.Allocate(v)

	require.Equal(t, cycle.New(2, 5), v.CycleReady())
}

func TestFindAvailableRegisterPrefersEmptyThenPolicy(t *testing.T) {
	bank, err := variable.NewRegisterBank(2, 2)
	require.NoError(t, err)

	r0, _ := bank.Register(0)
	r1, _ := bank.Register(1)

	v0, _ := variable.New("a", 2, 4)
	r0.Allocate(v0)

	// r1 is empty: returned regardless of policy.
	got := bank.FindAvailableRegister(map[string]bool{}, nil)
	require.Same(t, r1, got)

	v1, _ := variable.New("b", 2, 4)
	r1.Allocate(v1)

	policy := variable.LRU
	v0.SetLastXAccess(cycle.New(0, 1))
	v1.SetLastXAccess(cycle.New(0, 5))
	got = bank.FindAvailableRegister(map[string]bool{}, &policy)
	require.Same(t, r0, got, "LRU should pick the least-recently accessed variable's register")
}

func TestFindAvailableRegisterSkipsLiveVars(t *testing.T) {
	bank, err := variable.NewRegisterBank(3, 1)
	require.NoError(t, err)
	r0, _ := bank.Register(0)
	v0, _ := variable.New("only", 3, 4)
	r0.Allocate(v0)
	v0.AccessedByXInsts = []variable.AccessElement{{Index: 1}}

	policy := variable.FTBU
	got := bank.FindAvailableRegister(map[string]bool{"only": true}, &policy)
	require.Nil(t, got, "the only occupant is live, so nothing can be evicted")
}

func TestRegisterName(t *testing.T) {
	bank, err := variable.NewRegisterBank(2, 4)
	require.NoError(t, err)
	r, err := bank.Register(3)
	require.NoError(t, err)
	require.Equal(t, "r3b2", r.Name())
}

func TestReplacementPolicyString(t *testing.T) {
	require.Equal(t, "Ftbu", variable.FTBU.String())
	require.Equal(t, "Lru", variable.LRU.String())
}
