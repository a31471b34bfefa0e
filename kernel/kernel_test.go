package kernel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sarchlab/heracles-asm/isaspec"
	"github.com/sarchlab/heracles-asm/memmodel"
)

func loadSpec(t *testing.T) *isaspec.Spec {
	t.Helper()
	spec, err := isaspec.Load("../isaspec/testdata/isa_spec.toml")
	require.NoError(t, err)
	return spec
}

func newModel(t *testing.T) *memmodel.Model {
	t.Helper()
	m, err := memmodel.NewModel(1<<16, 1<<12, 8)
	require.NoError(t, err)
	return m
}

func TestParse_TrivialAddLine(t *testing.T) {
	spec := loadSpec(t)
	model := newModel(t)

	insts, err := Parse(strings.NewReader("13, add, out (2), a (0), b (1), 1\n"), model, spec)
	require.NoError(t, err)
	require.Len(t, insts, 1)

	x := insts[0]
	require.Equal(t, "add", x.Header().Op)
	require.Equal(t, 13, x.N)
	require.Equal(t, 1, x.Residual)
	require.Len(t, x.Header().Dests, 1)
	require.Len(t, x.Header().Sources, 2)
	require.Equal(t, "out", x.Header().Dests[0].Name())
	require.Equal(t, 2, x.Header().Dests[0].SuggestedBank())
	require.Equal(t, "a", x.Header().Sources[0].Name())
	require.Equal(t, 0, x.Header().Sources[0].SuggestedBank())
}

func TestParse_AppliesTimingFromSpec(t *testing.T) {
	spec := loadSpec(t)
	model := newModel(t)

	insts, err := Parse(strings.NewReader("4, mul, out (2), a (0), b (1), 0\n"), model, spec)
	require.NoError(t, err)
	require.Equal(t, 1, insts[0].Header().Throughput)
	require.Equal(t, 7, insts[0].Header().Latency)
}

func TestParse_CommentCarriedOnHeader(t *testing.T) {
	spec := loadSpec(t)
	model := newModel(t)

	insts, err := Parse(strings.NewReader("1, nop  # idle slot\n"), model, spec)
	require.NoError(t, err)
	require.Equal(t, "idle slot", insts[0].Header().Comment)
}

func TestParse_ShuffleCarriesRoutingTable(t *testing.T) {
	spec := loadSpec(t)
	model := newModel(t)

	insts, err := Parse(strings.NewReader("8, rshuffle, out (1), idx (0), a (1), b (0), table0\n"), model, spec)
	require.NoError(t, err)
	require.Equal(t, "table0", insts[0].RoutingTable)
}

func TestParse_ReusesSameVariableAcrossLines(t *testing.T) {
	spec := loadSpec(t)
	model := newModel(t)

	insts, err := Parse(strings.NewReader(strings.Join([]string{
		"1, move, a (1), a (0)",
		"1, move, b (2), a (1)",
	}, "\n")), model, spec)
	require.NoError(t, err)
	require.Same(t, insts[0].Header().Dests[0], insts[1].Header().Sources[0])
}

func TestParse_TooFewOperandsFails(t *testing.T) {
	spec := loadSpec(t)
	model := newModel(t)

	_, err := Parse(strings.NewReader("1, add, out (2), a (0)\n"), model, spec)
	require.Error(t, err)
}

func TestParse_UnknownOpFails(t *testing.T) {
	spec := loadSpec(t)
	model := newModel(t)

	_, err := Parse(strings.NewReader("1, frobnicate, a\n"), model, spec)
	require.Error(t, err)
}

func TestParse_MalformedOperandFails(t *testing.T) {
	spec := loadSpec(t)
	model := newModel(t)

	_, err := Parse(strings.NewReader("1, move, a (1), 9bad (0)\n"), model, spec)
	require.Error(t, err)
}
