package emit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sarchlab/heracles-asm/instr"
	"github.com/sarchlab/heracles-asm/variable"
)

func newPlacedVar(t *testing.T, name string, bank *variable.RegisterBank) *variable.Variable {
	t.Helper()
	v, err := variable.New(name, 1, 4)
	require.NoError(t, err)
	reg := bank.FindAvailableRegister(nil, nil)
	require.NotNil(t, reg)
	reg.Allocate(v)
	return v
}

func TestWriter_XInst_FormatsFields(t *testing.T) {
	bank, err := variable.NewRegisterBank(1, 4)
	require.NoError(t, err)
	a := newPlacedVar(t, "a", bank)
	out := newPlacedVar(t, "out", bank)

	x, err := instr.NewXInst(1, "add")
	require.NoError(t, err)
	x.N = 8
	x.Residual = 3
	x.Header().Dests = []*variable.Variable{out}
	x.Header().Sources = []*variable.Variable{a}
	x.Header().Comment = "s1"

	var xbuf, cbuf, mbuf strings.Builder
	w := NewWriter(&xbuf, &cbuf, &mbuf, 2)
	require.NoError(t, w.XInst(x))

	line := strings.TrimSpace(xbuf.String())
	require.Contains(t, line, "add")
	require.Contains(t, line, out.Register().Name())
	require.Contains(t, line, a.Register().Name())
	require.Contains(t, line, "# s1")
}

func TestWriter_XInst_BundleSeparator(t *testing.T) {
	var xbuf, cbuf, mbuf strings.Builder
	w := NewWriter(&xbuf, &cbuf, &mbuf, 2)

	for i := 0; i < 2; i++ {
		x, err := instr.NewXInst(1, "nop")
		require.NoError(t, err)
		require.NoError(t, w.XInst(x))
	}

	lines := strings.Split(xbuf.String(), "\n")
	require.Len(t, lines, 4) // 2 nop lines + blank separator + trailing ""
	require.Equal(t, "", lines[2])
}

func TestWriter_CInst_Csyncm(t *testing.T) {
	var xbuf, cbuf, mbuf strings.Builder
	w := NewWriter(&xbuf, &cbuf, &mbuf, 64)

	c, err := instr.NewCInst(1, "csyncm")
	require.NoError(t, err)
	c.SyncTarget = 7
	require.NoError(t, w.CInst(c))

	require.Equal(t, "csyncm, 7\n", cbuf.String())
}

func TestWriter_MInst_Mload(t *testing.T) {
	bank, err := variable.NewRegisterBank(0, 1)
	require.NoError(t, err)
	v := newPlacedVar(t, "v", bank)

	var xbuf, cbuf, mbuf strings.Builder
	w := NewWriter(&xbuf, &cbuf, &mbuf, 64)

	m, err := instr.NewMInst(1, "mload")
	require.NoError(t, err)
	m.Header().Dests = []*variable.Variable{v}
	require.NoError(t, w.MInst(m))

	require.Equal(t, "mload, v\n", mbuf.String())
}

func TestDrain_WritesEveryInstructionInOrder(t *testing.T) {
	rec := &recordingStreams{}

	x, err := instr.NewXInst(1, "nop")
	require.NoError(t, err)
	c, err := instr.NewCInst(1, "cnop")
	require.NoError(t, err)
	m, err := instr.NewMInst(1, "msyncc")
	require.NoError(t, err)

	require.NoError(t, Drain(rec, []*instr.XInst{x}, []*instr.CInst{c}, []*instr.MInst{m}))
	require.Equal(t, []string{"x:nop", "c:cnop", "m:msyncc"}, rec.calls)
}

type recordingStreams struct {
	calls []string
}

func (r *recordingStreams) XInst(x *instr.XInst) error {
	r.calls = append(r.calls, "x:"+x.Header().Op)
	return nil
}

func (r *recordingStreams) CInst(c *instr.CInst) error {
	r.calls = append(r.calls, "c:"+c.Header().Op)
	return nil
}

func (r *recordingStreams) MInst(m *instr.MInst) error {
	r.calls = append(r.calls, "m:"+m.Header().Op)
	return nil
}
