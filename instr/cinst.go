package instr

import "github.com/pkg/errors"

// CInstOps enumerates every valid CInstQ opcode (spec.md §4.5).
var CInstOps = map[string]bool{
	"bload": true, "bones": true,
	"cload": true, "cstore": true,
	"cnop": true, "csyncm": true,
	"ifetch": true,
	"kg_load": true, "kg_seed": true, "kg_start": true,
	"nload": true, "xinstfetch": true,
	"cexit": true,
}

// CInst is a control-queue instruction. SyncTarget holds the MInstQ index a
// csyncm instruction waits on; it is only meaningful for op == "csyncm" and
// is left at -1 until the two-pass finalization pass assigns it (spec.md
// §4.4.9).
type CInst struct {
	header Header

	SyncTarget int
}

// NewCInst builds a CInst, validating op against CInstOps.
func NewCInst(client int, op string) (*CInst, error) {
	if !CInstOps[op] {
		return nil, errors.Errorf("cinst: unknown op %q", op)
	}
	return &CInst{header: NewHeader(client, op, CInstQ), SyncTarget: -1}, nil
}

// Header returns this instruction's shared metadata.
func (c *CInst) Header() *Header { return &c.header }

func (c *CInst) String() string { return c.header.String() }

// IsMetadataReload reports whether this op loads persistent ISA metadata
// (ones/twiddle/routing-table/keygen-seed) rather than kernel data.
func (c *CInst) IsMetadataReload() bool {
	switch c.header.Op {
	case "bload", "bones", "kg_seed", "kg_start", "nload":
		return true
	default:
		return false
	}
}
