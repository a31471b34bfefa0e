package instr

import "github.com/pkg/errors"

// MInstOps enumerates every valid MInstQ opcode (spec.md §4.5).
var MInstOps = map[string]bool{
	"mload": true, "mstore": true, "msyncc": true,
}

// MInst is a transfer-queue instruction moving words between HBM and SPAD.
// SyncTarget holds the CInstQ index an msyncc instruction waits on; only
// meaningful for op == "msyncc", left at -1 until finalization.
type MInst struct {
	header Header

	SyncTarget int
}

// NewMInst builds an MInst, validating op against MInstOps.
func NewMInst(client int, op string) (*MInst, error) {
	if !MInstOps[op] {
		return nil, errors.Errorf("minst: unknown op %q", op)
	}
	return &MInst{header: NewHeader(client, op, MInstQ), SyncTarget: -1}, nil
}

// Header returns this instruction's shared metadata.
func (m *MInst) Header() *Header { return &m.header }

func (m *MInst) String() string { return m.header.String() }
