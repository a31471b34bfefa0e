package instr

import "github.com/pkg/errors"

// XInstOps enumerates every valid XInstQ opcode (spec.md §4.5).
var XInstOps = map[string]bool{
	"add": true, "sub": true, "mul": true, "muli": true,
	"mac": true, "maci": true,
	"ntt": true, "intt": true, "twntt": true, "twintt": true,
	"rshuffle": true, "irshuffle": true,
	"move": true, "copy": true, "xstore": true,
	"nop": true, "bexit": true, "exit": true,
}

// XInst is a compute-queue instruction. RoutingTable names which NTT/iNTT
// routing-table instance an rshuffle/irshuffle requires; Residual is the
// arithmetic residual tag carried by add/sub/mul/mac-family ops
// (segment = Residual / MaxResiduals, spec.md's GLOSSARY); OnesName/
// TwiddleName name the ones/twiddle instance an ntt/intt-family op
// requires, when it requires one. WriteFlags is not set by the
// co-scheduler, which tracks write-port use per bundle instead.
type XInst struct {
	header Header

	RoutingTable string
	Residual     int
	OnesName     string
	TwiddleName  string
	WriteFlags   [2]bool

	// N is the ring size this XInst operates over, carried straight from
	// the P-ISA listing.
	N int
}

// MaxResiduals is the number of residual values in one segment (GLOSSARY:
// "segment = residual / 64").
const MaxResiduals = 64

// NewXInst builds an XInst, validating op against XInstOps.
func NewXInst(client int, op string) (*XInst, error) {
	if !XInstOps[op] {
		return nil, errors.Errorf("xinst: unknown op %q", op)
	}
	return &XInst{header: NewHeader(client, op, XInstQ)}, nil
}

// IsArithmetic reports whether this op carries a residual-segment
// constraint (spec.md §4.4.4's residual-segment monopoly).
func (x *XInst) IsArithmetic() bool {
	switch x.header.Op {
	case "add", "sub", "mul", "muli", "mac", "maci", "ntt", "intt", "twntt", "twintt":
		return true
	default:
		return false
	}
}

// ResidualSegment returns the residual segment this instruction belongs to.
func (x *XInst) ResidualSegment() int { return x.Residual / MaxResiduals }

// NeedsRoutingTable reports whether this op requires the NTT/iNTT routing
// network to have the matching table loaded.
func (x *XInst) NeedsRoutingTable() bool { return x.IsShuffle() }

// IsNTTKind reports whether this shuffle/transform belongs to the forward
// (NTT) family rather than the inverse (iNTT) family.
func (x *XInst) IsNTTKind() bool {
	switch x.header.Op {
	case "rshuffle", "ntt", "twntt":
		return true
	default:
		return false
	}
}

// Header returns this instruction's shared metadata.
func (x *XInst) Header() *Header { return &x.header }

func (x *XInst) String() string { return x.header.String() }

// IsShuffle reports whether this instruction occupies the shuffle network
// (rshuffle/irshuffle), which the co-scheduler serializes against other
// shuffle users in the same bundle (spec.md §4.4.3).
func (x *XInst) IsShuffle() bool {
	return x.header.Op == "rshuffle" || x.header.Op == "irshuffle"
}

// IsBundleTerminator reports whether this op ends the current bundle
// (bexit) or the whole kernel (exit).
func (x *XInst) IsBundleTerminator() bool {
	return x.header.Op == "bexit" || x.header.Op == "exit"
}
