// Package isaspec loads the per-opcode timing parameters (throughput,
// latency, token/operand counts, special shuffle latencies) that drive the
// co-scheduler, keyed by queue and op name. Grounded on the original
// assembler's isa_spec package, whose SpecConfig pokes these same numbers
// onto each opcode's class attributes; here they land in an immutable map
// populated once at load time (spec.md §9 "ISA-spec mutability").
package isaspec

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/instr"
)

// OpDescriptor is the fixed set of numeric parameters the original attaches
// to every opcode's class.
type OpDescriptor struct {
	NumTokens  int `toml:"num_tokens"`
	NumDests   int `toml:"num_dests"`
	NumSources int `toml:"num_sources"`

	DefaultThroughput int `toml:"default_throughput"`
	DefaultLatency    int `toml:"default_latency"`

	// SpecialLatencyMax/Increment apply only to rshuffle/irshuffle
	// (spec.md §4.4.3's shuffle-slotting rule). Zero for every other op.
	SpecialLatencyMax       int `toml:"special_latency_max"`
	SpecialLatencyIncrement int `toml:"special_latency_increment"`
}

type queueTable struct {
	XInst map[string]OpDescriptor `toml:"xinst"`
	CInst map[string]OpDescriptor `toml:"cinst"`
	MInst map[string]OpDescriptor `toml:"minst"`
}

type document struct {
	ISASpec queueTable `toml:"isa_spec"`
}

// Spec is the fully loaded, validated ISA timing table.
type Spec struct {
	xinst map[string]OpDescriptor
	cinst map[string]OpDescriptor
	minst map[string]OpDescriptor
}

// Load reads a TOML document keyed `isa_spec.{xinst|cinst|minst}.{op}` and
// validates it covers every opcode instr.XInstOps/CInstOps/MInstOps
// declares (spec.md §6: "Load order: read spec before parsing the
// kernel").
func Load(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "isaspec: reading file")
	}
	return Parse(raw)
}

// Parse decodes an in-memory TOML document into a Spec.
func Parse(raw []byte) (*Spec, error) {
	var doc document
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "isaspec: parsing toml")
	}

	s := &Spec{
		xinst: doc.ISASpec.XInst,
		cinst: doc.ISASpec.CInst,
		minst: doc.ISASpec.MInst,
	}

	if err := s.validateCoverage("xinst", instr.XInstOps, s.xinst); err != nil {
		return nil, err
	}
	if err := s.validateCoverage("cinst", instr.CInstOps, s.cinst); err != nil {
		return nil, err
	}
	if err := s.validateCoverage("minst", instr.MInstOps, s.minst); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Spec) validateCoverage(queue string, ops map[string]bool, table map[string]OpDescriptor) error {
	for op := range ops {
		d, ok := table[op]
		if !ok {
			return errors.Errorf("isaspec: missing %s.%s", queue, op)
		}
		if d.DefaultLatency < d.DefaultThroughput || d.DefaultThroughput < 1 {
			return errors.Errorf("isaspec: %s.%s must satisfy latency >= throughput >= 1, got throughput=%d latency=%d",
				queue, op, d.DefaultThroughput, d.DefaultLatency)
		}
	}
	return nil
}

// XInst returns the descriptor for an XInstQ op.
func (s *Spec) XInst(op string) (OpDescriptor, error) { return lookup(s.xinst, "xinst", op) }

// CInst returns the descriptor for a CInstQ op.
func (s *Spec) CInst(op string) (OpDescriptor, error) { return lookup(s.cinst, "cinst", op) }

// MInst returns the descriptor for an MInstQ op.
func (s *Spec) MInst(op string) (OpDescriptor, error) { return lookup(s.minst, "minst", op) }

func lookup(table map[string]OpDescriptor, queue, op string) (OpDescriptor, error) {
	d, ok := table[op]
	if !ok {
		return OpDescriptor{}, errors.Errorf("isaspec: unknown %s op %q", queue, op)
	}
	return d, nil
}

// ApplyToXInst sets x's Throughput/Latency from this spec's descriptor for
// its op.
func (s *Spec) ApplyToXInst(x *instr.XInst) error {
	d, err := s.XInst(x.Header().Op)
	if err != nil {
		return err
	}
	x.Header().Throughput = d.DefaultThroughput
	x.Header().Latency = d.DefaultLatency
	return nil
}

// ApplyToCInst sets c's Throughput/Latency from this spec's descriptor for
// its op.
func (s *Spec) ApplyToCInst(c *instr.CInst) error {
	d, err := s.CInst(c.Header().Op)
	if err != nil {
		return err
	}
	c.Header().Throughput = d.DefaultThroughput
	c.Header().Latency = d.DefaultLatency
	return nil
}

// ApplyToMInst sets m's Throughput/Latency from this spec's descriptor for
// its op.
func (s *Spec) ApplyToMInst(m *instr.MInst) error {
	d, err := s.MInst(m.Header().Op)
	if err != nil {
		return err
	}
	m.Header().Throughput = d.DefaultThroughput
	m.Header().Latency = d.DefaultLatency
	return nil
}
