// Package meminfo ingests the mem-info descriptor: the line-oriented
// listing of inputs, outputs, keygen seeds and reloadable metadata
// (ones/twiddle/routing-table instances) that names a kernel's HBM
// layout. Grounded on the original assembler's mem_info module, which
// populates the same memory-model registries this package targets.
package meminfo

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/memmodel"
	"github.com/sarchlab/heracles-asm/variable"
)

// metaKindNames maps the mem-info `dload` meta_kind token to a
// memmodel.MetaKind (spec.md §6).
var metaKindNames = map[string]memmodel.MetaKind{
	"ones":               memmodel.Ones,
	"ntt_aux_table":       memmodel.NTTAuxTable,
	"ntt_routing_table":   memmodel.NTTRoutingTable,
	"intt_aux_table":      memmodel.INTTAuxTable,
	"intt_routing_table":  memmodel.INTTRoutingTable,
	"twiddle":             memmodel.Twiddle,
	"keygen_seed":         memmodel.KeygenSeed,
}

// MetaEntry records one reloadable metadata instance's HBM placement, as
// declared by a `dload` directive.
type MetaEntry struct {
	Kind      memmodel.MetaKind
	Name      string
	HBMAddr   int
}

// Info is the parsed mem-info descriptor: the set of declared inputs,
// outputs, keygen seeds and reloadable metadata instances, plus the
// invariants spec.md §6 requires of them (ones-count*8 == twiddle-count,
// no variable is both output and keygen, no name maps to two addresses).
type Info struct {
	Outputs map[string]int // variable name -> hbm address
	Meta    []MetaEntry

	onesCount    int
	twiddleCount int
}

// Parse reads a mem-info document and applies every directive: variables,
// their HBM addresses and keygen ordering go into model, while metadata
// placements are collected in Info.Meta and outputs in Info.Outputs.
// Returns the parsed Info for the caller to consult (e.g. to know which
// variables are outputs).
func Parse(r io.Reader, model *memmodel.Model) (*Info, error) {
	info := &Info{Outputs: make(map[string]int)}
	keygenNames := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(stripComment(scanner.Text()))
		if line == "" {
			continue
		}
		fields := splitFields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "dload":
			if err := info.applyDload(fields, model, keygenNames, lineNo); err != nil {
				return nil, err
			}
		case "store":
			if err := info.applyStore(fields, model, keygenNames, lineNo); err != nil {
				return nil, err
			}
		case "keygen":
			if err := info.applyKeygen(fields, model, lineNo); err != nil {
				return nil, err
			}
			if len(fields) >= 4 {
				keygenNames[strings.TrimSpace(fields[3])] = true
			}
		default:
			return nil, errors.Errorf("meminfo: line %d: unknown directive %q", lineNo, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "meminfo: reading")
	}

	if info.twiddleCount != info.onesCount*8 {
		return nil, errors.Errorf("meminfo: twiddle entry count %d must equal ones-count*8 (%d)",
			info.twiddleCount, info.onesCount*8)
	}

	return info, nil
}

func (info *Info) applyDload(fields []string, model *memmodel.Model, keygenNames map[string]bool, lineNo int) error {
	if len(fields) < 3 {
		return errors.Errorf("meminfo: line %d: dload requires at least 3 fields", lineNo)
	}
	kind := strings.TrimSpace(fields[1])

	if kind == "input" {
		if len(fields) < 4 {
			return errors.Errorf("meminfo: line %d: dload input requires <hbm_addr>, <var_name>", lineNo)
		}
		addr, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			return errors.Wrapf(err, "meminfo: line %d: parsing hbm address", lineNo)
		}
		name := strings.TrimSpace(fields[3])
		if keygenNames[name] {
			return errors.Errorf("meminfo: line %d: %q is declared as both an input and a keygen variable", lineNo, name)
		}
		v, err := variable.New(name, -1, memmodel.BankCount)
		if err != nil {
			return err
		}
		v.SetHBMAddress(addr)
		if err := model.DeclareVariable(v); err != nil {
			return errors.Wrapf(err, "meminfo: line %d", lineNo)
		}
		return nil
	}

	metaKind, ok := metaKindNames[kind]
	if !ok {
		return errors.Errorf("meminfo: line %d: unknown dload meta_kind %q", lineNo, kind)
	}
	addr, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return errors.Wrapf(err, "meminfo: line %d: parsing hbm address", lineNo)
	}
	name := ""
	if len(fields) >= 4 {
		name = strings.TrimSpace(fields[3])
	}
	info.Meta = append(info.Meta, MetaEntry{Kind: metaKind, Name: name, HBMAddr: addr})
	switch metaKind {
	case memmodel.Ones:
		info.onesCount++
	case memmodel.Twiddle:
		info.twiddleCount++
	}
	return nil
}

func (info *Info) applyStore(fields []string, model *memmodel.Model, keygenNames map[string]bool, lineNo int) error {
	if len(fields) < 3 {
		return errors.Errorf("meminfo: line %d: store requires <var_name>, <hbm_addr>", lineNo)
	}
	name := strings.TrimSpace(fields[1])
	addr, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return errors.Wrapf(err, "meminfo: line %d: parsing hbm address", lineNo)
	}
	if keygenNames[name] {
		return errors.Errorf("meminfo: line %d: %q cannot be both an output and a keygen variable", lineNo, name)
	}
	if existing, ok := info.Outputs[name]; ok && existing != addr {
		return errors.Errorf("meminfo: line %d: %q already maps to hbm address %d, cannot rebind to %d",
			lineNo, name, existing, addr)
	}

	v, ok := model.Variable(name)
	if !ok {
		var err error
		v, err = variable.New(name, -1, memmodel.BankCount)
		if err != nil {
			return err
		}
	}
	if v.HBMAddress() < 0 {
		v.SetHBMAddress(addr)
	} else if v.HBMAddress() != addr {
		return errors.Errorf("meminfo: line %d: %q already maps to hbm address %d, cannot rebind to %d",
			lineNo, name, v.HBMAddress(), addr)
	}
	if err := model.DeclareVariable(v); err != nil {
		return errors.Wrapf(err, "meminfo: line %d", lineNo)
	}
	info.Outputs[name] = addr
	return nil
}

func (info *Info) applyKeygen(fields []string, model *memmodel.Model, lineNo int) error {
	if len(fields) < 4 {
		return errors.Errorf("meminfo: line %d: keygen requires <seed_index>, <key_index>, <var_name>", lineNo)
	}
	seedIdx, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return errors.Wrapf(err, "meminfo: line %d: parsing seed index", lineNo)
	}
	keyIdx, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return errors.Wrapf(err, "meminfo: line %d: parsing key index", lineNo)
	}
	name := strings.TrimSpace(fields[3])
	if _, ok := info.Outputs[name]; ok {
		return errors.Errorf("meminfo: line %d: %q cannot be both an output and a keygen variable", lineNo, name)
	}

	v, err := variable.New(name, -1, memmodel.BankCount)
	if err != nil {
		return err
	}
	if err := model.DeclareVariable(v); err != nil {
		return errors.Wrapf(err, "meminfo: line %d", lineNo)
	}
	model.KeygenVars[name] = memmodel.KeygenIndex{SeedIdx: seedIdx, KeyIdx: keyIdx}
	if seedIdx+1 > model.NumSeeds {
		model.NumSeeds = seedIdx + 1
	}
	return nil
}

// IsOutput reports whether name is declared as a kernel output.
func (info *Info) IsOutput(name string) (int, bool) {
	addr, ok := info.Outputs[name]
	return addr, ok
}

func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

func splitFields(line string) []string {
	parts := strings.Split(line, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
