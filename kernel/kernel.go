// Package kernel turns a P-ISA kernel listing into the flat []*instr.XInst
// slice the dependency-graph builder consumes. Parse handles both steps
// itself: it strips each line's `#` comment and splits the rest into
// comma-separated fields, then turns those fields into XInst objects bound
// to variables in a memmodel.Model, using isaspec.Spec to know each op's
// dest/source arity.
package kernel

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/instr"
	"github.com/sarchlab/heracles-asm/isaspec"
	"github.com/sarchlab/heracles-asm/memmodel"
	"github.com/sarchlab/heracles-asm/variable"
)

var operandPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(?:\(\s*(-?\d+)\s*\))?$`)

// Parse reads a line-oriented P-ISA kernel listing and returns the flat
// XInst slice in program order, resolving/creating variables against
// model and applying timing from spec.
func Parse(r io.Reader, model *memmodel.Model, spec *isaspec.Spec) ([]*instr.XInst, error) {
	var out []*instr.XInst

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimSpace(stripComment(raw))
		if line == "" {
			continue
		}

		fields := splitFields(line)
		if len(fields) < 2 {
			return nil, errors.Errorf("kernel: line %d: expected at least ring size and op name", lineNo)
		}

		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "kernel: line %d: parsing ring size", lineNo)
		}
		op := fields[1]

		desc, err := spec.XInst(op)
		if err != nil {
			return nil, errors.Wrapf(err, "kernel: line %d", lineNo)
		}

		rest := fields[2:]
		if len(rest) < desc.NumDests+desc.NumSources {
			return nil, errors.Errorf("kernel: line %d: op %q needs %d dests + %d sources, got %d operand tokens",
				lineNo, op, desc.NumDests, desc.NumSources, len(rest))
		}

		x, err := instr.NewXInst(0, op)
		if err != nil {
			return nil, errors.Wrapf(err, "kernel: line %d", lineNo)
		}
		if err := spec.ApplyToXInst(x); err != nil {
			return nil, errors.Wrapf(err, "kernel: line %d", lineNo)
		}
		x.N = n
		x.Header().Comment = commentOf(raw)

		idx := 0
		for i := 0; i < desc.NumDests; i++ {
			v, err := resolveOperand(rest[idx], model)
			if err != nil {
				return nil, errors.Wrapf(err, "kernel: line %d: dest %d", lineNo, i)
			}
			x.Header().Dests = append(x.Header().Dests, v)
			idx++
		}
		for i := 0; i < desc.NumSources; i++ {
			v, err := resolveOperand(rest[idx], model)
			if err != nil {
				return nil, errors.Wrapf(err, "kernel: line %d: source %d", lineNo, i)
			}
			x.Header().Sources = append(x.Header().Sources, v)
			idx++
		}

		extras := rest[idx:]
		if err := applyExtras(x, extras); err != nil {
			return nil, errors.Wrapf(err, "kernel: line %d", lineNo)
		}

		out = append(out, x)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "kernel: reading")
	}
	return out, nil
}

// resolveOperand looks up (or lazily declares) the named variable, applying
// a parenthesized suggested bank if present.
func resolveOperand(token string, model *memmodel.Model) (*variable.Variable, error) {
	m := operandPattern.FindStringSubmatch(token)
	if m == nil {
		return nil, errors.Errorf("kernel: malformed operand %q", token)
	}
	name, bankTok := m[1], m[2]

	v, ok := model.Variable(name)
	if !ok {
		bank := -1
		if bankTok != "" {
			parsed, err := strconv.Atoi(bankTok)
			if err != nil {
				return nil, errors.Wrapf(err, "kernel: parsing suggested bank for %q", name)
			}
			bank = parsed
		}
		var err error
		v, err = variable.New(name, bank, memmodel.BankCount)
		if err != nil {
			return nil, err
		}
		if err := model.DeclareVariable(v); err != nil {
			return nil, err
		}
		return v, nil
	}

	if bankTok != "" {
		bank, err := strconv.Atoi(bankTok)
		if err != nil {
			return nil, errors.Wrapf(err, "kernel: parsing suggested bank for %q", name)
		}
		if err := v.SetSuggestedBank(bank, memmodel.BankCount); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// applyExtras assigns the op-specific trailing tokens: a residual value
// for arithmetic ops, a routing-table/metadata instance name for
// rshuffle/irshuffle and ntt/intt-family ops.
func applyExtras(x *instr.XInst, extras []string) error {
	if len(extras) == 0 {
		return nil
	}
	if x.IsShuffle() {
		x.RoutingTable = extras[0]
		return nil
	}
	if x.IsArithmetic() {
		res, err := strconv.Atoi(extras[len(extras)-1])
		if err != nil {
			return errors.Wrapf(err, "parsing residual")
		}
		x.Residual = res
		if len(extras) >= 3 {
			x.OnesName = extras[0]
			x.TwiddleName = extras[1]
		}
	}
	return nil
}

func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

func commentOf(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return strings.TrimSpace(line[idx+1:])
	}
	return ""
}

func splitFields(line string) []string {
	parts := strings.Split(line, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
