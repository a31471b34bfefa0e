// Package emit serializes the co-scheduler's finalized XInstQ/CInstQ/MInstQ
// streams to their documented textual forms (spec.md §6). Grounded on the
// original assembler's output writers, adapted to Go's io.Writer idiom;
// the Streams interface itself is grounded on the teacher's habit of
// defining a narrow sink interface ahead of a gomock double in its own
// *_suite_test.go files (core/core_suite_test.go's mockgen directive).
package emit

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/instr"
	"github.com/sarchlab/heracles-asm/variable"
)

// Streams is the sink the co-scheduler's finalized instruction queues are
// drained into once scheduling completes.
type Streams interface {
	XInst(x *instr.XInst) error
	CInst(c *instr.CInst) error
	MInst(m *instr.MInst) error
}

// Writer is the Streams implementation used by cmd/hecsched: it writes
// XInstQ, CInstQ and MInstQ to three separate io.Writers in the line forms
// spec.md §6 documents, grouping XInstQ into bundles of exactly MaxBundle
// lines separated by a blank line.
type Writer struct {
	XOut, COut, MOut io.Writer

	maxBundle int
	xInBundle int
}

// NewWriter builds a Writer. maxBundle must match the schedconfig.Config
// the kernel was scheduled with, so XInstQ bundle boundaries line up.
func NewWriter(xOut, cOut, mOut io.Writer, maxBundle int) *Writer {
	return &Writer{XOut: xOut, COut: cOut, MOut: mOut, maxBundle: maxBundle}
}

// XInst writes one XInstQ line: `id, N, op, dst_reg…, src_reg…, extras,
// res  # comment`, inserting a blank line after every maxBundle-th entry.
func (w *Writer) XInst(x *instr.XInst) error {
	if _, err := fmt.Fprintln(w.XOut, formatXInst(x)); err != nil {
		return errors.Wrap(err, "emit: writing xinst")
	}
	w.xInBundle++
	if w.maxBundle > 0 && w.xInBundle == w.maxBundle {
		if _, err := fmt.Fprintln(w.XOut); err != nil {
			return errors.Wrap(err, "emit: writing xinst bundle separator")
		}
		w.xInBundle = 0
	}
	return nil
}

// CInst writes one CInstQ line: `op, args…  # comment`.
func (w *Writer) CInst(c *instr.CInst) error {
	if _, err := fmt.Fprintln(w.COut, formatCInst(c)); err != nil {
		return errors.Wrap(err, "emit: writing cinst")
	}
	return nil
}

// MInst writes one MInstQ line: `op, dst, src [, extra]  # comment`.
func (w *Writer) MInst(m *instr.MInst) error {
	if _, err := fmt.Fprintln(w.MOut, formatMInst(m)); err != nil {
		return errors.Wrap(err, "emit: writing minst")
	}
	return nil
}

// Drain writes every instruction in xq, cq, mq, in order, through s.
func Drain(s Streams, xq []*instr.XInst, cq []*instr.CInst, mq []*instr.MInst) error {
	for _, x := range xq {
		if err := s.XInst(x); err != nil {
			return err
		}
	}
	for _, c := range cq {
		if err := s.CInst(c); err != nil {
			return err
		}
	}
	for _, m := range mq {
		if err := s.MInst(m); err != nil {
			return err
		}
	}
	return nil
}

func formatXInst(x *instr.XInst) string {
	h := x.Header()
	fields := []string{
		fmt.Sprintf("%d", h.ID.Nonce),
		fmt.Sprintf("%d", x.N),
		h.Op,
	}
	for _, v := range h.Dests {
		fields = append(fields, registerName(v))
	}
	for _, v := range h.Sources {
		fields = append(fields, registerName(v))
	}
	if x.RoutingTable != "" {
		fields = append(fields, x.RoutingTable)
	}
	if x.OnesName != "" {
		fields = append(fields, x.OnesName)
	}
	if x.TwiddleName != "" {
		fields = append(fields, x.TwiddleName)
	}
	if x.IsArithmetic() {
		fields = append(fields, fmt.Sprintf("%d", x.Residual))
	}
	return withComment(strings.Join(fields, ", "), h.Comment)
}

func formatCInst(c *instr.CInst) string {
	h := c.Header()
	fields := []string{h.Op}
	for _, v := range h.Dests {
		fields = append(fields, v.Name())
	}
	for _, v := range h.Sources {
		fields = append(fields, v.Name())
	}
	if h.Op == "csyncm" {
		fields = append(fields, fmt.Sprintf("%d", c.SyncTarget))
	}
	return withComment(strings.Join(fields, ", "), h.Comment)
}

func formatMInst(m *instr.MInst) string {
	h := m.Header()
	fields := []string{h.Op}
	for _, v := range h.Dests {
		fields = append(fields, v.Name())
	}
	for _, v := range h.Sources {
		fields = append(fields, v.Name())
	}
	if h.Op == "msyncc" {
		fields = append(fields, fmt.Sprintf("%d", m.SyncTarget))
	}
	return withComment(strings.Join(fields, ", "), h.Comment)
}

func withComment(line, comment string) string {
	if comment == "" {
		return line
	}
	return line + "  # " + comment
}

// registerName renders an XInstQ operand as the register it currently
// occupies, falling back to its variable name if unassigned (a dummy, or
// a variable the co-scheduler never placed in a register).
func registerName(v *variable.Variable) string {
	if v == nil || v.IsDummy() {
		return "-"
	}
	if r := v.Register(); r != nil {
		return r.Name()
	}
	return v.Name()
}
