package depgraph_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/heracles-asm/depgraph"
	"github.com/sarchlab/heracles-asm/instr"
	"github.com/sarchlab/heracles-asm/memmodel"
	"github.com/sarchlab/heracles-asm/variable"
)

func mustVar(name string, bank int) *variable.Variable {
	v, err := variable.New(name, bank, memmodel.BankCount)
	Expect(err).NotTo(HaveOccurred())
	return v
}

func mustXInst(op string, dests, sources []*variable.Variable) *instr.XInst {
	x, err := instr.NewXInst(0, op)
	Expect(err).NotTo(HaveOccurred())
	x.Header().Dests = dests
	x.Header().Sources = sources
	return x
}

var _ = Describe("Build", func() {
	It("adds a RAW edge from a write to a later read", func() {
		x := mustVar("x", 1)
		w := mustXInst("move", []*variable.Variable{x}, nil)
		r := mustXInst("move", nil, []*variable.Variable{x})

		g, err := depgraph.Build([]*instr.XInst{w, r})
		Expect(err).NotTo(HaveOccurred())
		Expect(g.Successors(w.Header().ID)).To(ConsistOf(r.Header().ID))
	})

	It("adds a WAR edge from a read to a later write", func() {
		x := mustVar("x", 1)
		r := mustXInst("move", nil, []*variable.Variable{x})
		w := mustXInst("move", []*variable.Variable{x}, nil)

		g, err := depgraph.Build([]*instr.XInst{r, w})
		Expect(err).NotTo(HaveOccurred())
		Expect(g.Successors(r.Header().ID)).To(ConsistOf(w.Header().ID))
	})

	It("adds a WAW edge between two writes with no intervening read", func() {
		x := mustVar("x", 1)
		w1 := mustXInst("move", []*variable.Variable{x}, nil)
		w2 := mustXInst("move", []*variable.Variable{x}, nil)

		g, err := depgraph.Build([]*instr.XInst{w1, w2})
		Expect(err).NotTo(HaveOccurred())
		Expect(g.Successors(w1.Header().ID)).To(ConsistOf(w2.Header().ID))
	})

	It("does not add a self edge when source and dest share a name", func() {
		x := mustVar("x", 1)
		inst := mustXInst("move", []*variable.Variable{x}, []*variable.Variable{x})

		g, err := depgraph.Build([]*instr.XInst{inst})
		Expect(err).NotTo(HaveOccurred())
		Expect(g.Successors(inst.Header().ID)).To(BeEmpty())
	})
})

var _ = Describe("EnforceKeygenOrdering", func() {
	It("chains injected copies in ascending key-index order regardless of use order", func() {
		m, err := memmodel.NewModel(64, 64, 4)
		Expect(err).NotTo(HaveOccurred())
		m.NumSeeds = 1
		m.KeygenVars = map[string]memmodel.KeygenIndex{
			"k0": {SeedIdx: 0, KeyIdx: 0},
			"k1": {SeedIdx: 0, KeyIdx: 1},
			"k2": {SeedIdx: 0, KeyIdx: 2},
		}
		for _, name := range []string{"k0", "k1", "k2"} {
			Expect(m.DeclareVariable(mustVar(name, 1))).To(Succeed())
		}

		k0, _ := m.Variable("k0")
		k1, _ := m.Variable("k1")
		k2, _ := m.Variable("k2")

		// Kernel uses k1, then k2, then k0 last -- use order deliberately
		// out of key-index order.
		useK1 := mustXInst("move", nil, []*variable.Variable{k1})
		useK2 := mustXInst("move", nil, []*variable.Variable{k2})
		useK0 := mustXInst("move", nil, []*variable.Variable{k0})

		g, err := depgraph.Build([]*instr.XInst{useK1, useK2, useK0})
		Expect(err).NotTo(HaveOccurred())

		Expect(depgraph.EnforceKeygenOrdering(g, m)).To(Succeed())

		copyFor := func(varName string) instr.ID {
			for _, id := range g.Nodes() {
				x, _ := g.Instruction(id)
				if x.Header().Op == "copy" && strings.Contains(x.Header().Comment, varName) {
					return id
				}
			}
			Fail("no injected copy found for " + varName)
			return instr.ID{}
		}

		copy0 := copyFor("k0")
		copy1 := copyFor("k1")
		copy2 := copyFor("k2")

		Expect(g.Successors(copy0)).To(ContainElement(copy1))
		Expect(g.Successors(copy1)).To(ContainElement(copy2))

		Expect(g.Successors(copy0)).To(ContainElement(useK0.Header().ID))
		Expect(g.Successors(copy1)).To(ContainElement(useK1.Header().ID))
		Expect(g.Successors(copy2)).To(ContainElement(useK2.Header().ID))
	})

	It("fails loudly when a key index is skipped", func() {
		m, err := memmodel.NewModel(64, 64, 4)
		Expect(err).NotTo(HaveOccurred())
		m.NumSeeds = 1
		m.KeygenVars = map[string]memmodel.KeygenIndex{
			"k0": {SeedIdx: 0, KeyIdx: 0},
			"k2": {SeedIdx: 0, KeyIdx: 2},
		}
		Expect(m.DeclareVariable(mustVar("k0", 1))).To(Succeed())
		Expect(m.DeclareVariable(mustVar("k2", 1))).To(Succeed())

		g, err := depgraph.Build(nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(depgraph.EnforceKeygenOrdering(g, m)).To(HaveOccurred())
	})
})
