package coscheduler_test

import (
	"fmt"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/heracles-asm/coscheduler"
	"github.com/sarchlab/heracles-asm/depgraph"
	"github.com/sarchlab/heracles-asm/emit"
	"github.com/sarchlab/heracles-asm/instr"
	"github.com/sarchlab/heracles-asm/isaspec"
	"github.com/sarchlab/heracles-asm/memmodel"
	"github.com/sarchlab/heracles-asm/schedconfig"
	"github.com/sarchlab/heracles-asm/variable"
)

// gomockReporter adapts ginkgo's fail handler to gomock.TestReporter, the
// way the teacher's mockgen-backed suites (core/core_suite_test.go) drive
// mocks from inside ginkgo specs rather than *testing.T directly.
type gomockReporter struct{}

func (gomockReporter) Errorf(format string, args ...interface{}) { Fail(fmt.Sprintf(format, args...)) }
func (gomockReporter) Fatalf(format string, args ...interface{}) { Fail(fmt.Sprintf(format, args...)) }
func (gomockReporter) Helper()                                   {}

func mustSpec() *isaspec.Spec {
	spec, err := isaspec.Load("../isaspec/testdata/isa_spec.toml")
	Expect(err).NotTo(HaveOccurred())
	return spec
}

func mustModel(hbmWords, spadWords, regsPerBank int) *memmodel.Model {
	m, err := memmodel.NewModel(hbmWords, spadWords, regsPerBank)
	Expect(err).NotTo(HaveOccurred())
	return m
}

func mustConfig(maxBundle int, policy string) schedconfig.Config {
	cfg, err := schedconfig.NewBuilder().
		WithMaxBundle(maxBundle).
		WithReplacementPolicy(policy).
		Build()
	Expect(err).NotTo(HaveOccurred())
	return cfg
}

func mustInputVar(name string, bank int, hbmAddr int) *variable.Variable {
	v, err := variable.New(name, bank, memmodel.BankCount)
	Expect(err).NotTo(HaveOccurred())
	v.SetHBMAddress(hbmAddr)
	return v
}

func mustFreshVar(name string, bank int) *variable.Variable {
	v, err := variable.New(name, bank, memmodel.BankCount)
	Expect(err).NotTo(HaveOccurred())
	return v
}

func mustBinaryXInst(spec *isaspec.Spec, op string, dest, a, b *variable.Variable, residual int) *instr.XInst {
	x, err := instr.NewXInst(0, op)
	Expect(err).NotTo(HaveOccurred())
	Expect(spec.ApplyToXInst(x)).To(Succeed())
	x.N = 1
	x.Residual = residual
	x.Header().Dests = []*variable.Variable{dest}
	x.Header().Sources = []*variable.Variable{a, b}
	return x
}

var _ = Describe("Scheduler", func() {
	var spec *isaspec.Spec

	BeforeEach(func() {
		spec = mustSpec()
	})

	Describe("a trivial add that produces a declared output", func() {
		It("schedules it, pads the bundle to MaxBundle, and flushes the output to HBM", func() {
			model := mustModel(1<<12, 1<<12, 4)
			cfg := mustConfig(4, "ftbu")

			a := mustInputVar("a", 2, 0)
			b := mustInputVar("b", 3, 1)
			out := mustFreshVar("out", 1)

			add := mustBinaryXInst(spec, "add", out, a, b, 0)

			g, err := depgraph.Build([]*instr.XInst{add})
			Expect(err).NotTo(HaveOccurred())

			outputs := map[string]int{"out": 7}
			sched := coscheduler.NewScheduler(cfg, spec, model, 0, outputs)
			xq, cq, mq, err := sched.Schedule(g)
			Expect(err).NotTo(HaveOccurred())

			Expect(len(xq) % cfg.MaxBundle).To(Equal(0))

			var ops []string
			for _, x := range xq {
				ops = append(ops, x.Header().Op)
			}
			Expect(ops).To(ContainElement("add"))
			Expect(ops).To(ContainElement("bexit"))

			var cops []string
			for _, c := range cq {
				cops = append(cops, c.Header().Op)
			}
			Expect(cops).To(ContainElement("ifetch"))
			Expect(cops).To(ContainElement("cexit"))

			var mops []string
			for _, m := range mq {
				mops = append(mops, m.Header().Op)
			}
			Expect(mops).To(ContainElement("mstore"))

			Expect(out.HBMAddress()).To(Equal(7))
		})

		It("finalizes every csyncm/msyncc placeholder to a valid in-range index", func() {
			model := mustModel(1<<12, 1<<12, 4)
			cfg := mustConfig(4, "ftbu")

			a := mustInputVar("a", 2, 0)
			b := mustInputVar("b", 3, 1)
			out := mustFreshVar("out", 1)

			add := mustBinaryXInst(spec, "add", out, a, b, 0)

			g, err := depgraph.Build([]*instr.XInst{add})
			Expect(err).NotTo(HaveOccurred())

			sched := coscheduler.NewScheduler(cfg, spec, model, 0, map[string]int{"out": 7})
			_, cq, mq, err := sched.Schedule(g)
			Expect(err).NotTo(HaveOccurred())

			for _, c := range cq {
				if c.Header().Op == "csyncm" {
					Expect(c.SyncTarget).To(BeNumerically(">=", 1))
					Expect(c.SyncTarget).To(BeNumerically("<=", len(mq)))
				}
			}
			for _, m := range mq {
				if m.Header().Op == "msyncc" {
					Expect(m.SyncTarget).To(BeNumerically(">=", 1))
					Expect(m.SyncTarget).To(BeNumerically("<=", len(cq)))
				}
			}
		})
	})

	Describe("keygen ordering", func() {
		It("rejects a keygen source requested out of order", func() {
			model := mustModel(1<<12, 1<<12, 4)
			cfg := mustConfig(8, "ftbu")

			model.KeygenVars["k1"] = memmodel.KeygenIndex{SeedIdx: 0, KeyIdx: 2}
			model.NumSeeds = 1

			k1 := mustFreshVar("k1", 1)
			out := mustFreshVar("out", 2)

			move, err := instr.NewXInst(0, "move")
			Expect(err).NotTo(HaveOccurred())
			Expect(spec.ApplyToXInst(move)).To(Succeed())
			move.Header().Dests = []*variable.Variable{out}
			move.Header().Sources = []*variable.Variable{k1}

			g, err := depgraph.Build([]*instr.XInst{move})
			Expect(err).NotTo(HaveOccurred())

			sched := coscheduler.NewScheduler(cfg, spec, model, 0, nil)
			_, _, _, err = sched.Schedule(g)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("must start at key index 0"))
		})
	})

	Describe("NTT-family metadata reload", func() {
		It("reloads ones/twiddle metadata before an arithmetic op that names a new instance", func() {
			model := mustModel(1<<12, 1<<12, 4)
			cfg := mustConfig(8, "ftbu")

			a := mustInputVar("a", 2, 0)
			b := mustInputVar("b", 3, 1)
			out := mustFreshVar("out", 1)

			add := mustBinaryXInst(spec, "add", out, a, b, 0)
			add.OnesName = "ones0"
			add.TwiddleName = "tw0"

			g, err := depgraph.Build([]*instr.XInst{add})
			Expect(err).NotTo(HaveOccurred())

			sched := coscheduler.NewScheduler(cfg, spec, model, 0, nil)
			_, cq, _, err := sched.Schedule(g)
			Expect(err).NotTo(HaveOccurred())

			var cops []string
			for _, c := range cq {
				cops = append(cops, c.Header().Op)
			}
			Expect(cops).To(ContainElement("bones"))
			Expect(cops).To(ContainElement("bload"))
		})
	})

	Describe("shuffle scheduling", func() {
		It("schedules two rshuffle instructions sharing the same routing table", func() {
			model := mustModel(1<<12, 1<<12, 8)
			cfg := mustConfig(16, "ftbu")

			mkShuffle := func(tag string) *instr.XInst {
				d0 := mustFreshVar("d0"+tag, 1)
				d1 := mustFreshVar("d1"+tag, 1)
				s0 := mustInputVar("s0"+tag, 2, len(tag)*4)
				s1 := mustInputVar("s1"+tag, 3, len(tag)*4+1)

				x, err := instr.NewXInst(0, "rshuffle")
				Expect(err).NotTo(HaveOccurred())
				Expect(spec.ApplyToXInst(x)).To(Succeed())
				x.Header().Dests = []*variable.Variable{d0, d1}
				x.Header().Sources = []*variable.Variable{s0, s1}
				x.RoutingTable = "table0"
				return x
			}

			r1 := mkShuffle("a")
			r2 := mkShuffle("b")

			g, err := depgraph.Build([]*instr.XInst{r1, r2})
			Expect(err).NotTo(HaveOccurred())

			sched := coscheduler.NewScheduler(cfg, spec, model, 0, nil)
			xq, _, _, err := sched.Schedule(g)
			Expect(err).NotTo(HaveOccurred())

			count := 0
			for _, x := range xq {
				if x.Header().Op == "rshuffle" {
					count++
				}
			}
			Expect(count).To(Equal(2))
		})

		It("defers an opposite-kind shuffle to a fresh bundle instead of livelocking (spec scenario S2)", func() {
			model := mustModel(1<<12, 1<<12, 8)
			cfg := mustConfig(16, "ftbu")

			mkShuffle := func(op, tag string, addrBase int) *instr.XInst {
				d0 := mustFreshVar("d0"+tag, 1)
				d1 := mustFreshVar("d1"+tag, 1)
				s0 := mustInputVar("s0"+tag, 2, addrBase)
				s1 := mustInputVar("s1"+tag, 3, addrBase+1)

				x, err := instr.NewXInst(0, op)
				Expect(err).NotTo(HaveOccurred())
				Expect(spec.ApplyToXInst(x)).To(Succeed())
				x.Header().Dests = []*variable.Variable{d0, d1}
				x.Header().Sources = []*variable.Variable{s0, s1}
				return x
			}

			r := mkShuffle("rshuffle", "r", 0)
			ir := mkShuffle("irshuffle", "ir", 2)

			g, err := depgraph.Build([]*instr.XInst{r, ir})
			Expect(err).NotTo(HaveOccurred())

			sched := coscheduler.NewScheduler(cfg, spec, model, 0, nil)
			xq, _, _, err := sched.Schedule(g)
			Expect(err).NotTo(HaveOccurred())

			var rBundle, irBundle int
			var rFound, irFound bool
			var bexits int
			for _, x := range xq {
				switch x.Header().Op {
				case "rshuffle":
					rBundle = x.Header().Timing.Cycle.Bundle
					rFound = true
				case "irshuffle":
					irBundle = x.Header().Timing.Cycle.Bundle
					irFound = true
				case "bexit":
					bexits++
				}
			}
			Expect(rFound).To(BeTrue())
			Expect(irFound).To(BeTrue())
			Expect(irBundle).To(BeNumerically(">", rBundle),
				"the opposite-kind shuffle must close the rshuffle's bundle and start a fresh one, not livelock")
			Expect(bexits).To(BeNumerically(">=", 1))
		})
	})

	Describe("keygen seed switching", func() {
		It("defers a consumer requiring a different seed to the next bundle instead of livelocking (spec scenario S4)", func() {
			model := mustModel(1<<12, 1<<12, 8)
			cfg := mustConfig(8, "ftbu")

			model.KeygenVars["ka"] = memmodel.KeygenIndex{SeedIdx: 0, KeyIdx: 0}
			model.KeygenVars["kb"] = memmodel.KeygenIndex{SeedIdx: 1, KeyIdx: 0}
			model.NumSeeds = 2

			ka := mustFreshVar("ka", 1)
			kb := mustFreshVar("kb", 1)
			outA := mustFreshVar("outA", 2)
			outB := mustFreshVar("outB", 2)

			mkConsumer := func(k, out *variable.Variable) *instr.XInst {
				x, err := instr.NewXInst(0, "move")
				Expect(err).NotTo(HaveOccurred())
				Expect(spec.ApplyToXInst(x)).To(Succeed())
				x.Header().Dests = []*variable.Variable{out}
				x.Header().Sources = []*variable.Variable{k}
				return x
			}

			moveA := mkConsumer(ka, outA)
			moveB := mkConsumer(kb, outB)

			g, err := depgraph.Build([]*instr.XInst{moveA, moveB})
			Expect(err).NotTo(HaveOccurred())

			sched := coscheduler.NewScheduler(cfg, spec, model, 0, nil)
			xq, cq, _, err := sched.Schedule(g)
			Expect(err).NotTo(HaveOccurred())

			var aBundle, bBundle int
			var aFound, bFound bool
			for _, x := range xq {
				if x.Header().Op != "move" {
					continue
				}
				for _, d := range x.Header().Dests {
					switch d.Name() {
					case "outA":
						aBundle = x.Header().Timing.Cycle.Bundle
						aFound = true
					case "outB":
						bBundle = x.Header().Timing.Cycle.Bundle
						bFound = true
					}
				}
			}
			Expect(aFound).To(BeTrue())
			Expect(bFound).To(BeTrue())
			Expect(bBundle).To(BeNumerically(">", aBundle),
				"the seed-1 consumer must be deferred past a bundle close, not livelock")

			var seedSwitches int
			for _, c := range cq {
				if c.Header().Op == "kg_seed" {
					seedSwitches++
				}
			}
			Expect(seedSwitches).To(Equal(2), "both seeds must be switched into exactly once")
		})
	})

	Describe("constrained memory resources", func() {
		It("schedules three independent adds when SPAD capacity exactly matches the working set", func() {
			model := mustModel(1<<12, 6, 8)
			cfg := mustConfig(8, "lru")

			var insts []*instr.XInst
			addr := 0
			for i, tag := range []string{"1", "2", "3"} {
				a := mustInputVar("a"+tag, 2, addr)
				addr++
				b := mustInputVar("b"+tag, 3, addr)
				addr++
				out := mustFreshVar("out"+tag, 1)
				insts = append(insts, mustBinaryXInst(spec, "add", out, a, b, i))
			}

			g, err := depgraph.Build(insts)
			Expect(err).NotTo(HaveOccurred())

			sched := coscheduler.NewScheduler(cfg, spec, model, 0, nil)
			xq, _, _, err := sched.Schedule(g)
			Expect(err).NotTo(HaveOccurred())

			count := 0
			for _, x := range xq {
				if x.Header().Op == "add" {
					count++
				}
			}
			Expect(count).To(Equal(3))
		})
	})
})

var _ = Describe("draining a finalized schedule into emit.Streams", func() {
	It("calls the sink once per instruction in queue order, via a mocked Streams", func() {
		spec := mustSpec()
		model := mustModel(1<<12, 1<<12, 4)
		cfg := mustConfig(4, "ftbu")

		a := mustInputVar("a", 2, 0)
		b := mustInputVar("b", 3, 1)
		out := mustFreshVar("out", 1)
		add := mustBinaryXInst(spec, "add", out, a, b, 0)

		g, err := depgraph.Build([]*instr.XInst{add})
		Expect(err).NotTo(HaveOccurred())

		sched := coscheduler.NewScheduler(cfg, spec, model, 0, map[string]int{"out": 2})
		xq, cq, mq, err := sched.Schedule(g)
		Expect(err).NotTo(HaveOccurred())

		ctrl := gomock.NewController(gomockReporter{})
		defer ctrl.Finish()
		sink := NewMockStreams(ctrl)

		gomock.InOrder(xstreamExpectations(sink, xq)...)
		gomock.InOrder(cstreamExpectations(sink, cq)...)
		gomock.InOrder(mstreamExpectations(sink, mq)...)

		Expect(emit.Drain(sink, xq, cq, mq)).To(Succeed())
	})
})

func xstreamExpectations(sink *MockStreams, xq []*instr.XInst) []*gomock.Call {
	calls := make([]*gomock.Call, len(xq))
	for i, x := range xq {
		calls[i] = sink.EXPECT().XInst(x).Return(nil)
	}
	return calls
}

func cstreamExpectations(sink *MockStreams, cq []*instr.CInst) []*gomock.Call {
	calls := make([]*gomock.Call, len(cq))
	for i, c := range cq {
		calls[i] = sink.EXPECT().CInst(c).Return(nil)
	}
	return calls
}

func mstreamExpectations(sink *MockStreams, mq []*instr.MInst) []*gomock.Call {
	calls := make([]*gomock.Call, len(mq))
	for i, m := range mq {
		calls[i] = sink.EXPECT().MInst(m).Return(nil)
	}
	return calls
}
