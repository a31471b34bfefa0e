// Command hecsched is the scheduler's composition root: it loads a P-ISA
// kernel listing and its paired mem-info file, builds the dependency
// graph, enforces keygen ordering, runs the three-queue co-scheduler and
// writes the resulting XInstQ/CInstQ/MInstQ streams. Grounded on
// verify/cmd/verify-axpy/main.go's plain banner-and-log.Fatalf driver
// style; CLI option handling beyond the minimal positional-argument
// parsing below is an external collaborator (spec.md §1/§6), so this
// uses flag from the standard library rather than a CLI framework.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/heracles-asm/coscheduler"
	"github.com/sarchlab/heracles-asm/depgraph"
	"github.com/sarchlab/heracles-asm/emit"
	"github.com/sarchlab/heracles-asm/isaspec"
	"github.com/sarchlab/heracles-asm/kernel"
	"github.com/sarchlab/heracles-asm/memmodel"
	"github.com/sarchlab/heracles-asm/meminfo"
	"github.com/sarchlab/heracles-asm/schedconfig"
)

func main() {
	var (
		isaSpecPath = flag.String("isaspec", "", "path to the ISA-spec TOML file")
		configPath  = flag.String("config", "", "path to a schedconfig YAML file (optional)")
		outPrefix   = flag.String("out", "", "output file prefix; writes <prefix>.xinst/.cinst/.minst (defaults to stdout)")
		dump        = flag.Bool("dump", false, "print the final memory-model state to stderr before exit")
		clientID    = flag.Int("client", 0, "scheduler client id stamped on every instruction")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <kernel-listing> <mem-info>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	kernelPath, memInfoPath := flag.Arg(0), flag.Arg(1)

	fmt.Println("==============================================================================")
	fmt.Println("HERACLES ASM-ISA CO-SCHEDULER")
	fmt.Println("==============================================================================")

	builder := schedconfig.NewBuilder()
	if *configPath != "" {
		var err error
		builder, err = builder.FromYAMLFile(*configPath)
		if err != nil {
			log.Fatalf("loading scheduler config %s: %v", *configPath, err)
		}
	}
	cfg, err := builder.Build()
	if err != nil {
		log.Fatalf("building scheduler config: %v", err)
	}

	if *isaSpecPath == "" {
		log.Fatalf("missing required -isaspec flag: coverage must be loaded before parsing the kernel (spec.md's load-order rule)")
	}
	spec, err := isaspec.Load(*isaSpecPath)
	if err != nil {
		log.Fatalf("loading isa spec %s: %v", *isaSpecPath, err)
	}

	model, err := memmodel.NewModel(cfg.HBMCapacityWords, cfg.SpadCapacityWords, cfg.RegistersPerBank)
	if err != nil {
		log.Fatalf("building memory model: %v", err)
	}

	memInfoFile, err := os.Open(memInfoPath)
	if err != nil {
		log.Fatalf("opening mem-info file %s: %v", memInfoPath, err)
	}
	defer memInfoFile.Close()

	info, err := meminfo.Parse(memInfoFile, model)
	if err != nil {
		log.Fatalf("parsing mem-info file %s: %v", memInfoPath, err)
	}
	fmt.Printf("loaded mem-info: %d output(s), %d metadata entr(y/ies)\n", len(info.Outputs), len(info.Meta))

	kernelFile, err := os.Open(kernelPath)
	if err != nil {
		log.Fatalf("opening kernel listing %s: %v", kernelPath, err)
	}
	defer kernelFile.Close()

	insts, err := kernel.Parse(kernelFile, model, spec)
	if err != nil {
		log.Fatalf("parsing kernel listing %s: %v", kernelPath, err)
	}
	fmt.Printf("loaded kernel: %d P-ISA instruction(s)\n", len(insts))

	graph, err := depgraph.Build(insts)
	if err != nil {
		log.Fatalf("building dependency graph: %v", err)
	}
	if err := depgraph.EnforceKeygenOrdering(graph, model); err != nil {
		log.Fatalf("enforcing keygen ordering: %v", err)
	}

	sched := coscheduler.NewScheduler(cfg, spec, model, *clientID, info.Outputs)
	xq, cq, mq, err := sched.Schedule(graph)
	if err != nil {
		fmt.Fprintln(os.Stderr, model.DumpState())
		log.Fatalf("scheduling kernel: %v", err)
	}
	fmt.Printf("scheduled: %d xinst, %d cinst, %d minst\n", len(xq), len(cq), len(mq))

	xOut, cOut, mOut, closeOutputs, err := openOutputs(*outPrefix)
	if err != nil {
		log.Fatalf("opening output streams: %v", err)
	}
	defer closeOutputs()

	writer := emit.NewWriter(xOut, cOut, mOut, cfg.MaxBundle)
	if err := emit.Drain(writer, xq, cq, mq); err != nil {
		log.Fatalf("emitting instruction streams: %v", err)
	}

	if *dump {
		fmt.Fprintf(os.Stderr, "replacement policy: %s\n", cfg.ReplacementPolicy)
		fmt.Fprintln(os.Stderr, model.DumpState())
	}

	atexit.Register(func() {
		fmt.Println("==============================================================================")
		fmt.Println("hecsched: done")
	})
	atexit.Exit(0)
}

// openOutputs resolves the XInstQ/CInstQ/MInstQ sinks: three named files
// under prefix, or stdout for all three if prefix is empty.
func openOutputs(prefix string) (xOut, cOut, mOut *os.File, closeAll func(), err error) {
	if prefix == "" {
		return os.Stdout, os.Stdout, os.Stdout, func() {}, nil
	}

	x, err := os.Create(prefix + ".xinst")
	if err != nil {
		return nil, nil, nil, nil, err
	}
	c, err := os.Create(prefix + ".cinst")
	if err != nil {
		x.Close()
		return nil, nil, nil, nil, err
	}
	m, err := os.Create(prefix + ".minst")
	if err != nil {
		x.Close()
		c.Close()
		return nil, nil, nil, nil, err
	}
	return x, c, m, func() { x.Close(); c.Close(); m.Close() }, nil
}
