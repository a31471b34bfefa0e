// Package depgraph builds the def/use dependency DAG over a flat P-ISA
// instruction listing and enforces keygen ordering within it. Grounded on
// the original assembler's stages/scheduler.py:
// generateInstrDependencyGraph, enforceKeygenOrdering,
// __orderKeygenVars and __findVarInPrevDeps.
package depgraph

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/instr"
	"github.com/sarchlab/heracles-asm/variable"
)

type node struct {
	inst  *instr.XInst
	preds map[instr.ID]bool
	succs map[instr.ID]bool
}

// Graph is a directed acyclic graph of XInst def/use and WAR/WAW
// dependencies.
type Graph struct {
	nodes map[instr.ID]*node
	order []instr.ID // insertion order, for deterministic iteration
}

func newGraph() *Graph {
	return &Graph{nodes: make(map[instr.ID]*node)}
}

// addNode registers x as a node if not already present.
func (g *Graph) addNode(x *instr.XInst) {
	id := x.Header().ID
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &node{inst: x, preds: make(map[instr.ID]bool), succs: make(map[instr.ID]bool)}
	g.order = append(g.order, id)
}

// addEdge records that `from` must be scheduled before `to`. Self-edges are
// dropped, matching the original's `inst_dep.id != inst.id` guards.
func (g *Graph) addEdge(from, to instr.ID) {
	if from == to {
		return
	}
	if _, ok := g.nodes[from]; !ok {
		return
	}
	if _, ok := g.nodes[to]; !ok {
		return
	}
	g.nodes[from].succs[to] = true
	g.nodes[to].preds[from] = true
}

// Instruction returns the XInst for a node id.
func (g *Graph) Instruction(id instr.ID) (*instr.XInst, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.inst, true
}

// Predecessors returns the direct dependency ids of id.
func (g *Graph) Predecessors(id instr.ID) []instr.ID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := make([]instr.ID, 0, len(n.preds))
	for p := range n.preds {
		out = append(out, p)
	}
	return out
}

// Successors returns the direct dependents of id.
func (g *Graph) Successors(id instr.ID) []instr.ID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := make([]instr.ID, 0, len(n.succs))
	for s := range n.succs {
		out = append(out, s)
	}
	return out
}

// Nodes returns every node id, in insertion order.
func (g *Graph) Nodes() []instr.ID {
	out := make([]instr.ID, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// varTracking mirrors the original's VarTracking NamedTuple: the last
// instruction to write a variable, plus every instruction that has read it
// since that write.
type varTracking struct {
	lastWrite          *instr.XInst
	readsAfterLastWrite []*instr.XInst
}

// Build constructs the dependency DAG for a flat P-ISA instruction listing:
// a write depends on every read since the previous write (or on the
// previous write itself, if unread); a read depends on the last write.
// Grounded on generateInstrDependencyGraph.
func Build(insts []*instr.XInst) (*Graph, error) {
	g := newGraph()
	for _, x := range insts {
		g.addNode(x)
	}

	vars := make(map[string]*varTracking)

	for idx, x := range insts {
		id := x.Header().ID
		elem := variable.AccessElement{Index: idx, InstructionID: [2]uint64{uint64(id.Client), id.Nonce}}
		for _, v := range x.Header().Dests {
			v.AccessedByXInsts = append(v.AccessedByXInsts, elem)
		}
		for _, v := range x.Header().Sources {
			v.AccessedByXInsts = append(v.AccessedByXInsts, elem)
		}

		for _, v := range x.Header().Dests {
			name := v.Name()
			if t, ok := vars[name]; ok {
				if len(t.readsAfterLastWrite) > 0 {
					for _, dep := range t.readsAfterLastWrite {
						g.addEdge(dep.Header().ID, x.Header().ID)
					}
				} else if t.lastWrite != nil {
					g.addEdge(t.lastWrite.Header().ID, x.Header().ID)
				}
			}
			vars[name] = &varTracking{lastWrite: x}
		}

		for _, v := range x.Header().Sources {
			name := v.Name()
			t, ok := vars[name]
			if !ok {
				t = &varTracking{}
				vars[name] = t
			}
			if t.lastWrite != nil {
				g.addEdge(t.lastWrite.Header().ID, x.Header().ID)
			}
			t.readsAfterLastWrite = append(t.readsAfterLastWrite, x)
		}
	}

	if err := verifyDAG(g); err != nil {
		return nil, err
	}
	return g, nil
}

// verifyDAG runs Kahn's algorithm and fails if any node remains unvisited,
// meaning a cycle exists (the original's `assert nx.is_directed_acyclic_graph`).
func verifyDAG(g *Graph) error {
	indegree := make(map[instr.ID]int, len(g.nodes))
	for id, n := range g.nodes {
		indegree[id] = len(n.preds)
	}

	queue := make([]instr.ID, 0)
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	visited := roaring64.New()
	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited.Contains(id.Nonce) {
			continue
		}
		visited.Add(id.Nonce)
		processed++
		for s := range g.nodes[id].succs {
			indegree[s]--
			if indegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}

	if processed != len(g.nodes) {
		return errors.New("depgraph: dependency graph contains a cycle")
	}
	return nil
}
