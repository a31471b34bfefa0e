// Package pisasched implements the simple single-queue scheduler that
// assigns a timed P-ISA stream from a dependency graph: every instruction
// gets a (bundle=0, cycle) timing in topological order, respecting source
// readiness and throughput, with `nop` padding for idle gaps. It is
// secondary to the three-queue co-scheduler (package coscheduler) but
// serves external consumers that only need a timed P-ISA stream. Grounded
// on stages/scheduler.py's schedulePISAInstructions.
package pisasched

import (
	"container/heap"

	"github.com/pkg/errors"

	"github.com/sarchlab/heracles-asm/cycle"
	"github.com/sarchlab/heracles-asm/depgraph"
	"github.com/sarchlab/heracles-asm/instr"
)

// priorityQueue orders XInsts by cycle-ready only; instructions with equal
// cycle-ready leave the heap in no defined order. heap.Remove supports
// O(log n) removal from the middle, mirroring heapq.heapify + manual pop.
type priorityQueue []*instr.XInst

func (q priorityQueue) Len() int { return len(q) }
func (q priorityQueue) Less(i, j int) bool {
	return q[i].Header().CycleReady().Less(q[j].Header().CycleReady())
}
func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *priorityQueue) Push(x any)   { *q = append(*q, x.(*instr.XInst)) }
func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// Schedule assigns ScheduleTiming to every instruction reachable from g in
// dependency order, returning the timed stream plus the total idle-cycle
// count and number of injected nops.
func Schedule(g *depgraph.Graph) ([]*instr.XInst, int, int, error) {
	ids := g.Nodes()
	indegree := make(map[instr.ID]int, len(ids))
	for _, id := range ids {
		indegree[id] = len(g.Predecessors(id))
	}

	pq := &priorityQueue{}
	heap.Init(pq)
	enqueued := make(map[instr.ID]bool, len(ids))

	enqueue := func(id instr.ID) {
		if enqueued[id] {
			return
		}
		enqueued[id] = true
		x, ok := g.Instruction(id)
		if !ok {
			return
		}
		heap.Push(pq, x)
	}
	for _, id := range ids {
		if indegree[id] == 0 {
			enqueue(id)
		}
	}

	scheduled := make([]*instr.XInst, 0, len(ids))
	idleCycles := 0
	numNops := 0
	currentCycle := cycle.New(0, 1)
	scheduledCount := 0

	for scheduledCount < len(ids) {
		if pq.Len() == 0 {
			return nil, 0, 0, errors.New("pisasched: instruction stream starved before every node was scheduled (cyclic dependency?)")
		}

		matchIdx := -1
		for i, x := range *pq {
			if x.Header().CycleReady().Equal(currentCycle) {
				matchIdx = i
				break
			}
		}

		if matchIdx < 0 {
			head := (*pq)[0]
			ready := head.Header().CycleReady()
			if ready.Compare(currentCycle) > 0 {
				idle := ready.Cycle - currentCycle.Cycle
				idleCycles += idle
				nop, err := instr.NewXInst(head.Header().ID.Client, "nop")
				if err != nil {
					return nil, 0, 0, err
				}
				nop.Header().Throughput = idle
				nop.Header().Latency = idle
				nop.Header().Schedule(currentCycle, len(scheduled)+1)
				scheduled = append(scheduled, nop)
				numNops++
				currentCycle = currentCycle.Add(idle)
				continue
			}
		}

		idx := matchIdx
		if idx < 0 {
			idx = 0
		}
		x := heap.Remove(pq, idx).(*instr.XInst)

		x.Header().Schedule(currentCycle, len(scheduled)+1)
		scheduled = append(scheduled, x)
		scheduledCount++

		completion := currentCycle.Add(x.Header().Latency)
		for _, v := range x.Header().Dests {
			v.SetCycleReady(cycle.Max(v.CycleReady(), completion))
		}
		for _, v := range x.Header().Sources {
			v.SetCycleReady(cycle.Max(v.CycleReady(), completion))
		}

		currentCycle = currentCycle.Add(x.Header().Throughput)

		for _, dep := range g.Successors(x.Header().ID) {
			indegree[dep]--
			if indegree[dep] == 0 {
				enqueue(dep)
			}
		}
	}

	return scheduled, idleCycles, numNops, nil
}
