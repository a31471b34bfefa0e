package coscheduler

import (
	"container/heap"

	"github.com/sarchlab/heracles-asm/cycle"
	"github.com/sarchlab/heracles-asm/instr"
)

// readyQueue is the co-scheduler's priority queue of instructions whose
// predecessors have all been scheduled, ordered by (cycle_ready,
// insertion-order) (spec.md §4.4.1).
//
// spec.md §9 describes a binary heap with a lazy-deletion "removed" set
// supporting O(log n) arbitrary removal. container/heap's own Remove
// already provides O(log n) removal by index without a second structure,
// so this reuses the same simplification pisasched.Schedule documents:
// no pack repo carries a third-party priority-queue library, and a lazy
// "removed" set would just be reimplementing what heap.Remove gives for
// free.
type readyQueue struct {
	items []*instr.XInst
	seq   []uint64
	next  uint64
}

func newReadyQueue() *readyQueue { return &readyQueue{} }

func (q *readyQueue) Len() int { return len(q.items) }

func (q *readyQueue) Less(i, j int) bool {
	ci := q.items[i].Header().CycleReady()
	cj := q.items[j].Header().CycleReady()
	if !ci.Equal(cj) {
		return ci.Less(cj)
	}
	return q.seq[i] < q.seq[j]
}

func (q *readyQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.seq[i], q.seq[j] = q.seq[j], q.seq[i]
}

func (q *readyQueue) Push(x any) {
	q.items = append(q.items, x.(*instr.XInst))
	q.seq = append(q.seq, q.next)
	q.next++
}

func (q *readyQueue) Pop() any {
	n := len(q.items)
	x := q.items[n-1]
	q.items = q.items[:n-1]
	q.seq = q.seq[:n-1]
	return x
}

// pushItem inserts x, maintaining heap order.
func (rq *readyQueue) pushItem(x *instr.XInst) { heap.Push(rq, x) }

// popItem removes and returns the earliest-ready instruction.
func (rq *readyQueue) popItem() *instr.XInst {
	return heap.Pop(rq).(*instr.XInst)
}

// FindExactMatch scans for an instruction whose cycle_ready exactly equals
// target, returning its index (spec.md §4.4.2's "immediate" search).
func (rq *readyQueue) FindExactMatch(target cycle.Cycle) (int, bool) {
	for i, x := range rq.items {
		if x.Header().CycleReady().Equal(target) {
			return i, true
		}
	}
	return 0, false
}

// RemoveAt removes and returns the instruction at heap index i.
func (rq *readyQueue) RemoveAt(i int) *instr.XInst {
	return heap.Remove(rq, i).(*instr.XInst)
}
