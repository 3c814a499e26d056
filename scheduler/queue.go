// File: scheduler/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Run queue: one FIFO for entries any worker may take, plus one FIFO per
// worker for pinned entries. Guarded by Scheduler.mu.

package scheduler

import (
	"github.com/eapache/queue"

	"github.com/momentics/hioload-fiber/fiber"
)

// item is a run queue entry: a fiber or a task, never both.
type item struct {
	fiber  *fiber.Fiber
	task   Task
	thread ThreadID
}

type runQueue struct {
	any    *queue.Queue
	pinned []*queue.Queue
	size   int
}

func newRunQueue(threads int) *runQueue {
	rq := &runQueue{
		any:    queue.New(),
		pinned: make([]*queue.Queue, threads),
	}
	for i := range rq.pinned {
		rq.pinned[i] = queue.New()
	}
	return rq
}

func (rq *runQueue) push(it item) {
	if it.thread >= 0 && int(it.thread) < len(rq.pinned) {
		rq.pinned[it.thread].Add(it)
	} else {
		rq.any.Add(it)
	}
	rq.size++
}

// take returns the first entry runnable on thread id. Fiber entries still
// executing elsewhere (scheduled before they finished swapping out) are
// rotated to the back; skipped reports whether that happened.
func (rq *runQueue) take(id ThreadID) (it item, ok bool, skipped bool) {
	queues := [2]*queue.Queue{nil, rq.any}
	if id >= 0 && int(id) < len(rq.pinned) {
		queues[0] = rq.pinned[id]
	}
	for _, q := range queues {
		if q == nil {
			continue
		}
		for n := q.Length(); n > 0; n-- {
			cand := q.Peek().(item)
			if cand.fiber != nil && cand.fiber.State() == fiber.StateExec {
				q.Add(q.Remove())
				skipped = true
				continue
			}
			q.Remove()
			rq.size--
			return cand, true, skipped
		}
	}
	return item{}, false, skipped
}

func (rq *runQueue) len() int { return rq.size }

// lengths reports the shared queue length followed by each pinned queue.
func (rq *runQueue) lengths() []int {
	out := make([]int, 0, len(rq.pinned)+1)
	out = append(out, rq.any.Length())
	for _, q := range rq.pinned {
		out = append(out, q.Length())
	}
	return out
}
