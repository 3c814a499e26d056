// File: scheduler/thread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-fiber/fiber"
)

// ThreadID names a worker of one scheduler. With a folded caller, thread 0
// is the caller; spawned workers follow.
type ThreadID int

// ThreadAny lets any worker run an entry.
const ThreadAny ThreadID = -1

// Thread is a scheduler worker: one goroutine locked to an OS thread that
// runs the dispatch loop and resumes fibers one at a time.
type Thread struct {
	id    ThreadID
	name  string
	sched *Scheduler
	tid   atomic.Int64
	hook  atomic.Bool
}

// ID returns the worker index.
func (t *Thread) ID() ThreadID { return t.id }

// Name returns "<scheduler>_<index>".
func (t *Thread) Name() string { return t.name }

// OSThreadID returns the Linux tid of the worker once it started, else 0.
func (t *Thread) OSThreadID() int { return int(t.tid.Load()) }

// Scheduler returns the owning scheduler.
func (t *Thread) Scheduler() *Scheduler { return t.sched }

// HookEnabled reports whether hooked blocking calls made on this worker
// suspend the calling fiber.
func (t *Thread) HookEnabled() bool { return t.hook.Load() }

// SetHookEnabled toggles blocking-call interception for this worker.
func (t *Thread) SetHookEnabled(v bool) { t.hook.Store(v) }

func (t *Thread) String() string {
	return fmt.Sprintf("%s(tid=%d)", t.name, t.OSThreadID())
}

type schedulerKey struct{}

func withScheduler(ctx context.Context, s *Scheduler) context.Context {
	return context.WithValue(ctx, schedulerKey{}, s)
}

// CurrentThread returns the worker running the fiber carried by ctx, or nil
// outside any scheduler.
func CurrentThread(ctx context.Context) *Thread {
	f := fiber.FromContext(ctx)
	if f == nil {
		return nil
	}
	th, _ := f.Owner().(*Thread)
	return th
}

// FromContext returns the scheduler running the fiber carried by ctx. For
// fibers created by a scheduler but not yet running, the creating scheduler
// is returned.
func FromContext(ctx context.Context) *Scheduler {
	if ctx == nil {
		return nil
	}
	if th := CurrentThread(ctx); th != nil {
		return th.sched
	}
	s, _ := ctx.Value(schedulerKey{}).(*Scheduler)
	return s
}

// CurrentThreadID returns the worker index for ctx, or ThreadAny.
func CurrentThreadID(ctx context.Context) ThreadID {
	if th := CurrentThread(ctx); th != nil {
		return th.id
	}
	return ThreadAny
}
