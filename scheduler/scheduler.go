// File: scheduler/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// M:N scheduler: fibers and tasks are multiplexed over a fixed pool of
// worker threads. Each worker runs a dispatch loop that resumes one entry at
// a time and falls back to an idle fiber when nothing is runnable.

package scheduler

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-fiber/affinity"
	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/internal/invariant"
	"github.com/momentics/hioload-fiber/internal/logging"
)

// Task is a plain callback run inside a recycled fiber. ctx carries that
// fiber, so the task may yield.
type Task func(ctx context.Context)

// Item is one entry for ScheduleBatch. Exactly one of Fiber and Task should
// be set; items with neither are dropped.
type Item struct {
	Fiber  *fiber.Fiber
	Task   Task
	Thread ThreadID
}

// Scheduler runs fibers and tasks on a pool of worker threads.
type Scheduler struct {
	name    string
	log     *logging.Logger
	metrics *control.Metrics
	backend api.Backend
	pinCPU  bool
	baseCtx context.Context

	mu      sync.Mutex
	queue   *runQueue
	threads []*Thread
	started bool

	spawned    int
	rootThread *Thread
	rootFiber  *fiber.Fiber

	active   atomic.Int64
	idle     atomic.Int64
	stopping atomic.Bool
	stopOnce sync.Once
	group    errgroup.Group
	wake     chan struct{}
}

// New creates a scheduler with threads workers. With foldCaller the
// constructing goroutine counts as worker 0 and drains the queue inside
// Stop, so only threads-1 workers are spawned.
func New(threads int, foldCaller bool, opts ...Option) *Scheduler {
	cfg := resolveOptions(opts)
	log := logging.Or(cfg.logger)
	if threads <= 0 {
		invariant.Violate(log, "scheduler.new", "thread count must be positive, got %d", threads)
	}
	s := &Scheduler{
		name:    cfg.name,
		log:     log,
		metrics: cfg.metrics,
		pinCPU:  cfg.pinCPU,
		queue:   newRunQueue(threads),
		spawned: threads,
		wake:    make(chan struct{}, threads),
	}
	s.baseCtx = withScheduler(context.Background(), s)
	s.backend = cfg.backend
	if s.backend == nil {
		s.backend = &baseBackend{s: s}
	}
	for i := 0; i < threads; i++ {
		th := &Thread{id: ThreadID(i), name: s.name + "_" + strconv.Itoa(i), sched: s}
		th.hook.Store(cfg.hookEnabled)
		s.threads = append(s.threads, th)
	}
	if foldCaller {
		s.spawned--
		s.rootThread = s.threads[0]
		root := s.rootThread
		s.rootFiber = fiber.New(func(ctx context.Context) {
			tid, unlock, _ := affinity.PinWorker(0, false)
			defer unlock()
			root.tid.Store(int64(tid))
			if err := s.run(ctx, root); err != nil {
				invariant.Violate(s.log, "scheduler.run", "%v", err)
			}
		}, fiber.WithFoldCaller(true), fiber.WithContext(s.baseCtx), fiber.WithLogger(log), fiber.WithMetrics(cfg.metrics))
		s.rootFiber.SetOwner(root)
	}
	if cfg.probes != nil {
		s.registerProbes(cfg.probes)
	}
	return s
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string { return s.name }

// Threads returns the workers, the folded caller first when present.
func (s *Scheduler) Threads() []*Thread {
	return append([]*Thread(nil), s.threads...)
}

// Backend returns the installed backend.
func (s *Scheduler) Backend() api.Backend { return s.backend }

// Logger returns the scheduler's logger.
func (s *Scheduler) Logger() *logging.Logger { return s.log }

// Metrics returns the scheduler's collectors, possibly nil.
func (s *Scheduler) Metrics() *control.Metrics { return s.metrics }

// Context returns a context bound to this scheduler, used as parent for
// fibers it creates.
func (s *Scheduler) Context() context.Context { return s.baseCtx }

// Start spawns the workers. It is a no-op once started or stopping.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopping.Load() {
		return
	}
	s.started = true
	s.log.Info().
		Str("scheduler", s.name).
		Int("threads", len(s.threads)).
		Bool("fold_caller", s.rootFiber != nil).
		Log("scheduler starting")
	first := len(s.threads) - s.spawned
	for _, th := range s.threads[first:] {
		s.group.Go(func() error {
			return s.threadMain(th)
		})
	}
}

// threadMain is the body of a spawned worker goroutine.
func (s *Scheduler) threadMain(th *Thread) error {
	tid, unlock, err := affinity.PinWorker(int(th.id), s.pinCPU)
	defer unlock()
	th.tid.Store(int64(tid))
	if err != nil {
		s.log.Warning().Str("thread", th.name).Err(err).Log("cpu pinning failed")
	}
	main, ctx := fiber.GetThis(s.baseCtx)
	main.SetOwner(th)
	defer main.Release()
	return s.run(ctx, th)
}

// Stop drains the queue and joins every worker. It is idempotent and safe
// to call from the goroutine that constructed a caller-folded scheduler. It
// must not be called from a task running on one of this scheduler's
// workers.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(s.stop)
}

func (s *Scheduler) stop() {
	if s.rootFiber != nil && s.spawned == 0 {
		if st := s.rootFiber.State(); st == fiber.StateInit || st.Terminal() {
			s.stopping.Store(true)
			if s.Stopping() {
				s.rootFiber.Release()
				s.log.Info().Str("scheduler", s.name).Log("scheduler stopped")
				return
			}
		}
	}
	s.stopping.Store(true)
	for i := 0; i < len(s.threads); i++ {
		s.Tickle()
	}
	if s.rootFiber != nil && !s.Stopping() {
		if st := s.rootFiber.State(); !st.Terminal() {
			s.rootFiber.Resume()
		}
	}
	if err := s.group.Wait(); err != nil {
		invariant.Violate(s.log, "scheduler.stop", "worker join failed: %v", err)
	}
	if s.rootFiber != nil {
		s.rootFiber.Release()
	}
	s.log.Info().Str("scheduler", s.name).Log("scheduler stopped")
}

// Schedule queues a task for any worker.
func (s *Scheduler) Schedule(task Task) {
	s.ScheduleOn(task, ThreadAny)
}

// ScheduleOn queues a task pinned to a worker, or ThreadAny.
func (s *Scheduler) ScheduleOn(task Task, thread ThreadID) {
	if task == nil {
		return
	}
	s.enqueue(item{task: task, thread: s.checkThread(thread)})
}

// ScheduleFiber queues a fiber pinned to a worker, or ThreadAny.
func (s *Scheduler) ScheduleFiber(f *fiber.Fiber, thread ThreadID) {
	if f == nil {
		return
	}
	s.enqueue(item{fiber: f, thread: s.checkThread(thread)})
}

// ScheduleBatch queues items under one lock acquisition with at most one
// wake signal.
func (s *Scheduler) ScheduleBatch(items []Item) {
	need := false
	n := 0
	s.mu.Lock()
	for _, it := range items {
		if it.Fiber == nil && it.Task == nil {
			continue
		}
		if s.pushLocked(item{fiber: it.Fiber, task: it.Task, thread: s.checkThread(it.Thread)}) {
			need = true
		}
		n++
	}
	s.mu.Unlock()
	s.metrics.RecordScheduled(n)
	if need {
		s.Tickle()
	}
}

func (s *Scheduler) enqueue(it item) {
	s.mu.Lock()
	need := s.pushLocked(it)
	s.mu.Unlock()
	s.metrics.RecordScheduled(1)
	if need {
		s.Tickle()
	}
}

// pushLocked reports whether a worker should be woken: the queue was empty
// or the entry is pinned.
func (s *Scheduler) pushLocked(it item) bool {
	wasEmpty := s.queue.len() == 0
	s.queue.push(it)
	return wasEmpty || it.thread != ThreadAny
}

func (s *Scheduler) checkThread(id ThreadID) ThreadID {
	if id == ThreadAny || (id >= 0 && int(id) < len(s.threads)) {
		return id
	}
	s.log.Warning().Str("scheduler", s.name).Int("thread", int(id)).Log("unknown thread, scheduling on any worker")
	return ThreadAny
}

// Tickle wakes an idle worker through the backend.
func (s *Scheduler) Tickle() {
	s.metrics.RecordTickle()
	s.backend.Tickle()
}

// Stopping is the effective stopping predicate, including the backend's.
func (s *Scheduler) Stopping() bool { return s.backend.Stopping() }

// BaseStopping reports stop requested, queue empty and no worker running
// an entry.
func (s *Scheduler) BaseStopping() bool {
	if !s.stopping.Load() {
		return false
	}
	s.mu.Lock()
	empty := s.queue.len() == 0
	s.mu.Unlock()
	return empty && s.active.Load() == 0
}

// StopRequested reports whether Stop has been called.
func (s *Scheduler) StopRequested() bool { return s.stopping.Load() }

// HasIdleThreads reports whether some worker is running its idle fiber.
func (s *Scheduler) HasIdleThreads() bool { return s.idle.Load() > 0 }

// IdleThreads returns the number of idle workers.
func (s *Scheduler) IdleThreads() int { return int(s.idle.Load()) }

// ActiveThreads returns the number of workers running an entry.
func (s *Scheduler) ActiveThreads() int { return int(s.active.Load()) }

// Queued returns the number of entries waiting in the run queue.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// SwitchTo moves the calling fiber to the given worker. It returns at once
// when the fiber already runs there.
func (s *Scheduler) SwitchTo(ctx context.Context, thread ThreadID) {
	f := fiber.FromContext(ctx)
	if f == nil || f.IsMain() {
		invariant.Violate(s.log, "scheduler.switch_to", "switch_to outside a schedulable fiber")
	}
	if cur := CurrentThread(ctx); cur != nil && cur.sched == s && (thread == ThreadAny || thread == cur.id) {
		return
	}
	s.ScheduleFiber(f, thread)
	f.YieldToHold()
}

// run is the per-worker dispatch loop. ctx carries the worker's main fiber.
func (s *Scheduler) run(ctx context.Context, th *Thread) error {
	s.log.Info().Str("thread", th.name).Uint64("main_fiber", fiber.ID(ctx)).Log("worker started")
	defer s.log.Info().Str("thread", th.name).Log("worker stopped")

	idle := fiber.New(func(ctx context.Context) {
		s.backend.Idle(ctx)
	}, fiber.WithContext(s.baseCtx), fiber.WithLogger(s.log), fiber.WithMetrics(s.metrics))
	var cb *fiber.Fiber
	defer func() {
		if cb != nil {
			cb.Release()
		}
		idle.Release()
	}()

	for {
		s.mu.Lock()
		it, ok, skipped := s.queue.take(th.id)
		if ok {
			s.active.Add(1)
		}
		tickle := skipped || s.queue.len() > 0
		s.mu.Unlock()
		if tickle {
			s.Tickle()
		}

		switch {
		case ok && it.fiber != nil:
			f := it.fiber
			if f.State().Terminal() {
				s.active.Add(-1)
				continue
			}
			f.SetOwner(th)
			s.metrics.SetActiveThreads(int(s.active.Load()))
			st := f.Resume()
			s.active.Add(-1)
			if st == fiber.StateReady {
				s.ScheduleFiber(f, ThreadAny)
			}

		case ok && it.task != nil:
			if cb == nil {
				cb = fiber.New(fiber.Entry(it.task), fiber.WithContext(s.baseCtx), fiber.WithLogger(s.log), fiber.WithMetrics(s.metrics))
			} else {
				cb.Reset(fiber.Entry(it.task))
			}
			cb.SetOwner(th)
			s.metrics.SetActiveThreads(int(s.active.Load()))
			st := cb.Resume()
			s.active.Add(-1)
			switch {
			case st == fiber.StateReady:
				s.ScheduleFiber(cb, ThreadAny)
				cb = nil
			case st.Terminal():
			default:
				// parked: whoever holds it now resumes it
				cb = nil
			}

		case ok:
			invariant.Violate(s.log, "scheduler.run", "queue entry without fiber or task")

		default:
			if idle.State().Terminal() {
				if idle.State() == fiber.StateExcept {
					return fmt.Errorf("scheduler %s: idle fiber of %s failed", s.name, th.name)
				}
				return nil
			}
			s.metrics.SetIdleThreads(int(s.idle.Add(1)))
			idle.SetOwner(th)
			idle.Resume()
			s.metrics.SetIdleThreads(int(s.idle.Add(-1)))
		}
	}
}

// Dump writes a human readable summary of the scheduler state.
func (s *Scheduler) Dump(w io.Writer) error {
	s.mu.Lock()
	lengths := s.queue.lengths()
	s.mu.Unlock()
	_, err := fmt.Fprintf(w,
		"[Scheduler name=%s size=%d active=%d idle=%d stopping=%t fold_caller=%t queued=%v]\n",
		s.name, len(s.threads), s.active.Load(), s.idle.Load(), s.stopping.Load(), s.rootFiber != nil, lengths)
	if err != nil {
		return err
	}
	for _, th := range s.threads {
		if _, err := fmt.Fprintf(w, "    %s hook=%t\n", th, th.HookEnabled()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) registerProbes(p api.Debug) {
	prefix := "scheduler." + s.name + "."
	p.RegisterProbe(prefix+"threads", func() any { return len(s.threads) })
	p.RegisterProbe(prefix+"active", func() any { return s.ActiveThreads() })
	p.RegisterProbe(prefix+"idle", func() any { return s.IdleThreads() })
	p.RegisterProbe(prefix+"queued", func() any { return s.Queued() })
	p.RegisterProbe(prefix+"stopping", func() any { return s.stopping.Load() })
}

// Go schedules task on the scheduler running ctx. It fails outside a
// scheduler.
func Go(ctx context.Context, task Task) error {
	s := FromContext(ctx)
	if s == nil {
		return api.ErrNotInFiber
	}
	s.Schedule(task)
	return nil
}
