// File: iomanager/iomanager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// IOManager is a scheduler whose idle workers block in the reactor. A fiber
// waiting for a descriptor registers an edge-triggered event and parks; the
// idle loop turns readiness reports and expired timers back into scheduled
// work.

package iomanager

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/internal/invariant"
	"github.com/momentics/hioload-fiber/internal/logging"
	"github.com/momentics/hioload-fiber/reactor"
	"github.com/momentics/hioload-fiber/scheduler"
	"github.com/momentics/hioload-fiber/timer"
)

const (
	initialFds = 32
	maxEvents  = 256

	// stopPoll bounds a reactor wait that starts after Stop was requested.
	stopPoll = 10 * time.Millisecond
)

var (
	_ api.Backend       = (*IOManager)(nil)
	_ api.FrontNotifier = (*IOManager)(nil)
)

// IOManager multiplexes fibers over workers and parks them on descriptor
// readiness and timers.
type IOManager struct {
	*scheduler.Scheduler
	*timer.Manager

	poller  reactor.Poller
	log     *logging.Logger
	metrics *control.Metrics
	maxWait time.Duration
	limiter *catrate.Limiter

	mu      sync.RWMutex
	fds     []*FdContext
	pending atomic.Int64
	waiting atomic.Int32

	closeOnce sync.Once
}

// New creates the reactor, the timer set and the scheduler, and starts the
// workers.
func New(threads int, foldCaller bool, opts ...Option) (*IOManager, error) {
	cfg := resolveOptions(opts)
	poller := cfg.poller
	if poller == nil {
		var err error
		if poller, err = reactor.NewPoller(); err != nil {
			return nil, fmt.Errorf("iomanager %s: %w", cfg.name, err)
		}
	}
	log := logging.Or(cfg.logger)
	m := &IOManager{
		poller:  poller,
		log:     log,
		metrics: cfg.metrics,
		maxWait: cfg.maxWait,
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 5,
			time.Minute: 60,
		}),
	}
	m.Manager = timer.NewManager(
		timer.WithClock(cfg.clock),
		timer.WithLogger(log),
		timer.WithFrontNotifier(m.OnTimerInsertedAtFront),
	)
	m.Scheduler = scheduler.New(threads, foldCaller,
		scheduler.WithName(cfg.name),
		scheduler.WithLogger(log),
		scheduler.WithBackend(m),
		scheduler.WithMetrics(cfg.metrics),
		scheduler.WithProbes(cfg.probes),
		scheduler.WithCPUAffinity(cfg.pinCPU),
		scheduler.WithHookEnabled(true),
	)
	m.resize(initialFds)
	if cfg.probes != nil {
		prefix := "iomanager." + cfg.name + "."
		cfg.probes.RegisterProbe(prefix+"pending_events", func() any { return m.PendingEvents() })
		cfg.probes.RegisterProbe(prefix+"timers", func() any { return m.Len() })
		cfg.probes.RegisterProbe(prefix+"fd_table", func() any { return m.tableSize() })
	}
	m.Start()
	return m, nil
}

// FromContext returns the IOManager whose worker runs ctx, or nil.
func FromContext(ctx context.Context) *IOManager {
	s := scheduler.FromContext(ctx)
	if s == nil {
		return nil
	}
	m, _ := s.Backend().(*IOManager)
	return m
}

func (m *IOManager) resize(n int) {
	for len(m.fds) < n {
		m.fds = append(m.fds, &FdContext{fd: len(m.fds)})
	}
}

func (m *IOManager) tableSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fds)
}

// lookup returns the context of fd, growing the table when grow is set.
func (m *IOManager) lookup(fd int, grow bool) *FdContext {
	m.mu.RLock()
	if fd < len(m.fds) {
		fc := m.fds[fd]
		m.mu.RUnlock()
		return fc
	}
	m.mu.RUnlock()
	if !grow {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if fd >= len(m.fds) {
		m.resize(max(fd*3/2, fd+1))
	}
	return m.fds[fd]
}

func checkEvent(log *logging.Logger, op string, ev Event) {
	if ev != Read && ev != Write {
		invariant.Violate(log, op, "event must be READ or WRITE, got %s", ev)
	}
}

// AddEvent arms ev on fd. When cb is nil the fiber carried by ctx becomes
// the waiter and is expected to yield right after; otherwise cb is
// scheduled on readiness. Arming an event that is already armed is an
// invariant violation.
func (m *IOManager) AddEvent(ctx context.Context, fd int, ev Event, cb scheduler.Task) error {
	if fd < 0 {
		return api.ErrInvalidHandle
	}
	checkEvent(m.log, "iomanager.add_event", ev)
	fc := m.lookup(fd, true)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.events&ev != 0 {
		invariant.Violate(m.log, "iomanager.add_event", "fd=%d event %s already armed (mask=%s)", fd, ev, fc.events)
	}

	var waiter *fiber.Fiber
	if cb == nil {
		waiter = fiber.FromContext(ctx)
		if waiter == nil || waiter.IsMain() {
			invariant.Violate(m.log, "iomanager.add_event", "fd=%d event %s: no callback and no schedulable fiber", fd, ev)
		}
	}

	mask := uint32(fc.events | ev)
	var (
		err error
		op  string
	)
	if fc.events == None {
		op = "add"
		err = m.poller.Add(fd, mask)
	} else {
		op = "mod"
		err = m.poller.Modify(fd, mask)
	}
	if err != nil {
		m.armFailed(fd, op, Event(mask), err)
		return api.NewError(api.ErrCodeEventArm, "iomanager: arm event failed").
			WithContext("fd", fd).
			WithContext("op", op).
			WithContext("events", Event(mask).String()).
			WithCause(err)
	}

	m.metrics.SetPendingEvents(int(m.pending.Add(1)))
	fc.events |= ev
	ec := fc.contextFor(ev, m.log)
	invariant.Check(ec.empty(), m.log, "iomanager.add_event", "fd=%d event %s has a stale waiter", fd, ev)
	ec.sched = scheduler.FromContext(ctx)
	if ec.sched == nil {
		ec.sched = m.Scheduler
	}
	if cb != nil {
		ec.task = cb
	} else {
		ec.fiber = waiter
	}
	return nil
}

// DelEvent disarms ev on fd without running its waiter.
func (m *IOManager) DelEvent(fd int, ev Event) bool {
	return m.remove(fd, ev, false)
}

// CancelEvent disarms ev on fd and runs its waiter once.
func (m *IOManager) CancelEvent(fd int, ev Event) bool {
	return m.remove(fd, ev, true)
}

func (m *IOManager) remove(fd int, ev Event, fire bool) bool {
	checkEvent(m.log, "iomanager.remove_event", ev)
	fc := m.lookup(fd, false)
	if fc == nil {
		return false
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.events&ev == 0 {
		return false
	}
	m.rearm(fc, fc.events&^ev)
	if fire {
		fc.trigger(ev, m.log)
	} else {
		fc.events &^= ev
		fc.contextFor(ev, m.log).reset()
	}
	m.metrics.SetPendingEvents(int(m.pending.Add(-1)))
	return true
}

// CancelAll disarms every event on fd and runs each waiter once.
func (m *IOManager) CancelAll(fd int) bool {
	fc := m.lookup(fd, false)
	if fc == nil {
		return false
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.events == None {
		return false
	}
	m.rearm(fc, None)
	for _, ev := range [...]Event{Read, Write} {
		if fc.events&ev != 0 {
			fc.trigger(ev, m.log)
			m.metrics.SetPendingEvents(int(m.pending.Add(-1)))
		}
	}
	return true
}

// rearm updates the kernel registration of fc to left, deleting it when
// nothing remains. A failure is logged only: the descriptor is most likely
// closed already and the waiters must still be released. Caller holds
// fc.mu.
func (m *IOManager) rearm(fc *FdContext, left Event) {
	var (
		err error
		op  string
	)
	if left == None {
		op = "del"
		err = m.poller.Delete(fc.fd)
	} else {
		op = "mod"
		err = m.poller.Modify(fc.fd, uint32(left))
	}
	if err != nil {
		m.armFailed(fc.fd, op, left, err)
	}
}

// armFailed logs a registration failure, at most a few times per fd and
// window.
func (m *IOManager) armFailed(fd int, op string, ev Event, err error) {
	m.metrics.RecordArmFailure()
	if _, ok := m.limiter.Allow(fd); !ok {
		return
	}
	m.log.Err().
		Str("iomanager", m.Name()).
		Int("fd", fd).
		Str("op", op).
		Str("events", ev.String()).
		Err(err).
		Log("epoll_ctl failed")
}

// Events returns the armed mask of fd.
func (m *IOManager) Events(fd int) Event {
	fc := m.lookup(fd, false)
	if fc == nil {
		return None
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.events
}

// PendingEvents returns the number of armed events across all
// descriptors.
func (m *IOManager) PendingEvents() int { return int(m.pending.Load()) }

// Tickle wakes a worker blocked in the reactor. Without idle workers there
// is nobody to wake and the write is skipped.
func (m *IOManager) Tickle() {
	if !m.HasIdleThreads() {
		return
	}
	if err := m.poller.Wake(); err != nil {
		m.log.Warning().Str("iomanager", m.Name()).Err(err).Log("tickle failed")
	}
}

// OnTimerInsertedAtFront wakes a worker so its reactor wait is recomputed
// against the new earliest deadline.
func (m *IOManager) OnTimerInsertedAtFront() {
	m.Tickle()
}

// Stopping extends the scheduler predicate: no timer and no armed event
// may remain.
func (m *IOManager) Stopping() bool {
	_, stop := m.stoppingWithTimeout()
	return stop
}

// stoppingWithTimeout also returns the time until the next timer, or -1
// when none is held.
func (m *IOManager) stoppingWithTimeout() (time.Duration, bool) {
	next, ok := m.NextDeadline()
	if !ok {
		next = -1
	}
	return next, !ok && m.pending.Load() == 0 && m.BaseStopping()
}

// Idle is the body of every worker's idle fiber: it waits for readiness or
// the next deadline, schedules what became runnable and yields back to the
// dispatch loop.
func (m *IOManager) Idle(ctx context.Context) {
	events := make([]reactor.Event, maxEvents)
	relayed := false
	for {
		next, stop := m.stoppingWithTimeout()
		if stop {
			m.log.Debug().Str("iomanager", m.Name()).Uint64("fiber", fiber.ID(ctx)).Log("idle exit")
			return
		}
		wait := m.maxWait
		if next >= 0 && next < wait {
			wait = next
		}
		if m.StopRequested() && wait > stopPoll {
			wait = stopPoll
		}

		began := time.Now()
		m.waiting.Add(1)
		n, err := m.poller.Wait(events, int((wait+time.Millisecond-1)/time.Millisecond))
		blocked := m.waiting.Add(-1)
		m.metrics.ObserveReactorWait(time.Since(began))

		// Stop tickles every worker, but the wake pipe is edge-triggered and
		// releases a single waiter. Each worker passes the wake on once, so
		// waits that began before Stop end too.
		if !relayed && blocked > 0 && m.StopRequested() {
			relayed = true
			if err := m.poller.Wake(); err != nil {
				m.log.Warning().Str("iomanager", m.Name()).Err(err).Log("stop relay failed")
			}
		}
		if err != nil {
			if _, ok := m.limiter.Allow("wait"); ok {
				m.log.Err().Str("iomanager", m.Name()).Err(err).Log("reactor wait failed")
			}
		}

		if cbs := m.PopExpired(); len(cbs) != 0 {
			items := make([]scheduler.Item, 0, len(cbs))
			for _, cb := range cbs {
				if cb == nil {
					continue
				}
				items = append(items, scheduler.Item{
					Task:   func(context.Context) { cb() },
					Thread: scheduler.ThreadAny,
				})
			}
			m.metrics.RecordTimersFired(len(items))
			m.ScheduleBatch(items)
		}

		for i := 0; i < n; i++ {
			m.dispatch(events[i])
		}

		fiber.YieldToHold(ctx)
	}
}

// dispatch triggers the waiters of one readiness report. Error and hangup
// wake both directions that are armed.
func (m *IOManager) dispatch(ev reactor.Event) {
	fc := m.lookup(ev.Fd, false)
	if fc == nil {
		return
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()

	got := Event(ev.Events)
	if ev.Events&(reactor.EventError|reactor.EventHup) != 0 {
		got |= (Read | Write) & fc.events
	}
	ready := got & fc.events & (Read | Write)
	if ready == None {
		return
	}
	m.rearm(fc, fc.events&^ready)
	for _, e := range [...]Event{Read, Write} {
		if ready&e != 0 {
			fc.trigger(e, m.log)
			m.metrics.SetPendingEvents(int(m.pending.Add(-1)))
		}
	}
}

// Stop drains the scheduler, joins the workers and closes the reactor.
func (m *IOManager) Stop() {
	m.Scheduler.Stop()
	m.closeOnce.Do(func() {
		if err := m.poller.Close(); err != nil {
			m.log.Warning().Str("iomanager", m.Name()).Err(err).Log("reactor close failed")
		}
	})
}

// Dump writes the scheduler summary followed by the reactor state.
func (m *IOManager) Dump(w io.Writer) error {
	if err := m.Scheduler.Dump(w); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "    reactor pending=%d timers=%d fds=%d\n", m.PendingEvents(), m.Len(), m.tableSize())
	return err
}
