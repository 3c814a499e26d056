// File: timer/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer heap with millisecond deadlines on a monotonic clock. Expired
// callbacks are returned to the caller rather than invoked, so callers can
// dispatch them after releasing every lock.

package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/momentics/hioload-fiber/internal/logging"
)

// DefaultRolloverThreshold is the backwards clock jump that makes every
// held timer expire at the next PopExpired.
const DefaultRolloverThreshold = time.Hour

// Clock returns monotonic milliseconds.
type Clock func() int64

var epoch = time.Now()

// MonotonicMs is the default clock: milliseconds since process start, read
// from the runtime's monotonic clock.
func MonotonicMs() int64 {
	return time.Since(epoch).Milliseconds()
}

// Timer is a handle to a scheduled callback.
type Timer struct {
	mgr       *Manager
	seq       uint64
	recurring bool
	interval  int64
	next      int64
	cb        func()
	index     int
}

// Cancel stops the timer. It reports false if the timer already fired (and
// was not recurring) or was cancelled.
func (t *Timer) Cancel() bool { return t.mgr.Cancel(t) }

// Refresh re-arms the timer for one full interval from now.
func (t *Timer) Refresh() bool { return t.mgr.Refresh(t) }

// Reset changes the interval. With fromNow false the original start point
// is kept and only the interval changes.
func (t *Timer) Reset(interval time.Duration, fromNow bool) bool {
	return t.mgr.Reset(t, interval, fromNow)
}

// Interval returns the timer period.
func (t *Timer) Interval() time.Duration {
	t.mgr.mu.RLock()
	defer t.mgr.mu.RUnlock()
	return time.Duration(t.interval) * time.Millisecond
}

// timerHeap orders by deadline, then by insertion sequence.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].next != h[j].next {
		return h[i].next < h[j].next
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Manager owns a set of timers.
type Manager struct {
	mu       sync.RWMutex
	timers   timerHeap
	seq      uint64
	tickled  bool
	previous int64

	clock    Clock
	rollover int64
	onFront  func()
	log      *logging.Logger
}

// NewManager creates an empty timer manager.
func NewManager(opts ...Option) *Manager {
	cfg := resolveOptions(opts)
	m := &Manager{
		clock:    cfg.clock,
		rollover: cfg.rollover.Milliseconds(),
		onFront:  cfg.onFront,
		log:      logging.Or(cfg.logger),
	}
	m.previous = m.clock()
	return m
}

// SetFrontNotifier installs the callback run when a timer becomes the
// earliest deadline. It is meant for wiring during construction.
func (m *Manager) SetFrontNotifier(fn func()) {
	m.mu.Lock()
	m.onFront = fn
	m.mu.Unlock()
}

// toMs rounds up, so a positive sub-millisecond delay never fires early.
func toMs(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

// AddTimer schedules cb to fire after delay, and then every delay when
// recurring is set.
func (m *Manager) AddTimer(delay time.Duration, cb func(), recurring bool) *Timer {
	ms := toMs(delay)
	t := &Timer{
		mgr:       m,
		recurring: recurring,
		interval:  ms,
		next:      m.clock() + ms,
		cb:        cb,
		index:     -1,
	}
	m.mu.Lock()
	m.insertLocked(t)
	return t
}

// AddConditionTimer is AddTimer with cb guarded by cond: at fire time the
// callback only runs if cond is still alive.
func (m *Manager) AddConditionTimer(delay time.Duration, cb func(), cond Condition, recurring bool) *Timer {
	return m.AddTimer(delay, func() {
		if cond != nil && cond.Alive() {
			cb()
		}
	}, recurring)
}

// insertLocked pushes t, releases m.mu and fires the front notification
// once until the next NextDeadline call.
func (m *Manager) insertLocked(t *Timer) {
	m.seq++
	t.seq = m.seq
	heap.Push(&m.timers, t)
	notify := t.index == 0 && !m.tickled
	if notify {
		m.tickled = true
	}
	fn := m.onFront
	m.mu.Unlock()
	if notify && fn != nil {
		fn()
	}
}

// Cancel removes t. It reports whether t was still pending.
func (m *Manager) Cancel(t *Timer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.cb == nil {
		return false
	}
	t.cb = nil
	if t.index >= 0 {
		heap.Remove(&m.timers, t.index)
	}
	return true
}

// Refresh moves t's deadline to now plus its interval.
func (m *Manager) Refresh(t *Timer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.cb == nil || t.index < 0 {
		return false
	}
	heap.Remove(&m.timers, t.index)
	t.next = m.clock() + t.interval
	m.seq++
	t.seq = m.seq
	heap.Push(&m.timers, t)
	return true
}

// Reset changes t's interval; see Timer.Reset.
func (m *Manager) Reset(t *Timer, interval time.Duration, fromNow bool) bool {
	ms := toMs(interval)
	m.mu.Lock()
	if ms == t.interval && !fromNow {
		m.mu.Unlock()
		return true
	}
	if t.cb == nil || t.index < 0 {
		m.mu.Unlock()
		return false
	}
	heap.Remove(&m.timers, t.index)
	var start int64
	if fromNow {
		start = m.clock()
	} else {
		start = t.next - t.interval
	}
	t.interval = ms
	t.next = start + ms
	m.insertLocked(t)
	return true
}

// NextDeadline returns the time until the earliest deadline, or false when
// no timer is held. It re-enables the front notification.
func (m *Manager) NextDeadline() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickled = false
	if len(m.timers) == 0 {
		return 0, false
	}
	now := m.clock()
	next := m.timers[0].next
	if next <= now {
		return 0, true
	}
	return time.Duration(next-now) * time.Millisecond, true
}

// HasTimer reports whether any timer is pending.
func (m *Manager) HasTimer() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.timers) != 0
}

// Len returns the number of pending timers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.timers)
}

// PopExpired removes every timer whose deadline has passed and returns
// their callbacks in deadline order. Recurring timers are re-inserted one
// interval from now.
func (m *Manager) PopExpired() []func() {
	now := m.clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	rollover := m.detectRollover(now)
	if len(m.timers) == 0 || (!rollover && m.timers[0].next > now) {
		return nil
	}
	if rollover {
		m.log.Warning().
			Int64("now_ms", now).
			Int("timers", len(m.timers)).
			Log("clock moved backwards, expiring all timers")
	}

	var (
		cbs   []func()
		again []*Timer
	)
	for len(m.timers) != 0 && (rollover || m.timers[0].next <= now) {
		t := heap.Pop(&m.timers).(*Timer)
		cbs = append(cbs, t.cb)
		if t.recurring {
			t.next = now + t.interval
			again = append(again, t)
		} else {
			t.cb = nil
		}
	}
	for _, t := range again {
		m.seq++
		t.seq = m.seq
		heap.Push(&m.timers, t)
	}
	return cbs
}

func (m *Manager) detectRollover(now int64) bool {
	rolled := now < m.previous && now < m.previous-m.rollover
	m.previous = now
	return rolled
}
