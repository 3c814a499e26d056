// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for the fiber runtime. A nil *Metrics is valid and
// records nothing, so components take it as an optional dependency.

package control

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the runtime's collectors.
type Metrics struct {
	fibersCreated  prometheus.Counter
	tasksScheduled prometheus.Counter
	tickles        prometheus.Counter
	timersFired    prometheus.Counter
	ioTimeouts     prometheus.Counter
	armFailures    prometheus.Counter

	idleThreads   prometheus.Gauge
	activeThreads prometheus.Gauge
	pendingEvents prometheus.Gauge

	reactorWait prometheus.Histogram
}

// NewMetrics creates the collectors under namespace and registers them with
// reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		fibersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fibers_created_total",
			Help:      "Total number of fibers created",
		}),
		tasksScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_scheduled_total",
			Help:      "Total number of fibers and callbacks placed on run queues",
		}),
		tickles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickles_total",
			Help:      "Total number of wake signals sent to idle workers",
		}),
		timersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_fired_total",
			Help:      "Total number of expired timer callbacks handed to the scheduler",
		}),
		ioTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "io_timeouts_total",
			Help:      "Total number of hooked I/O operations that timed out",
		}),
		armFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_arm_failures_total",
			Help:      "Total number of failed epoll arm or re-arm calls",
		}),
		idleThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "idle_threads",
			Help:      "Current number of workers running their idle fiber",
		}),
		activeThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_threads",
			Help:      "Current number of workers running a task",
		}),
		pendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_events",
			Help:      "Current number of armed descriptor events",
		}),
		reactorWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reactor_wait_seconds",
			Help:      "Time spent blocked in the reactor wait call",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.fibersCreated,
			m.tasksScheduled,
			m.tickles,
			m.timersFired,
			m.ioTimeouts,
			m.armFailures,
			m.idleThreads,
			m.activeThreads,
			m.pendingEvents,
			m.reactorWait,
		)
	}
	return m
}

func (m *Metrics) RecordFiberCreated() {
	if m != nil {
		m.fibersCreated.Inc()
	}
}

func (m *Metrics) RecordScheduled(n int) {
	if m != nil && n > 0 {
		m.tasksScheduled.Add(float64(n))
	}
}

func (m *Metrics) RecordTickle() {
	if m != nil {
		m.tickles.Inc()
	}
}

func (m *Metrics) RecordTimersFired(n int) {
	if m != nil && n > 0 {
		m.timersFired.Add(float64(n))
	}
}

func (m *Metrics) RecordIOTimeout() {
	if m != nil {
		m.ioTimeouts.Inc()
	}
}

func (m *Metrics) RecordArmFailure() {
	if m != nil {
		m.armFailures.Inc()
	}
}

func (m *Metrics) SetIdleThreads(n int) {
	if m != nil {
		m.idleThreads.Set(float64(n))
	}
}

func (m *Metrics) SetActiveThreads(n int) {
	if m != nil {
		m.activeThreads.Set(float64(n))
	}
}

func (m *Metrics) SetPendingEvents(n int) {
	if m != nil {
		m.pendingEvents.Set(float64(n))
	}
}

func (m *Metrics) ObserveReactorWait(d time.Duration) {
	if m != nil {
		m.reactorWait.Observe(d.Seconds())
	}
}
