// File: iomanager/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package iomanager

import (
	"time"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/internal/logging"
	"github.com/momentics/hioload-fiber/reactor"
	"github.com/momentics/hioload-fiber/timer"
)

var maxWaitVar = control.Lookup(control.Default(), "iomanager.max_wait_ms", 3000, "upper bound of one reactor wait in milliseconds")

// Option configures New.
type Option func(*options)

type options struct {
	name    string
	logger  *logging.Logger
	metrics *control.Metrics
	probes  api.Debug
	maxWait time.Duration
	pinCPU  bool
	clock   timer.Clock
	poller  reactor.Poller
}

// WithName sets the scheduler name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger shared by the scheduler, timers and reactor.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records scheduler, timer and reactor activity.
func WithMetrics(m *control.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithProbes registers scheduler and reactor debug probes.
func WithProbes(p api.Debug) Option {
	return func(o *options) { o.probes = p }
}

// WithMaxWait caps a single reactor wait; zero selects iomanager.max_wait_ms.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithCPUAffinity pins worker threads to CPUs.
func WithCPUAffinity(pin bool) Option {
	return func(o *options) { o.pinCPU = pin }
}

// WithClock replaces the timer clock.
func WithClock(c timer.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithPoller replaces the platform poller, mainly for tests. The manager
// takes ownership and closes it on Stop.
func WithPoller(p reactor.Poller) Option {
	return func(o *options) { o.poller = p }
}

func resolveOptions(opts []Option) *options {
	cfg := &options{name: "iomanager"}
	for _, o := range opts {
		if o != nil {
			o(cfg)
		}
	}
	if cfg.maxWait <= 0 {
		cfg.maxWait = time.Duration(maxWaitVar.Get()) * time.Millisecond
	}
	return cfg
}
