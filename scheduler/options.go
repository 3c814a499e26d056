// File: scheduler/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package scheduler

import (
	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/internal/logging"
)

// Option configures New.
type Option func(*options)

type options struct {
	name        string
	logger      *logging.Logger
	backend     api.Backend
	metrics     *control.Metrics
	probes      api.Debug
	pinCPU      bool
	hookEnabled bool
}

// WithName sets the scheduler name used in logs, probes and thread names.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBackend replaces the default tickle/idle/stopping behaviour.
func WithBackend(b api.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithMetrics records queue and worker activity.
func WithMetrics(m *control.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithProbes registers the scheduler's debug probes.
func WithProbes(p api.Debug) Option {
	return func(o *options) { o.probes = p }
}

// WithCPUAffinity pins worker i to CPU i%NumCPU.
func WithCPUAffinity(pin bool) Option {
	return func(o *options) { o.pinCPU = pin }
}

// WithHookEnabled sets the initial hook flag of every worker.
func WithHookEnabled(v bool) Option {
	return func(o *options) { o.hookEnabled = v }
}

func resolveOptions(opts []Option) *options {
	cfg := &options{name: "scheduler"}
	for _, o := range opts {
		if o != nil {
			o(cfg)
		}
	}
	return cfg
}
