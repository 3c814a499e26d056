// File: fiber/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fiber

import (
	"context"

	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/internal/logging"
)

// Option configures New.
type Option interface {
	apply(*options)
}

type options struct {
	ctx        context.Context
	stackSize  int
	foldCaller bool
	logger     *logging.Logger
	metrics    *control.Metrics
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithStackSize sets the stack size; zero selects fiber.stack_size.
func WithStackSize(n int) Option {
	return optionFunc(func(o *options) { o.stackSize = n })
}

// WithFoldCaller marks the fiber as the caller-folded root fiber of a
// scheduler.
func WithFoldCaller(fold bool) Option {
	return optionFunc(func(o *options) { o.foldCaller = fold })
}

// WithContext sets the parent of the context handed to the entry.
func WithContext(ctx context.Context) Option {
	return optionFunc(func(o *options) { o.ctx = ctx })
}

// WithLogger sets the logger used for entry panics and invariant failures.
func WithLogger(l *logging.Logger) Option {
	return optionFunc(func(o *options) { o.logger = l })
}

// WithMetrics counts the fiber in the fibers_created_total collector.
func WithMetrics(m *control.Metrics) Option {
	return optionFunc(func(o *options) { o.metrics = m })
}

func resolveOptions(opts []Option) *options {
	cfg := &options{ctx: context.Background()}
	for _, o := range opts {
		if o != nil {
			o.apply(cfg)
		}
	}
	return cfg
}
