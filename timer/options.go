// File: timer/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package timer

import (
	"time"

	"github.com/momentics/hioload-fiber/internal/logging"
)

// Option configures NewManager.
type Option func(*options)

type options struct {
	clock    Clock
	rollover time.Duration
	onFront  func()
	logger   *logging.Logger
}

// WithClock replaces the monotonic millisecond clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRolloverThreshold sets how far the clock may move backwards before
// every timer is expired.
func WithRolloverThreshold(d time.Duration) Option {
	return func(o *options) { o.rollover = d }
}

// WithFrontNotifier sets the callback run when an insertion becomes the
// earliest deadline.
func WithFrontNotifier(fn func()) Option {
	return func(o *options) { o.onFront = fn }
}

// WithLogger sets the logger for clock anomalies.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func resolveOptions(opts []Option) *options {
	cfg := &options{
		clock:    MonotonicMs,
		rollover: DefaultRolloverThreshold,
	}
	for _, o := range opts {
		if o != nil {
			o(cfg)
		}
	}
	if cfg.clock == nil {
		cfg.clock = MonotonicMs
	}
	if cfg.rollover <= 0 {
		cfg.rollover = DefaultRolloverThreshold
	}
	return cfg
}
