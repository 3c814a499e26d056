//go:build linux

// File: hook/hook_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Enable flag, the generic wait-and-retry loop and the sleep family.

package hook

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/internal/logging"
	"github.com/momentics/hioload-fiber/iomanager"
	"github.com/momentics/hioload-fiber/scheduler"
	"github.com/momentics/hioload-fiber/timer"
)

var (
	connectTimeoutVar = control.Lookup(control.Default(), "tcp.connect.timeout", 5000, "tcp connect timeout in milliseconds")
	connectTimeout    atomic.Int64
)

func init() {
	connectTimeout.Store(int64(connectTimeoutVar.Get()))
	connectTimeoutVar.AddListener(func(old, new int) {
		logging.Default().Info().
			Int("old_ms", old).
			Int("new_ms", new).
			Log("tcp connect timeout changed")
		connectTimeout.Store(int64(new))
	})
}

// ConnectTimeout returns the timeout Connect applies, NoTimeout when the
// configured value is negative.
func ConnectTimeout() time.Duration {
	ms := connectTimeout.Load()
	if ms < 0 {
		return NoTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// IsEnabled reports whether the worker running ctx has hooking enabled.
// It is false outside a scheduler worker.
func IsEnabled(ctx context.Context) bool {
	th := scheduler.CurrentThread(ctx)
	return th != nil && th.HookEnabled()
}

// SetEnabled sets the hook flag of the worker running ctx. Outside a
// worker it does nothing.
func SetEnabled(ctx context.Context, v bool) {
	if th := scheduler.CurrentThread(ctx); th != nil {
		th.SetHookEnabled(v)
	}
}

// waiter returns the I/O manager and the fiber that may park on it, or
// nil when the call has to run natively.
func waiter(ctx context.Context) (*iomanager.IOManager, *fiber.Fiber) {
	if !IsEnabled(ctx) {
		return nil, nil
	}
	m := iomanager.FromContext(ctx)
	f := fiber.FromContext(ctx)
	if m == nil || f == nil || f.IsMain() {
		return nil, nil
	}
	return m, f
}

// ioTimeout carries the errno set by a timeout timer to the parked fiber.
type ioTimeout struct {
	errno atomic.Uint32
}

// doIO runs fn once and, while the descriptor would block, parks the
// calling fiber on ev and retries. timeoutKind selects the descriptor's
// SO_RCVTIMEO or SO_SNDTIMEO bound.
func doIO[T any](ctx context.Context, fd int, name string, ev iomanager.Event, timeoutKind int, fn func() (T, error)) (T, error) {
	var zero T
	m, _ := waiter(ctx)
	if m == nil {
		return fn()
	}
	fc := Fds().Get(fd, false)
	if fc == nil {
		return fn()
	}
	if fc.IsClosed() {
		return zero, unix.EBADF
	}
	if !fc.IsSocket() || fc.UserNonblock() {
		return fn()
	}

	timeout := fc.Timeout(timeoutKind)
	info := &ioTimeout{}
	token := timer.NewToken()
	defer token.Invalidate()

	for {
		v, err := fn()
		for errors.Is(err, unix.EINTR) {
			v, err = fn()
		}
		if !errors.Is(err, unix.EAGAIN) {
			return v, err
		}

		var t *timer.Timer
		if timeout >= 0 {
			t = m.AddConditionTimer(timeout, func() {
				if !info.errno.CompareAndSwap(0, uint32(unix.ETIMEDOUT)) {
					return
				}
				m.CancelEvent(fd, ev)
			}, token, false)
		}
		if err := m.AddEvent(ctx, fd, ev, nil); err != nil {
			m.Logger().Err().
				Str("call", name).
				Int("fd", fd).
				Str("event", ev.String()).
				Err(err).
				Log("hook add event failed")
			if t != nil {
				t.Cancel()
			}
			return zero, err
		}
		fiber.YieldToHold(ctx)
		if t != nil {
			t.Cancel()
		}
		if errno := info.errno.Load(); errno != 0 {
			m.Metrics().RecordIOTimeout()
			return zero, unix.Errno(errno)
		}
	}
}

// SleepFor parks the calling fiber for d. Outside a hooked fiber it blocks
// the goroutine.
func SleepFor(ctx context.Context, d time.Duration) {
	m, f := waiter(ctx)
	if m == nil {
		time.Sleep(d)
		return
	}
	m.AddTimer(d, func() {
		m.ScheduleFiber(f, scheduler.ThreadAny)
	}, false)
	f.YieldToHold()
}

// Sleep parks the calling fiber for the given number of seconds and
// returns the unslept amount, always 0.
func Sleep(ctx context.Context, seconds uint) uint {
	SleepFor(ctx, time.Duration(seconds)*time.Second)
	return 0
}

// Usleep parks the calling fiber for usec microseconds.
func Usleep(ctx context.Context, usec uint) error {
	SleepFor(ctx, time.Duration(usec)*time.Microsecond)
	return nil
}

// Nanosleep parks the calling fiber for req. rem, when set, is zeroed: a
// parked fiber is never interrupted early.
func Nanosleep(ctx context.Context, req *unix.Timespec, rem *unix.Timespec) error {
	if req == nil || req.Sec < 0 || req.Nsec < 0 || req.Nsec >= 1e9 {
		return unix.EINVAL
	}
	if m, _ := waiter(ctx); m == nil {
		return unix.Nanosleep(req, rem)
	}
	SleepFor(ctx, time.Duration(req.Nano()))
	if rem != nil {
		*rem = unix.Timespec{}
	}
	return nil
}
