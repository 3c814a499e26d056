//go:build linux

package iomanager

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/scheduler"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// fillSendBuffer writes until fd would block, so WRITE is not ready.
func fillSendBuffer(t *testing.T, fd int) {
	t.Helper()
	chunk := make([]byte, 64*1024)
	for {
		_, err := unix.Write(fd, chunk)
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		require.NoError(t, err)
	}
}

func TestCallbackRunsOnReadiness(t *testing.T) {
	m := newManager(t, 2)
	a, b := socketPair(t)

	fired := make(chan struct{})
	require.NoError(t, m.AddEvent(context.Background(), a, Read, func(ctx context.Context) {
		assert.Same(t, m, FromContext(ctx))
		close(fired)
	}))
	assert.Equal(t, Read, m.Events(a))
	assert.Equal(t, 1, m.PendingEvents())

	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)
	waitFor(t, fired, 2*time.Second)

	assert.Equal(t, None, m.Events(a))
	assert.Zero(t, m.PendingEvents())
	m.Stop()
}

func TestFiberWaiterParksUntilReadable(t *testing.T) {
	m := newManager(t, 2)
	a, b := socketPair(t)

	got := make(chan string, 1)
	m.Schedule(func(ctx context.Context) {
		if err := m.AddEvent(ctx, a, Read, nil); !assert.NoError(t, err) {
			return
		}
		fiber.YieldToHold(ctx)
		buf := make([]byte, 16)
		n, err := unix.Read(a, buf)
		assert.NoError(t, err)
		got <- string(buf[:n])
	})

	time.Sleep(20 * time.Millisecond)
	_, err := unix.Write(b, []byte("ping"))
	require.NoError(t, err)

	select {
	case s := <-got:
		assert.Equal(t, "ping", s)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not resumed")
	}
	m.Stop()
}

func TestDoubleArmIsFatal(t *testing.T) {
	m := newManager(t, 1)
	a, _ := socketPair(t)
	noop := func(context.Context) {}

	require.NoError(t, m.AddEvent(context.Background(), a, Read, noop))
	assert.PanicsWithError(t,
		"invariant violated in iomanager.add_event: fd="+strconv.Itoa(a)+" event READ already armed (mask=READ)",
		func() { _ = m.AddEvent(context.Background(), a, Read, noop) })

	assert.True(t, m.DelEvent(a, Read))
	assert.False(t, m.DelEvent(a, Read))
	m.Stop()
}

func TestAddEventWithoutWaiterIsFatal(t *testing.T) {
	m := newManager(t, 1)
	a, _ := socketPair(t)
	assert.Panics(t, func() { _ = m.AddEvent(context.Background(), a, Read, nil) })
	assert.Equal(t, None, m.Events(a))
	m.Stop()
}

func TestInvalidDescriptor(t *testing.T) {
	m := newManager(t, 1)
	defer m.Stop()
	err := m.AddEvent(context.Background(), -1, Read, func(context.Context) {})
	assert.ErrorIs(t, err, api.ErrInvalidHandle)
	assert.False(t, m.CancelEvent(1<<20, Read))
	assert.Equal(t, None, m.Events(1<<20))
}

func TestArmFailureIsReported(t *testing.T) {
	m := newManager(t, 1, WithMetrics(control.NewMetrics(nil, "arm")))
	defer m.Stop()

	// epoll refuses regular files
	f, err := os.CreateTemp(t.TempDir(), "arm")
	require.NoError(t, err)
	defer f.Close()

	err = m.AddEvent(context.Background(), int(f.Fd()), Read, func(context.Context) {})
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.ErrCodeEventArm, apiErr.Code)
	assert.Equal(t, "add", apiErr.Context["op"])
	assert.ErrorIs(t, err, unix.EPERM)
	assert.ErrorIs(t, err, &api.Error{Code: api.ErrCodeEventArm})
	assert.Equal(t, None, m.Events(int(f.Fd())))
	assert.Zero(t, m.PendingEvents())
}

func TestCancelEventRunsWaiterOnce(t *testing.T) {
	m := newManager(t, 1)
	a, _ := socketPair(t)

	var runs atomic.Int32
	fired := make(chan struct{}, 2)
	require.NoError(t, m.AddEvent(context.Background(), a, Read, func(context.Context) {
		runs.Add(1)
		fired <- struct{}{}
	}))
	assert.True(t, m.CancelEvent(a, Read))
	assert.False(t, m.CancelEvent(a, Read))
	waitFor(t, fired, 2*time.Second)
	m.Stop()
	assert.Equal(t, int32(1), runs.Load())
}

func TestDelEventDropsWaiter(t *testing.T) {
	m := newManager(t, 1)
	a, b := socketPair(t)

	var runs atomic.Int32
	require.NoError(t, m.AddEvent(context.Background(), a, Read, func(context.Context) { runs.Add(1) }))
	assert.True(t, m.DelEvent(a, Read))
	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	m.Stop()
	assert.Zero(t, runs.Load())
}

func TestCancelAllFiresBothDirections(t *testing.T) {
	m := newManager(t, 2)
	a, _ := socketPair(t)
	fillSendBuffer(t, a)

	var reads, writes atomic.Int32
	done := make(chan struct{}, 2)
	require.NoError(t, m.AddEvent(context.Background(), a, Read, func(context.Context) {
		reads.Add(1)
		done <- struct{}{}
	}))
	require.NoError(t, m.AddEvent(context.Background(), a, Write, func(context.Context) {
		writes.Add(1)
		done <- struct{}{}
	}))
	assert.Equal(t, Read|Write, m.Events(a))
	assert.Equal(t, 2, m.PendingEvents())

	assert.True(t, m.CancelAll(a))
	assert.False(t, m.CancelAll(a))
	waitFor(t, done, 2*time.Second)
	waitFor(t, done, 2*time.Second)
	m.Stop()
	assert.Equal(t, int32(1), reads.Load())
	assert.Equal(t, int32(1), writes.Load())
	assert.Zero(t, m.PendingEvents())
}

func TestHangupWakesArmedDirections(t *testing.T) {
	m := newManager(t, 1)
	a, b := socketPair(t)

	fired := make(chan struct{})
	require.NoError(t, m.AddEvent(context.Background(), a, Read, func(context.Context) { close(fired) }))
	require.NoError(t, unix.Shutdown(b, unix.SHUT_RDWR))
	waitFor(t, fired, 2*time.Second)
	assert.Equal(t, None, m.Events(a))
	m.Stop()
}

func TestTimerWakesReactorEarly(t *testing.T) {
	m := newManager(t, 1, WithMaxWait(5*time.Second))
	time.Sleep(20 * time.Millisecond) // let the worker block in the reactor

	fired := make(chan struct{})
	start := time.Now()
	m.AddTimer(50*time.Millisecond, func() { close(fired) }, false)
	waitFor(t, fired, 2*time.Second)
	assert.Less(t, time.Since(start), time.Second)
	m.Stop()
}

func TestStopWaitsForTimers(t *testing.T) {
	m := newManager(t, 2)
	var fired atomic.Bool
	m.AddTimer(100*time.Millisecond, func() { fired.Store(true) }, false)
	m.Stop()
	assert.True(t, fired.Load())
	assert.False(t, m.HasTimer())
}

func TestStopWakesEveryBlockedWorker(t *testing.T) {
	for _, threads := range []int{1, 4, 8} {
		m := newManager(t, threads, WithMaxWait(5*time.Second))
		// let every worker block in the reactor
		require.Eventually(t, func() bool { return m.IdleThreads() == threads }, 2*time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)

		start := time.Now()
		m.Stop()
		assert.Less(t, time.Since(start), time.Second, "threads=%d", threads)
	}
}

func TestRecurringTimerKeepsFiring(t *testing.T) {
	m := newManager(t, 1)
	var n atomic.Int32
	tm := m.AddTimer(10*time.Millisecond, func() { n.Add(1) }, true)
	assert.Eventually(t, func() bool { return n.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, tm.Cancel())
	m.Stop()
}

func TestWorkersHaveHookEnabled(t *testing.T) {
	m := newManager(t, 2)
	var enabled atomic.Int32
	done := make(chan struct{})
	m.Schedule(func(ctx context.Context) {
		if scheduler.CurrentThread(ctx).HookEnabled() {
			enabled.Add(1)
		}
		close(done)
	})
	waitFor(t, done, 2*time.Second)
	m.Stop()
	assert.Equal(t, int32(1), enabled.Load())
}

func TestFoldedCaller(t *testing.T) {
	m, err := New(1, true, WithName("folded"))
	require.NoError(t, err)
	var runs atomic.Int32
	for i := 0; i < 10; i++ {
		m.Schedule(func(context.Context) { runs.Add(1) })
	}
	m.AddTimer(20*time.Millisecond, func() { runs.Add(1) }, false)
	m.Stop()
	assert.Equal(t, int32(11), runs.Load())
}

func TestDumpAndProbes(t *testing.T) {
	probes := control.NewDebugProbes()
	m := newManager(t, 1, WithName("dbg"), WithProbes(probes))
	a, _ := socketPair(t)
	require.NoError(t, m.AddEvent(context.Background(), a, Read, func(context.Context) {}))

	var buf bytes.Buffer
	require.NoError(t, m.Dump(&buf))
	assert.True(t, strings.Contains(buf.String(), "reactor pending=1"), buf.String())

	state := probes.DumpState()
	assert.Equal(t, 1, state["iomanager.dbg.pending_events"])
	assert.Equal(t, 32, state["iomanager.dbg.fd_table"])

	assert.True(t, m.DelEvent(a, Read))
	m.Stop()
}

func TestTableGrows(t *testing.T) {
	m := newManager(t, 1)
	defer m.Stop()
	assert.Equal(t, 32, m.tableSize())
	fc := m.lookup(100, true)
	require.NotNil(t, fc)
	assert.Equal(t, 100, fc.fd)
	assert.Equal(t, 150, m.tableSize())
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "NONE", None.String())
	assert.Equal(t, "READ|WRITE", (Read | Write).String())
	assert.Equal(t, "WRITE|0x8", (Write | Event(0x8)).String())
}
