//go:build linux

// File: benchmarks/performance_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package benchmarks

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/hook"
	"github.com/momentics/hioload-fiber/iomanager"
)

// BenchmarkHookedPingPong bounces one byte between two fibers over a
// socket pair; every read parks in the reactor.
func BenchmarkHookedPingPong(b *testing.B) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		b.Fatal(err)
	}
	for _, fd := range fds {
		hook.Fds().Get(fd, true)
	}
	m, err := iomanager.New(2, false, iomanager.WithName("pingpong"))
	if err != nil {
		b.Fatal(err)
	}

	n := b.N
	done := make(chan error, 2)
	bounce := func(fd int, serve bool) func(context.Context) {
		return func(ctx context.Context) {
			buf := make([]byte, 1)
			for i := 0; i < n; i++ {
				if !serve {
					if _, err := hook.Write(ctx, fd, buf); err != nil {
						done <- err
						return
					}
				}
				if _, err := hook.Read(ctx, fd, buf); err != nil {
					done <- err
					return
				}
				if serve {
					if _, err := hook.Write(ctx, fd, buf); err != nil {
						done <- err
						return
					}
				}
			}
			done <- nil
		}
	}

	b.ResetTimer()
	m.Schedule(bounce(fds[1], true))
	m.Schedule(bounce(fds[0], false))
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				b.Fatal(err)
			}
		case <-time.After(time.Minute):
			b.Fatal("ping-pong stalled")
		}
	}
	b.StopTimer()

	m.Stop()
	for _, fd := range fds {
		hook.Fds().Del(fd)
		_ = unix.Close(fd)
	}
}

// BenchmarkHookedSleep measures parking a fiber on a zero-length timer.
func BenchmarkHookedSleep(b *testing.B) {
	m, err := iomanager.New(1, false, iomanager.WithName("sleep"))
	if err != nil {
		b.Fatal(err)
	}
	n := b.N
	done := make(chan struct{})
	b.ResetTimer()
	m.Schedule(func(ctx context.Context) {
		for i := 0; i < n; i++ {
			hook.SleepFor(ctx, 0)
		}
		close(done)
	})
	<-done
	b.StopTimer()
	m.Stop()
}
