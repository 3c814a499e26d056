// File: benchmarks/performance_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Performance benchmarks for the fiber runtime primitives.

package benchmarks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/pool"
	"github.com/momentics/hioload-fiber/scheduler"
	"github.com/momentics/hioload-fiber/timer"
)

// BenchmarkFiberSwitch measures one resume/yield round trip.
func BenchmarkFiberSwitch(b *testing.B) {
	n := b.N
	f := fiber.New(func(ctx context.Context) {
		for i := 0; i < n; i++ {
			fiber.YieldToHold(ctx)
		}
	})
	b.ResetTimer()
	for i := 0; i < n; i++ {
		f.Resume()
	}
	b.StopTimer()
	f.Resume()
	f.Release()
}

// BenchmarkFiberReset measures reusing one stack for short entries.
func BenchmarkFiberReset(b *testing.B) {
	entry := func(context.Context) {}
	f := fiber.New(entry)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Resume()
		f.Reset(entry)
	}
	b.StopTimer()
	f.Release()
}

// BenchmarkScheduleTasks measures queueing and running tasks on four
// workers.
func BenchmarkScheduleTasks(b *testing.B) {
	s := scheduler.New(4, false, scheduler.WithName("bench"))
	s.Start()
	var wg sync.WaitGroup
	wg.Add(b.N)
	task := func(context.Context) { wg.Done() }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Schedule(task)
	}
	wg.Wait()
	b.StopTimer()
	s.Stop()
}

// BenchmarkScheduleBatch measures batched submission in chunks of 64.
func BenchmarkScheduleBatch(b *testing.B) {
	s := scheduler.New(4, false, scheduler.WithName("batch"))
	s.Start()
	var done atomic.Int64
	task := func(context.Context) { done.Add(1) }
	items := make([]scheduler.Item, 64)
	for i := range items {
		items[i] = scheduler.Item{Task: task, Thread: scheduler.ThreadAny}
	}

	b.ResetTimer()
	sent := 0
	for sent < b.N {
		k := min(len(items), b.N-sent)
		s.ScheduleBatch(items[:k])
		sent += k
	}
	for done.Load() < int64(b.N) {
		time.Sleep(time.Millisecond)
	}
	b.StopTimer()
	s.Stop()
}

// BenchmarkTimerInsertPop measures heap insertion followed by expiry.
func BenchmarkTimerInsertPop(b *testing.B) {
	var now atomic.Int64
	m := timer.NewManager(timer.WithClock(now.Load))
	cb := func() {}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.AddTimer(time.Duration(i%1000)*time.Millisecond, cb, false)
	}
	now.Store(int64(time.Hour / time.Millisecond))
	if got := len(m.PopExpired()); got != b.N {
		b.Fatalf("popped %d of %d timers", got, b.N)
	}
}

// BenchmarkTimerCancel measures cancelling a timer from the middle of the
// heap.
func BenchmarkTimerCancel(b *testing.B) {
	var now atomic.Int64
	m := timer.NewManager(timer.WithClock(now.Load))
	cb := func() {}
	for i := 0; i < 1024; i++ {
		m.AddTimer(time.Duration(i)*time.Millisecond, cb, false)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		t := m.AddTimer(500*time.Millisecond, cb, false)
		t.Cancel()
	}
}

// BenchmarkSlicePool measures borrowing connection buffers.
func BenchmarkSlicePool(b *testing.B) {
	p := pool.NewSlicePool[byte](4096)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := p.Get()
			(*buf)[0] = 1
			p.Put(buf)
		}
	})
}
