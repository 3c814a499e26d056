package fiber

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiberLifecycle(t *testing.T) {
	var steps []string
	f := New(func(ctx context.Context) {
		steps = append(steps, "start")
		YieldToReady(ctx)
		steps = append(steps, "after ready")
		YieldToHold(ctx)
		steps = append(steps, "end")
	})
	defer f.Release()

	assert.Equal(t, StateInit, f.State())
	assert.NotZero(t, f.ID())

	assert.Equal(t, StateReady, f.Resume())
	assert.Equal(t, StateReady, f.State())
	assert.Equal(t, StateHold, f.Resume())
	assert.Equal(t, StateTerm, f.Resume())
	assert.Equal(t, StateTerm, f.State())
	assert.Equal(t, []string{"start", "after ready", "end"}, steps)
}

func TestResetReusesStack(t *testing.T) {
	const rounds = 16
	count := 0
	f := New(func(ctx context.Context) { count++ })
	defer f.Release()

	before := StackAllocations()
	f.Resume()
	for i := 1; i < rounds; i++ {
		require.Equal(t, StateTerm, f.State())
		f.Reset(func(ctx context.Context) {
			count++
			YieldToReady(ctx)
		})
		f.Resume()
		assert.Equal(t, StateReady, f.State())
		f.Resume()
	}
	assert.Equal(t, StateTerm, f.State())
	assert.Equal(t, rounds, count)
	assert.Equal(t, uint64(1), StackAllocations()-before)
}

func TestEntryPanicBecomesExcept(t *testing.T) {
	f := New(func(ctx context.Context) { panic(errors.New("boom")) })
	defer f.Release()
	assert.Equal(t, StateExcept, f.Resume())
	assert.Equal(t, StateExcept, f.State())

	f.Reset(func(ctx context.Context) {})
	f.Resume()
	assert.Equal(t, StateTerm, f.State())
}

func TestResumeTerminalIsFatal(t *testing.T) {
	f := New(func(ctx context.Context) {})
	defer f.Release()
	f.Resume()
	assert.Panics(t, func() { f.Resume() })
}

func TestYieldOutsideExecIsFatal(t *testing.T) {
	f := New(func(ctx context.Context) {})
	defer f.Release()
	assert.Panics(t, f.YieldToHold)
}

func TestReleaseSuspendedIsFatal(t *testing.T) {
	f := New(func(ctx context.Context) { YieldToHold(ctx) })
	f.Resume()
	require.Equal(t, StateHold, f.State())
	assert.Panics(t, f.Release)

	f.Resume()
	assert.Equal(t, StateTerm, f.State())
	assert.NotPanics(t, f.Release)
	assert.NotPanics(t, f.Release)
	assert.Panics(t, func() { f.Resume() })
}

func TestResetRequiresTerminal(t *testing.T) {
	f := New(func(ctx context.Context) { YieldToReady(ctx) })
	f.Resume()
	assert.Panics(t, func() { f.Reset(func(ctx context.Context) {}) })
	f.Resume()
	f.Release()
}

func TestGetThisCreatesMain(t *testing.T) {
	before := Total()
	main, ctx := GetThis(context.Background())
	defer main.Release()
	assert.Equal(t, before, Total())
	assert.True(t, main.IsMain())
	assert.Zero(t, main.ID())
	assert.Equal(t, StateExec, main.State())
	assert.Zero(t, main.StackSize())

	again, ctx2 := GetThis(ctx)
	assert.Same(t, main, again)
	assert.Equal(t, ctx, ctx2)

	assert.Panics(t, func() { YieldToHold(ctx) })
	assert.Panics(t, func() { main.Resume() })
}

func TestContextCarriesFiber(t *testing.T) {
	type key struct{}
	parent := context.WithValue(context.Background(), key{}, "v")

	var seen *Fiber
	var id uint64
	var val any
	f := New(func(ctx context.Context) {
		seen = FromContext(ctx)
		id = ID(ctx)
		val = ctx.Value(key{})
	}, WithContext(parent), WithStackSize(4096))
	defer f.Release()
	f.Resume()

	assert.Same(t, f, seen)
	assert.Equal(t, f.ID(), id)
	assert.Equal(t, "v", val)
	assert.Equal(t, 4096, f.StackSize())
	assert.Zero(t, ID(context.Background()))
}

func TestDefaultStackSizeFromConfig(t *testing.T) {
	prev := stackSize.Get()
	t.Cleanup(func() { stackSize.Set(prev) })

	stackSize.Set(65536)
	f := New(func(ctx context.Context) {})
	defer f.Release()
	assert.Equal(t, 65536, f.StackSize())
}

func TestOwnerAndTotal(t *testing.T) {
	before := Total()
	f := New(func(ctx context.Context) {}, WithFoldCaller(true))
	assert.Equal(t, before+1, Total())
	assert.True(t, f.FoldCaller())

	assert.Nil(t, f.Owner())
	f.SetOwner("worker-1")
	assert.Equal(t, "worker-1", f.Owner())
	f.SetOwner(nil)
	assert.Nil(t, f.Owner())

	f.Release()
	assert.Equal(t, before, Total())
}

func TestThreadMainFibersAreNotCounted(t *testing.T) {
	before := Total()
	for i := 0; i < 10; i++ {
		f, _ := GetThis(context.Background())
		assert.True(t, f.IsMain())
	}
	assert.Equal(t, before, Total())

	main, _ := GetThis(context.Background())
	main.Release()
	main.Release()
	assert.Equal(t, before, Total())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "EXCEPT", StateExcept.String())
	assert.True(t, StateTerm.Terminal())
	assert.False(t, StateHold.Terminal())
}
