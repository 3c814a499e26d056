// File: fiber/fiber.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stackful cooperative fibers. A fiber runs only between an explicit Resume
// and its next yield; the goroutine that resumed it stays blocked meanwhile.
// The fiber "current" for a piece of code is carried by the context.Context
// handed to its entry, see FromContext and GetThis.

package fiber

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/internal/invariant"
	"github.com/momentics/hioload-fiber/internal/logging"
)

// State is the execution state of a fiber.
type State int32

const (
	StateInit State = iota
	StateHold
	StateExec
	StateTerm
	StateReady
	StateExcept
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateHold:
		return "HOLD"
	case StateExec:
		return "EXEC"
	case StateTerm:
		return "TERM"
	case StateReady:
		return "READY"
	case StateExcept:
		return "EXCEPT"
	}
	return "UNKNOWN"
}

// Terminal reports whether s is TERM or EXCEPT.
func (s State) Terminal() bool { return s == StateTerm || s == StateExcept }

// Entry is the body of a fiber. ctx carries the fiber itself.
type Entry func(ctx context.Context)

var (
	lastID     atomic.Uint64
	liveFibers atomic.Int64

	stackSize = control.Lookup(control.Default(), "fiber.stack_size", 128*1024, "fiber stack size")
)

// Total reports the number of stack-owning fibers created and not yet
// released. Thread-main pseudo-fibers are not counted.
func Total() int64 { return liveFibers.Load() }

// Fiber is a cooperatively scheduled unit of execution.
type Fiber struct {
	id         uint64
	stackSize  int
	foldCaller bool

	state atomic.Int32
	entry Entry
	ctx   context.Context
	exec  *execContext
	owner atomic.Pointer[ownerRef]

	log      *logging.Logger
	released sync.Once
	cleanup  runtime.Cleanup
}

type ownerRef struct{ v any }

// New creates a fiber in state INIT. The backing stack is allocated on the
// first Resume.
func New(entry Entry, opts ...Option) *Fiber {
	cfg := resolveOptions(opts)
	size := cfg.stackSize
	if size <= 0 {
		size = stackSize.Get()
	}
	f := &Fiber{
		id:         lastID.Add(1),
		stackSize:  size,
		foldCaller: cfg.foldCaller,
		entry:      entry,
		exec:       newExecContext(size),
		log:        logging.Or(cfg.logger),
	}
	f.ctx = withFiber(cfg.ctx, f)
	liveFibers.Add(1)
	cfg.metrics.RecordFiberCreated()
	f.cleanup = runtime.AddCleanup(f, releaseOrphan, f.exec)
	return f
}

// releaseOrphan runs when a fiber handle becomes unreachable without
// Release. A suspended fiber is always reachable from its own goroutine,
// so only idle contexts reach here.
func releaseOrphan(c *execContext) {
	c.release()
	liveFibers.Add(-1)
}

// newMain creates the pseudo-fiber standing for a thread's own stack.
func newMain(ctx context.Context) *Fiber {
	f := &Fiber{log: logging.Default()}
	f.state.Store(int32(StateExec))
	f.ctx = withFiber(ctx, f)
	return f
}

// ID returns the fiber id; thread-main fibers have id 0.
func (f *Fiber) ID() uint64 { return f.id }

// State returns the current state.
func (f *Fiber) State() State { return State(f.state.Load()) }

func (f *Fiber) setState(s State) { f.state.Store(int32(s)) }

// StackSize is the configured stack size; zero for thread-main fibers.
func (f *Fiber) StackSize() int {
	if f.exec == nil {
		return 0
	}
	return f.stackSize
}

// FoldCaller reports whether this is a caller-folded root fiber.
func (f *Fiber) FoldCaller() bool { return f.foldCaller }

// IsMain reports whether f is a thread-main pseudo-fiber.
func (f *Fiber) IsMain() bool { return f.exec == nil }

// Context returns the context handed to the fiber entry.
func (f *Fiber) Context() context.Context { return f.ctx }

// SetOwner records a non-owning association, normally the worker thread
// about to run the fiber.
func (f *Fiber) SetOwner(v any) {
	if v == nil {
		f.owner.Store(nil)
		return
	}
	f.owner.Store(&ownerRef{v: v})
}

// Owner returns the value recorded by SetOwner.
func (f *Fiber) Owner() any {
	if r := f.owner.Load(); r != nil {
		return r.v
	}
	return nil
}

// Resume switches into the fiber and returns once it yields or terminates.
// The result is the state the fiber left with; by the time Resume returns
// another worker may already have resumed it again, so callers must decide
// on the returned value rather than on State().
func (f *Fiber) Resume() State {
	if f.exec == nil {
		invariant.Violate(f.log, "fiber.resume", "resume of thread-main fiber")
	}
	if f.exec.closed.Load() {
		invariant.Violate(f.log, "fiber.resume", "resume of released fiber %d", f.id)
	}
	for {
		s := f.State()
		if s == StateExec || s.Terminal() {
			invariant.Violate(f.log, "fiber.resume", "fiber %d resumed in state %s", f.id, s)
		}
		if f.state.CompareAndSwap(int32(s), int32(StateExec)) {
			break
		}
	}
	return f.exec.switchIn(f)
}

// YieldToReady marks the fiber READY and swaps out; a scheduler re-queues it.
func (f *Fiber) YieldToReady() { f.yield(StateReady) }

// YieldToHold marks the fiber HOLD and swaps out; whoever parked it resumes it.
func (f *Fiber) YieldToHold() { f.yield(StateHold) }

func (f *Fiber) yield(to State) {
	if f.exec == nil {
		invariant.Violate(f.log, "fiber.yield", "yield from thread-main fiber")
	}
	if s := f.State(); s != StateExec {
		invariant.Violate(f.log, "fiber.yield", "fiber %d yields in state %s", f.id, s)
	}
	f.setState(to)
	f.exec.switchOut(to)
}

// Reset installs a new entry, reusing the fiber's stack.
func (f *Fiber) Reset(entry Entry) {
	if f.exec == nil {
		invariant.Violate(f.log, "fiber.reset", "reset of thread-main fiber")
	}
	if s := f.State(); s != StateInit && !s.Terminal() {
		invariant.Violate(f.log, "fiber.reset", "fiber %d reset in state %s", f.id, s)
	}
	f.entry = entry
	f.setState(StateInit)
}

// Release frees the fiber's stack. Dropping a fiber that is suspended
// mid-execution is fatal. Release is idempotent.
func (f *Fiber) Release() {
	if f.exec != nil {
		if s := f.State(); s != StateInit && !s.Terminal() {
			invariant.Violate(f.log, "fiber.release", "fiber %d released in state %s", f.id, s)
		}
	}
	f.released.Do(func() {
		if f.exec != nil {
			f.cleanup.Stop()
			f.exec.release()
			liveFibers.Add(-1)
		}
	})
}

// trampoline runs on the fiber goroutine for each entry and returns the
// terminal state.
func (f *Fiber) trampoline() (final State) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if api.IsInvariant(r) {
			panic(r)
		}
		f.setState(StateExcept)
		final = StateExcept
		f.log.Err().
			Uint64("fiber_id", f.id).
			Str("panic", panicString(r)).
			Str("stack", string(debug.Stack())).
			Log("fiber entry panicked")
	}()
	entry := f.entry
	f.entry = nil
	if entry != nil {
		entry(f.ctx)
	}
	f.setState(StateTerm)
	return StateTerm
}
