// File: fiber/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fiber

import (
	"context"
	"fmt"
)

type fiberKey struct{}

func withFiber(ctx context.Context, f *Fiber) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, fiberKey{}, f)
}

// FromContext returns the fiber carried by ctx, or nil.
func FromContext(ctx context.Context) *Fiber {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(fiberKey{}).(*Fiber)
	return f
}

// GetThis returns the current fiber. When ctx carries none, a thread-main
// pseudo-fiber (id 0, EXEC, no stack) is created and returned together with
// a derived context carrying it.
func GetThis(ctx context.Context) (*Fiber, context.Context) {
	if f := FromContext(ctx); f != nil {
		return f, ctx
	}
	f := newMain(ctx)
	return f, f.ctx
}

// ID returns the id of the fiber carried by ctx, or 0.
func ID(ctx context.Context) uint64 {
	if f := FromContext(ctx); f != nil {
		return f.id
	}
	return 0
}

// YieldToReady yields the fiber carried by ctx to READY.
func YieldToReady(ctx context.Context) {
	current(ctx).YieldToReady()
}

// YieldToHold yields the fiber carried by ctx to HOLD.
func YieldToHold(ctx context.Context) {
	current(ctx).YieldToHold()
}

func current(ctx context.Context) *Fiber {
	f, _ := GetThis(ctx)
	return f
}

func panicString(r any) string {
	switch v := r.(type) {
	case error:
		return v.Error()
	case string:
		return v
	}
	return fmt.Sprintf("%v", r)
}
