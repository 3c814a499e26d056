// Package api
// Author: momentics <momentics@gmail.com>
//
// Capability contracts shared by the scheduler, the timer manager and the
// I/O manager. The scheduler owns the dispatch loop; a Backend plugs the
// reactor into it without the scheduler knowing about descriptors.

package api

import "context"

// Wakeable is anything that can unblock a worker parked in its idle body.
type Wakeable interface {
	// Tickle wakes at most one idle worker. It must never block.
	Tickle()
}

// IdleBody is what a worker's idle fiber runs when no task is runnable.
// Implementations must yield the calling fiber back to the scheduler
// (to HOLD) after each wait and return once Stopping reports true.
type IdleBody interface {
	Idle(ctx context.Context)
}

// Backend extends the scheduler with a wake mechanism, an idle body and a
// stricter stopping predicate.
type Backend interface {
	Wakeable
	IdleBody

	// Stopping reports whether the worker loops may exit. Implementations
	// usually combine their own state with the scheduler's base predicate.
	Stopping() bool
}

// FrontNotifier is told when a timer becomes the earliest deadline.
type FrontNotifier interface {
	OnTimerInsertedAtFront()
}
