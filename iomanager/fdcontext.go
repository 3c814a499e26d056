// File: iomanager/fdcontext.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package iomanager

import (
	"strconv"
	"strings"
	"sync"

	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/internal/invariant"
	"github.com/momentics/hioload-fiber/internal/logging"
	"github.com/momentics/hioload-fiber/reactor"
	"github.com/momentics/hioload-fiber/scheduler"
)

// Event is a descriptor readiness kind.
type Event uint32

const (
	None  Event = 0
	Read  Event = Event(reactor.EventRead)
	Write Event = Event(reactor.EventWrite)
)

func (e Event) String() string {
	if e == None {
		return "NONE"
	}
	var parts []string
	if e&Read != 0 {
		parts = append(parts, "READ")
	}
	if e&Write != 0 {
		parts = append(parts, "WRITE")
	}
	if rest := e &^ (Read | Write); rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(parts, "|")
}

// eventContext is the waiter of one event kind: a fiber or a task, never
// both, plus the scheduler that will run it.
type eventContext struct {
	sched *scheduler.Scheduler
	fiber *fiber.Fiber
	task  scheduler.Task
}

func (ec *eventContext) empty() bool {
	return ec.sched == nil && ec.fiber == nil && ec.task == nil
}

func (ec *eventContext) reset() {
	*ec = eventContext{}
}

// FdContext is the per-descriptor registration state.
type FdContext struct {
	mu     sync.Mutex
	fd     int
	events Event
	read   eventContext
	write  eventContext
}

func (c *FdContext) contextFor(ev Event, log *logging.Logger) *eventContext {
	switch ev {
	case Read:
		return &c.read
	case Write:
		return &c.write
	}
	invariant.Violate(log, "iomanager.event_context", "fd=%d invalid event %s", c.fd, ev)
	return nil
}

// trigger hands the waiter of ev to its scheduler and disarms ev. Caller
// holds c.mu.
func (c *FdContext) trigger(ev Event, log *logging.Logger) {
	if c.events&ev == 0 {
		invariant.Violate(log, "iomanager.trigger", "fd=%d event %s not armed (mask=%s)", c.fd, ev, c.events)
	}
	c.events &^= ev
	ec := c.contextFor(ev, log)
	switch {
	case ec.task != nil:
		ec.sched.Schedule(ec.task)
	case ec.fiber != nil:
		ec.sched.ScheduleFiber(ec.fiber, scheduler.ThreadAny)
	default:
		invariant.Violate(log, "iomanager.trigger", "fd=%d event %s armed without waiter", c.fd, ev)
	}
	ec.reset()
}
