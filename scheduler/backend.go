// File: scheduler/backend.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package scheduler

import (
	"context"
	"time"

	"github.com/momentics/hioload-fiber/fiber"
)

// baseIdleWait bounds a worker's idle wait when no backend is installed.
const baseIdleWait = 10 * time.Millisecond

// baseBackend parks idle workers on a buffered wake channel.
type baseBackend struct {
	s *Scheduler
}

func (b *baseBackend) Tickle() {
	select {
	case b.s.wake <- struct{}{}:
	default:
	}
}

func (b *baseBackend) Idle(ctx context.Context) {
	t := time.NewTimer(baseIdleWait)
	defer t.Stop()
	for !b.s.Stopping() {
		select {
		case <-b.s.wake:
		case <-t.C:
		}
		t.Reset(baseIdleWait)
		fiber.YieldToHold(ctx)
	}
}

func (b *baseBackend) Stopping() bool {
	return b.s.BaseStopping()
}
