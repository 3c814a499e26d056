// File: internal/invariant/invariant.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fatal assertion helper. A violation is logged at critical level with a
// captured stack and then raised as a panic carrying *api.InvariantError.
// Fiber trampolines re-raise it, so an unrecovered violation aborts the
// process.

package invariant

import (
	"fmt"
	"runtime/debug"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/internal/logging"
)

// Violate logs and panics. It never returns.
func Violate(log *logging.Logger, op string, format string, args ...any) {
	err := &api.InvariantError{
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Stack:   debug.Stack(),
	}
	logging.Or(log).Crit().
		Str("op", op).
		Str("stack", string(err.Stack)).
		Log(err.Message)
	panic(err)
}

// Check calls Violate when cond is false.
func Check(cond bool, log *logging.Logger, op string, format string, args ...any) {
	if !cond {
		Violate(log, op, format, args...)
	}
}
