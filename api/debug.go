// Package api
// Author: momentics <momentics@gmail.com>
//
// Live introspection of scheduler, reactor and timer state.

package api

// Debug exposes runtime introspection.
type Debug interface {
	// DumpState evaluates every probe and returns a snapshot keyed by name.
	DumpState() map[string]any

	// RegisterProbe registers or replaces a named probe.
	RegisterProbe(name string, fn func() any)

	// UnregisterProbe removes a probe; unknown names are ignored.
	UnregisterProbe(name string)
}
