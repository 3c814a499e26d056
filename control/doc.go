// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration tunables, runtime metrics and debug introspection for the
// fiber runtime.
//
// Provides concurrent-safe primitives including:
//   - Typed tunables with change listeners and YAML loading
//   - Prometheus collectors for schedulers and reactors
//   - Named debug probes with state export
//
// Packages declare the tunables they consume against Default(), e.g.
//
//	var stackSize = control.Lookup(control.Default(), "fiber.stack_size", 128*1024, "fiber stack size")
package control
