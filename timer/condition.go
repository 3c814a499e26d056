// File: timer/condition.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package timer

import (
	"sync/atomic"
	"weak"
)

// Condition is the liveness check of a condition timer.
type Condition interface {
	Alive() bool
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc func() bool

func (f ConditionFunc) Alive() bool { return f() }

// Token is an explicitly invalidated liveness flag. The owner of an
// operation invalidates it when the operation completes, turning any timer
// still guarded by it into a no-op.
type Token struct {
	dead atomic.Bool
}

// NewToken returns a live token.
func NewToken() *Token { return &Token{} }

// Invalidate marks the token dead. It is safe to call more than once.
func (t *Token) Invalidate() { t.dead.Store(true) }

// Alive reports whether Invalidate has not been called.
func (t *Token) Alive() bool { return !t.dead.Load() }

// Weak is alive for as long as the referenced value has not been collected.
type Weak[T any] struct {
	p weak.Pointer[T]
}

// WeakOf builds a Condition tracking v without keeping it reachable.
func WeakOf[T any](v *T) Weak[T] {
	return Weak[T]{p: weak.Make(v)}
}

func (w Weak[T]) Alive() bool { return w.p.Value() != nil }
