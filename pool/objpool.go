// File: pool/objpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Typed wrappers over sync.Pool for buffers that are handed to fibers and
// returned when the fiber is done with them.

package pool

import "sync"

// ObjectPool is a generic object pool.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool wraps sync.Pool for generic usage. An optional reset hook runs
// on every Put, before the object becomes visible to other callers.
type SyncPool[T any] struct {
	pool  *sync.Pool
	reset func(T)
}

var _ ObjectPool[int] = (*SyncPool[int])(nil)

// NewSyncPool creates a new SyncPool with a creator function.
func NewSyncPool[T any](creator func() T) *SyncPool[T] {
	return &SyncPool[T]{
		pool: &sync.Pool{New: func() any { return creator() }},
	}
}

// WithReset installs a hook run on each object handed to Put.
func (sp *SyncPool[T]) WithReset(fn func(T)) *SyncPool[T] {
	sp.reset = fn
	return sp
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	if sp.reset != nil {
		sp.reset(obj)
	}
	sp.pool.Put(obj)
}

// NewSlicePool pools *[]T buffers of a fixed length. A buffer whose length
// was changed by the holder is restored on Put.
func NewSlicePool[T any](length int) *SyncPool[*[]T] {
	return NewSyncPool(func() *[]T {
		buf := make([]T, length)
		return &buf
	}).WithReset(func(b *[]T) {
		if cap(*b) >= length {
			*b = (*b)[:length]
		}
	})
}
