package prop

import (
	"sync"
	"sync/atomic"
)

// Lazy is a deferred resolution cell: the resolver runs at most once,
// on first Get, and both its value and its error are cached. A failed
// resolution is re-raised on every later Get rather than retried or
// swallowed.
type Lazy[T any] struct {
	once    sync.Once
	done    atomic.Bool
	value   T
	err     error
	resolve func() (T, error)
}

func NewLazy[T any](resolve func() (T, error)) *Lazy[T] {
	return &Lazy[T]{resolve: resolve}
}

// Get resolves the cell on first use and returns the cached outcome
// afterwards.
func (l *Lazy[T]) Get() (T, error) {
	l.once.Do(func() {
		l.value, l.err = l.resolve()
		l.resolve = nil
		l.done.Store(true)
	})
	return l.value, l.err
}

// Resolved reports whether Get has run.
func (l *Lazy[T]) Resolved() bool {
	return l.done.Load()
}
