package ffi

import "sync"

// scope pairs a value crossing the native boundary with the destructor
// that releases it. Close is idempotent: the teacher's native.go relies on
// exactly this property (sync.Once-guarded teardown) to make every exit
// path — normal return, error return, or a deferred cleanup after a
// panic — safe to call unconditionally.
type scope[T any] struct {
	value T
	free  func(T)
	once  sync.Once
}

// newScope wraps value with its release function. Per spec.md §4.2's
// ownership rule, free must be the matching destructor for whoever
// allocated value: the wrapper's own allocator if the wrapper allocated
// it, or the backend's free function if the backend returned it.
func newScope[T any](value T, free func(T)) *scope[T] {
	return &scope[T]{value: value, free: free}
}

// Close releases the wrapped value. Safe to call multiple times or from a
// deferred cleanup after a panic; only the first call has any effect.
func (s *scope[T]) Close() {
	s.once.Do(func() {
		if s.free != nil {
			s.free(s.value)
		}
	})
}
