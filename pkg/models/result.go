package models

// Result carries the outcome of a backend-confirmed mutation. The caller
// decides whether to apply the new state; nothing is applied on failure.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

// Ok wraps a confirmed new state.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

// Failed wraps the reason a mutation was not confirmed.
func Failed[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// IsOk reports whether the backend confirmed the mutation.
func (r Result[T]) IsOk() bool {
	return r.ok
}

// Value returns the confirmed state (zero value on failure).
func (r Result[T]) Value() T {
	return r.value
}

// Err returns the failure reason, or nil.
func (r Result[T]) Err() error {
	return r.err
}

// Apply runs fn with the confirmed state and reports whether it ran.
func (r Result[T]) Apply(fn func(T)) bool {
	if !r.ok {
		return false
	}
	fn(r.value)
	return true
}
