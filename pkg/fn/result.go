// Package fn holds the small generic helpers the pipelines are written in:
// a Result type, composable stages, bounded fan-out and retries.
package fn

import "fmt"

// Result carries either a value or an error between stages.
type Result[T any] struct {
	val T
	err error
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] { return Result[T]{val: v} }

// Err wraps an error. A nil error still yields a failed Result.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = fmt.Errorf("fn: nil error")
	}
	return Result[T]{err: err}
}

// Errf builds a failed Result with fmt.Errorf semantics, %w included.
func Errf[T any](format string, args ...any) Result[T] {
	return Result[T]{err: fmt.Errorf(format, args...)}
}

// FromPair adapts a (value, error) return.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

func (r Result[T]) IsOk() bool  { return r.err == nil }
func (r Result[T]) IsErr() bool { return r.err != nil }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }
