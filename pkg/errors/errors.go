// Package errors defines the sentinel errors shared across the harness.
package errors

import "errors"

var (
	// ErrTimeout is returned when a result was not available within the
	// caller's wait budget. Recoverable: retry or abort the wait.
	ErrTimeout = errors.New("timed out waiting for result")

	// ErrWorkerGone indicates the worker has already terminated and can no
	// longer accept tasks. The caller transitions into its own close path.
	ErrWorkerGone = errors.New("worker is gone")

	// ErrUpdateFailed wraps an optimization-step failure. Fatal for the
	// worker that raised it.
	ErrUpdateFailed = errors.New("update step failed")

	ErrNoWorkers        = errors.New("no workers configured")
	ErrEmptyComponent   = errors.New("empty component name")
	ErrUnknownComponent = errors.New("unknown model component")
	ErrEmptyBuffer      = errors.New("replay buffer is empty")
	ErrBufferClosed     = errors.New("replay buffer is closed")
	ErrInvalidData      = errors.New("invalid data")
)
