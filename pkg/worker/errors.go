package worker

import "errors"

var (
	// ErrNilProcessor indicates the pool was constructed without a processor
	ErrNilProcessor = errors.New("worker pool requires a processor function")
	// ErrAlreadyStarted indicates Start was called twice
	ErrAlreadyStarted = errors.New("worker pool already started")
	// ErrNotStarted indicates Submit was called before Start or after Stop
	ErrNotStarted = errors.New("worker pool not running")
	// ErrQueueFull indicates the work queue is at capacity
	ErrQueueFull = errors.New("worker pool queue full")
)
