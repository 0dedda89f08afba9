package agent

import "errors"

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrQueueFull    = errors.New("execution queue is full")
	ErrTaskInFlight = errors.New("task is already queued or running")
	ErrPoolClosed   = errors.New("execution pool is closed")
)
