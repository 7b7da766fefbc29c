package model

import "errors"

var (
	// ErrInvalidTarget means the (folder, playbook) pair does not resolve to
	// a runnable unit. No job is created.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrAlreadyRunning means the concurrency policy rejected the submission
	// because a job for the same target is still active. No job is created.
	ErrAlreadyRunning = errors.New("a job for this target is already running")

	// ErrNotFound means no job or history record exists under the given id.
	ErrNotFound = errors.New("not found")

	// ErrNotRunning means the job exists but is not in a cancellable state.
	ErrNotRunning = errors.New("job is not running")
)
