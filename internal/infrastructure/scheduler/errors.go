package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrDaemonAlreadyRunning is returned when Start is called twice
	ErrDaemonAlreadyRunning = errors.New("sync daemon already running")
)
