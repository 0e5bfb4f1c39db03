package agent

import "errors"

var (
	// ErrConfigInvalid is returned for configurations the agent cannot
	// start with.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrVtepNotFound is returned when no VTEP address could be resolved
	// from configuration or host interfaces.
	ErrVtepNotFound = errors.New("no vtep address found")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("agent is already running")
)
