package domain

import "errors"

var (
	// ErrProbeFailure marks a target that could not be observed.
	ErrProbeFailure = errors.New("probe failure")
	// ErrActionFailure marks a side effect that could not be applied.
	ErrActionFailure = errors.New("action failure")
	// ErrTimeout is returned by bounded external calls that ran out of time.
	ErrTimeout = errors.New("timeout")
)
