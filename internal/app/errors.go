package app

import (
	"errors"
	"fmt"
)

// Custom application-level errors
var ErrSweepInProgress = errors.New("sweep already in progress")
var ErrGatewayNotReady = errors.New("gateway session is not connected or automation is inactive")

// ValidationError marks a message that could not be built from its inputs.
// It is recorded as a failed send, never returned to sweep callers.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}
