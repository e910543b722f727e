package gateway

import (
	"errors"
	"fmt"
)

// ErrGatewayUnavailable means the provider could not be reached or timed out. Transient.
var ErrGatewayUnavailable = errors.New("gateway unavailable")

// ErrGatewayRejected means the provider refused the credentials or configuration.
// Not transient: a human has to fix the configuration.
var ErrGatewayRejected = errors.New("gateway rejected credentials")

// SendFailedError reports a single message the provider did not accept.
type SendFailedError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *SendFailedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("send failed (HTTP %d): %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("send failed: %s", e.Reason)
}

func (e *SendFailedError) Unwrap() error { return e.Err }

// NewSendFailed wraps cause into a SendFailedError keeping it reachable through errors.Is.
func NewSendFailed(reason string, statusCode int, cause error) *SendFailedError {
	return &SendFailedError{Reason: reason, StatusCode: statusCode, Err: cause}
}
