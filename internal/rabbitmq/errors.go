package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrConnectionClosed     = errors.New("rabbitmq: connection is closed")
	ErrConnectionNotReady   = errors.New("rabbitmq: connection not ready")
	ErrConnectionTimeout    = errors.New("rabbitmq: connection timeout")
	ErrMaxRetriesExceeded   = errors.New("rabbitmq: maximum reconnection attempts exceeded")
	ErrChannelClosed        = errors.New("rabbitmq: channel is closed")
	ErrInvalidConfiguration = errors.New("rabbitmq: invalid configuration")
)

// OpError is a failed broker operation. Target is the sanitized URL for
// connection operations and the queue name otherwise.
type OpError struct {
	Op       string
	Target   string
	Attempts int
	Err      error
}

func (e *OpError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("rabbitmq %s %s failed after %d attempts: %v", e.Op, e.Target, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// IsRetryable lets the bridge's retry policy skip failures that another
// attempt cannot fix.
func (e *OpError) IsRetryable() bool {
	return IsRetryable(e.Err)
}

// IsRetryable reports whether err may succeed on another attempt
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrInvalidConfiguration) && !errors.Is(err, ErrMaxRetriesExceeded)
}

// SanitizeURL hides the password of a connection URL
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
