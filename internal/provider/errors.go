package provider

import (
	"errors"
	"fmt"
	"strings"
)

// TransientError wraps a failure that is expected to succeed on retry,
// such as throttling or a dropped connection. The executor retries these
// with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that will not succeed on retry, such as
// invalid parameters. The executor surfaces these immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// NotFoundError reports that a remote resource no longer exists.
type NotFoundError struct {
	Type     string
	RemoteID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource %s with id %q not found", e.Type, e.RemoteID)
}

// IsTransient reports whether an error was classified transient by a
// provider. Unclassified errors fall back to message matching for common
// cloud API throttling and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"throttl",
	"rate exceed",
	"too many requests",
	"request limit",
	"service unavailable",
	"internal server error",
	"connection reset",
	"connection refused",
	"timeout",
	"tls handshake",
	"i/o timeout",
	"temporary failure",
}

// IsNotFound reports whether an error is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
