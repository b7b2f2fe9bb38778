package modelclient

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a model call failure so callers can apply fallback
// logic uniformly. Only transport kinds (Timeout, Connection, RateLimit,
// Server) are retried inside the client; InvalidResponse surfaces at once.
type ErrorKind string

const (
	KindTimeout         ErrorKind = "timeout"
	KindConnection      ErrorKind = "connection"
	KindRateLimit       ErrorKind = "rate_limit"
	KindServer          ErrorKind = "server"
	KindInvalidResponse ErrorKind = "invalid_response"
)

// Error is a typed model call failure.
type Error struct {
	Kind ErrorKind
	Role Role
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("model call failed (role=%s, kind=%s): %v", e.Role, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the error kind, or "" for non-model errors.
func KindOf(err error) ErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// retryable reports whether a kind is worth retrying within the client.
func (k ErrorKind) retryable() bool {
	switch k {
	case KindTimeout, KindConnection, KindRateLimit, KindServer:
		return true
	default:
		return false
	}
}
