package core

import (
	"errors"
	"fmt"
)

// ErrSubscriptionClosed is reported through EventHandler.OnError when
// the upstream change feed ends on its own (server-side timeout,
// dropped connection). The subscription handle is dead at that point
// and has to be reopened from the last resume token.
var ErrSubscriptionClosed = errors.New("subscription closed by upstream")

// ErrResourceExpired is wrapped into an ErrorEvent when the upstream
// no longer serves the requested resume token (HTTP 410 Gone). The
// collection has to be listed again before it can be resumed.
var ErrResourceExpired = errors.New("resource version expired")

// ErrClusterNotFound indicates that the requested cluster is not
// known to the configured kubeconfig.
type ErrClusterNotFound struct {
	Cluster string
}

func (e *ErrClusterNotFound) Error() string {
	return fmt.Sprintf("cluster %s not registered", e.Cluster)
}

// ErrNotReady indicates that a required subsystem has not been
// initialized yet.
type ErrNotReady struct {
	Subsystem string
}

func (e *ErrNotReady) Error() string {
	return fmt.Sprintf("%s not initialized", e.Subsystem)
}

// ErrInvalidInput indicates a domain-level input validation failure.
type ErrInvalidInput struct {
	Field   string
	Message string
}

func (e *ErrInvalidInput) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ErrorCode classifies a DomainError independently of any transport.
type ErrorCode int

const (
	ErrorCodeInternal ErrorCode = iota
	ErrorCodeInvalidArgument
	ErrorCodeNotFound
	ErrorCodeAlreadyExists
	ErrorCodeUnauthenticated
	ErrorCodePermissionDenied
	ErrorCodeFailedPrecondition
	ErrorCodeDeadlineExceeded
	ErrorCodeResourceExhausted
	ErrorCodeUnimplemented
	ErrorCodeUnavailable
)

// DomainError carries an ErrorCode for errors that originate in an
// infrastructure adapter (for example a Kubernetes API status) so the
// handler layer can pick a transport code without knowing the adapter.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "unknown error"
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}
