package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired         = sterrors.New("messageless: configuration is required")
	ErrLoggerRequired         = sterrors.New("messageless: logger is required")
	ErrLocalPathRequired      = sterrors.New("messageless: local path is required")
	ErrRecipientPathRequired  = sterrors.New("messageless: recipient path is required")
	ErrRecipientKeyRequired   = sterrors.New("messageless: recipient key is required")
	ErrInterfaceRequired      = sterrors.New("messageless: interface type is required")
	ErrImplementationRequired = sterrors.New("messageless: service implementation is required")
	ErrResolverNotWritable    = sterrors.New("messageless: resolver does not accept registrations")
	ErrNodeClosed             = sterrors.New("messageless: node is closed")

	ErrUnsupportedOperation = sterrors.New("messageless: unsupported operation")
	ErrArgumentCount        = sterrors.New("messageless: argument count mismatch")
	ErrArgumentType         = sterrors.New("messageless: argument type mismatch")

	ErrServiceNotFound = sterrors.New("messageless: service not found")
	ErrTypeNotFound    = sterrors.New("messageless: declaring type not registered")
	ErrMethodNotFound  = sterrors.New("messageless: method not found")
	ErrUnknownMessage  = sterrors.New("messageless: unknown message kind")
	ErrDispatchFailure = sterrors.New("messageless: dispatch failed")
)

// UnsupportedOperationError reports a member that cannot cross the node
// boundary. It is returned before any token is minted or envelope sent.
type UnsupportedOperationError struct {
	Member string
	Reason string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("messageless: unsupported operation %s: %s", e.Member, e.Reason)
}

func (e *UnsupportedOperationError) Unwrap() error {
	return ErrUnsupportedOperation
}

// Unsupported builds an UnsupportedOperationError.
func Unsupported(member, reason string) error {
	return &UnsupportedOperationError{Member: member, Reason: reason}
}

// DispatchError wraps a failure raised while handling one inbound envelope.
// It matches both ErrDispatchFailure and the underlying cause.
type DispatchError struct {
	Kind string
	Key  string
	Err  error
}

func (e *DispatchError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("messageless: dispatch %s failed: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("messageless: dispatch %s %q failed: %v", e.Kind, e.Key, e.Err)
}

func (e *DispatchError) Unwrap() []error {
	return []error{ErrDispatchFailure, e.Err}
}

// ConfigValidationError wraps configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "messageless: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
