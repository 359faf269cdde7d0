// Package errors defines the error taxonomy of the DAPNET proxy.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Sentinel errors for the DAPNET proxy.
var (
	// Configuration errors
	ErrMissingKey      = errors.New("missing configuration key")
	ErrInvalidValue    = errors.New("invalid configuration value")
	ErrProfileExists   = errors.New("profile already registered")
	ErrProfileNotFound = errors.New("no such profile")

	// Dial errors
	ErrFrontendUnavailable = errors.New("frontend unavailable")
	ErrBackendUnavailable  = errors.New("backend unavailable")

	// Session errors
	ErrConnectionLost   = errors.New("connection lost")
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteFailed      = errors.New("write failed")
	ErrFrameTooLong     = errors.New("frame exceeds maximum length")
	ErrKeepaliveTimeout = errors.New("keepalive timeout")

	// Manager errors
	ErrManagerClosed = errors.New("proxy manager is shut down")
	ErrInternal      = errors.New("internal fault")
)

// ProxyError carries the operation, the failure kind and the profile that
// a failure belongs to.
type ProxyError struct {
	Op      string // Operation that failed
	Kind    error  // Category of error
	Profile string // Profile name, if known
	Err     error  // Underlying error
}

// Error returns the error message.
func (e *ProxyError) Error() string {
	prefix := e.Op
	if e.Profile != "" {
		prefix = fmt.Sprintf("%s [%s]", e.Op, e.Profile)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Kind)
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target error.
func (e *ProxyError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Wrap wraps an error with operation context.
func Wrap(op string, kind error, err error) *ProxyError {
	return &ProxyError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// WrapProfile wraps an error with operation and profile context.
func WrapProfile(op, profile string, kind error, err error) *ProxyError {
	return &ProxyError{
		Op:      op,
		Kind:    kind,
		Profile: profile,
		Err:     err,
	}
}

// Class is the coarse failure classification used for logs and metrics.
// It never changes the reconnect decision.
type Class int

const (
	ClassNone        Class = iota // No failure
	ClassUnreachable              // Could not resolve or connect
	ClassLost                     // Connection lost after establishment
	ClassInternal                 // Unexpected internal fault
	ClassConfig                   // Configuration error
	ClassCancelled                // Shutdown in progress
)

// String returns a string representation of the class.
func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassUnreachable:
		return "unreachable"
	case ClassLost:
		return "lost"
	case ClassInternal:
		return "internal"
	case ClassConfig:
		return "config"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps an error onto a failure class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, ErrInternal):
		return ClassInternal
	case errors.Is(err, ErrMissingKey),
		errors.Is(err, ErrInvalidValue),
		errors.Is(err, ErrProfileExists):
		return ClassConfig
	case errors.Is(err, ErrFrontendUnavailable),
		errors.Is(err, ErrBackendUnavailable),
		IsUnreachable(err):
		return ClassUnreachable
	default:
		return ClassLost
	}
}

// IsUnreachable returns true for host unreachable, DNS failures, refused
// connections and dial timeouts.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	return false
}
