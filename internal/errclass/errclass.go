// Package errclass classifies errors into system (infrastructure) failures
// and logical (business) failures. Only system failures are allowed to feed
// circuit breaker state; logical errors such as validation or not-found must
// never trip a circuit.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Kind is the classification of an error.
type Kind int

const (
	Logical Kind = iota // Business outcome; never affects circuit state.
	System              // Infrastructure failure; feeds the failure counter.
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case Logical:
		return "logical"
	case System:
		return "system"
	default:
		return "unknown"
	}
}

// transientSignatures are message fragments that mark an error as an
// infrastructure failure when typed matching does not apply, e.g. errors
// flattened to strings by a driver or a remote API.
var transientSignatures = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"connection closed",
	"no such host",
	"host is unreachable",
	"network is unreachable",
	"network is down",
	"broken pipe",
	"unexpected eof",
	"service unavailable",
	"too many open files",
}

var transientErrnos = []syscall.Errno{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.EPIPE,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
	syscall.ETIMEDOUT,
}

// systemError marks an error as a system failure regardless of its message.
type systemError struct {
	err error
}

func (e *systemError) Error() string { return e.err.Error() }
func (e *systemError) Unwrap() error { return e.err }

// AsSystem wraps err so Classify reports it as System. Used by callers that
// know an outcome is infrastructural (e.g. an upstream 5xx) even when the
// error text carries no transient signature. Returns nil for a nil err.
func AsSystem(err error) error {
	if err == nil {
		return nil
	}
	return &systemError{err: err}
}

// SystemError builds a new system-classified error from a format string.
func SystemError(format string, args ...any) error {
	return &systemError{err: fmt.Errorf(format, args...)}
}

// Classify reports whether err represents a system (infrastructure) failure
// or a logical (business) failure. A nil error is Logical.
func Classify(err error) Kind {
	if err == nil {
		return Logical
	}

	var sysErr *systemError
	if errors.As(err, &sysErr) {
		return System
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return System
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return System
	}

	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return System
		}
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return System
		}
	}

	return Logical
}
