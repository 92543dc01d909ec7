package features

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies why a signal could not be computed.
type ErrorKind string

const (
	KindNetwork       ErrorKind = "network"
	KindParse         ErrorKind = "parse"
	KindConfiguration ErrorKind = "configuration"
	KindShapeMismatch ErrorKind = "shape_mismatch"
	KindUnknown       ErrorKind = "unknown"
)

// ErrShapeMismatch is returned when a vector's length disagrees with the
// manifest it is checked against.
var ErrShapeMismatch = errors.New("feature vector shape mismatch")

// SignalError records a failure from one external signal source.
type SignalError struct {
	Kind   ErrorKind
	Source string
	Err    error
}

// Error implements the error interface.
func (e *SignalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Source, e.Kind, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }

// NetworkError wraps err as a network failure from source.
func NetworkError(source string, err error) error {
	return &SignalError{Kind: KindNetwork, Source: source, Err: err}
}

// ParseError wraps err as a parse failure from source.
func ParseError(source string, err error) error {
	return &SignalError{Kind: KindParse, Source: source, Err: err}
}

// ConfigError wraps err as a configuration failure from source.
func ConfigError(source string, err error) error {
	return &SignalError{Kind: KindConfiguration, Source: source, Err: err}
}

// KindOf classifies an arbitrary error. Context deadlines, cancellations, and
// net errors count as network failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *SignalError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrShapeMismatch) {
		return KindShapeMismatch
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindNetwork
	}
	return KindUnknown
}
