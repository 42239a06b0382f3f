package vector

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrDimensionMismatch marks a vector whose length does not match the
// collection dimension. Permanent; never retried.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// StoreError wraps a backend failure with its retryability.
type StoreError struct {
	Op        string
	Transient bool
	Err       error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("vector store %s (%s): %v", e.Op, kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// newStoreError classifies a backend error. gRPC unavailability,
// deadline and backpressure codes are transient; invalid arguments are
// permanent; everything unidentified defaults to transient so the
// router degrades rather than hard-fails.
func newStoreError(op string, err error) *StoreError {
	transient := true
	switch status.Code(err) {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		transient = false
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		transient = true
	}
	if errors.Is(err, ErrDimensionMismatch) {
		transient = false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		transient = true
	}
	return &StoreError{Op: op, Transient: transient, Err: err}
}

// IsTransient reports whether the error identifies a recoverable store
// failure, meaning the vector path is unavailable and the router may
// fall back to the lexical index.
func IsTransient(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}
