package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures for the chain's fallback decision.
type ErrorKind string

const (
	// KindConfig marks missing or inconsistent provider settings.
	KindConfig ErrorKind = "config"

	// KindAuth marks credential rejection by the upstream service.
	// Fatal for that provider; the chain continues.
	KindAuth ErrorKind = "auth"

	// KindTransient marks timeouts, 429s, 5xx and connection resets.
	KindTransient ErrorKind = "transient"

	// KindPermanent marks malformed input or responses; never retried.
	KindPermanent ErrorKind = "permanent"
)

// ProviderError wraps a provider failure with its classification.
type ProviderError struct {
	ProviderID string
	Kind       ErrorKind
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.ProviderID, e.Kind, e.Message)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a classified provider error.
func NewProviderError(providerID string, kind ErrorKind, message string, err error) *ProviderError {
	return &ProviderError{
		ProviderID: providerID,
		Kind:       kind,
		Message:    message,
		Err:        err,
	}
}

// KindOf returns the classification of an error, defaulting to transient
// for errors the chain did not produce itself.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindTransient
}
