package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a request failure for transport translation.
// The kind is carried through the call chain and converted to an HTTP
// status code only at the web boundary.
type ErrorKind int

const (
	// KindInvalidInput covers malformed requests: wrong MIME type,
	// missing required fields, out-of-range sampling parameters.
	KindInvalidInput ErrorKind = iota

	// KindModelNotReady means no pipeline for the requested capability
	// was successfully loaded at startup.
	KindModelNotReady

	// KindInferenceFailure covers any error raised inside the delegated
	// model call.
	KindInferenceFailure
)

// String returns the snake_case name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindModelNotReady:
		return "model_not_ready"
	case KindInferenceFailure:
		return "inference_failure"
	default:
		return "unknown"
	}
}

// RequestError is a classified error for a single generation request.
// It wraps the underlying cause so callers can still use errors.Is/As.
type RequestError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewInvalidInput creates a RequestError of kind KindInvalidInput.
func NewInvalidInput(message string, cause error) *RequestError {
	return &RequestError{Kind: KindInvalidInput, Message: message, Err: cause}
}

// NewModelNotReady creates a RequestError of kind KindModelNotReady.
func NewModelNotReady(message string) *RequestError {
	return &RequestError{Kind: KindModelNotReady, Message: message}
}

// NewInferenceFailure creates a RequestError of kind KindInferenceFailure.
func NewInferenceFailure(message string, cause error) *RequestError {
	return &RequestError{Kind: KindInferenceFailure, Message: message, Err: cause}
}

// KindOf extracts the ErrorKind from an error chain.
// Unclassified errors are reported as KindInferenceFailure, matching the
// catch-all handling at the outermost request boundary.
func KindOf(err error) ErrorKind {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind
	}
	return KindInferenceFailure
}
