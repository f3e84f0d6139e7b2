package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a protkit error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrEmptySequence     ErrorCode = "EMPTY_SEQUENCE"     // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrFileNotFound      ErrorCode = "FILE_NOT_FOUND"     // 404
	ErrSequenceTooShort  ErrorCode = "SEQUENCE_TOO_SHORT" // 422
	ErrCancelled         ErrorCode = "CANCELLED"          // 499
	ErrInternal          ErrorCode = "INTERNAL"           // 500
	ErrAccessionLookup   ErrorCode = "ACCESSION_LOOKUP"   // 502
	ErrConnectionFailed  ErrorCode = "CONNECTION_FAILED"  // 502
	ErrUpstreamStatus    ErrorCode = "UPSTREAM_STATUS"    // 502
	ErrMalformedResponse ErrorCode = "MALFORMED_RESPONSE" // 502
	ErrPredictionTimeout ErrorCode = "PREDICTION_TIMEOUT" // 504
	ErrPollExhausted     ErrorCode = "POLL_EXHAUSTED"     // 504
)

// ProtkitError represents a structured error with code, status, and details.
type ProtkitError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *ProtkitError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *ProtkitError {
	return &ProtkitError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewEmptySequence creates a 400 error when no usable residues remain after normalization.
func NewEmptySequence() *ProtkitError {
	return &ProtkitError{
		Code:    ErrEmptySequence,
		Status:  400,
		Message: "sequence is empty or contains no standard amino acids",
	}
}

// NewSequenceTooShort creates a 422 error for sequences below the prediction minimum.
func NewSequenceTooShort(min, actual int) *ProtkitError {
	return &ProtkitError{
		Code:    ErrSequenceTooShort,
		Status:  422,
		Message: fmt.Sprintf("sequence too short: at least %d residues required, got %d", min, actual),
		Details: map[string]any{"min_length": min, "actual_length": actual},
	}
}

// NewNotFound creates a 404 error for a missing session or slot.
func NewNotFound(identifier string) *ProtkitError {
	return &ProtkitError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing file.
func NewFileNotFound(path string) *ProtkitError {
	return &ProtkitError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewCancelled creates a 499 error when an operation is cancelled by its caller.
func NewCancelled(op string) *ProtkitError {
	return &ProtkitError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
	}
}

// NewAccessionLookup creates a 502 error when an accession cannot be resolved to a sequence.
func NewAccessionLookup(accession string, cause error) *ProtkitError {
	msg := fmt.Sprintf("could not fetch sequence for accession %s", accession)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &ProtkitError{
		Code:    ErrAccessionLookup,
		Status:  502,
		Message: msg,
		Details: map[string]any{"accession": accession},
	}
}

// NewConnectionFailed creates a 502 error when the prediction service is unreachable.
func NewConnectionFailed(cause error) *ProtkitError {
	msg := "could not connect to the prediction service"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &ProtkitError{
		Code:    ErrConnectionFailed,
		Status:  502,
		Message: msg,
	}
}

// NewUpstreamStatus creates a 502 error for a non-2xx response from the prediction service.
func NewUpstreamStatus(status int, detail string) *ProtkitError {
	return &ProtkitError{
		Code:    ErrUpstreamStatus,
		Status:  502,
		Message: fmt.Sprintf("prediction service returned status %d: %s", status, detail),
		Details: map[string]any{"upstream_status": status},
	}
}

// NewMalformedResponse creates a 502 error when the service response cannot be interpreted.
func NewMalformedResponse(msg string) *ProtkitError {
	return &ProtkitError{
		Code:    ErrMalformedResponse,
		Status:  502,
		Message: fmt.Sprintf("malformed prediction response: %s", msg),
	}
}

// NewPredictionTimeout creates a 504 error when a request to the prediction service times out.
func NewPredictionTimeout() *ProtkitError {
	return &ProtkitError{
		Code:    ErrPredictionTimeout,
		Status:  504,
		Message: "prediction request timed out, try again later",
	}
}

// NewPollExhausted creates a 504 error when a pending task never completes.
func NewPollExhausted(attempts int) *ProtkitError {
	return &ProtkitError{
		Code:    ErrPollExhausted,
		Status:  504,
		Message: fmt.Sprintf("prediction still pending after %d status polls", attempts),
		Details: map[string]any{"attempts": attempts},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *ProtkitError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &ProtkitError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a ProtkitError with the given code.
func Is(err error, code ErrorCode) bool {
	var pErr *ProtkitError
	if stderrors.As(err, &pErr) {
		return pErr.Code == code
	}
	return false
}

// As converts any error to a ProtkitError, wrapping unknown errors as INTERNAL.
func As(err error) *ProtkitError {
	if err == nil {
		return nil
	}
	var pErr *ProtkitError
	if stderrors.As(err, &pErr) {
		return pErr
	}
	return NewInternal(err)
}
