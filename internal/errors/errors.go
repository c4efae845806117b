package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Request lifecycle errors
	ErrValidation             = errors.New("validation failed")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrAlreadyTerminal        = errors.New("request already in a terminal state")
	ErrGeolocationUnavailable = errors.New("geolocation unavailable")
	ErrProviderInit           = errors.New("map provider initialization failed")
	ErrTransport              = errors.New("transport error")
	ErrReviewNotAllowed       = errors.New("review not allowed")
)

// ValidationError is a user-correctable input problem on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validation creates a new validation error
func Validation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports a missing request or mechanic.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Missing creates a not-found error for the given resource
func Missing(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// TransitionError reports a status change outside the transition table.
type TransitionError struct {
	From     string
	To       string
	terminal bool
}

func (e *TransitionError) Error() string {
	if e.terminal {
		return fmt.Sprintf("request is already %s, cannot move to %s", e.From, e.To)
	}
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

// Unwrap matches ErrInvalidTransition for every rejected edge, and also
// ErrAlreadyTerminal when the source status is completed or cancelled.
func (e *TransitionError) Unwrap() []error {
	if e.terminal {
		return []error{ErrAlreadyTerminal, ErrInvalidTransition}
	}
	return []error{ErrInvalidTransition}
}

// InvalidTransitionError creates a transition error for a non-terminal source status
func InvalidTransitionError(from, to string) *TransitionError {
	return &TransitionError{From: from, To: to}
}

// AlreadyTerminalError creates a transition error for a completed or cancelled source status
func AlreadyTerminalError(from, to string) *TransitionError {
	return &TransitionError{From: from, To: to, terminal: true}
}

// TransportError wraps a storage or network failure during creation or subscription.
type TransportError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: network: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// Transport wraps err as a transport error. Context deadline errors are marked as timeouts.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

// ProviderInitError is raised when a map provider cannot render its base layer.
type ProviderInitError struct {
	Provider string
	Reason   string
}

func (e *ProviderInitError) Error() string {
	return fmt.Sprintf("map provider %s: %s", e.Provider, e.Reason)
}

func (e *ProviderInitError) Unwrap() error { return ErrProviderInit }

// APIError represents a structured API error
type APIError struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError creates a new API error
func NewAPIError(code, message string, statusCode int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Common API errors
func NotFound(resource string) *APIError {
	return NewAPIError("not_found", fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func BadRequest(message string) *APIError {
	return NewAPIError("bad_request", message, http.StatusBadRequest)
}

func InternalError(message string) *APIError {
	return NewAPIError("internal_error", message, http.StatusInternalServerError)
}

func ValidationFailed(message string) *APIError {
	return NewAPIError("validation_error", message, http.StatusUnprocessableEntity)
}

func InvalidTransition(from, to string) *APIError {
	return NewAPIError("invalid_transition", fmt.Sprintf("cannot transition from %s to %s", from, to), http.StatusConflict)
}

func AlreadyTerminal(status string) *APIError {
	return NewAPIError("already_terminal", fmt.Sprintf("request is already %s", status), http.StatusConflict)
}

func ReviewNotAllowed(message string) *APIError {
	return NewAPIError("review_not_allowed", message, http.StatusConflict)
}

func NetworkError() *APIError {
	e := NewAPIError("network_error", "network error, please check your connection and try again", http.StatusServiceUnavailable)
	e.Retryable = true
	return e
}

func Timeout() *APIError {
	e := NewAPIError("timeout", "request timed out, please try again", http.StatusGatewayTimeout)
	e.Retryable = true
	return e
}

func ProviderUnavailable(message string) *APIError {
	e := NewAPIError("provider_unavailable", message, http.StatusServiceUnavailable)
	e.Retryable = true
	return e
}

// FromError converts any error produced by the core into an API error. Each error
// kind keeps its own code so callers can tell validation, transport and integrity
// problems apart.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return ValidationFailed(verr.Message)
	}

	var terr *TransitionError
	if errors.As(err, &terr) {
		if terr.terminal {
			return AlreadyTerminal(terr.From)
		}
		return InvalidTransition(terr.From, terr.To)
	}

	var trErr *TransportError
	if errors.As(err, &trErr) {
		if trErr.Timeout {
			return Timeout()
		}
		return NetworkError()
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		return NotFound(nf.Resource)
	}

	var pErr *ProviderInitError
	if errors.As(err, &pErr) {
		return ProviderUnavailable(pErr.Error())
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return NotFound("resource")
	case errors.Is(err, ErrValidation):
		return ValidationFailed(err.Error())
	case errors.Is(err, ErrAlreadyTerminal):
		return NewAPIError("already_terminal", err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalidTransition):
		return NewAPIError("invalid_transition", err.Error(), http.StatusConflict)
	case errors.Is(err, ErrReviewNotAllowed):
		return ReviewNotAllowed(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout()
	default:
		return InternalError("internal server error")
	}
}
