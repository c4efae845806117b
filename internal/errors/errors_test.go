package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionError_Matching(t *testing.T) {
	invalid := InvalidTransitionError("pending", "arrived")
	assert.ErrorIs(t, invalid, ErrInvalidTransition)
	assert.NotErrorIs(t, invalid, ErrAlreadyTerminal)

	terminal := AlreadyTerminalError("completed", "cancelled")
	assert.ErrorIs(t, terminal, ErrInvalidTransition)
	assert.ErrorIs(t, terminal, ErrAlreadyTerminal)
	assert.Equal(t, "request is already completed, cannot move to cancelled", terminal.Error())
}

func TestTransport(t *testing.T) {
	assert.NoError(t, Transport("create", nil))

	err := Transport("create", context.DeadlineExceeded)
	var te *TransportError
	assert.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Same(t, err, Transport("outer", err), "already wrapped errors are kept")
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		status    int
		retryable bool
	}{
		{"validation", Validation("phone", "bad phone"), "validation_error", http.StatusUnprocessableEntity, false},
		{"wrapped validation", fmt.Errorf("submit: %w", Validation("location", "short")), "validation_error", http.StatusUnprocessableEntity, false},
		{"not found", Missing("request", "r1"), "not_found", http.StatusNotFound, false},
		{"invalid transition", InvalidTransitionError("pending", "arrived"), "invalid_transition", http.StatusConflict, false},
		{"terminal", AlreadyTerminalError("cancelled", "matched"), "already_terminal", http.StatusConflict, false},
		{"network", Transport("create", errors.New("connection refused")), "network_error", http.StatusServiceUnavailable, true},
		{"timeout", Transport("create", context.DeadlineExceeded), "timeout", http.StatusGatewayTimeout, true},
		{"provider", &ProviderInitError{Provider: "mapbox", Reason: "missing access token"}, "provider_unavailable", http.StatusServiceUnavailable, true},
		{"review", fmt.Errorf("rating: %w", ErrReviewNotAllowed), "review_not_allowed", http.StatusConflict, false},
		{"api error passthrough", BadRequest("nope"), "bad_request", http.StatusBadRequest, false},
		{"unknown", errors.New("boom"), "internal_error", http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromError(tt.err)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.retryable, apiErr.Retryable)
		})
	}
}

func TestFromError_HidesInternalDetail(t *testing.T) {
	apiErr := FromError(errors.New("pq: password authentication failed"))
	assert.Equal(t, "internal server error", apiErr.Message)
}
