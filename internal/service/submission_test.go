package service

import (
	"context"
	"testing"
	"time"

	"github.com/aditya/resq/internal/analytics"
	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/logger"
	"github.com/aditya/resq/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowLocator struct{}

func (slowLocator) Locate(ctx context.Context, _ *models.Coordinates) (*models.Coordinates, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (e *testEnv) submission(locator Locator, timeout time.Duration) RequestSubmissionFlow {
	return NewRequestSubmissionFlow(SubmissionDeps{
		Validator:          NewInputValidator(DefaultSubmissionRules()),
		Store:              e.store,
		Sequencer:          e.sequencer,
		Matcher:            e.matcher,
		Locator:            locator,
		GeolocationTimeout: timeout,
		Analytics:          e.events,
		Logger:             logger.Discard(),
	})
}

func TestSubmit_CreatesPendingRequest(t *testing.T) {
	env := newTestEnv(t)
	flow := env.submission(nil, 0)

	res, err := flow.Submit(context.Background(), SubmissionInput{
		Location: "  Main Street Garage ",
		Phone:    "(555) 123-4567",
	})
	require.NoError(t, err)

	req := res.Request
	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.Equal(t, "Main Street Garage", req.Location)
	assert.Equal(t, "555-123-4567", req.Phone)
	assert.Nil(t, req.MechanicID)
	assert.Nil(t, req.Description)
	assert.False(t, res.Located)
	assert.NoError(t, res.MatchErr)

	stored, err := env.store.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, stored.ID)
	assert.Equal(t, []string{analytics.ActionSubmitted}, env.events.Actions())
}

func TestSubmit_ValidationFailureCreatesNothing(t *testing.T) {
	env := newTestEnv(t)
	flow := env.submission(nil, 0)

	_, err := flow.Submit(context.Background(), SubmissionInput{Location: "Main", Phone: "555-123-4567"})

	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "location", verr.Field)

	events := env.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, analytics.ActionValidationError, events[0].Action)
	assert.Equal(t, "location", events[0].Label)

	assert.Zero(t, env.createCalls(), "no request may be stored")
}

func TestSubmit_PreselectedMechanic(t *testing.T) {
	env := newTestEnv(t)
	flow := env.submission(nil, 0)

	res, err := flow.Submit(context.Background(), SubmissionInput{
		Location:   "Main Street Garage",
		Phone:      "555-123-4567",
		MechanicID: "mech-001",
	})
	require.NoError(t, err)
	require.NoError(t, res.MatchErr)
	assert.Equal(t, models.RequestStatusMatched, res.Request.Status)
	require.NotNil(t, res.Request.MechanicID)
	assert.Equal(t, "mech-001", *res.Request.MechanicID)
}

func TestSubmit_UnknownMechanic(t *testing.T) {
	env := newTestEnv(t)
	flow := env.submission(nil, 0)

	_, err := flow.Submit(context.Background(), SubmissionInput{
		Location:   "Main Street Garage",
		Phone:      "555-123-4567",
		MechanicID: "mech-404",
	})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	events := env.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, analytics.ActionSubmitError, events[0].Action)
	assert.Equal(t, "not_found", events[0].Label)
}

func TestSubmit_UsesAndClearsSessionSelection(t *testing.T) {
	env := newTestEnv(t)
	flow := env.submission(nil, 0)
	ctx := context.Background()

	_, err := env.matcher.Select(ctx, "session-1", "mech-003")
	require.NoError(t, err)

	res, err := flow.Submit(ctx, SubmissionInput{
		Location:  "Main Street Garage",
		Phone:     "555-123-4567",
		SessionID: "session-1",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Request.MechanicID)
	assert.Equal(t, "mech-003", *res.Request.MechanicID)

	_, ok := env.matcher.Selected("session-1")
	assert.False(t, ok)
}

func TestSubmit_Geolocation(t *testing.T) {
	t.Run("client coordinates", func(t *testing.T) {
		env := newTestEnv(t)
		res, err := env.submission(nil, 0).Submit(context.Background(), SubmissionInput{
			Location:    "Main Street Garage",
			Phone:       "555-123-4567",
			Coordinates: &models.Coordinates{Lat: 40.7128, Lng: -74.006},
		})
		require.NoError(t, err)
		assert.True(t, res.Located)
		assert.Equal(t, &models.Coordinates{Lat: 40.7128, Lng: -74.006}, res.Request.Coordinates())
	})

	t.Run("out of range is dropped", func(t *testing.T) {
		env := newTestEnv(t)
		res, err := env.submission(nil, 0).Submit(context.Background(), SubmissionInput{
			Location:    "Main Street Garage",
			Phone:       "555-123-4567",
			Coordinates: &models.Coordinates{Lat: 123, Lng: -74.006},
		})
		require.NoError(t, err)
		assert.False(t, res.Located)
		assert.Nil(t, res.Request.Coordinates())
	})

	t.Run("timeout does not block submission", func(t *testing.T) {
		env := newTestEnv(t)
		start := time.Now()
		res, err := env.submission(slowLocator{}, 20*time.Millisecond).Submit(context.Background(), SubmissionInput{
			Location: "Main Street Garage",
			Phone:    "555-123-4567",
		})
		require.NoError(t, err)
		assert.False(t, res.Located)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, models.RequestStatusPending, res.Request.Status)
	})
}

func TestSubmit_ServiceType(t *testing.T) {
	env := newTestEnv(t)
	flow := env.submission(nil, 0)
	ctx := context.Background()

	res, err := flow.Submit(ctx, SubmissionInput{Location: "Main Street Garage", Phone: "555-123-4567", Description: "flat tire"})
	require.NoError(t, err)
	require.NotNil(t, res.Request.ServiceType)
	assert.Equal(t, models.ServiceTireChange, *res.Request.ServiceType)
	require.NotNil(t, res.Request.Description)
	assert.Equal(t, "flat tire", *res.Request.Description)

	res, err = flow.Submit(ctx, SubmissionInput{Location: "Main Street Garage", Phone: "555-123-4567", Description: "flat tire", ServiceType: "towing"})
	require.NoError(t, err)
	assert.Equal(t, models.ServiceTowing, *res.Request.ServiceType)

	_, err = flow.Submit(ctx, SubmissionInput{Location: "Main Street Garage", Phone: "555-123-4567", ServiceType: "teleport"})
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "service_type", verr.Field)
}
