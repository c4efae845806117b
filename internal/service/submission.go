package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aditya/resq/internal/analytics"
	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/models"
)

const DefaultGeolocationTimeout = 10 * time.Second

// Locator resolves the submitter's position. hint is what the client reported, if anything.
type Locator interface {
	Locate(ctx context.Context, hint *models.Coordinates) (*models.Coordinates, error)
}

// ClientLocator trusts the coordinates reported by the client device.
type ClientLocator struct{}

func (ClientLocator) Locate(ctx context.Context, hint *models.Coordinates) (*models.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hint == nil {
		return nil, apperrors.ErrGeolocationUnavailable
	}
	if hint.Lat < -90 || hint.Lat > 90 || hint.Lng < -180 || hint.Lng > 180 {
		return nil, apperrors.ErrGeolocationUnavailable
	}
	c := *hint
	return &c, nil
}

// Watcher starts following a request as soon as it is stored, so the
// pre-selected match is seen as a transition.
type Watcher interface {
	Watch(ctx context.Context, requestID string) error
}

type SubmissionInput struct {
	Location    string
	Phone       string
	Description string
	ServiceType string
	MechanicID  string
	// SessionID picks up a mechanic selected earlier through the matcher.
	SessionID   string
	UserID      string
	Coordinates *models.Coordinates
}

type SubmissionResult struct {
	Request *models.EmergencyRequest
	// Located is false when the request was created without coordinates.
	Located bool
	// MatchErr is set when a pre-selected mechanic could not be attached. The
	// request still exists in pending.
	MatchErr error
}

type RequestSubmissionFlow interface {
	Submit(ctx context.Context, in SubmissionInput) (*SubmissionResult, error)
}

type submissionFlow struct {
	validator  *InputValidator
	store      RequestStore
	sequencer  StatusSequencer
	matcher    MechanicMatcher
	locator    Locator
	locTimeout time.Duration
	watcher    Watcher
	analytics  analytics.Emitter
	log        *slog.Logger
}

type SubmissionDeps struct {
	Validator          *InputValidator
	Store              RequestStore
	Sequencer          StatusSequencer
	Matcher            MechanicMatcher
	Locator            Locator
	GeolocationTimeout time.Duration
	Watcher            Watcher // optional
	Analytics          analytics.Emitter
	Logger             *slog.Logger
}

func NewRequestSubmissionFlow(deps SubmissionDeps) RequestSubmissionFlow {
	if deps.Locator == nil {
		deps.Locator = ClientLocator{}
	}
	if deps.GeolocationTimeout <= 0 {
		deps.GeolocationTimeout = DefaultGeolocationTimeout
	}
	return &submissionFlow{
		validator:  deps.Validator,
		store:      deps.Store,
		sequencer:  deps.Sequencer,
		matcher:    deps.Matcher,
		locator:    deps.Locator,
		locTimeout: deps.GeolocationTimeout,
		watcher:    deps.Watcher,
		analytics:  deps.Analytics,
		log:        deps.Logger.With("component", "submission"),
	}
}

func (f *submissionFlow) Submit(ctx context.Context, in SubmissionInput) (*SubmissionResult, error) {
	if err := f.validator.Validate(in.Location, in.Phone, in.Description); err != nil {
		f.emitError(ctx, analytics.ActionValidationError, err)
		return nil, err
	}

	serviceType, err := resolveServiceType(in.ServiceType, in.Description)
	if err != nil {
		f.emitError(ctx, analytics.ActionValidationError, err)
		return nil, err
	}

	mechanicID := in.MechanicID
	if mechanicID == "" && in.SessionID != "" && f.matcher != nil {
		mechanicID, _ = f.matcher.Selected(in.SessionID)
	}
	if mechanicID != "" {
		if _, err := f.store.GetMechanic(ctx, mechanicID); err != nil {
			f.emitError(ctx, analytics.ActionSubmitError, err)
			return nil, err
		}
	}

	coords := f.locate(ctx, in.Coordinates)

	input := models.CreateRequestInput{
		Location:    strings.TrimSpace(in.Location),
		Phone:       NormalizePhone(in.Phone),
		Coordinates: coords,
		ServiceType: serviceType,
	}
	if d := strings.TrimSpace(in.Description); d != "" {
		input.Description = &d
	}
	if in.UserID != "" {
		uid := in.UserID
		input.UserID = &uid
	}

	req, err := f.store.CreateRequest(ctx, input)
	if err != nil {
		f.emitError(ctx, analytics.ActionSubmitError, err)
		return nil, err
	}

	result := &SubmissionResult{Request: req, Located: coords != nil}

	if f.watcher != nil {
		if err := f.watcher.Watch(context.WithoutCancel(ctx), req.ID); err != nil {
			f.log.WarnContext(ctx, "watch request failed", "request_id", req.ID, "error", err)
		}
	}

	if mechanicID != "" {
		matched, err := f.sequencer.Transition(ctx, req.ID, models.RequestStatusMatched, &models.TransitionExtra{MechanicID: &mechanicID})
		if err != nil {
			f.log.WarnContext(ctx, "could not attach pre-selected mechanic", "request_id", req.ID, "mechanic_id", mechanicID, "error", err)
			result.MatchErr = err
		} else {
			result.Request = matched
		}
	}
	if in.SessionID != "" && f.matcher != nil {
		f.matcher.ClearSelection(in.SessionID)
	}

	f.analytics.Emit(ctx, analytics.Event{
		Category: analytics.CategoryRequest,
		Action:   analytics.ActionSubmitted,
		Label:    derefServiceType(serviceType),
	})
	return result, nil
}

// locate never fails the submission; a missing position is logged and dropped.
func (f *submissionFlow) locate(ctx context.Context, hint *models.Coordinates) *models.Coordinates {
	ctx, cancel := context.WithTimeout(ctx, f.locTimeout)
	defer cancel()

	type located struct {
		coords *models.Coordinates
		err    error
	}
	ch := make(chan located, 1)
	go func() {
		c, err := f.locator.Locate(ctx, hint)
		ch <- located{c, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			f.log.DebugContext(ctx, "geolocation unavailable", "error", res.err)
			return nil
		}
		return res.coords
	case <-ctx.Done():
		f.log.InfoContext(ctx, "geolocation timed out", "timeout", f.locTimeout)
		return nil
	}
}

func (f *submissionFlow) emitError(ctx context.Context, action string, err error) {
	label := "unknown"
	var verr *apperrors.ValidationError
	var terr *apperrors.TransportError
	switch {
	case errors.As(err, &verr):
		label = verr.Field
	case errors.As(err, &terr):
		label = apperrors.FromError(err).Code
	case errors.Is(err, apperrors.ErrNotFound):
		label = "not_found"
	}
	f.analytics.Emit(ctx, analytics.Event{Category: analytics.CategoryRequest, Action: action, Label: label})
}

func resolveServiceType(explicit, description string) (*models.ServiceType, error) {
	if explicit != "" {
		if !models.IsValidServiceType(explicit) {
			return nil, apperrors.Validation("service_type", "Unknown service type "+explicit)
		}
		st := models.ServiceType(explicit)
		return &st, nil
	}
	if st, ok := InferServiceType(description); ok {
		return &st, nil
	}
	return nil, nil
}
