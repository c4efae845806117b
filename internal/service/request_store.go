package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aditya/resq/internal/clock"
	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/models"
	"github.com/aditya/resq/internal/repository"
	"github.com/google/uuid"
)

// RequestStore owns the canonical request and mechanic records.
type RequestStore interface {
	CreateRequest(ctx context.Context, in models.CreateRequestInput) (*models.EmergencyRequest, error)
	GetRequest(ctx context.Context, id string) (*models.EmergencyRequest, error)
	// UpdateStatus applies the status change and extra fields in one atomic write.
	// Only the StatusSequencer calls it.
	UpdateStatus(ctx context.Context, id string, status models.RequestStatus, extra *models.TransitionExtra) (*models.EmergencyRequest, error)
	// SetReview records the one-time rating and review of a completed request.
	SetReview(ctx context.Context, id string, rating int, review string) (*models.EmergencyRequest, error)
	ListMechanics(ctx context.Context, filter MechanicFilter) ([]*models.Mechanic, error)
	GetMechanic(ctx context.Context, id string) (*models.Mechanic, error)
}

type requestStore struct {
	requests  repository.RequestRepository
	mechanics repository.MechanicRepository
	publisher SnapshotPublisher
	clock     clock.Clock
	log       *slog.Logger
}

func NewRequestStore(
	requests repository.RequestRepository,
	mechanics repository.MechanicRepository,
	publisher SnapshotPublisher,
	clk clock.Clock,
	log *slog.Logger,
) RequestStore {
	return &requestStore{
		requests:  requests,
		mechanics: mechanics,
		publisher: publisher,
		clock:     clk,
		log:       log.With("component", "request_store"),
	}
}

func (s *requestStore) CreateRequest(ctx context.Context, in models.CreateRequestInput) (*models.EmergencyRequest, error) {
	if strings.TrimSpace(in.Location) == "" {
		return nil, apperrors.Validation("location", "Location is required")
	}
	if strings.TrimSpace(in.Phone) == "" {
		return nil, apperrors.Validation("phone", "Phone number is required")
	}

	now := s.clock.Now().UTC()
	req := &models.EmergencyRequest{
		ID:          uuid.New().String(),
		Location:    in.Location,
		Phone:       in.Phone,
		Description: in.Description,
		Status:      models.RequestStatusPending,
		ServiceType: in.ServiceType,
		UserID:      in.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	req.SetCoordinates(in.Coordinates)

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, storeError("create request", err)
	}

	s.log.InfoContext(ctx, "request created", "request_id", req.ID, "service_type", derefServiceType(req.ServiceType))
	s.publisher.Publish(req)
	return req.Clone(), nil
}

func (s *requestStore) GetRequest(ctx context.Context, id string) (*models.EmergencyRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("get request", err)
	}
	if req == nil {
		return nil, apperrors.Missing("request", id)
	}
	return req, nil
}

func (s *requestStore) UpdateStatus(ctx context.Context, id string, status models.RequestStatus, extra *models.TransitionExtra) (*models.EmergencyRequest, error) {
	if extra == nil {
		extra = &models.TransitionExtra{}
	}

	// Unknown mechanics fail before the write. The position feeds the arrival estimate.
	var assigned *models.Mechanic
	if status == models.RequestStatusMatched && extra.MechanicID != nil && *extra.MechanicID != "" {
		m, err := s.GetMechanic(ctx, *extra.MechanicID)
		if err != nil {
			return nil, err
		}
		assigned = m
	}

	updated, err := s.requests.Update(ctx, id, func(req *models.EmergencyRequest) error {
		return s.applyTransition(req, status, extra, assigned)
	})
	if err != nil {
		return nil, storeError("update request status", err)
	}

	s.log.InfoContext(ctx, "request status updated", "request_id", id, "status", updated.Status)
	s.publisher.Publish(updated)
	return updated, nil
}

func (s *requestStore) applyTransition(req *models.EmergencyRequest, to models.RequestStatus, extra *models.TransitionExtra, assigned *models.Mechanic) error {
	if req.Status.IsTerminal() {
		return apperrors.AlreadyTerminalError(string(req.Status), string(to))
	}
	if !req.CanTransitionTo(to) {
		return apperrors.InvalidTransitionError(string(req.Status), string(to))
	}
	if (extra.Rating != nil || extra.Review != nil) && to != models.RequestStatusCompleted {
		return apperrors.Validation("rating", "Ratings can only be given to completed requests")
	}
	if extra.Rating != nil && (*extra.Rating < 1 || *extra.Rating > 5) {
		return apperrors.Validation("rating", "Rating must be between 1 and 5")
	}

	now := s.clock.Now().UTC()
	switch to {
	case models.RequestStatusMatched:
		if extra.MechanicID != nil && *extra.MechanicID != "" {
			req.MechanicID = extra.MechanicID
		}
		if req.MechanicID == nil {
			return apperrors.Validation("mechanic_id", "A mechanic is required to match a request")
		}
		if assigned != nil {
			req.EstimatedArrivalTime = EstimateArrival(req, assigned, now)
		}
	case models.RequestStatusArrived:
		req.ActualArrivalTime = &now
	case models.RequestStatusCompleted:
		req.CompletionTime = &now
		req.Rating = extra.Rating
		req.Review = extra.Review
	case models.RequestStatusCancelled:
		req.MechanicID = nil
		req.EstimatedArrivalTime = nil
	}
	if extra.EstimatedArrivalTime != nil && to != models.RequestStatusCancelled {
		req.EstimatedArrivalTime = extra.EstimatedArrivalTime
	}

	req.Status = to
	req.UpdatedAt = bumpTime(req.UpdatedAt, now)
	return nil
}

func (s *requestStore) SetReview(ctx context.Context, id string, rating int, review string) (*models.EmergencyRequest, error) {
	if rating < 1 || rating > 5 {
		return nil, apperrors.Validation("rating", "Rating must be between 1 and 5")
	}

	updated, err := s.requests.Update(ctx, id, func(req *models.EmergencyRequest) error {
		if req.Status != models.RequestStatusCompleted {
			return &reviewError{msg: "only completed requests can be reviewed, request is " + string(req.Status)}
		}
		if req.Rating != nil || req.Review != nil {
			return &reviewError{msg: "request has already been reviewed"}
		}
		req.Rating = &rating
		if review != "" {
			req.Review = &review
		}
		req.UpdatedAt = bumpTime(req.UpdatedAt, s.clock.Now().UTC())
		return nil
	})
	if err != nil {
		return nil, storeError("submit review", err)
	}

	// Not a transition: subscribers only see status changes.
	s.log.InfoContext(ctx, "request reviewed", "request_id", id, "rating", rating)
	return updated, nil
}

func (s *requestStore) ListMechanics(ctx context.Context, filter MechanicFilter) ([]*models.Mechanic, error) {
	mechanics, err := s.mechanics.List(ctx)
	if err != nil {
		return nil, storeError("list mechanics", err)
	}
	return FilterMechanics(mechanics, filter), nil
}

func (s *requestStore) GetMechanic(ctx context.Context, id string) (*models.Mechanic, error) {
	m, err := s.mechanics.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("get mechanic", err)
	}
	if m == nil {
		return nil, apperrors.Missing("mechanic", id)
	}
	return m, nil
}

type reviewError struct{ msg string }

func (e *reviewError) Error() string { return e.msg }
func (e *reviewError) Unwrap() error { return apperrors.ErrReviewNotAllowed }

// bumpTime returns now, or a tick past prev when the clock has not moved.
func bumpTime(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Microsecond)
}

// storeError passes domain errors through and marks everything else as a transport failure.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrValidation),
		errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrInvalidTransition),
		errors.Is(err, apperrors.ErrReviewNotAllowed):
		return err
	}
	return apperrors.Transport(op, err)
}

func derefServiceType(st *models.ServiceType) string {
	if st == nil {
		return ""
	}
	return string(*st)
}
