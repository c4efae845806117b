package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aditya/resq/internal/analytics"
	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/models"
)

// StatusSequencer is the only component allowed to change a request's status.
type StatusSequencer interface {
	// Subscribe delivers the current snapshot once, then one snapshot per
	// accepted change, in order, until Unsubscribe.
	Subscribe(ctx context.Context, requestID string, onUpdate func(*models.EmergencyRequest)) (Subscription, error)
	Transition(ctx context.Context, requestID string, to models.RequestStatus, extra *models.TransitionExtra) (*models.EmergencyRequest, error)
	Cancel(ctx context.Context, requestID string) (*models.EmergencyRequest, error)
	SubmitReview(ctx context.Context, requestID string, rating int, review string) (*models.EmergencyRequest, error)
}

type statusSequencer struct {
	store     RequestStore
	hub       *Hub
	analytics analytics.Emitter
	log       *slog.Logger

	mu    sync.Mutex
	locks map[string]*requestLock
}

type requestLock struct {
	sync.Mutex
	refs int
}

func NewStatusSequencer(store RequestStore, hub *Hub, emitter analytics.Emitter, log *slog.Logger) StatusSequencer {
	return &statusSequencer{
		store:     store,
		hub:       hub,
		analytics: emitter,
		log:       log.With("component", "sequencer"),
		locks:     make(map[string]*requestLock),
	}
}

// lock serializes writes and subscription setup for one request.
func (s *statusSequencer) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &requestLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func (s *statusSequencer) Subscribe(ctx context.Context, requestID string, onUpdate func(*models.EmergencyRequest)) (Subscription, error) {
	unlock := s.lock(requestID)
	defer unlock()

	current, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.hub.add(current, onUpdate), nil
}

func (s *statusSequencer) Transition(ctx context.Context, requestID string, to models.RequestStatus, extra *models.TransitionExtra) (*models.EmergencyRequest, error) {
	if !models.IsValidRequestStatus(to) {
		return nil, apperrors.Validation("status", "unknown status "+string(to))
	}

	unlock := s.lock(requestID)
	defer unlock()

	updated, err := s.store.UpdateStatus(ctx, requestID, to, extra)
	if err != nil {
		s.log.WarnContext(ctx, "transition rejected", "request_id", requestID, "to", to, "error", err)
		return nil, err
	}

	s.analytics.Emit(ctx, analytics.Event{
		Category: analytics.CategoryRequest,
		Action:   analytics.ActionStatusTransition,
		Label:    string(to),
	})
	if to == models.RequestStatusCancelled {
		s.analytics.Emit(ctx, analytics.Event{
			Category: analytics.CategoryRequest,
			Action:   analytics.ActionCancelled,
			Label:    requestID,
		})
	}
	return updated, nil
}

func (s *statusSequencer) Cancel(ctx context.Context, requestID string) (*models.EmergencyRequest, error) {
	return s.Transition(ctx, requestID, models.RequestStatusCancelled, nil)
}

func (s *statusSequencer) SubmitReview(ctx context.Context, requestID string, rating int, review string) (*models.EmergencyRequest, error) {
	unlock := s.lock(requestID)
	defer unlock()

	updated, err := s.store.SetReview(ctx, requestID, rating, review)
	if err != nil {
		return nil, err
	}

	s.analytics.Emit(ctx, analytics.Event{
		Category: analytics.CategoryRequest,
		Action:   analytics.ActionReviewSubmitted,
		Label:    requestID,
		Value:    analytics.Float(float64(rating)),
	})
	return updated, nil
}
