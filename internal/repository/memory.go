package repository

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/models"
	"github.com/google/uuid"
)

// memoryRequestRepository keeps requests in process memory. It backs demo
// deployments and tests.
type memoryRequestRepository struct {
	mu       sync.Mutex
	requests map[string]*models.EmergencyRequest
}

func NewMemoryRequestRepository() RequestRepository {
	return &memoryRequestRepository{requests: make(map[string]*models.EmergencyRequest)}
}

func (r *memoryRequestRepository) Create(_ context.Context, req *models.EmergencyRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[req.ID]; exists {
		return apperrors.Validation("id", "request already exists")
	}
	r.requests[req.ID] = req.Clone()
	return nil
}

func (r *memoryRequestRepository) GetByID(_ context.Context, id string) (*models.EmergencyRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	return req.Clone(), nil
}

func (r *memoryRequestRepository) Update(_ context.Context, id string, fn UpdateFunc) (*models.EmergencyRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.requests[id]
	if !ok {
		return nil, apperrors.Missing("request", id)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	r.requests[id] = next
	return next.Clone(), nil
}

type memoryMechanicRepository struct {
	mu        sync.RWMutex
	order     []string
	mechanics map[string]*models.Mechanic
}

// NewMemoryMechanicRepository seeds the repository with mechanics in the given order.
func NewMemoryMechanicRepository(seed ...*models.Mechanic) MechanicRepository {
	r := &memoryMechanicRepository{mechanics: make(map[string]*models.Mechanic)}
	for _, m := range seed {
		r.put(m.Clone())
	}
	return r
}

func (r *memoryMechanicRepository) put(m *models.Mechanic) {
	if _, exists := r.mechanics[m.ID]; !exists {
		r.order = append(r.order, m.ID)
	}
	r.mechanics[m.ID] = m
}

func (r *memoryMechanicRepository) Create(_ context.Context, mechanic *models.Mechanic) error {
	if mechanic.ID == "" {
		mechanic.ID = uuid.New().String()
	}
	mechanic.CreatedAt = time.Now()
	mechanic.UpdatedAt = mechanic.CreatedAt
	if mechanic.Status == "" {
		mechanic.Status = models.MechanicStatusOffline
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(mechanic.Clone())
	return nil
}

func (r *memoryMechanicRepository) GetByID(_ context.Context, id string) (*models.Mechanic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.mechanics[id]
	if !ok {
		return nil, nil
	}
	return m.Clone(), nil
}

func (r *memoryMechanicRepository) List(_ context.Context) ([]*models.Mechanic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Mechanic, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.mechanics[id].Clone())
	}
	return out, nil
}

func (r *memoryMechanicRepository) UpdateStatus(_ context.Context, id string, status models.MechanicStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mechanics[id]
	if !ok {
		return apperrors.Missing("mechanic", id)
	}
	m.Status = status
	m.UpdatedAt = time.Now()
	return nil
}

func (r *memoryMechanicRepository) UpdateLocation(_ context.Context, id string, lat, lng float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mechanics[id]
	if !ok {
		return apperrors.Missing("mechanic", id)
	}
	m.CurrentLat = lat
	m.CurrentLng = lng
	m.UpdatedAt = time.Now()
	return nil
}
