package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aditya/resq/internal/analytics"
	"github.com/aditya/resq/internal/clock"
	"github.com/aditya/resq/internal/logger"
	"github.com/aditya/resq/internal/models"
	"github.com/aditya/resq/internal/repository"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	clock     *clock.Fake
	hub       *Hub
	requests  repository.RequestRepository
	mechanics repository.MechanicRepository
	store     RequestStore
	sequencer StatusSequencer
	matcher   MechanicMatcher
	events    *analytics.Recorder
}

// newTestEnv wires the core against in-memory repositories. Without explicit
// mechanics the demo catalogue is used.
func newTestEnv(t *testing.T, mechanics ...*models.Mechanic) *testEnv {
	t.Helper()
	if mechanics == nil {
		mechanics = repository.DemoMechanics(testStart)
	}

	log := logger.Discard()
	env := &testEnv{
		clock:     clock.NewFake(testStart),
		hub:       NewHub(log),
		requests:  &countingRequests{RequestRepository: repository.NewMemoryRequestRepository()},
		mechanics: repository.NewMemoryMechanicRepository(mechanics...),
		events:    &analytics.Recorder{},
	}
	env.store = NewRequestStore(env.requests, env.mechanics, env.hub, env.clock, log)
	env.sequencer = NewStatusSequencer(env.store, env.hub, env.events, log)
	env.matcher = NewMechanicMatcher(env.store, env.events)
	return env
}

type countingRequests struct {
	repository.RequestRepository
	creates atomic.Int64
}

func (c *countingRequests) Create(ctx context.Context, req *models.EmergencyRequest) error {
	c.creates.Add(1)
	return c.RequestRepository.Create(ctx, req)
}

func (e *testEnv) createCalls() int64 {
	return e.requests.(*countingRequests).creates.Load()
}

func (e *testEnv) createPending(t *testing.T) *models.EmergencyRequest {
	t.Helper()
	req, err := e.store.CreateRequest(context.Background(), models.CreateRequestInput{
		Location: "Main Street Garage",
		Phone:    "555-123-4567",
	})
	require.NoError(t, err)
	return req
}

// advanceTo walks a pending request forward until it reaches target.
func (e *testEnv) advanceTo(t *testing.T, id string, target models.RequestStatus) *models.EmergencyRequest {
	t.Helper()
	ctx := context.Background()
	req, err := e.store.GetRequest(ctx, id)
	require.NoError(t, err)

	mechanicID := "mech-001"
	for req.Status != target {
		next, ok := req.Status.Next()
		require.True(t, ok, "cannot reach %s from %s", target, req.Status)

		var extra *models.TransitionExtra
		if next == models.RequestStatusMatched {
			extra = &models.TransitionExtra{MechanicID: &mechanicID}
		}
		req, err = e.sequencer.Transition(ctx, id, next, extra)
		require.NoError(t, err)
	}
	return req
}

// collector records every snapshot a subscriber receives.
type collector struct {
	mu  sync.Mutex
	got []*models.EmergencyRequest
}

func (c *collector) add(req *models.EmergencyRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, req)
}

func (c *collector) statuses() []models.RequestStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.RequestStatus, len(c.got))
	for i, r := range c.got {
		out[i] = r.Status
	}
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func (c *collector) waitFor(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.len() >= n }, time.Second, 5*time.Millisecond)
}

func mechanic(id string, status models.MechanicStatus, rating float64, lat, lng float64, specialties ...string) *models.Mechanic {
	return &models.Mechanic{
		ID:          id,
		Name:        "Mechanic " + id,
		Phone:       "555-000-0000",
		Rating:      rating,
		Status:      status,
		Specialties: specialties,
		CurrentLat:  lat,
		CurrentLng:  lng,
		CreatedAt:   testStart,
		UpdatedAt:   testStart,
	}
}
