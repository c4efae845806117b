package service

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/aditya/resq/internal/analytics"
	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// MaxDistanceMiles is the top of the distance range. A filter at or above it
// means "no distance limit".
const MaxDistanceMiles = 10.0

const metersPerMile = 1609.344

type StatusFilter string

const (
	StatusFilterAll       StatusFilter = "all"
	StatusFilterAvailable StatusFilter = "available"
	StatusFilterBusy      StatusFilter = "busy"
)

func ParseStatusFilter(s string) (StatusFilter, bool) {
	switch StatusFilter(strings.ToLower(s)) {
	case "", StatusFilterAll:
		return StatusFilterAll, true
	case StatusFilterAvailable:
		return StatusFilterAvailable, true
	case StatusFilterBusy:
		return StatusFilterBusy, true
	}
	return "", false
}

// MechanicFilter combines its constraints with AND. Specialties match with OR.
type MechanicFilter struct {
	Status      StatusFilter
	Specialties []string
	MinRating   float64
	// MaxDistance is in miles. Values at or above MaxDistanceMiles disable the check.
	MaxDistance float64
	// Origin is the reference point for distances. Without it distances are unknown.
	Origin *models.Coordinates
}

func DefaultMechanicFilter() MechanicFilter {
	return MechanicFilter{Status: StatusFilterAll, MaxDistance: MaxDistanceMiles}
}

func (f MechanicFilter) distanceEnabled() bool {
	return f.MaxDistance < MaxDistanceMiles
}

func (f MechanicFilter) label() string {
	parts := []string{"status=" + string(f.Status)}
	if len(f.Specialties) > 0 {
		parts = append(parts, "specialty="+strings.Join(f.Specialties, "|"))
	}
	if f.MinRating > 0 {
		parts = append(parts, "min_rating="+strconv.FormatFloat(f.MinRating, 'f', -1, 64))
	}
	if f.distanceEnabled() {
		parts = append(parts, "max_distance="+strconv.FormatFloat(f.MaxDistance, 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}

// Matches reports whether m satisfies every constraint of f.
func (f MechanicFilter) Matches(m *models.Mechanic) bool {
	switch f.Status {
	case "", StatusFilterAll:
	default:
		if string(m.Status) != string(f.Status) {
			return false
		}
	}

	if len(f.Specialties) > 0 && !m.HasAnySpecialty(f.Specialties) {
		return false
	}

	if m.Rating < f.MinRating {
		return false
	}

	if f.distanceEnabled() {
		d := DistanceMiles(f.Origin, m)
		if d == nil || *d > f.MaxDistance {
			return false
		}
	}
	return true
}

// FilterMechanics returns the mechanics matching f, keeping input order.
func FilterMechanics(mechanics []*models.Mechanic, f MechanicFilter) []*models.Mechanic {
	out := make([]*models.Mechanic, 0, len(mechanics))
	for _, m := range mechanics {
		if f.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}

// DistanceMiles is the great-circle distance from origin to the mechanic, or nil without an origin.
func DistanceMiles(origin *models.Coordinates, m *models.Mechanic) *float64 {
	if origin == nil {
		return nil
	}
	meters := geo.Distance(orb.Point{origin.Lng, origin.Lat}, orb.Point{m.CurrentLng, m.CurrentLat})
	miles := meters / metersPerMile
	return &miles
}

// WithDistances annotates mechanics with their distance from origin.
func WithDistances(origin *models.Coordinates, mechanics []*models.Mechanic) []models.MechanicWithDistance {
	out := make([]models.MechanicWithDistance, len(mechanics))
	for i, m := range mechanics {
		out[i] = models.MechanicWithDistance{Mechanic: m, Distance: DistanceMiles(origin, m)}
	}
	return out
}

// MechanicMatcher filters the catalogue and tracks which mechanic each client
// session has picked for its next submission.
type MechanicMatcher interface {
	Find(ctx context.Context, filter MechanicFilter) ([]models.MechanicWithDistance, error)
	Select(ctx context.Context, sessionID, mechanicID string) (*models.Mechanic, error)
	Selected(sessionID string) (string, bool)
	ClearSelection(sessionID string)
}

type mechanicMatcher struct {
	store     RequestStore
	analytics analytics.Emitter

	mu         sync.RWMutex
	selections map[string]string
}

func NewMechanicMatcher(store RequestStore, emitter analytics.Emitter) MechanicMatcher {
	return &mechanicMatcher{store: store, analytics: emitter, selections: make(map[string]string)}
}

func (m *mechanicMatcher) Find(ctx context.Context, filter MechanicFilter) ([]models.MechanicWithDistance, error) {
	mechanics, err := m.store.ListMechanics(ctx, filter)
	if err != nil {
		return nil, err
	}

	m.analytics.Emit(ctx, analytics.Event{
		Category: analytics.CategoryMechanic,
		Action:   analytics.ActionFiltersApplied,
		Label:    filter.label(),
		Value:    analytics.Float(float64(len(mechanics))),
	})
	return WithDistances(filter.Origin, mechanics), nil
}

func (m *mechanicMatcher) Select(ctx context.Context, sessionID, mechanicID string) (*models.Mechanic, error) {
	if sessionID == "" {
		return nil, apperrors.Validation("session_id", "session id is required to select a mechanic")
	}
	mechanic, err := m.store.GetMechanic(ctx, mechanicID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.selections[sessionID] = mechanic.ID
	m.mu.Unlock()

	m.analytics.Emit(ctx, analytics.Event{
		Category: analytics.CategoryMechanic,
		Action:   analytics.ActionMechanicSelected,
		Label:    mechanic.ID,
	})
	return mechanic, nil
}

func (m *mechanicMatcher) Selected(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.selections[sessionID]
	return id, ok
}

func (m *mechanicMatcher) ClearSelection(sessionID string) {
	m.mu.Lock()
	delete(m.selections, sessionID)
	m.mu.Unlock()
}
