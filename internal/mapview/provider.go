// Package mapview positions the user and mechanics on a map surface. Rendering
// backends are interchangeable Provider adapters; marker state and filtering
// live in the shared layer and the Presenter.
package mapview

import (
	"sync"

	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/models"
)

type MarkerStyle string

const (
	StyleUser              MarkerStyle = "user"
	StyleMechanicAvailable MarkerStyle = "mechanic-available"
	StyleMechanicBusy      MarkerStyle = "mechanic-busy"
	StyleMechanicOffline   MarkerStyle = "mechanic-offline"
	StyleSelected          MarkerStyle = "selected"
)

type ClickHandler func(markerID string)

// Provider is the capability set every rendering backend offers.
type Provider interface {
	Name() string
	RenderBase(center models.Coordinates, zoom float64) error
	PlaceMarker(id string, coords models.Coordinates, style MarkerStyle) error
	RemoveMarker(id string) error
	CenterOn(coords models.Coordinates) error
	BindClick(id string, handler ClickHandler) error
	// Click dispatches a tap on marker id. It reports false when no handler is bound.
	Click(id string) bool
	// Scene is the provider-specific JSON payload handed to the client.
	Scene() any
}

type Marker struct {
	ID     string
	Coords models.Coordinates
	Style  MarkerStyle
}

// layer holds the marker state shared by all providers.
type layer struct {
	mu       sync.Mutex
	name     string
	ready    bool
	center   models.Coordinates
	zoom     float64
	order    []string
	markers  map[string]Marker
	handlers map[string]ClickHandler
}

func newLayer(name string) layer {
	return layer{
		name:     name,
		markers:  make(map[string]Marker),
		handlers: make(map[string]ClickHandler),
	}
}

func (l *layer) Name() string { return l.name }

func (l *layer) base(center models.Coordinates, zoom float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready = true
	l.center = center
	l.zoom = zoom
}

func (l *layer) notReady() error {
	return &apperrors.ProviderInitError{Provider: l.name, Reason: "base layer not rendered"}
}

func (l *layer) PlaceMarker(id string, coords models.Coordinates, style MarkerStyle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ready {
		return l.notReady()
	}
	if _, exists := l.markers[id]; !exists {
		l.order = append(l.order, id)
	}
	l.markers[id] = Marker{ID: id, Coords: coords, Style: style}
	return nil
}

func (l *layer) RemoveMarker(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.markers[id]; !exists {
		return nil
	}
	delete(l.markers, id)
	delete(l.handlers, id)
	for i, other := range l.order {
		if other == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return nil
}

func (l *layer) CenterOn(coords models.Coordinates) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ready {
		return l.notReady()
	}
	l.center = coords
	return nil
}

func (l *layer) BindClick(id string, handler ClickHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.markers[id]; !exists {
		return apperrors.Missing("marker", id)
	}
	l.handlers[id] = handler
	return nil
}

func (l *layer) Click(id string) bool {
	l.mu.Lock()
	h, ok := l.handlers[id]
	l.mu.Unlock()
	if !ok {
		return false
	}
	h(id)
	return true
}

// snapshot returns markers in placement order with the current camera.
func (l *layer) snapshot() ([]Marker, models.Coordinates, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Marker, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.markers[id])
	}
	return out, l.center, l.zoom
}
