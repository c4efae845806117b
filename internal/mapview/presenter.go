package mapview

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/aditya/resq/internal/analytics"
	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/features"
	"github.com/aditya/resq/internal/models"
	"github.com/aditya/resq/internal/service"
)

const (
	UserMarkerID         = "user"
	mechanicMarkerPrefix = "mechanic:"
	defaultZoom          = 13
)

// ProviderSettings holds the credentials each backend needs.
type ProviderSettings struct {
	MapboxAccessToken string
	GoogleMapsAPIKey  string
	LeafletTileURL    string
}

// NewProvider builds a fresh provider by name.
func NewProvider(name string, s ProviderSettings) (Provider, error) {
	switch name {
	case "mapbox":
		return NewMapbox(s.MapboxAccessToken), nil
	case "google":
		return NewGoogle(s.GoogleMapsAPIKey), nil
	case "leaflet":
		return NewLeaflet(s.LeafletTileURL), nil
	}
	return nil, &apperrors.ProviderInitError{Provider: name, Reason: "no map provider enabled"}
}

func MechanicMarkerID(mechanicID string) string { return mechanicMarkerPrefix + mechanicID }

type SceneRequest struct {
	// Provider overrides the feature-flag selection when set.
	Provider string
	Filter   service.MechanicFilter
	// UserLocation is the client's reported position, if any.
	UserLocation *models.Coordinates
	// Geolocate is true when the user opted in to locating themselves.
	Geolocate  bool
	SelectedID string
	SessionID  string
}

type ViewError struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type MechanicPin struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Rating        float64               `json:"rating"`
	Status        models.MechanicStatus `json:"status"`
	Specialties   []string              `json:"specialties"`
	Location      models.Coordinates    `json:"location"`
	DistanceMiles *float64              `json:"distance_miles,omitempty"`
	MarkerID      string                `json:"marker_id"`
}

type View struct {
	Provider     string             `json:"provider"`
	Center       models.Coordinates `json:"center"`
	UsedFallback bool               `json:"used_fallback"`
	Mechanics    []MechanicPin      `json:"mechanics"`
	Scene        any                `json:"scene,omitempty"`
	Error        *ViewError         `json:"error,omitempty"`
}

type Presenter struct {
	flags         *features.Flags
	settings      ProviderSettings
	matcher       service.MechanicMatcher
	defaultCenter models.Coordinates
	analytics     analytics.Emitter
	log           *slog.Logger
}

func NewPresenter(flags *features.Flags, settings ProviderSettings, matcher service.MechanicMatcher, defaultCenter models.Coordinates, emitter analytics.Emitter, log *slog.Logger) *Presenter {
	return &Presenter{
		flags:         flags,
		settings:      settings,
		matcher:       matcher,
		defaultCenter: defaultCenter,
		analytics:     emitter,
		log:           log.With("component", "map_presenter"),
	}
}

// Render builds the map for req. When the provider cannot initialize, the
// returned view carries a retryable error and the fallback center, and err is
// a *apperrors.ProviderInitError.
func (p *Presenter) Render(ctx context.Context, req SceneRequest) (*View, error) {
	view, _, err := p.render(ctx, req)
	return view, err
}

// Select handles a tap on markerID by dispatching it through the provider's
// click binding. Only markers visible under req.Filter can be selected.
func (p *Presenter) Select(ctx context.Context, req SceneRequest, markerID string) (*models.Mechanic, error) {
	if req.SessionID == "" {
		return nil, apperrors.Validation("session_id", "session id is required to select a mechanic")
	}

	_, provider, err := p.render(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		selected  *models.Mechanic
		selectErr error
	)
	err = provider.BindClick(markerID, func(id string) {
		mechanicID, ok := strings.CutPrefix(id, mechanicMarkerPrefix)
		if !ok {
			selectErr = apperrors.Validation("marker_id", "only mechanic markers can be selected")
			return
		}
		selected, selectErr = p.matcher.Select(ctx, req.SessionID, mechanicID)
	})
	if err != nil {
		return nil, err
	}
	if !provider.Click(markerID) {
		return nil, apperrors.Missing("marker", markerID)
	}
	return selected, selectErr
}

func (p *Presenter) render(ctx context.Context, req SceneRequest) (*View, Provider, error) {
	name := req.Provider
	if name == "" {
		name = p.flags.MapProvider()
	}

	center, fallback := p.resolveCenter(req)
	view := &View{Provider: name, Center: center, UsedFallback: fallback, Mechanics: []MechanicPin{}}

	provider, err := NewProvider(name, p.settings)
	if err == nil {
		err = provider.RenderBase(center, defaultZoom)
	}
	if err != nil {
		return p.failed(ctx, view, err)
	}

	filter := req.Filter
	if filter.Origin == nil && req.UserLocation != nil {
		filter.Origin = req.UserLocation
	}
	found, err := p.matcher.Find(ctx, filter)
	if err != nil {
		return nil, nil, err
	}

	if req.UserLocation != nil {
		provider.PlaceMarker(UserMarkerID, *req.UserLocation, StyleUser)
	}
	for _, mw := range found {
		m := mw.Mechanic
		markerID := MechanicMarkerID(m.ID)
		style := styleFor(m.Status)
		if m.ID == req.SelectedID {
			style = StyleSelected
		}
		if err := provider.PlaceMarker(markerID, m.Location(), style); err != nil {
			return p.failed(ctx, view, err)
		}
		view.Mechanics = append(view.Mechanics, MechanicPin{
			ID:            m.ID,
			Name:          m.Name,
			Rating:        m.Rating,
			Status:        m.Status,
			Specialties:   []string(m.Specialties),
			Location:      m.Location(),
			DistanceMiles: mw.Distance,
			MarkerID:      markerID,
		})
	}
	if err := provider.CenterOn(center); err != nil {
		return p.failed(ctx, view, err)
	}

	view.Scene = provider.Scene()
	return view, provider, nil
}

// resolveCenter picks the user's position, falling back to the default
// coordinate when geolocation was requested but is unavailable.
func (p *Presenter) resolveCenter(req SceneRequest) (models.Coordinates, bool) {
	if req.UserLocation != nil {
		return *req.UserLocation, false
	}
	return p.defaultCenter, req.Geolocate
}

func (p *Presenter) failed(ctx context.Context, view *View, err error) (*View, Provider, error) {
	var pe *apperrors.ProviderInitError
	if !errors.As(err, &pe) {
		pe = &apperrors.ProviderInitError{Provider: view.Provider, Reason: err.Error()}
	}

	p.log.WarnContext(ctx, "map provider failed", "provider", view.Provider, "error", err)
	p.analytics.Emit(ctx, analytics.Event{Category: analytics.CategoryMap, Action: analytics.ActionProviderError, Label: view.Provider})

	view.Center = p.defaultCenter
	view.UsedFallback = true
	view.Mechanics = nil
	view.Error = &ViewError{Message: "Map failed to load: " + pe.Reason, Retryable: true}
	return view, nil, pe
}

func styleFor(status models.MechanicStatus) MarkerStyle {
	switch status {
	case models.MechanicStatusAvailable:
		return StyleMechanicAvailable
	case models.MechanicStatusBusy:
		return StyleMechanicBusy
	}
	return StyleMechanicOffline
}
