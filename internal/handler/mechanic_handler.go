package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aditya/resq/internal/cache"
	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/features"
	"github.com/aditya/resq/internal/models"
	"github.com/aditya/resq/internal/repository"
	"github.com/aditya/resq/internal/service"
	"github.com/aditya/resq/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const defaultNearbyRadiusKm = 10.0

type MechanicHandler struct {
	matcher       service.MechanicMatcher
	store         service.RequestStore
	mechanicRepo  repository.MechanicRepository
	locationCache cache.MechanicLocationCache
	flags         *features.Flags
	validate      *validator.Validate
}

// NewMechanicHandler builds the mechanic routes. locationCache may be nil when
// Redis is not configured.
func NewMechanicHandler(matcher service.MechanicMatcher, store service.RequestStore, mechanicRepo repository.MechanicRepository, locationCache cache.MechanicLocationCache, flags *features.Flags) *MechanicHandler {
	return &MechanicHandler{
		matcher:       matcher,
		store:         store,
		mechanicRepo:  mechanicRepo,
		locationCache: locationCache,
		flags:         flags,
		validate:      validator.New(),
	}
}

func (h *MechanicHandler) RegisterRoutes(r chi.Router) {
	r.With(RequireFeature(h.flags, features.MechanicList)).Get("/mechanics", h.ListMechanics)
	r.Get("/mechanics/nearby", h.NearbyMechanics)
	r.Get("/mechanics/{id}", h.GetMechanic)
	r.Put("/mechanics/{id}/location", h.UpdateLocation)
	r.Delete("/mechanics/{id}/location", h.GoOffline)
}

// GET /v1/mechanics
func (h *MechanicHandler) ListMechanics(w http.ResponseWriter, r *http.Request) {
	filter, err := parseMechanicFilter(r.URL.Query())
	if err != nil {
		handleError(w, err)
		return
	}

	found, err := h.matcher.Find(r.Context(), filter)
	if err != nil {
		handleError(w, err)
		return
	}

	out := make([]*models.MechanicResponse, 0, len(found))
	for _, mw := range found {
		resp := mw.Mechanic.ToResponse()
		resp.DistanceMi = mw.Distance
		out = append(out, resp)
	}
	utils.Success(w, http.StatusOK, out)
}

// GET /v1/mechanics/{id}
func (h *MechanicHandler) GetMechanic(w http.ResponseWriter, r *http.Request) {
	mechanic, err := h.store.GetMechanic(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	utils.Success(w, http.StatusOK, mechanic.ToResponse())
}

type nearbyMechanic struct {
	*models.MechanicResponse
	DistanceKm float64 `json:"distance_km"`
}

// GET /v1/mechanics/nearby?lat=&lng=&radius_km=
func (h *MechanicHandler) NearbyMechanics(w http.ResponseWriter, r *http.Request) {
	if h.locationCache == nil {
		utils.Error(w, apperrors.NewAPIError("location_cache_unavailable", "live mechanic locations are not enabled", http.StatusServiceUnavailable))
		return
	}

	q := r.URL.Query()
	origin, err := parseOrigin(q)
	if err != nil {
		handleError(w, err)
		return
	}
	if origin == nil {
		utils.BadRequest(w, "lat and lng are required")
		return
	}
	radius := defaultNearbyRadiusKm
	if raw := q.Get("radius_km"); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil || radius <= 0 {
			utils.BadRequest(w, "radius_km must be a positive number")
			return
		}
	}

	nearby, err := h.locationCache.GetNearby(r.Context(), origin.Lat, origin.Lng, radius)
	if err != nil {
		handleError(w, apperrors.Transport("nearby mechanics", err))
		return
	}

	out := make([]nearbyMechanic, 0, len(nearby))
	for _, n := range nearby {
		mechanic, err := h.store.GetMechanic(r.Context(), n.MechanicID)
		if err != nil {
			// Stale geo entry for a mechanic that no longer exists.
			continue
		}
		out = append(out, nearbyMechanic{MechanicResponse: mechanic.ToResponse(), DistanceKm: n.DistanceKm})
	}
	utils.Success(w, http.StatusOK, out)
}

// PUT /v1/mechanics/{id}/location
func (h *MechanicHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.UpdateMechanicLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	lat, lng := *req.Lat, *req.Lng
	if err := h.mechanicRepo.UpdateLocation(r.Context(), id, lat, lng); err != nil {
		handleError(w, err)
		return
	}

	resp := cache.MechanicLocation{MechanicID: id, Lat: lat, Lng: lng}
	if h.locationCache != nil {
		loc, err := h.locationCache.UpdateLocation(r.Context(), id, lat, lng)
		if err != nil {
			handleError(w, apperrors.Transport("publish mechanic location", err))
			return
		}
		resp = *loc
	}
	utils.Success(w, http.StatusOK, resp)
}

// DELETE /v1/mechanics/{id}/location marks the mechanic offline and drops its live position.
func (h *MechanicHandler) GoOffline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.mechanicRepo.UpdateStatus(r.Context(), id, models.MechanicStatusOffline); err != nil {
		handleError(w, err)
		return
	}
	if h.locationCache != nil {
		if err := h.locationCache.RemoveMechanic(r.Context(), id); err != nil {
			handleError(w, apperrors.Transport("remove mechanic location", err))
			return
		}
	}
	utils.NoContent(w)
}

// parseMechanicFilter reads status, specialty, min_rating, max_distance and
// the lat/lng origin from q.
func parseMechanicFilter(q url.Values) (service.MechanicFilter, error) {
	filter := service.DefaultMechanicFilter()

	status, ok := service.ParseStatusFilter(q.Get("status"))
	if !ok {
		return filter, apperrors.Validation("status", "status must be all, available or busy")
	}
	filter.Status = status

	for _, s := range strings.Split(q.Get("specialty"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			filter.Specialties = append(filter.Specialties, s)
		}
	}

	if raw := q.Get("min_rating"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 5 {
			return filter, apperrors.Validation("min_rating", "min_rating must be between 0 and 5")
		}
		filter.MinRating = v
	}

	if raw := q.Get("max_distance"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return filter, apperrors.Validation("max_distance", "max_distance must be a positive number of miles")
		}
		filter.MaxDistance = v
	}

	origin, err := parseOrigin(q)
	if err != nil {
		return filter, err
	}
	filter.Origin = origin
	return filter, nil
}

func parseOrigin(q url.Values) (*models.Coordinates, error) {
	rawLat, rawLng := q.Get("lat"), q.Get("lng")
	if rawLat == "" && rawLng == "" {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, apperrors.Validation("lat", "lat must be between -90 and 90")
	}
	lng, err := strconv.ParseFloat(rawLng, 64)
	if err != nil || lng < -180 || lng > 180 {
		return nil, apperrors.Validation("lng", "lng must be between -180 and 180")
	}
	return &models.Coordinates{Lat: lat, Lng: lng}, nil
}
