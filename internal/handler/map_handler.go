package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/mapview"
	"github.com/aditya/resq/internal/models"
	"github.com/aditya/resq/internal/service"
	"github.com/aditya/resq/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type MapHandler struct {
	presenter *mapview.Presenter
	matcher   service.MechanicMatcher
	validate  *validator.Validate
}

func NewMapHandler(presenter *mapview.Presenter, matcher service.MechanicMatcher) *MapHandler {
	return &MapHandler{
		presenter: presenter,
		matcher:   matcher,
		validate:  validator.New(),
	}
}

func (h *MapHandler) RegisterRoutes(r chi.Router) {
	r.Get("/map", h.GetMap)
	r.Post("/map/select", h.SelectMarker)
}

type mapFailure struct {
	utils.ErrorBody
	View *mapview.View `json:"view"`
}

// GET /v1/map?provider=&lat=&lng=&geolocate=&status=&specialty=&min_rating=&max_distance=
func (h *MapHandler) GetMap(w http.ResponseWriter, r *http.Request) {
	req, err := h.sceneRequest(r)
	if err != nil {
		handleError(w, err)
		return
	}

	view, err := h.presenter.Render(r.Context(), req)
	if err != nil {
		var pe *apperrors.ProviderInitError
		if errors.As(err, &pe) && view != nil {
			apiErr := apperrors.FromError(err)
			utils.JSON(w, apiErr.StatusCode, mapFailure{
				ErrorBody: utils.ErrorBody{Error: apiErr.Code, Message: apiErr.Message, Retryable: apiErr.Retryable},
				View:      view,
			})
			return
		}
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, view)
}

// POST /v1/map/select
func (h *MapHandler) SelectMarker(w http.ResponseWriter, r *http.Request) {
	var body models.SelectMarkerPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	req, err := h.sceneRequest(r)
	if err != nil {
		handleError(w, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = utils.GenerateID()
	}

	mechanic, err := h.presenter.Select(r.Context(), req, body.MarkerID)
	if err != nil {
		handleError(w, err)
		return
	}

	w.Header().Set(SessionHeader, req.SessionID)
	utils.Success(w, http.StatusOK, map[string]any{
		"session_id": req.SessionID,
		"mechanic":   mechanic.ToResponse(),
	})
}

func (h *MapHandler) sceneRequest(r *http.Request) (mapview.SceneRequest, error) {
	q := r.URL.Query()

	filter, err := parseMechanicFilter(q)
	if err != nil {
		return mapview.SceneRequest{}, err
	}

	req := mapview.SceneRequest{
		Provider:     q.Get("provider"),
		Filter:       filter,
		UserLocation: filter.Origin,
		SelectedID:   q.Get("selected"),
	}
	if raw := q.Get("geolocate"); raw != "" {
		req.Geolocate, _ = strconv.ParseBool(raw)
	}
	if header := r.Header.Get(SessionHeader); header != "" {
		req.SessionID = utils.SessionID(header)
	}
	if req.SelectedID == "" && req.SessionID != "" {
		req.SelectedID, _ = h.matcher.Selected(req.SessionID)
	}
	return req, nil
}
