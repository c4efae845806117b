package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/features"
	"github.com/aditya/resq/internal/models"
	"github.com/aditya/resq/internal/notify"
	"github.com/aditya/resq/internal/service"
	"github.com/aditya/resq/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// SessionHeader identifies the browser session that picked a mechanic.
const SessionHeader = "X-Session-ID"

// Tracker drives a request forward on its own.
type Tracker interface {
	Track(requestID string)
}

type RequestHandler struct {
	submission service.RequestSubmissionFlow
	store      service.RequestStore
	sequencer  service.StatusSequencer
	presence   *notify.PresenceRegistry
	tracker    Tracker
	flags      *features.Flags
	validate   *validator.Validate
	log        *slog.Logger
}

type RequestHandlerDeps struct {
	Submission service.RequestSubmissionFlow
	Store      service.RequestStore
	Sequencer  service.StatusSequencer
	Presence   *notify.PresenceRegistry
	Flags      *features.Flags
	// Tracker is optional.
	Tracker Tracker
	Logger  *slog.Logger
}

func NewRequestHandler(deps RequestHandlerDeps) *RequestHandler {
	return &RequestHandler{
		submission: deps.Submission,
		store:      deps.Store,
		sequencer:  deps.Sequencer,
		presence:   deps.Presence,
		tracker:    deps.Tracker,
		flags:      deps.Flags,
		validate:   validator.New(),
		log:        deps.Logger.With("component", "request_handler"),
	}
}

func (h *RequestHandler) RegisterRoutes(r chi.Router) {
	r.With(RequireFeature(h.flags, features.EmergencyForm)).Post("/requests", h.SubmitRequest)
	r.Get("/requests/{id}", h.GetRequest)
	r.Post("/requests/{id}/transition", h.TransitionRequest)
	r.Post("/requests/{id}/cancel", h.CancelRequest)
	r.Post("/requests/{id}/review", h.ReviewRequest)
	r.Post("/requests/{id}/presence", h.UpdatePresence)
}

type submissionResponse struct {
	*models.RequestResponse
	Located    bool                `json:"located"`
	MatchError *apperrors.APIError `json:"match_error,omitempty"`
}

// POST /v1/requests
func (h *RequestHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = r.Header.Get(SessionHeader)
	}

	result, err := h.submission.Submit(r.Context(), service.SubmissionInput{
		Location:    req.Location,
		Phone:       req.Phone,
		Description: req.Description,
		ServiceType: req.ServiceType,
		MechanicID:  req.MechanicID,
		SessionID:   sessionID,
		UserID:      req.UserID,
		Coordinates: req.Coordinates,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	if h.tracker != nil {
		h.tracker.Track(result.Request.ID)
	}

	resp := submissionResponse{
		RequestResponse: h.toResponse(r.Context(), result.Request),
		Located:         result.Located,
	}
	if result.MatchErr != nil {
		resp.MatchError = apperrors.FromError(result.MatchErr)
	}
	utils.Created(w, resp)
}

// GET /v1/requests/{id}
func (h *RequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := h.store.GetRequest(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, h.toResponse(r.Context(), req))
}

// POST /v1/requests/{id}/transition
func (h *RequestHandler) TransitionRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.TransitionRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	var extra *models.TransitionExtra
	if req.MechanicID != "" {
		extra = &models.TransitionExtra{MechanicID: &req.MechanicID}
	}

	updated, err := h.sequencer.Transition(r.Context(), id, req.Status, extra)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, h.toResponse(r.Context(), updated))
}

// POST /v1/requests/{id}/cancel
func (h *RequestHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	updated, err := h.sequencer.Cancel(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, updated.ToResponse())
}

// POST /v1/requests/{id}/review
func (h *RequestHandler) ReviewRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.ReviewRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	updated, err := h.sequencer.SubmitReview(r.Context(), id, req.Rating, req.Review)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, h.toResponse(r.Context(), updated))
}

// POST /v1/requests/{id}/presence
func (h *RequestHandler) UpdatePresence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req notify.Presence
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}

	if _, err := h.store.GetRequest(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}

	h.presence.Set(id, req)
	utils.NoContent(w)
}

// toResponse attaches the assigned mechanic when it can be loaded.
func (h *RequestHandler) toResponse(ctx context.Context, req *models.EmergencyRequest) *models.RequestResponse {
	resp := req.ToResponse()
	if req.MechanicID == nil {
		return resp
	}
	mechanic, err := h.store.GetMechanic(ctx, *req.MechanicID)
	if err != nil {
		h.log.DebugContext(ctx, "assigned mechanic unavailable", "request_id", req.ID, "error", err)
		return resp
	}
	resp.Mechanic = mechanic.ToResponse()
	return resp
}
