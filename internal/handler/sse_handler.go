package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aditya/resq/internal/cache"
	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/features"
	"github.com/aditya/resq/internal/models"
	"github.com/aditya/resq/internal/notify"
	"github.com/aditya/resq/internal/service"
	"github.com/aditya/resq/pkg/utils"
	"github.com/go-chi/chi/v5"
)

const defaultHeartbeat = 15 * time.Second

type SSEHandler struct {
	sequencer     service.StatusSequencer
	broadcaster   *notify.Broadcaster
	locationCache cache.MechanicLocationCache
	flags         *features.Flags
	heartbeat     time.Duration
	log           *slog.Logger
}

// NewSSEHandler streams request status and mechanic positions. locationCache
// may be nil, in which case the location stream is unavailable.
func NewSSEHandler(sequencer service.StatusSequencer, broadcaster *notify.Broadcaster, locationCache cache.MechanicLocationCache, flags *features.Flags, log *slog.Logger) *SSEHandler {
	return &SSEHandler{
		sequencer:     sequencer,
		broadcaster:   broadcaster,
		locationCache: locationCache,
		flags:         flags,
		heartbeat:     defaultHeartbeat,
		log:           log.With("component", "sse"),
	}
}

func (h *SSEHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireFeature(h.flags, features.RealTimeTracking))
		r.Get("/requests/{id}/events", h.StreamRequest)
		r.Get("/mechanics/locations/stream", h.StreamLocations)
	})
}

// StreamRequest sends the current snapshot, then one status event per
// transition and a notification event for every announcement.
func (h *SSEHandler) StreamRequest(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.Error(w, apperrors.InternalError("streaming not supported"))
		return
	}

	ctx := r.Context()
	updates := make(chan []byte, 16)
	sub, err := h.sequencer.Subscribe(ctx, requestID, func(req *models.EmergencyRequest) {
		data, err := json.Marshal(req.ToResponse())
		if err != nil {
			return
		}
		// Block rather than drop: status events must arrive complete and in order.
		select {
		case updates <- data:
		case <-ctx.Done():
		}
	})
	if err != nil {
		handleError(w, err)
		return
	}
	defer sub.Unsubscribe()

	var notifications chan []byte
	if h.broadcaster != nil {
		notifications = h.broadcaster.Register(requestID)
		defer h.broadcaster.Unregister(requestID, notifications)
	}

	setStreamHeaders(w)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-updates:
			writeEvent(w, "status", msg)
			flusher.Flush()
		case msg, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			writeEvent(w, "notification", msg)
			flusher.Flush()
		case <-ticker.C:
			writeHeartbeat(w)
			flusher.Flush()
		}
	}
}

// StreamLocations relays live mechanic positions, optionally limited to ?ids=a,b.
func (h *SSEHandler) StreamLocations(w http.ResponseWriter, r *http.Request) {
	if h.locationCache == nil {
		utils.Error(w, apperrors.NewAPIError("location_cache_unavailable", "live mechanic locations are not enabled", http.StatusServiceUnavailable))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.Error(w, apperrors.InternalError("streaming not supported"))
		return
	}

	wanted := make(map[string]bool)
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			wanted[id] = true
		}
	}

	ctx := r.Context()
	locations, err := h.locationCache.SubscribeUpdates(ctx)
	if err != nil {
		handleError(w, apperrors.Transport("subscribe mechanic locations", err))
		return
	}

	setStreamHeaders(w)

	// Current positions first, so the map does not wait for the next move.
	for id := range wanted {
		loc, err := h.locationCache.GetLocation(ctx, id)
		if err != nil {
			h.log.WarnContext(ctx, "initial location lookup failed", "mechanic_id", id, "error", err)
			continue
		}
		if loc != nil {
			data, _ := json.Marshal(loc)
			writeEvent(w, "location", data)
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case loc, ok := <-locations:
			if !ok {
				return
			}
			if len(wanted) > 0 && !wanted[loc.MechanicID] {
				continue
			}
			data, _ := json.Marshal(loc)
			writeEvent(w, "location", data)
			flusher.Flush()
		case <-ticker.C:
			writeHeartbeat(w)
			flusher.Flush()
		}
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeEvent(w http.ResponseWriter, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func writeHeartbeat(w http.ResponseWriter) {
	fmt.Fprintf(w, "event: heartbeat\ndata: {\"time\": \"%s\"}\n\n", time.Now().UTC().Format(time.RFC3339))
}
