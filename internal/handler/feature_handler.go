package handler

import (
	"net/http"

	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/features"
	"github.com/aditya/resq/pkg/utils"
	"github.com/go-chi/chi/v5"
)

type FeatureHandler struct {
	flags *features.Flags
}

func NewFeatureHandler(flags *features.Flags) *FeatureHandler {
	return &FeatureHandler{flags: flags}
}

func (h *FeatureHandler) RegisterRoutes(r chi.Router) {
	r.Get("/features", h.ListFeatures)
}

// GET /v1/features
func (h *FeatureHandler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	utils.Success(w, http.StatusOK, map[string]any{
		"features":     h.flags.List(),
		"map_provider": h.flags.MapProvider(),
	})
}

// RequireFeature answers 404 while the feature id is switched off. A nil flag
// set lets everything through.
func RequireFeature(flags *features.Flags, id string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if flags != nil && !flags.Enabled(id) {
				utils.Error(w, apperrors.NewAPIError("feature_disabled", id+" is disabled", http.StatusNotFound))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
