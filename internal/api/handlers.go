// Package api exposes the local HTTP surface of the daemon: suggestion
// reads, feedback submission, consumption tracking, and preference
// management.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/platewise/dietd/internal/prefs"
	"github.com/platewise/dietd/internal/storage"
	"github.com/platewise/dietd/internal/suggest"
	"github.com/platewise/dietd/internal/tracker"
)

const maxRequestBodySize = 1 << 20 // 1MB

type AppDeps struct {
	Suggest *suggest.Service
	Tracker *tracker.Tracker
	Prefs   *prefs.Manager
	Store   *storage.Store

	// Token protects the API when non-empty.
	Token string

	// DefaultUserID is assumed for requests that name no user.
	DefaultUserID string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Post("/v1/suggestions", handleSuggestions(deps))
		r.Post("/v1/feedback", handleFeedback(deps))
		r.Get("/v1/feedback", handleListFeedback(deps))

		r.Get("/v1/consumptions", handleListConsumptions(deps))
		r.Get("/v1/consumptions/{itemID}", handleGetConsumption(deps))
		r.Post("/v1/consumptions/{itemID}", handleConsume(deps))
		r.Post("/v1/consumptions/{itemID}/retry", handleRetryConsumption(deps))
		r.Delete("/v1/consumptions/{itemID}", handleClearConsumption(deps))

		r.Get("/v1/prefs", handleGetPrefs(deps))
		r.Patch("/v1/prefs", handlePatchPrefs(deps))

		r.Delete("/v1/cache", handleClearCache(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type SuggestionsRequest struct {
	Context        string  `json:"context"`
	UserID         string  `json:"user_id"`
	ForceRefresh   bool    `json:"force_refresh"`
	MaxSuggestions int     `json:"max_suggestions"`
	MinConfidence  float64 `json:"min_confidence"`
}

func handleSuggestions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SuggestionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		userID := req.UserID
		if userID == "" {
			userID = deps.DefaultUserID
		}

		opts, err := optionsFor(deps.Prefs, userID, req)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading preferences: %v", err)
			return
		}

		res, err := deps.Suggest.GetSuggestions(r.Context(), suggest.Context(req.Context), userID, opts)
		switch {
		case errors.Is(err, suggest.ErrInvalidContext):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case errors.Is(err, suggest.ErrNoActivePlan):
			httpError(w, http.StatusConflict, "invalid_request_error", "no active meal plan to optimize")
			return
		case errors.Is(err, suggest.ErrSuggestionsUnavailable):
			httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		body := map[string]any{
			"context":     req.Context,
			"suggestions": res.Response.Suggestions,
			"stale":       res.Stale,
		}
		if !res.CachedAt.IsZero() {
			body["cached_at"] = res.CachedAt
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}

// optionsFor merges stored preferences with the per-request knobs.
func optionsFor(pm *prefs.Manager, userID string, req SuggestionsRequest) (suggest.Options, error) {
	p, err := pm.Get(userID)
	if err != nil {
		return suggest.Options{}, err
	}
	return suggest.Options{
		ForceRefresh:        req.ForceRefresh,
		DietaryRestrictions: p.Diet.Restrictions,
		CuisinePreferences:  p.Diet.CuisinePreferences,
		ExcludedIngredients: p.Diet.ExcludedIngredients,
		MaxSuggestions:      req.MaxSuggestions,
		MinConfidence:       req.MinConfidence,
		Lang:                p.Lang,
		CurrentMealPlanID:   p.CurrentMealPlanID,
	}, nil
}

type FeedbackRequest struct {
	UserID       string `json:"user_id"`
	SuggestionID string `json:"suggestion_id"`
	Action       string `json:"action"`
	Rating       int    `json:"rating"`
}

func handleFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req FeedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.SuggestionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "suggestion_id is required")
			return
		}
		if req.UserID == "" {
			req.UserID = deps.DefaultUserID
		}

		if err := deps.Suggest.SubmitFeedback(r.Context(), req.UserID, req.SuggestionID, req.Action, req.Rating); err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "submitting feedback: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "recorded"})
	}
}

func handleListFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			userID = deps.DefaultUserID
		}
		limit := parseIntParam(r, "limit", 20, 100)

		records, err := deps.Store.RecentFeedback(userID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing feedback: %v", err)
			return
		}
		if records == nil {
			records = []storage.FeedbackRecord{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

type consumptionView struct {
	ItemID     string     `json:"item_id"`
	Status     string     `json:"status"`
	RetryCount int        `json:"retry_count"`
	LastError  string     `json:"last_error,omitempty"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

func viewOf(s tracker.State) consumptionView {
	v := consumptionView{
		ItemID:     s.ItemID,
		Status:     string(s.Status),
		RetryCount: s.RetryCount,
		LastError:  s.LastError,
	}
	if !s.ConsumedAt.IsZero() {
		t := s.ConsumedAt
		v.ConsumedAt = &t
	}
	return v
}

func handleListConsumptions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states := deps.Tracker.States()
		views := make([]consumptionView, 0, len(states))
		for _, s := range states {
			views = append(views, viewOf(s))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"items":       views,
			"has_pending": deps.Tracker.HasPending(),
		})
	}
}

func handleGetConsumption(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := chi.URLParam(r, "itemID")

		s, ok := deps.Tracker.Status(itemID)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no consumption state for item %q", itemID)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(viewOf(s))
	}
}

func handleConsume(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := chi.URLParam(r, "itemID")

		if !deps.Tracker.Consume(itemID) {
			httpError(w, http.StatusServiceUnavailable, "api_error", "tracker is shut down")
			return
		}
		s, _ := deps.Tracker.Status(itemID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(viewOf(s))
	}
}

func handleRetryConsumption(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := chi.URLParam(r, "itemID")

		if !deps.Tracker.RetryFailed(itemID) {
			httpError(w, http.StatusConflict, "invalid_request_error", "item %q is not in a failed state", itemID)
			return
		}
		s, _ := deps.Tracker.Status(itemID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(viewOf(s))
	}
}

func handleClearConsumption(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Tracker.Clear(chi.URLParam(r, "itemID"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
	}
}

func handleGetPrefs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			userID = deps.DefaultUserID
		}

		p, err := deps.Prefs.Get(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading preferences: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	}
}

type PatchPrefsRequest struct {
	UserID string         `json:"user_id"`
	Fields map[string]any `json:"fields"`
}

func handlePatchPrefs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req PatchPrefsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Fields) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "fields is required and must not be empty")
			return
		}
		if req.UserID == "" {
			req.UserID = deps.DefaultUserID
		}

		for field, value := range req.Fields {
			if err := deps.Prefs.SetField(req.UserID, field, value); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "setting field %q: %v", field, err)
				return
			}
		}

		// Preference changes make every cached surface stale.
		deps.Suggest.InvalidateUser(req.UserID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
	}
}

func handleClearCache(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			userID = deps.DefaultUserID
		}

		deps.Suggest.InvalidateUser(userID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
