// Package suggest orchestrates the suggestion cache and the backend: fresh
// cache hits short-circuit the network, successful fetches are written
// through, and backend failures degrade to the last known good response.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/platewise/dietd/internal/cache"
	"github.com/platewise/dietd/internal/remote"
	"github.com/platewise/dietd/internal/storage"
)

// Fetcher is the backend surface the service needs.
type Fetcher interface {
	FetchSuggestions(ctx context.Context, req remote.SuggestionRequest) (*remote.SuggestionResponse, error)
	SubmitFeedback(ctx context.Context, req remote.FeedbackRequest) error
}

// Cache is the slice of the context cache the service uses.
type Cache interface {
	Read(key string, allowExpired bool) *cache.Entry
	Write(key string, payload any)
	Invalidate(keys []string)
}

// FeedbackStore records submitted feedback locally for the insights surface.
type FeedbackStore interface {
	RecordFeedback(f storage.FeedbackRecord) error
}

// Result is a suggestion response annotated with where it came from.
type Result struct {
	Response *remote.SuggestionResponse
	// Stale is set when the backend failed and an expired cache entry was
	// served instead.
	Stale bool
	// CachedAt is the write time of the served cache entry, zero for a
	// response fetched directly from the backend.
	CachedAt time.Time
}

// Service is the single entry point for suggestion reads and feedback writes.
type Service struct {
	cache    Cache
	fetcher  Fetcher
	feedback FeedbackStore
	logger   *slog.Logger
	group    singleflight.Group

	clock func() time.Time
}

func NewService(c Cache, f Fetcher, fb FeedbackStore, logger *slog.Logger) *Service {
	return &Service{
		cache:    c,
		fetcher:  f,
		feedback: fb,
		logger:   logger,
		clock:    time.Now,
	}
}

// GetSuggestions returns suggestions for the given context and user. A fresh
// cache entry is served without touching the network unless ForceRefresh is
// set. On a backend failure any cached entry, however old, is served instead;
// only with no cache at all does the failure reach the caller.
func (s *Service) GetSuggestions(ctx context.Context, sctx Context, userID string, opts Options) (*Result, error) {
	if !sctx.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContext, sctx)
	}
	key := sctx.Namespace() + ":" + userID

	if !opts.ForceRefresh {
		if entry := s.cache.Read(key, false); entry != nil {
			if resp := decodeResponse(entry.Payload); resp != nil {
				return &Result{Response: resp, CachedAt: entry.WrittenAt}, nil
			}
			s.logger.Warn("cached suggestion payload undecodable", "key", key)
		}
	}

	if sctx == ContextOptimize && opts.CurrentMealPlanID == "" {
		return nil, ErrNoActivePlan
	}

	req := remote.SuggestionRequest{
		Context:             sctx.Namespace(),
		UserID:              userID,
		DietaryRestrictions: opts.DietaryRestrictions,
		CuisinePreferences:  opts.CuisinePreferences,
		ExcludedIngredients: opts.ExcludedIngredients,
		MaxSuggestions:      opts.MaxSuggestions,
		MinConfidence:       opts.MinConfidence,
		Lang:                opts.Lang,
		CurrentMealPlanID:   opts.CurrentMealPlanID,
	}

	// Concurrent requests for the same key share one backend call.
	v, err, _ := s.group.Do(key, func() (any, error) {
		resp, err := s.fetcher.FetchSuggestions(ctx, req)
		if err != nil {
			return nil, err
		}
		s.cache.Write(key, resp)
		return resp, nil
	})
	if err == nil {
		return &Result{Response: v.(*remote.SuggestionResponse)}, nil
	}

	if entry := s.cache.Read(key, true); entry != nil {
		if resp := decodeResponse(entry.Payload); resp != nil {
			s.logger.Info("serving stale suggestions after backend failure",
				"key", key, "age", s.clock().Sub(entry.WrittenAt), "error", err)
			return &Result{Response: resp, Stale: true, CachedAt: entry.WrittenAt}, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrSuggestionsUnavailable, err)
}

// SubmitFeedback forwards feedback to the backend, records it locally, and
// invalidates every cached surface for the user so the next fetch reflects
// the updated personalization signal.
func (s *Service) SubmitFeedback(ctx context.Context, userID, suggestionID, action string, rating int) error {
	err := s.fetcher.SubmitFeedback(ctx, remote.FeedbackRequest{
		UserID:       userID,
		SuggestionID: suggestionID,
		Action:       action,
		Rating:       rating,
	})
	if err != nil {
		return fmt.Errorf("submitting feedback: %w", err)
	}

	rec := storage.FeedbackRecord{
		ID:           uuid.NewString(),
		UserID:       userID,
		SuggestionID: suggestionID,
		Action:       action,
		Rating:       rating,
		CreatedAt:    s.clock(),
	}
	if err := s.feedback.RecordFeedback(rec); err != nil {
		// The backend accepted the feedback; the local log is advisory.
		s.logger.Warn("recording feedback locally failed", "user_id", userID, "error", err)
	}

	s.InvalidateUser(userID)
	return nil
}

// InvalidateUser drops every cached suggestion surface for the user,
// including the per-period insights entries.
func (s *Service) InvalidateUser(userID string) {
	keys := make([]string, 0, len(AllContexts)+2)
	for _, c := range AllContexts {
		keys = append(keys, c.Namespace()+":"+userID)
	}
	for _, period := range []string{"week", "month"} {
		keys = append(keys, ContextInsights.Namespace()+":"+userID+":"+period)
	}
	s.cache.Invalidate(keys)
}

func decodeResponse(payload json.RawMessage) *remote.SuggestionResponse {
	var resp remote.SuggestionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil
	}
	return &resp
}
