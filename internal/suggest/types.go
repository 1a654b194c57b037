package suggest

import (
	"errors"
	"time"
)

// Context selects which suggestion surface is being requested. Each context
// has its own cache namespace and freshness window.
type Context string

const (
	ContextToday    Context = "today"
	ContextOptimize Context = "optimize"
	ContextDiscover Context = "discover"
	ContextInsights Context = "insights"
)

func (c Context) Valid() bool {
	switch c {
	case ContextToday, ContextOptimize, ContextDiscover, ContextInsights:
		return true
	}
	return false
}

// Namespace is the cache-key prefix for this context.
func (c Context) Namespace() string { return string(c) }

// AllContexts lists every context, in display order.
var AllContexts = []Context{ContextToday, ContextOptimize, ContextDiscover, ContextInsights}

// TTLs holds the freshness window per namespace. Volatile surfaces refresh
// often; expensive slow-moving ones are reused longer.
var TTLs = map[string]time.Duration{
	ContextToday.Namespace():    30 * time.Minute,
	ContextOptimize.Namespace(): 15 * time.Minute,
	ContextDiscover.Namespace(): 2 * time.Hour,
	ContextInsights.Namespace(): 24 * time.Hour,
}

// DefaultTTL applies to keys outside the known namespaces.
const DefaultTTL = 30 * time.Minute

// Options carries the caller-supplied filters for a suggestion request.
type Options struct {
	ForceRefresh        bool
	DietaryRestrictions []string
	CuisinePreferences  []string
	ExcludedIngredients []string
	MaxSuggestions      int
	MinConfidence       float64
	Lang                string

	// CurrentMealPlanID is required for the optimize context, which
	// reshapes an existing plan rather than proposing from scratch.
	CurrentMealPlanID string
}

var (
	// ErrInvalidContext marks a request for an unknown context name.
	ErrInvalidContext = errors.New("invalid suggestion context")

	// ErrNoActivePlan marks an optimize request with no meal plan to
	// optimize. It is detected before any network call.
	ErrNoActivePlan = errors.New("no active meal plan")

	// ErrSuggestionsUnavailable means the backend failed and no cached
	// response exists to fall back on.
	ErrSuggestionsUnavailable = errors.New("suggestions unavailable")
)
