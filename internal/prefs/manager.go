// Package prefs provides cached, structured access to per-user dietary
// preferences stored as flat key-value pairs.
package prefs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// PrefStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type PrefStore interface {
	Set(key, value string) error
	GetPrefix(prefix string) (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// KnownFields lists the accepted preference field names. String fields hold
// plain values; the rest are stored as JSON.
var KnownFields = map[string]bool{
	"diet.restrictions":    true,
	"diet.cuisines":        true,
	"diet.excluded":        true,
	"goals.calorie_target": true,
	"goals.macros":         true,
	"lang":                 true,
	"plan.current_id":      true,
}

type cached struct {
	prefs Preferences
	at    time.Time
}

// Manager assembles Preferences from the flat store and caches them per user.
type Manager struct {
	store PrefStore
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	users map[string]cached
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store PrefStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store PrefStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		users: make(map[string]cached),
	}
}

func keyPrefix(userID string) string { return "prefs:" + userID + ":" }

// Get reads all preference keys for a user (or the cache) and assembles a
// structured Preferences. Returns zero-value Preferences on an empty store.
func (m *Manager) Get(userID string) (Preferences, error) {
	m.mu.RLock()
	if c, ok := m.users[userID]; ok && m.clock.Now().Before(c.at.Add(m.ttl)) {
		p := deepCopy(c.prefs)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if c, ok := m.users[userID]; ok && m.clock.Now().Before(c.at.Add(m.ttl)) {
		return deepCopy(c.prefs), nil
	}

	prefix := keyPrefix(userID)
	raw, err := m.store.GetPrefix(prefix)
	if err != nil {
		return Preferences{}, fmt.Errorf("loading preference keys: %w", err)
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		fields[strings.TrimPrefix(k, prefix)] = v
	}

	p := build(fields)
	m.users[userID] = cached{prefs: p, at: m.clock.Now()}
	return deepCopy(p), nil
}

// SetField persists one preference field and invalidates the user's cache.
// Non-string values are stored as JSON.
func (m *Manager) SetField(userID, field string, value any) error {
	if !KnownFields[field] {
		return fmt.Errorf("unknown preference field %q", field)
	}

	var str string
	switch v := value.(type) {
	case string:
		str = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling value for field %q: %w", field, err)
		}
		str = string(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Set(keyPrefix(userID)+field, str); err != nil {
		return fmt.Errorf("setting preference %q: %w", field, err)
	}

	delete(m.users, userID)
	return nil
}

// Summary returns a compact one-line description of the user's preferences,
// suitable for CLI output and logs.
func (m *Manager) Summary(userID string) (string, error) {
	p, err := m.Get(userID)
	if err != nil {
		return "", fmt.Errorf("getting preferences for summary: %w", err)
	}
	return summarize(p), nil
}

func summarize(p Preferences) string {
	var parts []string

	if len(p.Diet.Restrictions) > 0 {
		parts = append(parts, fmt.Sprintf("Diet: %s.", strings.Join(p.Diet.Restrictions, ", ")))
	}
	if len(p.Diet.CuisinePreferences) > 0 {
		parts = append(parts, fmt.Sprintf("Likes: %s.", strings.Join(p.Diet.CuisinePreferences, ", ")))
	}
	if len(p.Diet.ExcludedIngredients) > 0 {
		parts = append(parts, fmt.Sprintf("Avoids: %s.", strings.Join(p.Diet.ExcludedIngredients, ", ")))
	}
	if p.Goals.CalorieTarget > 0 {
		parts = append(parts, fmt.Sprintf("Target: %d kcal/day.", p.Goals.CalorieTarget))
	}
	if len(p.Goals.MacroTargets) > 0 {
		// Sorted for deterministic output.
		names := make([]string, 0, len(p.Goals.MacroTargets))
		for name := range p.Goals.MacroTargets {
			names = append(names, name)
		}
		sort.Strings(names)
		var macros []string
		for _, name := range names {
			macros = append(macros, fmt.Sprintf("%s %.0fg", name, p.Goals.MacroTargets[name]))
		}
		parts = append(parts, fmt.Sprintf("Macros: %s.", strings.Join(macros, ", ")))
	}
	if p.CurrentMealPlanID != "" {
		parts = append(parts, fmt.Sprintf("Active plan: %s.", p.CurrentMealPlanID))
	}

	if len(parts) == 0 {
		return "Preferences: not yet configured."
	}
	return strings.Join(parts, " ")
}

func deepCopy(p Preferences) Preferences {
	cp := p
	if p.Diet.Restrictions != nil {
		cp.Diet.Restrictions = append([]string(nil), p.Diet.Restrictions...)
	}
	if p.Diet.CuisinePreferences != nil {
		cp.Diet.CuisinePreferences = append([]string(nil), p.Diet.CuisinePreferences...)
	}
	if p.Diet.ExcludedIngredients != nil {
		cp.Diet.ExcludedIngredients = append([]string(nil), p.Diet.ExcludedIngredients...)
	}
	if p.Goals.MacroTargets != nil {
		cp.Goals.MacroTargets = make(map[string]float64, len(p.Goals.MacroTargets))
		for k, v := range p.Goals.MacroTargets {
			cp.Goals.MacroTargets[k] = v
		}
	}
	return cp
}

// build assembles Preferences from flat field-value pairs. Fields use
// dot-notation; list and map values are stored as JSON.
func build(fields map[string]string) Preferences {
	var p Preferences

	unmarshalField(fields, "diet.restrictions", &p.Diet.Restrictions)
	unmarshalField(fields, "diet.cuisines", &p.Diet.CuisinePreferences)
	unmarshalField(fields, "diet.excluded", &p.Diet.ExcludedIngredients)
	unmarshalField(fields, "goals.calorie_target", &p.Goals.CalorieTarget)
	unmarshalField(fields, "goals.macros", &p.Goals.MacroTargets)

	if v, ok := fields["lang"]; ok {
		p.Lang = v
	}
	if v, ok := fields["plan.current_id"]; ok {
		p.CurrentMealPlanID = v
	}

	return p
}

// unmarshalField unmarshals a JSON value from fields into target, logging a
// warning if the value is present but malformed.
func unmarshalField(fields map[string]string, field string, target any) {
	v, ok := fields[field]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		slog.Warn("malformed preference field, skipping", "field", field, "error", err)
	}
}
