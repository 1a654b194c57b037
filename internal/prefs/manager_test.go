package prefs

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// --- Mock store ---

type mockStore struct {
	mu   sync.Mutex
	data map[string]string

	prefixCalls int
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string)}
}

func (m *mockStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockStore) GetPrefix(prefix string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefixCalls++
	cp := make(map[string]string)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			cp[k] = v
		}
	}
	return cp, nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGet_Empty(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)

	p, err := mgr.Get("u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Diet.Restrictions) != 0 || p.Lang != "" || p.CurrentMealPlanID != "" {
		t.Errorf("expected zero-value preferences, got %+v", p)
	}
}

func TestGet_AssemblesFields(t *testing.T) {
	store := newMockStore()
	store.data["prefs:u1:diet.restrictions"] = `["vegetarian","lactose_free"]`
	store.data["prefs:u1:diet.cuisines"] = `["thai"]`
	store.data["prefs:u1:goals.calorie_target"] = `2200`
	store.data["prefs:u1:goals.macros"] = `{"protein":120,"fat":70}`
	store.data["prefs:u1:lang"] = "en"
	store.data["prefs:u1:plan.current_id"] = "plan-42"
	store.data["prefs:u2:lang"] = "de"

	mgr := NewManager(store)
	p, err := mgr.Get("u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(p.Diet.Restrictions) != 2 || p.Diet.Restrictions[0] != "vegetarian" {
		t.Errorf("Restrictions = %v", p.Diet.Restrictions)
	}
	if p.Goals.CalorieTarget != 2200 {
		t.Errorf("CalorieTarget = %d, want 2200", p.Goals.CalorieTarget)
	}
	if p.Goals.MacroTargets["protein"] != 120 {
		t.Errorf("MacroTargets = %v", p.Goals.MacroTargets)
	}
	if p.Lang != "en" {
		t.Errorf("Lang = %q, want %q (u2 keys must not bleed in)", p.Lang, "en")
	}
	if p.CurrentMealPlanID != "plan-42" {
		t.Errorf("CurrentMealPlanID = %q, want plan-42", p.CurrentMealPlanID)
	}
}

func TestGet_MalformedFieldSkipped(t *testing.T) {
	store := newMockStore()
	store.data["prefs:u1:diet.restrictions"] = `not json`
	store.data["prefs:u1:lang"] = "en"

	mgr := NewManager(store)
	p, err := mgr.Get("u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Diet.Restrictions) != 0 {
		t.Errorf("Restrictions = %v, want empty for malformed value", p.Diet.Restrictions)
	}
	if p.Lang != "en" {
		t.Errorf("Lang = %q, a bad sibling field must not break the rest", p.Lang)
	}
}

func TestGet_CachesWithinTTL(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Now()}
	mgr := NewManagerWithClock(store, clock, 60*time.Second)

	for i := 0; i < 3; i++ {
		if _, err := mgr.Get("u1"); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if store.prefixCalls != 1 {
		t.Errorf("store reads = %d, want 1 (cached)", store.prefixCalls)
	}

	clock.Advance(61 * time.Second)
	if _, err := mgr.Get("u1"); err != nil {
		t.Fatalf("Get after TTL: %v", err)
	}
	if store.prefixCalls != 2 {
		t.Errorf("store reads = %d, want 2 after expiry", store.prefixCalls)
	}
}

func TestGet_CachePerUser(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Now()}
	mgr := NewManagerWithClock(store, clock, 60*time.Second)

	if _, err := mgr.Get("u1"); err != nil {
		t.Fatalf("Get u1: %v", err)
	}
	if _, err := mgr.Get("u2"); err != nil {
		t.Fatalf("Get u2: %v", err)
	}
	if store.prefixCalls != 2 {
		t.Errorf("store reads = %d, want one per user", store.prefixCalls)
	}
}

func TestSetField_InvalidatesCache(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Now()}
	mgr := NewManagerWithClock(store, clock, time.Hour)

	if _, err := mgr.Get("u1"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := mgr.SetField("u1", "diet.cuisines", []string{"italian"}); err != nil {
		t.Fatalf("SetField: %v", err)
	}

	p, err := mgr.Get("u1")
	if err != nil {
		t.Fatalf("Get after SetField: %v", err)
	}
	if len(p.Diet.CuisinePreferences) != 1 || p.Diet.CuisinePreferences[0] != "italian" {
		t.Errorf("CuisinePreferences = %v, want [italian]", p.Diet.CuisinePreferences)
	}
}

func TestSetField_StringStoredPlain(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)

	if err := mgr.SetField("u1", "lang", "de"); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if got := store.data["prefs:u1:lang"]; got != "de" {
		t.Errorf("stored value = %q, want plain %q", got, "de")
	}
}

func TestSetField_UnknownField(t *testing.T) {
	mgr := NewManager(newMockStore())

	if err := mgr.SetField("u1", "favorite.color", "green"); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	store := newMockStore()
	store.data["prefs:u1:diet.restrictions"] = `["vegan"]`
	mgr := NewManager(store)

	p1, err := mgr.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p1.Diet.Restrictions[0] = "mutated"

	p2, err := mgr.Get("u1")
	if err != nil {
		t.Fatalf("Get (second): %v", err)
	}
	if p2.Diet.Restrictions[0] != "vegan" {
		t.Error("mutating a returned Preferences leaked into the cache")
	}
}

func TestSummary(t *testing.T) {
	store := newMockStore()
	store.data["prefs:u1:diet.restrictions"] = `["vegetarian"]`
	store.data["prefs:u1:goals.calorie_target"] = `2000`
	mgr := NewManager(store)

	s, err := mgr.Summary("u1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if !strings.Contains(s, "vegetarian") || !strings.Contains(s, "2000 kcal") {
		t.Errorf("Summary = %q, want diet and calorie target mentioned", s)
	}
}

func TestSummary_Empty(t *testing.T) {
	mgr := NewManager(newMockStore())

	s, err := mgr.Summary("u1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s != "Preferences: not yet configured." {
		t.Errorf("Summary = %q", s)
	}
}
