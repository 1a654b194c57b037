package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/platewise/dietd/internal/cache"
	"github.com/platewise/dietd/internal/remote"
	"github.com/platewise/dietd/internal/storage"
	"github.com/platewise/dietd/internal/suggest"
	"github.com/platewise/dietd/internal/tracker"
)

// --- mocks ---

type mockPrefsWriter struct {
	fields  map[string]any
	summary string
}

func newMockPrefsWriter() *mockPrefsWriter {
	return &mockPrefsWriter{fields: make(map[string]any), summary: "Preferences: not yet configured."}
}

func (m *mockPrefsWriter) SetField(userID, field string, value any) error {
	m.fields[userID+":"+field] = value
	return nil
}

func (m *mockPrefsWriter) Summary(string) (string, error) {
	return m.summary, nil
}

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *stubFetcher) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fetcher := &stubFetcher{resp: &remote.SuggestionResponse{
		Context: "today",
		Suggestions: []remote.Suggestion{
			{ID: "sug-1", Title: "Greek salad", Calories: 290, Confidence: 0.9},
		},
	}}

	c := cache.New(store, suggest.TTLs, suggest.DefaultTTL)
	svc := suggest.NewService(c, fetcher, store, logger)
	tr := tracker.New("local", &stubConfirmer{ok: true}, store, logger)
	t.Cleanup(tr.Close)

	return MCPDeps{
		Suggest:       svc,
		Tracker:       tr,
		Prefs:         newMockPrefsWriter(),
		DefaultUserID: "local",
	}, fetcher
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_GetSuggestions(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGetSuggestions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_suggestions", map[string]interface{}{
		"context": "today",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var resp struct {
		Suggestions []remote.Suggestion `json:"suggestions"`
		Stale       bool                `json:"stale"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("decoding tool output: %v", err)
	}
	if len(resp.Suggestions) != 1 || resp.Suggestions[0].ID != "sug-1" {
		t.Errorf("suggestions = %+v, want one sug-1", resp.Suggestions)
	}
}

func TestMCPTool_GetSuggestions_MissingContext(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGetSuggestions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_suggestions", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing context")
	}
}

func TestMCPTool_GetSuggestions_OptimizeWithoutPlan(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGetSuggestions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_suggestions", map[string]interface{}{
		"context": "optimize",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for optimize without a plan")
	}
	if !strings.Contains(toolText(t, result), "plan") {
		t.Errorf("error text = %q, want it to mention the missing plan", toolText(t, result))
	}
}

func TestMCPTool_LogMeal(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpLogMeal(deps)

	result, err := handler(context.Background(), makeCallToolRequest("log_meal", map[string]interface{}{
		"item_id": "item-9",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	st, ok := deps.Tracker.Status("item-9")
	if !ok || st.Status != tracker.StatusConsumed {
		t.Errorf("Status = %+v, %v, want optimistic consumed", st, ok)
	}
}

func TestMCPTool_LogMeal_MissingItemID(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpLogMeal(deps)

	result, err := handler(context.Background(), makeCallToolRequest("log_meal", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing item_id")
	}
}

func TestMCPTool_SubmitFeedback(t *testing.T) {
	deps, fetcher := newTestMCPDeps(t)

	// Prime the cache so invalidation is observable.
	getHandler := mcpGetSuggestions(deps)
	if _, err := getHandler(context.Background(), makeCallToolRequest("get_suggestions", map[string]interface{}{
		"context": "today",
	})); err != nil {
		t.Fatalf("priming cache: %v", err)
	}

	handler := mcpSubmitFeedback(deps)
	result, err := handler(context.Background(), makeCallToolRequest("submit_feedback", map[string]interface{}{
		"suggestion_id": "sug-1",
		"action":        "accepted",
		"rating":        5,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	if _, err := getHandler(context.Background(), makeCallToolRequest("get_suggestions", map[string]interface{}{
		"context": "today",
	})); err != nil {
		t.Fatalf("refetching: %v", err)
	}
	if fetcher.calls() != 2 {
		t.Errorf("fetch calls = %d, want 2 after feedback invalidation", fetcher.calls())
	}
}

func TestMCPTool_SetPreference(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	pw := deps.Prefs.(*mockPrefsWriter)
	handler := mcpSetPreference(deps)

	result, err := handler(context.Background(), makeCallToolRequest("set_preference", map[string]interface{}{
		"field": "diet.restrictions",
		"value": `["vegan"]`,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	v, ok := pw.fields["local:diet.restrictions"]
	if !ok {
		t.Fatal("field not written")
	}
	list, ok := v.([]any)
	if !ok || len(list) != 1 || list[0] != "vegan" {
		t.Errorf("stored value = %#v, want decoded JSON list", v)
	}
}

func TestMCPTool_SetPreference_PlainString(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	pw := deps.Prefs.(*mockPrefsWriter)
	handler := mcpSetPreference(deps)

	result, err := handler(context.Background(), makeCallToolRequest("set_preference", map[string]interface{}{
		"field": "lang",
		"value": "en",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if pw.fields["local:lang"] != "en" {
		t.Errorf("stored value = %#v, want plain string", pw.fields["local:lang"])
	}
}

func TestMCPResource_Consumptions(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Tracker.Consume("item-1")

	handler := mcpResourceConsumptions(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("diet://consumptions"))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents length = %d, want 1", len(contents))
	}

	text := contents[0].(mcp.TextResourceContents).Text
	var views []map[string]any
	if err := json.Unmarshal([]byte(text), &views); err != nil {
		t.Fatalf("decoding resource: %v", err)
	}
	if len(views) != 1 || views[0]["item_id"] != "item-1" {
		t.Errorf("views = %+v, want one item-1", views)
	}
}

func TestMCPResource_Preferences(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	handler := mcpResourcePreferences(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("diet://preferences"))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents length = %d, want 1", len(contents))
	}
	if text := contents[0].(mcp.TextResourceContents).Text; !strings.Contains(text, "Preferences") {
		t.Errorf("resource text = %q", text)
	}
}
