package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/platewise/dietd/internal/suggest"
	"github.com/platewise/dietd/internal/tracker"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Suggest *suggest.Service
	Tracker *tracker.Tracker
	Prefs   PrefsWriter

	// DefaultUserID is assumed for tool calls that name no user.
	DefaultUserID string
}

// PrefsWriter is the slice of the preference manager the MCP layer uses.
// Implemented by prefs.Manager.
type PrefsWriter interface {
	SetField(userID, field string, value any) error
	Summary(userID string) (string, error)
}

// NewMCPServer creates an MCP server with all dietd tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"dietd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("dietd is the local smart-diet daemon for meal suggestions, consumption logging, and preferences."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("get_suggestions",
			mcp.WithDescription("Fetch meal suggestions for a context (today, optimize, discover, insights). Served from cache when fresh."),
			mcp.WithString("context", mcp.Description("Suggestion context: today, optimize, discover, or insights"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("User id, defaults to the local user")),
			mcp.WithBoolean("force_refresh", mcp.Description("Bypass the cache and fetch from the backend")),
			mcp.WithNumber("max_suggestions", mcp.Description("Maximum number of suggestions (default 10)")),
		),
		mcpGetSuggestions(deps),
	)

	s.AddTool(
		mcp.NewTool("log_meal",
			mcp.WithDescription("Mark a suggested item as consumed. The confirmation runs in the background with retries."),
			mcp.WithString("item_id", mcp.Description("Id of the consumed item"), mcp.Required()),
		),
		mcpLogMeal(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_feedback",
			mcp.WithDescription("Submit feedback on a suggestion and invalidate the user's cached suggestions."),
			mcp.WithString("suggestion_id", mcp.Description("Id of the suggestion"), mcp.Required()),
			mcp.WithString("action", mcp.Description("Feedback action, e.g. accepted or rejected"), mcp.Required()),
			mcp.WithNumber("rating", mcp.Description("Rating 1-5")),
			mcp.WithString("user_id", mcp.Description("User id, defaults to the local user")),
		),
		mcpSubmitFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("set_preference",
			mcp.WithDescription("Update a dietary preference field (e.g. diet.restrictions, goals.calorie_target, lang)."),
			mcp.WithString("field", mcp.Description("Preference field name"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set; JSON for list and map fields"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("User id, defaults to the local user")),
		),
		mcpSetPreference(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"diet://consumptions",
			"Consumption States",
			mcp.WithResourceDescription("Current in-flight and confirmed consumption states as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceConsumptions(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"diet://preferences",
			"Preference Summary",
			mcp.WithResourceDescription("One-line summary of the local user's dietary preferences"),
			mcp.WithMIMEType("text/plain"),
		),
		mcpResourcePreferences(deps),
	)

	return s
}

func mcpGetSuggestions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sctx, err := req.RequireString("context")
		if err != nil {
			return mcpError("context is required"), nil
		}

		userID := req.GetString("user_id", deps.DefaultUserID)
		opts := suggest.Options{
			ForceRefresh:   req.GetBool("force_refresh", false),
			MaxSuggestions: req.GetInt("max_suggestions", 10),
		}

		res, err := deps.Suggest.GetSuggestions(ctx, suggest.Context(sctx), userID, opts)
		switch {
		case errors.Is(err, suggest.ErrNoActivePlan):
			return mcpError("no active meal plan to optimize; set plan.current_id first"), nil
		case err != nil:
			return mcpError(fmt.Sprintf("fetching suggestions failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"suggestions": res.Response.Suggestions,
			"stale":       res.Stale,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal suggestions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLogMeal(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		itemID, err := req.RequireString("item_id")
		if err != nil {
			return mcpError("item_id is required"), nil
		}

		if !deps.Tracker.Consume(itemID) {
			return mcpError("tracker is shut down"), nil
		}
		return mcpText(fmt.Sprintf("Logged %s as consumed; confirmation runs in the background", itemID)), nil
	}
}

func mcpSubmitFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		suggestionID, err := req.RequireString("suggestion_id")
		if err != nil {
			return mcpError("suggestion_id is required"), nil
		}
		action, err := req.RequireString("action")
		if err != nil {
			return mcpError("action is required"), nil
		}

		userID := req.GetString("user_id", deps.DefaultUserID)
		rating := req.GetInt("rating", 0)

		if err := deps.Suggest.SubmitFeedback(ctx, userID, suggestionID, action, rating); err != nil {
			return mcpError(fmt.Sprintf("submitting feedback failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Recorded %s feedback for %s", action, suggestionID)), nil
	}
}

func mcpSetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		field, err := req.RequireString("field")
		if err != nil {
			return mcpError("field is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		userID := req.GetString("user_id", deps.DefaultUserID)

		// List and map fields arrive as JSON strings; pass structured
		// values through so they are stored canonically.
		var parsed any = value
		var decoded any
		if json.Unmarshal([]byte(value), &decoded) == nil {
			switch decoded.(type) {
			case []any, map[string]any, float64:
				parsed = decoded
			}
		}

		if err := deps.Prefs.SetField(userID, field, parsed); err != nil {
			return mcpError(fmt.Sprintf("failed to set preference: %v", err)), nil
		}

		deps.Suggest.InvalidateUser(userID)
		return mcpText(fmt.Sprintf("Set %s = %s", field, value)), nil
	}
}

func mcpResourceConsumptions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		states := deps.Tracker.States()

		type stateView struct {
			ItemID     string `json:"item_id"`
			Status     string `json:"status"`
			RetryCount int    `json:"retry_count"`
			LastError  string `json:"last_error,omitempty"`
			ConsumedAt string `json:"consumed_at,omitempty"`
		}

		views := make([]stateView, len(states))
		for i, s := range states {
			v := stateView{
				ItemID:     s.ItemID,
				Status:     string(s.Status),
				RetryCount: s.RetryCount,
				LastError:  s.LastError,
			}
			if !s.ConsumedAt.IsZero() {
				v.ConsumedAt = s.ConsumedAt.Format(time.RFC3339)
			}
			views[i] = v
		}

		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal consumption states: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourcePreferences(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		summary, err := deps.Prefs.Summary(deps.DefaultUserID)
		if err != nil {
			return nil, fmt.Errorf("failed to summarize preferences: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     summary,
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
