package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platewise/dietd/internal/config"
)

// --- suggest ---

var suggestCmd = &cobra.Command{
	Use:   "suggest [context]",
	Short: "Get diet suggestions for a context",
	Long: `Get personalized diet suggestions for a context.

Contexts: today (meal suggestions for today), optimize (improvements for
the active meal plan), discover (new foods and recipes), insights
(nutrition analysis).

Examples:
  dietd suggest
  dietd suggest discover --max 5
  dietd suggest today --refresh`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sctx := "today"
		if len(args) == 1 {
			sctx = args[0]
		}
		user, _ := cmd.Flags().GetString("user")
		refresh, _ := cmd.Flags().GetBool("refresh")
		maxSuggestions, _ := cmd.Flags().GetInt("max")
		minConfidence, _ := cmd.Flags().GetFloat64("min-confidence")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"context":       sctx,
			"force_refresh": refresh,
		}
		if user != "" {
			req["user_id"] = user
		}
		if maxSuggestions > 0 {
			req["max_suggestions"] = maxSuggestions
		}
		if minConfidence > 0 {
			req["min_confidence"] = minConfidence
		}

		resp, err := client.post(cmd.Context(), "/v1/suggestions", req)
		if err != nil {
			return err
		}

		var result struct {
			Context     string `json:"context"`
			Stale       bool   `json:"stale"`
			CachedAt    string `json:"cached_at"`
			Suggestions []struct {
				ID          string  `json:"id"`
				Category    string  `json:"category"`
				Title       string  `json:"title"`
				Description string  `json:"description"`
				Calories    float64 `json:"calories"`
				Confidence  float64 `json:"confidence"`
			} `json:"suggestions"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Stale {
			printWarning("Backend unreachable, showing last cached suggestions")
		}
		if len(result.Suggestions) == 0 {
			fmt.Println("No suggestions available.")
			return nil
		}

		for i, s := range result.Suggestions {
			header := fmt.Sprintf("%d. %s", i+1, s.Title)
			fmt.Printf("\n%s [%s, confidence %.2f]\n", colorize(colorBold, header), s.Category, s.Confidence)
			if s.Calories > 0 {
				fmt.Printf("   %.0f kcal\n", s.Calories)
			}
			if s.Description != "" {
				fmt.Printf("   %s\n", s.Description)
			}
			fmt.Printf("   id: %s\n", colorize(colorCyan, s.ID))
		}
		return nil
	},
}

func init() {
	suggestCmd.Flags().String("user", "", "user id (default: configured user)")
	suggestCmd.Flags().Bool("refresh", false, "bypass the cache and fetch fresh suggestions")
	suggestCmd.Flags().Int("max", 0, "maximum number of suggestions")
	suggestCmd.Flags().Float64("min-confidence", 0, "minimum confidence score")
}

// --- meals ---

type consumptionItem struct {
	ItemID     string `json:"item_id"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error"`
	ConsumedAt string `json:"consumed_at"`
}

var mealsCmd = &cobra.Command{
	Use:   "meals",
	Short: "Log and track meal consumption",
}

var mealsLogCmd = &cobra.Command{
	Use:   "log <item-id>",
	Short: "Log a suggested item as consumed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/consumptions/"+args[0], nil)
		if err != nil {
			return err
		}

		var item consumptionItem
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}

		printSuccess("Logged %s (sync %s)", item.ItemID, item.Status)
		return nil
	},
}

var mealsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked meals and their sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/consumptions")
		if err != nil {
			return err
		}

		var list struct {
			Items      []consumptionItem `json:"items"`
			HasPending bool              `json:"has_pending"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		if len(list.Items) == 0 {
			fmt.Println("No tracked meals.")
			return nil
		}

		for _, item := range list.Items {
			status := item.Status
			switch item.Status {
			case "consumed":
				status = colorize(colorGreen, status)
			case "failed":
				status = colorize(colorRed, status)
			default:
				status = colorize(colorYellow, status)
			}
			line := fmt.Sprintf("%s  %s", colorize(colorCyan, item.ItemID), status)
			if item.RetryCount > 0 {
				line += fmt.Sprintf("  (retries: %d)", item.RetryCount)
			}
			if item.LastError != "" {
				line += "  " + item.LastError
			}
			fmt.Println(line)
		}
		if list.HasPending {
			printStep("Some meals are still syncing")
		}
		return nil
	},
}

var mealsRetryCmd = &cobra.Command{
	Use:   "retry <item-id>",
	Short: "Retry syncing a failed meal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/consumptions/"+args[0]+"/retry", nil)
		if err != nil {
			return err
		}

		var item consumptionItem
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}

		printSuccess("Retrying %s", item.ItemID)
		return nil
	},
}

var mealsClearCmd = &cobra.Command{
	Use:   "clear <item-id>",
	Short: "Drop the local sync state for a meal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/consumptions/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Cleared %s", args[0])
		return nil
	},
}

func init() {
	mealsCmd.AddCommand(mealsLogCmd)
	mealsCmd.AddCommand(mealsListCmd)
	mealsCmd.AddCommand(mealsRetryCmd)
	mealsCmd.AddCommand(mealsClearCmd)
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Send or list suggestion feedback",
}

var feedbackSendCmd = &cobra.Command{
	Use:   "send <suggestion-id>",
	Short: "Send feedback for a suggestion",
	Long: `Send feedback for a suggestion. Feedback is forwarded to the backend
and invalidates cached suggestions so the next fetch reflects it.

Examples:
  dietd feedback send sug-123 --action accepted --rating 5
  dietd feedback send sug-456 --action dismissed`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, _ := cmd.Flags().GetString("action")
		rating, _ := cmd.Flags().GetInt("rating")
		user, _ := cmd.Flags().GetString("user")

		if action == "" {
			return fmt.Errorf("--action is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"suggestion_id": args[0],
			"action":        action,
		}
		if rating > 0 {
			req["rating"] = rating
		}
		if user != "" {
			req["user_id"] = user
		}

		resp, err := client.post(cmd.Context(), "/v1/feedback", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Feedback %s for %s", result["status"], args[0])
		return nil
	},
}

var feedbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently recorded feedback",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/feedback?limit=%d", limit))
		if err != nil {
			return err
		}

		var records []struct {
			SuggestionID string `json:"suggestion_id"`
			Action       string `json:"action"`
			Rating       int    `json:"rating"`
			CreatedAt    string `json:"created_at"`
		}
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No feedback recorded.")
			return nil
		}

		for _, rec := range records {
			line := fmt.Sprintf("%s  %s  %s", rec.CreatedAt, colorize(colorCyan, rec.SuggestionID), rec.Action)
			if rec.Rating > 0 {
				line += fmt.Sprintf("  (rating: %d)", rec.Rating)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	feedbackSendCmd.Flags().String("action", "", "feedback action (accepted, dismissed, liked, disliked)")
	feedbackSendCmd.Flags().Int("rating", 0, "rating from 1 to 5")
	feedbackSendCmd.Flags().String("user", "", "user id (default: configured user)")
	feedbackListCmd.Flags().Int("limit", 20, "maximum number of records to list")
	feedbackCmd.AddCommand(feedbackSendCmd)
	feedbackCmd.AddCommand(feedbackListCmd)
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Manage dietary preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current preferences as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/prefs")
		if err != nil {
			return err
		}

		var preferences any
		if err := decodeJSON(resp, &preferences); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(preferences)
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Set a preference field",
	Long: `Set a preference field. List values are comma-separated.

Examples:
  dietd prefs set diet.restrictions vegetarian,gluten_free
  dietd prefs set goals.calorie_target 2200
  dietd prefs set lang en`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, raw := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"fields": map[string]any{field: prefValue(raw)},
		}
		resp, err := client.patch(cmd.Context(), "/v1/prefs", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s = %s", field, raw)
		return nil
	},
}

// prefValue turns a CLI argument into the JSON value the API expects:
// comma lists become arrays, bare numbers become numbers, everything
// else stays a string.
func prefValue(raw string) any {
	if strings.Contains(raw, ",") {
		parts := strings.Split(raw, ",")
		list := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				list = append(list, trimmed)
			}
		}
		return list
	}
	var num json.Number
	if err := json.Unmarshal([]byte(raw), &num); err == nil {
		if f, err := num.Float64(); err == nil {
			return f
		}
	}
	return raw
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
}

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage the active meal plan",
}

var planSetCmd = &cobra.Command{
	Use:   "set <plan-id>",
	Short: "Set the active meal plan (required for the optimize context)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"fields": map[string]any{"plan.current_id": args[0]},
		}
		resp, err := client.patch(cmd.Context(), "/v1/prefs", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Active meal plan set to %s", args[0])
		return nil
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active meal plan id",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/prefs")
		if err != nil {
			return err
		}

		var preferences struct {
			CurrentMealPlanID string `json:"current_meal_plan_id"`
		}
		if err := decodeJSON(resp, &preferences); err != nil {
			return err
		}

		if preferences.CurrentMealPlanID == "" {
			fmt.Println("No active meal plan.")
			return nil
		}
		fmt.Println(preferences.CurrentMealPlanID)
		return nil
	},
}

func init() {
	planCmd.AddCommand(planSetCmd)
	planCmd.AddCommand(planShowCmd)
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the suggestion cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Invalidate all cached suggestions",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/v1/cache"
		if user != "" {
			path += "?user_id=" + user
		}
		resp, err := client.delete(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Suggestion cache cleared")
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().String("user", "", "user id (default: configured user)")
	cacheCmd.AddCommand(cacheClearCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return fmt.Errorf("usage: dietd config set <key> <value>\nvalid keys: %s",
				strings.Join(config.ValidKeys(), ", "))
		}
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
