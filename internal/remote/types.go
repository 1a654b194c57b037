package remote

import "time"

// SuggestionRequest is the JSON body for POST /smart-diet/suggestions.
type SuggestionRequest struct {
	Context             string   `json:"context"`
	UserID              string   `json:"user_id"`
	DietaryRestrictions []string `json:"dietary_restrictions,omitempty"`
	CuisinePreferences  []string `json:"cuisine_preferences,omitempty"`
	ExcludedIngredients []string `json:"excluded_ingredients,omitempty"`
	MaxSuggestions      int      `json:"max_suggestions,omitempty"`
	MinConfidence       float64  `json:"min_confidence,omitempty"`
	Lang                string   `json:"lang,omitempty"`
	CurrentMealPlanID   string   `json:"current_meal_plan_id,omitempty"`
}

// Macros is the macronutrient breakdown of a suggestion, in grams.
type Macros struct {
	Protein float64 `json:"protein"`
	Carbs   float64 `json:"carbs"`
	Fat     float64 `json:"fat"`
}

// Suggestion is one personalized recommendation from the backend.
type Suggestion struct {
	ID          string  `json:"id"`
	Category    string  `json:"category"` // "meal", "swap", "insight"
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Calories    float64 `json:"calories"`
	Macros      Macros  `json:"macros"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

// SuggestionResponse is the JSON returned by POST /smart-diet/suggestions.
type SuggestionResponse struct {
	Context     string       `json:"context"`
	Suggestions []Suggestion `json:"suggestions"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// FeedbackRequest is the JSON body for POST /smart-diet/feedback.
type FeedbackRequest struct {
	UserID       string `json:"user_id"`
	SuggestionID string `json:"suggestion_id"`
	Action       string `json:"action"`
	Rating       int    `json:"rating,omitempty"`
}

// consumptionResponse mirrors the backend's consumption-confirmation reply.
// Success false means the backend processed the request but rejected it
// (e.g. the item no longer exists).
type consumptionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
