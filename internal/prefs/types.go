package prefs

// Preferences is a structured view of a user's dietary profile: what they
// will and won't eat, their goals, and the plan currently in effect.
type Preferences struct {
	Diet  DietProfile `json:"diet"`
	Goals GoalProfile `json:"goals"`

	// Lang is the language suggestions should be written in.
	Lang string `json:"lang,omitempty"`

	// CurrentMealPlanID names the active meal plan, empty when none.
	CurrentMealPlanID string `json:"current_meal_plan_id,omitempty"`
}

// DietProfile captures restrictions and tastes.
type DietProfile struct {
	Restrictions        []string `json:"restrictions,omitempty"`         // e.g. "vegetarian", "lactose_free"
	CuisinePreferences  []string `json:"cuisine_preferences,omitempty"`  // e.g. "italian", "thai"
	ExcludedIngredients []string `json:"excluded_ingredients,omitempty"` // e.g. "cilantro"
}

// GoalProfile captures numeric nutrition targets.
type GoalProfile struct {
	CalorieTarget int                `json:"calorie_target,omitempty"`
	MacroTargets  map[string]float64 `json:"macro_targets,omitempty"` // macro name in grams, e.g. "protein" -> 120
}
