package model

// Urgency expresses how quickly the repair must be sourced.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyUrgent Urgency = "urgent"
)

// VehicleClass refines quality expectations.
type VehicleClass string

const (
	VehicleClassStandard    VehicleClass = "standard"
	VehicleClassLuxury      VehicleClass = "luxury"
	VehicleClassPerformance VehicleClass = "performance"
)

// SelectionContext carries request-time preferences for ranking quotes.
type SelectionContext struct {
	Urgency           Urgency      `json:"urgency"`
	BudgetSensitive   bool         `json:"budget_sensitive"`
	VehicleAgeYears   *int         `json:"vehicle_age_years,omitempty"`
	VehicleClass      VehicleClass `json:"vehicle_class,omitempty"`
	QualityPreference string       `json:"quality_preference,omitempty"`
}

// ScoreBreakdown holds the five sub-scores, each in [0,100].
type ScoreBreakdown struct {
	Price        float64 `json:"price"`
	Availability float64 `json:"availability"`
	Delivery     float64 `json:"delivery"`
	Quality      float64 `json:"quality"`
	Relationship float64 `json:"relationship"`
}

// ScoredQuote is a quote with its overall score and breakdown.
type ScoredQuote struct {
	Quote        Quote          `json:"quote"`
	OverallScore float64        `json:"overall_score"`
	Breakdown    ScoreBreakdown `json:"breakdown"`
}

// Alternative is a runner-up with a one-line reason to consider it.
type Alternative struct {
	ScoredQuote
	Reason string `json:"reason"`
}

// Recommendation is the result of ranking a set of quotes.
type Recommendation struct {
	Best         ScoredQuote   `json:"best"`
	Alternatives []Alternative `json:"alternatives"`
	Rationale    string        `json:"rationale"`
}
