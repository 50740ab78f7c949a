// Package selection ranks competing quotes with a weighted multi-factor score
// and explains the pick.
package selection

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quote-sourcing/internal/config"
	"github.com/sells-group/quote-sourcing/internal/model"
)

// DefaultConfig returns a config.SelectionConfig with the stock weights and
// tables. Weights sum to 1.0.
func DefaultConfig() config.SelectionConfig {
	return config.SelectionConfig{
		Weights: config.SelectionWeights{
			Price:        0.30,
			Availability: 0.25,
			Delivery:     0.20,
			Quality:      0.15,
			Relationship: 0.10,
		},
		AvailabilityScores: map[string]float64{
			string(model.AvailabilityInStock):      100,
			string(model.AvailabilityLimitedStock): 70,
			string(model.AvailabilitySpecialOrder): 40,
			string(model.AvailabilityOutOfStock):   0,
			string(model.AvailabilityUnknown):      50,
		},
		QualityScores: map[string]float64{
			string(model.QualityOEM):            100,
			string(model.QualityOEMEquivalent):  90,
			string(model.QualityPremium):        85,
			string(model.QualityStandard):       70,
			string(model.QualityEconomy):        50,
			string(model.QualityRemanufactured): 60,
			string(model.QualityUsed):           40,
			string(model.QualityUnknown):        50,
		},
		PriceDecay:       0.5,
		BudgetPriceDecay: 1.5,
		UrgentPriceScore: 70,
		NeutralScore:     50,

		UrgentInStockBonus:        20,
		UrgentNotInStockPenalty:   30,
		UrgentFastDeliveryBonus:   20,
		UrgentSlowDeliveryPenalty: 40,

		PremiumQualityBonus:   15,
		EconomyQualityPenalty: 20,
		OldVehicleBonus:       15,
		PreferenceBonus:       25,

		TopVendorBonus:  10,
		SpecialtyBonus:  5,
		PriorityStep:    10,
		TopVendorSlots:  2,
		MaxAlternatives: 3,
		NewVehicleYears: 3,
		OldVehicleYears: 10,
	}
}

// WeightSum returns the sum of the five factor weights.
func WeightSum(c config.SelectionConfig) float64 {
	w := c.Weights
	return w.Price + w.Availability + w.Delivery + w.Quality + w.Relationship
}

var (
	availabilityKeys = []model.Availability{
		model.AvailabilityInStock, model.AvailabilityLimitedStock, model.AvailabilitySpecialOrder,
		model.AvailabilityOutOfStock, model.AvailabilityUnknown,
	}
	qualityKeys = []model.Quality{
		model.QualityOEM, model.QualityOEMEquivalent, model.QualityPremium, model.QualityStandard,
		model.QualityEconomy, model.QualityRemanufactured, model.QualityUsed, model.QualityUnknown,
	}
)

// ValidateConfig checks that a SelectionConfig is internally consistent.
func ValidateConfig(c config.SelectionConfig) error {
	var errs []string

	// All weights must be finite and non-negative.
	weights := map[string]float64{
		"weights.price":        c.Weights.Price,
		"weights.availability": c.Weights.Availability,
		"weights.delivery":     c.Weights.Delivery,
		"weights.quality":      c.Weights.Quality,
		"weights.relationship": c.Weights.Relationship,
	}
	for name, w := range weights {
		switch {
		case math.IsNaN(w) || math.IsInf(w, 0):
			errs = append(errs, fmt.Sprintf("%s must be a finite number", name))
		case w < 0:
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	// Weights must sum to exactly 1.0, allowing for float representation.
	if sum := WeightSum(c); !(math.Abs(sum-1.0) <= 1e-9) {
		errs = append(errs, fmt.Sprintf("weights must sum to 1.0, got %.4f", sum))
	}

	for _, a := range availabilityKeys {
		v, ok := c.AvailabilityScores[string(a)]
		if !ok {
			errs = append(errs, fmt.Sprintf("availability_scores.%s is missing", a))
		} else if v < 0 || v > 100 {
			errs = append(errs, fmt.Sprintf("availability_scores.%s must be between 0 and 100", a))
		}
	}
	for _, q := range qualityKeys {
		v, ok := c.QualityScores[string(q)]
		if !ok {
			errs = append(errs, fmt.Sprintf("quality_scores.%s is missing", q))
		} else if v < 0 || v > 100 {
			errs = append(errs, fmt.Sprintf("quality_scores.%s must be between 0 and 100", q))
		}
	}

	if c.PriceDecay <= 0 {
		errs = append(errs, "price_decay must be > 0")
	}
	if c.BudgetPriceDecay <= c.PriceDecay {
		errs = append(errs, "budget_price_decay must be steeper than price_decay")
	}
	for name, v := range map[string]float64{
		"urgent_price_score": c.UrgentPriceScore,
		"neutral_score":      c.NeutralScore,
	} {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and 100", name))
		}
	}
	if c.MaxAlternatives < 0 {
		errs = append(errs, "max_alternatives must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("selection: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
