package selection

import (
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quote-sourcing/internal/config"
	"github.com/sells-group/quote-sourcing/internal/model"
)

// ErrNoCandidates is returned when Select is called with no quotes.
var ErrNoCandidates = eris.New("selection: no candidate quotes")

// VendorLookup resolves vendor directory entries for the relationship score.
type VendorLookup interface {
	Lookup(id string) (model.Vendor, bool)
}

// Engine scores and ranks quotes. It holds no mutable state; Select is a
// pure function of its inputs and the configuration.
type Engine struct {
	cfg     config.SelectionConfig
	vendors VendorLookup
}

// New validates cfg and returns an engine. vendors may be nil.
func New(cfg config.SelectionConfig, vendors VendorLookup) (*Engine, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, vendors: vendors}, nil
}

// Select ranks quotes and returns the best with up to MaxAlternatives
// runners-up and a rationale.
func (e *Engine) Select(quotes []model.Quote, sc model.SelectionContext) (model.Recommendation, error) {
	if len(quotes) == 0 {
		return model.Recommendation{}, ErrNoCandidates
	}

	ranked := e.Rank(quotes, sc)
	best := ranked[0]

	rec := model.Recommendation{
		Best:         best,
		Alternatives: []model.Alternative{},
	}
	for _, sq := range ranked[1:] {
		if len(rec.Alternatives) >= e.cfg.MaxAlternatives {
			break
		}
		rec.Alternatives = append(rec.Alternatives, model.Alternative{
			ScoredQuote: sq,
			Reason:      alternativeReason(best, sq),
		})
	}
	rec.Rationale = e.rationale(best)
	return rec, nil
}

// Rank scores every quote and orders them best first. Equal scores fall
// back to higher confidence, then lower price, then input order.
func (e *Engine) Rank(quotes []model.Quote, sc model.SelectionContext) []model.ScoredQuote {
	minPrice := lowestPrice(quotes)
	scored := make([]model.ScoredQuote, len(quotes))
	for i, q := range quotes {
		scored[i] = e.score(q, minPrice, sc)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.OverallScore != b.OverallScore {
			return a.OverallScore > b.OverallScore
		}
		if a.Quote.Confidence != b.Quote.Confidence {
			return a.Quote.Confidence > b.Quote.Confidence
		}
		pa, okA := a.Quote.PriceFloat()
		pb, okB := b.Quote.PriceFloat()
		if okA && okB && pa != pb {
			return pa < pb
		}
		return false
	})
	return scored
}

func (e *Engine) score(q model.Quote, minPrice float64, sc model.SelectionContext) model.ScoredQuote {
	b := model.ScoreBreakdown{
		Price:        e.priceScore(q, minPrice, sc),
		Availability: e.availabilityScore(q, sc),
		Delivery:     e.deliveryScore(q, sc),
		Quality:      e.qualityScore(q, sc),
		Relationship: e.relationshipScore(q),
	}
	w := e.cfg.Weights
	overall := b.Price*w.Price +
		b.Availability*w.Availability +
		b.Delivery*w.Delivery +
		b.Quality*w.Quality +
		b.Relationship*w.Relationship

	return model.ScoredQuote{
		Quote:        q,
		OverallScore: round2(clamp(overall)),
		Breakdown:    b,
	}
}

// priceScore decays exponentially with the premium over the cheapest quote.
func (e *Engine) priceScore(q model.Quote, minPrice float64, sc model.SelectionContext) float64 {
	if sc.Urgency == model.UrgencyUrgent {
		return clamp(e.cfg.UrgentPriceScore)
	}
	p, ok := q.PriceFloat()
	if !ok {
		return clamp(e.cfg.NeutralScore)
	}
	if p <= 0 || minPrice <= 0 {
		return 100
	}
	decay := e.cfg.PriceDecay
	if sc.BudgetSensitive {
		decay = e.cfg.BudgetPriceDecay
	}
	return clamp(100 * math.Exp(-decay*(p/minPrice-1)))
}

func (e *Engine) availabilityScore(q model.Quote, sc model.SelectionContext) float64 {
	s, ok := e.cfg.AvailabilityScores[string(q.Availability)]
	if !ok {
		s = e.cfg.NeutralScore
	}
	if sc.Urgency == model.UrgencyUrgent {
		if q.Availability == model.AvailabilityInStock {
			s += e.cfg.UrgentInStockBonus
		} else {
			s -= e.cfg.UrgentNotInStockPenalty
		}
	}
	return clamp(s)
}

func (e *Engine) deliveryScore(q model.Quote, sc model.SelectionContext) float64 {
	if q.DeliveryDays == nil {
		return clamp(e.cfg.NeutralScore)
	}
	days := *q.DeliveryDays
	var s float64
	switch {
	case days <= 0:
		s = 100
	case days <= 1:
		s = 85
	case days <= 3:
		s = 60
	case days <= 7:
		s = 30
	default:
		s = 10
	}
	if sc.Urgency == model.UrgencyUrgent {
		switch {
		case days <= 1:
			s += e.cfg.UrgentFastDeliveryBonus
		case days > 2:
			s -= e.cfg.UrgentSlowDeliveryPenalty
		}
	}
	return clamp(s)
}

func (e *Engine) qualityScore(q model.Quote, sc model.SelectionContext) float64 {
	s, ok := e.cfg.QualityScores[string(q.Quality)]
	if !ok {
		s = e.cfg.NeutralScore
	}

	demanding := sc.VehicleClass == model.VehicleClassLuxury || sc.VehicleClass == model.VehicleClassPerformance
	if sc.VehicleAgeYears != nil && *sc.VehicleAgeYears < e.cfg.NewVehicleYears {
		demanding = true
	}
	if demanding {
		switch q.Quality {
		case model.QualityOEM, model.QualityPremium:
			s += e.cfg.PremiumQualityBonus
		case model.QualityEconomy:
			s -= e.cfg.EconomyQualityPenalty
		}
	}
	if sc.VehicleAgeYears != nil && *sc.VehicleAgeYears > e.cfg.OldVehicleYears {
		if q.Quality == model.QualityEconomy || q.Quality == model.QualityStandard {
			s += e.cfg.OldVehicleBonus
		}
	}
	if pref := strings.TrimSpace(sc.QualityPreference); pref != "" && q.Quality != model.QualityUnknown {
		if model.ParseQuality(pref) == q.Quality {
			s += e.cfg.PreferenceBonus
		}
	}
	return clamp(s)
}

// relationshipScore favours low priority numbers, with bonuses for the top
// slots and declared specialties. Unknown vendors score neutral.
func (e *Engine) relationshipScore(q model.Quote) float64 {
	if q.VendorID == "" || e.vendors == nil {
		return clamp(e.cfg.NeutralScore)
	}
	v, ok := e.vendors.Lookup(q.VendorID)
	if !ok {
		return clamp(e.cfg.NeutralScore)
	}
	s := 100 - e.cfg.PriorityStep*float64(v.Priority)
	if v.Priority >= 1 && v.Priority <= e.cfg.TopVendorSlots {
		s += e.cfg.TopVendorBonus
	}
	if strings.TrimSpace(v.Specialty) != "" {
		s += e.cfg.SpecialtyBonus
	}
	return clamp(s)
}

func lowestPrice(quotes []model.Quote) float64 {
	lowest := 0.0
	for _, q := range quotes {
		p, ok := q.PriceFloat()
		if !ok || p <= 0 {
			continue
		}
		if lowest == 0 || p < lowest {
			lowest = p
		}
	}
	return lowest
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
