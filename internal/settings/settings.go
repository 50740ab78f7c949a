// Package settings supplies the shop's labor rate and markup policy and turns
// raw quote attributes into a customer-facing cost.
package settings

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sells-group/quote-sourcing/internal/config"
	"github.com/sells-group/quote-sourcing/internal/model"
)

// Settings is the pricing policy in effect.
type Settings struct {
	LaborRate     decimal.Decimal `json:"labor_rate"`
	PartsMarkup   decimal.Decimal `json:"parts_markup"`
	MinPartMarkup decimal.Decimal `json:"min_part_markup"`
}

// Provider returns the current settings.
type Provider interface {
	Current(ctx context.Context) (Settings, error)
}

// Static is a Provider backed by fixed values.
type Static struct {
	s Settings
}

// FromConfig builds a Static provider from the shop config section.
func FromConfig(cfg config.ShopConfig) *Static {
	return &Static{s: Settings{
		LaborRate:     decimal.NewFromFloat(cfg.LaborRate),
		PartsMarkup:   decimal.NewFromFloat(cfg.PartsMarkup),
		MinPartMarkup: decimal.NewFromFloat(cfg.MinPartMarkup),
	}}
}

// Current implements Provider.
func (p *Static) Current(context.Context) (Settings, error) {
	return p.s, nil
}

// Cost is a customer-facing price split into labor and parts.
type Cost struct {
	Labor decimal.Decimal `json:"labor"`
	Parts decimal.Decimal `json:"parts"`
	Total decimal.Decimal `json:"total"`
}

// CustomerCost prices a quote for the customer: labor hours at the shop rate
// plus the parts price with markup. The markup is never less than
// MinPartMarkup. Missing attributes contribute zero.
func CustomerCost(q model.Quote, s Settings) Cost {
	var c Cost
	if q.LaborHours.Valid {
		c.Labor = q.LaborHours.Decimal.Mul(s.LaborRate).Round(2)
	}
	if q.Price.Valid && q.Price.Decimal.IsPositive() {
		markup := q.Price.Decimal.Mul(s.PartsMarkup)
		if markup.LessThan(s.MinPartMarkup) {
			markup = s.MinPartMarkup
		}
		c.Parts = q.Price.Decimal.Add(markup).Round(2)
	}
	c.Total = c.Labor.Add(c.Parts)
	return c
}
