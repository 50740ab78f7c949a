package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// SourceKind identifies the channel a quote came from.
type SourceKind string

const (
	SourceScraped         SourceKind = "scraped"
	SourceRemoteProcedure SourceKind = "remote_procedure"
	SourceStaticDatabase  SourceKind = "static_database"
	SourceVoiceCall       SourceKind = "voice_call"
)

// Structured reports whether the source is authoritative (confidence 1.0).
func (k SourceKind) Structured() bool {
	return k == SourceRemoteProcedure || k == SourceStaticDatabase
}

// MaxHeuristicConfidence caps confidence for scraped and voice-call quotes.
const MaxHeuristicConfidence = 0.9

// Availability describes stock status.
type Availability string

const (
	AvailabilityInStock      Availability = "in_stock"
	AvailabilityLimitedStock Availability = "limited_stock"
	AvailabilitySpecialOrder Availability = "special_order"
	AvailabilityOutOfStock   Availability = "out_of_stock"
	AvailabilityUnknown      Availability = "unknown"
)

// ParseAvailability maps storefront wording such as "In Stock" or
// "Ships in 3 days" to an availability. Negative phrases are checked first.
func ParseAvailability(s string) Availability {
	t := strings.ToLower(strings.TrimSpace(s))
	if t == "" {
		return AvailabilityUnknown
	}
	if a := Availability(strings.ReplaceAll(t, " ", "_")); a == AvailabilityInStock ||
		a == AvailabilityLimitedStock || a == AvailabilitySpecialOrder || a == AvailabilityOutOfStock {
		return a
	}
	switch {
	case containsAny(t, "out of stock", "sold out", "unavailable", "not available", "no stock"):
		return AvailabilityOutOfStock
	case containsAny(t, "limited", "low stock", "only "):
		return AvailabilityLimitedStock
	case containsAny(t, "special order", "backorder", "ships in", "order in"):
		return AvailabilitySpecialOrder
	case containsAny(t, "in stock", "available", "on hand", "on the shelf"):
		return AvailabilityInStock
	}
	return AvailabilityUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Quality describes the part quality tier.
type Quality string

const (
	QualityOEM            Quality = "oem"
	QualityOEMEquivalent  Quality = "oem_equivalent"
	QualityPremium        Quality = "premium"
	QualityStandard       Quality = "standard"
	QualityEconomy        Quality = "economy"
	QualityRemanufactured Quality = "remanufactured"
	QualityUsed           Quality = "used"
	QualityUnknown        Quality = "unknown"
)

// ParseQuality maps free text such as "OEM equivalent" to a tier. Unrecognised
// text maps to QualityUnknown.
func ParseQuality(s string) Quality {
	n := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch Quality(n) {
	case QualityOEM, QualityOEMEquivalent, QualityPremium, QualityStandard,
		QualityEconomy, QualityRemanufactured, QualityUsed:
		return Quality(n)
	}
	return QualityUnknown
}

// Quote is a price/availability/quality record for one item from one source.
type Quote struct {
	SourceKind   SourceKind          `json:"source_kind"`
	VendorID     string              `json:"vendor_id,omitempty"`
	Price        decimal.NullDecimal `json:"price"`
	LaborHours   decimal.NullDecimal `json:"labor_hours"`
	Availability Availability        `json:"availability"`
	DeliveryDays *int                `json:"delivery_days,omitempty"`
	Quality      Quality             `json:"quality"`
	Confidence   float64             `json:"confidence"`
	CapturedAt   time.Time           `json:"captured_at"`
	RawEvidence  string              `json:"raw_evidence,omitempty"`
}

// Validate enforces the per-source confidence rule: structured sources carry
// exactly 1.0, heuristic sources at most MaxHeuristicConfidence.
func (q Quote) Validate() error {
	if q.Confidence < 0 || q.Confidence > 1 {
		return eris.Errorf("quote: confidence %.2f out of range [0,1]", q.Confidence)
	}
	switch q.SourceKind {
	case SourceRemoteProcedure, SourceStaticDatabase:
		if q.Confidence != 1.0 {
			return eris.Errorf("quote: %s source requires confidence 1.0, got %.2f", q.SourceKind, q.Confidence)
		}
	case SourceScraped, SourceVoiceCall:
		if q.Confidence > MaxHeuristicConfidence {
			return eris.Errorf("quote: %s source confidence must be <= %.1f, got %.2f", q.SourceKind, MaxHeuristicConfidence, q.Confidence)
		}
	default:
		return eris.Errorf("quote: unknown source kind %q", q.SourceKind)
	}
	return nil
}

// HasPrice reports whether a price is present.
func (q Quote) HasPrice() bool {
	return q.Price.Valid
}

// PriceFloat returns the price as float64 and whether it was present.
func (q Quote) PriceFloat() (float64, bool) {
	if !q.Price.Valid {
		return 0, false
	}
	return q.Price.Decimal.InexactFloat64(), true
}

// NewPrice is shorthand for a present decimal value.
func NewPrice(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Days returns a pointer to n, for DeliveryDays literals.
func Days(n int) *int {
	return &n
}
