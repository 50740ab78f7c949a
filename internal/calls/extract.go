package calls

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/quote-sourcing/internal/model"
)

// Extractor turns a call transcript into a quote. Extraction never fails;
// a transcript with nothing recognisable yields a low-confidence quote.
type Extractor struct {
	PriceConfidence   float64
	NoPriceConfidence float64
}

var (
	priceRe = regexp.MustCompile(`\$\s*(\d{1,3}(?:,\d{3})+|\d+)(\.\d{1,2})?`)
	daysRe  = regexp.MustCompile(`\b(\d+|a|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|fourteen)\s+(?:business\s+|working\s+)?(days?|weeks?)\b`)

	numberWords = map[string]int{
		"a": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
		"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "fourteen": 14,
	}

	qualityRules = []struct {
		re      *regexp.Regexp
		quality model.Quality
	}{
		{regexp.MustCompile(`\boem[ -]equivalent\b|\boe[ -]equivalent\b|\boe quality\b`), model.QualityOEMEquivalent},
		{regexp.MustCompile(`\b(oem|genuine|factory|dealer part)\b`), model.QualityOEM},
		{regexp.MustCompile(`\bpremium\b`), model.QualityPremium},
		{regexp.MustCompile(`\b(remanufactured|reman|rebuilt)\b`), model.QualityRemanufactured},
		{regexp.MustCompile(`\b(used|salvage|junkyard)\b`), model.QualityUsed},
		{regexp.MustCompile(`\b(economy|value line|budget)\b`), model.QualityEconomy},
		{regexp.MustCompile(`\b(aftermarket|standard)\b`), model.QualityStandard},
	}
)

// Extract builds a voice-call quote from transcript.
func (e Extractor) Extract(transcript, vendorID string, now time.Time) model.Quote {
	t := strings.ToLower(transcript)
	q := model.Quote{
		SourceKind:  model.SourceVoiceCall,
		VendorID:    vendorID,
		Quality:     extractQuality(t),
		Confidence:  e.noPriceConfidence(),
		CapturedAt:  now,
		RawEvidence: transcript,
	}
	if p, ok := extractPrice(t); ok {
		q.Price = model.NewPrice(p)
		q.Confidence = e.priceConfidence()
	}
	q.Availability, q.DeliveryDays = extractAvailability(t)
	return q
}

func (e Extractor) priceConfidence() float64 {
	if e.PriceConfidence <= 0 {
		return 0.8
	}
	return e.PriceConfidence
}

func (e Extractor) noPriceConfidence() float64 {
	if e.NoPriceConfidence <= 0 {
		return 0.3
	}
	return e.NoPriceConfidence
}

func extractPrice(t string) (decimal.Decimal, bool) {
	m := priceRe.FindStringSubmatch(t)
	if m == nil {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "") + m[2])
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// extractAvailability checks negative phrases before positive ones so
// "not available" is never read as available.
func extractAvailability(t string) (model.Availability, *int) {
	days := extractDays(t)
	negative := containsAny(t, "out of stock", "not in stock", "don't have", "do not have",
		"don't carry", "not available", "unavailable", "sold out", "no stock")

	switch {
	case negative && days != nil:
		return model.AvailabilitySpecialOrder, days
	case negative:
		return model.AvailabilityOutOfStock, nil
	case containsAny(t, "last one", "only one left", "only have one", "only two left", "limited"):
		return model.AvailabilityLimitedStock, days
	case containsAny(t, "in stock", "available", "on the shelf", "on hand"):
		return model.AvailabilityInStock, days
	case days != nil && *days == 0:
		return model.AvailabilityInStock, days
	case days != nil:
		return model.AvailabilitySpecialOrder, days
	}
	return model.AvailabilityUnknown, nil
}

func extractDays(t string) *int {
	if m := daysRe.FindStringSubmatch(t); m != nil {
		n, ok := numberWords[m[1]]
		if !ok {
			v, err := strconv.Atoi(m[1])
			if err != nil {
				return nil
			}
			n = v
		}
		if strings.HasPrefix(m[2], "week") {
			n *= 7
		}
		return model.Days(n)
	}
	switch {
	case containsAny(t, "same day", "today", "right now"):
		return model.Days(0)
	case containsAny(t, "tomorrow", "next day", "overnight"):
		return model.Days(1)
	}
	return nil
}

func extractQuality(t string) model.Quality {
	for _, r := range qualityRules {
		if r.re.MatchString(t) {
			return r.quality
		}
	}
	return model.QualityUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
