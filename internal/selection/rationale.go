package selection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/quote-sourcing/internal/model"
)

type factor struct {
	name  string
	score float64
}

func factors(b model.ScoreBreakdown) []factor {
	fs := []factor{
		{"price", b.Price},
		{"availability", b.Availability},
		{"delivery", b.Delivery},
		{"quality", b.Quality},
		{"vendor relationship", b.Relationship},
	}
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].score > fs[j].score })
	return fs
}

// rationale cites the strongest factor, and the runner-up factor when it
// also scored at least neutral.
func (e *Engine) rationale(best model.ScoredQuote) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recommended %s", describeSource(best.Quote))
	if p, ok := best.Quote.PriceFloat(); ok {
		fmt.Fprintf(&sb, " at $%.2f", p)
	}
	fmt.Fprintf(&sb, " (score %.2f). ", best.OverallScore)

	fs := factors(best.Breakdown)
	if fs[1].score >= e.cfg.NeutralScore {
		fmt.Fprintf(&sb, "Strongest factors: %s (%.0f) and %s (%.0f).",
			fs[0].name, fs[0].score, fs[1].name, fs[1].score)
	} else {
		fmt.Fprintf(&sb, "Strongest factor: %s (%.0f).", fs[0].name, fs[0].score)
	}
	return sb.String()
}

func describeSource(q model.Quote) string {
	switch {
	case q.VendorID != "":
		return fmt.Sprintf("vendor %s via %s", q.VendorID, sourceLabel(q.SourceKind))
	default:
		return sourceLabel(q.SourceKind)
	}
}

func sourceLabel(k model.SourceKind) string {
	switch k {
	case model.SourceScraped:
		return "storefront"
	case model.SourceRemoteProcedure:
		return "partner API"
	case model.SourceStaticDatabase:
		return "shop catalog"
	case model.SourceVoiceCall:
		return "phone call"
	}
	return string(k)
}

// alternativeReason says why a runner-up is still worth a look.
func alternativeReason(best, alt model.ScoredQuote) string {
	if ap, ok := alt.Quote.PriceFloat(); ok {
		if bp, ok := best.Quote.PriceFloat(); ok && ap < bp {
			return fmt.Sprintf("cheaper: $%.2f vs $%.2f", ap, bp)
		}
	}
	if alt.Breakdown.Availability > best.Breakdown.Availability {
		return "better availability: " + strings.ReplaceAll(string(alt.Quote.Availability), "_", " ")
	}
	if alt.Breakdown.Delivery > best.Breakdown.Delivery && alt.Quote.DeliveryDays != nil {
		return fmt.Sprintf("faster delivery: %s", dayLabel(*alt.Quote.DeliveryDays))
	}
	if alt.Breakdown.Quality > best.Breakdown.Quality {
		return "higher quality: " + strings.ReplaceAll(string(alt.Quote.Quality), "_", " ")
	}
	return "comparable overall score"
}

func dayLabel(days int) string {
	switch days {
	case 0:
		return "same day"
	case 1:
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}
