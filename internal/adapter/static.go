package adapter

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/quote-sourcing/internal/model"
)

// Static quotes from the shop-curated flat-rate catalog. Matches always carry
// confidence 1.0.
type Static struct {
	entries []CatalogEntry
	nowFunc func() time.Time
}

// NewStatic creates a catalog adapter. A nil catalog uses DefaultCatalog.
func NewStatic(entries []CatalogEntry) *Static {
	if entries == nil {
		entries = DefaultCatalog()
	}
	return &Static{entries: entries, nowFunc: time.Now}
}

// Name implements Adapter.
func (s *Static) Name() string { return "catalog" }

// Attempt implements Adapter.
func (s *Static) Attempt(ctx context.Context, _ model.VehicleDescriptor, item model.ItemRequest) (model.Quote, error) {
	if err := ctx.Err(); err != nil {
		return model.Quote{}, Fail(s.Name(), KindTimeout, "", err)
	}
	e, ok := s.Match(item.SearchTerm())
	if !ok {
		return model.Quote{}, Fail(s.Name(), KindNotFound, "no catalog operation matches "+item.SearchTerm(), nil)
	}

	q := model.Quote{
		SourceKind:   model.SourceStaticDatabase,
		LaborHours:   model.NewPrice(e.LaborHours),
		Availability: model.AvailabilityUnknown,
		Quality:      model.QualityUnknown,
		Confidence:   1.0,
		CapturedAt:   s.nowFunc().UTC(),
		RawEvidence:  e.Code + " " + e.Name,
	}
	if e.PartsPrice.IsPositive() {
		q.Price = model.NewPrice(e.PartsPrice)
	}
	return q, nil
}

// Match finds the best catalog entry for term: a name match beats a
// description match, which beats a category match. Within a rank, catalog
// order wins. Any field may contain term; term may contain only a whole
// operation name, so a category word alone never matches.
func (s *Static) Match(term string) (CatalogEntry, bool) {
	t := strings.ToLower(strings.TrimSpace(term))
	if t == "" {
		return CatalogEntry{}, false
	}
	best, bestRank := -1, 0
	for i, e := range s.entries {
		rank := 0
		switch {
		case fieldContains(e.Name, t) || mentionsName(t, e.Name):
			rank = 3
		case fieldContains(e.Description, t):
			rank = 2
		case fieldContains(e.Category, t):
			rank = 1
		}
		if rank > bestRank {
			best, bestRank = i, rank
		}
	}
	if best < 0 {
		return CatalogEntry{}, false
	}
	return s.entries[best], true
}

// fieldContains reports whether field contains term, case-insensitively.
// term must already be lowercased.
func fieldContains(field, term string) bool {
	f := strings.ToLower(field)
	return f != "" && strings.Contains(f, term)
}

// mentionsName reports whether term contains every word of name in order,
// as whole words: "need an oil change soon" mentions "Oil change".
func mentionsName(term, name string) bool {
	want := strings.Fields(strings.ToLower(name))
	if len(want) == 0 {
		return false
	}
	words := strings.Fields(term)
	for i := 0; i+len(want) <= len(words); i++ {
		match := true
		for j, w := range want {
			if words[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
