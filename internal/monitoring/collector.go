// Package monitoring watches vendor-call health and the quote cache, and
// posts alerts to a webhook when call outcomes degrade.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quote-sourcing/internal/model"
	"github.com/sells-group/quote-sourcing/internal/store"
)

// MetricsSnapshot holds a point-in-time view of call and cache health.
type MetricsSnapshot struct {
	// Call metrics (within lookback window).
	CallsTotal     int     `json:"calls_total"`
	CallsCompleted int     `json:"calls_completed"`
	CallsFailed    int     `json:"calls_failed"`
	CallsCancelled int     `json:"calls_cancelled"`
	CallsTimedOut  int     `json:"calls_timed_out"`
	CallsNoPrice   int     `json:"calls_no_price"`
	CallFailRate   float64 `json:"call_fail_rate"`
	NoPriceRate    float64 `json:"no_price_rate"`

	// Cache metrics.
	CacheEntries int `json:"cache_entries"`
	CacheHits    int `json:"cache_hits"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished is the number of calls that completed or failed. Cancelled calls
// say nothing about vendor reachability and are left out.
func (s *MetricsSnapshot) Finished() int {
	return s.CallsCompleted + s.CallsFailed
}

// CacheStatter reports cache contents. cache.Cache satisfies it.
type CacheStatter interface {
	Stats(ctx context.Context) (model.CacheStats, error)
}

// Collector gathers metrics from the call archive and the quote cache.
type Collector struct {
	calls   store.CallStore
	cache   CacheStatter
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector. qc may be nil.
func NewCollector(calls store.CallStore, qc CacheStatter) *Collector {
	return &Collector{calls: calls, cache: qc, nowFunc: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	sessions, err := c.calls.ListCalls(ctx, store.CallFilter{
		StartedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list calls")
	}

	snap.CallsTotal = len(sessions)
	for _, s := range sessions {
		switch s.State {
		case model.CallCompleted:
			snap.CallsCompleted++
			if s.ResultQuote == nil || !s.ResultQuote.HasPrice() {
				snap.CallsNoPrice++
			}
		case model.CallFailed:
			snap.CallsFailed++
			if s.FailureReason == model.CallFailureTimeout {
				snap.CallsTimedOut++
			}
		case model.CallCancelled:
			snap.CallsCancelled++
		}
	}
	if finished := snap.Finished(); finished > 0 {
		snap.CallFailRate = float64(snap.CallsFailed) / float64(finished)
	}
	if snap.CallsCompleted > 0 {
		snap.NoPriceRate = float64(snap.CallsNoPrice) / float64(snap.CallsCompleted)
	}

	if c.cache != nil {
		stats, err := c.cache.Stats(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: cache stats")
		}
		snap.CacheEntries = stats.TotalEntries
		snap.CacheHits = stats.TotalHits
	}

	return snap, nil
}
