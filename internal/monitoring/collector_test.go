package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quote-sourcing/internal/model"
	"github.com/sells-group/quote-sourcing/internal/store"
)

// mockStore implements store.CallStore for testing.
type mockStore struct {
	sessions []model.CallSession
	listErr  error
	filters  []store.CallFilter
}

func (m *mockStore) ListCalls(_ context.Context, filter store.CallFilter) ([]model.CallSession, error) {
	m.filters = append(m.filters, filter)
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.CallSession
	for _, s := range m.sessions {
		if !filter.StartedAfter.IsZero() && s.StartedAt.Before(filter.StartedAfter) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *mockStore) SaveCall(context.Context, model.CallSession) error { return nil }
func (m *mockStore) GetCall(context.Context, string) (*model.CallSession, error) {
	return nil, nil
}
func (m *mockStore) Migrate(context.Context) error { return nil }
func (m *mockStore) Close() error                  { return nil }

type mockCache struct {
	stats model.CacheStats
	err   error
}

func (m *mockCache) Stats(context.Context) (model.CacheStats, error) { return m.stats, m.err }

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func call(state model.CallState, ago time.Duration) model.CallSession {
	return model.CallSession{CallID: string(state), VendorID: "napa", State: state, StartedAt: now.Add(-ago)}
}

func priced(ago time.Duration) model.CallSession {
	s := call(model.CallCompleted, ago)
	q := model.Quote{Price: model.NewPrice(decimal.NewFromInt(40))}
	s.ResultQuote = &q
	return s
}

func TestCollector_Collect(t *testing.T) {
	timedOut := call(model.CallFailed, time.Hour)
	timedOut.FailureReason = model.CallFailureTimeout
	unpriced := call(model.CallCompleted, 2*time.Hour)
	unpriced.ResultQuote = &model.Quote{}

	st := &mockStore{sessions: []model.CallSession{
		priced(time.Hour),
		unpriced,
		timedOut,
		call(model.CallFailed, 3*time.Hour),
		call(model.CallCancelled, time.Hour),
		call(model.CallFailed, 48*time.Hour), // outside the window
	}}
	c := NewCollector(st, &mockCache{stats: model.CacheStats{TotalEntries: 4, TotalHits: 9}})
	c.nowFunc = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.CallsTotal)
	assert.Equal(t, 2, snap.CallsCompleted)
	assert.Equal(t, 2, snap.CallsFailed)
	assert.Equal(t, 1, snap.CallsCancelled)
	assert.Equal(t, 1, snap.CallsTimedOut)
	assert.Equal(t, 1, snap.CallsNoPrice)
	assert.Equal(t, 4, snap.Finished())
	assert.InDelta(t, 0.5, snap.CallFailRate, 1e-9)
	assert.InDelta(t, 0.5, snap.NoPriceRate, 1e-9)
	assert.Equal(t, 4, snap.CacheEntries)
	assert.Equal(t, 9, snap.CacheHits)
	assert.Equal(t, now, snap.CollectedAt)

	require.Len(t, st.filters, 1)
	assert.Equal(t, now.Add(-24*time.Hour), st.filters[0].StartedAfter)
}

func TestCollector_Empty(t *testing.T) {
	c := NewCollector(&mockStore{}, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.CallsTotal)
	assert.Zero(t, snap.CallFailRate)
	assert.Zero(t, snap.NoPriceRate)
}

func TestCollector_Errors(t *testing.T) {
	_, err := NewCollector(&mockStore{listErr: errors.New("db down")}, nil).Collect(context.Background(), 24)
	assert.ErrorContains(t, err, "list calls")

	_, err = NewCollector(&mockStore{}, &mockCache{err: errors.New("redis down")}).Collect(context.Background(), 24)
	assert.ErrorContains(t, err, "cache stats")
}
