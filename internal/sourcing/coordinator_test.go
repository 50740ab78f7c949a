package sourcing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quote-sourcing/internal/adapter"
	"github.com/sells-group/quote-sourcing/internal/cache"
	"github.com/sells-group/quote-sourcing/internal/config"
	"github.com/sells-group/quote-sourcing/internal/model"
	"github.com/sells-group/quote-sourcing/internal/selection"
)

type fakeAdapter struct {
	name  string
	quote model.Quote
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Attempt(ctx context.Context, _ model.VehicleDescriptor, _ model.ItemRequest) (model.Quote, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.Quote{}, adapter.Fail(f.name, adapter.KindTimeout, "step timed out", ctx.Err())
		}
	}
	if f.err != nil {
		return model.Quote{}, f.err
	}
	return f.quote, nil
}

type fakeCaller struct {
	mu      sync.Mutex
	started [][]string
	result  model.BatchResult
	err     error
}

func (f *fakeCaller) StartBatch(_ context.Context, ids []string, _ model.ItemRequest, _ model.VehicleDescriptor) (string, []model.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", nil, f.err
	}
	f.started = append(f.started, ids)
	return "batch-1", nil, nil
}

func (f *fakeCaller) WaitBatch(_ context.Context, batchID string) (model.BatchResult, error) {
	res := f.result
	res.BatchID = batchID
	return res, nil
}

type callableList []model.Vendor

func (l callableList) Callable() []model.Vendor { return l }

var (
	civic = model.VehicleDescriptor{Year: 2018, Make: "Honda", Model: "Civic"}
	req   = Request{
		Vehicle: civic,
		Item:    model.ItemRequest{Kind: model.ItemKindPart, Description: "front brake pads"},
		Context: model.SelectionContext{Urgency: model.UrgencyNormal},
	}
)

func priced(kind model.SourceKind, vendor, price string, conf float64) model.Quote {
	return model.Quote{
		SourceKind:   kind,
		VendorID:     vendor,
		Price:        model.NewPrice(decimal.RequireFromString(price)),
		Availability: model.AvailabilityInStock,
		Quality:      model.QualityStandard,
		Confidence:   conf,
	}
}

func newCoordinator(t *testing.T, mode Mode, adapters []adapter.Adapter, opts ...Option) (*Coordinator, *cache.Memory) {
	t.Helper()
	reg := adapter.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	engine, err := selection.New(selection.DefaultConfig(), nil)
	require.NoError(t, err)
	qc := cache.NewMemory(time.Hour, 4)
	cfg := config.SourcingConfig{Mode: string(mode), AdapterTimeoutSecs: 5, Escalate: true}
	return New(reg, qc, engine, cfg, opts...), qc
}

func TestLookup_ExhaustionEscalates(t *testing.T) {
	adapters := []adapter.Adapter{
		&fakeAdapter{name: "catalog", err: adapter.Fail("catalog", adapter.KindNotFound, "no match", nil)},
		&fakeAdapter{name: "partner", err: adapter.Fail("partner", adapter.KindNotFound, "part not found", nil)},
		&fakeAdapter{name: "scraped:napa", err: adapter.Fail("scraped:napa", adapter.KindTimeout, "search step", nil)},
	}
	caller := &fakeCaller{}
	vendors := callableList{{ID: "napa", Callable: true, PhoneNumber: "+1"}, {ID: "autozone", Callable: true, PhoneNumber: "+2"}}
	c, qc := newCoordinator(t, ModeThorough, adapters, WithEscalation(caller, vendors))

	_, err := c.Lookup(context.Background(), req)
	require.Error(t, err)
	sf, ok := AsSourcingFailure(err)
	require.True(t, ok)
	assert.Equal(t, AllSourcesExhausted, sf.Kind)
	assert.Len(t, sf.Failures, 3)
	assert.True(t, sf.PendingCallback)
	assert.Equal(t, "batch-1", sf.BatchID)
	assert.Contains(t, err.Error(), "pending vendor callback")

	require.Len(t, caller.started, 1)
	assert.Equal(t, []string{"napa", "autozone"}, caller.started[0])
	assert.Equal(t, []string{"batch-1"}, c.PendingEscalations())

	stats, err := qc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries)
}

func TestLookup_ExhaustionWithoutEscalation(t *testing.T) {
	adapters := []adapter.Adapter{
		&fakeAdapter{name: "catalog", err: errors.New("boom")},
	}
	c, _ := newCoordinator(t, ModeThorough, adapters)

	_, err := c.Lookup(context.Background(), req)
	sf, ok := AsSourcingFailure(err)
	require.True(t, ok)
	assert.False(t, sf.PendingCallback)
	require.Len(t, sf.Failures, 1)
	assert.Equal(t, adapter.KindTransportError, sf.Failures[0].Kind)
	assert.Equal(t, "catalog", sf.Failures[0].Adapter)
}

func TestLookup_NoAdapters(t *testing.T) {
	c, _ := newCoordinator(t, ModeThorough, nil)
	_, err := c.Lookup(context.Background(), req)
	sf, ok := AsSourcingFailure(err)
	require.True(t, ok)
	assert.Empty(t, sf.Failures)
}

func TestLookup_CacheHit(t *testing.T) {
	a := &fakeAdapter{name: "partner", quote: priced(model.SourceRemoteProcedure, "partner", "99.00", 1)}
	c, qc := newCoordinator(t, ModeThorough, []adapter.Adapter{a})
	ctx := context.Background()

	key := cache.LookupKey(req.Vehicle, req.Item)
	require.NoError(t, qc.Put(ctx, key, priced(model.SourceScraped, "napa", "54.35", 0.85)))

	res, err := c.Lookup(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "54.35", res.Recommendation.Best.Quote.Price.Decimal.String())
	assert.Zero(t, a.calls.Load())
}

func TestLookup_ThoroughSelectsAndCaches(t *testing.T) {
	cheap := &fakeAdapter{name: "scraped:napa", quote: priced(model.SourceScraped, "napa", "40.00", 0.85), delay: 20 * time.Millisecond}
	pricey := &fakeAdapter{name: "partner", quote: priced(model.SourceRemoteProcedure, "partner", "80.00", 1)}
	missing := &fakeAdapter{name: "catalog", err: adapter.Fail("catalog", adapter.KindNotFound, "", nil)}
	c, qc := newCoordinator(t, ModeThorough, []adapter.Adapter{cheap, pricey, missing})
	ctx := context.Background()

	res, err := c.Lookup(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, "napa", res.Recommendation.Best.Quote.VendorID)
	require.Len(t, res.Recommendation.Alternatives, 1)
	assert.Equal(t, "partner", res.Recommendation.Alternatives[0].Quote.VendorID)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, adapter.KindNotFound, res.Failures[0].Kind)
	assert.False(t, res.Recommendation.Best.Quote.CapturedAt.IsZero())

	entry, ok, err := qc.Get(ctx, cache.LookupKey(req.Vehicle, req.Item))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "napa", entry.Quote.VendorID)

	again, err := c.Lookup(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, int32(1), cheap.calls.Load())
}

func TestLookup_FastReturnsFirstSuccess(t *testing.T) {
	slow := &fakeAdapter{name: "scraped:napa", quote: priced(model.SourceScraped, "napa", "10.00", 0.85), delay: 2 * time.Second}
	quick := &fakeAdapter{name: "partner", quote: priced(model.SourceRemoteProcedure, "partner", "80.00", 1)}
	c, _ := newCoordinator(t, ModeFast, []adapter.Adapter{slow, quick})

	start := time.Now()
	res, err := c.Lookup(context.Background(), req)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "partner", res.Recommendation.Best.Quote.VendorID)
	assert.Empty(t, res.Recommendation.Alternatives)
}

func TestLookup_AdapterTimeout(t *testing.T) {
	slow := &fakeAdapter{name: "scraped:napa", quote: priced(model.SourceScraped, "napa", "10.00", 0.85), delay: time.Minute}
	ok := &fakeAdapter{name: "catalog", quote: model.Quote{
		SourceKind:   model.SourceStaticDatabase,
		LaborHours:   model.NewPrice(decimal.RequireFromString("1.5")),
		Availability: model.AvailabilityInStock,
		Quality:      model.QualityStandard,
		Confidence:   1,
	}}
	c, _ := newCoordinator(t, ModeThorough, []adapter.Adapter{slow, ok}, WithAdapterTimeout(30*time.Millisecond))

	res, err := c.Lookup(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, adapter.KindTimeout, res.Failures[0].Kind)
	assert.Equal(t, model.SourceStaticDatabase, res.Recommendation.Best.Quote.SourceKind)
}

func TestLookup_InvalidQuoteIsAFailure(t *testing.T) {
	bad := &fakeAdapter{name: "scraped:napa", quote: priced(model.SourceScraped, "napa", "10.00", 1.0)}
	c, _ := newCoordinator(t, ModeThorough, []adapter.Adapter{bad})

	_, err := c.Lookup(context.Background(), req)
	sf, ok := AsSourcingFailure(err)
	require.True(t, ok)
	require.Len(t, sf.Failures, 1)
	assert.Equal(t, "invalid quote", sf.Failures[0].Message)
}

func TestLookup_InvalidRequest(t *testing.T) {
	c, _ := newCoordinator(t, ModeThorough, nil)
	_, err := c.Lookup(context.Background(), Request{Vehicle: civic})
	require.Error(t, err)
	_, ok := AsSourcingFailure(err)
	assert.False(t, ok)
}

func TestResolveEscalation(t *testing.T) {
	napaQuote := priced(model.SourceVoiceCall, "napa", "54.35", 0.8)
	caller := &fakeCaller{result: model.BatchResult{
		SuccessfulCalls: []model.CallSession{{CallID: "c1", VendorID: "napa", State: model.CallCompleted, ResultQuote: &napaQuote}},
		FailedCalls:     []model.CallSession{{CallID: "c2", VendorID: "autozone", State: model.CallFailed, FailureReason: model.CallFailureTimeout}},
	}}
	vendors := callableList{{ID: "napa", Callable: true, PhoneNumber: "+1"}}
	miss := &fakeAdapter{name: "catalog", err: adapter.Fail("catalog", adapter.KindNotFound, "", nil)}
	c, qc := newCoordinator(t, ModeThorough, []adapter.Adapter{miss}, WithEscalation(caller, vendors))
	ctx := context.Background()

	_, err := c.Lookup(ctx, req)
	sf, ok := AsSourcingFailure(err)
	require.True(t, ok)
	require.True(t, sf.PendingCallback)

	res, err := c.ResolveEscalation(ctx, sf.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "napa", res.Recommendation.Best.Quote.VendorID)
	assert.Empty(t, c.PendingEscalations())

	entry, hit, err := qc.Get(ctx, cache.LookupKey(req.Vehicle, req.Item))
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, model.SourceVoiceCall, entry.Quote.SourceKind)

	_, err = c.ResolveEscalation(ctx, sf.BatchID)
	assert.ErrorIs(t, err, ErrUnknownEscalation)
}

func TestResolveEscalation_NoAnswers(t *testing.T) {
	caller := &fakeCaller{result: model.BatchResult{
		FailedCalls: []model.CallSession{
			{CallID: "c1", VendorID: "napa", State: model.CallFailed, FailureReason: model.CallFailureTimeout},
			{CallID: "c2", VendorID: "autozone", State: model.CallCancelled},
		},
	}}
	vendors := callableList{{ID: "napa", Callable: true, PhoneNumber: "+1"}}
	c, _ := newCoordinator(t, ModeThorough, nil, WithEscalation(caller, vendors))

	_, err := c.Lookup(context.Background(), req)
	sf, _ := AsSourcingFailure(err)
	require.NotNil(t, sf)

	_, err = c.ResolveEscalation(context.Background(), sf.BatchID)
	final, ok := AsSourcingFailure(err)
	require.True(t, ok)
	assert.False(t, final.PendingCallback)
	require.Len(t, final.Failures, 2)
	assert.Equal(t, "call:napa", final.Failures[0].Adapter)
	assert.Equal(t, adapter.KindTimeout, final.Failures[0].Kind)
	assert.Equal(t, "cancelled", final.Failures[1].Message)
}

func TestLookup_EscalationStartError(t *testing.T) {
	caller := &fakeCaller{err: errors.New("voice down")}
	vendors := callableList{{ID: "napa", Callable: true, PhoneNumber: "+1"}}
	c, _ := newCoordinator(t, ModeThorough, nil, WithEscalation(caller, vendors))

	_, err := c.Lookup(context.Background(), req)
	sf, ok := AsSourcingFailure(err)
	require.True(t, ok)
	assert.False(t, sf.PendingCallback)
}
