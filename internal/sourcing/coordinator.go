// Package sourcing coordinates a quote lookup: cache first, then a concurrent
// fan-out over the enabled adapters, then selection, with vendor phone calls
// as the last resort.
package sourcing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/quote-sourcing/internal/adapter"
	"github.com/sells-group/quote-sourcing/internal/cache"
	"github.com/sells-group/quote-sourcing/internal/config"
	"github.com/sells-group/quote-sourcing/internal/model"
	"github.com/sells-group/quote-sourcing/internal/selection"
)

// Mode decides when the fan-out stops waiting.
type Mode string

const (
	// ModeThorough waits for every adapter to finish or time out.
	ModeThorough Mode = "thorough"
	// ModeFast returns on the first successful adapter.
	ModeFast Mode = "fast"
)

// ErrUnknownEscalation is returned by ResolveEscalation for a batch it did
// not start.
var ErrUnknownEscalation = eris.New("sourcing: unknown escalation batch")

// Caller places vendor calls. calls.Orchestrator satisfies it.
type Caller interface {
	StartBatch(ctx context.Context, vendorIDs []string, req model.ItemRequest, vehicle model.VehicleDescriptor) (string, []model.CallSession, error)
	WaitBatch(ctx context.Context, batchID string) (model.BatchResult, error)
}

// CallableVendors lists vendors that accept calls, best first.
type CallableVendors interface {
	Callable() []model.Vendor
}

// Request is an inbound lookup.
type Request struct {
	Vehicle model.VehicleDescriptor `json:"vehicle"`
	Item    model.ItemRequest       `json:"item"`
	Context model.SelectionContext  `json:"context"`
}

// Result is a successful lookup.
type Result struct {
	Recommendation model.Recommendation `json:"recommendation"`
	FromCache      bool                 `json:"from_cache"`
	CacheAgeSecs   float64              `json:"cache_age_secs,omitempty"`
	Failures       []*adapter.Failure   `json:"failures,omitempty"`
}

type escalation struct {
	key string
	req Request
}

// Coordinator ties the cache, adapters, selection engine and call
// orchestrator together.
type Coordinator struct {
	registry       *adapter.Registry
	cache          cache.Cache
	engine         *selection.Engine
	caller         Caller
	vendors        CallableVendors
	mode           Mode
	adapterTimeout time.Duration
	escalate       bool
	nowFunc        func() time.Time

	mu          sync.Mutex
	escalations map[string]escalation
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithEscalation enables vendor calls when every adapter fails.
func WithEscalation(caller Caller, vendors CallableVendors) Option {
	return func(c *Coordinator) {
		c.caller = caller
		c.vendors = vendors
	}
}

// WithAdapterTimeout overrides the per-adapter timeout from config.
func WithAdapterTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.adapterTimeout = d
		}
	}
}

// WithClock sets the time source used for cache ages.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.nowFunc = now }
}

// New creates a coordinator.
func New(registry *adapter.Registry, qc cache.Cache, engine *selection.Engine, cfg config.SourcingConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:       registry,
		cache:          qc,
		engine:         engine,
		mode:           Mode(cfg.Mode),
		adapterTimeout: time.Duration(cfg.AdapterTimeoutSecs) * time.Second,
		escalate:       cfg.Escalate,
		nowFunc:        time.Now,
		escalations:    make(map[string]escalation),
	}
	if c.mode != ModeFast {
		c.mode = ModeThorough
	}
	if c.adapterTimeout <= 0 {
		c.adapterTimeout = 90 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns a recommendation for req, or a *SourcingFailure when the
// cache and every adapter came up empty.
func (c *Coordinator) Lookup(ctx context.Context, req Request) (Result, error) {
	if !req.Item.Valid() {
		return Result{}, eris.New("sourcing: item needs a kind and a description or part number")
	}
	key := cache.LookupKey(req.Vehicle, req.Item)
	log := zap.L().With(zap.String("key", cache.ShortKey(key)), zap.String("vehicle", req.Vehicle.String()))

	entry, hit, err := c.cache.Get(ctx, key)
	if err != nil {
		log.Warn("sourcing: cache get failed", zap.Error(err))
	}
	if hit {
		rec, err := c.selectBest([]model.Quote{entry.Quote}, req.Context)
		if err != nil {
			return Result{}, err
		}
		log.Debug("sourcing: cache hit", zap.Int("hits", entry.HitCount))
		return Result{
			Recommendation: rec,
			FromCache:      true,
			CacheAgeSecs:   entry.Age(c.nowFunc()).Seconds(),
		}, nil
	}

	quotes, failures := c.fanOut(ctx, req.Vehicle, req.Item)
	if len(quotes) > 0 {
		rec, err := c.selectBest(quotes, req.Context)
		if err != nil {
			return Result{}, err
		}
		if err := c.cache.Put(ctx, key, rec.Best.Quote); err != nil {
			log.Warn("sourcing: cache put failed", zap.Error(err))
		}
		log.Info("sourcing: lookup resolved",
			zap.Int("candidates", len(quotes)),
			zap.Int("failures", len(failures)),
			zap.Float64("score", rec.Best.OverallScore),
		)
		return Result{Recommendation: rec, Failures: failures}, nil
	}

	sf := &SourcingFailure{Kind: AllSourcesExhausted, Failures: failures}
	if batchID, ok := c.startEscalation(ctx, key, req); ok {
		sf.PendingCallback = true
		sf.BatchID = batchID
	}
	log.Warn("sourcing: all sources exhausted",
		zap.Int("failures", len(failures)),
		zap.Bool("pending_callback", sf.PendingCallback),
	)
	return Result{}, sf
}

// ResolveEscalation waits for an escalation batch, scores the quotes from
// completed calls and caches the winner.
func (c *Coordinator) ResolveEscalation(ctx context.Context, batchID string) (Result, error) {
	c.mu.Lock()
	esc, ok := c.escalations[batchID]
	c.mu.Unlock()
	if !ok || c.caller == nil {
		return Result{}, eris.Wrapf(ErrUnknownEscalation, "sourcing: batch %s", batchID)
	}

	res, err := c.caller.WaitBatch(ctx, batchID)
	if err != nil {
		return Result{}, eris.Wrapf(err, "sourcing: wait for batch %s", batchID)
	}
	c.mu.Lock()
	delete(c.escalations, batchID)
	c.mu.Unlock()

	quotes := res.Quotes()
	if len(quotes) == 0 {
		sf := &SourcingFailure{Kind: AllSourcesExhausted, BatchID: batchID}
		for _, s := range res.FailedCalls {
			sf.Failures = append(sf.Failures, callFailure(s))
		}
		return Result{}, sf
	}

	rec, err := c.selectBest(quotes, esc.req.Context)
	if err != nil {
		return Result{}, err
	}
	if err := c.cache.Put(ctx, esc.key, rec.Best.Quote); err != nil {
		zap.L().Warn("sourcing: cache put failed", zap.String("batch_id", batchID), zap.Error(err))
	}
	return Result{Recommendation: rec}, nil
}

// PendingEscalations returns the batch IDs awaiting resolution.
func (c *Coordinator) PendingEscalations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.escalations))
	for id := range c.escalations {
		ids = append(ids, id)
	}
	return ids
}

func (c *Coordinator) selectBest(quotes []model.Quote, sc model.SelectionContext) (model.Recommendation, error) {
	rec, err := c.engine.Select(quotes, sc)
	if errors.Is(err, selection.ErrNoCandidates) {
		zap.L().Error("sourcing: selection called without candidates", zap.Error(err))
	}
	return rec, err
}

type outcome struct {
	index int
	name  string
	quote model.Quote
	err   error
}

// fanOut runs every enabled adapter concurrently, each under its own
// timeout. Attempts are detached from the caller's cancellation; in fast mode
// the stragglers finish in the background and their results are dropped.
func (c *Coordinator) fanOut(ctx context.Context, vehicle model.VehicleDescriptor, item model.ItemRequest) ([]model.Quote, []*adapter.Failure) {
	adapters := c.registry.Enabled()
	if len(adapters) == 0 {
		return nil, nil
	}

	results := make(chan outcome, len(adapters))
	base := context.WithoutCancel(ctx)
	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			actx, cancel := context.WithTimeout(base, c.adapterTimeout)
			defer cancel()
			q, err := a.Attempt(actx, vehicle, item)
			results <- outcome{index: i, name: a.Name(), quote: q, err: err}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	quotes := make([]*model.Quote, len(adapters))
	var failures []*adapter.Failure
	for o := range results {
		if o.err == nil {
			if o.quote.CapturedAt.IsZero() {
				o.quote.CapturedAt = c.nowFunc()
			}
			if err := o.quote.Validate(); err != nil {
				o.err = adapter.Fail(o.name, adapter.KindTransportError, "invalid quote", err)
			}
		}
		if o.err != nil {
			f := asFailure(o.name, o.err)
			zap.L().Debug("sourcing: adapter failed",
				zap.String("adapter", f.Adapter),
				zap.String("kind", string(f.Kind)),
				zap.String("message", f.Message),
			)
			failures = append(failures, f)
			continue
		}
		q := o.quote
		quotes[o.index] = &q
		if c.mode == ModeFast {
			break
		}
	}

	out := make([]model.Quote, 0, len(adapters))
	for _, q := range quotes {
		if q != nil {
			out = append(out, *q)
		}
	}
	return out, failures
}

func (c *Coordinator) startEscalation(ctx context.Context, key string, req Request) (string, bool) {
	if !c.escalate || c.caller == nil || c.vendors == nil {
		return "", false
	}
	vendors := c.vendors.Callable()
	if len(vendors) == 0 {
		return "", false
	}
	ids := make([]string, len(vendors))
	for i, v := range vendors {
		ids[i] = v.ID
	}

	batchID, _, err := c.caller.StartBatch(ctx, ids, req.Item, req.Vehicle)
	if err != nil {
		zap.L().Error("sourcing: escalation failed", zap.Error(err))
		return "", false
	}
	c.mu.Lock()
	c.escalations[batchID] = escalation{key: key, req: req}
	c.mu.Unlock()
	zap.L().Info("sourcing: escalated to vendor calls", zap.String("batch_id", batchID), zap.Int("vendors", len(ids)))
	return batchID, true
}

func asFailure(name string, err error) *adapter.Failure {
	var f *adapter.Failure
	if errors.As(err, &f) {
		return f
	}
	return adapter.Fail(name, adapter.KindOf(err), err.Error(), err)
}

func callFailure(s model.CallSession) *adapter.Failure {
	kind := adapter.KindTransportError
	if s.FailureReason == model.CallFailureTimeout {
		kind = adapter.KindTimeout
	}
	msg := s.FailureDetail
	if s.State == model.CallCancelled {
		msg = "cancelled"
	}
	return adapter.Fail("call:"+s.VendorID, kind, msg, nil)
}
