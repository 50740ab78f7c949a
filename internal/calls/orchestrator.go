// Package calls drives outbound vendor phone calls through the voice platform
// and turns delivered transcripts into quotes.
package calls

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/quote-sourcing/internal/config"
	"github.com/sells-group/quote-sourcing/internal/model"
	"github.com/sells-group/quote-sourcing/pkg/voice"
)

var (
	ErrCallNotFound           = eris.New("calls: call not found")
	ErrBatchNotFound          = eris.New("calls: batch not found")
	ErrInvalidStateTransition = eris.New("calls: invalid state transition")
	ErrVendorNotCallable      = eris.New("calls: vendor not callable")
)

// VendorDirectory resolves vendors to dial.
type VendorDirectory interface {
	Lookup(id string) (model.Vendor, bool)
}

// Archive persists terminal sessions. store.CallStore satisfies it.
type Archive interface {
	SaveCall(ctx context.Context, s model.CallSession) error
}

type tracked struct {
	session model.CallSession
	done    chan struct{}
	timer   *time.Timer
}

// Orchestrator owns the call session table. Sessions move
// Pending -> InProgress -> Completed|Cancelled|Failed and every transition
// goes through one mutex-guarded step.
type Orchestrator struct {
	voice     voice.Client
	vendors   VendorDirectory
	archive   Archive
	extractor Extractor
	shopName  string
	timeout   time.Duration
	maxConc   int
	nowFunc   func() time.Time

	mu       sync.Mutex
	sessions map[string]*tracked
	batches  map[string][]string
	history  []model.CallSession
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArchive writes terminal sessions to a persistent store.
func WithArchive(a Archive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithTimeout overrides the per-call timeout from config.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithClock sets the time source for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.nowFunc = now }
}

// New creates an orchestrator.
func New(vc voice.Client, vendors VendorDirectory, cfg config.CallsConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		voice:   vc,
		vendors: vendors,
		extractor: Extractor{
			PriceConfidence:   cfg.PriceConfidence,
			NoPriceConfidence: cfg.NoPriceConfidence,
		},
		shopName: cfg.ShopName,
		timeout:  time.Duration(cfg.TimeoutMins) * time.Minute,
		maxConc:  cfg.MaxConcurrent,
		nowFunc:  time.Now,
		sessions: make(map[string]*tracked),
		batches:  make(map[string][]string),
	}
	if o.timeout <= 0 {
		o.timeout = 10 * time.Minute
	}
	if o.maxConc <= 0 {
		o.maxConc = 5
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CallStore places one call and returns the session in Pending. When the
// platform rejects the call the session is already Failed and the placement
// error is returned alongside it.
func (o *Orchestrator) CallStore(ctx context.Context, vendorID string, req model.ItemRequest, vehicle model.VehicleDescriptor) (model.CallSession, error) {
	if !req.Valid() {
		return model.CallSession{}, eris.New("calls: item request needs a kind and a description or part number")
	}
	v, err := o.callable(vendorID)
	if err != nil {
		return model.CallSession{}, err
	}
	script, err := BuildScript(o.shopName, v, vehicle, req)
	if err != nil {
		return model.CallSession{}, err
	}

	snap := o.register("", v.ID, req, vehicle)
	if err := o.place(ctx, v, snap.CallID, script); err != nil {
		failed, _ := o.Get(snap.CallID)
		return failed, err
	}
	return snap, nil
}

// CallMultipleStores calls every vendor concurrently and waits until each
// call is terminal. One vendor failing never affects the others.
func (o *Orchestrator) CallMultipleStores(ctx context.Context, vendorIDs []string, req model.ItemRequest, vehicle model.VehicleDescriptor) (model.BatchResult, error) {
	batchID, _, err := o.StartBatch(ctx, vendorIDs, req, vehicle)
	if err != nil {
		return model.BatchResult{}, err
	}
	return o.WaitBatch(ctx, batchID)
}

// StartBatch places one call per vendor and returns without waiting for
// transcripts. Vendors that cannot be dialled get a Failed session so the
// batch result accounts for them.
func (o *Orchestrator) StartBatch(ctx context.Context, vendorIDs []string, req model.ItemRequest, vehicle model.VehicleDescriptor) (string, []model.CallSession, error) {
	if len(vendorIDs) == 0 {
		return "", nil, eris.New("calls: batch needs at least one vendor")
	}
	if !req.Valid() {
		return "", nil, eris.New("calls: item request needs a kind and a description or part number")
	}

	batchID := uuid.NewString()
	type pending struct {
		vendor model.Vendor
		callID string
		script Script
	}
	var toPlace []pending
	var callIDs []string

	for _, id := range vendorIDs {
		snap := o.register(batchID, id, req, vehicle)
		callIDs = append(callIDs, snap.CallID)

		v, err := o.callable(id)
		if err == nil {
			var script Script
			if script, err = BuildScript(o.shopName, v, vehicle, req); err == nil {
				toPlace = append(toPlace, pending{vendor: v, callID: snap.CallID, script: script})
				continue
			}
		}
		o.fail(snap.CallID, model.CallFailureConnectFailed, err.Error())
	}

	var g errgroup.Group
	g.SetLimit(o.maxConc)
	for _, p := range toPlace {
		g.Go(func() error {
			// Placement errors are recorded on the session.
			_ = o.place(ctx, p.vendor, p.callID, p.script)
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("calls: batch started",
		zap.String("batch_id", batchID),
		zap.Int("vendors", len(vendorIDs)),
		zap.Int("placed", len(toPlace)),
	)

	sessions := make([]model.CallSession, 0, len(callIDs))
	for _, id := range callIDs {
		if s, ok := o.Get(id); ok {
			sessions = append(sessions, s)
		}
	}
	return batchID, sessions, nil
}

// WaitBatch blocks until every call in the batch is terminal or ctx is done.
// On ctx expiry it returns the calls resolved so far with the context error.
func (o *Orchestrator) WaitBatch(ctx context.Context, batchID string) (model.BatchResult, error) {
	o.mu.Lock()
	ids, ok := o.batches[batchID]
	dones := make([]chan struct{}, 0, len(ids))
	for _, id := range ids {
		dones = append(dones, o.sessions[id].done)
	}
	o.mu.Unlock()
	if !ok {
		return model.BatchResult{}, eris.Wrapf(ErrBatchNotFound, "calls: batch %s", batchID)
	}

	var waitErr error
wait:
	for _, d := range dones {
		select {
		case <-d:
		case <-ctx.Done():
			waitErr = ctx.Err()
			break wait
		}
	}

	res := model.BatchResult{
		BatchID:         batchID,
		SuccessfulCalls: []model.CallSession{},
		FailedCalls:     []model.CallSession{},
	}
	o.mu.Lock()
	for _, id := range ids {
		s := o.sessions[id].session
		switch s.State {
		case model.CallCompleted:
			res.SuccessfulCalls = append(res.SuccessfulCalls, s)
		case model.CallFailed, model.CallCancelled:
			res.FailedCalls = append(res.FailedCalls, s)
		}
	}
	o.mu.Unlock()

	if waitErr != nil {
		return res, eris.Wrapf(waitErr, "calls: wait batch %s", batchID)
	}
	return res, nil
}

// OnCallStarted records that the platform connected the call.
func (o *Orchestrator) OnCallStarted(callID string) (model.CallSession, error) {
	return o.transition(callID, []model.CallState{model.CallPending}, func(s *model.CallSession) {
		s.State = model.CallInProgress
	})
}

// OnTranscriptReceived completes an in-progress call. Extraction always
// yields a quote, so a delivered transcript always completes the call.
func (o *Orchestrator) OnTranscriptReceived(callID, transcript string) (model.CallSession, error) {
	snap, err := o.transition(callID, []model.CallState{model.CallInProgress}, func(s *model.CallSession) {
		q := o.extractor.Extract(transcript, s.VendorID, o.nowFunc())
		s.State = model.CallCompleted
		s.Transcript = transcript
		s.ResultQuote = &q
	})
	if err != nil {
		return snap, err
	}
	zap.L().Info("calls: transcript received",
		zap.String("call_id", callID),
		zap.String("vendor_id", snap.VendorID),
		zap.Bool("has_price", snap.ResultQuote.HasPrice()),
		zap.Float64("confidence", snap.ResultQuote.Confidence),
	)
	return snap, nil
}

// OnCallFailed records a platform-reported failure. A timeout reason maps to
// CallFailureTimeout; anything else means the call could not connect.
func (o *Orchestrator) OnCallFailed(callID, reason string) (model.CallSession, error) {
	kind := model.CallFailureConnectFailed
	if reason == voice.ReasonTimeout {
		kind = model.CallFailureTimeout
	}
	return o.fail(callID, kind, reason)
}

// CancelCall cancels a Pending or InProgress call and asks the platform to
// hang up.
func (o *Orchestrator) CancelCall(ctx context.Context, callID string) (model.CallSession, error) {
	snap, err := o.transition(callID, []model.CallState{model.CallPending, model.CallInProgress}, func(s *model.CallSession) {
		s.State = model.CallCancelled
	})
	if err != nil {
		return snap, err
	}
	if err := o.voice.CancelCall(ctx, callID); err != nil && !errors.Is(err, voice.ErrCallNotFound) {
		zap.L().Warn("calls: platform cancel failed", zap.String("call_id", callID), zap.Error(err))
	}
	return snap, nil
}

// CancelBatch cancels the batch's non-terminal calls and returns how many
// were cancelled. Completed calls are left alone.
func (o *Orchestrator) CancelBatch(ctx context.Context, batchID string) (int, error) {
	o.mu.Lock()
	ids, ok := o.batches[batchID]
	ids = slices.Clone(ids)
	o.mu.Unlock()
	if !ok {
		return 0, eris.Wrapf(ErrBatchNotFound, "calls: batch %s", batchID)
	}

	n := 0
	for _, id := range ids {
		if _, err := o.CancelCall(ctx, id); err != nil {
			if errors.Is(err, ErrInvalidStateTransition) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// CancelRemote asks the platform to hang up a call this orchestrator does not
// track, such as one placed by an earlier process.
func (o *Orchestrator) CancelRemote(ctx context.Context, callID string) error {
	if err := o.voice.CancelCall(ctx, callID); err != nil && !errors.Is(err, voice.ErrCallNotFound) {
		return eris.Wrapf(err, "calls: cancel %s", callID)
	}
	return nil
}

// Get returns a snapshot of a live or finished session.
func (o *Orchestrator) Get(callID string) (model.CallSession, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.sessions[callID]
	if !ok {
		return model.CallSession{}, false
	}
	return t.session, true
}

// History returns terminal sessions in the order they finished.
func (o *Orchestrator) History() []model.CallSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.history)
}

// Batch returns the call IDs in a batch.
func (o *Orchestrator) Batch(batchID string) ([]string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids, ok := o.batches[batchID]
	return slices.Clone(ids), ok
}

func (o *Orchestrator) callable(vendorID string) (model.Vendor, error) {
	if o.vendors == nil {
		return model.Vendor{}, eris.Wrapf(ErrVendorNotCallable, "calls: no vendor directory for %s", vendorID)
	}
	v, ok := o.vendors.Lookup(vendorID)
	if !ok || !v.Callable || strings.TrimSpace(v.PhoneNumber) == "" {
		return model.Vendor{}, eris.Wrapf(ErrVendorNotCallable, "calls: vendor %s", vendorID)
	}
	return v, nil
}

// register adds a Pending session and arms its timeout.
func (o *Orchestrator) register(batchID, vendorID string, req model.ItemRequest, vehicle model.VehicleDescriptor) model.CallSession {
	s := model.CallSession{
		CallID:    uuid.NewString(),
		BatchID:   batchID,
		VendorID:  vendorID,
		Request:   req,
		Vehicle:   vehicle,
		State:     model.CallPending,
		StartedAt: o.nowFunc(),
	}
	t := &tracked{session: s, done: make(chan struct{})}

	o.mu.Lock()
	o.sessions[s.CallID] = t
	if batchID != "" {
		o.batches[batchID] = append(o.batches[batchID], s.CallID)
	}
	t.timer = time.AfterFunc(o.timeout, func() { o.expire(s.CallID) })
	o.mu.Unlock()
	return s
}

func (o *Orchestrator) place(ctx context.Context, v model.Vendor, callID string, script Script) error {
	_, err := o.voice.PlaceCall(ctx, voice.CallRequest{
		CallID:          callID,
		PhoneNumber:     v.PhoneNumber,
		Script:          script.Text(),
		MaxDurationSecs: int(o.timeout / time.Second),
	})
	if err != nil {
		zap.L().Warn("calls: place call failed",
			zap.String("call_id", callID),
			zap.String("vendor_id", v.ID),
			zap.Error(err),
		)
		// The session may already be terminal if a webhook raced the error.
		_, _ = o.fail(callID, model.CallFailureConnectFailed, err.Error())
		return eris.Wrapf(err, "calls: place call to %s", v.ID)
	}
	zap.L().Info("calls: call placed", zap.String("call_id", callID), zap.String("vendor_id", v.ID))
	return nil
}

func (o *Orchestrator) fail(callID string, reason model.CallFailureReason, detail string) (model.CallSession, error) {
	return o.transition(callID, []model.CallState{model.CallPending, model.CallInProgress}, func(s *model.CallSession) {
		s.State = model.CallFailed
		s.FailureReason = reason
		s.FailureDetail = detail
	})
}

func (o *Orchestrator) expire(callID string) {
	snap, err := o.fail(callID, model.CallFailureTimeout, fmt.Sprintf("no transcript within %s", o.timeout))
	if err != nil {
		return
	}
	zap.L().Warn("calls: call timed out", zap.String("call_id", callID), zap.String("vendor_id", snap.VendorID))
}

// transition applies fn to a session currently in one of the allowed states.
// Reaching a terminal state stops the timer, releases waiters and archives
// the session.
func (o *Orchestrator) transition(callID string, allowed []model.CallState, fn func(*model.CallSession)) (model.CallSession, error) {
	o.mu.Lock()
	t, ok := o.sessions[callID]
	if !ok {
		o.mu.Unlock()
		return model.CallSession{}, eris.Wrapf(ErrCallNotFound, "calls: %s", callID)
	}
	if !slices.Contains(allowed, t.session.State) {
		snap := t.session
		o.mu.Unlock()
		return snap, eris.Wrapf(ErrInvalidStateTransition, "calls: %s is %s", callID, snap.State)
	}

	fn(&t.session)
	terminal := t.session.State.Terminal()
	if terminal {
		ended := o.nowFunc()
		t.session.EndedAt = &ended
		t.timer.Stop()
		close(t.done)
		o.history = append(o.history, t.session)
	}
	snap := t.session
	o.mu.Unlock()

	if terminal {
		o.persist(snap)
	}
	return snap, nil
}

func (o *Orchestrator) persist(s model.CallSession) {
	if o.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.archive.SaveCall(ctx, s); err != nil {
		zap.L().Error("calls: archive session failed", zap.String("call_id", s.CallID), zap.Error(err))
	}
}
