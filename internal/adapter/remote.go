package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/quote-sourcing/internal/model"
	"github.com/sells-group/quote-sourcing/internal/resilience"
	"github.com/sells-group/quote-sourcing/pkg/partnerapi"
)

// Remote quotes parts and labor through the partner SOAP API. One session
// token is shared by all attempts for the life of the adapter.
type Remote struct {
	name     string
	vendorID string
	client   partnerapi.Client
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
	nowFunc  func() time.Time

	mu    sync.Mutex
	token string
}

// RemoteOption configures a Remote adapter.
type RemoteOption func(*Remote)

// WithVendorID sets the vendor recorded on partner quotes.
func WithVendorID(id string) RemoteOption {
	return func(r *Remote) { r.vendorID = id }
}

// WithBreaker overrides the circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) RemoteOption {
	return func(r *Remote) { r.breaker = cb }
}

// WithRemoteRetry overrides the retry policy for transient faults.
func WithRemoteRetry(cfg resilience.RetryConfig) RemoteOption {
	return func(r *Remote) { r.retry = cfg }
}

// NewRemote creates the partner API adapter.
func NewRemote(client partnerapi.Client, opts ...RemoteOption) *Remote {
	r := &Remote{
		name:     "partner",
		vendorID: "partner",
		client:   client,
		retry:    resilience.DefaultRetryConfig(),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		cfg := resilience.DefaultCircuitBreakerConfig()
		cfg.ShouldTrip = tripsBreaker
		r.breaker = resilience.NewCircuitBreaker(r.name, cfg)
	}
	r.retry.OnRetry = resilience.RetryLogger(r.name, "call")
	return r
}

// tripsBreaker counts only transport-level failures. Business faults mean the
// service is up.
func tripsBreaker(err error) bool {
	return partnerapi.FaultCode(err) == ""
}

// Name implements Adapter.
func (r *Remote) Name() string { return r.name }

// Attempt implements Adapter.
func (r *Remote) Attempt(ctx context.Context, vehicle model.VehicleDescriptor, item model.ItemRequest) (model.Quote, error) {
	if item.Kind == model.ItemKindLabor {
		return r.labor(ctx, vehicle, item)
	}
	return r.part(ctx, vehicle, item)
}

func (r *Remote) part(ctx context.Context, vehicle model.VehicleDescriptor, item model.ItemRequest) (model.Quote, error) {
	partNumber := strings.TrimSpace(item.PartNumber)
	var search *partnerapi.SearchPartsResponse
	if partNumber == "" {
		err := r.call(ctx, func(ctx context.Context, token string) error {
			var err error
			search, err = r.client.SearchParts(ctx, token, partnerapi.SearchPartsRequest{
				Vehicle: partnerVehicle(vehicle),
				Query:   item.Description,
			})
			return err
		})
		if err != nil {
			return model.Quote{}, r.classify("search parts", err)
		}
		if len(search.Parts) == 0 {
			return model.Quote{}, Fail(r.name, KindNotFound, "no parts match "+item.Description, nil)
		}
		partNumber = search.Parts[0].PartNumber
	}

	var pricing *partnerapi.PricingResponse
	err := r.call(ctx, func(ctx context.Context, token string) error {
		var err error
		pricing, err = r.client.GetPricing(ctx, token, partnerapi.PricingRequest{PartNumber: partNumber, Quantity: 1})
		return err
	})
	if err != nil {
		return model.Quote{}, r.classify("get pricing", err)
	}

	q := model.Quote{
		SourceKind:   model.SourceRemoteProcedure,
		VendorID:     r.vendorID,
		Price:        model.NewPrice(pricing.Price),
		Availability: stockAvailability(pricing.QuantityAvailable, pricing.DeliveryDays),
		DeliveryDays: model.Days(pricing.DeliveryDays),
		Quality:      model.ParseQuality(pricing.QualityTier),
		Confidence:   1.0,
		CapturedAt:   r.nowFunc().UTC(),
		RawEvidence:  "part " + partNumber + " @ " + pricing.Warehouse,
	}
	if q.Quality == model.QualityUnknown && search != nil {
		q.Quality = model.ParseQuality(search.Parts[0].QualityTier)
	}
	return q, nil
}

func (r *Remote) labor(ctx context.Context, vehicle model.VehicleDescriptor, item model.ItemRequest) (model.Quote, error) {
	var resp *partnerapi.LaborTimeResponse
	err := r.call(ctx, func(ctx context.Context, token string) error {
		var err error
		resp, err = r.client.GetLaborTime(ctx, token, partnerapi.LaborTimeRequest{
			Vehicle:   partnerVehicle(vehicle),
			Operation: item.SearchTerm(),
		})
		return err
	})
	if err != nil {
		return model.Quote{}, r.classify("get labor time", err)
	}
	return model.Quote{
		SourceKind:   model.SourceRemoteProcedure,
		VendorID:     r.vendorID,
		LaborHours:   model.NewPrice(resp.Hours),
		Availability: model.AvailabilityUnknown,
		Quality:      model.QualityUnknown,
		Confidence:   1.0,
		CapturedAt:   r.nowFunc().UTC(),
		RawEvidence:  "labor " + resp.OperationCode + ": " + resp.Description,
	}, nil
}

// call runs fn with a session token behind the breaker and retry policy,
// logging in again once if the token was rejected.
func (r *Remote) call(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, r.retry, func(ctx context.Context) error {
			token, err := r.session(ctx)
			if err != nil {
				return err
			}
			err = fn(ctx, token)
			if !partnerapi.IsSessionFault(err) {
				return err
			}
			zap.L().Info("adapter: partner session rejected, logging in again", zap.String("adapter", r.name))
			r.invalidate(token)
			if token, err = r.session(ctx); err != nil {
				return err
			}
			return fn(ctx, token)
		})
	})
}

// session returns the shared token, logging in on first use.
func (r *Remote) session(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token != "" {
		return r.token, nil
	}
	token, err := r.client.Login(ctx)
	if err != nil {
		return "", err
	}
	r.token = token
	return token, nil
}

func (r *Remote) invalidate(stale string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token == stale {
		r.token = ""
	}
}

func (r *Remote) classify(op string, err error) error {
	switch {
	case partnerapi.IsNotFound(err):
		return Fail(r.name, KindNotFound, op+": "+faultMessage(err), err)
	case partnerapi.IsAuthFault(err), partnerapi.IsSessionFault(err):
		return Fail(r.name, KindAuthenticationFailed, op+": "+faultMessage(err), err)
	case errors.Is(err, partnerapi.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Fail(r.name, KindTimeout, op, err)
	default:
		return Fail(r.name, KindTransportError, op+": "+err.Error(), err)
	}
}

func faultMessage(err error) string {
	var f *partnerapi.Fault
	if errors.As(err, &f) {
		return f.Message
	}
	return err.Error()
}

func partnerVehicle(v model.VehicleDescriptor) partnerapi.Vehicle {
	return partnerapi.Vehicle{Year: v.Year, Make: v.Make, Model: v.Model}
}

func stockAvailability(qty, deliveryDays int) model.Availability {
	switch {
	case qty >= 5:
		return model.AvailabilityInStock
	case qty > 0:
		return model.AvailabilityLimitedStock
	case deliveryDays > 0:
		return model.AvailabilitySpecialOrder
	default:
		return model.AvailabilityOutOfStock
	}
}
