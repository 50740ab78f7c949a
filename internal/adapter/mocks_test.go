package adapter

import (
	"context"
	"sync"

	"github.com/sells-group/quote-sourcing/pkg/browser"
	"github.com/sells-group/quote-sourcing/pkg/partnerapi"
)

// fakeDriver serves sessions backed by a fixed page of selector->text.
type fakeDriver struct {
	mu       sync.Mutex
	page     map[string]string
	openErr  error
	stepErrs map[string]error
	opened   int
	closed   int
	steps    []browser.Step
}

func (d *fakeDriver) Open(_ context.Context, _ string) (browser.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened++
	return &fakeSession{d: d}, nil
}

type fakeSession struct{ d *fakeDriver }

func (s *fakeSession) ID() string { return "sess-1" }

func (s *fakeSession) Do(_ context.Context, step browser.Step) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.steps = append(s.d.steps, step)
	return s.d.stepErrs[step.Selector]
}

func (s *fakeSession) Query(_ context.Context, selector string) (string, bool, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	text, ok := s.d.page[selector]
	return text, ok, nil
}

func (s *fakeSession) Close(context.Context) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.closed++
	return nil
}

// fakePartner is a scriptable partnerapi.Client.
type fakePartner struct {
	mu         sync.Mutex
	logins     int
	tokens     []string
	loginErr   error
	searchResp *partnerapi.SearchPartsResponse
	pricing    func(token string, req partnerapi.PricingRequest) (*partnerapi.PricingResponse, error)
	labor      func(token string, req partnerapi.LaborTimeRequest) (*partnerapi.LaborTimeResponse, error)
	searchErr  error
}

func (f *fakePartner) Login(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return "", f.loginErr
	}
	tok := "tok-1"
	if f.logins < len(f.tokens) {
		tok = f.tokens[f.logins]
	}
	f.logins++
	return tok, nil
}

func (f *fakePartner) SearchParts(_ context.Context, _ string, _ partnerapi.SearchPartsRequest) (*partnerapi.SearchPartsResponse, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.searchResp == nil {
		return &partnerapi.SearchPartsResponse{}, nil
	}
	return f.searchResp, nil
}

func (f *fakePartner) GetPricing(_ context.Context, token string, req partnerapi.PricingRequest) (*partnerapi.PricingResponse, error) {
	return f.pricing(token, req)
}

func (f *fakePartner) DecodeVIN(context.Context, string, string) (*partnerapi.VINResponse, error) {
	return &partnerapi.VINResponse{}, nil
}

func (f *fakePartner) GetLaborTime(_ context.Context, token string, req partnerapi.LaborTimeRequest) (*partnerapi.LaborTimeResponse, error) {
	return f.labor(token, req)
}

func (f *fakePartner) ListLaborOperations(context.Context, string, partnerapi.Vehicle) (*partnerapi.LaborOperationsResponse, error) {
	return &partnerapi.LaborOperationsResponse{}, nil
}

func (f *fakePartner) PlaceOrder(context.Context, string, partnerapi.OrderRequest) (*partnerapi.OrderResponse, error) {
	return &partnerapi.OrderResponse{}, nil
}

func (f *fakePartner) OrderStatus(context.Context, string, string) (*partnerapi.OrderStatusResponse, error) {
	return &partnerapi.OrderStatusResponse{}, nil
}
