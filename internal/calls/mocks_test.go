package calls

import (
	"context"
	"sync"

	"github.com/sells-group/quote-sourcing/internal/model"
	"github.com/sells-group/quote-sourcing/pkg/voice"
)

type vendorMap map[string]model.Vendor

func (m vendorMap) Lookup(id string) (model.Vendor, bool) {
	v, ok := m[id]
	return v, ok
}

// fakeVoice records placed calls. onPlace, when set, runs in its own
// goroutine after each placement to simulate webhook delivery.
type fakeVoice struct {
	mu        sync.Mutex
	placed    []voice.CallRequest
	cancelled []string
	failFor   map[string]error
	onPlace   func(req voice.CallRequest)
}

func (f *fakeVoice) PlaceCall(_ context.Context, req voice.CallRequest) (*voice.CallResponse, error) {
	f.mu.Lock()
	f.placed = append(f.placed, req)
	err := f.failFor[req.PhoneNumber]
	hook := f.onPlace
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if hook != nil {
		go hook(req)
	}
	return &voice.CallResponse{CallID: req.CallID, ProviderCallID: "p-" + req.CallID, Status: "queued"}, nil
}

func (f *fakeVoice) CancelCall(_ context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, callID)
	return nil
}

func (f *fakeVoice) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

type memArchive struct {
	mu    sync.Mutex
	saved []model.CallSession
}

func (a *memArchive) SaveCall(_ context.Context, s model.CallSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, s)
	return nil
}

func (a *memArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.saved)
}
