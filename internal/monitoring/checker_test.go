package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quote-sourcing/internal/config"
	"github.com/sells-group/quote-sourcing/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(&mockStore{}, nil), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_Check_SendsAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	st := &mockStore{}
	for range 6 {
		st.sessions = append(st.sessions, model.CallSession{State: model.CallFailed, StartedAt: time.Now()})
	}
	cfg := config.MonitoringConfig{
		WebhookURL:           srv.URL,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.5,
		MinFinishedCalls:     5,
	}
	checker := NewChecker(NewCollector(st, nil), NewAlerter(cfg), cfg)

	snap := checker.Check(context.Background())
	require.NotNil(t, snap)
	assert.Equal(t, 6, snap.CallsFailed)
	assert.Equal(t, int32(1), received.Load())
}

func TestChecker_Check_CollectError(t *testing.T) {
	cfg := config.MonitoringConfig{LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(&mockStore{listErr: errors.New("db down")}, nil), NewAlerter(cfg), cfg)
	assert.Nil(t, checker.Check(context.Background()))
}

func TestChecker_Check_AlertsOncePerEpisode(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := &mockStore{}
	for range 6 {
		st.sessions = append(st.sessions, model.CallSession{State: model.CallFailed, StartedAt: time.Now()})
	}
	cfg := config.MonitoringConfig{
		WebhookURL:           srv.URL,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.5,
		MinFinishedCalls:     5,
	}
	checker := NewChecker(NewCollector(st, nil), NewAlerter(cfg), cfg)

	checker.Check(context.Background())
	checker.Check(context.Background())
	assert.Equal(t, int32(1), received.Load())

	saved := st.sessions
	st.sessions = nil
	checker.Check(context.Background())
	assert.Empty(t, checker.firing)

	st.sessions = saved
	checker.Check(context.Background())
	assert.Equal(t, int32(2), received.Load())
}
