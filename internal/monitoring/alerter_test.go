package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quote-sourcing/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.5,
		NoPriceRateThreshold: 0.6,
		MinFinishedCalls:     5,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(thresholds())
	snap := &MetricsSnapshot{
		CallsCompleted: 8, CallsFailed: 2, CallFailRate: 0.2,
		CallsNoPrice: 2, NoPriceRate: 0.25, LookbackHours: 24,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(thresholds())
	snap := &MetricsSnapshot{
		CallsCompleted: 2, CallsFailed: 6, CallsTimedOut: 4, CallFailRate: 0.75, LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCallFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "75.0%")
	assert.Equal(t, 4, alerts[0].Details["timed_out"])
}

func TestAlerter_Evaluate_NoPriceRate(t *testing.T) {
	a := NewAlerter(thresholds())
	snap := &MetricsSnapshot{
		CallsCompleted: 10, CallsNoPrice: 8, NoPriceRate: 0.8, LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNoPriceRate, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestAlerter_Evaluate_SmallSampleIgnored(t *testing.T) {
	a := NewAlerter(thresholds())
	snap := &MetricsSnapshot{CallsCompleted: 1, CallsFailed: 3, CallFailRate: 0.75, CallsNoPrice: 1, NoPriceRate: 1}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil || alert.Type == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := thresholds()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertCallFailureRate, Severity: "high", Message: "a"},
		{Type: AlertNoPriceRate, Severity: "medium", Message: "b"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func fastAlerter(url string) *Alerter {
	cfg := thresholds()
	cfg.WebhookURL = url
	a := NewAlerter(cfg)
	a.retry.InitialBackoff = time.Millisecond
	a.retry.MaxBackoff = time.Millisecond
	return a
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sent := fastAlerter(srv.URL).SendAlerts(context.Background(), []Alert{{Type: AlertCallFailureRate}})
	assert.Zero(t, sent)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestAlerter_SendAlerts_RetriesThenDelivers(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sent := fastAlerter(srv.URL).SendAlerts(context.Background(), []Alert{{Type: AlertNoPriceRate}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestAlerter_SendAlerts_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sent := fastAlerter(srv.URL).SendAlerts(context.Background(), []Alert{{Type: AlertNoPriceRate}})
	assert.Zero(t, sent)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	sent := NewAlerter(thresholds()).SendAlerts(context.Background(), []Alert{{Type: AlertCallFailureRate}})
	assert.Zero(t, sent)
}
