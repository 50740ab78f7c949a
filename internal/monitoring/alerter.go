package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quote-sourcing/internal/config"
	"github.com/sells-group/quote-sourcing/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCallFailureRate AlertType = "call_failure_rate"
	AlertNoPriceRate     AlertType = "call_no_price_rate"
)

const defaultMinFinished = 5

// Alert is one threshold breach, posted as JSON to the alert webhook.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns snapshots into alerts and posts them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
	now    func() time.Time
}

// NewAlerter creates an Alerter. Webhook posts are retried on 429 and 5xx.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.FromRetryConfig(3, 250, 2000)
	retry.OnRetry = resilience.RetryLogger("alert_webhook", "post")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate returns the alerts whose thresholds snap breaches. Rates over
// fewer than MinFinishedCalls samples are ignored.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	minFinished := a.cfg.MinFinishedCalls
	if minFinished <= 0 {
		minFinished = defaultMinFinished
	}

	var alerts []Alert
	if alert, ok := a.failureRateAlert(snap, minFinished); ok {
		alerts = append(alerts, alert)
	}
	if alert, ok := a.noPriceAlert(snap, minFinished); ok {
		alerts = append(alerts, alert)
	}
	return alerts
}

func (a *Alerter) failureRateAlert(snap *MetricsSnapshot, minFinished int) (Alert, bool) {
	finished := snap.Finished()
	limit := a.cfg.FailureRateThreshold
	if limit <= 0 || finished < minFinished || snap.CallFailRate <= limit {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertCallFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("Vendor call failure rate %.1f%% is above %.1f%%: %d of %d finished calls failed in the last %dh (%d timed out)",
			snap.CallFailRate*100, limit*100, snap.CallsFailed, finished, snap.LookbackHours, snap.CallsTimedOut),
		Details: map[string]any{
			"failure_rate": snap.CallFailRate,
			"threshold":    limit,
			"failed":       snap.CallsFailed,
			"timed_out":    snap.CallsTimedOut,
			"finished":     finished,
		},
		Timestamp: a.now(),
	}, true
}

func (a *Alerter) noPriceAlert(snap *MetricsSnapshot, minFinished int) (Alert, bool) {
	limit := a.cfg.NoPriceRateThreshold
	if limit <= 0 || snap.CallsCompleted < minFinished || snap.NoPriceRate <= limit {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertNoPriceRate,
		Severity: "medium",
		Message: fmt.Sprintf("%.1f%% of completed vendor calls produced no price (limit %.1f%%): %d of %d in the last %dh",
			snap.NoPriceRate*100, limit*100, snap.CallsNoPrice, snap.CallsCompleted, snap.LookbackHours),
		Details: map[string]any{
			"no_price_rate": snap.NoPriceRate,
			"threshold":     limit,
			"no_price":      snap.CallsNoPrice,
			"completed":     snap.CallsCompleted,
		},
		Timestamp: a.now(),
	}, true
}

// SendAlerts posts each alert and returns how many were delivered. Without
// a webhook URL nothing is sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	delivered := 0
	for _, alert := range alerts {
		log := zap.L().With(zap.String("alert", string(alert.Type)), zap.String("severity", alert.Severity))
		if err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.post(ctx, alert)
		}); err != nil {
			log.Error("monitoring: alert delivery failed", zap.Error(err))
			continue
		}
		log.Info("monitoring: alert delivered")
		delivered++
	}
	return delivered
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: encode alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build alert request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post alert")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 300 {
		return nil
	}
	err = eris.Errorf("monitoring: alert webhook answered %d", resp.StatusCode)
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(err, resp.StatusCode)
	}
	return err
}
