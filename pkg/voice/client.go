// Package voice provides a client for the outbound voice-call platform and
// the webhook payloads it delivers.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/quote-sourcing/internal/resilience"
)

// ErrCallNotFound is returned when the platform does not know the call.
var ErrCallNotFound = eris.New("voice: call not found")

// CallRequest asks the platform to dial a number and run a script.
type CallRequest struct {
	CallID      string `json:"call_id"`
	PhoneNumber string `json:"phone_number"`
	Script      string `json:"script"`
	// MaxDurationSecs caps the call on the platform side.
	MaxDurationSecs int `json:"max_duration_secs,omitempty"`
}

// CallResponse acknowledges a placed call.
type CallResponse struct {
	CallID         string `json:"call_id"`
	ProviderCallID string `json:"provider_call_id"`
	Status         string `json:"status"`
}

// Client defines the voice platform operations.
type Client interface {
	// PlaceCall submits a call. The platform reports progress through webhooks
	// correlated by CallID.
	PlaceCall(ctx context.Context, req CallRequest) (*CallResponse, error)
	// CancelCall hangs up or withdraws a call.
	CancelCall(ctx context.Context, callID string) error
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit paces outbound calls.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetry overrides the retry policy. Only rate-limit responses are
// retried so a call is never dialed twice.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a voice platform client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(2, 2),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.ShouldRetry = isRateLimited
	return c
}

func isRateLimited(err error) bool {
	var te *resilience.TransientError
	return errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests
}

func (c *httpClient) PlaceCall(ctx context.Context, req CallRequest) (*CallResponse, error) {
	if req.CallID == "" || req.PhoneNumber == "" {
		return nil, eris.New("voice: call id and phone number are required")
	}
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*CallResponse, error) {
		var out CallResponse
		if err := c.do(ctx, http.MethodPost, "/calls", req, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "voice: place call %s", req.CallID)
	}
	return resp, nil
}

func (c *httpClient) CancelCall(ctx context.Context, callID string) error {
	path := fmt.Sprintf("/calls/%s", url.PathEscape(callID))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return eris.Wrapf(err, "voice: cancel call %s", callID)
	}
	return nil
}

func (c *httpClient) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrCallNotFound
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(
			eris.Errorf("status %d: %s", resp.StatusCode, string(respBody)), resp.StatusCode)
	case resp.StatusCode >= 300:
		return eris.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
