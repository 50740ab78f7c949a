// Package browser provides a client for the remote browser-automation service
// used to drive vendor storefronts.
package browser

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

var (
	// ErrTimeout is returned when the service or the page did not respond in time.
	ErrTimeout = eris.New("browser: timeout")
	// ErrElementNotFound is returned when a step's selector matched nothing.
	ErrElementNotFound = eris.New("browser: element not found")
)

// Action is a single interaction kind.
type Action string

const (
	ActionNavigate Action = "navigate"
	ActionFill     Action = "fill"
	ActionSelect   Action = "select"
	ActionClick    Action = "click"
	ActionWait     Action = "wait"
)

// Step is one instruction in an interaction script.
type Step struct {
	Action   Action `json:"action" yaml:"action"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Driver opens browser sessions.
type Driver interface {
	// Open starts a session on targetURL. Callers must Close it.
	Open(ctx context.Context, targetURL string) (Session, error)
}

// Session is one live browser tab.
type Session interface {
	ID() string
	// Do performs a single step.
	Do(ctx context.Context, step Step) error
	// Query returns the text of the first element matching selector.
	Query(ctx context.Context, selector string) (text string, found bool, err error)
	// Close releases the session on the service.
	Close(ctx context.Context) error
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit paces requests to the service.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetry overrides the retry policy used when opening sessions.
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

// NewClient creates a browser-automation client for the service at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) Driver {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type openRequest struct {
	URL string `json:"url"`
}

type openResponse struct {
	SessionID string `json:"session_id"`
}

type queryRequest struct {
	Selector string `json:"selector"`
}

type queryResponse struct {
	Found bool   `json:"found"`
	Text  string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *httpClient) Open(ctx context.Context, targetURL string) (Session, error) {
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*openResponse, error) {
		var out openResponse
		if err := c.do(ctx, http.MethodPost, "/sessions", openRequest{URL: targetURL}, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "browser: open %s", targetURL)
	}
	if resp.SessionID == "" {
		return nil, eris.New("browser: open: empty session id")
	}
	return &session{client: c, id: resp.SessionID}, nil
}

type session struct {
	client *httpClient
	id     string
}

func (s *session) ID() string { return s.id }

func (s *session) Do(ctx context.Context, step Step) error {
	path := fmt.Sprintf("/sessions/%s/steps", url.PathEscape(s.id))
	if err := s.client.do(ctx, http.MethodPost, path, step, nil); err != nil {
		return eris.Wrapf(err, "browser: %s %s", step.Action, step.Selector)
	}
	return nil
}

func (s *session) Query(ctx context.Context, selector string) (string, bool, error) {
	path := fmt.Sprintf("/sessions/%s/query", url.PathEscape(s.id))
	var out queryResponse
	if err := s.client.do(ctx, http.MethodPost, path, queryRequest{Selector: selector}, &out); err != nil {
		if errors.Is(err, ErrElementNotFound) {
			return "", false, nil
		}
		return "", false, eris.Wrapf(err, "browser: query %s", selector)
	}
	return out.Text, out.Found, nil
}

func (s *session) Close(ctx context.Context) error {
	path := fmt.Sprintf("/sessions/%s", url.PathEscape(s.id))
	if err := s.client.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return eris.Wrapf(err, "browser: close session %s", s.id)
	}
	return nil
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *httpClient) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return classifyCtxErr(err)
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
		if ctxErr := classifyCtxErr(err); ctxErr != err {
			return ctxErr
		}
		return resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return eris.Wrap(ErrElementNotFound, errorMessage(respBody))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return eris.Wrap(ErrTimeout, errorMessage(respBody))
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(
			eris.Errorf("status %d: %s", resp.StatusCode, errorMessage(respBody)), resp.StatusCode)
	case resp.StatusCode >= 300:
		return eris.Errorf("status %d: %s", resp.StatusCode, errorMessage(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

func classifyCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return eris.Wrap(ErrTimeout, err.Error())
	}
	return err
}

func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}
