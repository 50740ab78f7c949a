// Package partnerapi provides a SOAP client for the parts supplier's partner
// catalog service.
package partnerapi

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/quote-sourcing/internal/resilience"
)

// Fault codes the service uses for business errors.
const (
	FaultAuthentication = "AuthenticationFailed"
	FaultInvalidSession = "InvalidSession"
	FaultNotFound       = "NotFound"
)

// ErrTimeout is returned when the service did not answer in time.
var ErrTimeout = eris.New("partnerapi: timeout")

// Fault is a SOAP fault returned by the service.
type Fault struct {
	Code    string `xml:"faultcode"`
	Message string `xml:"faultstring"`
	Detail  string `xml:"detail>ErrorCode"`
}

func (f *Fault) Error() string {
	return "partnerapi: fault " + f.code() + ": " + f.Message
}

// code strips any namespace prefix, preferring the detail code when present.
func (f *Fault) code() string {
	if f.Detail != "" {
		return f.Detail
	}
	if i := strings.LastIndex(f.Code, ":"); i >= 0 {
		return f.Code[i+1:]
	}
	return f.Code
}

// FaultCode returns the business code of a fault in err's chain, or "".
func FaultCode(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.code()
	}
	return ""
}

// IsSessionFault reports whether err means the session token was rejected.
func IsSessionFault(err error) bool {
	return FaultCode(err) == FaultInvalidSession
}

// IsAuthFault reports whether err means the credentials were rejected.
func IsAuthFault(err error) bool {
	return FaultCode(err) == FaultAuthentication
}

// IsNotFound reports whether err means the requested item does not exist.
func IsNotFound(err error) bool {
	return FaultCode(err) == FaultNotFound
}

// Credentials authenticate a Login call.
type Credentials struct {
	Username      string
	Password      string
	AccountNumber string
}

// Client defines the partner catalog operations.
type Client interface {
	// Login opens a session and returns its token.
	Login(ctx context.Context) (string, error)
	SearchParts(ctx context.Context, token string, req SearchPartsRequest) (*SearchPartsResponse, error)
	GetPricing(ctx context.Context, token string, req PricingRequest) (*PricingResponse, error)
	DecodeVIN(ctx context.Context, token, vin string) (*VINResponse, error)
	GetLaborTime(ctx context.Context, token string, req LaborTimeRequest) (*LaborTimeResponse, error)
	ListLaborOperations(ctx context.Context, token string, vehicle Vehicle) (*LaborOperationsResponse, error)
	PlaceOrder(ctx context.Context, token string, req OrderRequest) (*OrderResponse, error)
	OrderStatus(ctx context.Context, token, orderID string) (*OrderStatusResponse, error)
}

// Option configures the client.
type Option func(*soapClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *soapClient) {
		c.http = hc
	}
}

type soapClient struct {
	endpoint string
	creds    Credentials
	http     *http.Client
}

// NewClient creates a client for the SOAP endpoint.
func NewClient(endpoint string, creds Credentials, opts ...Option) Client {
	c := &soapClient{
		endpoint: endpoint,
		creds:    creds,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *soapClient) Login(ctx context.Context) (string, error) {
	var out loginResponse
	err := c.call(ctx, "Login", loginRequest{
		Username:      c.creds.Username,
		Password:      c.creds.Password,
		AccountNumber: c.creds.AccountNumber,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.SessionToken == "" {
		return "", eris.New("partnerapi: login returned empty session token")
	}
	return out.SessionToken, nil
}

func (c *soapClient) SearchParts(ctx context.Context, token string, req SearchPartsRequest) (*SearchPartsResponse, error) {
	req.SessionToken = token
	var out SearchPartsResponse
	if err := c.call(ctx, "SearchParts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *soapClient) GetPricing(ctx context.Context, token string, req PricingRequest) (*PricingResponse, error) {
	req.SessionToken = token
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	var out PricingResponse
	if err := c.call(ctx, "GetPricing", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *soapClient) DecodeVIN(ctx context.Context, token, vin string) (*VINResponse, error) {
	var out VINResponse
	if err := c.call(ctx, "DecodeVIN", decodeVINRequest{SessionToken: token, VIN: vin}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *soapClient) GetLaborTime(ctx context.Context, token string, req LaborTimeRequest) (*LaborTimeResponse, error) {
	req.SessionToken = token
	var out LaborTimeResponse
	if err := c.call(ctx, "GetLaborTime", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *soapClient) ListLaborOperations(ctx context.Context, token string, vehicle Vehicle) (*LaborOperationsResponse, error) {
	var out LaborOperationsResponse
	req := laborOperationsRequest{SessionToken: token, Vehicle: vehicle}
	if err := c.call(ctx, "ListLaborOperations", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *soapClient) PlaceOrder(ctx context.Context, token string, req OrderRequest) (*OrderResponse, error) {
	req.SessionToken = token
	if len(req.Lines) == 0 {
		return nil, eris.New("partnerapi: order has no lines")
	}
	var out OrderResponse
	if err := c.call(ctx, "PlaceOrder", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *soapClient) OrderStatus(ctx context.Context, token, orderID string) (*OrderStatusResponse, error) {
	var out OrderStatusResponse
	if err := c.call(ctx, "GetOrderStatus", orderStatusRequest{SessionToken: token, OrderID: orderID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type requestEnvelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	SoapNS  string   `xml:"xmlns:soap,attr"`
	Body    struct {
		Content any
	} `xml:"soap:Body"`
}

type responseEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault *Fault `xml:"Fault"`
		Inner []byte `xml:",innerxml"`
	} `xml:"Body"`
}

const soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

// call posts one SOAP operation and decodes the body element into out.
func (c *soapClient) call(ctx context.Context, action string, in, out any) error {
	env := requestEnvelope{SoapNS: soapEnvelopeNS}
	env.Body.Content = in

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return eris.Wrapf(err, "partnerapi: %s: encode envelope", action)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return eris.Wrapf(err, "partnerapi: %s: create request", action)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", Namespace+"/"+action)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return eris.Wrapf(ErrTimeout, "partnerapi: %s", action)
		}
		return eris.Wrapf(err, "partnerapi: %s: request", action)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "partnerapi: %s: read body", action)
	}

	// SOAP 1.1 faults arrive with status 500, so the envelope is parsed before
	// the status is judged.
	var renv responseEnvelope
	if perr := decodeXML(body, &renv); perr == nil {
		if renv.Body.Fault != nil {
			return eris.Wrapf(renv.Body.Fault, "partnerapi: %s", action)
		}
	}

	if resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout {
		return eris.Wrapf(ErrTimeout, "partnerapi: %s: status %d", action, resp.StatusCode)
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(
			eris.Errorf("partnerapi: %s: status %d", action, resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return eris.Errorf("partnerapi: %s: status %d", action, resp.StatusCode)
	}

	if len(bytes.TrimSpace(renv.Body.Inner)) == 0 {
		return eris.Errorf("partnerapi: %s: empty response body", action)
	}
	if err := decodeXML(renv.Body.Inner, out); err != nil {
		return eris.Wrapf(err, "partnerapi: %s: decode response", action)
	}
	return nil
}

func decodeXML(data []byte, v any) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	return dec.Decode(v)
}
