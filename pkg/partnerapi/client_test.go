package partnerapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quote-sourcing/internal/resilience"
)

func envelope(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>` + body + `</soap:Body>
</soap:Envelope>`
}

func faultBody(code, msg string) string {
	return envelope(`<soap:Fault><faultcode>soap:Client</faultcode><faultstring>` + msg +
		`</faultstring><detail><ErrorCode>` + code + `</ErrorCode></detail></soap:Fault>`)
}

type recorded struct {
	action string
	body   string
}

func newServer(t *testing.T, handler func(action, body string) (int, string)) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		action := strings.TrimPrefix(r.Header.Get("SOAPAction"), Namespace+"/")
		calls = append(calls, recorded{action: action, body: string(data)})
		status, resp := handler(action, string(data))
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestLogin(t *testing.T) {
	srv, calls := newServer(t, func(action, _ string) (int, string) {
		return http.StatusOK, envelope(`<LoginResponse xmlns="urn:partner-parts:v2"><SessionToken>tok-1</SessionToken></LoginResponse>`)
	})

	c := NewClient(srv.URL, Credentials{Username: "shop", Password: "secret", AccountNumber: "A1"})
	token, err := c.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	require.Len(t, *calls, 1)
	assert.Equal(t, "Login", (*calls)[0].action)
	assert.Contains(t, (*calls)[0].body, "<Username>shop</Username>")
	assert.Contains(t, (*calls)[0].body, "<AccountNumber>A1</AccountNumber>")
	assert.Contains(t, (*calls)[0].body, `xmlns="urn:partner-parts:v2"`)
}

func TestLogin_AuthFault(t *testing.T) {
	srv, _ := newServer(t, func(string, string) (int, string) {
		return http.StatusInternalServerError, faultBody(FaultAuthentication, "bad credentials")
	})

	c := NewClient(srv.URL, Credentials{Username: "shop", Password: "wrong"})
	_, err := c.Login(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthFault(err))
	assert.False(t, IsSessionFault(err))
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestGetPricing(t *testing.T) {
	srv, calls := newServer(t, func(string, string) (int, string) {
		return http.StatusOK, envelope(`<GetPricingResponse xmlns="urn:partner-parts:v2">
  <PartNumber>BP-100</PartNumber>
  <Price>54.35</Price>
  <ListPrice>79.99</ListPrice>
  <QuantityAvailable>4</QuantityAvailable>
  <DeliveryDays>1</DeliveryDays>
  <Warehouse>DAL</Warehouse>
  <QualityTier>premium</QualityTier>
</GetPricingResponse>`)
	})

	c := NewClient(srv.URL, Credentials{})
	resp, err := c.GetPricing(context.Background(), "tok-1", PricingRequest{PartNumber: "BP-100"})
	require.NoError(t, err)
	assert.Equal(t, "54.35", resp.Price.StringFixed(2))
	assert.Equal(t, "79.99", resp.ListPrice.String())
	assert.Equal(t, 4, resp.QuantityAvailable)
	assert.Equal(t, 1, resp.DeliveryDays)
	assert.Equal(t, "premium", resp.QualityTier)

	body := (*calls)[0].body
	assert.Contains(t, body, "<SessionToken>tok-1</SessionToken>")
	assert.Contains(t, body, "<Quantity>1</Quantity>")
}

func TestSearchParts(t *testing.T) {
	srv, calls := newServer(t, func(string, string) (int, string) {
		return http.StatusOK, envelope(`<SearchPartsResponse><Parts>
  <Part><PartNumber>BP-100</PartNumber><Description>Front brake pads</Description><Brand>Acme</Brand></Part>
  <Part><PartNumber>BP-200</PartNumber><Description>Rear brake pads</Description><Brand>Acme</Brand></Part>
</Parts></SearchPartsResponse>`)
	})

	c := NewClient(srv.URL, Credentials{})
	resp, err := c.SearchParts(context.Background(), "tok", SearchPartsRequest{
		Vehicle: Vehicle{Year: 2019, Make: "Honda", Model: "Civic"},
		Query:   "brake pads",
	})
	require.NoError(t, err)
	require.Len(t, resp.Parts, 2)
	assert.Equal(t, "BP-100", resp.Parts[0].PartNumber)
	assert.Contains(t, (*calls)[0].body, "<Year>2019</Year>")
}

func TestSessionFault(t *testing.T) {
	srv, _ := newServer(t, func(string, string) (int, string) {
		return http.StatusInternalServerError, faultBody(FaultInvalidSession, "session expired")
	})

	c := NewClient(srv.URL, Credentials{})
	_, err := c.GetLaborTime(context.Background(), "stale", LaborTimeRequest{Operation: "brake job"})
	require.Error(t, err)
	assert.True(t, IsSessionFault(err))
}

func TestNotFoundFault_PrefixedCode(t *testing.T) {
	srv, _ := newServer(t, func(string, string) (int, string) {
		return http.StatusInternalServerError, envelope(
			`<soap:Fault><faultcode>ns:NotFound</faultcode><faultstring>no such part</faultstring></soap:Fault>`)
	})

	c := NewClient(srv.URL, Credentials{})
	_, err := c.GetPricing(context.Background(), "tok", PricingRequest{PartNumber: "nope"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestHTTPErrorWithoutEnvelope(t *testing.T) {
	srv, _ := newServer(t, func(string, string) (int, string) {
		return http.StatusBadGateway, "upstream down"
	})

	c := NewClient(srv.URL, Credentials{})
	_, err := c.DecodeVIN(context.Background(), "tok", "1HGCM82633A004352")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Empty(t, FaultCode(err))
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.OrderStatus(ctx, "tok", "ORD-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLaborOperationsAndOrders(t *testing.T) {
	srv, _ := newServer(t, func(action, _ string) (int, string) {
		switch action {
		case "ListLaborOperations":
			return http.StatusOK, envelope(`<ListLaborOperationsResponse><Operations>
  <Operation><Code>BRK-F</Code><Description>Front brake job</Description><Hours>1.5</Hours></Operation>
</Operations></ListLaborOperationsResponse>`)
		case "PlaceOrder":
			return http.StatusOK, envelope(`<PlaceOrderResponse><OrderID>ORD-9</OrderID><Status>accepted</Status></PlaceOrderResponse>`)
		default:
			return http.StatusOK, envelope(`<GetOrderStatusResponse><OrderID>ORD-9</OrderID><Status>shipped</Status><ETA>2026-10-17</ETA></GetOrderStatusResponse>`)
		}
	})

	c := NewClient(srv.URL, Credentials{})
	ctx := context.Background()

	ops, err := c.ListLaborOperations(ctx, "tok", Vehicle{Year: 2019, Make: "Honda", Model: "Civic"})
	require.NoError(t, err)
	require.Len(t, ops.Operations, 1)
	assert.Equal(t, "1.5", ops.Operations[0].Hours.String())

	_, err = c.PlaceOrder(ctx, "tok", OrderRequest{PONumber: "PO-1"})
	require.Error(t, err)

	order, err := c.PlaceOrder(ctx, "tok", OrderRequest{PONumber: "PO-1", Lines: []OrderLine{{PartNumber: "BP-100", Quantity: 2}}})
	require.NoError(t, err)
	assert.Equal(t, "ORD-9", order.OrderID)

	status, err := c.OrderStatus(ctx, "tok", "ORD-9")
	require.NoError(t, err)
	assert.Equal(t, "shipped", status.Status)
	assert.Equal(t, "2026-10-17", status.ETA)
}

func TestCharsetDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		// "Citroën" in ISO-8859-1.
		body := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>" +
			"<Envelope><Body><DecodeVINResponse><Make>Citro\xebn</Make><Year>2018</Year></DecodeVINResponse></Body></Envelope>"
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{})
	resp, err := c.DecodeVIN(context.Background(), "tok", "VF7")
	require.NoError(t, err)
	assert.Equal(t, "Citroën", resp.Make)
	assert.Equal(t, 2018, resp.Year)
}

func TestServerErrorIsTransient(t *testing.T) {
	srv, _ := newServer(t, func(string, string) (int, string) {
		return http.StatusServiceUnavailable, "busy"
	})

	c := NewClient(srv.URL, Credentials{})
	_, err := c.GetPricing(context.Background(), "tok", PricingRequest{PartNumber: "BP-100"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}
