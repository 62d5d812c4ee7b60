package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/orderforge/payments/internal/shared/metrics"
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
	DebugID    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("paypal: %d %s: %s", e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("paypal: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the PayPal REST API. All calls authenticate through
// the shared token cache and run inside a circuit breaker so a gateway
// outage fails fast instead of tying up request workers.
type Client struct {
	httpClient *http.Client
	tokens     *TokenCache
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *zap.Logger
	metrics    *metrics.Metrics

	// baseURL overrides the environment base URL when set.
	baseURL string
}

// NewClient creates a gateway client. m may be nil.
func NewClient(timeout time.Duration, tokens *TokenCache, logger *zap.Logger, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "paypal",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Gateway-level rejections are not outages.
			if _, ok := err.(*APIError); ok {
				return true
			}
			return err == nil
		},
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		breaker:    gobreaker.NewCircuitBreaker[[]byte](settings),
		logger:     logger,
		metrics:    m,
	}
}

// CreateOrderParams holds the inputs for creating a gateway order.
type CreateOrderParams struct {
	Intent       Intent
	CurrencyCode string
	MinorUnits   int64
	CustomID     string
	BrandName    string
	Locale       string
	ReturnURL    string
	CancelURL    string
}

// CreateOrder creates a gateway order the buyer then approves.
func (c *Client) CreateOrder(ctx context.Context, creds Credentials, params CreateOrderParams) (*Order, error) {
	req := createOrderRequest{
		Intent: params.Intent,
		PurchaseUnits: []PurchaseUnit{{
			Amount: &Amount{
				CurrencyCode: params.CurrencyCode,
				Value:        FormatAmount(params.MinorUnits, params.CurrencyCode),
			},
			CustomID: params.CustomID,
		}},
		ApplicationContext: &applicationContext{
			BrandName:  params.BrandName,
			Locale:     params.Locale,
			UserAction: "PAY_NOW",
			ReturnURL:  params.ReturnURL,
			CancelURL:  params.CancelURL,
		},
	}

	var order Order
	if err := c.do(ctx, creds, http.MethodPost, "/v2/checkout/orders", "create_order", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder fetches a gateway order.
func (c *Client) GetOrder(ctx context.Context, creds Credentials, orderID string) (*Order, error) {
	var order Order
	path := "/v2/checkout/orders/" + orderID
	if err := c.do(ctx, creds, http.MethodGet, path, "get_order", nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CaptureOrder captures an approved CAPTURE-intent order.
func (c *Client) CaptureOrder(ctx context.Context, creds Credentials, orderID string) (*Order, error) {
	var order Order
	path := "/v2/checkout/orders/" + orderID + "/capture"
	if err := c.do(ctx, creds, http.MethodPost, path, "capture_order", nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// AuthorizeOrder places a hold on an approved AUTHORIZE-intent order.
func (c *Client) AuthorizeOrder(ctx context.Context, creds Credentials, orderID string) (*Order, error) {
	var order Order
	path := "/v2/checkout/orders/" + orderID + "/authorize"
	if err := c.do(ctx, creds, http.MethodPost, path, "authorize_order", nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CaptureAuthorization captures funds held by an authorization.
func (c *Client) CaptureAuthorization(ctx context.Context, creds Credentials, authorizationID string) (*Capture, error) {
	var capture Capture
	path := "/v2/payments/authorizations/" + authorizationID + "/capture"
	if err := c.do(ctx, creds, http.MethodPost, path, "capture_authorization", nil, &capture); err != nil {
		return nil, err
	}
	return &capture, nil
}

// VoidAuthorization releases funds held by an authorization.
func (c *Client) VoidAuthorization(ctx context.Context, creds Credentials, authorizationID string) error {
	path := "/v2/payments/authorizations/" + authorizationID + "/void"
	return c.do(ctx, creds, http.MethodPost, path, "void_authorization", nil, nil)
}

// RefundCapture refunds minorUnits from a completed capture.
func (c *Client) RefundCapture(ctx context.Context, creds Credentials, captureID string, minorUnits int64, currencyCode string) (*RefundResponse, error) {
	req := refundRequest{
		Amount: &Amount{
			CurrencyCode: currencyCode,
			Value:        FormatAmount(minorUnits, currencyCode),
		},
	}

	var refund RefundResponse
	path := "/v2/payments/captures/" + captureID + "/refund"
	if err := c.do(ctx, creds, http.MethodPost, path, "refund_capture", req, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

// VerifyWebhookSignature asks the gateway whether an inbound webhook
// delivery was genuinely signed for webhookID. The webhook ID always
// comes from local configuration, never from the request.
func (c *Client) VerifyWebhookSignature(ctx context.Context, creds Credentials, webhookID string, headers WebhookSignatureHeaders, rawEvent []byte) (bool, error) {
	req := verifyWebhookSignatureRequest{
		AuthAlgo:         headers.AuthAlgo,
		CertURL:          headers.CertURL,
		TransmissionID:   headers.TransmissionID,
		TransmissionSig:  headers.TransmissionSig,
		TransmissionTime: headers.TransmissionTime,
		WebhookID:        webhookID,
		WebhookEvent:     json.RawMessage(rawEvent),
	}

	var resp verifyWebhookSignatureResponse
	if err := c.do(ctx, creds, http.MethodPost, "/v1/notifications/verify-webhook-signature", "verify_webhook_signature", req, &resp); err != nil {
		return false, err
	}
	return resp.VerificationStatus == "SUCCESS", nil
}

// do performs an authenticated request. A 204 or empty body leaves out
// untouched; a non-2xx status returns an *APIError.
func (c *Client) do(ctx context.Context, creds Credentials, method, path, endpoint string, body, out any) error {
	token, err := c.tokens.Token(ctx, creds)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	base := c.baseURL
	if base == "" {
		base = creds.APIBase()
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	respBody, err := c.breaker.Execute(func() ([]byte, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		c.observe(endpoint, resp.StatusCode, time.Since(start))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
			var parsed errorResponse
			if json.Unmarshal(data, &parsed) == nil {
				apiErr.Name = parsed.Name
				apiErr.Message = parsed.Message
				apiErr.DebugID = parsed.DebugID
			}
			return nil, apiErr
		}
		return data, nil
	})
	if err != nil {
		c.logger.Debug("gateway request failed",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return err
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.ProviderRequestsTotal.
		WithLabelValues("paypal", endpoint, fmt.Sprintf("%d", status)).Inc()
	c.metrics.ProviderRequestLatency.
		WithLabelValues("paypal", endpoint).Observe(duration.Seconds())
}
