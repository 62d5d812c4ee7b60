package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orderforge/payments/internal/module/order"
	"github.com/orderforge/payments/internal/module/payment/provider/paypal"
)

type stubVerifier struct {
	verified     bool
	err          error
	calls        int
	gotWebhookID string
}

func (v *stubVerifier) VerifyWebhookSignature(ctx context.Context, creds paypal.Credentials, webhookID string, headers paypal.WebhookSignatureHeaders, rawEvent []byte) (bool, error) {
	v.calls++
	v.gotWebhookID = webhookID
	return v.verified, v.err
}

type webhookFixture struct {
	handler  *WebhookHandler
	repo     *MockRepository
	orderSvc *MockOrderService
	verifier *stubVerifier
	events   *MemoryEventStore
	router   *gin.Engine
}

func newWebhookFixture() *webhookFixture {
	gin.SetMode(gin.TestMode)
	repo := new(MockRepository)
	orderSvc := new(MockOrderService)
	verifier := &stubVerifier{verified: true}
	events := NewMemoryEventStore()
	svc := NewService(repo, orderSvc, NewHandlerRegistry(), zap.NewNop(), nil)

	h := NewWebhookHandler(
		svc, orderSvc, verifier, events, &NoopArchiver{},
		paypal.Credentials{ClientID: "client-id", ClientSecret: "client-secret", Mode: paypal.ModeSandbox},
		"WH-ID-LOCAL", zap.NewNop(), nil,
	)

	router := gin.New()
	h.RegisterRoutes(router.Group("/webhooks"))
	return &webhookFixture{
		handler:  h,
		repo:     repo,
		orderSvc: orderSvc,
		verifier: verifier,
		events:   events,
		router:   router,
	}
}

func (f *webhookFixture) deliver(body []byte, signed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", bytes.NewReader(body))
	if signed {
		req.Header.Set("Paypal-Transmission-Id", "tx-1")
		req.Header.Set("Paypal-Transmission-Time", "2024-01-02T03:04:05Z")
		req.Header.Set("Paypal-Transmission-Sig", "sig")
		req.Header.Set("Paypal-Cert-Url", "https://api.paypal.com/cert.pem")
		req.Header.Set("Paypal-Auth-Algo", "SHA256withRSA")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func captureEvent(t *testing.T, eventID, eventType, captureID, customID, value, currency string) []byte {
	t.Helper()
	resource, err := json.Marshal(map[string]any{
		"id":        captureID,
		"status":    "COMPLETED",
		"custom_id": customID,
		"amount":    map[string]string{"currency_code": currency, "value": value},
	})
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":            eventID,
		"event_type":    eventType,
		"resource_type": "capture",
		"resource":      json.RawMessage(resource),
	})
	require.NoError(t, err)
	return payload
}

func orderCustomID(t *testing.T, ord *order.Order) string {
	t.Helper()
	customID, err := paypal.EncodeOrderMetadata(&paypal.OrderMetadata{
		ChannelToken: "default",
		OrderCode:    ord.Code,
		OrderID:      ord.ID.String(),
	})
	require.NoError(t, err)
	return customID
}

func TestWebhookHandler_Rejections(t *testing.T) {
	t.Run("missing signature headers", func(t *testing.T) {
		f := newWebhookFixture()
		w := f.deliver(captureEvent(t, "WH-EV-1", captureCompletedEvent, "CAP-1", "", "1.00", "USD"), false)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, f.verifier.calls)
	})

	t.Run("unparseable event body", func(t *testing.T) {
		f := newWebhookFixture()
		w := f.deliver([]byte("not json"), true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("event without an id", func(t *testing.T) {
		f := newWebhookFixture()
		w := f.deliver([]byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`), true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, f.verifier.calls)
	})

	t.Run("rejected signature", func(t *testing.T) {
		f := newWebhookFixture()
		f.verifier.verified = false
		w := f.deliver(captureEvent(t, "WH-EV-1", captureCompletedEvent, "CAP-1", "", "1.00", "USD"), true)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		seen, err := f.events.Seen(context.Background(), paypal.HandlerCode, "WH-EV-1")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("verification uses the locally configured webhook id", func(t *testing.T) {
		f := newWebhookFixture()
		f.deliver(captureEvent(t, "WH-EV-1", "CHECKOUT.ORDER.APPROVED", "CAP-1", "", "1.00", "USD"), true)
		assert.Equal(t, "WH-ID-LOCAL", f.verifier.gotWebhookID)
	})
}

func TestWebhookHandler_VerifierUnavailable(t *testing.T) {
	f := newWebhookFixture()
	f.verifier.err = errors.New("gateway timeout")

	w := f.deliver(captureEvent(t, "WH-EV-1", captureCompletedEvent, "CAP-1", "", "1.00", "USD"), true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// Left unmarked so the redelivery is processed in full.
	seen, err := f.events.Seen(context.Background(), paypal.HandlerCode, "WH-EV-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestWebhookHandler_Deduplication(t *testing.T) {
	f := newWebhookFixture()
	require.NoError(t, f.events.MarkProcessed(context.Background(), paypal.HandlerCode, "WH-EV-1"))

	w := f.deliver(captureEvent(t, "WH-EV-1", captureCompletedEvent, "CAP-1", "", "1.00", "USD"), true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "already_processed")
	assert.Zero(t, f.verifier.calls)
}

func TestWebhookHandler_EventFiltering(t *testing.T) {
	t.Run("unrelated event type is acknowledged and marked", func(t *testing.T) {
		f := newWebhookFixture()
		w := f.deliver(captureEvent(t, "WH-EV-2", "PAYMENT.CAPTURE.DENIED", "CAP-1", "", "1.00", "USD"), true)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ignored")

		seen, err := f.events.Seen(context.Background(), paypal.HandlerCode, "WH-EV-2")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("capture without order metadata is rejected", func(t *testing.T) {
		f := newWebhookFixture()
		w := f.deliver(captureEvent(t, "WH-EV-3", captureCompletedEvent, "CAP-1", "someone-elses-tag", "1.00", "USD"), true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "missing metadata")

		seen, err := f.events.Seen(context.Background(), paypal.HandlerCode, "WH-EV-3")
		require.NoError(t, err)
		assert.False(t, seen)
		f.orderSvc.AssertNotCalled(t, "FindByCode")
	})

	t.Run("capture with an empty custom id is rejected", func(t *testing.T) {
		f := newWebhookFixture()
		w := f.deliver(captureEvent(t, "WH-EV-8", captureCompletedEvent, "CAP-1", "", "1.00", "USD"), true)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		seen, err := f.events.Seen(context.Background(), paypal.HandlerCode, "WH-EV-8")
		require.NoError(t, err)
		assert.False(t, seen)
	})
}

func TestWebhookHandler_Reconciliation(t *testing.T) {
	ctx := context.Background()

	t.Run("capture settles the order", func(t *testing.T) {
		f := newWebhookFixture()
		ord := arrangingOrder()
		p := &Payment{
			ID: uuid.New(), OrderID: ord.ID, Method: paypal.HandlerCode,
			State: StateAuthorized, Amount: 12345, CurrencyCode: "USD",
			TransactionID: "PP-1", Metadata: `{"paypalOrderId":"PP-1"}`,
		}

		f.orderSvc.On("FindByCode", mock.Anything, ord.Code).Return(ord, nil)
		f.repo.On("CreateWebhookEvent", mock.Anything, mock.AnythingOfType("*payment.WebhookEvent")).Return(nil)
		f.repo.On("GetPaymentByTransactionID", mock.Anything, "CAP-1").Return(nil, ErrPaymentNotFound)
		f.repo.On("ListPaymentsForOrder", mock.Anything, ord.ID).Return([]*Payment{p}, nil)
		f.repo.On("UpdatePayment", mock.Anything, p).Return(nil)
		f.orderSvc.On("TransitionToState", mock.Anything, ord, order.StatePaymentSettled).Return(nil)
		f.repo.On("MarkWebhookEventProcessed", mock.Anything, paypal.HandlerCode, "WH-EV-4", nil).Return(nil)

		w := f.deliver(captureEvent(t, "WH-EV-4", captureCompletedEvent, "CAP-1", orderCustomID(t, ord), "123.45", "USD"), true)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "processed")
		assert.Equal(t, StateSettled, p.State)
		assert.Equal(t, "CAP-1", p.TransactionID)

		seen, err := f.events.Seen(ctx, paypal.HandlerCode, "WH-EV-4")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("unknown order is acknowledged but kept in the audit trail", func(t *testing.T) {
		f := newWebhookFixture()
		ord := arrangingOrder()

		f.orderSvc.On("FindByCode", mock.Anything, ord.Code).Return(nil, order.ErrOrderNotFound)
		f.repo.On("CreateWebhookEvent", mock.Anything, mock.AnythingOfType("*payment.WebhookEvent")).Return(nil)
		f.repo.On("MarkWebhookEventProcessed", mock.Anything, paypal.HandlerCode, "WH-EV-5", mock.Anything).Return(nil)

		w := f.deliver(captureEvent(t, "WH-EV-5", captureCompletedEvent, "CAP-1", orderCustomID(t, ord), "123.45", "USD"), true)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "failed")

		// Unmarked: the audit row holds the failure, redeliveries are
		// acknowledged again via the same path.
		seen, err := f.events.Seen(ctx, paypal.HandlerCode, "WH-EV-5")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("retryable transition failure asks for redelivery", func(t *testing.T) {
		f := newWebhookFixture()
		ord := arrangingOrder()

		f.orderSvc.On("FindByCode", mock.Anything, ord.Code).Return(ord, nil)
		f.repo.On("CreateWebhookEvent", mock.Anything, mock.AnythingOfType("*payment.WebhookEvent")).Return(nil)
		f.repo.On("GetPaymentByTransactionID", mock.Anything, "CAP-1").Return(nil, ErrPaymentNotFound)
		f.repo.On("ListPaymentsForOrder", mock.Anything, ord.ID).Return([]*Payment{}, nil)
		f.repo.On("CreatePayment", mock.Anything, mock.Anything).Return(nil)
		f.orderSvc.On("TransitionToState", mock.Anything, ord, order.StatePaymentSettled).
			Return(&order.TransitionError{
				From: ord.State, To: order.StatePaymentSettled,
				Retryable: true, Err: errors.New("storage unavailable"),
			})
		f.repo.On("MarkWebhookEventProcessed", mock.Anything, paypal.HandlerCode, "WH-EV-6", mock.Anything).Return(nil)

		w := f.deliver(captureEvent(t, "WH-EV-6", captureCompletedEvent, "CAP-1", orderCustomID(t, ord), "123.45", "USD"), true)
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		seen, err := f.events.Seen(ctx, paypal.HandlerCode, "WH-EV-6")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("redelivery after success is deduplicated", func(t *testing.T) {
		f := newWebhookFixture()
		ord := arrangingOrder()

		f.orderSvc.On("FindByCode", mock.Anything, ord.Code).Return(ord, nil)
		f.repo.On("CreateWebhookEvent", mock.Anything, mock.Anything).Return(nil)
		f.repo.On("GetPaymentByTransactionID", mock.Anything, "CAP-1").Return(nil, ErrPaymentNotFound)
		f.repo.On("ListPaymentsForOrder", mock.Anything, ord.ID).Return([]*Payment{}, nil)
		f.repo.On("CreatePayment", mock.Anything, mock.Anything).Return(nil)
		f.orderSvc.On("TransitionToState", mock.Anything, ord, order.StatePaymentSettled).Return(nil)
		f.repo.On("MarkWebhookEventProcessed", mock.Anything, paypal.HandlerCode, "WH-EV-7", nil).Return(nil)

		body := captureEvent(t, "WH-EV-7", captureCompletedEvent, "CAP-1", orderCustomID(t, ord), "123.45", "USD")
		first := f.deliver(body, true)
		assert.Equal(t, http.StatusOK, first.Code)

		second := f.deliver(body, true)
		assert.Equal(t, http.StatusOK, second.Code)
		assert.Contains(t, second.Body.String(), "already_processed")
		f.repo.AssertNumberOfCalls(t, "CreatePayment", 1)
		assert.Equal(t, 1, f.verifier.calls)
	})
}
