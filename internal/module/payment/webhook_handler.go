package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orderforge/payments/internal/module/order"
	"github.com/orderforge/payments/internal/module/payment/provider/paypal"
	"github.com/orderforge/payments/internal/shared/metrics"
)

// captureCompletedEvent is the only event type the reconciler acts on.
// Everything else is acknowledged and dropped.
const captureCompletedEvent = "PAYMENT.CAPTURE.COMPLETED"

// SignatureVerifier verifies a webhook delivery against the gateway.
type SignatureVerifier interface {
	VerifyWebhookSignature(ctx context.Context, creds paypal.Credentials, webhookID string, headers paypal.WebhookSignatureHeaders, rawEvent []byte) (bool, error)
}

// WebhookHandler reconciles inbound PayPal webhook events with local
// order and payment state.
type WebhookHandler struct {
	service   *Service
	orderSvc  order.ServiceInterface
	verifier  SignatureVerifier
	events    EventStore
	archiver  Archiver
	creds     paypal.Credentials
	webhookID string
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewWebhookHandler creates a new webhook handler. The webhook ID comes
// from local configuration; IDs offered by the request are never used
// for verification.
func NewWebhookHandler(
	service *Service,
	orderSvc order.ServiceInterface,
	verifier SignatureVerifier,
	events EventStore,
	archiver Archiver,
	creds paypal.Credentials,
	webhookID string,
	logger *zap.Logger,
	m *metrics.Metrics,
) *WebhookHandler {
	return &WebhookHandler{
		service:   service,
		orderSvc:  orderSvc,
		verifier:  verifier,
		events:    events,
		archiver:  archiver,
		creds:     creds,
		webhookID: webhookID,
		logger:    logger,
		metrics:   m,
	}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/paypal", h.HandlePayPalWebhook)
}

// HandlePayPalWebhook processes an inbound PayPal webhook delivery.
// The gateway retries deliveries that do not get a 2xx, so the status
// code is the retry contract: malformed or unverifiable deliveries are
// rejected with 400, structural reconciliation failures are
// acknowledged with 200 and kept in the audit row, and transient
// failures answer 500 to ask for redelivery.
func (h *WebhookHandler) HandlePayPalWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("read webhook body", zap.Error(err))
		h.observe("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	headers := paypal.WebhookSignatureHeaders{
		TransmissionID:   c.GetHeader("Paypal-Transmission-Id"),
		TransmissionTime: c.GetHeader("Paypal-Transmission-Time"),
		TransmissionSig:  c.GetHeader("Paypal-Transmission-Sig"),
		CertURL:          c.GetHeader("Paypal-Cert-Url"),
		AuthAlgo:         c.GetHeader("Paypal-Auth-Algo"),
	}
	if !headers.Complete() {
		h.logger.Warn("webhook delivery missing signature headers")
		h.observe("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing signature headers"})
		return
	}

	var event paypal.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil || event.ID == "" {
		h.logger.Warn("unparseable webhook event", zap.Error(err))
		h.observe("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}

	// Dedup before doing any work. On a store failure, processing twice
	// beats dropping an event.
	seen, err := h.events.Seen(ctx, paypal.HandlerCode, event.ID)
	if err != nil {
		h.logger.Error("webhook dedup check", zap.Error(err))
	}
	if seen {
		h.observe("duplicate")
		c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
		return
	}

	verified, err := h.verifier.VerifyWebhookSignature(ctx, h.creds, h.webhookID, headers, payload)
	if err != nil {
		// The gateway could not be asked; let it redeliver.
		h.logger.Error("webhook signature verification unavailable",
			zap.String("event_id", event.ID),
			zap.Error(err))
		h.observe("failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification unavailable"})
		return
	}
	if !verified {
		h.logger.Warn("webhook signature rejected",
			zap.String("event_id", event.ID),
			zap.String("transmission_id", headers.TransmissionID))
		h.observe("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	h.archivePayload(ctx, event.ID, payload)

	if event.EventType != captureCompletedEvent {
		h.logger.Debug("ignoring webhook event type",
			zap.String("event_id", event.ID),
			zap.String("type", event.EventType))
		h.markProcessed(ctx, event.ID)
		h.observe("ignored")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	var capture paypal.Capture
	if err := json.Unmarshal(event.Resource, &capture); err != nil || capture.ID == "" {
		h.logger.Error("unparseable capture resource",
			zap.String("event_id", event.ID),
			zap.Error(err))
		h.observe("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid capture resource"})
		return
	}

	// The custom_id metadata is the only link back to the local order.
	// A capture without it cannot be reconciled, so the delivery is
	// rejected rather than acknowledged.
	md := paypal.DecodeOrderMetadata(capture.CustomID, h.logger)
	if md == nil {
		h.logger.Warn("capture missing order metadata",
			zap.String("event_id", event.ID),
			zap.String("capture_id", capture.ID))
		h.observe("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing metadata"})
		return
	}

	h.service.RecordWebhookEvent(ctx, &WebhookEvent{
		Provider:  paypal.HandlerCode,
		EventID:   event.ID,
		EventType: event.EventType,
		OrderCode: md.OrderCode,
		Data:      string(payload),
	})

	processErr := h.reconcile(ctx, md, &capture, event.ID)
	h.service.MarkWebhookEventOutcome(ctx, paypal.HandlerCode, event.ID, processErr)

	if processErr == nil {
		h.markProcessed(ctx, event.ID)
		h.observe("processed")
		c.JSON(http.StatusOK, gin.H{"status": "processed"})
		return
	}

	if isRetryable(processErr) {
		h.logger.Error("webhook reconciliation failed, awaiting redelivery",
			zap.String("event_id", event.ID),
			zap.String("order_code", md.OrderCode),
			zap.Error(processErr))
		h.observe("failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	// Structural failures never succeed on redelivery; acknowledge so
	// the gateway stops retrying, but leave the event unmarked so the
	// audit row keeps the error.
	h.logger.Error("webhook reconciliation failed structurally",
		zap.String("event_id", event.ID),
		zap.String("order_code", md.OrderCode),
		zap.Error(processErr))
	h.observe("failed")
	c.JSON(http.StatusOK, gin.H{"status": "failed"})
}

// reconcile applies a verified capture to the local order.
func (h *WebhookHandler) reconcile(ctx context.Context, md *paypal.OrderMetadata, capture *paypal.Capture, eventID string) error {
	ord, err := h.orderSvc.FindByCode(ctx, md.OrderCode)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return &order.TransitionError{
				From: order.StateCreated,
				To:   order.StatePaymentSettled,
				Err:  err,
			}
		}
		return err
	}

	amount := int64(0)
	currency := ord.CurrencyCode
	if capture.Amount != nil {
		currency = capture.Amount.CurrencyCode
		amount, err = paypal.ToMinorUnits(capture.Amount.Value, capture.Amount.CurrencyCode)
		if err != nil {
			return &order.TransitionError{From: ord.State, To: order.StatePaymentSettled, Err: err}
		}
	}

	meta := &paypal.IntentMetadata{
		CaptureID:    capture.ID,
		CurrencyCode: currency,
	}
	metaJSON, _ := json.Marshal(meta)

	return h.service.SettleOrderFromCapture(ctx, ord, &CaptureNotification{
		Provider:     paypal.HandlerCode,
		EventID:      eventID,
		CaptureID:    capture.ID,
		Amount:       amount,
		CurrencyCode: currency,
		Metadata:     string(metaJSON),
	})
}

func (h *WebhookHandler) markProcessed(ctx context.Context, eventID string) {
	if err := h.events.MarkProcessed(ctx, paypal.HandlerCode, eventID); err != nil {
		h.logger.Error("mark webhook event processed",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}

func (h *WebhookHandler) archivePayload(ctx context.Context, eventID string, payload []byte) {
	if h.archiver == nil {
		return
	}
	if err := h.archiver.Archive(ctx, paypal.HandlerCode, eventID, payload); err != nil {
		h.logger.Warn("archive webhook payload",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}

func (h *WebhookHandler) observe(result string) {
	if h.metrics == nil {
		return
	}
	h.metrics.WebhookEventsTotal.WithLabelValues(paypal.HandlerCode, result).Inc()
}

// isRetryable reports whether a reconciliation failure is worth a
// gateway redelivery. Unknown errors default to retryable; storage and
// network blips are the common case.
func isRetryable(err error) bool {
	var te *order.TransitionError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return true
}
