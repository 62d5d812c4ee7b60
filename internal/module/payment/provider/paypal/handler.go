package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/orderforge/payments/internal/module/payment/provider"
)

// HandlerCode is the handler code payment methods reference.
const HandlerCode = "paypal"

// IntentMetadata is the handler-owned metadata document stored on a
// payment record. It accumulates gateway identifiers as the payment
// moves through its lifecycle.
type IntentMetadata struct {
	PayPalOrderID   string          `json:"paypalOrderId"`
	Intent          Intent          `json:"intent"`
	CurrencyCode    string          `json:"currencyCode"`
	AuthorizationID string          `json:"authorizationId,omitempty"`
	CaptureID       string          `json:"captureId,omitempty"`
	PayerEmail      string          `json:"payerEmail,omitempty"`
	Public          *PublicMetadata `json:"public,omitempty"`
}

// PublicMetadata is the slice of metadata safe to expose to buyers.
type PublicMetadata struct {
	ApprovalURL string `json:"approvalUrl,omitempty"`
}

func (m *IntentMetadata) encode() string {
	encoded, _ := json.Marshal(m)
	return string(encoded)
}

// Options configures the handler.
type Options struct {
	Credentials Credentials
	Intent      Intent
	BrandName   string
	ReturnURL   string
	CancelURL   string
}

// Handler implements the payment lifecycle against the PayPal gateway.
type Handler struct {
	client *Client
	opts   Options
	logger *zap.Logger
}

// NewHandler creates a PayPal payment handler.
func NewHandler(client *Client, opts Options, logger *zap.Logger) *Handler {
	if opts.Intent == "" {
		opts.Intent = IntentCapture
	}
	return &Handler{client: client, opts: opts, logger: logger}
}

// Code returns the handler code.
func (h *Handler) Code() string {
	return HandlerCode
}

// WithProviderCredentials returns a copy of the handler bound to
// method-level credentials.
func (h *Handler) WithProviderCredentials(clientID, clientSecret, merchantID string) provider.PaymentHandler {
	clone := *h
	clone.opts.Credentials = Credentials{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		MerchantID:   merchantID,
		Mode:         h.opts.Credentials.Mode,
	}
	return &clone
}

// createPaymentInput is the metadata accepted when a payment is added
// to an order. A storefront that already created and had the buyer
// approve a gateway order passes its ID here.
type createPaymentInput struct {
	PayPalOrderID string `json:"paypalOrderId"`
}

// CreatePayment attaches a gateway order to the local order. When the
// caller supplies an approved gateway order it is validated against the
// local order; otherwise a fresh gateway order is created and its
// approval URL returned for the buyer. Gateway failures and total
// mismatches decline the payment rather than erroring.
func (h *Handler) CreatePayment(ctx context.Context, ord *provider.OrderInfo, amount int64, metadata string) (*provider.CreatePaymentResult, error) {
	var input createPaymentInput
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &input); err != nil {
			return declined(amount, fmt.Sprintf("invalid payment metadata: %v", err)), nil
		}
	}

	if amount != ord.TotalWithTax {
		return declined(amount, "amount does not match order total"), nil
	}

	var gatewayOrder *Order
	var err error
	if input.PayPalOrderID != "" {
		gatewayOrder, err = h.client.GetOrder(ctx, h.opts.Credentials, input.PayPalOrderID)
	} else {
		gatewayOrder, err = h.createGatewayOrder(ctx, ord)
	}
	if err != nil {
		h.logger.Warn("gateway order unavailable",
			zap.String("order_code", ord.Code),
			zap.Error(err))
		return declined(amount, err.Error()), nil
	}

	if msg := h.validateGatewayOrder(gatewayOrder, ord); msg != "" {
		return declined(amount, msg), nil
	}

	meta := &IntentMetadata{
		PayPalOrderID: gatewayOrder.ID,
		Intent:        h.opts.Intent,
		CurrencyCode:  ord.CurrencyCode,
	}
	if url := gatewayOrder.ApprovalURL(); url != "" {
		meta.Public = &PublicMetadata{ApprovalURL: url}
	}

	return &provider.CreatePaymentResult{
		Amount:        amount,
		State:         provider.PaymentStateAuthorized,
		TransactionID: gatewayOrder.ID,
		Metadata:      meta.encode(),
	}, nil
}

func (h *Handler) createGatewayOrder(ctx context.Context, ord *provider.OrderInfo) (*Order, error) {
	customID, err := EncodeOrderMetadata(&OrderMetadata{
		ChannelToken: ord.ChannelToken,
		OrderCode:    ord.Code,
		OrderID:      ord.ID.String(),
		LanguageCode: ord.LanguageCode,
	})
	if err != nil {
		return nil, err
	}

	return h.client.CreateOrder(ctx, h.opts.Credentials, CreateOrderParams{
		Intent:       h.opts.Intent,
		CurrencyCode: ord.CurrencyCode,
		MinorUnits:   ord.TotalWithTax,
		CustomID:     customID,
		BrandName:    h.opts.BrandName,
		Locale:       locale(ord.LanguageCode),
		ReturnURL:    h.opts.ReturnURL,
		CancelURL:    h.opts.CancelURL,
	})
}

// validateGatewayOrder checks a gateway order against the local order.
// It returns a decline message, or empty when the order is acceptable.
func (h *Handler) validateGatewayOrder(gatewayOrder *Order, ord *provider.OrderInfo) string {
	if len(gatewayOrder.PurchaseUnits) != 1 || gatewayOrder.PurchaseUnits[0].Amount == nil {
		return "gateway order has no purchase unit"
	}
	unit := gatewayOrder.PurchaseUnits[0]
	if !strings.EqualFold(unit.Amount.CurrencyCode, ord.CurrencyCode) {
		return fmt.Sprintf(
			"gateway order currency %s does not match order currency %s",
			unit.Amount.CurrencyCode, ord.CurrencyCode,
		)
	}
	total, err := ToMinorUnits(unit.Amount.Value, unit.Amount.CurrencyCode)
	if err != nil {
		return fmt.Sprintf("unparseable gateway order total: %v", err)
	}
	if total != ord.TotalWithTax {
		return "gateway order total does not match order total"
	}
	return ""
}

// SettlePayment captures the payment's funds. A payment that already
// carries a capture ID settled on an earlier attempt and succeeds
// immediately without touching the gateway.
func (h *Handler) SettlePayment(ctx context.Context, ord *provider.OrderInfo, payment *provider.PaymentInfo) (*provider.SettlePaymentResult, error) {
	meta, err := h.paymentMetadata(payment)
	if err != nil {
		return settleFailed(err.Error()), nil
	}
	if !strings.EqualFold(meta.CurrencyCode, ord.CurrencyCode) {
		return settleFailed(fmt.Sprintf(
			"payment currency %s does not match order currency %s",
			meta.CurrencyCode, ord.CurrencyCode,
		)), nil
	}
	if meta.CaptureID != "" {
		return &provider.SettlePaymentResult{
			Success:       true,
			TransactionID: meta.CaptureID,
			Metadata:      meta.encode(),
		}, nil
	}

	capture, payer, err := h.capture(ctx, meta)
	if err != nil {
		h.logger.Warn("capture failed",
			zap.String("order_code", ord.Code),
			zap.String("paypal_order_id", meta.PayPalOrderID),
			zap.Error(err))
		return settleFailed(err.Error()), nil
	}

	if capture.Status != CaptureStatusCompleted {
		return settleFailed(fmt.Sprintf("capture is in state %s", capture.Status)), nil
	}
	if capture.Amount == nil {
		return settleFailed("capture carries no amount"), nil
	}
	if !strings.EqualFold(capture.Amount.CurrencyCode, ord.CurrencyCode) {
		return settleFailed(fmt.Sprintf(
			"captured currency %s does not match order currency %s",
			capture.Amount.CurrencyCode, ord.CurrencyCode,
		)), nil
	}
	captured, err := ToMinorUnits(capture.Amount.Value, capture.Amount.CurrencyCode)
	if err != nil {
		return settleFailed(fmt.Sprintf("unparseable captured amount: %v", err)), nil
	}
	if captured != payment.Amount {
		return settleFailed(fmt.Sprintf(
			"captured amount %d does not match payment amount %d",
			captured, payment.Amount,
		)), nil
	}

	meta.CaptureID = capture.ID
	if payer != nil {
		meta.PayerEmail = payer.EmailAddress
	}
	return &provider.SettlePaymentResult{
		Success:       true,
		TransactionID: capture.ID,
		Metadata:      meta.encode(),
	}, nil
}

// capture completes the order according to its intent and returns the
// resulting capture. For AUTHORIZE orders the authorization is created
// first if the payment does not hold one yet.
func (h *Handler) capture(ctx context.Context, meta *IntentMetadata) (*Capture, *Payer, error) {
	if meta.Intent == IntentAuthorize {
		if meta.AuthorizationID == "" {
			authOrder, err := h.client.AuthorizeOrder(ctx, h.opts.Credentials, meta.PayPalOrderID)
			if err != nil {
				return nil, nil, err
			}
			auth := firstAuthorization(authOrder)
			if auth == nil {
				return nil, nil, fmt.Errorf("gateway order %s yielded no authorization", meta.PayPalOrderID)
			}
			meta.AuthorizationID = auth.ID
		}
		capture, err := h.client.CaptureAuthorization(ctx, h.opts.Credentials, meta.AuthorizationID)
		if err != nil {
			return nil, nil, err
		}
		return capture, nil, nil
	}

	captureOrder, err := h.client.CaptureOrder(ctx, h.opts.Credentials, meta.PayPalOrderID)
	if err != nil {
		return nil, nil, err
	}
	capture := firstCapture(captureOrder)
	if capture == nil {
		return nil, nil, fmt.Errorf("gateway order %s yielded no capture", meta.PayPalOrderID)
	}
	return capture, captureOrder.Payer, nil
}

// CreateRefund refunds amount minor units from the payment's capture.
func (h *Handler) CreateRefund(ctx context.Context, ord *provider.OrderInfo, payment *provider.PaymentInfo, amount int64, reason string) (*provider.CreateRefundResult, error) {
	meta, err := h.paymentMetadata(payment)
	if err != nil {
		return refundFailed(err.Error()), nil
	}

	captureID := meta.CaptureID
	if captureID == "" {
		captureID = payment.TransactionID
	}
	if captureID == "" {
		return refundFailed("payment has no capture to refund"), nil
	}
	if !strings.EqualFold(meta.CurrencyCode, ord.CurrencyCode) {
		return refundFailed(fmt.Sprintf(
			"payment currency %s does not match order currency %s",
			meta.CurrencyCode, ord.CurrencyCode,
		)), nil
	}

	refund, err := h.client.RefundCapture(ctx, h.opts.Credentials, captureID, amount, ord.CurrencyCode)
	if err != nil {
		h.logger.Warn("refund failed",
			zap.String("order_code", ord.Code),
			zap.String("capture_id", captureID),
			zap.Error(err))
		return refundFailed(err.Error()), nil
	}
	if refund.Status != RefundStatusCompleted {
		return refundFailed(fmt.Sprintf("refund is in state %s", refund.Status)), nil
	}

	return &provider.CreateRefundResult{
		State:         provider.RefundStateSettled,
		TransactionID: refund.ID,
	}, nil
}

// CancelPayment voids the authorization behind an unsettled payment.
// CAPTURE-intent payments hold no funds before settlement, so there is
// nothing to release and cancellation succeeds as a no-op.
func (h *Handler) CancelPayment(ctx context.Context, ord *provider.OrderInfo, payment *provider.PaymentInfo) (*provider.CancelPaymentResult, error) {
	meta, err := h.paymentMetadata(payment)
	if err != nil {
		return &provider.CancelPaymentResult{Success: false, ErrorMessage: err.Error()}, nil
	}
	if meta.Intent != IntentAuthorize {
		return &provider.CancelPaymentResult{Success: true}, nil
	}
	if meta.AuthorizationID == "" {
		h.logger.Warn("cancelling authorize-intent payment without authorization",
			zap.String("order_code", ord.Code),
			zap.String("paypal_order_id", meta.PayPalOrderID))
		return &provider.CancelPaymentResult{Success: true}, nil
	}

	if err := h.client.VoidAuthorization(ctx, h.opts.Credentials, meta.AuthorizationID); err != nil {
		h.logger.Warn("void failed",
			zap.String("order_code", ord.Code),
			zap.String("authorization_id", meta.AuthorizationID),
			zap.Error(err))
		return &provider.CancelPaymentResult{Success: false, ErrorMessage: err.Error()}, nil
	}
	return &provider.CancelPaymentResult{Success: true, Metadata: meta.encode()}, nil
}

// FetchGatewayOrder returns the gateway order behind a payment.
func (h *Handler) FetchGatewayOrder(ctx context.Context, payment *provider.PaymentInfo) (any, error) {
	meta, err := h.paymentMetadata(payment)
	if err != nil {
		return nil, err
	}
	return h.client.GetOrder(ctx, h.opts.Credentials, meta.PayPalOrderID)
}

func (h *Handler) paymentMetadata(payment *provider.PaymentInfo) (*IntentMetadata, error) {
	var meta IntentMetadata
	if err := json.Unmarshal([]byte(payment.Metadata), &meta); err != nil {
		return nil, fmt.Errorf("payment %s carries unreadable metadata: %w", payment.ID, err)
	}
	if meta.PayPalOrderID == "" {
		return nil, fmt.Errorf("payment %s carries no gateway order id", payment.ID)
	}
	return &meta, nil
}

func firstCapture(order *Order) *Capture {
	for _, unit := range order.PurchaseUnits {
		if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
			return &unit.Payments.Captures[0]
		}
	}
	return nil
}

func firstAuthorization(order *Order) *Authorization {
	for _, unit := range order.PurchaseUnits {
		if unit.Payments != nil && len(unit.Payments.Authorizations) > 0 {
			return &unit.Payments.Authorizations[0]
		}
	}
	return nil
}

func declined(amount int64, message string) *provider.CreatePaymentResult {
	return &provider.CreatePaymentResult{
		Amount:       amount,
		State:        provider.PaymentStateDeclined,
		ErrorMessage: message,
	}
}

func settleFailed(message string) *provider.SettlePaymentResult {
	return &provider.SettlePaymentResult{Success: false, ErrorMessage: message}
}

func refundFailed(message string) *provider.CreateRefundResult {
	return &provider.CreateRefundResult{State: provider.RefundStateFailed, ErrorMessage: message}
}

// locale passes a full locale tag through to the gateway. Bare language
// codes are omitted since the gateway rejects region-less tags.
func locale(languageCode string) string {
	if strings.Contains(languageCode, "-") {
		return languageCode
	}
	return ""
}
