package stripe

import (
	"context"
	"encoding/json"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"go.uber.org/zap"

	"github.com/orderforge/payments/internal/module/payment/provider"
)

// HandlerCode is the handler code payment methods reference.
const HandlerCode = "stripe"

// intentMetadata is the handler-owned metadata stored on a payment.
type intentMetadata struct {
	PaymentIntentID string          `json:"paymentIntentId"`
	CurrencyCode    string          `json:"currencyCode"`
	Captured        bool            `json:"captured,omitempty"`
	Public          *publicMetadata `json:"public,omitempty"`
}

type publicMetadata struct {
	ClientSecret string `json:"clientSecret,omitempty"`
}

func (m *intentMetadata) encode() string {
	encoded, _ := json.Marshal(m)
	return string(encoded)
}

// Handler implements the payment lifecycle on Stripe payment intents.
// Intents are created with manual capture so settlement stays a
// distinct step, like the rest of the handlers.
type Handler struct {
	apiKey string
	logger *zap.Logger
}

// NewHandler creates a Stripe payment handler.
func NewHandler(apiKey string, logger *zap.Logger) *Handler {
	stripeapi.Key = apiKey
	return &Handler{apiKey: apiKey, logger: logger}
}

// Code returns the handler code.
func (h *Handler) Code() string {
	return HandlerCode
}

// CreatePayment creates a manual-capture payment intent for the order.
func (h *Handler) CreatePayment(ctx context.Context, ord *provider.OrderInfo, amount int64, metadata string) (*provider.CreatePaymentResult, error) {
	if amount != ord.TotalWithTax {
		return &provider.CreatePaymentResult{
			Amount:       amount,
			State:        provider.PaymentStateDeclined,
			ErrorMessage: "amount does not match order total",
		}, nil
	}

	params := &stripeapi.PaymentIntentParams{
		Amount:        stripeapi.Int64(amount),
		Currency:      stripeapi.String(strings.ToLower(ord.CurrencyCode)),
		CaptureMethod: stripeapi.String(string(stripeapi.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	params.AddMetadata("order_code", ord.Code)
	params.AddMetadata("order_id", ord.ID.String())
	params.AddMetadata("channel_token", ord.ChannelToken)

	pi, err := paymentintent.New(params)
	if err != nil {
		h.logger.Warn("payment intent creation failed",
			zap.String("order_code", ord.Code),
			zap.Error(err))
		return &provider.CreatePaymentResult{
			Amount:       amount,
			State:        provider.PaymentStateDeclined,
			ErrorMessage: err.Error(),
		}, nil
	}

	meta := &intentMetadata{
		PaymentIntentID: pi.ID,
		CurrencyCode:    ord.CurrencyCode,
		Public:          &publicMetadata{ClientSecret: pi.ClientSecret},
	}
	return &provider.CreatePaymentResult{
		Amount:        amount,
		State:         provider.PaymentStateAuthorized,
		TransactionID: pi.ID,
		Metadata:      meta.encode(),
	}, nil
}

// SettlePayment captures the payment intent. An already-captured
// payment succeeds immediately.
func (h *Handler) SettlePayment(ctx context.Context, ord *provider.OrderInfo, payment *provider.PaymentInfo) (*provider.SettlePaymentResult, error) {
	meta, err := h.paymentMetadata(payment)
	if err != nil {
		return &provider.SettlePaymentResult{Success: false, ErrorMessage: err.Error()}, nil
	}
	if meta.Captured {
		return &provider.SettlePaymentResult{
			Success:       true,
			TransactionID: meta.PaymentIntentID,
			Metadata:      meta.encode(),
		}, nil
	}

	pi, err := paymentintent.Capture(meta.PaymentIntentID, nil)
	if err != nil {
		h.logger.Warn("payment intent capture failed",
			zap.String("order_code", ord.Code),
			zap.String("payment_intent_id", meta.PaymentIntentID),
			zap.Error(err))
		return &provider.SettlePaymentResult{Success: false, ErrorMessage: err.Error()}, nil
	}
	if pi.Status != stripeapi.PaymentIntentStatusSucceeded {
		return &provider.SettlePaymentResult{
			Success:      false,
			ErrorMessage: "payment intent is in state " + string(pi.Status),
		}, nil
	}

	meta.Captured = true
	return &provider.SettlePaymentResult{
		Success:       true,
		TransactionID: pi.ID,
		Metadata:      meta.encode(),
	}, nil
}

// CreateRefund refunds amount minor units from the payment intent.
func (h *Handler) CreateRefund(ctx context.Context, ord *provider.OrderInfo, payment *provider.PaymentInfo, amount int64, reason string) (*provider.CreateRefundResult, error) {
	meta, err := h.paymentMetadata(payment)
	if err != nil {
		return &provider.CreateRefundResult{State: provider.RefundStateFailed, ErrorMessage: err.Error()}, nil
	}

	params := &stripeapi.RefundParams{
		PaymentIntent: stripeapi.String(meta.PaymentIntentID),
		Amount:        stripeapi.Int64(amount),
	}
	if reason != "" {
		params.AddMetadata("reason", reason)
	}

	r, err := refund.New(params)
	if err != nil {
		h.logger.Warn("refund failed",
			zap.String("order_code", ord.Code),
			zap.String("payment_intent_id", meta.PaymentIntentID),
			zap.Error(err))
		return &provider.CreateRefundResult{State: provider.RefundStateFailed, ErrorMessage: err.Error()}, nil
	}
	if r.Status != stripeapi.RefundStatusSucceeded && r.Status != stripeapi.RefundStatusPending {
		return &provider.CreateRefundResult{
			State:        provider.RefundStateFailed,
			ErrorMessage: "refund is in state " + string(r.Status),
		}, nil
	}

	return &provider.CreateRefundResult{
		State:         provider.RefundStateSettled,
		TransactionID: r.ID,
	}, nil
}

// CancelPayment cancels an uncaptured payment intent.
func (h *Handler) CancelPayment(ctx context.Context, ord *provider.OrderInfo, payment *provider.PaymentInfo) (*provider.CancelPaymentResult, error) {
	meta, err := h.paymentMetadata(payment)
	if err != nil {
		return &provider.CancelPaymentResult{Success: false, ErrorMessage: err.Error()}, nil
	}
	if meta.Captured {
		return &provider.CancelPaymentResult{
			Success:      false,
			ErrorMessage: "captured payments are refunded, not cancelled",
		}, nil
	}

	if _, err := paymentintent.Cancel(meta.PaymentIntentID, nil); err != nil {
		return &provider.CancelPaymentResult{Success: false, ErrorMessage: err.Error()}, nil
	}
	return &provider.CancelPaymentResult{Success: true, Metadata: meta.encode()}, nil
}

func (h *Handler) paymentMetadata(payment *provider.PaymentInfo) (*intentMetadata, error) {
	var meta intentMetadata
	if err := json.Unmarshal([]byte(payment.Metadata), &meta); err != nil {
		return nil, err
	}
	if meta.PaymentIntentID == "" {
		meta.PaymentIntentID = payment.TransactionID
	}
	return &meta, nil
}
