package provider

import (
	"context"

	"github.com/google/uuid"
)

// PaymentState represents the state of a payment after a handler operation.
type PaymentState string

const (
	PaymentStateAuthorized PaymentState = "authorized"
	PaymentStateSettled    PaymentState = "settled"
	PaymentStateDeclined   PaymentState = "declined"
	PaymentStateError      PaymentState = "error"
	PaymentStateCancelled  PaymentState = "cancelled"
)

// RefundState represents the state of a refund after a handler operation.
type RefundState string

const (
	RefundStateSettled RefundState = "settled"
	RefundStateFailed  RefundState = "failed"
)

// OrderInfo is a read-only snapshot of the order a handler operates on.
// Handlers never mutate order or payment records directly.
type OrderInfo struct {
	ID           uuid.UUID
	Code         string
	CurrencyCode string
	TotalWithTax int64 // In minor units
	ChannelToken string
	LanguageCode string
}

// PaymentInfo is a read-only snapshot of an existing payment record.
type PaymentInfo struct {
	ID            uuid.UUID
	Method        string
	Amount        int64
	CurrencyCode  string
	TransactionID string
	Metadata      string // JSON document owned by the handler
}

// CreatePaymentResult is the outcome of a payment creation attempt.
// Declines and provider failures are reported here as states, not as
// Go errors.
type CreatePaymentResult struct {
	Amount        int64
	State         PaymentState
	TransactionID string
	ErrorMessage  string
	Metadata      string
}

// SettlePaymentResult is the outcome of a settlement attempt.
type SettlePaymentResult struct {
	Success       bool
	ErrorMessage  string
	TransactionID string
	Metadata      string
}

// CreateRefundResult is the outcome of a refund attempt.
type CreateRefundResult struct {
	State         RefundState
	TransactionID string
	ErrorMessage  string
	Metadata      string
}

// CancelPaymentResult is the outcome of a cancellation attempt.
type CancelPaymentResult struct {
	Success      bool
	ErrorMessage string
	Metadata     string
}

// CredentialsConfigurable is implemented by handlers that accept
// method-level gateway credentials in place of the environment-level
// configuration.
type CredentialsConfigurable interface {
	WithProviderCredentials(clientID, clientSecret, merchantID string) PaymentHandler
}

// GatewayOrderFetcher is implemented by handlers that can fetch the raw
// provider-side order behind a payment, for support and reconciliation
// tooling.
type GatewayOrderFetcher interface {
	FetchGatewayOrder(ctx context.Context, payment *PaymentInfo) (any, error)
}

// PaymentHandler defines the operations a payment provider integration
// implements. Implementations convert provider failures into result
// values; a returned error signals a broken invariant, not a declined
// payment, and callers synthesize a declined or errored result from it.
type PaymentHandler interface {
	// Code returns the handler code payment methods reference.
	Code() string

	// CreatePayment starts a payment of amount minor units against the order.
	CreatePayment(ctx context.Context, ord *OrderInfo, amount int64, metadata string) (*CreatePaymentResult, error)

	// SettlePayment captures an authorized payment.
	SettlePayment(ctx context.Context, ord *OrderInfo, payment *PaymentInfo) (*SettlePaymentResult, error)

	// CreateRefund refunds amount minor units from a settled payment.
	CreateRefund(ctx context.Context, ord *OrderInfo, payment *PaymentInfo, amount int64, reason string) (*CreateRefundResult, error)

	// CancelPayment voids an authorized but unsettled payment.
	CancelPayment(ctx context.Context, ord *OrderInfo, payment *PaymentInfo) (*CancelPaymentResult, error)
}
