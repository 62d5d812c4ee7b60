package payment

import "errors"

// Module errors.
var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrMethodNotFound       = errors.New("payment method not found")
	ErrMethodDisabled       = errors.New("payment method is disabled")
	ErrHandlerNotFound      = errors.New("payment handler not found")
	ErrPaymentNotSettleable = errors.New("payment is not in a settleable state")
	ErrPaymentNotRefundable = errors.New("payment is not in a refundable state")
	ErrPaymentNotCancelable = errors.New("payment is not in a cancelable state")
	ErrRefundExceedsBalance = errors.New("refund exceeds the refundable balance")
)
