package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderforge/payments/internal/module/order"
	"github.com/orderforge/payments/internal/module/payment/provider"
	"github.com/orderforge/payments/internal/shared/metrics"
)

// ErrOrderNotPayable is returned when an order is in a state that does
// not accept payments.
var ErrOrderNotPayable = errors.New("order does not accept payments in its current state")

// ServiceInterface defines the payment service interface.
type ServiceInterface interface {
	AddPaymentToOrder(ctx context.Context, req *AddPaymentRequest) (*Payment, error)
	SettlePayment(ctx context.Context, paymentID uuid.UUID) (*Payment, error)
	CreateRefund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*Refund, error)
	CancelPayment(ctx context.Context, paymentID uuid.UUID) (*Payment, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*Payment, error)
	ListPaymentsForOrder(ctx context.Context, orderID uuid.UUID) ([]*Payment, error)
	GetEligibleMethods(ctx context.Context) ([]*Method, error)
	FetchGatewayOrder(ctx context.Context, paymentID uuid.UUID) (any, error)
	SettleOrderFromCapture(ctx context.Context, ord *order.Order, capture *CaptureNotification) error
}

// AddPaymentRequest holds the inputs for adding a payment to an order.
type AddPaymentRequest struct {
	OrderCode  string `json:"order_code" binding:"required"`
	MethodCode string `json:"method_code" binding:"required"`
	// Metadata is passed through to the handler untouched.
	Metadata string `json:"metadata"`
}

// CaptureNotification carries the facts of a completed capture reported
// by a webhook.
type CaptureNotification struct {
	Provider     string
	EventID      string
	CaptureID    string
	Amount       int64
	CurrencyCode string
	Metadata     string
}

// Service implements payment operations.
type Service struct {
	repo     Repository
	orderSvc order.ServiceInterface
	registry *HandlerRegistry
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewService creates a new payment service. m may be nil.
func NewService(repo Repository, orderSvc order.ServiceInterface, registry *HandlerRegistry, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:     repo,
		orderSvc: orderSvc,
		registry: registry,
		logger:   logger,
		metrics:  m,
	}
}

// AddPaymentToOrder runs the configured handler's payment creation and
// records the outcome. Handler declines come back as a payment record
// in the declined state, not as an error.
func (s *Service) AddPaymentToOrder(ctx context.Context, req *AddPaymentRequest) (*Payment, error) {
	ord, err := s.orderSvc.FindByCode(ctx, req.OrderCode)
	if err != nil {
		return nil, err
	}

	if ord.State == order.StateCreated {
		if err := s.orderSvc.TransitionToState(ctx, ord, order.StateArrangingPayment); err != nil {
			return nil, err
		}
	}
	if ord.State != order.StateArrangingPayment {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotPayable, ord.Code, ord.State)
	}

	method, handler, err := s.resolveHandler(ctx, req.MethodCode)
	if err != nil {
		return nil, err
	}

	amount := ord.TotalWithTax
	result, err := handler.CreatePayment(ctx, orderInfo(ord), amount, req.Metadata)
	if err != nil {
		// Result-value policy: a handler error still yields a payment
		// record, in the error state.
		s.logger.Error("payment handler failed",
			zap.String("order_code", ord.Code),
			zap.String("method", method.Code),
			zap.Error(err))
		result = &provider.CreatePaymentResult{
			Amount:       amount,
			State:        provider.PaymentStateError,
			ErrorMessage: err.Error(),
		}
	}

	p := &Payment{
		ID:            uuid.New(),
		OrderID:       ord.ID,
		Method:        method.Code,
		State:         paymentState(result.State),
		Amount:        result.Amount,
		CurrencyCode:  ord.CurrencyCode,
		TransactionID: result.TransactionID,
		ErrorMessage:  result.ErrorMessage,
		Metadata:      result.Metadata,
	}
	if p.State == StateSettled {
		now := time.Now()
		p.SettledAt = &now
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	s.recordOperation("create", method.Code, string(p.State))

	switch p.State {
	case StateAuthorized:
		s.transitionAfterPayment(ctx, ord, order.StatePaymentAuthorized)
	case StateSettled:
		s.transitionAfterPayment(ctx, ord, order.StatePaymentSettled)
	}
	return p, nil
}

// SettlePayment captures an authorized payment. Settling an already
// settled payment succeeds without touching the gateway.
func (s *Service) SettlePayment(ctx context.Context, paymentID uuid.UUID) (*Payment, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.IsSettled() {
		return p, nil
	}
	if p.State != StateAuthorized && p.State != StateError {
		return nil, fmt.Errorf("%w: payment is %s", ErrPaymentNotSettleable, p.State)
	}

	ord, err := s.orderSvc.GetOrder(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	method, handler, err := s.resolveHandler(ctx, p.Method)
	if err != nil {
		return nil, err
	}

	result, err := handler.SettlePayment(ctx, orderInfo(ord), paymentInfo(p))
	if err != nil {
		result = &provider.SettlePaymentResult{Success: false, ErrorMessage: err.Error()}
	}

	if !result.Success {
		p.State = StateError
		p.ErrorMessage = result.ErrorMessage
		if err := s.repo.UpdatePayment(ctx, p); err != nil {
			return nil, fmt.Errorf("record settlement failure: %w", err)
		}
		s.recordOperation("settle", method.Code, "failed")
		return p, nil
	}

	now := time.Now()
	p.State = StateSettled
	p.ErrorMessage = ""
	p.SettledAt = &now
	if result.TransactionID != "" {
		p.TransactionID = result.TransactionID
	}
	if result.Metadata != "" {
		p.Metadata = result.Metadata
	}
	if err := s.repo.UpdatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("record settlement: %w", err)
	}
	s.recordOperation("settle", method.Code, "settled")

	s.transitionAfterPayment(ctx, ord, order.StatePaymentSettled)
	return p, nil
}

// CreateRefund refunds part or all of a settled payment.
func (s *Service) CreateRefund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*Refund, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.IsSettled() {
		return nil, fmt.Errorf("%w: payment is %s", ErrPaymentNotRefundable, p.State)
	}
	if amount <= 0 || amount > p.RefundableAmount() {
		return nil, fmt.Errorf("%w: %d of %d available", ErrRefundExceedsBalance, amount, p.RefundableAmount())
	}

	ord, err := s.orderSvc.GetOrder(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	method, handler, err := s.resolveHandler(ctx, p.Method)
	if err != nil {
		return nil, err
	}

	result, err := handler.CreateRefund(ctx, orderInfo(ord), paymentInfo(p), amount, reason)
	if err != nil {
		result = &provider.CreateRefundResult{State: provider.RefundStateFailed, ErrorMessage: err.Error()}
	}

	ref := &Refund{
		ID:            uuid.New(),
		PaymentID:     p.ID,
		Amount:        amount,
		State:         refundState(result.State),
		TransactionID: result.TransactionID,
		Reason:        reason,
		ErrorMessage:  result.ErrorMessage,
	}
	if err := s.repo.CreateRefund(ctx, ref); err != nil {
		return nil, fmt.Errorf("record refund: %w", err)
	}
	s.recordOperation("refund", method.Code, string(ref.State))

	if ref.State == RefundStateSettled {
		p.RefundedAmount += amount
		if err := s.repo.UpdatePayment(ctx, p); err != nil {
			return nil, fmt.Errorf("record refunded amount: %w", err)
		}
	}
	return ref, nil
}

// CancelPayment voids an authorized payment.
func (s *Service) CancelPayment(ctx context.Context, paymentID uuid.UUID) (*Payment, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.State != StateAuthorized {
		return nil, fmt.Errorf("%w: payment is %s", ErrPaymentNotCancelable, p.State)
	}

	ord, err := s.orderSvc.GetOrder(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	method, handler, err := s.resolveHandler(ctx, p.Method)
	if err != nil {
		return nil, err
	}

	result, err := handler.CancelPayment(ctx, orderInfo(ord), paymentInfo(p))
	if err != nil {
		result = &provider.CancelPaymentResult{Success: false, ErrorMessage: err.Error()}
	}
	if !result.Success {
		p.ErrorMessage = result.ErrorMessage
		if err := s.repo.UpdatePayment(ctx, p); err != nil {
			return nil, fmt.Errorf("record cancellation failure: %w", err)
		}
		s.recordOperation("cancel", method.Code, "failed")
		return nil, fmt.Errorf("cancel payment: %s", result.ErrorMessage)
	}

	p.State = StateCancelled
	p.ErrorMessage = ""
	if result.Metadata != "" {
		p.Metadata = result.Metadata
	}
	if err := s.repo.UpdatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("record cancellation: %w", err)
	}
	s.recordOperation("cancel", method.Code, "cancelled")
	return p, nil
}

// GetPayment returns a payment by ID.
func (s *Service) GetPayment(ctx context.Context, paymentID uuid.UUID) (*Payment, error) {
	return s.repo.GetPayment(ctx, paymentID)
}

// ListPaymentsForOrder returns all payments recorded against an order.
func (s *Service) ListPaymentsForOrder(ctx context.Context, orderID uuid.UUID) ([]*Payment, error) {
	return s.repo.ListPaymentsForOrder(ctx, orderID)
}

// GetEligibleMethods returns the enabled payment methods whose handler
// is registered.
func (s *Service) GetEligibleMethods(ctx context.Context) ([]*Method, error) {
	methods, err := s.repo.ListEnabledMethods(ctx)
	if err != nil {
		return nil, err
	}
	eligible := make([]*Method, 0, len(methods))
	for _, m := range methods {
		if _, err := s.registry.Get(m.HandlerCode); err == nil {
			eligible = append(eligible, m)
		}
	}
	return eligible, nil
}

// FetchGatewayOrder returns the raw provider-side order behind a
// payment, when the handler supports it.
func (s *Service) FetchGatewayOrder(ctx context.Context, paymentID uuid.UUID) (any, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	_, handler, err := s.resolveHandler(ctx, p.Method)
	if err != nil {
		return nil, err
	}
	fetcher, ok := handler.(provider.GatewayOrderFetcher)
	if !ok {
		return nil, fmt.Errorf("handler %s does not expose gateway orders", p.Method)
	}
	return fetcher.FetchGatewayOrder(ctx, paymentInfo(p))
}

// SettleOrderFromCapture records a capture the gateway reported through
// a webhook. Funds are already captured, so no gateway call is made;
// the order is moved to payment_settled and a settled payment recorded.
// Transition failures keep their retryable or structural classification
// for the caller to map to an HTTP response.
func (s *Service) SettleOrderFromCapture(ctx context.Context, ord *order.Order, capture *CaptureNotification) error {
	if ord.IsSettled() {
		return nil
	}

	// A capture can land on an order still in the created state when the
	// buyer approved the gateway order before any payment was attached.
	if ord.State == order.StateCreated {
		if err := s.orderSvc.TransitionToState(ctx, ord, order.StateArrangingPayment); err != nil {
			return err
		}
	}

	if p := s.findPaymentForCapture(ctx, ord, capture); p != nil {
		now := time.Now()
		p.State = StateSettled
		p.ErrorMessage = ""
		p.TransactionID = capture.CaptureID
		p.SettledAt = &now
		if capture.Metadata != "" {
			p.Metadata = mergeCaptureMetadata(p.Metadata, capture)
		}
		if err := s.repo.UpdatePayment(ctx, p); err != nil {
			return fmt.Errorf("record captured payment: %w", err)
		}
	} else {
		p := &Payment{
			ID:            uuid.New(),
			OrderID:       ord.ID,
			Method:        capture.Provider,
			State:         StateSettled,
			Amount:        capture.Amount,
			CurrencyCode:  capture.CurrencyCode,
			TransactionID: capture.CaptureID,
			Metadata:      capture.Metadata,
		}
		now := time.Now()
		p.SettledAt = &now
		if err := s.repo.CreatePayment(ctx, p); err != nil {
			return fmt.Errorf("record captured payment: %w", err)
		}
	}
	s.recordOperation("settle", capture.Provider, "settled")

	return s.orderSvc.TransitionToState(ctx, ord, order.StatePaymentSettled)
}

// RecordWebhookEvent persists the audit row for an inbound delivery.
// Duplicate rows are tolerated; the event store owns dedup.
func (s *Service) RecordWebhookEvent(ctx context.Context, event *WebhookEvent) {
	if err := s.repo.CreateWebhookEvent(ctx, event); err != nil {
		s.logger.Warn("store webhook event",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
}

// MarkWebhookEventOutcome updates the audit row after processing.
func (s *Service) MarkWebhookEventOutcome(ctx context.Context, providerName, eventID string, processErr error) {
	if err := s.repo.MarkWebhookEventProcessed(ctx, providerName, eventID, processErr); err != nil {
		s.logger.Warn("mark webhook event",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}

// findPaymentForCapture looks for the payment the capture belongs to:
// first by capture ID, then any authorized payment on the order.
func (s *Service) findPaymentForCapture(ctx context.Context, ord *order.Order, capture *CaptureNotification) *Payment {
	if p, err := s.repo.GetPaymentByTransactionID(ctx, capture.CaptureID); err == nil && p.OrderID == ord.ID {
		return p
	}
	payments, err := s.repo.ListPaymentsForOrder(ctx, ord.ID)
	if err != nil {
		return nil
	}
	for _, p := range payments {
		if p.State == StateAuthorized && p.Method == capture.Provider {
			return p
		}
	}
	return nil
}

func (s *Service) resolveHandler(ctx context.Context, methodCode string) (*Method, provider.PaymentHandler, error) {
	method, err := s.repo.GetMethodByCode(ctx, methodCode)
	if err != nil {
		return nil, nil, err
	}
	if !method.Enabled {
		return nil, nil, fmt.Errorf("%w: %s", ErrMethodDisabled, method.Code)
	}
	handler, err := s.registry.Get(method.HandlerCode)
	if err != nil {
		return nil, nil, err
	}
	if method.HasCredentials() {
		if configurable, ok := handler.(provider.CredentialsConfigurable); ok {
			handler = configurable.WithProviderCredentials(method.ClientID, method.ClientSecret, method.MerchantID)
		}
	}
	return method, handler, nil
}

// transitionAfterPayment moves the order forward after a payment state
// change. The payment record is already durable, so a failed transition
// is logged and left for the reconciler instead of failing the call.
func (s *Service) transitionAfterPayment(ctx context.Context, ord *order.Order, target order.State) {
	if err := s.orderSvc.TransitionToState(ctx, ord, target); err != nil {
		s.logger.Warn("order transition after payment",
			zap.String("order_code", ord.Code),
			zap.String("target", string(target)),
			zap.Error(err))
	}
}

func (s *Service) recordOperation(operation, method, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.PaymentOperationsTotal.WithLabelValues(operation, method, outcome).Inc()
}

func orderInfo(ord *order.Order) *provider.OrderInfo {
	return &provider.OrderInfo{
		ID:           ord.ID,
		Code:         ord.Code,
		CurrencyCode: ord.CurrencyCode,
		TotalWithTax: ord.TotalWithTax,
		ChannelToken: ord.ChannelToken,
		LanguageCode: ord.LanguageCode,
	}
}

func paymentInfo(p *Payment) *provider.PaymentInfo {
	return &provider.PaymentInfo{
		ID:            p.ID,
		Method:        p.Method,
		Amount:        p.Amount,
		CurrencyCode:  p.CurrencyCode,
		TransactionID: p.TransactionID,
		Metadata:      p.Metadata,
	}
}

func paymentState(state provider.PaymentState) State {
	switch state {
	case provider.PaymentStateAuthorized:
		return StateAuthorized
	case provider.PaymentStateSettled:
		return StateSettled
	case provider.PaymentStateDeclined:
		return StateDeclined
	case provider.PaymentStateCancelled:
		return StateCancelled
	default:
		return StateError
	}
}

func refundState(state provider.RefundState) RefundState {
	if state == provider.RefundStateSettled {
		return RefundStateSettled
	}
	return RefundStateFailed
}

// mergeCaptureMetadata folds the capture identifiers into an existing
// handler metadata document, preserving unknown keys.
func mergeCaptureMetadata(existing string, capture *CaptureNotification) string {
	var doc map[string]any
	if err := json.Unmarshal([]byte(existing), &doc); err != nil || doc == nil {
		return capture.Metadata
	}
	doc["captureId"] = capture.CaptureID
	merged, err := json.Marshal(doc)
	if err != nil {
		return existing
	}
	return string(merged)
}
