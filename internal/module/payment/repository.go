package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines the interface for payment data access.
type Repository interface {
	// Payment operations
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
	ListPaymentsForOrder(ctx context.Context, orderID uuid.UUID) ([]*Payment, error)
	UpdatePayment(ctx context.Context, p *Payment) error

	// Refund operations
	CreateRefund(ctx context.Context, r *Refund) error
	ListRefundsForPayment(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error)

	// Method operations
	GetMethodByCode(ctx context.Context, code string) (*Method, error)
	ListEnabledMethods(ctx context.Context) ([]*Method, error)

	// Webhook event operations
	CreateWebhookEvent(ctx context.Context, event *WebhookEvent) error
	MarkWebhookEventProcessed(ctx context.Context, provider, eventID string, processErr error) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new payment repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// --- Payment Operations ---

func (r *repository) CreatePayment(ctx context.Context, p *Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *repository) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).First(&p, "transaction_id = ?", transactionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) ListPaymentsForOrder(ctx context.Context, orderID uuid.UUID) ([]*Payment, error) {
	var payments []*Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}

func (r *repository) UpdatePayment(ctx context.Context, p *Payment) error {
	return r.db.WithContext(ctx).Save(p).Error
}

// --- Refund Operations ---

func (r *repository) CreateRefund(ctx context.Context, ref *Refund) error {
	return r.db.WithContext(ctx).Create(ref).Error
}

func (r *repository) ListRefundsForPayment(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error) {
	var refunds []*Refund
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&refunds).Error
	return refunds, err
}

// --- Method Operations ---

func (r *repository) GetMethodByCode(ctx context.Context, code string) (*Method, error) {
	var m Method
	err := r.db.WithContext(ctx).First(&m, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMethodNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *repository) ListEnabledMethods(ctx context.Context) ([]*Method, error) {
	var methods []*Method
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("code ASC").
		Find(&methods).Error
	return methods, err
}

// --- Webhook Event Operations ---

func (r *repository) CreateWebhookEvent(ctx context.Context, event *WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) MarkWebhookEventProcessed(ctx context.Context, provider, eventID string, processErr error) error {
	now := time.Now()
	updates := map[string]any{
		"processed":    processErr == nil,
		"processed_at": &now,
	}
	if processErr != nil {
		msg := processErr.Error()
		updates["error"] = &msg
	}
	return r.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Updates(updates).Error
}
