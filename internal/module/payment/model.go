package payment

import (
	"time"

	"github.com/google/uuid"
)

// State represents the state of a payment record.
type State string

const (
	StatePending    State = "pending"
	StateAuthorized State = "authorized"
	StateSettled    State = "settled"
	StateDeclined   State = "declined"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

// Payment represents a payment against an order.
type Payment struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrderID       uuid.UUID `json:"order_id" gorm:"type:uuid;not null;index"`
	Method        string    `json:"method" gorm:"not null"`
	State         State     `json:"state" gorm:"not null;default:pending"`
	Amount        int64     `json:"amount"` // In minor units
	CurrencyCode  string    `json:"currency_code" gorm:"not null"`
	TransactionID string    `json:"transaction_id" gorm:"index"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	// Metadata is the handler-owned JSON document. Only the handler that
	// created the payment interprets it.
	Metadata       string     `json:"metadata,omitempty" gorm:"type:jsonb"`
	RefundedAmount int64      `json:"refunded_amount" gorm:"default:0"`
	SettledAt      *time.Time `json:"settled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name.
func (Payment) TableName() string {
	return "payments"
}

// IsSettled returns true if the payment settled.
func (p *Payment) IsSettled() bool {
	return p.State == StateSettled
}

// RefundableAmount returns how much of the payment can still be refunded.
func (p *Payment) RefundableAmount() int64 {
	return p.Amount - p.RefundedAmount
}

// RefundState represents the state of a refund record.
type RefundState string

const (
	RefundStateSettled RefundState = "settled"
	RefundStateFailed  RefundState = "failed"
)

// Refund represents a refund against a settled payment.
type Refund struct {
	ID            uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PaymentID     uuid.UUID   `json:"payment_id" gorm:"type:uuid;not null;index"`
	Amount        int64       `json:"amount"` // In minor units
	State         RefundState `json:"state" gorm:"not null"`
	TransactionID string      `json:"transaction_id"`
	Reason        string      `json:"reason,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// TableName returns the database table name.
func (Refund) TableName() string {
	return "refunds"
}

// Method is a configured payment method merchants enable per channel.
type Method struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Code        string    `json:"code" gorm:"uniqueIndex;not null"`
	Name        string    `json:"name" gorm:"not null"`
	HandlerCode string    `json:"handler_code" gorm:"not null"`
	Enabled     bool      `json:"enabled" gorm:"default:true"`
	// Method-level gateway credentials override the environment-level
	// configuration when set.
	ClientID     string    `json:"-"`
	ClientSecret string    `json:"-"`
	MerchantID   string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Method) TableName() string {
	return "payment_methods"
}

// HasCredentials returns true if the method carries its own gateway
// credentials.
func (m *Method) HasCredentials() bool {
	return m.ClientID != "" && m.ClientSecret != ""
}

// WebhookEvent is the durable record of an inbound webhook delivery.
// The event store in Redis answers the fast dedup check; this row is
// the audit trail.
type WebhookEvent struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Provider    string     `gorm:"not null;uniqueIndex:idx_provider_event"`
	EventID     string     `gorm:"not null;uniqueIndex:idx_provider_event"`
	EventType   string     `gorm:"not null"`
	OrderCode   string     `gorm:"index"`
	Data        string     `gorm:"type:jsonb"`
	Processed   bool       `gorm:"default:false"`
	ProcessedAt *time.Time
	Error       *string
	CreatedAt   time.Time
}

// TableName returns the database table name.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
