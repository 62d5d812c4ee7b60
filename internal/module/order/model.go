package order

import (
	"time"

	"github.com/google/uuid"
)

// State represents the state of an order in its checkout lifecycle.
type State string

const (
	StateCreated           State = "created"
	StateArrangingPayment  State = "arranging_payment"
	StatePaymentAuthorized State = "payment_authorized"
	StatePaymentSettled    State = "payment_settled"
	StateCancelled         State = "cancelled"
)

// Order represents a customer order awaiting or holding payment.
type Order struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Code         string    `json:"code" gorm:"uniqueIndex;not null"`
	State        State     `json:"state" gorm:"not null;default:created"`
	CurrencyCode string    `json:"currency_code" gorm:"not null"`
	TotalWithTax int64     `json:"total_with_tax"` // In minor units
	ChannelToken string    `json:"channel_token" gorm:"index"`
	LanguageCode string    `json:"language_code" gorm:"default:en"`
	CustomerID   *uuid.UUID `json:"customer_id,omitempty" gorm:"type:uuid;index"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Relations
	Lines []OrderLine `json:"lines,omitempty" gorm:"foreignKey:OrderID"`
}

// TableName returns the database table name.
func (Order) TableName() string {
	return "orders"
}

// IsSettled returns true if the order payment has settled.
func (o *Order) IsSettled() bool {
	return o.State == StatePaymentSettled
}

// IsTerminal returns true if no further transitions are possible.
func (o *Order) IsTerminal() bool {
	return o.State == StatePaymentSettled || o.State == StateCancelled
}

// OrderLine represents a line item in an order.
type OrderLine struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrderID     uuid.UUID `json:"order_id" gorm:"type:uuid;not null"`
	Description string    `json:"description" gorm:"not null"`
	Quantity    int       `json:"quantity" gorm:"default:1"`
	UnitPrice   int64     `json:"unit_price"` // In minor units
	Amount      int64     `json:"amount"`     // quantity * unit_price
}

// TableName returns the database table name.
func (OrderLine) TableName() string {
	return "order_lines"
}
