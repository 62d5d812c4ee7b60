package paypal

import "encoding/json"

// Intent selects how an approved order is completed.
type Intent string

const (
	IntentCapture   Intent = "CAPTURE"
	IntentAuthorize Intent = "AUTHORIZE"
)

// Order statuses the client inspects.
const (
	OrderStatusCreated   = "CREATED"
	OrderStatusApproved  = "APPROVED"
	OrderStatusCompleted = "COMPLETED"
)

// Capture and refund statuses the client inspects.
const (
	CaptureStatusCompleted = "COMPLETED"
	RefundStatusCompleted  = "COMPLETED"
)

// Amount is a gateway money value.
type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// PurchaseUnit describes one unit of an order.
type PurchaseUnit struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	Amount      *Amount   `json:"amount,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`
	Payments    *Payments `json:"payments,omitempty"`
}

// Payments holds the captures and authorizations attached to a
// purchase unit.
type Payments struct {
	Captures       []Capture       `json:"captures,omitempty"`
	Authorizations []Authorization `json:"authorizations,omitempty"`
}

// Capture is a completed or pending capture of funds.
type Capture struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Amount   *Amount `json:"amount,omitempty"`
	CustomID string  `json:"custom_id,omitempty"`
}

// Authorization is a hold on funds awaiting capture or void.
type Authorization struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Amount   *Amount `json:"amount,omitempty"`
	CustomID string  `json:"custom_id,omitempty"`
}

// Payer identifies the buyer on an approved order.
type Payer struct {
	EmailAddress string `json:"email_address,omitempty"`
	PayerID      string `json:"payer_id,omitempty"`
}

// Link is a HATEOAS link returned with gateway resources.
type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// Order is a gateway order resource.
type Order struct {
	ID            string         `json:"id"`
	Intent        Intent         `json:"intent,omitempty"`
	Status        string         `json:"status,omitempty"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units,omitempty"`
	Payer         *Payer         `json:"payer,omitempty"`
	Links         []Link         `json:"links,omitempty"`
}

// ApprovalURL returns the buyer approval link, or empty when absent.
func (o *Order) ApprovalURL() string {
	for _, l := range o.Links {
		if l.Rel == "approve" {
			return l.Href
		}
	}
	return ""
}

// applicationContext steers the buyer approval flow.
type applicationContext struct {
	BrandName  string `json:"brand_name,omitempty"`
	Locale     string `json:"locale,omitempty"`
	UserAction string `json:"user_action,omitempty"`
	ReturnURL  string `json:"return_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

// createOrderRequest is the wire form of an order creation call.
type createOrderRequest struct {
	Intent             Intent              `json:"intent"`
	PurchaseUnits      []PurchaseUnit      `json:"purchase_units"`
	ApplicationContext *applicationContext `json:"application_context,omitempty"`
}

// refundRequest is the wire form of a capture refund call. A nil
// amount refunds the full capture.
type refundRequest struct {
	Amount *Amount `json:"amount,omitempty"`
}

// RefundResponse is a gateway refund resource.
type RefundResponse struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Amount *Amount `json:"amount,omitempty"`
}

// WebhookEvent is an inbound webhook notification.
type WebhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type,omitempty"`
	CreateTime   string          `json:"create_time,omitempty"`
	Resource     json.RawMessage `json:"resource"`
}

// WebhookSignatureHeaders are the transmission headers PayPal sends
// with every webhook delivery.
type WebhookSignatureHeaders struct {
	TransmissionID   string
	TransmissionTime string
	TransmissionSig  string
	CertURL          string
	AuthAlgo         string
}

// Complete reports whether every header needed for verification is set.
func (h WebhookSignatureHeaders) Complete() bool {
	return h.TransmissionID != "" &&
		h.TransmissionTime != "" &&
		h.TransmissionSig != "" &&
		h.CertURL != "" &&
		h.AuthAlgo != ""
}

// verifyWebhookSignatureRequest is the wire form of the signature
// verification call.
type verifyWebhookSignatureRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyWebhookSignatureResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// errorResponse is the gateway's error envelope.
type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id,omitempty"`
}
