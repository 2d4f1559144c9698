// Package gateway is the boundary to the external payment processor.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Provider represents different payment processors
type Provider string

const (
	ProviderStripe    Provider = "stripe"
	ProviderSimulated Provider = "simulated"
)

// Metadata keys attached to every checkout session.
const (
	MetaTicketID = "ticket_id"
	MetaEventID  = "event_id"
	MetaUserID   = "user_id"
)

var (
	ErrInvalidSignature = errors.New("gateway: notification signature invalid")
	ErrSessionNotFound  = errors.New("gateway: session not found")
	ErrUnknownPayment   = errors.New("gateway: unknown payment reference")
)

type LineItem struct {
	Name       string
	UnitAmount decimal.Decimal
	Quantity   int64
	Currency   string
}

type CheckoutRequest struct {
	Items      []LineItem
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
	// ExpiresAt closes the session for payment. Zero leaves the
	// processor's default.
	ExpiresAt time.Time
	// IdempotencyKey makes repeated requests return the same session.
	IdempotencyKey string
}

type CheckoutSession struct {
	ID  string
	URL string
	// PaymentRef is empty when the processor only assigns it on payment.
	PaymentRef string
}

type SessionState string

const (
	SessionOpen    SessionState = "open"
	SessionPaid    SessionState = "paid"
	SessionExpired SessionState = "expired"
)

type SessionStatus struct {
	SessionID  string
	PaymentRef string
	State      SessionState
	Metadata   map[string]string
	ExpiresAt  time.Time
}

type NotificationType string

const (
	NotifyPaymentSucceeded NotificationType = "payment.succeeded"
	NotifyPaymentFailed    NotificationType = "payment.failed"
	NotifyRefunded         NotificationType = "payment.refunded"
	NotifyIgnored          NotificationType = "ignored"
)

// Notification is a verified asynchronous event from the processor.
type Notification struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	SessionID  string           `json:"session_id,omitempty"`
	PaymentRef string           `json:"payment_ref,omitempty"`
	TicketID   string           `json:"ticket_id,omitempty"`
	RefundRef  string           `json:"refund_ref,omitempty"`
}

// Gateway defines the operations every payment processor supports.
type Gateway interface {
	Provider() Provider

	CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)

	RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error)

	// Refund refunds the full charge and returns the refund reference.
	Refund(ctx context.Context, paymentRef string) (string, error)

	// ParseNotification verifies signature over payload before decoding it.
	ParseNotification(payload []byte, signature string) (*Notification, error)
}

// MinorUnits converts an amount to the processor's smallest currency unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
