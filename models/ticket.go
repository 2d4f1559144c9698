package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketConfirmed TicketStatus = "confirmed"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
	TicketExpired   TicketStatus = "expired"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketPending, TicketConfirmed, TicketUsed, TicketCancelled, TicketExpired:
		return true
	}
	return false
}

type Ticket struct {
	ID       string `json:"id"`
	Code     string `json:"ticket_code"`
	PublicID string `json:"public_id,omitempty"`

	UserID   string          `json:"user_id"`
	EventID  string          `json:"event_id"`
	Event    EventSnapshot   `json:"event"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"total_price"`
	Currency string          `json:"currency"`

	Status        TicketStatus  `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Fees          Fees          `json:"fees"`

	QRCode            string     `json:"qr_code,omitempty"`
	CheckoutSessionID string     `json:"checkout_session_id,omitempty"`
	PaymentRef        string     `json:"payment_ref,omitempty"`
	RefundRef         string     `json:"refund_ref,omitempty"`
	ScannedAt         *time.Time `json:"scanned_at,omitempty"`
	ScannedBy         string     `json:"scanned_by,omitempty"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Priced reports whether the ticket requires a payment before entry.
func (t *Ticket) Priced() bool {
	return t.Total.IsPositive()
}

func (t *Ticket) Clone() *Ticket {
	c := *t
	if t.ScannedAt != nil {
		at := *t.ScannedAt
		c.ScannedAt = &at
	}
	return &c
}

type TicketRequest struct {
	UserID   string          `json:"userId"`
	EventID  string          `json:"eventId"`
	Event    EventSnapshot   `json:"event"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"totalPrice"`
	Currency string          `json:"currency"`
}
