package models

import (
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCancelled PaymentStatus = "cancelled"

	// PaymentRefundPending marks a refund claimed locally and not yet
	// confirmed by the processor.
	PaymentRefundPending PaymentStatus = "refund_pending"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentRefunded, PaymentCancelled, PaymentRefundPending:
		return true
	}
	return false
}

// Fees is the monetary split frozen on a ticket when it is created.
type Fees struct {
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	ProcessorFee    decimal.Decimal `json:"processor_fee"`
	OrganizerAmount decimal.Decimal `json:"organizer_amount"`
}
