// Package lifecycle holds the ticket state machine. A ticket's position is
// the pair (status, payment status); Apply is the only place that decides
// which pairs may follow which.
package lifecycle

import (
	"errors"
	"fmt"

	"culturepass/internal/status"
	"culturepass/models"
)

type Action string

const (
	Confirm     Action = "confirm"      // payment succeeded
	FailPayment Action = "fail_payment" // checkout abandoned or payment failed
	Cancel      Action = "cancel"
	Refund      Action = "refund" // claims the payment for a refund; priced tickets await RefundSettle
	Scan        Action = "scan"
	Expire      Action = "expire" // unpaid ticket outlived its checkout window

	RefundSettle Action = "refund_settle" // processor confirmed the refund
	RefundAbort  Action = "refund_abort"  // processor rejected a claimed refund
	LatePayment  Action = "late_payment"  // payment captured for a ticket that is no longer sellable
)

// ErrNoop is returned when the action has already taken effect. Callers
// treat it as success without writing.
var ErrNoop = errors.New("lifecycle: transition already applied")

type State struct {
	Status  models.TicketStatus
	Payment models.PaymentStatus
	Priced  bool
}

func StateOf(t *models.Ticket) State {
	return State{Status: t.Status, Payment: t.PaymentStatus, Priced: t.Priced()}
}

// Apply returns the state reached by performing a on s.
func Apply(s State, a Action) (State, error) {
	if !s.Status.Valid() || !s.Payment.Valid() {
		return s, fmt.Errorf("lifecycle: unknown state %s/%s: %w", s.Status, s.Payment, status.ErrInvalidTransition)
	}

	next := s
	switch a {
	case Confirm:
		switch s.Status {
		case models.TicketPending:
			next.Status, next.Payment = models.TicketConfirmed, models.PaymentPaid
			return next, nil
		case models.TicketConfirmed, models.TicketUsed:
			if s.Payment == models.PaymentPaid || s.Payment == models.PaymentRefundPending {
				return s, ErrNoop
			}
			if s.Status == models.TicketConfirmed && s.Payment == models.PaymentPending {
				// free tickets that later receive a payment
				next.Payment = models.PaymentPaid
				return next, nil
			}
		case models.TicketCancelled:
			return s, status.ErrAlreadyCancelled
		case models.TicketExpired:
			return s, status.ErrTicketExpired
		}

	case FailPayment:
		if s.Status == models.TicketPending {
			next.Status, next.Payment = models.TicketCancelled, models.PaymentCancelled
			return next, nil
		}
		// confirmation already won, or the ticket is settled some other way
		return s, ErrNoop

	case Cancel:
		if s.Payment == models.PaymentRefundPending {
			return s, status.ErrRefundInProgress
		}
		switch s.Status {
		case models.TicketPending:
			next.Status = models.TicketCancelled
			if s.Payment == models.PaymentPending {
				next.Payment = models.PaymentCancelled
			}
			return next, nil
		case models.TicketConfirmed:
			next.Status = models.TicketCancelled
			return next, nil
		case models.TicketUsed:
			return s, status.ErrAlreadyScanned
		case models.TicketCancelled:
			return s, status.ErrAlreadyCancelled
		case models.TicketExpired:
			return s, status.ErrTicketExpired
		}

	case Refund:
		switch s.Status {
		case models.TicketPending, models.TicketConfirmed:
			switch s.Payment {
			case models.PaymentPaid:
				next.Payment = models.PaymentRefundPending
				return next, nil
			case models.PaymentRefundPending:
				return s, ErrNoop
			}
			// nothing was charged
			return Apply(s, Cancel)
		case models.TicketUsed:
			return s, status.ErrCannotRefundScanned
		case models.TicketCancelled:
			if s.Payment == models.PaymentRefundPending {
				return s, ErrNoop
			}
			return s, status.ErrAlreadyCancelled
		case models.TicketExpired:
			if s.Payment == models.PaymentRefundPending {
				return s, ErrNoop
			}
			return s, status.ErrTicketExpired
		}

	case RefundSettle:
		switch s.Payment {
		case models.PaymentRefunded:
			return s, ErrNoop
		case models.PaymentRefundPending, models.PaymentPaid:
			if s.Status == models.TicketPending || s.Status == models.TicketConfirmed {
				next.Status = models.TicketCancelled
			}
			next.Payment = models.PaymentRefunded
			return next, nil
		}

	case RefundAbort:
		if s.Payment == models.PaymentRefundPending && (s.Status == models.TicketPending || s.Status == models.TicketConfirmed) {
			next.Payment = models.PaymentPaid
			return next, nil
		}

	case LatePayment:
		if s.Status != models.TicketCancelled && s.Status != models.TicketExpired {
			break
		}
		switch s.Payment {
		case models.PaymentPending, models.PaymentCancelled:
			next.Payment = models.PaymentRefundPending
			return next, nil
		default:
			// the payment is already on record
			return s, ErrNoop
		}

	case Scan:
		switch s.Status {
		case models.TicketUsed:
			return s, status.ErrAlreadyScanned
		case models.TicketCancelled:
			return s, status.ErrAlreadyCancelled
		}
		if s.Payment == models.PaymentRefundPending {
			return s, status.ErrRefundInProgress
		}
		if s.Priced && s.Payment != models.PaymentPaid {
			return s, status.ErrPaymentPending
		}
		switch s.Status {
		case models.TicketExpired:
			return s, status.ErrTicketExpired
		case models.TicketConfirmed:
			next.Status = models.TicketUsed
			return next, nil
		}

	case Expire:
		switch s.Status {
		case models.TicketPending:
			next.Status = models.TicketExpired
			if s.Payment == models.PaymentPending {
				next.Payment = models.PaymentCancelled
			}
			return next, nil
		case models.TicketExpired:
			return s, ErrNoop
		}

	default:
		return s, fmt.Errorf("lifecycle: unknown action %q: %w", a, status.ErrInvalidTransition)
	}

	return s, fmt.Errorf("lifecycle: %s from %s/%s: %w", a, s.Status, s.Payment, status.ErrInvalidTransition)
}
