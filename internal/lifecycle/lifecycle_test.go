package lifecycle

import (
	"testing"

	"culturepass/internal/status"
	"culturepass/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func st(s models.TicketStatus, p models.PaymentStatus, priced bool) State {
	return State{Status: s, Payment: p, Priced: priced}
}

func TestApply(t *testing.T) {
	pendingPaid := st(models.TicketPending, models.PaymentPending, true)
	confirmedPaid := st(models.TicketConfirmed, models.PaymentPaid, true)
	freeConfirmed := st(models.TicketConfirmed, models.PaymentPending, false)
	used := st(models.TicketUsed, models.PaymentPaid, true)
	cancelled := st(models.TicketCancelled, models.PaymentCancelled, true)
	refunded := st(models.TicketCancelled, models.PaymentRefunded, true)
	expired := st(models.TicketExpired, models.PaymentCancelled, true)
	claimed := st(models.TicketConfirmed, models.PaymentRefundPending, true)
	lateCancelled := st(models.TicketCancelled, models.PaymentRefundPending, true)
	lateExpired := st(models.TicketExpired, models.PaymentRefundPending, true)

	tests := []struct {
		name    string
		from    State
		action  Action
		want    State
		wantErr error
	}{
		{"confirm pending", pendingPaid, Confirm, confirmedPaid, nil},
		{"confirm twice is noop", confirmedPaid, Confirm, confirmedPaid, ErrNoop},
		{"confirm after scan is noop", used, Confirm, used, ErrNoop},
		{"confirm free ticket payment", freeConfirmed, Confirm, st(models.TicketConfirmed, models.PaymentPaid, false), nil},
		{"confirm cancelled", cancelled, Confirm, cancelled, status.ErrAlreadyCancelled},
		{"confirm expired", expired, Confirm, expired, status.ErrTicketExpired},
		{"confirm during refund is noop", claimed, Confirm, claimed, ErrNoop},

		{"fail pending", pendingPaid, FailPayment, cancelled, nil},
		{"fail after confirm is noop", confirmedPaid, FailPayment, confirmedPaid, ErrNoop},
		{"fail cancelled is noop", cancelled, FailPayment, cancelled, ErrNoop},

		{"cancel pending", pendingPaid, Cancel, cancelled, nil},
		{"cancel confirmed keeps payment", confirmedPaid, Cancel, st(models.TicketCancelled, models.PaymentPaid, true), nil},
		{"cancel used", used, Cancel, used, status.ErrAlreadyScanned},
		{"cancel cancelled", cancelled, Cancel, cancelled, status.ErrAlreadyCancelled},
		{"cancel expired", expired, Cancel, expired, status.ErrTicketExpired},
		{"cancel during refund", claimed, Cancel, claimed, status.ErrRefundInProgress},

		{"refund confirmed claims the payment", confirmedPaid, Refund, claimed, nil},
		{"refund claimed is noop", claimed, Refund, claimed, ErrNoop},
		{"refund unpaid only cancels", pendingPaid, Refund, cancelled, nil},
		{"refund free ticket only cancels", freeConfirmed, Refund, st(models.TicketCancelled, models.PaymentPending, false), nil},
		{"refund used", used, Refund, used, status.ErrCannotRefundScanned},
		{"refund cancelled", cancelled, Refund, cancelled, status.ErrAlreadyCancelled},
		{"refund refunded", refunded, Refund, refunded, status.ErrAlreadyCancelled},
		{"refund expired", expired, Refund, expired, status.ErrTicketExpired},
		{"refund late payment resumes", lateExpired, Refund, lateExpired, ErrNoop},

		{"settle claimed", claimed, RefundSettle, refunded, nil},
		{"settle paid", confirmedPaid, RefundSettle, refunded, nil},
		{"settle used keeps status", used, RefundSettle, st(models.TicketUsed, models.PaymentRefunded, true), nil},
		{"settle late payment keeps status", lateExpired, RefundSettle, st(models.TicketExpired, models.PaymentRefunded, true), nil},
		{"settle twice is noop", refunded, RefundSettle, refunded, ErrNoop},
		{"settle unpaid", pendingPaid, RefundSettle, pendingPaid, status.ErrInvalidTransition},

		{"abort claimed", claimed, RefundAbort, confirmedPaid, nil},
		{"abort late payment", lateCancelled, RefundAbort, lateCancelled, status.ErrInvalidTransition},
		{"abort paid", confirmedPaid, RefundAbort, confirmedPaid, status.ErrInvalidTransition},

		{"late payment on cancelled", cancelled, LatePayment, lateCancelled, nil},
		{"late payment on expired", expired, LatePayment, lateExpired, nil},
		{"late payment twice is noop", lateExpired, LatePayment, lateExpired, ErrNoop},
		{"late payment after refund is noop", refunded, LatePayment, refunded, ErrNoop},
		{"late payment on confirmed", confirmedPaid, LatePayment, confirmedPaid, status.ErrInvalidTransition},

		{"scan confirmed", confirmedPaid, Scan, used, nil},
		{"scan free confirmed", freeConfirmed, Scan, st(models.TicketUsed, models.PaymentPending, false), nil},
		{"scan used", used, Scan, used, status.ErrAlreadyScanned},
		{"scan cancelled", cancelled, Scan, cancelled, status.ErrAlreadyCancelled},
		{"scan unpaid", pendingPaid, Scan, pendingPaid, status.ErrPaymentPending},
		{"scan during refund", claimed, Scan, claimed, status.ErrRefundInProgress},
		{"scan expired", st(models.TicketExpired, models.PaymentPaid, true), Scan, st(models.TicketExpired, models.PaymentPaid, true), status.ErrTicketExpired},

		{"expire pending", pendingPaid, Expire, st(models.TicketExpired, models.PaymentCancelled, true), nil},
		{"expire expired is noop", expired, Expire, expired, ErrNoop},
		{"expire confirmed", confirmedPaid, Expire, confirmedPaid, status.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.from, tt.action)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_UsedIsTerminal(t *testing.T) {
	used := st(models.TicketUsed, models.PaymentPaid, true)
	for _, a := range []Action{Cancel, Refund, Scan, Expire, FailPayment, Confirm, RefundSettle, RefundAbort, LatePayment} {
		got, _ := Apply(used, a)
		assert.Equal(t, models.TicketUsed, got.Status, "action %s", a)
	}
}

func TestApply_CancelledIsTerminal(t *testing.T) {
	for _, from := range []State{
		st(models.TicketCancelled, models.PaymentCancelled, true),
		st(models.TicketCancelled, models.PaymentRefunded, true),
	} {
		for _, a := range []Action{Confirm, FailPayment, Cancel, Refund, Scan, Expire} {
			got, _ := Apply(from, a)
			assert.Equal(t, from, got, "action %s", a)
		}
	}
}

func TestApply_RejectsUnknown(t *testing.T) {
	_, err := Apply(st("archived", models.PaymentPaid, true), Scan)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)

	_, err = Apply(st(models.TicketPending, models.PaymentPending, true), Action("teleport"))
	assert.ErrorIs(t, err, status.ErrInvalidTransition)
}

func TestStateOf(t *testing.T) {
	tk := &models.Ticket{Status: models.TicketConfirmed, PaymentStatus: models.PaymentPaid}
	assert.Equal(t, st(models.TicketConfirmed, models.PaymentPaid, false), StateOf(tk))
}
