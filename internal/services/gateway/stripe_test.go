package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stripeTestSecret = "whsec_test_culturepass"

func newStripe(t *testing.T) *StripeGateway {
	t.Helper()
	g, err := NewStripeGateway(&StripeConfig{SecretKey: "sk_test_culturepass", WebhookSecret: stripeTestSecret})
	require.NoError(t, err)
	return g
}

func stripeEvent(t *testing.T, id, typ string, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": "2020-08-27",
		"type":        typ,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func signStripe(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret}).Header
}

func TestNewStripeGateway_RequiresKeys(t *testing.T) {
	_, err := NewStripeGateway(&StripeConfig{WebhookSecret: stripeTestSecret})
	assert.Error(t, err)
	_, err = NewStripeGateway(&StripeConfig{SecretKey: "sk_test_culturepass"})
	assert.Error(t, err)

	g := newStripe(t)
	assert.Equal(t, ProviderStripe, g.Provider())
}

func TestStripeGateway_ParseNotification(t *testing.T) {
	session := func(status, paymentStatus string) map[string]any {
		return map[string]any{
			"id":             "cs_test_1",
			"object":         "checkout.session",
			"status":         status,
			"payment_status": paymentStatus,
			"payment_intent": "pi_test_1",
			"metadata":       map[string]string{MetaTicketID: "tk_1"},
		}
	}

	tests := []struct {
		name   string
		typ    string
		object map[string]any
		want   Notification
	}{
		{
			name:   "completed and paid",
			typ:    "checkout.session.completed",
			object: session("complete", "paid"),
			want:   Notification{Type: NotifyPaymentSucceeded, SessionID: "cs_test_1", PaymentRef: "pi_test_1", TicketID: "tk_1"},
		},
		{
			name:   "completed awaiting async payment",
			typ:    "checkout.session.completed",
			object: session("complete", "unpaid"),
			want:   Notification{Type: NotifyIgnored, SessionID: "cs_test_1", PaymentRef: "pi_test_1", TicketID: "tk_1"},
		},
		{
			name:   "async payment succeeded",
			typ:    "checkout.session.async_payment_succeeded",
			object: session("complete", "paid"),
			want:   Notification{Type: NotifyPaymentSucceeded, SessionID: "cs_test_1", PaymentRef: "pi_test_1", TicketID: "tk_1"},
		},
		{
			name:   "session expired",
			typ:    "checkout.session.expired",
			object: session("expired", "unpaid"),
			want:   Notification{Type: NotifyPaymentFailed, SessionID: "cs_test_1", PaymentRef: "pi_test_1", TicketID: "tk_1"},
		},
		{
			name:   "async payment failed",
			typ:    "checkout.session.async_payment_failed",
			object: session("complete", "unpaid"),
			want:   Notification{Type: NotifyPaymentFailed, SessionID: "cs_test_1", PaymentRef: "pi_test_1", TicketID: "tk_1"},
		},
		{
			name: "payment intent failed",
			typ:  "payment_intent.payment_failed",
			object: map[string]any{
				"id":       "pi_test_2",
				"object":   "payment_intent",
				"metadata": map[string]string{MetaTicketID: "tk_2"},
			},
			want: Notification{Type: NotifyPaymentFailed, PaymentRef: "pi_test_2", TicketID: "tk_2"},
		},
		{
			name: "charge refunded",
			typ:  "charge.refunded",
			object: map[string]any{
				"id":             "ch_test_1",
				"object":         "charge",
				"payment_intent": "pi_test_3",
				"metadata":       map[string]string{MetaTicketID: "tk_3"},
				"refunds": map[string]any{
					"object": "list",
					"data":   []map[string]any{{"id": "re_test_1", "object": "refund"}},
				},
			},
			want: Notification{Type: NotifyRefunded, PaymentRef: "pi_test_3", TicketID: "tk_3", RefundRef: "re_test_1"},
		},
		{
			name: "charge refunded without refund list",
			typ:  "charge.refunded",
			object: map[string]any{
				"id":             "ch_test_2",
				"object":         "charge",
				"payment_intent": "pi_test_4",
			},
			want: Notification{Type: NotifyRefunded, PaymentRef: "pi_test_4"},
		},
		{
			name:   "unrelated event",
			typ:    "customer.created",
			object: map[string]any{"id": "cus_1", "object": "customer"},
			want:   Notification{Type: NotifyIgnored},
		},
	}

	g := newStripe(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := stripeEvent(t, "evt_"+tt.typ, tt.typ, tt.object)

			n, err := g.ParseNotification(payload, signStripe(payload, stripeTestSecret))
			require.NoError(t, err)

			want := tt.want
			want.ID = "evt_" + tt.typ
			assert.Equal(t, want, *n)
		})
	}
}

func TestStripeGateway_ParseNotificationRejectsUnverified(t *testing.T) {
	g := newStripe(t)
	payload := stripeEvent(t, "evt_1", "checkout.session.completed", map[string]any{
		"id": "cs_test_1", "object": "checkout.session", "payment_status": "paid",
	})

	tests := []struct {
		name    string
		payload []byte
		header  string
	}{
		{name: "wrong secret", payload: payload, header: signStripe(payload, "whsec_other")},
		{name: "tampered body", payload: append([]byte(" "), payload...), header: signStripe(payload, stripeTestSecret)},
		{name: "missing header", payload: payload, header: ""},
		{
			name:    "stale timestamp",
			payload: payload,
			header: webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
				Payload:   payload,
				Secret:    stripeTestSecret,
				Timestamp: time.Now().Add(-time.Hour),
			}).Header,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.ParseNotification(tt.payload, tt.header)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestSessionStatus(t *testing.T) {
	expires := time.Date(2026, 11, 8, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		sess stripe.CheckoutSession
		want SessionState
		ref  string
	}{
		{
			name: "open",
			sess: stripe.CheckoutSession{ID: "cs_1", Status: stripe.CheckoutSessionStatusOpen, PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid},
			want: SessionOpen,
		},
		{
			name: "paid",
			sess: stripe.CheckoutSession{
				ID:            "cs_1",
				Status:        stripe.CheckoutSessionStatusComplete,
				PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
				PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
			},
			want: SessionPaid,
			ref:  "pi_1",
		},
		{
			name: "complete but unpaid stays open",
			sess: stripe.CheckoutSession{ID: "cs_1", Status: stripe.CheckoutSessionStatusComplete, PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid},
			want: SessionOpen,
		},
		{
			name: "expired",
			sess: stripe.CheckoutSession{ID: "cs_1", Status: stripe.CheckoutSessionStatusExpired, PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid},
			want: SessionExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.sess.ExpiresAt = expires.Unix()
			got := sessionStatus(&tt.sess)
			assert.Equal(t, tt.want, got.State)
			assert.Equal(t, tt.ref, got.PaymentRef)
			assert.Equal(t, "cs_1", got.SessionID)
			assert.True(t, expires.Equal(got.ExpiresAt))
		})
	}
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2026, 11, 8, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		want time.Time
		out  time.Time
	}{
		{name: "raised to the minimum", want: now.Add(30 * time.Minute), out: now.Add(31 * time.Minute)},
		{name: "in the past", want: now.Add(-time.Minute), out: now.Add(31 * time.Minute)},
		{name: "kept", want: now.Add(2 * time.Hour), out: now.Add(2 * time.Hour)},
		{name: "capped at a day", want: now.Add(48 * time.Hour), out: now.Add(24 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.out.Equal(sessionExpiry(now, tt.want)))
		})
	}
}
