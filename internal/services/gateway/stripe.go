package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe accepts a checkout expiry between 30 minutes and 24 hours out.
const (
	stripeMinSessionTTL = 31 * time.Minute
	stripeMaxSessionTTL = 24 * time.Hour
)

type StripeConfig struct {
	SecretKey     string `json:"secret_key"`
	WebhookSecret string `json:"webhook_secret"`
}

type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(cfg *StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe: secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe: webhook secret is required")
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	return &StripeGateway{api: api, webhookSecret: cfg.WebhookSecret}, nil
}

func (s *StripeGateway) Provider() Provider {
	return ProviderStripe
}

func (s *StripeGateway) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata,
		},
	}
	for _, item := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(strings.ToLower(item.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
				UnitAmount: stripe.Int64(MinorUnits(item.UnitAmount)),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(sessionExpiry(time.Now(), req.ExpiresAt).Unix())
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey("checkout-" + req.IdempotencyKey)
	}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	out := &CheckoutSession{ID: sess.ID, URL: sess.URL}
	if sess.PaymentIntent != nil {
		out.PaymentRef = sess.PaymentIntent.ID
	}
	return out, nil
}

func (s *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("stripe: retrieve session %s: %w", sessionID, err)
	}
	return sessionStatus(sess), nil
}

// sessionExpiry clamps want into the window Stripe accepts at now.
func sessionExpiry(now, want time.Time) time.Time {
	if lo := now.Add(stripeMinSessionTTL); want.Before(lo) {
		return lo
	}
	if hi := now.Add(stripeMaxSessionTTL); want.After(hi) {
		return hi
	}
	return want
}

func sessionStatus(sess *stripe.CheckoutSession) *SessionStatus {
	st := &SessionStatus{
		SessionID: sess.ID,
		State:     SessionOpen,
		Metadata:  sess.Metadata,
	}
	if sess.ExpiresAt > 0 {
		st.ExpiresAt = time.Unix(sess.ExpiresAt, 0)
	}
	if sess.PaymentIntent != nil {
		st.PaymentRef = sess.PaymentIntent.ID
	}
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		st.State = SessionPaid
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		st.State = SessionExpired
	}
	return st
}

func (s *StripeGateway) Refund(ctx context.Context, paymentRef string) (string, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentRef)}
	params.SetIdempotencyKey("refund-" + paymentRef)
	params.Context = ctx

	r, err := s.api.Refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: refund %s: %w", paymentRef, err)
	}
	return r.ID, nil
}

func (s *StripeGateway) ParseNotification(payload []byte, signature string) (*Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	n := &Notification{ID: event.ID, Type: NotifyIgnored}
	if event.Data == nil {
		return n, nil
	}

	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("stripe: decode %s: %w", event.Type, err)
		}
		st := sessionStatus(&sess)
		n.SessionID, n.PaymentRef, n.TicketID = st.SessionID, st.PaymentRef, st.Metadata[MetaTicketID]
		if st.State == SessionPaid {
			n.Type = NotifyPaymentSucceeded
		}

	case "checkout.session.expired", "checkout.session.async_payment_failed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("stripe: decode %s: %w", event.Type, err)
		}
		st := sessionStatus(&sess)
		n.Type = NotifyPaymentFailed
		n.SessionID, n.PaymentRef, n.TicketID = st.SessionID, st.PaymentRef, st.Metadata[MetaTicketID]

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("stripe: decode %s: %w", event.Type, err)
		}
		n.Type = NotifyPaymentFailed
		n.PaymentRef, n.TicketID = pi.ID, pi.Metadata[MetaTicketID]

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("stripe: decode %s: %w", event.Type, err)
		}
		n.Type = NotifyRefunded
		n.TicketID = ch.Metadata[MetaTicketID]
		if ch.PaymentIntent != nil {
			n.PaymentRef = ch.PaymentIntent.ID
		}
		if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
			n.RefundRef = ch.Refunds.Data[0].ID
		}
	}

	return n, nil
}
