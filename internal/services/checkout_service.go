package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"culturepass/internal/services/gateway"
	"culturepass/internal/status"
	"culturepass/internal/store"
	"culturepass/models"
	"culturepass/monitoring"
	"culturepass/security"

	"go.opentelemetry.io/otel/attribute"
)

type CheckoutResult struct {
	Ticket    *models.Ticket `json:"ticket"`
	URL       string         `json:"checkoutUrl"`
	SessionID string         `json:"sessionId"`
}

// CheckoutService starts paid purchases: a pending ticket first, then a
// hosted payment session that refers back to it.
type CheckoutService struct {
	tickets *TicketService
	store   store.TicketStore
	gateway gateway.Gateway
	guard   *security.Guard
	baseURL string

	sessionTTL time.Duration
}

type CheckoutOption func(*CheckoutService)

// WithSessionTTL sets how long a hosted checkout session accepts payment.
// It should match the pending ticket expiry window.
func WithSessionTTL(ttl time.Duration) CheckoutOption {
	return func(s *CheckoutService) { s.sessionTTL = ttl }
}

func NewCheckoutService(tickets *TicketService, st store.TicketStore, gw gateway.Gateway, guard *security.Guard, baseURL string, opts ...CheckoutOption) *CheckoutService {
	s := &CheckoutService{
		tickets:    tickets,
		store:      st,
		gateway:    gw,
		guard:      guard,
		baseURL:    strings.TrimRight(baseURL, "/"),
		sessionTTL: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout runs for the client identified by actor, normally its IP.
func (s *CheckoutService) Checkout(ctx context.Context, actor string, req models.TicketRequest) (res *CheckoutResult, err error) {
	ctx, span := startSpan(ctx, "CheckoutService.Checkout",
		attribute.String("event.id", req.EventID),
	)
	defer func() { endSpan(span, err) }()

	if s.guard != nil {
		if err := s.guard.Check(ctx, security.ActionCheckout, actor); err != nil {
			monitoring.TrackCheckout("rate_limited")
			return nil, err
		}
	}

	if strings.TrimSpace(req.UserID) == "" {
		return nil, status.MissingField("userId")
	}
	if strings.TrimSpace(req.EventID) == "" {
		return nil, status.MissingField("eventId")
	}
	if !req.Total.IsPositive() {
		return nil, status.ErrInvalidAmount.With(map[string]any{"field": "totalPrice"})
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	existing, err := s.store.FindPending(ctx, req.UserID, req.EventID)
	switch {
	case err == nil:
		monitoring.TrackCheckout("duplicate")
		return nil, status.ErrDuplicatePendingPurchase.With(map[string]any{"ticket_id": existing.ID})
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("check pending purchase: %w", err)
	}

	t, err := s.tickets.Create(ctx, req)
	if err != nil {
		if errors.Is(err, status.ErrDuplicatePendingPurchase) {
			monitoring.TrackCheckout("duplicate")
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("ticket.id", t.ID))

	sess, err := s.gateway.CreateCheckoutSession(ctx, s.sessionRequest(t))
	if err != nil {
		// the ticket stays pending until the expiry sweep
		slog.Error("checkoutService.Checkout() session not created", "ticket", t.ID, "error", err)
		monitoring.TrackCheckout("gateway_error")
		return nil, status.ErrPaymentGateway.With(map[string]any{"ticket_id": t.ID})
	}

	if updated, err := s.tickets.AttachSession(ctx, t.ID, sess.ID, sess.PaymentRef); err != nil {
		slog.Error("checkoutService.Checkout() session not stored", "ticket", t.ID, "session", sess.ID, "error", err)
	} else {
		t = updated
	}

	monitoring.TrackCheckout("created")
	return &CheckoutResult{Ticket: t, URL: sess.URL, SessionID: sess.ID}, nil
}

func (s *CheckoutService) sessionRequest(t *models.Ticket) *gateway.CheckoutRequest {
	name := t.Event.Title
	if name == "" {
		name = "Event ticket"
	}
	if t.Event.Tier != "" {
		name += " - " + t.Event.Tier
	}
	if t.Quantity > 1 {
		name = fmt.Sprintf("%s x%d", name, t.Quantity)
	}

	ticketID := url.QueryEscape(t.ID)
	return &gateway.CheckoutRequest{
		Items: []gateway.LineItem{{
			Name:       name,
			UnitAmount: t.Total,
			Quantity:   1,
			Currency:   strings.ToLower(t.Currency),
		}},
		SuccessURL: s.baseURL + "/api/v1/checkout/success?session_id={CHECKOUT_SESSION_ID}&ticket_id=" + ticketID,
		CancelURL:  s.baseURL + "/api/v1/checkout/cancel?ticket_id=" + ticketID,
		Metadata: map[string]string{
			gateway.MetaTicketID: t.ID,
			gateway.MetaEventID:  t.EventID,
			gateway.MetaUserID:   t.UserID,
		},
		ExpiresAt:      s.tickets.now().Add(s.sessionTTL),
		IdempotencyKey: t.ID,
	}
}
