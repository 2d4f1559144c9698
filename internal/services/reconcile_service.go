package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

// Notification sources, as reported in metrics.
const (
	sourceReturn  = "return_url"
	sourceWebhook = "webhook"
	sourcePoll    = "poll"
)

// ReconcileService keeps ticket payment state in line with the processor.
// The return URL, pushed notifications and polling all end in the same
// idempotent transitions, so whichever arrives first wins.
type ReconcileService struct {
	tickets *TicketService
	store   store.TicketStore
	gateway gateway.Gateway
	replay  security.ReplayGuard
}

func NewReconcileService(tickets *TicketService, st store.TicketStore, gw gateway.Gateway, replay security.ReplayGuard) *ReconcileService {
	return &ReconcileService{tickets: tickets, store: st, gateway: gw, replay: replay}
}

// ConfirmCheckout handles the customer's return from the hosted checkout.
// An open session leaves the ticket as it is.
func (s *ReconcileService) ConfirmCheckout(ctx context.Context, sessionID, ticketID string) (t *models.Ticket, err error) {
	ctx, span := startSpan(ctx, "ReconcileService.ConfirmCheckout", attribute.String("ticket.id", ticketID))
	defer func() { endSpan(span, err) }()

	if sessionID == "" {
		return nil, status.MissingField("session_id")
	}
	if ticketID == "" {
		return nil, status.MissingField("ticket_id")
	}

	sess, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		slog.Error("reconcileService.ConfirmCheckout() session lookup failed", "session", sessionID, "error", err)
		return nil, status.ErrPaymentGateway.With(map[string]any{"session_id": sessionID})
	}
	if sess.Metadata[gateway.MetaTicketID] != ticketID {
		monitoring.TrackNotification(sourceReturn, string(sess.State), "mismatch")
		return nil, status.ErrPaymentMismatch.With(map[string]any{"ticket_id": ticketID})
	}

	t, err = s.applySession(ctx, ticketID, sess)
	s.track(sourceReturn, string(sess.State), err)
	return t, err
}

// CancelCheckout handles the customer abandoning the hosted checkout.
func (s *ReconcileService) CancelCheckout(ctx context.Context, ticketID string) (*models.Ticket, error) {
	if ticketID == "" {
		return nil, status.MissingField("ticket_id")
	}
	t, err := s.tickets.FailPayment(ctx, ticketID)
	s.track(sourceReturn, "cancelled", err)
	return t, err
}

// confirmPaid records a captured payment. A ticket that was cancelled or
// expired before the money arrived cannot be sold any more, so the payment
// is recorded and refunded instead of dropped.
func (s *ReconcileService) confirmPaid(ctx context.Context, ticketID, paymentRef string) (*models.Ticket, error) {
	t, err := s.tickets.Confirm(ctx, ticketID, paymentRef)
	if !errors.Is(err, status.ErrAlreadyCancelled) && !errors.Is(err, status.ErrTicketExpired) {
		return t, err
	}
	slog.Warn("payment arrived for a closed ticket", "ticket", ticketID, "payment", paymentRef, "reason", err)
	return s.tickets.RefundLatePayment(ctx, ticketID, paymentRef)
}

func (s *ReconcileService) applySession(ctx context.Context, ticketID string, sess *gateway.SessionStatus) (*models.Ticket, error) {
	switch sess.State {
	case gateway.SessionPaid:
		ref := sess.PaymentRef
		if ref == "" {
			ref = sess.SessionID
		}
		return s.confirmPaid(ctx, ticketID, ref)
	case gateway.SessionExpired:
		return s.tickets.FailPayment(ctx, ticketID)
	default:
		return s.tickets.Get(ctx, ticketID)
	}
}

// HandleNotification verifies and applies a pushed notification. Nothing
// is read from the payload before its signature checks out. Each
// notification id is applied at most once; a failed attempt, including a
// refund the processor could not take, releases its claim so the
// processor's redelivery is processed.
func (s *ReconcileService) HandleNotification(ctx context.Context, payload []byte, signature string) (err error) {
	ctx, span := startSpan(ctx, "ReconcileService.HandleNotification")
	defer func() { endSpan(span, err) }()

	n, err := s.gateway.ParseNotification(payload, signature)
	if err != nil {
		monitoring.TrackNotification(sourceWebhook, "unknown", "rejected")
		if errors.Is(err, gateway.ErrInvalidSignature) {
			return status.ErrInvalidSignature
		}
		slog.Warn("reconcileService.HandleNotification() malformed payload", "error", err)
		return status.ErrInvalidRequest.With(map[string]any{"reason": "malformed notification"})
	}
	span.SetAttributes(
		attribute.String("notification.id", n.ID),
		attribute.String("notification.type", string(n.Type)),
	)

	if n.Type == gateway.NotifyIgnored {
		monitoring.TrackNotification(sourceWebhook, string(n.Type), "ignored")
		return nil
	}

	if s.replay != nil {
		claimed, err := s.replay.Claim(ctx, n.ID)
		switch {
		case err != nil:
			// transitions are idempotent, so processing twice is safe
			slog.Warn("replay guard unavailable, processing notification", "notification", n.ID, "error", err)
		case !claimed:
			monitoring.TrackNotification(sourceWebhook, string(n.Type), "duplicate")
			return nil
		}
	}

	err = s.applyNotification(ctx, n)
	s.track(sourceWebhook, string(n.Type), err)
	if err == nil {
		return nil
	}

	if appErr, known := status.Classify(err); known && !errors.Is(err, status.ErrPaymentGateway) {
		// a business conflict will not change on redelivery
		slog.Warn("payment notification not applied", "notification", n.ID, "type", n.Type, "code", appErr.Code)
		return nil
	}

	if s.replay != nil {
		if rerr := s.replay.Release(context.WithoutCancel(ctx), n.ID); rerr != nil {
			slog.Error("replay claim not released", "notification", n.ID, "error", rerr)
		}
	}
	return fmt.Errorf("apply notification %s: %w", n.ID, err)
}

func (s *ReconcileService) applyNotification(ctx context.Context, n *gateway.Notification) error {
	ticketID, err := s.resolveTicket(ctx, n)
	if err != nil {
		return err
	}

	switch n.Type {
	case gateway.NotifyPaymentSucceeded:
		ref := n.PaymentRef
		if ref == "" {
			ref = n.SessionID
		}
		_, err = s.confirmPaid(ctx, ticketID, ref)
	case gateway.NotifyPaymentFailed:
		_, err = s.tickets.FailPayment(ctx, ticketID)
	case gateway.NotifyRefunded:
		_, err = s.tickets.MarkRefunded(ctx, ticketID, n.RefundRef)
	default:
		slog.Info("unhandled payment notification", "notification", n.ID, "type", n.Type)
	}
	return err
}

// resolveTicket finds the ticket a notification is about, by the id in
// the session metadata or else by a processor reference.
func (s *ReconcileService) resolveTicket(ctx context.Context, n *gateway.Notification) (string, error) {
	if n.TicketID != "" {
		return n.TicketID, nil
	}
	for _, ref := range []string{n.PaymentRef, n.SessionID} {
		if ref == "" {
			continue
		}
		t, err := s.store.GetByPaymentRef(ctx, ref)
		if err == nil {
			return t.ID, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	return "", status.ErrTicketNotFound.With(map[string]any{"payment_ref": n.PaymentRef})
}

// ReconcilePending polls the processor for pending tickets whose
// notifications may have been lost.
func (s *ReconcileService) ReconcilePending(ctx context.Context) (int, error) {
	pending, err := s.store.ListPendingBefore(ctx, s.tickets.now())
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, t := range pending {
		if t.CheckoutSessionID == "" {
			continue
		}
		sess, err := s.gateway.RetrieveSession(ctx, t.CheckoutSessionID)
		if err != nil {
			if ctx.Err() != nil {
				return settled, ctx.Err()
			}
			slog.Warn("reconcileService.ReconcilePending() session lookup failed", "ticket", t.ID, "session", t.CheckoutSessionID, "error", err)
			continue
		}
		if sess.State == gateway.SessionOpen {
			continue
		}

		_, err = s.applySession(ctx, t.ID, sess)
		s.track(sourcePoll, string(sess.State), err)
		if err != nil {
			slog.Warn("reconcileService.ReconcilePending()", "ticket", t.ID, "error", err)
			continue
		}
		settled++
	}
	return settled, nil
}

// Run polls pending sessions and then expires tickets older than
// pendingTTL, every interval until ctx is done.
func (s *ReconcileService) Run(ctx context.Context, interval, pendingTTL time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := s.ReconcilePending(ctx); err != nil {
				slog.Error("reconcile pending tickets", "error", err)
			} else if n > 0 {
				slog.Info("reconciled pending tickets", "count", n)
			}
			if _, err := s.tickets.ExpireStale(ctx, pendingTTL); err != nil {
				slog.Error("expire stale tickets", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *ReconcileService) track(source, typ string, err error) {
	outcome := "applied"
	if err != nil {
		outcome = "failed"
		if appErr, known := status.Classify(err); known {
			outcome = strings.ToLower(appErr.Code)
		}
	}
	monitoring.TrackNotification(source, typ, outcome)
}
