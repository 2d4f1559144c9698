package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"culturepass/internal/fees"
	"culturepass/internal/lifecycle"
	"culturepass/internal/services/gateway"
	"culturepass/internal/status"
	"culturepass/internal/store"
	"culturepass/models"
	"culturepass/monitoring"
	"culturepass/utils"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	ticketCodeAttempts = 5
	transitionAttempts = 4
	backfillWorkers    = 4
)

type TicketService struct {
	tickets   store.TicketStore
	registry  *RegistryService
	gateway   gateway.Gateway
	publisher Publisher

	currency string
	now      func() time.Time
	encodeQR func(content string) (string, error)
	suffix   CodeSource
}

type TicketOption func(*TicketService)

func WithClock(now func() time.Time) TicketOption {
	return func(s *TicketService) { s.now = now }
}

func WithDefaultCurrency(currency string) TicketOption {
	return func(s *TicketService) { s.currency = currency }
}

func WithQREncoder(encode func(string) (string, error)) TicketOption {
	return func(s *TicketService) { s.encodeQR = encode }
}

// WithTicketCodeSource replaces the random suffix of ticket codes.
func WithTicketCodeSource(src CodeSource) TicketOption {
	return func(s *TicketService) { s.suffix = src }
}

func WithPublisher(p Publisher) TicketOption {
	return func(s *TicketService) { s.publisher = p }
}

// NewTicketService wires the ticket lifecycle. registry may be nil, in
// which case tickets get no public id.
func NewTicketService(tickets store.TicketStore, registry *RegistryService, gw gateway.Gateway, opts ...TicketOption) *TicketService {
	s := &TicketService{
		tickets:   tickets,
		registry:  registry,
		gateway:   gw,
		publisher: NopPublisher{},
		currency:  "AUD",
		now:       time.Now,
		encodeQR:  utils.QRDataURL,
		suffix:    utils.RandomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TicketService) validate(req *models.TicketRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return status.MissingField("userId")
	}
	if strings.TrimSpace(req.EventID) == "" {
		return status.MissingField("eventId")
	}
	if req.Quantity < 1 {
		return status.ErrInvalidAmount.With(map[string]any{"field": "quantity"})
	}
	if req.Total.IsNegative() {
		return status.ErrInvalidAmount.With(map[string]any{"field": "totalPrice"})
	}
	if err := validation.Validate(req.Event.Date, validation.Date(models.EventDateLayout)); err != nil {
		return status.ErrInvalidRequest.With(map[string]any{"field": "eventDate", "reason": err.Error()})
	}
	return nil
}

// newCode returns TKT-<base36 unix ms>-<4 random chars>.
func (s *TicketService) newCode() (string, error) {
	suffix, err := s.suffix(4)
	if err != nil {
		return "", err
	}
	stamp := strings.ToUpper(strconv.FormatInt(s.now().UnixMilli(), 36))
	return "TKT-" + stamp + "-" + suffix, nil
}

// Create issues a ticket with frozen fees. Priced tickets start
// pending/pending; free ones are confirmed at once.
func (s *TicketService) Create(ctx context.Context, req models.TicketRequest) (t *models.Ticket, err error) {
	ctx, span := startSpan(ctx, "TicketService.Create", attribute.String("event.id", req.EventID))
	defer func() { endSpan(span, err) }()

	if err := s.validate(&req); err != nil {
		return nil, err
	}

	total := req.Total.Round(2)
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}

	t = &models.Ticket{
		UserID:        req.UserID,
		EventID:       req.EventID,
		Event:         req.Event,
		Quantity:      req.Quantity,
		Total:         total,
		Currency:      currency,
		Status:        models.TicketPending,
		PaymentStatus: models.PaymentPending,
		Fees:          fees.Compute(total),
	}
	if !t.Priced() {
		t.Status = models.TicketConfirmed
	}

	err = utils.WithRetry(ctx, utils.RetryPolicy{
		MaxAttempts: ticketCodeAttempts,
		Retryable:   utils.RetryOn(store.ErrDuplicateCode),
	}, func(int) error {
		code, err := s.newCode()
		if err != nil {
			return err
		}
		t.Code = code
		t.QRCode = s.artifact(code)
		return s.tickets.Create(ctx, t)
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicatePending):
		return nil, status.ErrDuplicatePendingPurchase
	default:
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	if s.registry != nil {
		publicID, err := s.registry.Issue(ctx, t.ID, models.KindTicket)
		if err != nil {
			slog.Warn("ticketService.Create() public id not issued", "ticket", t.ID, "error", err)
		} else {
			t.PublicID = publicID
		}
	}

	span.SetAttributes(attribute.String("ticket.id", t.ID))
	slog.Info("ticket created", "ticket", t.ID, "code", t.Code, "user", t.UserID, "event", t.EventID, "total", t.Total.StringFixed(2))
	s.publisher.TicketChanged(ctx, t)
	return t, nil
}

// artifact renders the scannable code. Failures leave it empty for a
// later backfill.
func (s *TicketService) artifact(code string) string {
	qr, err := s.encodeQR(code)
	if err != nil {
		slog.Warn("ticket qr code not generated", "code", code, "error", err)
		return ""
	}
	return qr
}

// change describes one lifecycle step. apply runs after the state machine
// accepted the action and may set further fields or veto the write. noop
// runs when the action had already taken effect.
type change struct {
	action lifecycle.Action
	apply  func(t *models.Ticket, prev lifecycle.State) error
	noop   func(t *models.Ticket) error
}

// transition reads the ticket, applies c and writes the result only if the
// stored state is still the one read. A lost race re-reads and re-decides.
// The returned ticket is the latest one read, also on error.
func (s *TicketService) transition(ctx context.Context, id string, c change) (*models.Ticket, error) {
	var (
		current *models.Ticket
		applied bool
	)

	err := utils.WithRetry(ctx, utils.RetryPolicy{
		MaxAttempts: transitionAttempts,
		Retryable:   utils.RetryOn(store.ErrStale),
	}, func(int) error {
		t, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		current = t

		prev := lifecycle.StateOf(t)
		next, err := lifecycle.Apply(prev, c.action)
		if errors.Is(err, lifecycle.ErrNoop) {
			if c.noop != nil {
				return c.noop(t)
			}
			return nil
		}
		if err != nil {
			return err
		}

		updated := t.Clone()
		updated.Status, updated.PaymentStatus = next.Status, next.Payment
		if c.apply != nil {
			if err := c.apply(updated, prev); err != nil {
				return err
			}
		}
		if err := s.tickets.Update(ctx, updated, prev); err != nil {
			return err
		}
		current, applied = updated, true
		return nil
	})

	switch {
	case err != nil:
		outcome := "rejected"
		if _, known := status.Classify(err); !known {
			outcome = "error"
		}
		monitoring.TrackTransition(string(c.action), outcome)
		return current, err
	case applied:
		monitoring.TrackTransition(string(c.action), "applied")
		s.publisher.TicketChanged(ctx, current)
	default:
		monitoring.TrackTransition(string(c.action), "noop")
	}
	return current, nil
}

func (s *TicketService) load(ctx context.Context, id string) (*models.Ticket, error) {
	t, err := s.tickets.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.ErrTicketNotFound.With(map[string]any{"ticket_id": id})
	}
	return t, err
}

// Confirm records a successful payment. Repeating it with the same
// reference is a no-op; a different reference is a mismatch.
func (s *TicketService) Confirm(ctx context.Context, id, paymentRef string) (*models.Ticket, error) {
	return s.transition(ctx, id, change{
		action: lifecycle.Confirm,
		apply: func(t *models.Ticket, _ lifecycle.State) error {
			if paymentRef != "" {
				t.PaymentRef = paymentRef
			}
			return nil
		},
		noop: func(t *models.Ticket) error {
			if paymentRef != "" && t.PaymentRef != "" && t.PaymentRef != paymentRef {
				return status.ErrPaymentMismatch.With(map[string]any{"ticket_id": t.ID})
			}
			return nil
		},
	})
}

// FailPayment cancels a ticket whose checkout was abandoned or declined.
// It does nothing once the ticket is confirmed.
func (s *TicketService) FailPayment(ctx context.Context, id string) (*models.Ticket, error) {
	return s.transition(ctx, id, change{action: lifecycle.FailPayment})
}

func (s *TicketService) Cancel(ctx context.Context, id, reason string) (*models.Ticket, error) {
	t, err := s.transition(ctx, id, change{action: lifecycle.Cancel})
	if err == nil {
		slog.Info("ticket cancelled", "ticket", id, "reason", reason)
	}
	return t, err
}

// Refund returns the payment and cancels the ticket. Tickets that were
// never charged are cancelled without contacting the processor. A charged
// ticket is first claimed as refund_pending so that no scan can slip in
// while the processor is refunding it.
func (s *TicketService) Refund(ctx context.Context, id string) (t *models.Ticket, err error) {
	ctx, span := startSpan(ctx, "TicketService.Refund", attribute.String("ticket.id", id))
	defer func() { endSpan(span, err) }()

	t, err = s.transition(ctx, id, change{
		action: lifecycle.Refund,
		apply: func(t *models.Ticket, prev lifecycle.State) error {
			if t.PaymentStatus != models.PaymentRefundPending || t.PaymentRef != "" {
				return nil
			}
			next, err := lifecycle.Apply(prev, lifecycle.Cancel)
			if err != nil {
				return err
			}
			t.Status, t.PaymentStatus = next.Status, next.Payment
			return nil
		},
	})
	if err != nil || t.PaymentStatus != models.PaymentRefundPending {
		return t, err
	}
	return s.settleRefund(ctx, t)
}

// settleRefund asks the processor to refund a claimed payment and records
// the outcome. A rejected refund puts a still sellable ticket back to paid.
func (s *TicketService) settleRefund(ctx context.Context, t *models.Ticket) (*models.Ticket, error) {
	if s.gateway == nil {
		return t, status.ErrPaymentGateway
	}
	ref, err := s.gateway.Refund(ctx, t.PaymentRef)
	if err != nil {
		slog.Error("ticketService.settleRefund() gateway refund failed", "ticket", t.ID, "payment", t.PaymentRef, "error", err)
		if t.Status == models.TicketPending || t.Status == models.TicketConfirmed {
			if _, abortErr := s.transition(ctx, t.ID, change{action: lifecycle.RefundAbort}); abortErr != nil {
				slog.Error("ticketService.settleRefund() refund claim not released", "ticket", t.ID, "error", abortErr)
			}
		}
		return t, status.ErrPaymentGateway.With(map[string]any{"ticket_id": t.ID})
	}
	slog.Info("ticket refunded", "ticket", t.ID, "payment", t.PaymentRef, "refund", ref)
	return s.MarkRefunded(ctx, t.ID, ref)
}

// MarkRefunded records a refund the processor confirmed, including one
// issued from the processor dashboard.
func (s *TicketService) MarkRefunded(ctx context.Context, id, refundRef string) (*models.Ticket, error) {
	return s.transition(ctx, id, change{
		action: lifecycle.RefundSettle,
		apply: func(t *models.Ticket, _ lifecycle.State) error {
			if refundRef != "" {
				t.RefundRef = refundRef
			}
			return nil
		},
	})
}

// RefundLatePayment handles a payment captured after its ticket was
// cancelled or expired. The payment is recorded and handed back.
func (s *TicketService) RefundLatePayment(ctx context.Context, id, paymentRef string) (t *models.Ticket, err error) {
	ctx, span := startSpan(ctx, "TicketService.RefundLatePayment", attribute.String("ticket.id", id))
	defer func() { endSpan(span, err) }()

	t, err = s.transition(ctx, id, change{
		action: lifecycle.LatePayment,
		apply: func(t *models.Ticket, _ lifecycle.State) error {
			if paymentRef == "" {
				return status.ErrPaymentMismatch.With(map[string]any{"ticket_id": t.ID})
			}
			t.PaymentRef = paymentRef
			return nil
		},
		noop: func(t *models.Ticket) error {
			if paymentRef != "" && t.PaymentRef != "" && t.PaymentRef != paymentRef {
				return status.ErrPaymentMismatch.With(map[string]any{"ticket_id": t.ID})
			}
			return nil
		},
	})
	if err != nil || t.PaymentStatus != models.PaymentRefundPending {
		return t, err
	}
	slog.Warn("payment captured for unsellable ticket, refunding", "ticket", t.ID, "status", t.Status, "payment", t.PaymentRef)
	return s.settleRefund(ctx, t)
}

// Scan commits the terminal used transition. check runs after the state
// machine accepted the scan and before the write.
func (s *TicketService) scan(ctx context.Context, id, scannedBy string, check func(t *models.Ticket) error) (*models.Ticket, error) {
	return s.transition(ctx, id, change{
		action: lifecycle.Scan,
		apply: func(t *models.Ticket, _ lifecycle.State) error {
			if err := check(t); err != nil {
				return err
			}
			at := s.now().UTC()
			t.ScannedAt = &at
			t.ScannedBy = scannedBy
			return nil
		},
	})
}

// AttachSession stores the processor references of a checkout session.
func (s *TicketService) AttachSession(ctx context.Context, id, sessionID, paymentRef string) (*models.Ticket, error) {
	var out *models.Ticket
	err := utils.WithRetry(ctx, utils.RetryPolicy{
		MaxAttempts: transitionAttempts,
		Retryable:   utils.RetryOn(store.ErrStale),
	}, func(int) error {
		t, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		updated := t.Clone()
		updated.CheckoutSessionID = sessionID
		if paymentRef != "" && updated.PaymentRef == "" {
			updated.PaymentRef = paymentRef
		}
		if err := s.tickets.Update(ctx, updated, lifecycle.StateOf(t)); err != nil {
			return err
		}
		out = updated
		return nil
	})
	return out, err
}

// ExpireStale expires unpaid tickets created before now-olderThan. A
// ticket whose checkout session the processor still holds open is left
// alone, and one whose session was paid meanwhile is confirmed instead.
func (s *TicketService) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.tickets.ListPendingBefore(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, t := range stale {
		if !s.sessionClosed(ctx, t) {
			continue
		}
		if _, err := s.transition(ctx, t.ID, change{action: lifecycle.Expire}); err != nil {
			if errors.Is(err, status.ErrInvalidTransition) {
				continue // settled since it was listed
			}
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			slog.Error("ticketService.ExpireStale()", "ticket", t.ID, "error", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		slog.Info("expired stale pending tickets", "count", expired, "older_than", olderThan)
	}
	return expired, nil
}

// sessionClosed reports whether t's checkout session can no longer be
// paid. Tickets without a session are always closed.
func (s *TicketService) sessionClosed(ctx context.Context, t *models.Ticket) bool {
	if t.CheckoutSessionID == "" || s.gateway == nil {
		return true
	}
	sess, err := s.gateway.RetrieveSession(ctx, t.CheckoutSessionID)
	switch {
	case errors.Is(err, gateway.ErrSessionNotFound):
		return true
	case err != nil:
		slog.Warn("ticketService.ExpireStale() session lookup failed", "ticket", t.ID, "session", t.CheckoutSessionID, "error", err)
		return false
	}

	switch sess.State {
	case gateway.SessionPaid:
		if _, err := s.Confirm(ctx, t.ID, sess.PaymentRef); err != nil {
			slog.Error("ticketService.ExpireStale() confirm paid session", "ticket", t.ID, "error", err)
		}
		return false
	case gateway.SessionExpired:
		return true
	}
	return false
}

// BackfillArtifacts fills in QR codes and public ids that best-effort
// creation left empty.
func (s *TicketService) BackfillArtifacts(ctx context.Context) (int, error) {
	missing, err := s.tickets.ListMissingQR(ctx)
	if err != nil {
		return 0, err
	}
	if s.registry != nil {
		all, err := s.tickets.ListAll(ctx)
		if err != nil {
			return 0, err
		}
		seen := make(map[string]bool, len(missing))
		for _, t := range missing {
			seen[t.ID] = true
		}
		for _, t := range all {
			if t.PublicID == "" && !seen[t.ID] {
				missing = append(missing, t)
			}
		}
	}

	var filled atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backfillWorkers)
	for _, t := range missing {
		g.Go(func() error {
			changed := false
			if t.QRCode == "" {
				qr, err := s.encodeQR(t.Code)
				if err != nil {
					slog.Warn("backfill qr code failed", "ticket", t.ID, "error", err)
				} else if err := s.tickets.SetQRCode(gctx, t.ID, qr); err != nil {
					return fmt.Errorf("store qr code for %s: %w", t.ID, err)
				} else {
					changed = true
				}
			}
			if t.PublicID == "" && s.registry != nil {
				if _, err := s.registry.Issue(gctx, t.ID, models.KindTicket); err != nil {
					slog.Warn("backfill public id failed", "ticket", t.ID, "error", err)
				} else {
					changed = true
				}
			}
			if changed {
				filled.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(filled.Load()), err
}

func (s *TicketService) Get(ctx context.Context, id string) (*models.Ticket, error) {
	return s.load(ctx, id)
}

func (s *TicketService) GetByCode(ctx context.Context, code string) (*models.Ticket, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	t, err := s.tickets.GetByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.ErrTicketNotFound.With(map[string]any{"ticket_code": code})
	}
	return t, err
}

func (s *TicketService) ListByUser(ctx context.Context, userID string) ([]*models.Ticket, error) {
	return s.tickets.ListByUser(ctx, userID)
}

func (s *TicketService) ListByEvent(ctx context.Context, eventID string) ([]*models.Ticket, error) {
	return s.tickets.ListByEvent(ctx, eventID)
}

func (s *TicketService) ListAll(ctx context.Context) ([]*models.Ticket, error) {
	return s.tickets.ListAll(ctx)
}

// CountConfirmed counts a user's tickets that are valid for entry.
func (s *TicketService) CountConfirmed(ctx context.Context, userID string) (int, error) {
	return s.tickets.CountByUserStatus(ctx, userID, models.TicketConfirmed)
}
