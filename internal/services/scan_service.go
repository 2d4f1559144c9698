package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"culturepass/internal/status"
	"culturepass/models"

	"go.opentelemetry.io/otel/attribute"
)

const defaultScanner = "staff"

// ScanService admits ticket holders at the door.
type ScanService struct {
	tickets *TicketService
	loc     *time.Location
	now     func() time.Time
}

// NewScanService evaluates event dates in loc; nil means UTC.
func NewScanService(tickets *TicketService, loc *time.Location) *ScanService {
	if loc == nil {
		loc = time.UTC
	}
	return &ScanService{tickets: tickets, loc: loc, now: time.Now}
}

// Scan validates the ticket behind code and marks it used. Checks run in
// order: existence, already used, cancelled, payment, event date.
func (s *ScanService) Scan(ctx context.Context, code, scannedBy string) (t *models.Ticket, err error) {
	ctx, span := startSpan(ctx, "ScanService.Scan")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(code) == "" {
		return nil, status.MissingField("ticketCode")
	}
	scannedBy = strings.TrimSpace(scannedBy)
	if scannedBy == "" {
		scannedBy = defaultScanner
	}

	found, err := s.tickets.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("ticket.id", found.ID))

	t, err = s.tickets.scan(ctx, found.ID, scannedBy, s.checkDate)
	if errors.Is(err, status.ErrAlreadyScanned) && t != nil && t.ScannedAt != nil {
		return nil, status.ErrAlreadyScanned.With(map[string]any{
			"scanned_at": t.ScannedAt.UTC().Format(time.RFC3339),
			"scanned_by": t.ScannedBy,
		})
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// checkDate rejects tickets once the day after the event has begun in the
// event's timezone.
func (s *ScanService) checkDate(t *models.Ticket) error {
	day, ok := t.Event.Day(s.loc)
	if !ok {
		return nil
	}
	deadline := day.AddDate(0, 0, 1)
	if s.now().After(deadline) {
		return status.ErrTicketExpired.With(map[string]any{"event_date": t.Event.Date})
	}
	return nil
}
