package pbstore

import (
	"context"
	"fmt"
	"time"

	"culturepass/internal/lifecycle"
	"culturepass/internal/store"
	"culturepass/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

type TicketStore struct {
	app core.App
}

func NewTicketStore(app core.App) *TicketStore {
	return &TicketStore{app: app}
}

func (s *TicketStore) Create(ctx context.Context, t *models.Ticket) error {
	collection, err := s.app.FindCachedCollectionByNameOrId(ticketsCollection)
	if err != nil {
		return err
	}

	rec := core.NewRecord(collection)
	if t.ID != "" {
		rec.Id = t.ID
	}
	rec.Set("code", t.Code)
	rec.Set("public_id", t.PublicID)
	rec.Set("user_id", t.UserID)
	rec.Set("event_id", t.EventID)
	rec.Set("event_title", t.Event.Title)
	rec.Set("event_date", t.Event.Date)
	rec.Set("event_time", t.Event.Time)
	rec.Set("event_venue", t.Event.Venue)
	rec.Set("tier_name", t.Event.Tier)
	rec.Set("quantity", t.Quantity)
	rec.Set("total_price", t.Total.InexactFloat64())
	rec.Set("currency", t.Currency)
	rec.Set("status", string(t.Status))
	rec.Set("payment_status", string(t.PaymentStatus))
	rec.Set("platform_fee", t.Fees.PlatformFee.InexactFloat64())
	rec.Set("processor_fee", t.Fees.ProcessorFee.InexactFloat64())
	rec.Set("organizer_amount", t.Fees.OrganizerAmount.InexactFloat64())
	rec.Set("qr_code", t.QRCode)
	rec.Set("checkout_session_id", t.CheckoutSessionID)
	rec.Set("payment_ref", t.PaymentRef)

	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		fields := uniqueViolation(err)
		switch {
		case hasField(fields, "code"):
			return store.ErrDuplicateCode
		case hasField(fields, "user_id") || hasField(fields, "event_id"):
			return store.ErrDuplicatePending
		}
		return fmt.Errorf("create ticket: %w", err)
	}

	t.ID = rec.Id
	t.Created = rec.GetDateTime("created").Time()
	t.Updated = rec.GetDateTime("updated").Time()
	return nil
}

func (s *TicketStore) Get(_ context.Context, id string) (*models.Ticket, error) {
	rec, err := s.app.FindRecordById(ticketsCollection, id)
	if err != nil {
		return nil, notFound("ticket "+id, err)
	}
	return ticketFromRecord(rec), nil
}

func (s *TicketStore) GetByCode(_ context.Context, code string) (*models.Ticket, error) {
	rec, err := s.app.FindFirstRecordByData(ticketsCollection, "code", code)
	if err != nil {
		return nil, notFound("ticket code "+code, err)
	}
	return ticketFromRecord(rec), nil
}

func (s *TicketStore) GetByPaymentRef(_ context.Context, ref string) (*models.Ticket, error) {
	if ref == "" {
		return nil, store.ErrNotFound
	}
	rec, err := s.app.FindFirstRecordByFilter(ticketsCollection,
		"payment_ref = {:ref} || checkout_session_id = {:ref}",
		dbx.Params{"ref": ref},
	)
	if err != nil {
		return nil, notFound("ticket payment "+ref, err)
	}
	return ticketFromRecord(rec), nil
}

func (s *TicketStore) FindPending(_ context.Context, userID, eventID string) (*models.Ticket, error) {
	rec, err := s.app.FindFirstRecordByFilter(ticketsCollection,
		"user_id = {:user} && event_id = {:event} && status = 'pending' && payment_status = 'pending'",
		dbx.Params{"user": userID, "event": eventID},
	)
	if err != nil {
		return nil, notFound("pending ticket", err)
	}
	return ticketFromRecord(rec), nil
}

func (s *TicketStore) list(filter string, params dbx.Params) ([]*models.Ticket, error) {
	records, err := s.app.FindRecordsByFilter(ticketsCollection, filter, "-created", 0, 0, params)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Ticket, 0, len(records))
	for _, rec := range records {
		out = append(out, ticketFromRecord(rec))
	}
	return out, nil
}

func (s *TicketStore) ListByUser(_ context.Context, userID string) ([]*models.Ticket, error) {
	return s.list("user_id = {:user}", dbx.Params{"user": userID})
}

func (s *TicketStore) ListByEvent(_ context.Context, eventID string) ([]*models.Ticket, error) {
	return s.list("event_id = {:event}", dbx.Params{"event": eventID})
}

func (s *TicketStore) ListAll(_ context.Context) ([]*models.Ticket, error) {
	return s.list("id != ''", nil)
}

func (s *TicketStore) ListPendingBefore(_ context.Context, cutoff time.Time) ([]*models.Ticket, error) {
	return s.list("status = 'pending' && created < {:cutoff}", dbx.Params{
		"cutoff": cutoff.UTC().Format(types.DefaultDateLayout),
	})
}

func (s *TicketStore) ListMissingQR(_ context.Context) ([]*models.Ticket, error) {
	return s.list("qr_code = '' && code != ''", nil)
}

func (s *TicketStore) CountByUserStatus(_ context.Context, userID string, st models.TicketStatus) (int, error) {
	n, err := s.app.CountRecords(ticketsCollection, dbx.HashExp{"user_id": userID, "status": string(st)})
	return int(n), err
}

func (s *TicketStore) CountByStatus(ctx context.Context) (map[models.TicketStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	err := s.app.DB().
		Select("status", "COUNT(*) AS n").
		From(ticketsCollection).
		GroupBy("status").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, err
	}

	counts := make(map[models.TicketStatus]int, len(rows))
	for _, r := range rows {
		counts[models.TicketStatus(r.Status)] = r.N
	}
	return counts, nil
}

// Update writes the mutable fields of t if the stored row still has the
// status pair in prev.
func (s *TicketStore) Update(ctx context.Context, t *models.Ticket, prev lifecycle.State) error {
	scannedAt := ""
	if t.ScannedAt != nil {
		dt, err := types.ParseDateTime(t.ScannedAt.UTC())
		if err != nil {
			return err
		}
		scannedAt = dt.String()
	}
	now := types.NowDateTime()

	n, err := execUpdate(ctx, s.app, ticketsCollection, dbx.Params{
		"status":              string(t.Status),
		"payment_status":      string(t.PaymentStatus),
		"checkout_session_id": t.CheckoutSessionID,
		"payment_ref":         t.PaymentRef,
		"refund_ref":          t.RefundRef,
		"scanned_at":          scannedAt,
		"scanned_by":          t.ScannedBy,
		"updated":             now.String(),
	}, dbx.HashExp{
		"id":             t.ID,
		"status":         string(prev.Status),
		"payment_status": string(prev.Payment),
	})
	if err != nil {
		return fmt.Errorf("update ticket %s: %w", t.ID, err)
	}
	if n == 0 {
		if _, err := s.app.FindRecordById(ticketsCollection, t.ID); err != nil {
			return notFound("ticket "+t.ID, err)
		}
		return store.ErrStale
	}

	t.Updated = now.Time()
	return nil
}

func (s *TicketStore) SetQRCode(ctx context.Context, id, qr string) error {
	n, err := execUpdate(ctx, s.app, ticketsCollection,
		dbx.Params{"qr_code": qr},
		dbx.HashExp{"id": id},
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("ticket %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func ticketFromRecord(rec *core.Record) *models.Ticket {
	t := &models.Ticket{
		ID:       rec.Id,
		Code:     rec.GetString("code"),
		PublicID: rec.GetString("public_id"),
		UserID:   rec.GetString("user_id"),
		EventID:  rec.GetString("event_id"),
		Event: models.EventSnapshot{
			Title: rec.GetString("event_title"),
			Date:  rec.GetString("event_date"),
			Time:  rec.GetString("event_time"),
			Venue: rec.GetString("event_venue"),
			Tier:  rec.GetString("tier_name"),
		},
		Quantity:      rec.GetInt("quantity"),
		Total:         money(rec.GetFloat("total_price")),
		Currency:      rec.GetString("currency"),
		Status:        models.TicketStatus(rec.GetString("status")),
		PaymentStatus: models.PaymentStatus(rec.GetString("payment_status")),
		Fees: models.Fees{
			PlatformFee:     money(rec.GetFloat("platform_fee")),
			ProcessorFee:    money(rec.GetFloat("processor_fee")),
			OrganizerAmount: money(rec.GetFloat("organizer_amount")),
		},
		QRCode:            rec.GetString("qr_code"),
		CheckoutSessionID: rec.GetString("checkout_session_id"),
		PaymentRef:        rec.GetString("payment_ref"),
		RefundRef:         rec.GetString("refund_ref"),
		ScannedBy:         rec.GetString("scanned_by"),
		Created:           rec.GetDateTime("created").Time(),
		Updated:           rec.GetDateTime("updated").Time(),
	}
	if at := rec.GetDateTime("scanned_at"); !at.IsZero() {
		scanned := at.Time()
		t.ScannedAt = &scanned
	}
	return t
}

// money restores a stored amount to cent precision.
func money(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}
