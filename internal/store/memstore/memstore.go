// Package memstore keeps tickets and registry entries in process memory.
// It enforces the same uniqueness and compare-and-set rules as the
// database-backed store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"culturepass/internal/lifecycle"
	"culturepass/internal/store"
	"culturepass/models"

	"github.com/google/uuid"
)

type Tickets struct {
	mu   sync.RWMutex
	byID map[string]*models.Ticket
	now  func() time.Time
}

type Registry struct {
	mu       sync.RWMutex
	byCode   map[string]*models.RegistryEntry
	byTarget map[string]*models.RegistryEntry
	owners   map[string]string
	tickets  *Tickets
	now      func() time.Time

	// InsertHook, when set, runs before every insert and may fail it.
	InsertHook func(e *models.RegistryEntry) error
}

// New returns linked stores: registry codes of kind ticket are copied
// onto the ticket's PublicID.
func New() (*Tickets, *Registry) {
	t := &Tickets{byID: make(map[string]*models.Ticket), now: time.Now}
	r := &Registry{
		byCode:   make(map[string]*models.RegistryEntry),
		byTarget: make(map[string]*models.RegistryEntry),
		owners:   make(map[string]string),
		tickets:  t,
		now:      time.Now,
	}
	return t, r
}

func (s *Tickets) Create(_ context.Context, t *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.Code == t.Code {
			return store.ErrDuplicateCode
		}
		if t.Status == models.TicketPending && existing.Status == models.TicketPending &&
			existing.UserID == t.UserID && existing.EventID == t.EventID {
			return store.ErrDuplicatePending
		}
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := s.now().UTC()
	t.Created, t.Updated = now, now
	s.byID[t.ID] = t.Clone()
	return nil
}

func (s *Tickets) Get(_ context.Context, id string) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *Tickets) first(match func(*models.Ticket) bool) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.byID {
		if match(t) {
			return t.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Tickets) GetByCode(_ context.Context, code string) (*models.Ticket, error) {
	return s.first(func(t *models.Ticket) bool { return t.Code == code })
}

func (s *Tickets) GetByPaymentRef(_ context.Context, ref string) (*models.Ticket, error) {
	if ref == "" {
		return nil, store.ErrNotFound
	}
	return s.first(func(t *models.Ticket) bool { return t.PaymentRef == ref || t.CheckoutSessionID == ref })
}

func (s *Tickets) FindPending(_ context.Context, userID, eventID string) (*models.Ticket, error) {
	return s.first(func(t *models.Ticket) bool {
		return t.UserID == userID && t.EventID == eventID &&
			t.Status == models.TicketPending && t.PaymentStatus == models.PaymentPending
	})
}

// list returns matches newest first.
func (s *Tickets) list(match func(*models.Ticket) bool) []*models.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Ticket, 0)
	for _, t := range s.byID {
		if match(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out
}

func (s *Tickets) ListByUser(_ context.Context, userID string) ([]*models.Ticket, error) {
	return s.list(func(t *models.Ticket) bool { return t.UserID == userID }), nil
}

func (s *Tickets) ListByEvent(_ context.Context, eventID string) ([]*models.Ticket, error) {
	return s.list(func(t *models.Ticket) bool { return t.EventID == eventID }), nil
}

func (s *Tickets) ListAll(_ context.Context) ([]*models.Ticket, error) {
	return s.list(func(*models.Ticket) bool { return true }), nil
}

func (s *Tickets) ListPendingBefore(_ context.Context, cutoff time.Time) ([]*models.Ticket, error) {
	return s.list(func(t *models.Ticket) bool {
		return t.Status == models.TicketPending && t.Created.Before(cutoff)
	}), nil
}

func (s *Tickets) ListMissingQR(_ context.Context) ([]*models.Ticket, error) {
	return s.list(func(t *models.Ticket) bool { return t.QRCode == "" && t.Code != "" }), nil
}

func (s *Tickets) CountByUserStatus(_ context.Context, userID string, st models.TicketStatus) (int, error) {
	return len(s.list(func(t *models.Ticket) bool { return t.UserID == userID && t.Status == st })), nil
}

func (s *Tickets) CountByStatus(_ context.Context) (map[models.TicketStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.TicketStatus]int)
	for _, t := range s.byID {
		counts[t.Status]++
	}
	return counts, nil
}

func (s *Tickets) Update(_ context.Context, t *models.Ticket, prev lifecycle.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[t.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Status != prev.Status || cur.PaymentStatus != prev.Payment {
		return store.ErrStale
	}
	// only lifecycle and payment fields are writable after creation
	next := cur.Clone()
	next.Status = t.Status
	next.PaymentStatus = t.PaymentStatus
	next.CheckoutSessionID = t.CheckoutSessionID
	next.PaymentRef = t.PaymentRef
	next.RefundRef = t.RefundRef
	next.ScannedAt = nil
	if t.ScannedAt != nil {
		at := *t.ScannedAt
		next.ScannedAt = &at
	}
	next.ScannedBy = t.ScannedBy
	next.Updated = s.now().UTC()
	s.byID[t.ID] = next

	t.Updated = next.Updated
	return nil
}

func (s *Tickets) SetQRCode(_ context.Context, id, qr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	cur.QRCode = qr
	return nil
}

func (s *Tickets) setPublicID(id, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	cur.PublicID = code
	return nil
}

func (r *Registry) FindByTarget(_ context.Context, targetID string) (*models.RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byTarget[targetID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (r *Registry) FindByCode(_ context.Context, code string) (*models.RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byCode[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (r *Registry) Insert(_ context.Context, e *models.RegistryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.InsertHook != nil {
		if err := r.InsertHook(e); err != nil {
			return err
		}
	}
	if _, ok := r.byCode[e.Code]; ok {
		return store.ErrDuplicateCode
	}
	if _, ok := r.byTarget[e.TargetID]; ok {
		return store.ErrDuplicateTarget
	}

	e.CreatedAt = r.now().UTC()
	c := *e
	r.byCode[e.Code] = &c
	r.byTarget[e.TargetID] = &c
	return nil
}

func (r *Registry) List(_ context.Context) ([]*models.RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.RegistryEntry, 0, len(r.byCode))
	for _, e := range r.byCode {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *Registry) LinkOwner(_ context.Context, kind models.EntityKind, targetID, code string) error {
	if kind == models.KindTicket {
		return r.tickets.setPublicID(targetID, code)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[kind.OwnerCollection()+"/"+targetID] = code
	return nil
}

// Owner returns the code linked onto a non-ticket owner record.
func (r *Registry) Owner(kind models.EntityKind, targetID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	code, ok := r.owners[kind.OwnerCollection()+"/"+targetID]
	if !ok {
		return "", fmt.Errorf("%s/%s: %w", kind.OwnerCollection(), targetID, store.ErrNotFound)
	}
	return code, nil
}

// SetClock replaces the time source of both stores.
func SetClock(t *Tickets, r *Registry, now func() time.Time) {
	t.now = now
	r.now = now
}
