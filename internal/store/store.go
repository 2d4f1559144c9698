// Package store defines the persistence contracts for tickets and the
// identifier registry.
package store

import (
	"context"
	"errors"
	"time"

	"culturepass/internal/lifecycle"
	"culturepass/models"
)

var (
	ErrNotFound = errors.New("store: record not found")
	// ErrStale means a conditional write found the record in a different
	// state than the caller read.
	ErrStale = errors.New("store: record changed since read")

	ErrDuplicateCode    = errors.New("store: code already taken")
	ErrDuplicateTarget  = errors.New("store: target already registered")
	ErrDuplicatePending = errors.New("store: pending purchase already exists")
)

type TicketStore interface {
	// Create inserts t and fills in ID, Created and Updated.
	Create(ctx context.Context, t *models.Ticket) error
	Get(ctx context.Context, id string) (*models.Ticket, error)
	GetByCode(ctx context.Context, code string) (*models.Ticket, error)
	GetByPaymentRef(ctx context.Context, ref string) (*models.Ticket, error)
	FindPending(ctx context.Context, userID, eventID string) (*models.Ticket, error)

	ListByUser(ctx context.Context, userID string) ([]*models.Ticket, error)
	ListByEvent(ctx context.Context, eventID string) ([]*models.Ticket, error)
	ListAll(ctx context.Context) ([]*models.Ticket, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Ticket, error)
	ListMissingQR(ctx context.Context) ([]*models.Ticket, error)
	CountByUserStatus(ctx context.Context, userID string, st models.TicketStatus) (int, error)

	// Update writes t only if the stored ticket is still in prev.
	Update(ctx context.Context, t *models.Ticket, prev lifecycle.State) error
	SetQRCode(ctx context.Context, id, qr string) error
	CountByStatus(ctx context.Context) (map[models.TicketStatus]int, error)
}

type RegistryStore interface {
	FindByTarget(ctx context.Context, targetID string) (*models.RegistryEntry, error)
	FindByCode(ctx context.Context, code string) (*models.RegistryEntry, error)
	// Insert returns ErrDuplicateCode or ErrDuplicateTarget when the
	// respective unique constraint rejects the row.
	Insert(ctx context.Context, e *models.RegistryEntry) error
	List(ctx context.Context) ([]*models.RegistryEntry, error)
	// LinkOwner copies code onto the owning entity's record.
	LinkOwner(ctx context.Context, kind models.EntityKind, targetID, code string) error
}
