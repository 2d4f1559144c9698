package pbstore

import (
	"context"
	"fmt"

	"culturepass/internal/store"
	"culturepass/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

type RegistryStore struct {
	app core.App
}

func NewRegistryStore(app core.App) *RegistryStore {
	return &RegistryStore{app: app}
}

func (s *RegistryStore) FindByTarget(_ context.Context, targetID string) (*models.RegistryEntry, error) {
	rec, err := s.app.FindFirstRecordByData(registryCollection, "target_id", targetID)
	if err != nil {
		return nil, notFound("registry target "+targetID, err)
	}
	return entryFromRecord(rec), nil
}

func (s *RegistryStore) FindByCode(_ context.Context, code string) (*models.RegistryEntry, error) {
	rec, err := s.app.FindFirstRecordByData(registryCollection, "code", code)
	if err != nil {
		return nil, notFound("registry code "+code, err)
	}
	return entryFromRecord(rec), nil
}

func (s *RegistryStore) Insert(ctx context.Context, e *models.RegistryEntry) error {
	collection, err := s.app.FindCachedCollectionByNameOrId(registryCollection)
	if err != nil {
		return err
	}

	rec := core.NewRecord(collection)
	rec.Set("code", e.Code)
	rec.Set("target_id", e.TargetID)
	rec.Set("entity_kind", string(e.Kind))

	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		fields := uniqueViolation(err)
		switch {
		case hasField(fields, "code"):
			return store.ErrDuplicateCode
		case hasField(fields, "target_id"):
			return store.ErrDuplicateTarget
		}
		return fmt.Errorf("insert registry entry: %w", err)
	}

	e.CreatedAt = rec.GetDateTime("created").Time()
	return nil
}

func (s *RegistryStore) List(_ context.Context) ([]*models.RegistryEntry, error) {
	records, err := s.app.FindRecordsByFilter(registryCollection, "id != ''", "-created", 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*models.RegistryEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, entryFromRecord(rec))
	}
	return out, nil
}

func (s *RegistryStore) LinkOwner(ctx context.Context, kind models.EntityKind, targetID, code string) error {
	table := kind.OwnerCollection()
	n, err := execUpdate(ctx, s.app, table,
		dbx.Params{"public_id": code},
		dbx.HashExp{"id": targetID},
	)
	if err != nil {
		return fmt.Errorf("link %s/%s: %w", table, targetID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", table, targetID, store.ErrNotFound)
	}
	return nil
}

func entryFromRecord(rec *core.Record) *models.RegistryEntry {
	return &models.RegistryEntry{
		Code:      rec.GetString("code"),
		TargetID:  rec.GetString("target_id"),
		Kind:      models.EntityKind(rec.GetString("entity_kind")),
		CreatedAt: rec.GetDateTime("created").Time(),
	}
}
