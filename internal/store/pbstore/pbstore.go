// Package pbstore persists tickets and registry entries in PocketBase
// collections. Lifecycle writes bypass record hooks and go through a
// conditional UPDATE so that racing transitions cannot both succeed.
package pbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"culturepass/internal/store"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

const (
	ticketsCollection  = "tickets"
	registryCollection = "cpid_registry"
)

// uniqueViolation returns the columns of the unique index that rejected a
// write, or nil when err is not a uniqueness failure.
func uniqueViolation(err error) []string {
	if err == nil {
		return nil
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		var fields []string
		for field, fe := range verrs {
			var ve validation.Error
			if errors.As(fe, &ve) && ve.Code() == "validation_not_unique" {
				fields = append(fields, field)
			}
		}
		if len(fields) > 0 {
			return fields
		}
	}

	// sqlite: "UNIQUE constraint failed: tickets.user_id, tickets.event_id"
	msg := err.Error()
	i := strings.Index(msg, "UNIQUE constraint failed: ")
	if i < 0 {
		return nil
	}
	var cols []string
	for _, c := range strings.Split(msg[i+len("UNIQUE constraint failed: "):], ",") {
		c = strings.TrimSpace(c)
		if dot := strings.LastIndex(c, "."); dot >= 0 {
			c = c[dot+1:]
		}
		if sp := strings.IndexAny(c, " )"); sp >= 0 {
			c = c[:sp]
		}
		if c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

func hasField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

// notFound maps a missing row to store.ErrNotFound.
func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return err
}

// execUpdate runs a raw UPDATE and returns the affected row count.
func execUpdate(ctx context.Context, app core.App, table string, cols dbx.Params, where dbx.HashExp) (int64, error) {
	res, err := app.NonconcurrentDB().
		Update(table, cols, where).
		WithContext(ctx).
		Execute()
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
