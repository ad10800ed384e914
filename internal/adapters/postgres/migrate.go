package postgres

import (
	"context"
	_ "embed"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// ChangesChannel is the NOTIFY channel written by the rides trigger.
const ChangesChannel = "rides_changes"

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil postgres pool")
	}
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
