package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// NotifyChannel is the channel the change triggers notify on.
const NotifyChannel = "match_changes"

//go:embed 0001_create_match_tables.sql
var createMatchTablesSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createMatchTablesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
				DROP TABLE IF EXISTS responses;
				DROP TABLE IF EXISTS players;
				DROP TABLE IF EXISTS questions;
				DROP TABLE IF EXISTS matches;
				DROP FUNCTION IF EXISTS notify_match_change();
			`)
			return err
		},
	)
}
