// Package migrations bootstraps the schema of the discovery repository tables.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS discovery_saved_places (
		id          TEXT PRIMARY KEY,
		trip_id     TEXT NOT NULL,
		kind        TEXT NOT NULL,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL DEFAULT '',
		rating      DOUBLE PRECISION,
		price       INTEGER,
		image       TEXT NOT NULL DEFAULT '',
		address     TEXT NOT NULL DEFAULT '',
		degraded    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS discovery_saved_places_trip_kind_idx
		ON discovery_saved_places (trip_id, kind, lower(trim(name)))`,
	`CREATE TABLE IF NOT EXISTS itinerary_entries (
		id         TEXT PRIMARY KEY,
		trip_id    TEXT NOT NULL,
		item_name  TEXT NOT NULL,
		item_type  TEXT NOT NULL,
		date       TEXT NOT NULL,
		time       TEXT NOT NULL,
		notes      TEXT,
		address    TEXT,
		image      TEXT,
		category   TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS itinerary_entries_trip_date_idx
		ON itinerary_entries (trip_id, date, time)`,
}

// Apply executes every schema statement in order. Statements are idempotent.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
