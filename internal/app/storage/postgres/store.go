package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/domain/itinerary"
	"github.com/roamly/discovery/internal/app/storage"
)

// Store implements the repository interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.PlaceStore = (*Store)(nil)
var _ storage.ItineraryStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// --- PlaceStore -------------------------------------------------------------

func (s *Store) ListPlaceNames(ctx context.Context, tripID string, kind discovery.Kind) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names, `
		SELECT name
		FROM discovery_saved_places
		WHERE trip_id = $1 AND kind = $2
		ORDER BY created_at
	`, tripID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list place names: %w", err)
	}
	return names, nil
}

func (s *Store) ListPlaces(ctx context.Context, tripID string, kind discovery.Kind) ([]discovery.NormalizedItem, error) {
	query := `
		SELECT id, trip_id, kind, name, description, category, rating, price, image, address, degraded, created_at
		FROM discovery_saved_places
		WHERE trip_id = $1`
	args := []any{tripID}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at`

	var places []discovery.NormalizedItem
	if err := s.db.SelectContext(ctx, &places, query, args...); err != nil {
		return nil, fmt.Errorf("list places: %w", err)
	}
	return places, nil
}

func (s *Store) AppendPlace(ctx context.Context, item discovery.NormalizedItem) (discovery.NormalizedItem, error) {
	if strings.TrimSpace(item.TripID) == "" {
		return discovery.NormalizedItem{}, fmt.Errorf("trip_id is required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.CreatedAt = time.Now().UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO discovery_saved_places
			(id, trip_id, kind, name, description, category, rating, price, image, address, degraded, created_at)
		VALUES
			(:id, :trip_id, :kind, :name, :description, :category, :rating, :price, :image, :address, :degraded, :created_at)
	`, item)
	if err != nil {
		return discovery.NormalizedItem{}, fmt.Errorf("append place: %w", err)
	}
	return item, nil
}

// --- ItineraryStore ---------------------------------------------------------

func (s *Store) ScheduleItem(ctx context.Context, tripID string, req itinerary.ScheduleRequest) error {
	if strings.TrimSpace(tripID) == "" {
		return fmt.Errorf("trip_id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO itinerary_entries
			(id, trip_id, item_name, item_type, date, time, notes, address, image, category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, uuid.NewString(), tripID, req.ItemName, string(req.ItemType), req.Date, req.Time,
		req.Notes, req.Address, req.Image, req.Category, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("schedule item: %w", err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, tripID string) ([]itinerary.Entry, error) {
	var entries []itinerary.Entry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, trip_id, item_name, item_type, date, time, notes, address, image, category, created_at
		FROM itinerary_entries
		WHERE trip_id = $1
		ORDER BY date, time
	`, tripID)
	if err != nil {
		return nil, fmt.Errorf("list itinerary entries: %w", err)
	}
	return entries, nil
}
