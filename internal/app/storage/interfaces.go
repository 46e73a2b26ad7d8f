package storage

import (
	"context"
	"time"

	"github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/domain/itinerary"
)

// PlaceStore is the destination repository saved discovery items are appended to.
// From the discovery engine's perspective it is append-only.
type PlaceStore interface {
	ListPlaceNames(ctx context.Context, tripID string, kind discovery.Kind) ([]string, error)
	ListPlaces(ctx context.Context, tripID string, kind discovery.Kind) ([]discovery.NormalizedItem, error)
	AppendPlace(ctx context.Context, item discovery.NormalizedItem) (discovery.NormalizedItem, error)
}

// ItineraryStore accepts scheduled items for a trip.
type ItineraryStore interface {
	ScheduleItem(ctx context.Context, tripID string, req itinerary.ScheduleRequest) error
	ListEntries(ctx context.Context, tripID string) ([]itinerary.Entry, error)
}

// EnrichmentCache stores validated enrichment bundles across sessions.
type EnrichmentCache interface {
	GetEnrichment(ctx context.Context, key string) (discovery.Enrichment, bool, error)
	PutEnrichment(ctx context.Context, key string, enr discovery.Enrichment, ttl time.Duration) error
}
