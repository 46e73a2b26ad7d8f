package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/domain/itinerary"
	"github.com/roamly/discovery/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	places      map[string][]discovery.NormalizedItem // trip -> places in append order
	entries     map[string][]itinerary.Entry          // trip -> itinerary entries
	enrichments map[string]cachedEnrichment
	now         func() time.Time
}

type cachedEnrichment struct {
	value     discovery.Enrichment
	expiresAt time.Time
}

var _ storage.PlaceStore = (*Store)(nil)
var _ storage.ItineraryStore = (*Store)(nil)
var _ storage.EnrichmentCache = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:      1,
		places:      make(map[string][]discovery.NormalizedItem),
		entries:     make(map[string][]itinerary.Entry),
		enrichments: make(map[string]cachedEnrichment),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// PlaceStore implementation ---------------------------------------------------

func (s *Store) ListPlaceNames(_ context.Context, tripID string, kind discovery.Kind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for _, p := range s.places[tripID] {
		if p.Kind == kind {
			names = append(names, p.Name)
		}
	}
	return names, nil
}

func (s *Store) ListPlaces(_ context.Context, tripID string, kind discovery.Kind) ([]discovery.NormalizedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []discovery.NormalizedItem
	for _, p := range s.places[tripID] {
		if kind == "" || p.Kind == kind {
			out = append(out, clonePlace(p))
		}
	}
	return out, nil
}

func (s *Store) AppendPlace(_ context.Context, item discovery.NormalizedItem) (discovery.NormalizedItem, error) {
	if strings.TrimSpace(item.TripID) == "" {
		return discovery.NormalizedItem{}, fmt.Errorf("trip_id is required")
	}
	if strings.TrimSpace(item.Name) == "" {
		return discovery.NormalizedItem{}, fmt.Errorf("name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = s.nextIDLocked()
	}
	item.CreatedAt = s.now()
	s.places[item.TripID] = append(s.places[item.TripID], clonePlace(item))
	return clonePlace(item), nil
}

// ItineraryStore implementation ----------------------------------------------

func (s *Store) ScheduleItem(_ context.Context, tripID string, req itinerary.ScheduleRequest) error {
	if strings.TrimSpace(tripID) == "" {
		return fmt.Errorf("trip_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[tripID] = append(s.entries[tripID], itinerary.Entry{
		ID:        s.nextIDLocked(),
		TripID:    tripID,
		ItemName:  req.ItemName,
		ItemType:  req.ItemType,
		Date:      req.Date,
		Time:      req.Time,
		Notes:     cloneString(req.Notes),
		Address:   cloneString(req.Address),
		Image:     cloneString(req.Image),
		Category:  cloneString(req.Category),
		CreatedAt: s.now(),
	})
	return nil
}

func (s *Store) ListEntries(_ context.Context, tripID string) ([]itinerary.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]itinerary.Entry, len(s.entries[tripID]))
	copy(out, s.entries[tripID])
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

// EnrichmentCache implementation ---------------------------------------------

func (s *Store) GetEnrichment(_ context.Context, key string) (discovery.Enrichment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cached, ok := s.enrichments[key]
	if !ok {
		return discovery.Enrichment{}, false, nil
	}
	if !cached.expiresAt.IsZero() && s.now().After(cached.expiresAt) {
		return discovery.Enrichment{}, false, nil
	}
	return cached.value.Clone(), true, nil
}

func (s *Store) PutEnrichment(_ context.Context, key string, enr discovery.Enrichment, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := cachedEnrichment{value: enr.Clone()}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.enrichments[key] = entry
	return nil
}

func clonePlace(p discovery.NormalizedItem) discovery.NormalizedItem {
	out := p
	if p.Rating != nil {
		v := *p.Rating
		out.Rating = &v
	}
	if p.Price != nil {
		v := *p.Price
		out.Price = &v
	}
	return out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
