package discovery

import (
	"context"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/domain/itinerary"
)

// SuggestionRequest is the input to one generation call.
type SuggestionRequest struct {
	City         string
	Region       string
	Kind         domain.Kind
	ExcludeNames []string
	Limit        int
}

// SuggestionSource produces the ordered raw candidates for a session. It is
// called once per session start and never retried automatically.
type SuggestionSource interface {
	GenerateSuggestions(ctx context.Context, req SuggestionRequest) ([]domain.RawCandidate, error)
}

// SourceFunc adapts a function to the SuggestionSource interface.
type SourceFunc func(ctx context.Context, req SuggestionRequest) ([]domain.RawCandidate, error)

func (f SourceFunc) GenerateSuggestions(ctx context.Context, req SuggestionRequest) ([]domain.RawCandidate, error) {
	if f == nil {
		return nil, nil
	}
	return f(ctx, req)
}

// ValidationProvider enriches one candidate. Implementations must be safe for
// concurrent use and must return an error on timeout instead of blocking.
type ValidationProvider interface {
	ValidateCandidate(ctx context.Context, name, city string) (domain.Enrichment, error)
}

// ProviderFunc adapts a function to the ValidationProvider interface.
type ProviderFunc func(ctx context.Context, name, city string) (domain.Enrichment, error)

func (f ProviderFunc) ValidateCandidate(ctx context.Context, name, city string) (domain.Enrichment, error) {
	if f == nil {
		return domain.Enrichment{}, nil
	}
	return f(ctx, name, city)
}

// Repository is the save target. The duplicate check reads it fresh before
// every append.
type Repository interface {
	ListPlaceNames(ctx context.Context, tripID string, kind domain.Kind) ([]string, error)
	AppendPlace(ctx context.Context, item domain.NormalizedItem) (domain.NormalizedItem, error)
}

// ItineraryScheduler commits a confirmed item to the trip itinerary.
type ItineraryScheduler interface {
	ScheduleItem(ctx context.Context, tripID string, req itinerary.ScheduleRequest) error
}
