package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roamly/discovery/internal/app/services/discovery"
	"github.com/roamly/discovery/internal/app/services/discovery/providers"
	"github.com/roamly/discovery/internal/app/storage"
	"github.com/roamly/discovery/internal/app/storage/memory"
	"github.com/roamly/discovery/internal/app/system"
	"github.com/roamly/discovery/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Places    storage.PlaceStore
	Itinerary storage.ItineraryStore
	// Cache is optional; when set, successful validations are reused.
	Cache storage.EnrichmentCache
	// Resources own the connections behind the stores. They start before
	// and stop after the services that use them.
	Resources []system.Service
}

// Adapters are the external collaborators of the discovery engine.
type Adapters struct {
	Source   discovery.SuggestionSource
	Provider discovery.ValidationProvider
}

// Options tunes the application.
type Options struct {
	Discovery discovery.Options
	CacheTTL  time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Discovery *discovery.Service
	Places    storage.PlaceStore
	Itinerary storage.ItineraryStore
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, adapters Adapters, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if adapters.Source == nil {
		return nil, errors.New("suggestion source is required")
	}
	if adapters.Provider == nil {
		return nil, errors.New("validation provider is required")
	}

	mem := memory.New()
	if stores.Places == nil {
		stores.Places = mem
	}
	if stores.Itinerary == nil {
		stores.Itinerary = mem
	}

	provider := adapters.Provider
	if stores.Cache != nil {
		provider = providers.NewCachedValidator(provider, stores.Cache, opts.CacheTTL, log.Named("discovery-enrichment-cache"))
	}

	svc := discovery.New(adapters.Source, provider, stores.Places, stores.Itinerary, opts.Discovery, log.Named("discovery"))

	manager := system.NewManager()
	for _, res := range stores.Resources {
		if err := manager.Register(res); err != nil {
			return nil, fmt.Errorf("register resource: %w", err)
		}
	}
	if err := manager.Register(svc); err != nil {
		return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
	}

	return &Application{
		manager:   manager,
		log:       log,
		Discovery: svc,
		Places:    stores.Places,
		Itinerary: stores.Itinerary,
	}, nil
}

// Services lists the lifecycle-managed services in start order.
func (a *Application) Services() []string {
	services := a.manager.Services()
	names := make([]string, 0, len(services))
	for _, svc := range services {
		names = append(names, svc.Name())
	}
	return names
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
