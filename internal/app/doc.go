// Package app composes the discovery engine with its stores and adapters.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── discovery/      # Kinds, item statuses, candidates, saved places
//	│   └── itinerary/      # Schedule requests, bounds and entries
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # PlaceStore, ItineraryStore, EnrichmentCache
//	│   ├── memory/         # In-memory implementation for tests and local runs
//	│   ├── postgres/       # PostgreSQL implementation (sqlx)
//	│   └── rediscache/     # Redis enrichment cache
//	├── services/discovery/ # Sessions, queue, prefetcher, router, negotiator
//	│   └── providers/      # HTTP suggestion and place-validation adapters
//	├── httpapi/            # REST and websocket handlers
//	├── runtime/            # Process wiring from configuration
//	├── system/             # Service lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # What Belongs Here
//
//	┌─────────────────────────────────────────────────────────────────────┐
//	│                      internal/app/ (Composition)                     │
//	├─────────────────────────────────────────────────────────────────────┤
//	│ ✓ Application struct and wiring                                      │
//	│ ✓ Domain models (pure data, no business logic)                       │
//	│ ✓ Storage interfaces (repository pattern)                            │
//	│ ✓ HTTP handlers (request/response handling)                          │
//	│ ✗ Queue and session rules (belong in services/discovery)             │
//	│ ✗ Wire formats of external providers (belong in providers/)          │
//	└─────────────────────────────────────────────────────────────────────┘
//
// # Dependency Direction
//
//	cmd/discoveryd/
//	      │
//	      ▼
//	internal/app/runtime (configuration, connections)
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► services/discovery ──► domain/, storage interfaces
//	      ├──► storage/{memory,postgres,rediscache}
//	      └──► httpapi ──► internal/middleware, internal/errors
//
// Stores left nil in Stores default to the in-memory implementation, so an
// Application can run without any external infrastructure.
package app
