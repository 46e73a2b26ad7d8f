package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/lib/pq"

	app "github.com/roamly/discovery/internal/app"
	"github.com/roamly/discovery/internal/app/httpapi"
	"github.com/roamly/discovery/internal/app/services/discovery"
	"github.com/roamly/discovery/internal/app/services/discovery/providers"
	"github.com/roamly/discovery/internal/app/storage/postgres"
	"github.com/roamly/discovery/internal/app/storage/rediscache"
	"github.com/roamly/discovery/internal/config"
	"github.com/roamly/discovery/internal/platform/migrations"
	"github.com/roamly/discovery/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
}

// NewApplication constructs a new application instance from the process
// configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(cfg, logger.New(cfg.Logging))
}

// New wires an application from an explicit configuration.
func New(cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("discoveryd")
	}

	adapters, err := buildAdapters(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure adapters: %w", err)
	}

	stores, closers, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	application, err := app.New(stores, adapters, app.Options{
		Discovery: discovery.Options{
			Window:            cfg.Discovery.PrefetchWindow,
			SuggestionLimit:   cfg.Discovery.SuggestionLimit,
			SessionTTL:        cfg.Discovery.SessionTTL,
			SweepInterval:     cfg.Discovery.SweepInterval,
			ValidationTimeout: cfg.Places.Timeout,
		},
		CacheTTL: cfg.Redis.TTL,
	}, log)
	if err != nil {
		closeAll(closers, log)
		return nil, err
	}

	handler := httpapi.NewHandler(application, httpapi.Options{
		JWTSecret:      cfg.Auth.JWTSecret,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log.Named("httpapi"))

	return &Application{
		cfg: cfg,
		log: log,
		app: application,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *Application) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts services and the HTTP server, and blocks until the context is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server and then every service.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func buildAdapters(cfg *config.Config, log *logger.Logger) (app.Adapters, error) {
	source, err := providers.NewHTTPSuggestionSource(nil, cfg.Suggestions.URL, cfg.Suggestions.APIKey,
		cfg.Suggestions.ResultPath, cfg.Suggestions.Timeout, log.Named("discovery-suggestions"))
	if err != nil {
		return app.Adapters{}, err
	}

	places, err := providers.NewHTTPValidationProvider(&http.Client{Timeout: cfg.Places.Timeout}, providers.PlacesOptions{
		Endpoint: cfg.Places.URL,
		APIKey:   cfg.Places.APIKey,
		Timeout:  cfg.Places.Timeout,
		RPS:      cfg.Places.RPS,
		Burst:    cfg.Places.Burst,
	}, log.Named("discovery-places"))
	if err != nil {
		return app.Adapters{}, err
	}

	return app.Adapters{Source: source, Provider: places}, nil
}

// buildStores returns postgres-backed stores when a DSN is configured and the
// in-memory defaults otherwise.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, []*resource, error) {
	var (
		stores  app.Stores
		closers []*resource
	)

	if cfg.Database.Enabled() {
		db, err := openDatabase(cfg.Database)
		if err != nil {
			return app.Stores{}, nil, err
		}
		if cfg.Database.Migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := migrations.Apply(ctx, db)
			cancel()
			if err != nil {
				db.Close()
				return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		store := postgres.New(db)
		stores.Places = store
		stores.Itinerary = store
		closers = append(closers, &resource{name: "postgres", ping: db.PingContext, close: db.Close})
	} else {
		log.Warn("no database configured; saved places and itinerary live in memory")
	}

	if cfg.Redis.Enabled() {
		cache := rediscache.New(rediscache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		stores.Cache = cache
		closers = append(closers, &resource{name: "redis", ping: cache.Ping, close: cache.Close})
	}

	for _, c := range closers {
		stores.Resources = append(stores.Resources, c)
	}
	return stores, closers, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// resource adapts a backing connection to the service lifecycle so it is
// checked on start and released on stop.
type resource struct {
	name  string
	ping  func(context.Context) error
	close func() error
}

func (r *resource) Name() string { return r.name }

func (r *resource) Start(ctx context.Context) error {
	if r.ping == nil {
		return nil
	}
	if err := r.ping(ctx); err != nil {
		return fmt.Errorf("%s unreachable: %w", r.name, err)
	}
	return nil
}

func (r *resource) Stop(context.Context) error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

func closeAll(resources []*resource, log *logger.Logger) {
	for _, r := range resources {
		if err := r.Stop(context.Background()); err != nil {
			log.WithError(err).WithField("resource", r.name).Warn("error closing resource")
		}
	}
}
