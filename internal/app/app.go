// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fiscalops/docharvest/internal/artifacts"
	"github.com/fiscalops/docharvest/internal/certclient"
	"github.com/fiscalops/docharvest/internal/certgate"
	"github.com/fiscalops/docharvest/internal/clock/system"
	"github.com/fiscalops/docharvest/internal/config"
	"github.com/fiscalops/docharvest/internal/harvest"
	ledgerpg "github.com/fiscalops/docharvest/internal/ledger/postgres"
	"github.com/fiscalops/docharvest/internal/logging"
	"github.com/fiscalops/docharvest/internal/metrics"
	"github.com/fiscalops/docharvest/internal/pipeline"
	"github.com/fiscalops/docharvest/internal/registry"
	"github.com/fiscalops/docharvest/internal/session"
)

// App holds the shared, long-lived services. It is initialized once at
// startup and passed to the commands that need it. Initialization fails
// fast: a missing database or an unreachable certificate provider stops the
// process before any work is attempted.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	ledger   *ledgerpg.Store
	registry *registry.Postgres
	certs    *certclient.Client
	gate     *certgate.Gate
	layout   artifacts.Layout
	session  *session.Session
	pipeline *pipeline.Pipeline
	clock    *system.Clock
}

// New builds the full service graph from configuration.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()
	logger.Info("Initializing application services")

	if err := ledgerpg.Migrate(ctx, cfg.DB.DSN); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	store, err := ledgerpg.NewStore(ctx, ledgerpg.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: cfg.ConnLifetime(),
	})
	if err != nil {
		return nil, fmt.Errorf("connect ledger store: %w", err)
	}

	companies, err := registry.New(ctx, registry.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MaxConnLifetime: cfg.ConnLifetime(),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("connect company registry: %w", err)
	}

	certs, err := certclient.New(certclient.Config{
		BaseURL: cfg.Certificates.BaseURL,
		Timeout: cfg.CertificateTimeout(),
	}, logger)
	if err != nil {
		store.Close()
		companies.Close()
		return nil, fmt.Errorf("build certificate client: %w", err)
	}
	if err := certs.CheckHealth(ctx); err != nil {
		store.Close()
		companies.Close()
		return nil, fmt.Errorf("certificate provider unreachable: %w", err)
	}

	layout, err := artifacts.New(cfg.Storage.Root)
	if err != nil {
		store.Close()
		companies.Close()
		return nil, fmt.Errorf("prepare storage root: %w", err)
	}

	gate := certgate.New(certs, logger, certgate.WithLease(store))
	sess := session.New(cfg.SessionConfig(), layout, logger)
	pipe := pipeline.New(store, companies, gate, sess, logger)

	logger.Info("Application services initialized")
	return &App{
		cfg:      cfg,
		logger:   logger,
		ledger:   store,
		registry: companies,
		certs:    certs,
		gate:     gate,
		layout:   layout,
		session:  sess,
		pipeline: pipe,
		clock:    system.New(),
	}, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Ledger returns the persistent request ledger.
func (a *App) Ledger() harvest.Ledger { return a.ledger }

// Registry returns the read-only company registry.
func (a *App) Registry() harvest.CompanyRegistry { return a.registry }

// Certificates returns the certificate provider client.
func (a *App) Certificates() *certclient.Client { return a.certs }

// Gate returns the shared identity gate.
func (a *App) Gate() *certgate.Gate { return a.gate }

// Layout returns the artifact directory layout.
func (a *App) Layout() artifacts.Layout { return a.layout }

// Pipeline returns the retrieval pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Clock returns the system clock.
func (a *App) Clock() harvest.Clock { return a.clock }

// Readiness probes the downstream dependencies the service cannot work
// without. Used by the status API.
func (a *App) Readiness(ctx context.Context) error {
	if _, err := a.ledger.ListQueuedNotDownloaded(ctx); err != nil {
		return fmt.Errorf("ledger store: %w", err)
	}
	if err := a.certs.CheckHealth(ctx); err != nil {
		return fmt.Errorf("certificate provider: %w", err)
	}
	return nil
}

// Close gracefully shuts down all services in the container.
func (a *App) Close() {
	a.logger.Info("Shutting down application services")
	a.session.Close()
	a.ledger.Close()
	a.registry.Close()
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
}
