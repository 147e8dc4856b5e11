/*
Package app wires the ledger engine from a Config.

PURPOSE:
  cmd/server and cmd/ledgerctl need the same object graph: a store, the
  FX cache, the fee resolver, metrics, the refund service and the
  contribution recorder. New builds it once; Close releases what it opened.

WIRING:
  store      sqlite (DB_PATH) or postgres (POSTGRES_DSN, migrated on open)
  fx         Cache(Static(ReferenceRates), FX_CACHE_TTL)
  events     NATS when NATS_URL is set, Nop otherwise
  payments   Registry with Manual as fallback

SEE ALSO:
  - config/config.go: keys
  - cmd/server/main.go: HTTP server
  - cmd/ledgerctl: operator CLI
*/
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/ledger-engine/config"
	"github.com/warp/ledger-engine/contribution"
	"github.com/warp/ledger-engine/events"
	"github.com/warp/ledger-engine/fees"
	"github.com/warp/ledger-engine/fx"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/metrics"
	"github.com/warp/ledger-engine/payments"
	"github.com/warp/ledger-engine/refund"
	"github.com/warp/ledger-engine/store/postgres"
	"github.com/warp/ledger-engine/store/sqlite"
)

// Store is what every backend provides.
type Store interface {
	ledger.TxStore
	fees.DirectoryStore
}

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     Store
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Publisher events.Publisher
	Providers *payments.Registry
	Resolver  *fees.Resolver
	Refunds   *refund.Service
	Recorder  *contribution.Recorder

	closers []func()
}

// New opens the store and builds the services on top of it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	st, err := a.openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize %s store: %w", cfg.DBDriver, err)
	}
	a.Store = st

	a.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL, "ledger-engine", logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, nc.Close)
		a.Publisher = nc
	}

	a.Registry = prometheus.NewRegistry()
	a.Metrics = metrics.New(a.Registry)
	a.Providers = payments.NewRegistry(payments.Manual{})
	a.Resolver = fees.NewResolver(st, cfg.FeeDefaults(), logger)

	tracker := refund.NewTracker(logger, a.Metrics)
	cascade := refund.NewCascade(tracker, refund.LogReporter{Logger: logger, Metrics: a.Metrics}, a.Metrics, logger)
	a.Refunds = refund.NewService(refund.ServiceConfig{
		Store:     st,
		Cascade:   cascade,
		Providers: a.Providers,
		Methods:   st,
		Publisher: a.Publisher,
		Metrics:   a.Metrics,
		Logger:    logger,
	})
	a.Recorder = contribution.NewRecorder(contribution.Config{
		Store:                st,
		Directory:            st,
		Resolver:             a.Resolver,
		FX:                   fx.NewCache(fx.NewStatic(fx.ReferenceRates()), cfg.FXCacheTTL),
		Tracker:              tracker,
		PlatformCollectiveID: cfg.PlatformCollectiveID,
		Publisher:            a.Publisher,
		Metrics:              a.Metrics,
		Logger:               logger,
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	switch a.Config.DBDriver {
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, a.Config.PostgresDSN, a.Logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		return pg, nil
	default:
		lite, err := sqlite.New(a.Config.DBPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := lite.Close(); err != nil {
				a.Logger.Warn("failed to close sqlite store", "error", err)
			}
		})
		return lite, nil
	}
}

// Close releases connections in reverse opening order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
