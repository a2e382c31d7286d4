// Package app wires storage, the domain services and the background tasks
// into one runnable engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/orderflow-mcp/internal/cart"
	"github.com/dshills/orderflow-mcp/internal/config"
	"github.com/dshills/orderflow-mcp/internal/courier"
	"github.com/dshills/orderflow-mcp/internal/eta"
	"github.com/dshills/orderflow-mcp/internal/logging"
	"github.com/dshills/orderflow-mcp/internal/mcp"
	"github.com/dshills/orderflow-mcp/internal/metrics"
	"github.com/dshills/orderflow-mcp/internal/notify"
	"github.com/dshills/orderflow-mcp/internal/order"
	"github.com/dshills/orderflow-mcp/internal/payment"
	"github.com/dshills/orderflow-mcp/internal/stock"
	"github.com/dshills/orderflow-mcp/internal/storage"
)

// App is a fully wired engine
type App struct {
	Config        *config.Config
	Store         *storage.SQLStorage
	Metrics       *metrics.Metrics
	Notifications *notify.Pipeline
	Estimator     *eta.Estimator
	Ledger        *stock.Ledger

	Carts    *cart.Service
	Orders   *order.Service
	Couriers *courier.Engine
	Sweeper  *courier.Sweeper
	Payments *payment.Service
	MCP      *mcp.Server

	logger *slog.Logger
}

// New opens the database, applies migrations and builds every service.
// Close releases what New acquired.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialect, err := storage.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, dialect, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &App{Config: cfg, Store: store, Metrics: metrics.New(), logger: logger}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	logger.Info("engine initialized",
		"driver", string(dialect),
		"notification_queue", a.Notifications.QueueKind,
		"notification_sink", a.Notifications.SinkKind)
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	pipeline, err := notify.NewFromConfig(ctx, notify.Config{
		RedisURL:     cfg.Notifications.RedisURL,
		RedisKey:     cfg.Notifications.RedisKey,
		KafkaBrokers: cfg.Notifications.KafkaBrokers,
		KafkaTopic:   cfg.Notifications.KafkaTopic,
		PollInterval: cfg.Notifications.PollInterval,
		BatchSize:    cfg.Notifications.BatchSize,
		Retry: notify.RetryConfig{
			MaxRetries: cfg.Notifications.MaxRetries,
			BaseDelay:  notify.DefaultRetryConfig().BaseDelay,
			MaxDelay:   notify.DefaultRetryConfig().MaxDelay,
			Multiplier: notify.DefaultRetryConfig().Multiplier,
		},
	}, logging.Component(a.logger, "notify"), a.Metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize notifications: %w", err)
	}
	a.Notifications = pipeline

	a.Estimator, err = eta.New(eta.Config{
		BaseTimeMinutes:     cfg.ETA.BaseTimeMinutes,
		NoCourierMultiplier: cfg.ETA.NoCourierMultiplier,
		SampleLimit:         cfg.ETA.SampleLimit,
		CacheSize:           cfg.ETA.CacheSize,
	}, a.Metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize estimator: %w", err)
	}
	a.Ledger = stock.NewLedger(a.Metrics)

	scheduler := pipeline.Scheduler
	a.Carts = cart.NewService(a.Store, a.Ledger, a.Estimator, logging.Component(a.logger, "cart"))
	a.Orders = order.NewService(a.Store, a.Ledger, a.Estimator, scheduler, logging.Component(a.logger, "order"), a.Metrics)
	a.Orders.SetReviewDelay(cfg.Notifications.ReviewDelay)
	a.Couriers = courier.NewEngine(a.Store, a.Orders, scheduler, logging.Component(a.logger, "courier"), a.Metrics)
	a.Sweeper = courier.NewSweeper(a.Couriers, cfg.Sweep.Interval, logging.Component(a.logger, "sweeper"))
	a.Payments = payment.NewService(a.Store, a.Orders, scheduler, logging.Component(a.logger, "payment"))

	a.MCP, err = mcp.NewServer(mcp.Services{
		Store:     a.Store,
		Carts:     a.Carts,
		Orders:    a.Orders,
		Couriers:  a.Couriers,
		Sweeper:   a.Sweeper,
		Payments:  a.Payments,
		Estimator: a.Estimator,
	}, logging.Component(a.logger, "mcp"))
	if err != nil {
		return err
	}
	return nil
}

// Run serves MCP on stdio alongside the background tasks. It returns when ctx
// is cancelled, the MCP client disconnects or a task fails.
func (a *App) Run(ctx context.Context) error {
	return a.run(ctx, true)
}

// RunWorkers runs only the background tasks: sweeper, notification
// dispatcher and metrics endpoint
func (a *App) RunWorkers(ctx context.Context) error {
	return a.run(ctx, false)
}

func (a *App) run(ctx context.Context, serveMCP bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if a.Config.Sweep.Enabled {
		g.Go(func() error {
			return a.Sweeper.Run(gctx)
		})
	}

	g.Go(func() error {
		return a.Notifications.Dispatcher.Run(gctx)
	})

	if addr := a.Config.Metrics.Addr; addr != "" {
		g.Go(func() error {
			a.logger.Info("metrics listening", "addr", addr)
			if err := a.Metrics.Serve(gctx, addr, a.Store.Ping); err != nil {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	if serveMCP {
		g.Go(func() error {
			// The client going away ends the process
			defer cancel()
			return a.MCP.Serve(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the notification pipeline and the database
func (a *App) Close() error {
	var errs []error
	if a.Notifications != nil {
		if err := a.Notifications.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close notifications: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
