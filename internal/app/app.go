// Package app wires the booking engine from configuration. Both binaries
// build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"wasch-booking-backend/config"
	"wasch-booking-backend/internal/accounts"
	"wasch-booking-backend/internal/api"
	"wasch-booking-backend/internal/appointment"
	"wasch-booking-backend/internal/calendar"
	"wasch-booking-backend/internal/db"
	"wasch-booking-backend/internal/eligibility"
	"wasch-booking-backend/internal/metrics"
	"wasch-booking-backend/internal/notification"
	"wasch-booking-backend/internal/params"
	"wasch-booking-backend/internal/payment"
	"wasch-booking-backend/internal/queue"
	"wasch-booking-backend/internal/refund"
	"wasch-booking-backend/internal/store"
	"wasch-booking-backend/pkg/logging"
)

// App holds the wired services.
type App struct {
	Config       *config.Config
	Log          *logging.Logger
	Store        store.Store
	Calendar     *calendar.Calendar
	Params       *params.Params
	Accounts     *accounts.Service
	Specials     *accounts.Specials
	Evaluator    *eligibility.Evaluator
	Bonus        *payment.BonusMethod
	Payments     *payment.Orchestrator
	Appointments *appointment.Service
	Sweeper      *refund.Sweeper
	Metrics      *metrics.Metrics
	Registry     *prometheus.Registry
	Webpush      *webpush.Options
	// Workers is nil when push is not configured.
	Workers *notification.WorkerPool

	closers []func() error
}

// New opens the database, creates the special users and machines, and
// connects the optional Redis lock, RabbitMQ publisher and push workers.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	a := &App{Config: cfg, Log: logger}

	loc, err := time.LoadLocation(cfg.Booking.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid booking timezone %q: %w", cfg.Booking.Timezone, err)
	}
	if a.Calendar, err = calendar.New(cfg.Booking.SlotsPerDay, loc); err != nil {
		return nil, err
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	a.Store = store.NewGormStore(gormDB)

	a.Accounts = accounts.NewService(a.Store, logger)
	if a.Specials, err = a.Accounts.Setup(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to set up accounts: %w", err)
	}

	a.Params = params.New(a.Store)
	a.Evaluator = eligibility.New(a.Store, a.Params, a.Calendar)
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	a.Bonus = payment.NewBonusMethod(a.Store, a.Specials)
	if err := a.Bonus.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to set up bonus accounts: %w", err)
	}
	registry := payment.NewRegistry(payment.EmptyMethod{}, payment.InfiniteMethod{}, a.Bonus)
	a.Payments = payment.NewOrchestrator(a.Store, registry, a.Params, logger, a.Metrics)

	publisher, err := a.publisher()
	if err != nil {
		a.Close()
		return nil, err
	}
	locker, err := a.locker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var notifier notification.Notifier = notification.NopNotifier{}
	if cfg.Push.Enabled() {
		a.Webpush = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		a.Workers = notification.NewWorkerPool(cfg.WorkerPool.Size, a.Store, a.Webpush, logger)
		notifier = a.Workers
	} else {
		logger.Warn("VAPID keys are not configured, push notifications are disabled")
	}

	a.Appointments = appointment.NewService(appointment.Deps{
		Store:     a.Store,
		Evaluator: a.Evaluator,
		Payments:  a.Payments,
		Params:    a.Params,
		Specials:  a.Specials,
		Publisher: publisher,
		Metrics:   a.Metrics,
		Logger:    logger,
	})
	a.Sweeper = refund.NewSweeper(refund.Deps{
		Store:      a.Store,
		Payments:   a.Payments,
		Params:     a.Params,
		References: a.Appointments,
		Locker:     locker,
		Notifier:   notifier,
		Publisher:  publisher,
		Metrics:    a.Metrics,
		Logger:     logger,
	})
	return a, nil
}

func (a *App) publisher() (queue.Publisher, error) {
	if a.Config.Queue.URL == "" {
		return queue.NopPublisher{}, nil
	}
	p, err := queue.NewAMQPPublisher(a.Config.Queue.URL, a.Config.Queue.Queue, a.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	a.closers = append(a.closers, p.Close)
	a.Log.Info("publishing appointment events", "queue", a.Config.Queue.Queue)
	return p, nil
}

func (a *App) locker(ctx context.Context) (refund.Locker, error) {
	if a.Config.Redis.Addr == "" {
		return refund.NopLocker{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.Config.Redis.Addr, err)
	}
	a.closers = append(a.closers, client.Close)
	return refund.NewRedisLocker(client, "", a.Config.Sweep.LockTTL), nil
}

// Router builds the HTTP router with the configured middleware.
func (a *App) Router() http.Handler {
	return api.NewRouter(a.Handler(), api.RouterConfig{
		RateLimitPerSec: a.Config.Server.RateLimitPerSec,
		RateLimitBurst:  a.Config.Server.RateLimitBurst,
		CacheTTL:        time.Duration(a.Config.Server.CacheTTLSeconds) * time.Second,
		Gatherer:        a.Registry,
	})
}

// Handler builds the HTTP handler set.
func (a *App) Handler() *api.Handler {
	return api.NewHandler(api.Deps{
		Store:        a.Store,
		Appointments: a.Appointments,
		Evaluator:    a.Evaluator,
		Accounts:     a.Accounts,
		Params:       a.Params,
		Bonus:        a.Bonus,
		Sweeper:      a.Sweeper,
		Webpush:      a.Webpush,
		Logger:       a.Log,
	})
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
