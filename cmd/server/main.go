package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/parking-reservation/internal/app"
	"github.com/iliyamo/parking-reservation/internal/cache"
	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/handler"
	"github.com/iliyamo/parking-reservation/internal/jobs"
	"github.com/iliyamo/parking-reservation/internal/logger"
	"github.com/iliyamo/parking-reservation/internal/metrics"
	"github.com/iliyamo/parking-reservation/internal/queue"
	"github.com/iliyamo/parking-reservation/internal/repository"
	"github.com/iliyamo/parking-reservation/internal/router"
	"github.com/iliyamo/parking-reservation/internal/scheduler"
	"github.com/iliyamo/parking-reservation/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "parking-api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = app.NewLogger(cfg.App, "parking-api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "server stopped with error", err)
		stop()
		os.Exit(1)
	}
	logg.Info(context.Background(), "server stopped")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	store, err := app.OpenStore(ctx, cfg.DB, cfg.DB.AutoMigrate, logg)
	if err != nil {
		return err
	}
	closers := []func() error{store.DB().Close}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		logg.Warn(logg.WithField(ctx, "addr", cfg.Redis.Addr), "redis unreachable; cache, rate limiting and scheduler lock disabled")
	} else {
		closers = append(closers, rdb.Close)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := service.NewAllocationService(service.AllocationParams{
		Store:    store,
		Cache:    cache.New(cfg.Cache, rdb, logg),
		Logger:   logg,
		Metrics:  metrics.NewAllocationMetrics(reg),
		Retry:    cfg.Engine,
		LotsTTL:  cfg.Cache.LotsTTL,
		SpotsTTL: cfg.Cache.SpotsTTL,
	})
	if err != nil {
		return err
	}

	users := repository.NewUserRepo(store.DB(), store.Dialect())
	if cfg.Admin.Email != "" && cfg.Admin.Password != "" {
		created, err := users.EnsureAdmin(ctx, repository.NewUser{
			Email: cfg.Admin.Email, Name: cfg.Admin.Name, Password: cfg.Admin.Password,
		}, cfg.JWT.BcryptCost)
		if err != nil {
			return err
		}
		if created {
			logg.Info(logg.WithField(ctx, "email", cfg.Admin.Email), "admin account seeded")
		}
	}

	var dispatcher jobs.Dispatcher
	if cfg.Jobs.Transport == "amqp" {
		pub := queue.NewPublisher(cfg.AMQP, logg)
		closers = append(closers, pub.Close)
		dispatcher = pub
	}
	runner, artifacts, err := app.NewRunner(cfg, store, logg, app.RunnerParams{Dispatcher: dispatcher, Registerer: reg})
	if err != nil {
		return err
	}

	var ticker handler.Ticker
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		lock, err := schedulerLock(cfg.Scheduler, rdb)
		if err != nil {
			return err
		}
		sched, err = scheduler.New(scheduler.Params{
			Logger:    logg,
			Submitter: runner,
			Admins:    users,
			Lock:      lock,
			Metrics:   metrics.NewSchedulerMetrics(reg),
			Interval:  cfg.Scheduler.Interval,
		})
		if err != nil {
			return err
		}
		ticker = sched
	}

	deps := router.Deps{
		Logger:       logg,
		JWTSecret:    cfg.JWT.Secret,
		RateLimit:    cfg.RateLimit,
		Gatherer:     reg,
		DB:           store.DB(),
		Auth:         handler.NewAuthHandler(users, cfg.JWT),
		Lots:         handler.NewLotHandler(svc),
		Reservations: handler.NewReservationHandler(svc),
		Jobs:         handler.NewJobHandler(runner, artifacts),
		Admin:        handler.NewAdminHandler(svc, runner, users, ticker),
	}
	if rdb != nil {
		deps.RateLimiter = rdb
	}
	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router.New(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if runner.Local() {
		runner.Start(gctx)
	} else {
		consumer := queue.NewConsumer(cfg.AMQP, cfg.Jobs.Workers, runner.Execute, logg)
		g.Go(func() error { return ignoreCanceled(consumer.Run(gctx)) })
	}
	if sched != nil {
		g.Go(func() error { return ignoreCanceled(sched.Run(gctx)) })
	}
	g.Go(func() error {
		logg.Info(logg.WithFields(ctx, map[string]any{"addr": srv.Addr, "env": cfg.App.Env}), "starting api server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	runner.Wait()
	return err
}

func schedulerLock(cfg config.SchedulerConfig, rdb *redis.Client) (scheduler.Lock, error) {
	if rdb == nil {
		return scheduler.NopLock{}, nil
	}
	return scheduler.NewRedisLock(rdb, cfg.LockKey, cfg.LockTTL)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
