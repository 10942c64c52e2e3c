package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/paincake00/dispatchcore/internal/bus"
	"github.com/paincake00/dispatchcore/internal/config"
	delivery "github.com/paincake00/dispatchcore/internal/delivery/http"
	"github.com/paincake00/dispatchcore/internal/infrastructure/memory"
	"github.com/paincake00/dispatchcore/internal/infrastructure/messaging"
	"github.com/paincake00/dispatchcore/internal/infrastructure/postgres"
	"github.com/paincake00/dispatchcore/internal/infrastructure/redis"
	"github.com/paincake00/dispatchcore/internal/logger"
	"github.com/paincake00/dispatchcore/internal/metrics"
	"github.com/paincake00/dispatchcore/internal/usecase"
	"github.com/paincake00/dispatchcore/internal/worker"
	"golang.org/x/sync/errgroup"
)

// storage репозитории, выбранные по конфигурации.
type storage struct {
	alarms      usecase.AlarmRepository
	assignments usecase.AssignmentRepository
	attempts    usecase.VerificationRepository
	db          delivery.Pinger
}

func main() {
	// Загружаем .env (опционально)
	envErr := godotenv.Load()

	// 1. Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug("no .env file loaded, relying on environment variables")
	}

	if err := run(cfg, log); err != nil {
		log.Error("service stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("server exiting")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	mem := memory.New()

	// 2. Хранилище: PostgreSQL или память процесса
	store := storage{alarms: mem, assignments: mem, attempts: mem, db: mem}
	if cfg.UseMemoryStorage() {
		log.Warn("DATABASE_URL is empty, using in-memory storage")
	} else {
		pgRepo, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pgRepo.Close()

		if err := pgRepo.Migrate(ctx); err != nil {
			return err
		}
		store = storage{alarms: pgRepo, assignments: pgRepo, attempts: pgRepo, db: pgRepo}
	}

	// 3. Шина событий и дополнительные каналы доставки
	hub := bus.NewHub(cfg.BusBufferSize, cfg.ToastLimit, m, log)
	defer hub.Close()

	publishers := bus.Fanout{hub}

	var (
		board      usecase.BoardCache
		patrols    usecase.PatrolStore = mem
		redisPing  delivery.Pinger
		redisRepo  *redis.RedisRepo
		natsRelay  *messaging.Relay
		background []func(context.Context) error
	)

	if cfg.RedisAddr != "" {
		r, err := redis.New(cfg.RedisAddr, cfg.BoardCacheTTL)
		if err != nil {
			return err
		}
		defer r.Close()
		redisRepo = r
		board, patrols, redisPing = r, r, r

		webhooks := redis.NewWebhookPublisher(r, cfg.WebhookBufferSize, m, log)
		publishers = append(publishers, webhooks)
		background = append(background, func(ctx context.Context) error {
			webhooks.Run(ctx)
			return nil
		})
	} else {
		log.Warn("REDIS_ADDR is empty, board cache and webhooks disabled")
	}

	if cfg.NATSURL != "" {
		relay, err := messaging.Connect(messaging.Config{
			URL:           cfg.NATSURL,
			Name:          "dispatchcore",
			Subject:       cfg.NATSSubject,
			MaxReconnects: -1,
		}, hub, log)
		if err != nil {
			return err
		}
		defer relay.Close()
		natsRelay = relay
		publishers = append(publishers, relay)
		background = append(background, relay.Start)
	}

	// 4. Инициализация сервисов
	lifecycle := usecase.NewLifecycleService(usecase.LifecycleDeps{
		Assignments: store.assignments,
		Alarms:      store.alarms,
		Attempts:    store.attempts,
		Verifier:    usecase.NewVerificationService(cfg.ProximityMeters),
		Publisher:   publishers,
		Board:       board,
		Metrics:     m,
		Log:         log,
	})
	alarms := usecase.NewAlarmService(store.alarms, publishers, log)
	notify := usecase.NewNotifyService(publishers, patrols, log)

	// 5. Фоновые задачи: вебхуки и контроль SLA
	if redisRepo != nil {
		w := worker.New(redisRepo, redis.WebhookQueue, cfg.WebhookURL, cfg.WebhookMaxRetries, m, log)
		background = append(background, func(ctx context.Context) error {
			w.Start(ctx)
			return nil
		})
	}
	watcher := worker.NewSLAWatcher(lifecycle, notify, cfg.SLAScanInterval, m, log)
	background = append(background, func(ctx context.Context) error {
		watcher.Start(ctx)
		return nil
	})

	// 6. HTTP-обработчик; репозитории используются как Pinger для health-check
	handler := delivery.NewHandler(alarms, lifecycle, notify, hub, store.db, redisPing, cfg.APIKey)
	handler.Metrics = m
	handler.Log = log

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.InitRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", slog.String("port", cfg.HTTPPort), slog.Bool("nats", natsRelay != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	for _, task := range background {
		task := task
		g.Go(func() error { return task(gctx) })
	}

	return g.Wait()
}
