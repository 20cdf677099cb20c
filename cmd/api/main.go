package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/config"
	appHTTP "github.com/cabdesk/dispatch-notify/internal/handler/http"
	"github.com/cabdesk/dispatch-notify/internal/pkg/broker"
	"github.com/cabdesk/dispatch-notify/internal/pkg/cron"
	"github.com/cabdesk/dispatch-notify/internal/pkg/database"
	"github.com/cabdesk/dispatch-notify/internal/pkg/jwt"
	"github.com/cabdesk/dispatch-notify/internal/pkg/push"
	"github.com/cabdesk/dispatch-notify/internal/repository/postgresql"
	notificationService "github.com/cabdesk/dispatch-notify/internal/service/notification"
	"github.com/cabdesk/dispatch-notify/migrations"
	"github.com/go-chi/httplog/v3"
	"github.com/go-redis/redis/v8"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}

	logFormat := httplog.SchemaECS.Concise(cfg.App.Env == "development")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       cfg.SlogLevel(),
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", "dispatch-notify"),
		slog.String("version", "v1.0.0"),
		slog.String("env", cfg.App.Env),
	)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Gateway stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgreSQLDB(ctx, cfg.DatabaseURL(), database.PoolConfig{
		MaxConns:        int32(cfg.Database.MaxConns),
		MaxConnLifetime: time.Hour,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	hub := push.NewHub(64)
	notifCfg := notificationService.Config{
		BatchSize:     cfg.Notification.BatchSize,
		FlushInterval: cfg.Notification.FlushInterval,
		WorkerCount:   cfg.Notification.WorkerCount,
		QueueSize:     cfg.Notification.QueueSize,
	}

	// Redis is optional; without it this instance serves only its own connections.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = broker.Connect(ctx, broker.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()
	} else {
		logger.Info("REDIS_ADDR not set, relay and cross-instance fanout disabled")
	}

	var fanout *broker.Fanout
	if redisClient != nil {
		fanout = broker.NewFanout(redisClient, cfg.Redis.EventsChannel, hub, logger)
		notifCfg.Publisher = fanout
	}

	notifRepo := postgresql.NewNotificationRepository(db)
	notifService := notificationService.NewNotificationService(notifRepo, hub, notifCfg, logger)
	defer notifService.Stop()

	if redisClient != nil {
		relay := broker.NewRelay(redisClient, cfg.Redis.RequestsChannel, notifService, logger)
		go runBackground(ctx, logger, "fanout", fanout.Run)
		go runBackground(ctx, logger, "relay", relay.Run)
	}

	scheduler := cron.NewScheduler(logger)
	cron.NewRetentionJobs(notifService, cfg.Notification.Retention, cfg.Notification.PurgeInterval, logger).RegisterJobs(scheduler)
	scheduler.Start()
	defer scheduler.Stop()

	JWTService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiration)

	notificationHandler := appHTTP.NewNotificationHandler(notifService)
	pushHandler := appHTTP.NewPushHandler(notifService, JWTService, appHTTP.PushConfig{
		AuthTimeout:    cfg.Notification.AuthTimeout,
		PingInterval:   cfg.Notification.PingInterval,
		AllowedOrigins: cfg.App.AllowedOrigins,
	}, logger)

	router := appHTTP.NewRouter(
		appHTTP.RouterConfig{
			AllowedOrigins: cfg.App.AllowedOrigins,
			RateLimit:      cfg.App.RateLimit,
			RateBurst:      cfg.App.RateBurst,
			LogLevel:       cfg.SlogLevel(),
		},
		logger,
		JWTService,
		notificationHandler,
		pushHandler,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server running", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runBackground keeps a subscriber loop alive until ctx is done.
func runBackground(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) error) {
	for {
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Background loop exited, restarting", "loop", name, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}
