package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/tanklink/tanklink/internal/app"
	"github.com/tanklink/tanklink/internal/auth"
	"github.com/tanklink/tanklink/internal/booking"
	"github.com/tanklink/tanklink/internal/dal"
	"github.com/tanklink/tanklink/internal/fleet"
	"github.com/tanklink/tanklink/internal/observability"
	"github.com/tanklink/tanklink/internal/payment"
	"github.com/tanklink/tanklink/internal/sub"
	"github.com/tanklink/tanklink/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	st, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	layer := dal.New(st, logger)
	subscriptions := sub.NewManager(layer, logger, metrics)
	defer subscriptions.Close()

	sessionManager := auth.NewSessionManager(redisClient, cfg.SessionTTL)
	authService := auth.NewService(layer, sessionManager)
	authHandler := auth.NewHandler(logger, authService)

	bookingService := booking.NewService(layer)
	bookingHandler := booking.NewHandler(logger, bookingService)

	paymentService := payment.NewService(layer)
	paymentHandler := payment.NewHandler(logger, paymentService)

	fleetService := fleet.NewService(layer)
	fleetHandler := fleet.NewHandler(logger, fleetService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthHandler:    authHandler,
		BookingHandler: bookingHandler,
		PaymentHandler: paymentHandler,
		FleetHandler:   fleetHandler,
		JobsHandler:    jobsHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
