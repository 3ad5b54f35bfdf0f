package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/RefatHex/ResQ/internal/alerting"
	"github.com/RefatHex/ResQ/internal/api"
	"github.com/RefatHex/ResQ/internal/config"
	"github.com/RefatHex/ResQ/internal/dispatch"
	internalgrpc "github.com/RefatHex/ResQ/internal/grpc"
	"github.com/RefatHex/ResQ/internal/logging"
	"github.com/RefatHex/ResQ/internal/notifier"
	"github.com/RefatHex/ResQ/internal/proximity"
	"github.com/RefatHex/ResQ/internal/queue"
	"github.com/RefatHex/ResQ/internal/repository"
	"github.com/RefatHex/ResQ/internal/scheduler"
	"github.com/RefatHex/ResQ/internal/stream"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := stream.NewBroadcaster()
	index := proximity.NewIndex(db)

	push, err := newNotifier(ctx, cfg.Notifier)
	if err != nil {
		logging.Fatalf("Failed to initialize notifier: %v", err)
	}

	jobs, redisClient, err := newQueue(ctx, cfg)
	if err != nil {
		logging.Fatalf("Failed to initialize queue: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	dispatcher := dispatch.New(db, index, push, broadcaster, dispatch.Config{
		Concurrency:     cfg.Alerting.DispatchConcurrency,
		DeliveryTimeout: cfg.Alerting.DeliveryTimeout,
		MaxAttempts:     cfg.Alerting.RedeliveryAttempts,
	})
	svc := alerting.NewService(db, dispatcher, jobs, alerting.Config{
		DefaultRadiusKm: cfg.Alerting.DefaultRadiusKm,
		MaxRadiusKm:     cfg.Alerting.MaxRadiusKm,
		DispatchTimeout: cfg.Alerting.DispatchTimeout,
		SweepGrace:      cfg.Alerting.SweepGrace,
	})
	jobs.Start(ctx, svc.HandleJob)

	sched := scheduler.New(cfg.Alerting.DispatchTimeout)
	if err := sched.Add("sweep", cfg.Alerting.SweepSchedule, svc.Sweep); err != nil {
		logging.Fatalf("Failed to schedule sweep: %v", err)
	}
	sched.Start()

	grpcServer := internalgrpc.NewServer(db, cfg.GRPC.HealthInterval)
	go func() {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", api.HeaderSubjectID, api.HeaderRole},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))
	router.Use(api.RateLimitMiddleware(cfg.RateLimit.RPS))

	handler := api.NewHandler(svc, db, broadcaster)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop taking requests first so no new dispatch jobs arrive.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	sched.Stop()
	jobs.Stop()
	cancel()
	broadcaster.Close()
	grpcServer.Stop()

	slog.Info("shutdown complete")
}

func newNotifier(ctx context.Context, cfg config.NotifierConfig) (notifier.Notifier, error) {
	switch cfg.Backend {
	case notifier.BackendFCM:
		return notifier.NewFCMNotifier(ctx, cfg.CredentialsFile, cfg.CredentialsB64)
	default:
		return notifier.NewLogNotifier(slog.Default()), nil
	}
}

func newQueue(ctx context.Context, cfg *config.Config) (queue.Queue, *redis.Client, error) {
	switch cfg.Queue.Backend {
	case queue.BackendRedis:
		client, err := queue.NewRedisClient(ctx, cfg.Queue.RedisAddr, cfg.Queue.RedisPassword, cfg.Queue.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return queue.NewRedisQueue(client, cfg.Queue.RedisKey, cfg.Worker.Count), client, nil
	default:
		return queue.NewMemoryQueue(cfg.Worker.Count, cfg.Worker.BufferSize), nil, nil
	}
}
