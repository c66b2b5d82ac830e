package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lendfabric/loanmatch/api"
	"github.com/lendfabric/loanmatch/internal/config"
	"github.com/lendfabric/loanmatch/internal/database"
	"github.com/lendfabric/loanmatch/internal/matching"
	"github.com/lendfabric/loanmatch/internal/notification"
	"github.com/lendfabric/loanmatch/internal/origination"
	"github.com/lendfabric/loanmatch/internal/repository"
	"github.com/lendfabric/loanmatch/internal/valuation"
	"github.com/lendfabric/loanmatch/pkg/logger"
	"github.com/lendfabric/loanmatch/pkg/metrics"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}

	// Optional read-through cache for currency and lender lookups.
	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			zapLogger.Warn("Redis not available, proceeding without cache", zap.Error(err))
		} else {
			cache = rdb
			zapLogger.Info("Redis cache initialized")
		}
		cancel()
	}

	store := repository.NewGormStore(db, zapLogger, cache, cfg.Redis.TTL)
	if err := store.AutoMigrate(); err != nil {
		zapLogger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	var notifier notification.Dispatcher = notification.NopDispatcher{}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.MatchTopic != "" {
		kd := notification.NewKafkaDispatcher(cfg.Kafka.Brokers, cfg.Kafka.MatchTopic, cfg.Kafka.WriteTimeout, zapLogger)
		defer kd.Close()
		notifier = kd
	}

	calculator := valuation.NewCalculator(store, zapLogger)
	originator := origination.NewOrchestrator(store, zapLogger)
	engine := matching.NewEngine(store, calculator, originator, notifier, zapLogger, matching.Config{
		BatchSize:      cfg.Matching.BatchSize,
		MaxRunSize:     cfg.Matching.MaxRunSize,
		OfferPageLimit: cfg.Matching.OfferPageLimit,
	})

	// Collect DB pool metrics every 30s.
	tickerDB := time.NewTicker(30 * time.Second)
	defer tickerDB.Stop()
	go func() {
		for range tickerDB.C {
			if sqlDB, err := db.DB(); err == nil {
				stats := sqlDB.Stats()
				metrics.DBOpenConns.WithLabelValues("postgres").Set(float64(stats.OpenConnections))
				metrics.DBInUseConns.WithLabelValues("postgres").Set(float64(stats.InUse))
			}
		}
	}()

	// Scheduled trigger. Overlapping manual runs are tolerated: match
	// recording is atomic and the loser of a race skips the item.
	stopSched := make(chan struct{})
	if cfg.Matching.ScheduleInterval > 0 {
		ticker := time.NewTicker(cfg.Matching.ScheduleInterval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					report := engine.RunMatching(context.Background(), matching.Request{Trigger: "scheduled"})
					zapLogger.Info("scheduled matching run complete",
						zap.Int("matched_pairs", report.MatchedPairs),
						zap.Int("errors", len(report.Errors)))
				case <-stopSched:
					return
				}
			}
		}()
	}

	apiServer := api.NewServer(zapLogger, engine)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")
	close(stopSched)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Forced shutdown", zap.Error(err))
	}
}
