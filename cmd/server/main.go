package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/lottery-engine/internal/algorithms"
	"github.com/stitts-dev/lottery-engine/internal/api/handlers"
	"github.com/stitts-dev/lottery-engine/internal/cache"
	"github.com/stitts-dev/lottery-engine/internal/config"
	"github.com/stitts-dev/lottery-engine/internal/evaluator"
	"github.com/stitts-dev/lottery-engine/internal/features"
	"github.com/stitts-dev/lottery-engine/internal/modelstore"
	"github.com/stitts-dev/lottery-engine/internal/rules"
	"github.com/stitts-dev/lottery-engine/internal/storage"
	"github.com/stitts-dev/lottery-engine/internal/training"
	"github.com/stitts-dev/lottery-engine/internal/websocket"
	"github.com/stitts-dev/lottery-engine/pkg/database"
	"github.com/stitts-dev/lottery-engine/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	structuredLogger := logger.InitLogger("info", cfg.IsDevelopment())
	structuredLogger.WithFields(logrus.Fields{
		"environment": cfg.Env,
		"port":        cfg.Port,
	}).Info("Starting lottery prediction engine")

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Database
	db, err := database.NewConnection(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		structuredLogger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(db.DB); err != nil {
		structuredLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// Redis backs the shared prediction cache tier; the engine runs
	// without it
	var redisClient *redis.Client
	if opt, err := redis.ParseURL(cfg.RedisURL); err != nil {
		structuredLogger.WithError(err).Warn("Invalid Redis URL, running without shared cache")
	} else {
		redisClient = redis.NewClient(opt)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			structuredLogger.WithError(err).Warn("Redis unreachable, running without shared cache")
			redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// Model artifact store
	artifacts, err := modelstore.Open(cfg.ModelStorePath)
	if err != nil {
		structuredLogger.Fatalf("Failed to open model store: %v", err)
	}
	defer artifacts.Close()

	// Domain registries and repositories
	ruleRegistry := rules.NewRegistry()
	algoRegistry := algorithms.NewRegistry()

	drawingRepo := storage.NewDrawingRepository(db.DB)
	strategyRepo := storage.NewStrategyRepository(db.DB)
	predictionRepo := storage.NewPredictionRepository(db.DB)
	trainingRepo := storage.NewTrainingRepository(db.DB)

	extractor := features.NewExtractor(ruleRegistry, drawingRepo)
	predictionCache := cache.NewPredictionCache(cfg.PredictionCacheCapacity, cfg.PredictionCacheTTL, redisClient)
	eval := evaluator.NewEvaluator(ruleRegistry, predictionRepo, strategyRepo)

	// Backlog sweep catches predictions whose ingest-time reconciliation
	// was lost to a crash; reconciliation is idempotent so the rescan is
	// safe to repeat
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(cfg.ReconcileSweepInterval)
		defer ticker.Stop()
		for {
			outcome, err := eval.SweepBacklog(sweepCtx, drawingRepo, ruleRegistry.List(), cfg.ReconcileSweepDepth)
			if err != nil {
				structuredLogger.WithError(err).Warn("Reconciliation sweep failed")
			} else if outcome.Resolved > 0 {
				structuredLogger.WithFields(logrus.Fields{
					"resolved": outcome.Resolved,
					"winners":  outcome.Winners,
				}).Info("Reconciliation sweep resolved stranded predictions")
			}
			select {
			case <-ticker.C:
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	// WebSocket hub streams training progress
	wsHub := websocket.NewHub(structuredLogger)
	go wsHub.Run()

	orchestrator := training.NewOrchestrator(
		algoRegistry,
		ruleRegistry,
		drawingRepo,
		strategyRepo,
		trainingRepo,
		artifacts,
		training.Options{
			Workers:    cfg.TrainingWorkers,
			MinSamples: cfg.MinTrainingSamples,
			WindowDays: cfg.DefaultHistoricalDays,
			JobTimeout: cfg.TrainingTimeout,
			Sink:       wsHub,
		},
	)
	defer orchestrator.Shutdown()

	// Router
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	predictionHandler := handlers.NewPredictionHandler(
		ruleRegistry,
		algoRegistry,
		extractor,
		predictionCache,
		drawingRepo,
		strategyRepo,
		predictionRepo,
		artifacts,
		cfg,
		structuredLogger,
	)
	trainingHandler := handlers.NewTrainingHandler(
		orchestrator,
		strategyRepo,
		trainingRepo,
		cfg,
		structuredLogger,
	)
	drawingHandler := handlers.NewDrawingHandler(ruleRegistry, drawingRepo, eval, structuredLogger)
	algorithmHandler := handlers.NewAlgorithmHandler(ruleRegistry, algoRegistry)
	healthHandler := handlers.NewHealthHandler(db, redisClient, orchestrator, structuredLogger)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/predict", predictionHandler.PredictNumbers)
		apiV1.GET("/predictions/:strategy_id", predictionHandler.GetPredictionHistory)

		apiV1.POST("/train", trainingHandler.TrainAlgorithms)
		apiV1.GET("/train/records/:id", trainingHandler.GetTrainingRecord)
		apiV1.GET("/train/history/:strategy_id", trainingHandler.GetTrainingHistory)
		apiV1.POST("/train/cancel/:strategy_id", trainingHandler.CancelTraining)

		apiV1.POST("/drawings", drawingHandler.IngestDrawing)
		apiV1.GET("/drawings", drawingHandler.ListDrawings)

		apiV1.GET("/algorithms", algorithmHandler.ListAlgorithms)
		apiV1.GET("/lottery-types", algorithmHandler.ListLotteryTypes)
	}

	router.GET("/ws/training-progress", wsHub.HandleWebSocket)

	router.GET("/health", healthHandler.GetHealth)
	router.GET("/ready", healthHandler.GetReady)
	router.GET("/metrics", healthHandler.GetMetrics)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	go func() {
		structuredLogger.WithField("port", cfg.Port).Info("Lottery prediction engine started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			structuredLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	structuredLogger.Info("Shutting down lottery prediction engine...")

	// In-flight requests get 5 seconds to finish
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		structuredLogger.Fatalf("Server forced to shutdown: %v", err)
	}

	structuredLogger.Info("Lottery prediction engine exited")
}
