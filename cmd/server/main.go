package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/otcheredev/ris-dicom-renderer/internal/cache"
	"github.com/otcheredev/ris-dicom-renderer/internal/config"
	"github.com/otcheredev/ris-dicom-renderer/internal/database"
	"github.com/otcheredev/ris-dicom-renderer/internal/handlers"
	"github.com/otcheredev/ris-dicom-renderer/internal/metrics"
	"github.com/otcheredev/ris-dicom-renderer/internal/middleware"
	"github.com/otcheredev/ris-dicom-renderer/internal/pipeline"
	"github.com/otcheredev/ris-dicom-renderer/internal/queue"
	"github.com/otcheredev/ris-dicom-renderer/internal/store"
	"github.com/otcheredev/ris-dicom-renderer/internal/tasks"
	"github.com/otcheredev/ris-dicom-renderer/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting DICOM renderer")

	pingers := map[string]handlers.Pinger{}

	// File status store
	baseStore, err := openStore(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to open store")
	}
	pingers["store"] = baseStore

	// Series queue and row cache
	var (
		seriesQueue queue.SeriesQueue
		rowCache    cache.Cache
	)
	if cfg.Queue.Type == "redis" {
		rq, err := queue.NewRedisSeriesQueue(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Queue.Key)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect series queue to Redis")
		}
		seriesQueue = rq
		pingers["redis"] = rq

		rowCache, err = cache.NewRedisCache(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect cache to Redis")
		}
		log.Info().Str("addr", cfg.Redis.Addr()).Msg("Redis queue and cache initialized")
	} else {
		seriesQueue = queue.NewMemorySeriesQueue(cfg.Queue.Capacity)
		rowCache = cache.NewMemoryCache(time.Minute)
		log.Info().Msg("Memory queue and cache initialized")
	}
	fileStore := store.NewCachedStore(baseStore, rowCache, store.DefaultCacheTTL)

	var dumper tasks.Dumper = tasks.NativeDumper{}
	if cfg.Pipeline.DumpBinary != "" {
		dumper = &tasks.ExternalDumper{
			Binary:  cfg.Pipeline.DumpBinary,
			Args:    cfg.Pipeline.DumpArgs,
			WorkDir: cfg.Pipeline.DumpWorkDir,
			Timeout: cfg.Pipeline.DumpTimeout,
		}
	}

	pc := cfg.Pipeline
	p := pipeline.New(pipeline.Config{
		WatcherPollInterval:    pc.WatcherPollInterval,
		DispatcherPollInterval: pc.DispatcherPollInterval,
		IdleTimeout:            pc.IdleTimeout,
		InstanceNumberBase:     pc.InstanceNumberBase,
		PNGWorkers:             pc.PNGWorkers,
		TagWorkers:             pc.TagWorkers,
		PoolQueueSize:          pc.PoolQueueSize,
		GridSize:               pc.GridSize,
		GridTileSize:           pc.GridTileSize,
		OutputRoot:             pc.OutputRoot,
		Tags:                   pc.Tags,
		LockFile:               pc.LockFile,
	}, fileStore, seriesQueue, dumper, metrics.NewPipeline(prometheus.DefaultRegisterer))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := p.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start pipeline")
	}

	healthHandler := handlers.NewHealthHandler(pingers)
	pipelineHandler := handlers.NewPipelineHandler(p, fileStore)

	// Setup router
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Correlation)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Compress(5))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type", middleware.CorrelationHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/reprocess", pipelineHandler.Reprocess)
		r.Post("/series", pipelineHandler.DiscoverSeries)
		r.Get("/series", pipelineHandler.ListSeries)
		r.Get("/files", pipelineHandler.GetFile)
		r.Get("/stats", pipelineHandler.Stats)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	stop()
	if err := p.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Pipeline shutdown incomplete")
	}

	log.Info().Msg("Server stopped")
}

func openStore(cfg config.DatabaseConfig) (store.FileStore, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := database.Connect(database.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			DBName:   cfg.DBName,
			SSLMode:  cfg.SSLMode,
			LogLevel: cfg.LogLevel,
		})
		if err != nil {
			return nil, err
		}
		if err := database.AutoMigrate(db); err != nil {
			return nil, err
		}
		return store.NewGormStore(db), nil
	case "sqlite":
		return store.OpenSQLite(cfg.SQLitePath)
	default:
		return store.NewMemoryStore(), nil
	}
}
