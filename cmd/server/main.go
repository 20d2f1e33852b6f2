package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/crime-data-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/crime-data-service/internal/adapter/kafka"
	"github.com/couchcryptid/crime-data-service/internal/adapter/mapbox"
	"github.com/couchcryptid/crime-data-service/internal/adapter/sqlstore"
	"github.com/couchcryptid/crime-data-service/internal/anomaly"
	"github.com/couchcryptid/crime-data-service/internal/config"
	"github.com/couchcryptid/crime-data-service/internal/domain"
	"github.com/couchcryptid/crime-data-service/internal/observability"
	"github.com/couchcryptid/crime-data-service/internal/pipeline"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, cfg.DatabaseMaxOpenConns)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if cfg.DatabaseAutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		logger.Info("database schema ready", "driver", cfg.DatabaseDriver)
	}

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		cached, err := mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		if err != nil {
			logger.Error("failed to create geocoder", "error", err)
			os.Exit(1)
		}
		geocoder = cached
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	// Event publication is optional; a nil publisher disables it.
	var publisher domain.EventPublisher
	var kafkaPublisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		kafkaPublisher = kafkaadapter.NewPublisher(cfg, logger, metrics)
		publisher = kafkaPublisher
		logger.Info("kafka events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	clock := clockwork.NewRealClock()
	transformer := pipeline.NewTransformer(geocoder, logger)
	p := pipeline.New(store, transformer, publisher, clock, logger, metrics, cfg.BatchSize)
	detector := anomaly.NewDetector(store, publisher, clock, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Ingester: p,
		Detector: detector,
		Reader:   store,
		Ready:    p,
	}, httpadapter.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, metrics)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
