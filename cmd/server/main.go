package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/chanuka/conflict-engine/internal/config"
	"github.com/chanuka/conflict-engine/internal/detect"
	"github.com/chanuka/conflict-engine/internal/events"
	"github.com/chanuka/conflict-engine/internal/graph"
	"github.com/chanuka/conflict-engine/internal/logging"
	"github.com/chanuka/conflict-engine/internal/metrics"
	"github.com/chanuka/conflict-engine/internal/network"
	"github.com/chanuka/conflict-engine/internal/repository"
	"github.com/chanuka/conflict-engine/internal/score"
	"github.com/chanuka/conflict-engine/internal/server"
	"github.com/chanuka/conflict-engine/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	scoring, err := loadScoringConfig(cfg.Detection)
	if err != nil {
		logger.Error("failed to load scoring config", "error", err)
		os.Exit(1)
	}
	logger.Info("scoring config loaded", "version", scoring.Version)

	edges, health, closeGraph, err := buildEdgeStore(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to create influence graph store", "error", err)
		os.Exit(1)
	}
	defer closeGraph()

	detections, closeDetections, err := buildDetectionStore(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to create detection store", "error", err)
		os.Exit(1)
	}
	defer closeDetections()

	publisher, closePublisher, err := buildPublisher(logger, cfg)
	if err != nil {
		logger.Error("failed to create event publisher", "error", err)
		os.Exit(1)
	}
	defer closePublisher()

	var m *metrics.Metrics
	if cfg.HTTP.MetricsEnabled {
		m = metrics.New()
	}

	detector := detect.New(scoring, detections, edges, publisher, m, logger)
	builder := network.New(edges,
		network.WithMaxHops(scoring.MaxHops),
		network.WithStrengthFloor(scoring.StrengthFloor),
	)
	apiHandlers := server.NewAPIHandlers(logger, detector, detections, edges, builder)

	router := server.NewRouter(logger, server.RouterDependencies{
		Health:           health,
		API:              apiHandlers,
		MetricsEnabled:   cfg.HTTP.MetricsEnabled,
		AllowedOrigins:   parseAllowedOrigins(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
	})

	srv := server.New(logger, cfg.HTTP, router)

	scheduler, err := startRescanSchedule(ctx, logger, cfg.Detection, detector)
	if err != nil {
		logger.Error("failed to schedule rescan", "error", err)
		os.Exit(1)
	}
	if scheduler != nil {
		defer scheduler.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func loadScoringConfig(cfg config.DetectionConfig) (score.Config, error) {
	if cfg.ScoringConfigPath == "" {
		return score.Default(), nil
	}
	return score.LoadFile(cfg.ScoringConfigPath)
}

// buildEdgeStore returns the influence graph store, its health probe, and a
// close function. An empty graph URI selects the in-memory store.
func buildEdgeStore(ctx context.Context, logger *slog.Logger, cfg config.Config) (repository.Store, server.HealthService, func(), error) {
	if cfg.Graph.URI == "" {
		logger.Info("no graph URI configured, using in-memory influence graph")
		return repository.NewMemory(), server.NoopHealthService{}, func() {}, nil
	}

	client, err := graph.NewNeo4jClient(ctx, graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	closeFn := func() {
		if err := client.Close(context.Background()); err != nil {
			logger.Warn("closing graph client failed", "error", err)
		}
	}
	return repository.NewGraph(client), server.GraphHealthService{Client: client}, closeFn, nil
}

// buildDetectionStore returns the detection store and a close function. An
// empty DSN selects the in-memory store.
func buildDetectionStore(ctx context.Context, logger *slog.Logger, cfg config.Config) (store.Store, func(), error) {
	if cfg.Postgres.DSN == "" {
		logger.Info("no postgres DSN configured, using in-memory detection store")
		return store.NewMemory(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	pg := store.NewPostgres(db)
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	closeFn := func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing postgres failed", "error", err)
		}
	}
	return pg, closeFn, nil
}

// buildPublisher returns the event publisher and a close function. No
// brokers selects the in-process publisher.
func buildPublisher(logger *slog.Logger, cfg config.Config) (events.Publisher, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Info("no kafka brokers configured, using in-process event publisher")
		return events.NewMemory(), func() {}, nil
	}

	kafka, err := events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return nil, nil, err
	}
	return kafka, kafka.Close, nil
}

// startRescanSchedule registers the periodic full rescan when a cron
// expression is configured.
func startRescanSchedule(ctx context.Context, logger *slog.Logger, cfg config.DetectionConfig, detector *detect.Detector) (*cron.Cron, error) {
	if cfg.RescanCron == "" {
		return nil, nil
	}

	scheduler := cron.New()
	_, err := scheduler.AddFunc(cfg.RescanCron, func() {
		summaries, err := detector.RescanKnown(ctx, cfg.Workers)
		if err != nil {
			logger.Error("scheduled rescan failed", "error", err)
			return
		}
		var written, superseded int
		for _, s := range summaries {
			written += s.Written
			superseded += s.Superseded
		}
		logger.Info("scheduled rescan complete", "bills", len(summaries), "written", written, "superseded", superseded)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid rescan cron %q: %w", cfg.RescanCron, err)
	}

	scheduler.Start()
	logger.Info("scheduled periodic rescan", "cron", cfg.RescanCron)
	return scheduler, nil
}

func parseAllowedOrigins(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	var origins []string
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		origins = append(origins, origin)
	}
	return origins
}
