package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/chanuka/conflict-engine/internal/config"
	"github.com/chanuka/conflict-engine/internal/detect"
	"github.com/chanuka/conflict-engine/internal/domain"
	"github.com/chanuka/conflict-engine/internal/events"
	"github.com/chanuka/conflict-engine/internal/graph"
	"github.com/chanuka/conflict-engine/internal/logging"
	"github.com/chanuka/conflict-engine/internal/repository"
	"github.com/chanuka/conflict-engine/internal/score"
	"github.com/chanuka/conflict-engine/internal/store"
)

var errMissingDataset = errors.New("dataset not found")

// dataset mirrors the files the datagen tool writes.
type dataset struct {
	Entities  []domain.Entity
	Sponsors  []domain.Sponsor
	Bills     []domain.Bill
	Interests []domain.FinancialInterest
	Edges     []domain.InfluenceEdge
}

func main() {
	var (
		datasetDir = flag.String("dataset-dir", "./seed-data", "Directory containing bills.json, sponsors.json, interests.json, entities.json, and edges.json")
		workers    = flag.Int("workers", 0, "Number of concurrent per-bill detection jobs (0 uses DETECT_WORKERS)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("component", "detect")

	if *workers <= 0 {
		*workers = cfg.Detection.Workers
	}

	scoring := score.Default()
	if cfg.Detection.ScoringConfigPath != "" {
		scoring, err = score.LoadFile(cfg.Detection.ScoringConfigPath)
		if err != nil {
			logger.Error("failed to load scoring config", "error", err)
			os.Exit(1)
		}
	}

	data, err := loadDataset(*datasetDir)
	if err != nil {
		logger.Error("failed to load dataset", "error", err, "dir", *datasetDir)
		os.Exit(1)
	}
	if len(data.Bills) == 0 {
		logger.Error("bills dataset empty", "dir", *datasetDir)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	edges, closeGraph, err := buildEdgeStore(ctx, logger, cfg)
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

	if err := seedGraph(ctx, edges, data); err != nil {
		logger.Error("failed to seed influence graph", "error", err)
		os.Exit(1)
	}

	detector := detect.New(scoring, detections, edges, events.NewMemory(), nil, logger)

	snapshots := make([]detect.Snapshot, 0, len(data.Bills))
	for _, bill := range data.Bills {
		snapshots = append(snapshots, detect.Snapshot{
			Bill:      bill,
			Sponsors:  data.Sponsors,
			Interests: data.Interests,
			Entities:  data.Entities,
		})
	}

	start := time.Now()
	logger.Info("running detection", "bills", len(snapshots), "workers", *workers, "configVersion", scoring.Version)

	summaries, err := detector.RescanAll(ctx, snapshots, *workers)
	if err != nil {
		logger.Error("detection run failed", "error", err)
		os.Exit(1)
	}

	var candidates, written, superseded, unchanged int
	for _, s := range summaries {
		candidates += s.Candidates
		written += s.Written
		superseded += s.Superseded
		unchanged += s.Unchanged
		for _, warning := range s.Warnings {
			logger.Warn("detection warning", "billId", s.BillID, "warning", warning)
		}
	}

	logger.Info("detection complete",
		"duration", time.Since(start).String(),
		"bills", len(summaries),
		"candidates", candidates,
		"written", written,
		"superseded", superseded,
		"unchanged", unchanged,
	)
}

func loadDataset(dir string) (dataset, error) {
	var data dataset
	for _, item := range []struct {
		file   string
		target any
	}{
		{"entities.json", &data.Entities},
		{"sponsors.json", &data.Sponsors},
		{"bills.json", &data.Bills},
		{"interests.json", &data.Interests},
		{"edges.json", &data.Edges},
	} {
		path := filepath.Join(dir, item.file)
		if _, err := os.Stat(path); err != nil {
			return dataset{}, fmt.Errorf("%w: %s", errMissingDataset, path)
		}
		if err := loadJSON(path, item.target); err != nil {
			return dataset{}, err
		}
	}
	return data, nil
}

func loadJSON(path string, target any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func seedGraph(ctx context.Context, edges repository.Store, data dataset) error {
	for _, entity := range data.Entities {
		if err := edges.UpsertEntity(ctx, entity); err != nil {
			return fmt.Errorf("upsert entity %s: %w", entity.ID, err)
		}
	}
	for _, edge := range data.Edges {
		if err := edges.AddEdge(ctx, edge); err != nil {
			return fmt.Errorf("add edge %s: %w", edge.ID, err)
		}
	}
	return nil
}

func buildEdgeStore(ctx context.Context, logger *slog.Logger, cfg config.Config) (repository.Store, func(), error) {
	if cfg.Graph.URI == "" {
		logger.Info("no graph URI configured, using in-memory influence graph")
		return repository.NewMemory(), func() {}, nil
	}

	client, err := graph.NewNeo4jClient(ctx, graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, nil, err
	}
	logger.Info("connected to graph", "uri", cfg.Graph.URI, "database", cfg.Graph.Database)

	closeFn := func() {
		if err := client.Close(context.Background()); err != nil {
			logger.Warn("closing graph client failed", "error", err)
		}
	}
	return repository.NewGraph(client), closeFn, nil
}

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
