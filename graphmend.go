// Package graphmend maintains knowledge graphs: it detects and merges
// duplicate entities through reviewable resolution plans, and answers
// queries with hybrid vector, keyword, and graph-expansion retrieval.
package graphmend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/graphmend/graphmend/pkg/backup"
	"github.com/graphmend/graphmend/pkg/config"
	"github.com/graphmend/graphmend/pkg/driver"
	"github.com/graphmend/graphmend/pkg/embedder"
	"github.com/graphmend/graphmend/pkg/judge"
	"github.com/graphmend/graphmend/pkg/planstore"
	"github.com/graphmend/graphmend/pkg/resolution"
	"github.com/graphmend/graphmend/pkg/retrieval"
	"github.com/graphmend/graphmend/pkg/telemetry"
	"github.com/graphmend/graphmend/pkg/types"
)

// Client is the main implementation of the GraphMend interface.
type Client struct {
	store    driver.GraphStore
	embedder embedder.Client
	judge    judge.SimilarityJudge
	detector *resolution.Detector
	executor *resolution.Executor
	engine   *retrieval.Engine
	plans    *planstore.Store
	backups  *backup.Manager
	cfg      *config.Config
	logger   *slog.Logger
}

// NewClient wires a client from configuration. The store, judge, and
// embedder are selected by their configured providers; the plan store and
// telemetry sink are opened eagerly so misconfiguration fails here, not
// mid-merge.
func NewClient(cfg *config.Config) (*Client, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	var emb embedder.Client
	if cfg.Embedding.APIKey != "" {
		emb, err = embedder.NewOpenAIEmbedder(cfg.Embedding, cfg.CircuitBreaker, logger)
		if err != nil {
			return nil, err
		}
	}

	j, err := newJudge(cfg, logger)
	if err != nil {
		return nil, err
	}

	plans, err := planstore.Open(cfg.PlanStore.Path, logger)
	if err != nil {
		return nil, err
	}

	backups := backup.NewManager(store, cfg.Backup.Dir, logger)

	c := &Client{
		store:    store,
		embedder: emb,
		judge:    j,
		detector: resolution.NewDetector(store, j, cfg.Resolution, logger),
		executor: resolution.NewExecutor(store, cfg.Resolution, backups.Snapshot, logger),
		engine:   retrieval.NewEngine(store, emb, cfg.Retrieval, logger),
		plans:    plans,
		backups:  backups,
		cfg:      cfg,
		logger:   logger,
	}
	return c, nil
}

func newStore(cfg *config.Config) (driver.GraphStore, error) {
	switch cfg.Database.Driver {
	case "memory":
		return driver.NewMemoryStore(), nil
	case "neo4j":
		return driver.NewNeo4jStore(
			cfg.Database.URI, cfg.Database.Username, cfg.Database.Password, cfg.Database.Database)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func newJudge(cfg *config.Config, logger *slog.Logger) (judge.SimilarityJudge, error) {
	switch cfg.Judge.Provider {
	case "string", "":
		return judge.NewStringJudge(cfg.Resolution.JudgeThreshold), nil
	case "openai":
		return judge.NewOpenAIJudge(cfg.Judge, cfg.CircuitBreaker, logger)
	default:
		return nil, fmt.Errorf("unknown judge provider %q", cfg.Judge.Provider)
	}
}

// NewLogger builds the slog logger per config, wrapping the base handler
// with the parquet telemetry sink when one is configured.
func NewLogger(cfg *config.Config) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	if cfg.Telemetry.ParquetPath != "" {
		wrapped, err := telemetry.NewParquetHandler(handler, cfg.Telemetry.ParquetPath)
		if err != nil {
			return nil, err
		}
		handler = wrapped
	}
	return slog.New(handler), nil
}

// Detect drafts a resolution plan, persists it, and (when configured)
// exports it as a JSON file for review. Detection never mutates the graph.
func (c *Client) Detect(ctx context.Context, scope types.Scope) (*types.ResolutionPlan, error) {
	plan, err := c.detector.Detect(ctx, scope)
	if err != nil {
		return nil, err
	}
	if err := c.plans.SavePlan(plan); err != nil {
		return nil, err
	}
	if dir := c.cfg.Resolution.PlanExportDir; dir != "" && !plan.Empty() {
		if _, err := c.plans.ExportJSON(plan, dir); err != nil {
			c.logger.Warn("plan export failed", "plan_id", plan.ID, "error", err)
		}
	}
	return plan, nil
}

// Execute loads a plan by id, applies it, and persists the report. With
// backup set the graph is snapshotted first. The report is saved and
// returned even on partial failure.
func (c *Client) Execute(ctx context.Context, planID string, backup bool) (*types.ExecutionReport, error) {
	plan, err := c.plans.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	report, execErr := c.executor.Execute(ctx, plan, backup)
	if report != nil {
		if err := c.plans.SaveReport(report); err != nil {
			c.logger.Error("failed to persist execution report", "plan_id", planID, "error", err)
		}
	}
	return report, execErr
}

// Query answers a question with ranked evidence from the graph.
func (c *Client) Query(ctx context.Context, query string, labels []string) (*types.RetrievalContext, error) {
	return c.engine.Query(ctx, query, labels)
}

// GetPlan returns a stored plan by id.
func (c *Client) GetPlan(ctx context.Context, id string) (*types.ResolutionPlan, error) {
	return c.plans.GetPlan(id)
}

// ListPlans returns all stored plans, newest first.
func (c *Client) ListPlans(ctx context.Context) ([]*types.ResolutionPlan, error) {
	return c.plans.ListPlans()
}

// GetReport returns the execution report for a plan.
func (c *Client) GetReport(ctx context.Context, planID string) (*types.ExecutionReport, error) {
	return c.plans.GetReport(planID)
}

// Backup snapshots the graph and returns the snapshot path.
func (c *Client) Backup(ctx context.Context) (string, error) {
	return c.backups.Snapshot(ctx)
}

// Restore loads a snapshot. With clear set the graph is emptied first.
func (c *Client) Restore(ctx context.Context, path string, clear bool) error {
	return c.backups.Restore(ctx, path, clear)
}

// Store exposes the underlying graph store for ingestion and maintenance.
func (c *Client) Store() driver.GraphStore { return c.store }

// Close releases all resources.
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	if c.judge != nil {
		errs = append(errs, c.judge.Close())
	}
	if c.embedder != nil {
		errs = append(errs, c.embedder.Close())
	}
	if c.plans != nil {
		errs = append(errs, c.plans.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close(ctx))
	}
	return errors.Join(errs...)
}

var _ GraphMend = (*Client)(nil)
