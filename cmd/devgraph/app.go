package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/checkpoint"
	"github.com/rohankatakam/devgraph/internal/config"
	"github.com/rohankatakam/devgraph/internal/connector"
	"github.com/rohankatakam/devgraph/internal/dlq"
	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/extract"
	"github.com/rohankatakam/devgraph/internal/graph"
	"github.com/rohankatakam/devgraph/internal/models"
	"github.com/rohankatakam/devgraph/internal/pipeline"
	"github.com/rohankatakam/devgraph/internal/staging"
)

// app holds the stores shared by the commands of one process
type app struct {
	sink       graph.Sink
	queue      *dlq.Queue
	dlqDB      *sqlx.DB
	stager     *staging.Cache
	connectors connector.Factory
	log        logrus.FieldLogger
}

// openApp opens the graph sink and the dead-letter queue, plus the staging cache
// when one is configured
func openApp(ctx context.Context) (*app, error) {
	a := &app{
		log: logger.WithField("command", "devgraph"),
		connectors: connector.GitHubFactory(connector.ClientOptions{
			RateLimit: cfg.GitHub.RateLimit,
			PerPage:   cfg.GitHub.PerPage,
			BaseURL:   cfg.GitHub.BaseURL,
		}, logger),
	}

	sink, err := graph.Open(ctx, sinkConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	a.sink = sink

	if err := ensureDir(cfg.DLQ.Driver, cfg.DLQ.DSN); err != nil {
		a.Close(ctx)
		return nil, err
	}
	db, err := sqlx.ConnectContext(ctx, cfg.DLQ.Driver, cfg.DLQ.DSN)
	if err != nil {
		a.Close(ctx)
		return nil, errors.StoreErrorf(err, "failed to open dead letter queue")
	}
	if cfg.DLQ.Driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	a.dlqDB = db
	if a.queue, err = dlq.NewQueue(ctx, db, logger); err != nil {
		a.Close(ctx)
		return nil, err
	}

	if cfg.Staging.DSN != "" {
		stager, err := staging.NewCache(ctx, cfg.Staging.DSN, logger)
		if err != nil {
			// Staging only keeps a copy of raw records; runs go on without it
			a.log.WithError(err).Warn("staging cache unavailable, continuing without it")
		} else {
			a.stager = stager
		}
	}
	return a, nil
}

// Close releases every store
func (a *app) Close(ctx context.Context) {
	if a.stager != nil {
		a.stager.Close()
	}
	if a.dlqDB != nil {
		a.dlqDB.Close()
	}
	if a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			a.log.WithError(err).Warn("failed to close graph sink")
		}
	}
}

// deps returns the extractor dependencies, with artifacts as the optional task queue
func (a *app) deps(artifacts extract.ArtifactQueue) extract.Deps {
	deps := extract.Deps{
		Sink:        a.sink,
		Connectors:  a.connectors,
		Checkpoints: checkpoint.NewTracker(a.sink, logger),
		Logger:      logger,
		Artifacts:   artifacts,
	}
	if a.stager != nil {
		deps.Stager = a.stager
	}
	return deps
}

func sinkConfig(cfg *config.Config) graph.Config {
	gc := graph.Config{
		Backend: cfg.Sink.Type,
		Neo4j: graph.Neo4jConfig{
			URI:         cfg.Sink.Neo4jURI,
			User:        cfg.Sink.Neo4jUser,
			Password:    cfg.Sink.Neo4jPassword,
			Database:    cfg.Sink.Neo4jDatabase,
			MaxPoolSize: cfg.Sink.Neo4jMaxPoolSize,
		},
		EnsureConstraints: cfg.Sink.EnsureConstraints,
	}
	switch cfg.Sink.Type {
	case graph.BackendPostgres:
		gc.DSN = cfg.Sink.PostgresDSN
	case graph.BackendSQLite:
		gc.DSN = cfg.Sink.SQLitePath
		if err := ensureDir("sqlite3", gc.DSN); err != nil {
			logger.WithError(err).Warn("failed to create sqlite directory")
		}
	}
	return gc
}

func retryPolicy(p config.PipelineConfig) pipeline.RetryPolicy {
	policy := pipeline.DefaultRetryPolicy()
	policy.MaxAttempts = p.MaxAttempts
	policy.InitialInterval = p.InitialInterval
	policy.MaxInterval = p.MaxInterval
	return policy
}

// ensureDir creates the parent directory of a SQLite database file
func ensureDir(driver, dsn string) error {
	if driver != "sqlite3" || dsn == "" || strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
		return errors.ConfigErrorf("failed to create directory for %s: %v", dsn, err)
	}
	return nil
}

// resolveTargets turns owner/name arguments into targets, or loads the targets file
// when there are none
func resolveTargets(args []string, organization string) ([]models.Target, error) {
	if len(args) == 0 {
		return config.LoadTargets(cfg.TargetsFile, cfg.GitHub.Token)
	}
	targets := make([]models.Target, 0, len(args))
	for _, arg := range args {
		owner, _, ok := strings.Cut(arg, "/")
		if !ok || owner == "" {
			return nil, errors.ValidationErrorf("repository must be owner/name, got %q", arg)
		}
		org := organization
		if org == "" {
			org = owner
		}
		targets = append(targets, models.Target{Organization: org, Repository: arg, Token: cfg.GitHub.Token})
	}
	return targets, nil
}
