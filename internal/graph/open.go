package graph

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/errors"
)

// Supported sink backends
const (
	BackendNeo4j    = "neo4j"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config selects and configures the sink backend
type Config struct {
	Backend string
	Neo4j   Neo4jConfig
	// DSN of the relational backend (a file path or ":memory:" for SQLite)
	DSN string
	// EnsureConstraints creates the Neo4j uniqueness constraints on open
	EnsureConstraints bool
}

// Open builds the sink named by cfg.Backend
func Open(ctx context.Context, cfg Config, logger logrus.FieldLogger) (Sink, error) {
	switch cfg.Backend {
	case BackendNeo4j:
		sink, err := NewNeo4jSink(ctx, cfg.Neo4j, logger)
		if err != nil {
			return nil, err
		}
		if cfg.EnsureConstraints {
			if err := sink.EnsureConstraints(ctx); err != nil {
				sink.Close(ctx)
				return nil, err
			}
		}
		return sink, nil
	case BackendPostgres:
		return NewRelationalSink(ctx, "postgres", cfg.DSN, logger)
	case BackendSQLite:
		return NewRelationalSink(ctx, "sqlite3", cfg.DSN, logger)
	default:
		return nil, errors.ConfigErrorf("unknown sink backend %q (want neo4j, postgres or sqlite)", cfg.Backend)
	}
}
