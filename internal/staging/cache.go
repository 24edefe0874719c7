package staging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/models"
	"github.com/rohankatakam/devgraph/internal/transform"
)

const schema = `
CREATE TABLE IF NOT EXISTS staged_records (
	run_id TEXT NOT NULL,
	organization TEXT NOT NULL,
	repository TEXT NOT NULL,
	domain TEXT NOT NULL,
	stream TEXT NOT NULL,
	seq INTEGER NOT NULL,
	payload JSONB NOT NULL,
	staged_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at TIMESTAMPTZ,
	PRIMARY KEY (run_id, domain, stream, seq)
);
CREATE INDEX IF NOT EXISTS idx_staged_records_unprocessed
	ON staged_records (run_id, domain) WHERE processed_at IS NULL;
`

// Cache keeps the raw connector records of each stage run in Postgres, so a run
// can be inspected or replayed without calling the upstream API again
type Cache struct {
	pool   *pgxpool.Pool
	logger logrus.FieldLogger
}

// Run identifies the stage run that produced a batch of records
type Run struct {
	ID     string
	Target models.Target
	Domain string
}

// Counts is the number of staged records per stream
type Counts map[string]int

// NewCache connects to dsn and creates the staging table if needed
func NewCache(ctx context.Context, dsn string, logger logrus.FieldLogger) (*Cache, error) {
	if dsn == "" {
		return nil, errors.ConfigError("staging cache DSN is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.ConfigErrorf("failed to create staging pool: %v", err)
	}

	// Verify connectivity (fail fast on startup)
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.StoreError(err, "failed to connect to staging cache")
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.StoreError(err, "failed to create staged_records")
	}

	logger = logger.WithField("component", "staging")
	logger.Info("staging cache connected")
	return &Cache{pool: pool, logger: logger}, nil
}

// Close closes the connection pool
func (c *Cache) Close() {
	c.pool.Close()
	c.logger.Info("staging cache closed")
}

// HealthCheck verifies connectivity
func (c *Cache) HealthCheck(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return errors.StoreError(err, "staging cache health check failed")
	}
	return nil
}

// Stage copies every record of the run in one COPY per stream.
// Staging the same run twice replaces its earlier rows.
func (c *Cache) Stage(ctx context.Context, run Run, records map[string][]map[string]any) (Counts, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, errors.StoreError(err, "failed to begin staging transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM staged_records WHERE run_id = $1 AND domain = $2`, run.ID, run.Domain); err != nil {
		return nil, errors.StoreError(err, "failed to clear staged run")
	}

	counts := make(Counts, len(records))
	for stream, batch := range records {
		rows := make([][]any, 0, len(batch))
		for i, r := range batch {
			payload, err := json.Marshal(r)
			if err != nil {
				return nil, errors.MalformedRecordError(err, "failed to encode staged record")
			}
			rows = append(rows, []any{run.ID, run.Target.Organization, run.Target.Repository, run.Domain, stream, i, payload})
		}

		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"staged_records"},
			[]string{"run_id", "organization", "repository", "domain", "stream", "seq", "payload"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return nil, errors.StoreErrorf(err, "failed to stage stream %s", stream)
		}
		counts[stream] = int(n)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.StoreError(err, "failed to commit staged run")
	}

	c.logger.WithFields(logrus.Fields{
		"run_id":     run.ID,
		"domain":     run.Domain,
		"repository": run.Target.Repository,
		"streams":    len(counts),
	}).Debug("records staged")
	return counts, nil
}

// Load returns the staged records of one run stream in their original order
func (c *Cache) Load(ctx context.Context, runID, domain, stream string) ([]map[string]any, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT payload
		FROM staged_records
		WHERE run_id = $1 AND domain = $2 AND stream = $3
		ORDER BY seq`, runID, domain, stream)
	if err != nil {
		return nil, errors.StoreError(err, "failed to load staged records")
	}
	defer rows.Close()

	var records []map[string]any
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.StoreError(err, "failed to scan staged record")
		}
		decoded, err := transform.ParseEmbedded(string(payload))
		if err != nil {
			return nil, err
		}
		r, ok := decoded.(map[string]any)
		if !ok {
			return nil, errors.MalformedRecordErrorf("staged payload is %T, want object", decoded)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError(err, "failed to iterate staged records")
	}
	return records, nil
}

// MarkProcessed stamps processed_at on every record of the run stage
func (c *Cache) MarkProcessed(ctx context.Context, runID, domain string) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE staged_records
		SET processed_at = NOW()
		WHERE run_id = $1 AND domain = $2 AND processed_at IS NULL`, runID, domain)
	if err != nil {
		return errors.StoreError(err, "failed to mark staged records processed")
	}
	return nil
}

// Purge deletes processed records staged before cutoff
func (c *Cache) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := c.pool.Exec(ctx, `
		DELETE FROM staged_records
		WHERE processed_at IS NOT NULL AND staged_at < $1`, cutoff)
	if err != nil {
		return 0, errors.StoreError(err, "failed to purge staged records")
	}
	return tag.RowsAffected(), nil
}
