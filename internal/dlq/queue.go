package dlq

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS dead_letter_queue (
	organization TEXT NOT NULL,
	repository TEXT NOT NULL,
	domain TEXT NOT NULL,
	run_id TEXT NOT NULL,
	error_message TEXT NOT NULL,
	error_detail TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (organization, repository, domain)
);
`

// Failure is a stage that still failed after its retry budget
type Failure struct {
	RunID        string
	Organization string
	Repository   string
	Domain       string
	Attempts     int
	Err          error
	Metadata     map[string]interface{}
}

// Entry represents a dead letter queue entry
type Entry struct {
	Organization string                 `db:"organization"`
	Repository   string                 `db:"repository"`
	Domain       string                 `db:"domain"`
	RunID        string                 `db:"run_id"`
	ErrorMessage string                 `db:"error_message"`
	ErrorDetail  string                 `db:"error_detail"`
	Attempts     int                    `db:"attempts"`
	RetryCount   int                    `db:"retry_count"`
	RawMetadata  string                 `db:"metadata"`
	RawCreatedAt string                 `db:"created_at"`
	RawUpdatedAt string                 `db:"updated_at"`
	Metadata     map[string]interface{} `db:"-"`
	CreatedAt    time.Time              `db:"-"`
	UpdatedAt    time.Time              `db:"-"`
}

// Stats contains DLQ statistics
type Stats struct {
	TotalEntries     int `db:"total"`
	RetryableEntries int `db:"retryable"`
	ExhaustedEntries int `db:"exhausted"`
}

// Queue records chain stages that exhausted their retries.
// One row per (organization, repository, domain); repeated failures bump retry_count.
type Queue struct {
	db     *sqlx.DB
	logger logrus.FieldLogger
}

// NewQueue creates the DLQ table if needed and returns the queue
func NewQueue(ctx context.Context, db *sqlx.DB, logger logrus.FieldLogger) (*Queue, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, errors.StoreError(err, "failed to create dead_letter_queue")
	}
	return &Queue{db: db, logger: logger.WithField("component", "dlq")}, nil
}

// Enqueue adds a failed stage to the DLQ.
// If the stage is already queued, increments retry_count.
func (q *Queue) Enqueue(ctx context.Context, f Failure) error {
	if f.Err == nil {
		return errors.ValidationErrorf("dlq entry without error")
	}
	if f.RunID == "" {
		f.RunID = uuid.NewString()
	}
	if f.Metadata == nil {
		f.Metadata = make(map[string]interface{})
	}

	metadataJSON, err := json.Marshal(f.Metadata)
	if err != nil {
		return errors.MalformedRecordError(err, "failed to marshal dlq metadata")
	}

	detail := f.Err.Error()
	var e *errors.Error
	if stderrors.As(f.Err, &e) {
		detail = e.DetailedString()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = q.db.ExecContext(ctx, q.db.Rebind(`
		INSERT INTO dead_letter_queue (organization, repository, domain, run_id, error_message, error_detail, attempts, retry_count, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT (organization, repository, domain) DO UPDATE SET
			retry_count = dead_letter_queue.retry_count + 1,
			run_id = excluded.run_id,
			error_message = excluded.error_message,
			error_detail = excluded.error_detail,
			attempts = excluded.attempts,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`),
		f.Organization, f.Repository, f.Domain, f.RunID, f.Err.Error(), detail, f.Attempts, string(metadataJSON), now, now)
	if err != nil {
		return errors.StoreError(err, "failed to enqueue stage to DLQ")
	}

	q.logger.WithFields(logrus.Fields{
		"organization": f.Organization,
		"repository":   f.Repository,
		"domain":       f.Domain,
		"run_id":       f.RunID,
		"attempts":     f.Attempts,
		"error":        f.Err.Error(),
	}).Warn("stage enqueued to DLQ")
	return nil
}

// GetPendingRetries returns entries whose retry_count is below maxRetries, oldest first
func (q *Queue) GetPendingRetries(ctx context.Context, maxRetries int) ([]Entry, error) {
	var entries []Entry
	err := q.db.SelectContext(ctx, &entries, q.db.Rebind(`
		SELECT organization, repository, domain, run_id, error_message, error_detail, attempts, retry_count, metadata, created_at, updated_at
		FROM dead_letter_queue
		WHERE retry_count < ?
		ORDER BY created_at ASC`), maxRetries)
	if err != nil {
		return nil, errors.StoreError(err, "failed to query DLQ")
	}
	return q.decode(entries), nil
}

// GetRecentFailures returns the N most recently updated entries for review
func (q *Queue) GetRecentFailures(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := q.db.SelectContext(ctx, &entries, q.db.Rebind(`
		SELECT organization, repository, domain, run_id, error_message, error_detail, attempts, retry_count, metadata, created_at, updated_at
		FROM dead_letter_queue
		ORDER BY updated_at DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, errors.StoreError(err, "failed to query recent failures")
	}
	return q.decode(entries), nil
}

// MarkResolved removes a stage from the DLQ after a successful run
func (q *Queue) MarkResolved(ctx context.Context, organization, repository, domain string) error {
	result, err := q.db.ExecContext(ctx, q.db.Rebind(`
		DELETE FROM dead_letter_queue
		WHERE organization = ? AND repository = ? AND domain = ?`),
		organization, repository, domain)
	if err != nil {
		return errors.StoreError(err, "failed to delete DLQ entry")
	}

	if rows, _ := result.RowsAffected(); rows > 0 {
		q.logger.WithFields(logrus.Fields{
			"organization": organization,
			"repository":   repository,
			"domain":       domain,
		}).Info("stage resolved and removed from DLQ")
	}
	return nil
}

// GetStats returns DLQ statistics; entries with retry_count >= maxRetries are exhausted
func (q *Queue) GetStats(ctx context.Context, maxRetries int) (*Stats, error) {
	var stats Stats
	err := q.db.GetContext(ctx, &stats, q.db.Rebind(`
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN retry_count < ? THEN 1 ELSE 0 END), 0) AS retryable,
			COALESCE(SUM(CASE WHEN retry_count >= ? THEN 1 ELSE 0 END), 0) AS exhausted
		FROM dead_letter_queue`), maxRetries, maxRetries)
	if err != nil {
		return nil, errors.StoreError(err, "failed to get DLQ stats")
	}
	return &stats, nil
}

func (q *Queue) decode(entries []Entry) []Entry {
	for i := range entries {
		e := &entries[i]
		e.Metadata = make(map[string]interface{})
		if e.RawMetadata != "" {
			if err := json.Unmarshal([]byte(e.RawMetadata), &e.Metadata); err != nil {
				q.logger.WithFields(logrus.Fields{"domain": e.Domain, "error": err}).Warn("failed to unmarshal metadata")
			}
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, e.RawCreatedAt)
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, e.RawUpdatedAt)
	}
	return entries
}

// String returns a one-line summary of the entry
func (e Entry) String() string {
	return fmt.Sprintf("%s %s/%s [%s] retries=%d: %s", e.RunID, e.Repository, e.Domain, e.UpdatedAt.Format(time.RFC3339), e.RetryCount, e.ErrorMessage)
}
