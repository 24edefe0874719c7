package dlq

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/devgraph/internal/errors"
)

func setupTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	logger, _ := test.NewNullLogger()
	q, err := NewQueue(context.Background(), db, logger)
	require.NoError(t, err)
	return q
}

func TestEnqueue_BumpsRetryCount(t *testing.T) {
	ctx := context.Background()
	q := setupTestQueue(t)

	failure := Failure{
		RunID:        "run-1",
		Organization: "acme",
		Repository:   "acme/api",
		Domain:       "cmpo",
		Attempts:     3,
		Err:          errors.StoreError(stderrors.New("connection refused"), "upsert node"),
		Metadata:     map[string]interface{}{"stage": "linking"},
	}
	require.NoError(t, q.Enqueue(ctx, failure))

	failure.RunID = "run-2"
	failure.Err = errors.ConnectorError(stderrors.New("timeout"), "read commits")
	require.NoError(t, q.Enqueue(ctx, failure))

	entries, err := q.GetRecentFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "run-2", e.RunID)
	assert.Equal(t, 1, e.RetryCount)
	assert.Equal(t, 3, e.Attempts)
	assert.Contains(t, e.ErrorMessage, "read commits")
	assert.Contains(t, e.ErrorDetail, "[CONNECTOR]")
	assert.Equal(t, "linking", e.Metadata["stage"])
	assert.False(t, e.CreatedAt.IsZero())
	assert.Contains(t, e.String(), "acme/api/cmpo")
}

func TestEnqueue_Validation(t *testing.T) {
	q := setupTestQueue(t)

	err := q.Enqueue(context.Background(), Failure{Organization: "acme", Domain: "eo"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	// A plain error gets a generated run id
	require.NoError(t, q.Enqueue(context.Background(), Failure{Organization: "acme", Domain: "eo", Err: stderrors.New("boom")}))
	entries, err := q.GetRecentFailures(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].RunID)
	assert.Equal(t, "boom", entries[0].ErrorDetail)
}

func TestPendingRetriesAndStats(t *testing.T) {
	ctx := context.Background()
	q := setupTestQueue(t)

	for _, domain := range []string{"eo", "sro"} {
		require.NoError(t, q.Enqueue(ctx, Failure{Organization: "acme", Repository: "acme/api", Domain: domain, Err: stderrors.New("down")}))
	}
	// sro failed three times in total
	for i := 0; i < 2; i++ {
		require.NoError(t, q.Enqueue(ctx, Failure{Organization: "acme", Repository: "acme/api", Domain: "sro", Err: stderrors.New("down")}))
	}

	pending, err := q.GetPendingRetries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "eo", pending[0].Domain)

	stats, err := q.GetStats(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.RetryableEntries)
	assert.Equal(t, 1, stats.ExhaustedEntries)
}

func TestMarkResolved(t *testing.T) {
	ctx := context.Background()
	q := setupTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, Failure{Organization: "acme", Repository: "acme/api", Domain: "smpo", Err: stderrors.New("down")}))
	require.NoError(t, q.MarkResolved(ctx, "acme", "acme/api", "smpo"))
	// Resolving an absent entry is a no-op
	require.NoError(t, q.MarkResolved(ctx, "acme", "acme/api", "smpo"))

	stats, err := q.GetStats(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)
}
