package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/devgraph/internal/graph"
	"github.com/rohankatakam/devgraph/internal/models"
)

func setupTracker(t *testing.T) *Tracker {
	t.Helper()
	logger, _ := test.NewNullLogger()
	sink, err := graph.NewRelationalSink(context.Background(), "sqlite3", ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close(context.Background()) })
	return NewTracker(sink, logger)
}

var (
	api = models.Target{Organization: "acme", Repository: "acme/api"}
	web = models.Target{Organization: "acme", Repository: "acme/web"}
)

func TestTracker_SinceWithoutCheckpoint(t *testing.T) {
	tracker := setupTracker(t)

	since, err := tracker.Since(context.Background(), api, models.DomainCode)
	require.NoError(t, err)
	assert.Nil(t, since)
}

func TestTracker_Advance(t *testing.T) {
	ctx := context.Background()
	tracker := setupTracker(t)

	start := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, tracker.Advance(ctx, api, models.DomainCode, start))

	since, err := tracker.Since(ctx, api, models.DomainCode)
	require.NoError(t, err)
	require.NotNil(t, since)
	assert.True(t, start.Equal(*since))

	// Domains are tracked independently
	other, err := tracker.Since(ctx, api, models.DomainSocial)
	require.NoError(t, err)
	assert.Nil(t, other)

	later := start.Add(time.Hour)
	require.NoError(t, tracker.Advance(ctx, api, models.DomainCode, later))
	cp, err := tracker.Get(ctx, api, models.DomainCode)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, later.Equal(cp.LastRetrieveDate))
	assert.Equal(t, "acme/api", cp.Repository)
}

func TestTracker_RepositoriesOfOneOrganization(t *testing.T) {
	ctx := context.Background()
	tracker := setupTracker(t)

	start := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, tracker.Advance(ctx, api, models.DomainCode, start))

	// A sibling repository still gets its full history on its first run
	since, err := tracker.Since(ctx, web, models.DomainCode)
	require.NoError(t, err)
	assert.Nil(t, since)

	require.NoError(t, tracker.Advance(ctx, web, models.DomainCode, start.Add(time.Hour)))
	cp, err := tracker.Get(ctx, api, models.DomainCode)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, start.Equal(cp.LastRetrieveDate))
}

func TestTracker_Now(t *testing.T) {
	tracker := setupTracker(t)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	tracker.now = func() time.Time { return fixed }

	assert.Equal(t, time.UTC, tracker.Now().Location())
	assert.True(t, fixed.Equal(tracker.Now()))
}
