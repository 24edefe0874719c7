package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/extract"
)

// flakyProcessor fails the first failures calls of each sha
type flakyProcessor struct {
	mu       sync.Mutex
	failures int
	calls    map[string]int
	err      error
}

func (p *flakyProcessor) Process(ctx context.Context, task extract.ArtifactTask) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[task.SHA]++
	if p.calls[task.SHA] <= p.failures {
		return 0, p.err
	}
	return 2, nil
}

func TestArtifactWorkerPool_ProcessesWithRetry(t *testing.T) {
	logger, _ := test.NewNullLogger()
	processor := &flakyProcessor{
		failures: 1,
		calls:    map[string]int{},
		err:      errors.New(errors.ErrorTypeConnector, errors.SeverityMedium, "rate limited"),
	}
	pool := NewArtifactWorkerPool(processor, 2, 10, fastRetry, logger)
	pool.Start(context.Background())

	for _, sha := range []string{"a", "b", "c"} {
		require.NoError(t, pool.Enqueue(context.Background(), extract.ArtifactTask{Target: target, SHA: sha}))
	}
	pool.Close()

	stats := pool.Stats()
	assert.Equal(t, int64(3), stats.Processed)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, int64(6), stats.Artifacts)
	assert.Equal(t, map[string]int{"a": 2, "b": 2, "c": 2}, processor.calls)

	err := pool.Enqueue(context.Background(), extract.ArtifactTask{Target: target, SHA: "d"})
	assert.Error(t, err, "closed pool rejects tasks")
}

func TestArtifactWorkerPool_PermanentFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	processor := &flakyProcessor{
		failures: 10,
		calls:    map[string]int{},
		err:      errors.MissingReferenceErrorf("commit not found"),
	}
	pool := NewArtifactWorkerPool(processor, 1, 10, fastRetry, logger)
	pool.Start(context.Background())
	require.NoError(t, pool.Enqueue(context.Background(), extract.ArtifactTask{Target: target, SHA: "a"}))
	pool.Close()

	assert.Equal(t, int64(1), pool.Stats().Failed)
	assert.Equal(t, 1, processor.calls["a"], "missing commits are not retried")
}

func TestArtifactWorkerPool_QueueFull(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pool := NewArtifactWorkerPool(&flakyProcessor{calls: map[string]int{}}, 1, 1, fastRetry, logger)

	require.NoError(t, pool.Enqueue(context.Background(), extract.ArtifactTask{Target: target, SHA: "a"}))
	err := pool.Enqueue(context.Background(), extract.ArtifactTask{Target: target, SHA: "b"})
	assert.Error(t, err)

	// Closing a pool that never started does not block
	pool.Close()
}
