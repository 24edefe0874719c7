package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/extract"
)

// ArtifactProcessor loads the artifacts of one commit
type ArtifactProcessor interface {
	Process(ctx context.Context, task extract.ArtifactTask) (int, error)
}

var _ ArtifactProcessor = (*extract.ArtifactProcessor)(nil)

// ArtifactStats counts the pool's outcomes
type ArtifactStats struct {
	Processed int64
	Failed    int64
	Artifacts int64
}

// ArtifactWorkerPool processes artifact tasks on a bounded number of workers.
// Each task is retried on its own; a failed task is logged and dropped.
type ArtifactWorkerPool struct {
	processor ArtifactProcessor
	retry     RetryPolicy
	workers   int64
	logger    logrus.FieldLogger

	tasks  chan extract.ArtifactTask
	mu     sync.RWMutex
	closed bool
	start  sync.Once
	done   chan struct{}

	processed atomic.Int64
	failed    atomic.Int64
	artifacts atomic.Int64
}

// NewArtifactWorkerPool creates a pool of workers reading from a queue of queueSize tasks
func NewArtifactWorkerPool(processor ArtifactProcessor, workers, queueSize int, retry RetryPolicy, logger logrus.FieldLogger) *ArtifactWorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &ArtifactWorkerPool{
		processor: processor,
		retry:     retry,
		workers:   int64(workers),
		logger:    logger.WithField("component", "artifact_pool"),
		tasks:     make(chan extract.ArtifactTask, queueSize),
		done:      make(chan struct{}),
	}
}

// Enqueue adds a task without blocking. It fails when the queue is full or closed.
func (p *ArtifactWorkerPool) Enqueue(ctx context.Context, task extract.ArtifactTask) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.InternalErrorf("artifact queue closed")
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return errors.InternalErrorf("artifact queue full (%d tasks)", cap(p.tasks))
	}
}

// Start dispatches queued tasks until Close is called and the queue is drained, or
// ctx is done.
func (p *ArtifactWorkerPool) Start(ctx context.Context) {
	p.start.Do(func() { p.dispatch(ctx) })
}

func (p *ArtifactWorkerPool) dispatch(ctx context.Context) {
	sem := semaphore.NewWeighted(p.workers)
	go func() {
		defer close(p.done)
		var wg sync.WaitGroup
		defer wg.Wait()
		for task := range p.tasks {
			if err := sem.Acquire(ctx, 1); err != nil {
				p.logger.WithError(err).Warn("artifact pool stopped before queue drained")
				return
			}
			wg.Add(1)
			go func(task extract.ArtifactTask) {
				defer wg.Done()
				defer sem.Release(1)
				p.process(ctx, task)
			}(task)
		}
	}()
	p.logger.WithField("workers", p.workers).Debug("artifact pool started")
}

func (p *ArtifactWorkerPool) process(ctx context.Context, task extract.ArtifactTask) {
	logger := p.logger.WithFields(logrus.Fields{
		"repository": task.Target.Repository,
		"sha":        task.SHA,
	})
	var written int
	attempts, err := p.retry.Do(ctx, logger, func(ctx context.Context, attempt int) error {
		n, err := p.processor.Process(ctx, task)
		written = n
		return err
	})
	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
		logger.WithError(err).WithField("attempts", attempts).Error("artifact task failed")
		return
	}
	p.artifacts.Add(int64(written))
}

// Close stops accepting tasks and waits for the queued ones to finish
func (p *ArtifactWorkerPool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	// A pool never started has nothing to wait for
	p.start.Do(func() { close(p.done) })
	<-p.done
	stats := p.Stats()
	p.logger.WithFields(logrus.Fields{
		"processed": stats.Processed,
		"failed":    stats.Failed,
		"artifacts": stats.Artifacts,
	}).Info("artifact pool drained")
}

// Stats returns the pool's counters
func (p *ArtifactWorkerPool) Stats() ArtifactStats {
	return ArtifactStats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Artifacts: p.artifacts.Load(),
	}
}
