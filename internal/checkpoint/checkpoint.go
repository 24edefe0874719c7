// Package checkpoint tracks the last successful extraction per target and domain.
package checkpoint

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/graph"
	"github.com/rohankatakam/devgraph/internal/models"
)

// Tracker reads and advances checkpoints through the sink
type Tracker struct {
	sink   graph.Sink
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewTracker creates a tracker over sink
func NewTracker(sink graph.Sink, logger logrus.FieldLogger) *Tracker {
	return &Tracker{
		sink:   sink,
		logger: logger.WithField("component", "checkpoint"),
		now:    time.Now,
	}
}

// Since returns the start of the incremental window for (target, domain):
// the last successful run's timestamp, or nil for a full extraction.
func (t *Tracker) Since(ctx context.Context, target models.Target, domain string) (*time.Time, error) {
	cp, err := t.sink.GetConfiguration(ctx, target, domain)
	if err != nil {
		return nil, err
	}
	if cp == nil || cp.LastRetrieveDate.IsZero() {
		t.logger.WithFields(logrus.Fields{"target": target.String(), "domain": domain}).
			Info("no checkpoint, running full extraction")
		return nil, nil
	}
	since := cp.LastRetrieveDate
	return &since, nil
}

// Get returns the stored checkpoint, or nil
func (t *Tracker) Get(ctx context.Context, target models.Target, domain string) (*models.Checkpoint, error) {
	return t.sink.GetConfiguration(ctx, target, domain)
}

// Advance records a successful run that started at startedAt.
// It must be called only after every write of that run has completed.
func (t *Tracker) Advance(ctx context.Context, target models.Target, domain string, startedAt time.Time) error {
	if err := t.sink.SaveConfiguration(ctx, target, domain, startedAt); err != nil {
		return err
	}
	t.logger.WithFields(logrus.Fields{
		"target":             target.String(),
		"domain":             domain,
		"last_retrieve_date": startedAt.UTC().Format(time.RFC3339),
	}).Info("checkpoint advanced")
	return nil
}

// Now returns the tracker's clock, used as the stage start time
func (t *Tracker) Now() time.Time {
	return t.now().UTC()
}
