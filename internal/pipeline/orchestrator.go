// Package pipeline runs the extraction chain of each target: the domain stages in
// dependency order with retries, many targets concurrently, on a schedule, plus the
// asynchronous artifact workers.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/devgraph/internal/dlq"
	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/extract"
	"github.com/rohankatakam/devgraph/internal/models"
)

// FailureReporter records stages that exhausted their retries
type FailureReporter interface {
	Enqueue(ctx context.Context, f dlq.Failure) error
	MarkResolved(ctx context.Context, organization, repository, domain string) error
}

// Options configures an Orchestrator
type Options struct {
	Retry               RetryPolicy
	MaxConcurrentChains int
}

// Orchestrator runs the extractors of every domain as one chain per target
type Orchestrator struct {
	extractors []extract.Extractor
	failures   FailureReporter
	retry      RetryPolicy
	maxChains  int
	logger     logrus.FieldLogger
}

// NewOrchestrator creates an orchestrator over extractors, which must be in chain
// order. failures may be nil.
func NewOrchestrator(extractors []extract.Extractor, failures FailureReporter, opts Options, logger logrus.FieldLogger) (*Orchestrator, error) {
	if len(extractors) == 0 {
		return nil, errors.ConfigError("orchestrator needs at least one extractor")
	}
	if opts.MaxConcurrentChains < 1 {
		opts.MaxConcurrentChains = 1
	}
	return &Orchestrator{
		extractors: extractors,
		failures:   failures,
		retry:      opts.Retry,
		maxChains:  opts.MaxConcurrentChains,
		logger:     logger.WithField("component", "orchestrator"),
	}, nil
}

// StageResult is the outcome of one domain stage of a chain
type StageResult struct {
	Domain   string
	Attempts int
	Report   *extract.RunReport
	Err      error
}

// ChainReport is the outcome of one chain run
type ChainReport struct {
	RunID      string
	Target     models.Target
	StartedAt  time.Time
	FinishedAt time.Time
	Stages     []StageResult
	// HaltedAt is the domain whose failure stopped the chain, or ""
	HaltedAt string
	Err      error
}

// Succeeded reports whether every stage completed
func (r *ChainReport) Succeeded() bool {
	return r.Err == nil
}

// RunOrganization runs the chain of target. Each stage is retried per the retry
// policy; a stage that still fails halts the chain, is reported to the failure
// reporter and returned. Cancellation is honoured between stages.
func (o *Orchestrator) RunOrganization(ctx context.Context, target models.Target) (*ChainReport, error) {
	report := &ChainReport{
		RunID:     uuid.NewString(),
		Target:    target,
		StartedAt: time.Now().UTC(),
	}
	logger := o.logger.WithFields(logrus.Fields{
		"organization": target.Organization,
		"repository":   target.Repository,
		"chain_id":     report.RunID,
	})
	logger.Info("chain started")

	finish := func(err error) (*ChainReport, error) {
		report.Err = err
		report.FinishedAt = time.Now().UTC()
		return report, err
	}

	for _, e := range o.extractors {
		domain := e.Domain()
		if err := ctx.Err(); err != nil {
			report.HaltedAt = domain
			logger.WithField("domain", domain).Warn("chain cancelled before stage")
			return finish(errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityMedium, "chain cancelled"))
		}

		stage := StageResult{Domain: domain}
		stageLogger := logger.WithField("domain", domain)
		attempts, err := o.retry.Do(ctx, stageLogger, func(ctx context.Context, attempt int) error {
			run, err := e.Run(ctx, target)
			stage.Report = run
			return err
		})
		stage.Attempts = attempts
		stage.Err = err
		report.Stages = append(report.Stages, stage)

		if err != nil {
			report.HaltedAt = domain
			stageLogger.WithError(err).WithField("attempts", attempts).Error("stage exhausted, halting chain")
			o.reportFailure(ctx, report, stage, stageLogger)
			return finish(fmt.Errorf("chain %s halted at %s: %w", target, domain, err))
		}
		o.resolveFailure(ctx, target, domain, stageLogger)
	}

	report.FinishedAt = time.Now().UTC()
	logger.WithField("duration", report.FinishedAt.Sub(report.StartedAt).String()).Info("chain finished")
	return report, nil
}

func (o *Orchestrator) reportFailure(ctx context.Context, report *ChainReport, stage StageResult, logger logrus.FieldLogger) {
	if o.failures == nil {
		return
	}
	metadata := map[string]interface{}{"chain_id": report.RunID}
	runID := report.RunID
	if stage.Report != nil {
		runID = stage.Report.RunID
		if failed := stage.Report.FailedIn(); failed != "" {
			metadata["state"] = string(failed)
		}
	}
	err := o.failures.Enqueue(context.WithoutCancel(ctx), dlq.Failure{
		RunID:        runID,
		Organization: report.Target.Organization,
		Repository:   report.Target.Repository,
		Domain:       stage.Domain,
		Attempts:     stage.Attempts,
		Err:          stage.Err,
		Metadata:     metadata,
	})
	if err != nil {
		logger.WithError(err).Error("failed to record stage failure")
	}
}

func (o *Orchestrator) resolveFailure(ctx context.Context, target models.Target, domain string, logger logrus.FieldLogger) {
	if o.failures == nil {
		return
	}
	if err := o.failures.MarkResolved(ctx, target.Organization, target.Repository, domain); err != nil {
		logger.WithError(err).Warn("failed to clear resolved stage failure")
	}
}

// RunAll runs the chains of targets concurrently, at most MaxConcurrentChains at a
// time. A failing chain does not stop the others; the returned error joins every
// chain error.
func (o *Orchestrator) RunAll(ctx context.Context, targets []models.Target) ([]*ChainReport, error) {
	reports := make([]*ChainReport, len(targets))
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(o.maxChains)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			report, err := o.RunOrganization(ctx, target)
			reports[i] = report
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	o.logger.WithFields(logrus.Fields{
		"chains": len(targets),
		"failed": len(errs),
	}).Info("all chains finished")
	return reports, stderrors.Join(errs...)
}
