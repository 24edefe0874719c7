// Package extract loads one domain's connector streams into the graph.
//
// Every extractor runs the same staged flow: fetch the domain's streams from the
// connector, transform each record to flat properties, link records into nodes and
// relationships, then advance the domain checkpoint. Per-record problems (a missing
// link target, a malformed field) skip that record or link; store failures abort the
// stage so the orchestrator can retry it.
package extract

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/checkpoint"
	"github.com/rohankatakam/devgraph/internal/connector"
	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/graph"
	"github.com/rohankatakam/devgraph/internal/models"
	"github.com/rohankatakam/devgraph/internal/resolver"
	"github.com/rohankatakam/devgraph/internal/staging"
	"github.com/rohankatakam/devgraph/internal/transform"
)

// Extractor loads the streams of one domain for one target
type Extractor interface {
	Domain() string
	Streams() []string
	Run(ctx context.Context, target models.Target) (*RunReport, error)
}

// Stager keeps a copy of the raw records read by a stage
type Stager interface {
	Stage(ctx context.Context, run staging.Run, records map[string][]map[string]any) (staging.Counts, error)
	MarkProcessed(ctx context.Context, runID, domain string) error
}

// Deps are the collaborators shared by all extractors
type Deps struct {
	Sink        graph.Sink
	Connectors  connector.Factory
	Checkpoints *checkpoint.Tracker
	Logger      logrus.FieldLogger

	// Stager is optional
	Stager Stager
	// Artifacts is optional; when set the code extractor enqueues one task per new commit
	Artifacts ArtifactQueue
	// Replay marks a run over previously staged records. It links as usual but leaves
	// the checkpoint where it is, so upstream changes since the staged run are still read.
	Replay bool
}

func (d Deps) validate() error {
	if d.Sink == nil || d.Connectors == nil || d.Checkpoints == nil || d.Logger == nil {
		return errors.ConfigError("extractor needs a sink, a connector factory, a checkpoint tracker and a logger")
	}
	return nil
}

// linkFunc writes one domain's records
type linkFunc func(ctx context.Context, rc *runContext) error

// base implements the staged run shared by every domain
type base struct {
	domain  string
	streams []string
	deps    Deps
	link    linkFunc
}

func (b *base) Domain() string {
	return b.domain
}

func (b *base) Streams() []string {
	return append([]string(nil), b.streams...)
}

// Run executes Fetching -> Transforming -> Linking -> Checkpointing -> Done.
// The checkpoint is advanced only when every step succeeded, to the time the run
// started, so records changed while the run was in flight are read again next time.
func (b *base) Run(ctx context.Context, target models.Target) (*RunReport, error) {
	report := newReport(uuid.NewString(), target, b.domain)
	logger := b.deps.Logger.WithFields(logrus.Fields{
		"organization": target.Organization,
		"repository":   target.Repository,
		"domain":       b.domain,
		"run_id":       report.RunID,
	})
	fail := func(err error) (*RunReport, error) {
		report.fail(err)
		logger.WithError(err).WithField("state", report.failedIn).Error("stage failed")
		return report, err
	}

	startedAt := b.deps.Checkpoints.Now()
	report.StartedAt = startedAt

	// Fetching
	report.transition(StateFetching, logger)
	since, err := b.deps.Checkpoints.Since(ctx, target, b.domain)
	if err != nil {
		return fail(err)
	}
	report.Since = since

	raw, err := b.fetch(ctx, target, since)
	if err != nil {
		return fail(err)
	}
	for stream, records := range raw {
		report.Records[stream] = len(records)
	}
	b.stage(ctx, report, target, raw, logger)

	// Transforming
	report.transition(StateTransforming, logger)
	batches := make(map[string][]record, len(raw))
	for stream, records := range raw {
		batch := make([]record, 0, len(records))
		for _, r := range records {
			batch = append(batch, record{raw: r, props: transform.Properties(transform.Transform(r))})
		}
		batches[stream] = batch
	}

	// Linking
	report.transition(StateLinking, logger)
	res := resolver.New(b.deps.Sink, logger)
	org, err := res.Organization(ctx, target.Organization)
	if err != nil {
		return fail(err)
	}
	rc := &runContext{
		target:    target,
		org:       org,
		records:   batches,
		sink:      b.deps.Sink,
		resolver:  res,
		artifacts: b.deps.Artifacts,
		report:    report,
		logger:    logger,
	}
	if err := b.link(ctx, rc); err != nil {
		return fail(err)
	}

	// Checkpointing
	report.transition(StateCheckpointing, logger)
	if b.deps.Replay {
		logger.Info("replay, checkpoint left unchanged")
	} else if err := b.deps.Checkpoints.Advance(ctx, target, b.domain, startedAt); err != nil {
		return fail(err)
	}
	if b.deps.Stager != nil {
		if err := b.deps.Stager.MarkProcessed(ctx, report.RunID, b.domain); err != nil {
			logger.WithError(err).Warn("failed to mark staged records processed")
		}
	}

	report.FinishedAt = time.Now().UTC()
	report.transition(StateDone, logger)
	logger.WithFields(report.Fields()).Info("stage finished")
	return report, nil
}

func (b *base) fetch(ctx context.Context, target models.Target, since *time.Time) (map[string][]connector.Record, error) {
	conn, err := b.deps.Connectors(target)
	if err != nil {
		return nil, err
	}
	if err := conn.SelectStreams(b.streams); err != nil {
		return nil, err
	}
	raw, err := conn.Read(ctx, since)
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			return nil, err
		}
		return nil, errors.ConnectorErrorf(err, "read %s streams", b.domain)
	}
	return raw, nil
}

// stage copies the raw records to the staging cache. The cache is auxiliary, so a
// failure is logged and the run goes on.
func (b *base) stage(ctx context.Context, report *RunReport, target models.Target, raw map[string][]connector.Record, logger logrus.FieldLogger) {
	if b.deps.Stager == nil {
		return
	}
	run := staging.Run{ID: report.RunID, Target: target, Domain: b.domain}
	if _, err := b.deps.Stager.Stage(ctx, run, raw); err != nil {
		logger.WithError(err).Warn("failed to stage raw records")
	}
}

// All returns the extractors of every domain in chain order
func All(deps Deps) ([]Extractor, error) {
	extractors := make([]Extractor, 0, len(models.ChainOrder))
	for _, domain := range models.ChainOrder {
		e, err := ForDomain(domain, deps)
		if err != nil {
			return nil, err
		}
		extractors = append(extractors, e)
	}
	return extractors, nil
}

// ForDomain returns the extractor of one domain
func ForDomain(domain string, deps Deps) (Extractor, error) {
	switch domain {
	case models.DomainOrganizational:
		return NewOrganizational(deps)
	case models.DomainCode:
		return NewCode(deps)
	case models.DomainSocial:
		return NewSocial(deps)
	case models.DomainMilestone:
		return NewMilestone(deps)
	default:
		return nil, errors.ConfigErrorf("unknown domain %q", domain)
	}
}
