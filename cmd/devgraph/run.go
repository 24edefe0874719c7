package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/devgraph/internal/config"
	"github.com/rohankatakam/devgraph/internal/connector"
	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/extract"
	"github.com/rohankatakam/devgraph/internal/models"
	"github.com/rohankatakam/devgraph/internal/pipeline"
)

var (
	runOrganization string
	runDomain       string
	runRetryFailed  bool
	runArtifacts    bool
	runReplay       string
	runRetention    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run [owner/repo...]",
	Short: "Run the extraction chain once",
	Long: `Run the extraction chain (eo -> cmpo -> sro -> smpo) for the given repositories,
or for every target of the targets file when none are given.

Each stage is retried with exponential backoff. A stage that still fails halts its
chain and is recorded in the dead letter queue; --retry-failed re-runs those chains.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runOrganization, "org", "", "organization of the repositories (default: repository owner)")
	runCmd.Flags().StringVar(&runDomain, "domain", "", "run a single domain stage (eo, cmpo, sro, smpo)")
	runCmd.Flags().BoolVar(&runRetryFailed, "retry-failed", false, "re-run the chains recorded in the dead letter queue")
	runCmd.Flags().BoolVar(&runArtifacts, "artifacts", false, "load the changed files of new commits")
	runCmd.Flags().StringVar(&runReplay, "replay", "", "re-link the records staged by a previous run id instead of reading GitHub (needs --domain)")
	runCmd.Flags().DurationVar(&runRetention, "staging-retention", 7*24*time.Hour, "purge processed staged records older than this (0 keeps them)")
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(config.ValidationContextRun).Err(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	targets, err := runTargets(ctx, a, args)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Println("Nothing to run")
		return nil
	}

	var pool *pipeline.ArtifactWorkerPool
	var queue extract.ArtifactQueue
	if runArtifacts {
		processor := extract.NewArtifactProcessor(a.sink, a.connectors, logger)
		policy := retryPolicy(cfg.Pipeline)
		policy.MaxAttempts = cfg.Pipeline.ArtifactMaxAttempts
		pool = pipeline.NewArtifactWorkerPool(processor, cfg.Pipeline.ArtifactWorkers, cfg.Pipeline.ArtifactQueueSize, policy, logger)
		pool.Start(ctx)
		queue = pool
	}

	deps := a.deps(queue)
	if runReplay != "" {
		if deps.Connectors, err = replayConnectors(ctx, a, targets); err != nil {
			return err
		}
		deps.Stager = nil
		deps.Replay = true
	}
	extractors, err := chainExtractors(deps)
	if err != nil {
		return err
	}
	orchestrator, err := pipeline.NewOrchestrator(extractors, a.queue, pipeline.Options{
		Retry:               retryPolicy(cfg.Pipeline),
		MaxConcurrentChains: cfg.Pipeline.MaxConcurrentChains,
	}, logger)
	if err != nil {
		return err
	}

	reports, runErr := orchestrator.RunAll(ctx, targets)
	if pool != nil {
		pool.Close()
	}
	printChainReports(reports)

	if a.stager != nil && runRetention > 0 {
		purged, err := a.stager.Purge(context.WithoutCancel(ctx), time.Now().Add(-runRetention))
		if err != nil {
			logger.WithError(err).Warn("failed to purge staged records")
		} else if purged > 0 {
			logger.WithField("records", purged).Info("purged processed staged records")
		}
	}
	return runErr
}

// replayConnectors serves the records staged by run --replay from memory. Every
// staged record is replayed, whatever the domain checkpoint says.
func replayConnectors(ctx context.Context, a *app, targets []models.Target) (connector.Factory, error) {
	if a.stager == nil {
		return nil, errors.ConfigError("--replay needs a staging cache (staging.dsn)")
	}
	if runDomain == "" || len(targets) != 1 {
		return nil, errors.ConfigError("--replay needs --domain and exactly one repository")
	}
	e, err := extract.ForDomain(runDomain, a.deps(nil))
	if err != nil {
		return nil, err
	}

	data := make(map[string][]connector.Record, len(e.Streams()))
	for _, stream := range e.Streams() {
		records, err := a.stager.Load(ctx, runReplay, runDomain, stream)
		if err != nil {
			return nil, err
		}
		data[stream] = records
	}
	logger.WithFields(logrus.Fields{"run_id": runReplay, "domain": runDomain}).Info("replaying staged records")
	memory := connector.MemoryFactory(map[string]*connector.Memory{
		targets[0].Repository: connector.NewMemory(data),
	})
	return func(target models.Target) (connector.Connector, error) {
		conn, err := memory(target)
		if err != nil {
			return nil, err
		}
		return replayConnector{conn}, nil
	}, nil
}

// replayConnector reads every record regardless of the incremental start date
type replayConnector struct {
	connector.Connector
}

func (r replayConnector) Read(ctx context.Context, _ *time.Time) (map[string][]connector.Record, error) {
	return r.Connector.Read(ctx, nil)
}

// runTargets returns the command line targets, or the chains waiting in the dead
// letter queue with --retry-failed
func runTargets(ctx context.Context, a *app, args []string) ([]models.Target, error) {
	if !runRetryFailed {
		return resolveTargets(args, runOrganization)
	}
	entries, err := a.queue.GetPendingRetries(ctx, cfg.DLQ.MaxRetries)
	if err != nil {
		return nil, err
	}
	// Configured targets only supply per-repository tokens here
	configured, err := resolveTargets(args, runOrganization)
	if err != nil {
		logger.WithError(err).Debug("no configured targets, using the default token")
	}
	tokens := make(map[string]string, len(configured))
	for _, t := range configured {
		tokens[t.Repository] = t.Token
	}

	seen := map[string]bool{}
	var targets []models.Target
	for _, entry := range entries {
		if seen[entry.Repository] {
			continue
		}
		seen[entry.Repository] = true
		token, ok := tokens[entry.Repository]
		if !ok {
			token = cfg.GitHub.Token
		}
		logger.WithFields(logrus.Fields{
			"repository": entry.Repository,
			"domain":     entry.Domain,
			"retries":    entry.RetryCount,
		}).Info("retrying failed chain")
		targets = append(targets, models.Target{Organization: entry.Organization, Repository: entry.Repository, Token: token})
	}
	return targets, nil
}

// chainExtractors returns every domain in chain order, or the one named by --domain
func chainExtractors(deps extract.Deps) ([]extract.Extractor, error) {
	if runDomain == "" {
		return extract.All(deps)
	}
	e, err := extract.ForDomain(runDomain, deps)
	if err != nil {
		return nil, err
	}
	return []extract.Extractor{e}, nil
}

func printChainReports(reports []*pipeline.ChainReport) {
	for _, r := range reports {
		if r == nil {
			continue
		}
		status := "✓"
		if !r.Succeeded() {
			status = "✗"
		}
		fmt.Printf("%s %s (%s)\n", status, r.Target, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
		for _, stage := range r.Stages {
			if stage.Report == nil {
				continue
			}
			rep := stage.Report
			fmt.Printf("    %-5s attempts=%d nodes=%d relationships=%d skipped=%d placeholders=%d\n",
				stage.Domain, stage.Attempts, rep.Nodes, rep.Relationships, rep.Skipped, rep.Placeholders)
		}
		if r.Err != nil {
			fmt.Printf("    halted at %s: %v\n", r.HaltedAt, r.Err)
		}
	}
}
