package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/models"
)

// Run statuses recorded in the registry
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// ChainRunner runs the chain of one target
type ChainRunner interface {
	RunOrganization(ctx context.Context, target models.Target) (*ChainReport, error)
}

// Scheduler runs every registered chain periodically. Init must be called once at
// process start before Start.
type Scheduler struct {
	runner   ChainRunner
	registry *ScheduleRegistry
	spec     string
	logger   logrus.FieldLogger

	cron    *cron.Cron
	mu      sync.Mutex
	targets map[string]models.Target
	running map[string]bool
}

// NewScheduler creates a scheduler registering new schedules with spec, a cron
// expression with a seconds field
func NewScheduler(runner ChainRunner, registry *ScheduleRegistry, spec string, logger logrus.FieldLogger) (*Scheduler, error) {
	if _, err := cron.Parse(spec); err != nil {
		return nil, errors.ConfigErrorf("invalid schedule %q: %v", spec, err)
	}
	return &Scheduler{
		runner:   runner,
		registry: registry,
		spec:     spec,
		logger:   logger.WithField("component", "scheduler"),
		cron:     cron.NewWithLocation(time.UTC),
		targets:  map[string]models.Target{},
		running:  map[string]bool{},
	}, nil
}

// Init registers one schedule per target, keeping any schedule already registered
// under the same name. It returns the number of schedules created.
func (s *Scheduler) Init(targets []models.Target) (int, error) {
	created := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, target := range targets {
		name := ScheduleName(target)
		ok, err := s.registry.Register(Schedule{
			Name:         name,
			Organization: target.Organization,
			Repository:   target.Repository,
			Spec:         s.spec,
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
		s.targets[name] = target
	}
	s.logger.WithFields(logrus.Fields{"targets": len(targets), "created": created}).Info("schedules initialized")
	return created, nil
}

// Start adds a cron entry for every registered schedule with a known target and
// starts the cron loop. Runs use ctx, so cancelling it stops runs in progress
// between stages.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.registry.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, sched := range schedules {
		target, ok := s.targets[sched.Name]
		if !ok {
			s.logger.WithField("schedule", sched.Name).Warn("registered schedule has no configured target, skipping")
			continue
		}
		name := sched.Name
		if err := s.cron.AddFunc(sched.Spec, func() { s.Trigger(ctx, name, target) }); err != nil {
			return errors.ConfigErrorf("invalid spec %q for %s: %v", sched.Spec, name, err)
		}
		added++
	}
	if added == 0 {
		return errors.ConfigError("no schedules to run; call Init with the configured targets first")
	}
	s.cron.Start()
	s.logger.WithField("schedules", added).Info("scheduler started")
	return nil
}

// Stop stops the cron loop. Runs already triggered go on until their context is done.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}

// Entries returns the number of active cron entries
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Trigger runs the chain of one schedule now. A run is skipped while the previous
// run of the same schedule is still going.
func (s *Scheduler) Trigger(ctx context.Context, name string, target models.Target) string {
	logger := s.logger.WithField("schedule", name)

	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		logger.Warn("previous run still in progress, skipping")
		return StatusSkipped
	}
	s.running[name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	startedAt := time.Now()
	status := StatusSucceeded
	if _, err := s.runner.RunOrganization(ctx, target); err != nil {
		status = StatusFailed
		logger.WithError(err).Error("scheduled run failed")
	}
	if err := s.registry.RecordRun(name, startedAt, status); err != nil {
		logger.WithError(err).Warn("failed to record scheduled run")
	}
	return status
}
