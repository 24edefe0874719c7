package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/devgraph/internal/config"
	"github.com/rohankatakam/devgraph/internal/extract"
	"github.com/rohankatakam/devgraph/internal/pipeline"
)

var scheduleList bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the extraction chains periodically",
	Long: `Register one periodic schedule per target of the targets file and run the chains
on the configured cron spec (default: daily at 02:00 UTC) until interrupted.

Schedules are kept in a registry file; registering a target that already has a
schedule leaves it unchanged.`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleList, "list", false, "list registered schedules and exit")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(config.ValidationContextSchedule).Err(); err != nil {
		return err
	}
	if err := ensureDir("sqlite3", cfg.Schedule.RegistryPath); err != nil {
		return err
	}
	registry, err := pipeline.OpenScheduleRegistry(cfg.Schedule.RegistryPath, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	if scheduleList {
		return printSchedules(registry)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	targets, err := resolveTargets(args, "")
	if err != nil {
		return err
	}
	extractors, err := extract.All(a.deps(nil))
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

	scheduler, err := pipeline.NewScheduler(orchestrator, registry, cfg.Schedule.Spec, logger)
	if err != nil {
		return err
	}
	if _, err := scheduler.Init(targets); err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Scheduled %d chain(s); press Ctrl+C to stop\n", scheduler.Entries())

	<-ctx.Done()
	scheduler.Stop()
	return nil
}

func printSchedules(registry *pipeline.ScheduleRegistry) error {
	schedules, err := registry.List()
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		fmt.Println("No schedules registered")
		return nil
	}
	for _, s := range schedules {
		last := "never"
		if s.LastRunAt != nil {
			last = fmt.Sprintf("%s (%s)", s.LastRunAt.Format("2006-01-02 15:04:05"), s.LastStatus)
		}
		fmt.Printf("%-40s %-16s last run: %s\n", s.Name, s.Spec, last)
	}
	return nil
}
