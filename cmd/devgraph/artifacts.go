package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/devgraph/internal/config"
	"github.com/rohankatakam/devgraph/internal/extract"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts owner/repo sha...",
	Short: "Load the changed files of specific commits",
	Long: `Load the SoftwareArtifact nodes of already extracted commits. The commits must
have been written by a previous run of the cmpo stage.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runArtifactsCmd,
}

func runArtifactsCmd(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(config.ValidationContextRun).Err(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	targets, err := resolveTargets(args[:1], "")
	if err != nil {
		return err
	}
	target := targets[0]

	processor := extract.NewArtifactProcessor(a.sink, a.connectors, logger)
	policy := retryPolicy(cfg.Pipeline)
	policy.MaxAttempts = cfg.Pipeline.ArtifactMaxAttempts

	failed := 0
	for _, sha := range args[1:] {
		var written int
		_, err := policy.Do(ctx, logger.WithField("sha", sha), func(ctx context.Context, attempt int) error {
			n, err := processor.Process(ctx, extract.ArtifactTask{Target: target, SHA: sha})
			written = n
			return err
		})
		if err != nil {
			failed++
			fmt.Printf("✗ %s: %v\n", sha, err)
			continue
		}
		fmt.Printf("✓ %s: %d artifact(s)\n", sha, written)
	}
	if failed > 0 {
		return fmt.Errorf("%d commit(s) failed", failed)
	}
	return nil
}
