package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/devgraph/internal/config"
	"github.com/rohankatakam/devgraph/internal/connector"
)

var checkCmd = &cobra.Command{
	Use:   "check [owner/repo...]",
	Short: "Validate configuration and GitHub access",
	Long: `Validate the configuration and check that the GitHub connector of every target
can authenticate and read its streams.`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	result := cfg.Validate(config.ValidationContextCheck)
	for _, w := range result.Warnings {
		fmt.Printf("⚠️  %s\n", w)
	}
	if err := result.Err(); err != nil {
		return err
	}
	fmt.Printf("✓ Configuration valid (token source: %s)\n", config.NewKeyringManager(logger).TokenSource(cfg))

	targets, err := resolveTargets(args, "")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	factory := connector.GitHubFactory(connector.ClientOptions{
		RateLimit: cfg.GitHub.RateLimit,
		PerPage:   cfg.GitHub.PerPage,
		BaseURL:   cfg.GitHub.BaseURL,
	}, logger)

	failed := 0
	for _, target := range targets {
		conn, err := factory(target)
		if err == nil {
			err = conn.Check(ctx)
		}
		if err != nil {
			failed++
			fmt.Printf("✗ %s: %v\n", target, err)
			continue
		}
		fmt.Printf("✓ %s\n", target)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d targets failed the connector check", failed, len(targets))
	}
	return nil
}
