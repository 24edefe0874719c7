package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/devgraph/internal/config"
	"github.com/rohankatakam/devgraph/internal/graph"
	"github.com/rohankatakam/devgraph/internal/models"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph, checkpoint and dead letter queue statistics",
	RunE:  runStats,
}

var relationshipTypes = []string{
	models.RelHas, models.RelCreatedBy, models.RelCommittedBy, models.RelAssignedTo,
	models.RelReviewedBy, models.RelLabeled, models.RelMerged, models.RelIsParent,
	models.RelPresentIn, models.RelAllocates, models.RelAllocated, models.RelDoneFor,
	models.RelComposedOf, models.RelCommittedIn, models.RelCommitted,
}

func runStats(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(config.ValidationContextStats).Err(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	fmt.Printf("devgraph status\n%s\n", strings.Repeat("═", 50))
	fmt.Printf("\nSink: %s\n", cfg.Sink.Type)

	if rel, ok := a.sink.(*graph.RelationalSink); ok {
		counts, err := rel.LabelCounts(ctx)
		if err != nil {
			return err
		}
		labels := make([]string, 0, len(counts))
		for label := range counts {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		fmt.Println("\nNodes:")
		for _, label := range labels {
			fmt.Printf("  %-18s %d\n", label, counts[label])
		}
		fmt.Println("\nRelationships:")
		for _, relType := range relationshipTypes {
			n, err := rel.CountRelationships(ctx, relType)
			if err != nil {
				return err
			}
			if n > 0 {
				fmt.Printf("  %-18s %d\n", relType, n)
			}
		}
	} else {
		fmt.Println("  (node counts are available for relational sinks; query Neo4j directly)")
	}

	if targets, err := resolveTargets(args, ""); err == nil {
		fmt.Println("\nCheckpoints:")
		for _, t := range targets {
			for _, domain := range models.ChainOrder {
				cp, err := a.sink.GetConfiguration(ctx, t, domain)
				if err != nil {
					return err
				}
				last := "never"
				if cp != nil {
					last = cp.LastRetrieveDate.Format("2006-01-02 15:04:05")
				}
				fmt.Printf("  %-30s %-5s %s\n", t.String(), domain, last)
			}
		}
	}

	dlqStats, err := a.queue.GetStats(ctx, cfg.DLQ.MaxRetries)
	if err != nil {
		return err
	}
	fmt.Printf("\nDead letter queue: %d entries (%d retryable, %d exhausted)\n",
		dlqStats.TotalEntries, dlqStats.RetryableEntries, dlqStats.ExhaustedEntries)
	recent, err := a.queue.GetRecentFailures(ctx, 5)
	if err != nil {
		return err
	}
	for _, e := range recent {
		fmt.Printf("  %s\n", e.String())
	}
	return nil
}
