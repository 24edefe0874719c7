package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/devgraph/internal/config"
	"github.com/rohankatakam/devgraph/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logging.Logger
	cfg     *config.Config
)

func main() {
	err := rootCmd.Execute()
	if logger != nil {
		logger.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devgraph",
	Short: "devgraph - load GitHub engineering activity into a graph",
	Long: `devgraph extracts organizations, repositories, commits, pull requests, issues,
milestones and teams from GitHub and incrementally loads them into Neo4j or a
relational graph store.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		logCfg := logging.Config{
			Level:      cfg.Log.Level,
			OutputFile: cfg.Log.File,
			JSONFormat: cfg.Log.JSON,
		}
		if verbose {
			logCfg.Level = "debug"
		}
		logger, err = logging.NewLogger(logCfg)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .devgraph/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`devgraph {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(artifactsCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statsCmd)
}
