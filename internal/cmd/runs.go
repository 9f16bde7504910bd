package cmd

import (
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gristmill/internal/config"
	"github.com/3leaps/gristmill/internal/observability"
	"github.com/3leaps/gristmill/pkg/runlog"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect local run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE:  runRunsList,
}

var runsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Prune old runs from the history",
	RunE:  runRunsGC,
}

var (
	runsListLimit  int
	runsGCOlderLen time.Duration
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGCCmd)

	runsListCmd.Flags().IntVar(&runsListLimit, "limit", 20, "Maximum runs to list")
	runsGCCmd.Flags().DurationVar(&runsGCOlderLen, "older-than", 30*24*time.Hour, "Prune runs that ended longer ago than this")
}

func openRunLogStrict(cmd *cobra.Command) (*runlog.Store, error) {
	cfg := config.GetConfig()
	if cfg == nil || !cfg.RunLog.Enabled {
		return nil, exitError(foundry.ExitInvalidArgument, "Run history is disabled",
			fmt.Errorf("set runlog.enabled or %s_RUNLOG_ENABLED", config.EnvPrefix))
	}
	rl, err := runlog.Open(cmd.Context(), runlog.Config{Path: cfg.RunLog.Path})
	if err != nil {
		observability.CLILogger.Error("Cannot open run history",
			zap.String("path", cfg.RunLog.Path),
			zap.Error(err))
		return nil, exitError(foundry.ExitFileReadError, "Cannot open run history", err)
	}
	return rl, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	rl, err := openRunLogStrict(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rl.Close() }()

	runs, err := rl.ListRuns(cmd.Context(), runsListLimit)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Cannot read run history", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %-12s  %-11s  %s\n",
		"RUN ID", "STARTED", "STATE", "DONE/FAIL", "NAME")
	for _, r := range runs {
		name := r.Name
		if name == "" {
			name = r.Operation
		}
		fmt.Printf("%-36s  %-20s  %-12s  %5d/%-5d  %s\n",
			r.RunID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.State,
			r.Counts.Completed,
			r.Counts.Failed,
			name)
	}
	return nil
}

func runRunsGC(cmd *cobra.Command, args []string) error {
	rl, err := openRunLogStrict(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rl.Close() }()

	cutoff := time.Now().Add(-runsGCOlderLen)
	removed, err := rl.GC(cmd.Context(), cutoff)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Run history gc failed", err)
	}

	fmt.Printf("Removed %d run(s) older than %s.\n", removed, runsGCOlderLen)
	return nil
}
