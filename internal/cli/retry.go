package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/voicebatch/internal/control"
)

var retryCmd = &cobra.Command{
	Use:   "retry [run_id]",
	Short: "Resubmit the jobs that did not succeed in a previous run",
	Args:  cobra.ExactArgs(1),
	Run:   runRetry,
}

func init() {
	retryCmd.Flags().BoolVar(&showResults, "results", false, "print one line per job")
	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) {
	runID := args[0]
	cfg := loadConfig()

	ctx, cancel := signalContext()
	defer cancel()

	app := newApp(ctx, cfg)

	code := 0
	jobs, err := app.RetryFailed(ctx, runID)
	switch {
	case err != nil:
		slog.Error("Failed to load failed jobs", "run_id", runID, "error", err)
		code = 1
	case len(jobs) == 0:
		slog.Info("Nothing to retry", "run_id", runID)
	default:
		code = execute(ctx, app, control.Batch{Name: "retry:" + runID, Jobs: jobs})
	}

	stopApp(app)
	os.Exit(code)
}
