package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/voicebatch/internal/batch/report"
	"github.com/vietddude/voicebatch/internal/core/domain"
	"github.com/vietddude/voicebatch/internal/infra/storage/postgres"
)

var (
	historyLimit  int
	historyStatus string
)

var historyCmd = &cobra.Command{
	Use:   "history [run_id]",
	Short: "List recent runs, or show one run in detail",
	Args:  cobra.MaximumNArgs(1),
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "comma separated job statuses to show for a run")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("history requires database.url")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()
	repo := postgres.NewRunRepo(db)

	if len(args) == 1 {
		summary, err := repo.GetRun(ctx, args[0])
		if err != nil {
			slog.Error("Failed to load run", "run_id", args[0], "error", err)
			return
		}
		var statuses []domain.JobStatus
		if historyStatus != "" {
			for _, s := range strings.Split(historyStatus, ",") {
				statuses = append(statuses, domain.JobStatus(strings.TrimSpace(s)))
			}
		}
		results, err := repo.ListResults(ctx, summary.RunID, statuses...)
		if err != nil {
			slog.Error("Failed to load results", "run_id", summary.RunID, "error", err)
			return
		}
		_ = report.WriteText(os.Stdout, summary)
		fmt.Println()
		_ = report.WriteResults(os.Stdout, results)
		return
	}

	runs, err := repo.ListRuns(ctx, historyLimit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RUN\tSTARTED\tJOBS\tSUCCEEDED\tFAILED\tSKIPPED\tCACHE HIT\tELAPSED")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%.0f%%\t%v\n",
			r.RunID, r.StartedAt.Format(time.RFC3339), r.TotalJobs, r.Succeeded, r.Failed, r.Skipped,
			r.CacheHitRate*100, r.Elapsed.Round(time.Millisecond))
	}
	_ = w.Flush()
}
