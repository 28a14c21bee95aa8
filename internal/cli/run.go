package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vietddude/voicebatch/internal/batch/input"
	"github.com/vietddude/voicebatch/internal/batch/report"
	"github.com/vietddude/voicebatch/internal/control"
	"github.com/vietddude/voicebatch/internal/core/domain"
)

var (
	inputPath   string
	batchName   string
	showResults bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch from a CSV or JSON file",
	Run:   runBatch,
}

func init() {
	runCmd.Flags().StringVarP(&inputPath, "input", "i", "", "batch file (.csv or .json)")
	runCmd.Flags().StringVar(&batchName, "name", "", "batch lock name (default is the input path)")
	runCmd.Flags().BoolVar(&showResults, "results", false, "print one line per job")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}

func runBatch(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := signalContext()
	defer cancel()

	app := newApp(ctx, cfg)

	code := 1
	jobs, err := readJobs(inputPath, app.InputDefaults())
	if err != nil {
		slog.Error("Failed to read batch", "path", inputPath, "error", err)
	} else {
		name := batchName
		if name == "" {
			name, _ = filepath.Abs(inputPath)
		}
		code = execute(ctx, app, control.Batch{Name: name, Jobs: jobs})
	}

	stopApp(app)
	os.Exit(code)
}

func readJobs(path string, d input.Defaults) ([]domain.Job, error) {
	if filepath.Ext(path) == ".json" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return input.ReadJSON(f, d)
	}
	return input.ReadCSVFile(path, d)
}

// execute runs the batch, prints the summary and returns the exit code.
func execute(ctx context.Context, app *control.App, b control.Batch) int {
	slog.Info("Batch loaded", "jobs", len(b.Jobs))

	var results []domain.Result
	summary, err := app.RunBatch(ctx, b, func(r domain.Result) {
		results = append(results, r)
		slog.Debug("Job finished", "job", r.JobID, "status", r.Status, "attempts", r.Attempts)
	})
	if summary == nil {
		slog.Error("Batch failed", "error", err)
		return 1
	}
	if err != nil {
		slog.Error("Failed to persist run", "run_id", summary.RunID, "error", err)
	}

	if showResults {
		_ = report.WriteResults(os.Stdout, results)
	}
	_ = report.WriteText(os.Stdout, summary)

	return exitCode(summary, err)
}

// exitCode is 0 only when every job succeeded and the run was persisted.
// Skipped and cancelled jobs count against the batch like failures.
func exitCode(summary *domain.Summary, err error) int {
	switch {
	case summary == nil:
		return 1
	case summary.Succeeded != summary.TotalJobs || err != nil:
		return 2
	}
	return 0
}
