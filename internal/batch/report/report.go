// Package report renders batch summaries for files and terminals.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

// WriteJSON writes the summary as indented JSON, creating parent directories.
func WriteJSON(path string, s *domain.Summary) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ReadJSON loads a summary written by WriteJSON.
func ReadJSON(path string) (*domain.Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s domain.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &s, nil
}

// WriteText prints a human readable summary.
func WriteText(w io.Writer, s *domain.Summary) error {
	fmt.Fprintf(w, "Run %s: %d jobs in %v (concurrency %d)\n",
		s.RunID, s.TotalJobs, s.Elapsed.Round(time.Millisecond), s.Concurrency)
	fmt.Fprintf(w, "  succeeded %d, failed %d, skipped %d, cancelled %d\n",
		s.Succeeded, s.Failed, s.Skipped, s.Cancelled)
	fmt.Fprintf(w, "  success rate %.1f%%, cache hit rate %.1f%%, provider calls %d\n",
		s.SuccessRate()*100, s.CacheHitRate*100, s.ProviderCalls)
	if len(s.TrippedProviders) > 0 {
		fmt.Fprintf(w, "  circuit opened for: %v\n", s.TrippedProviders)
	}

	if len(s.PerOperation) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "OPERATION\tCOUNT\tAVG\tSUCCESS")

		names := make([]string, 0, len(s.PerOperation))
		for name := range s.PerOperation {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			op := s.PerOperation[name]
			fmt.Fprintf(tw, "%s\t%d\t%v\t%.1f%%\n",
				name, op.Count, op.AvgDuration.Round(time.Millisecond), op.SuccessRate*100)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(s.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, r := range s.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
	return nil
}

// WriteResults prints one line per job result.
func WriteResults(w io.Writer, results []domain.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "JOB\tPROVIDER\tSTATUS\tATTEMPTS\tDURATION\tERROR")
	for _, r := range results {
		errText := ""
		if r.ErrorKind != "" {
			errText = string(r.ErrorKind) + ": " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%dms\t%s\n",
			r.JobID, r.Provider, r.Status, r.Attempts, r.DurationMs(), errText)
	}
	return tw.Flush()
}
