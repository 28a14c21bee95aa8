package report

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

func testSummary() *domain.Summary {
	return &domain.Summary{
		RunID:        "run-1",
		TotalJobs:    4,
		Succeeded:    2,
		Failed:       1,
		Skipped:      1,
		CacheHits:    1,
		CacheHitRate: 0.25,
		Elapsed:      1500 * time.Millisecond,
		PerOperation: map[string]domain.OperationStats{
			"job": {Count: 4, Successes: 2, SuccessRate: 0.5, AvgDuration: 300 * time.Millisecond},
		},
		TrippedProviders: []string{"a"},
		Recommendations:  []string{"check provider a"},
	}
}

func TestWriteJSON_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	want := testSummary()

	if err := WriteJSON(path, want); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	got, err := ReadJSON(path)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.RunID != want.RunID || got.CacheHitRate != 0.25 || got.PerOperation["job"].Count != 4 {
		t.Errorf("round trip = %+v", got)
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, testSummary()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"run-1", "success rate 50.0%", "cache hit rate 25.0%", "circuit opened for: [a]", "check provider a"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
