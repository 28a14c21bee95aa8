package cli

import (
	"errors"
	"testing"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name    string
		summary *domain.Summary
		err     error
		want    int
	}{
		{"all succeeded", &domain.Summary{TotalJobs: 3, Succeeded: 3}, nil, 0},
		{"failed", &domain.Summary{TotalJobs: 3, Succeeded: 2, Failed: 1}, nil, 2},
		{"skipped", &domain.Summary{TotalJobs: 3, Succeeded: 2, Skipped: 1}, nil, 2},
		{"cancelled", &domain.Summary{TotalJobs: 3, Succeeded: 1, Cancelled: 2}, nil, 2},
		{"persist error", &domain.Summary{TotalJobs: 1, Succeeded: 1}, errors.New("ledger down"), 2},
		{"not dispatched", nil, errors.New("lock held"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.summary, tt.err); got != tt.want {
				t.Errorf("exitCode = %d, want %d", got, tt.want)
			}
		})
	}
}
