package domain

import (
	"errors"
	"testing"
	"time"
)

func TestJobTransition(t *testing.T) {
	tests := []struct {
		from    JobStatus
		to      JobStatus
		wantErr error
	}{
		{JobStatusPending, JobStatusInFlight, nil},
		{JobStatusPending, JobStatusSucceeded, nil},
		{JobStatusPending, JobStatusSkipped, nil},
		{JobStatusPending, JobStatusPending, ErrInvalidTransition},
		{JobStatusInFlight, JobStatusFailed, nil},
		{JobStatusInFlight, JobStatusCancelled, nil},
		{JobStatusInFlight, JobStatusPending, ErrInvalidTransition},
		{JobStatusSucceeded, JobStatusFailed, ErrTerminalState},
		{JobStatusSkipped, JobStatusInFlight, ErrTerminalState},
		{JobStatusFailed, JobStatusSucceeded, ErrTerminalState},
	}

	for _, tt := range tests {
		j := Job{ID: "j1", Status: tt.from}
		err := j.Transition(tt.to)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%s -> %s: err = %v, want %v", tt.from, tt.to, err, tt.wantErr)
			continue
		}
		if tt.wantErr != nil && j.Status != tt.from {
			t.Errorf("%s -> %s: status changed to %s on error", tt.from, tt.to, j.Status)
		}
	}
}

func TestJobFail(t *testing.T) {
	j := NewJob("j1", "hello", "j1.mp3", "a", VoiceOptions{})
	if err := j.Transition(JobStatusInFlight); err != nil {
		t.Fatal(err)
	}
	j.Attempts = 2

	if err := j.Fail(KindNetwork, errors.New("connection reset")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	r := ResultFromJob(j, 1500*time.Millisecond, false)
	if r.Status != JobStatusFailed || r.ErrorKind != KindNetwork || r.Error != "connection reset" {
		t.Errorf("result = %+v", r)
	}
	if r.Attempts != 2 || r.DurationMs() != 1500 {
		t.Errorf("attempts=%d duration=%dms", r.Attempts, r.DurationMs())
	}
}

func TestErrorKindSeverity(t *testing.T) {
	high := map[ErrorKind]bool{KindAuthentication: true, KindProvider: true, KindConfiguration: true}
	for _, k := range AllKinds {
		want := SeverityMedium
		if high[k] {
			want = SeverityHigh
		}
		if got := k.Severity(); got != want {
			t.Errorf("%s severity = %s, want %s", k, got, want)
		}
	}
}

func TestSummaryAdd(t *testing.T) {
	var s Summary
	s.Add(Result{Status: JobStatusSucceeded})
	s.Add(Result{Status: JobStatusSucceeded, CacheHit: true})
	s.Add(Result{Status: JobStatusSkipped})
	s.Add(Result{Status: JobStatusFailed})

	if s.TotalJobs != 4 || s.Succeeded != 2 || s.Skipped != 1 || s.Failed != 1 {
		t.Errorf("counts = %+v", s)
	}
	if s.CacheHitRate != 0.25 {
		t.Errorf("cache hit rate = %v, want 0.25", s.CacheHitRate)
	}
	if s.SuccessRate() != 0.5 {
		t.Errorf("success rate = %v, want 0.5", s.SuccessRate())
	}
}
