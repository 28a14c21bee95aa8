package domain

import "time"

// OperationStats is the aggregated view of one metric operation.
type OperationStats struct {
	Count         int64               `json:"count"`
	Successes     int64               `json:"successes"`
	Failures      int64               `json:"failures"`
	TotalDuration time.Duration       `json:"total_duration_ns"`
	AvgDuration   time.Duration       `json:"avg_duration_ns"`
	SuccessRate   float64             `json:"success_rate"`
	ErrorKinds    map[ErrorKind]int64 `json:"error_kinds,omitempty"`
}

// Summary is the batch report produced when every job reached a terminal state.
type Summary struct {
	RunID            string                    `json:"run_id"`
	StartedAt        time.Time                 `json:"started_at"`
	Elapsed          time.Duration             `json:"elapsed_ns"`
	Concurrency      int                       `json:"concurrency"`
	TotalJobs        int                       `json:"total_jobs"`
	Succeeded        int                       `json:"succeeded"`
	Failed           int                       `json:"failed"`
	Skipped          int                       `json:"skipped"`
	Cancelled        int                       `json:"cancelled"`
	CacheHits        int                       `json:"cache_hits"`
	CacheHitRate     float64                   `json:"cache_hit_rate"`
	ProviderCalls    int64                     `json:"provider_calls"`
	TrippedProviders []string                  `json:"tripped_providers,omitempty"`
	PerOperation     map[string]OperationStats `json:"per_operation_metrics"`
	Recommendations  []string                  `json:"recommendations,omitempty"`
}

// SuccessRate returns succeeded / total, or 0 for an empty batch.
func (s *Summary) SuccessRate() float64 {
	if s.TotalJobs == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.TotalJobs)
}

// Add counts one terminal result.
func (s *Summary) Add(r Result) {
	s.TotalJobs++
	switch r.Status {
	case JobStatusSucceeded:
		s.Succeeded++
	case JobStatusFailed:
		s.Failed++
	case JobStatusSkipped:
		s.Skipped++
	case JobStatusCancelled:
		s.Cancelled++
	}
	if r.CacheHit {
		s.CacheHits++
	}
	if s.TotalJobs > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(s.TotalJobs)
	}
}
