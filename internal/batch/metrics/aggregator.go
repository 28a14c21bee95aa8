// Package metrics aggregates per-operation timing and outcome samples.
package metrics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

// Operation names recorded by the dispatcher.
const (
	OpJob       = "job"
	OpSinkWrite = "sink_write"
)

// SynthesizeOp returns the operation name for calls to one provider.
func SynthesizeOp(provider string) string {
	return "synthesize." + provider
}

// Sample is one timed operation outcome.
type Sample struct {
	Operation string
	Start     time.Time
	End       time.Time
	Success   bool
	Kind      domain.ErrorKind
}

// Duration returns End - Start, never negative.
func (s Sample) Duration() time.Duration {
	return max(s.End.Sub(s.Start), 0)
}

// Thresholds drive recommendations.
type Thresholds struct {
	SlowThreshold        time.Duration
	FailureRateThreshold float64
	MinCacheHitRate      float64
}

// DefaultThresholds provides sensible defaults.
var DefaultThresholds = Thresholds{
	SlowThreshold:        10 * time.Second,
	FailureRateThreshold: 0.2,
	MinCacheHitRate:      0,
}

// Report is the aggregated view returned by Summary.
type Report struct {
	PerOperation    map[string]domain.OperationStats `json:"per_operation"`
	Recommendations []string                         `json:"recommendations,omitempty"`
}

type counters struct {
	count     atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	totalNs   atomic.Int64
	kinds     sync.Map // domain.ErrorKind -> *atomic.Int64
}

// Aggregator merges samples from any number of goroutines.
// Samples for the same operation only touch atomics; the map is only written
// the first time an operation or error kind is seen.
type Aggregator struct {
	thresholds Thresholds
	ops        sync.Map // string -> *counters
}

// NewAggregator creates an aggregator.
func NewAggregator(t Thresholds) *Aggregator {
	return &Aggregator{thresholds: t}
}

// Record merges one sample and exports it to prometheus.
func (a *Aggregator) Record(s Sample) {
	c := a.counters(s.Operation)
	d := s.Duration()

	c.count.Add(1)
	c.totalNs.Add(int64(d))
	outcome := "success"
	if s.Success {
		c.successes.Add(1)
	} else {
		outcome = "failure"
		c.failures.Add(1)
		if s.Kind != "" {
			v, _ := c.kinds.LoadOrStore(s.Kind, new(atomic.Int64))
			v.(*atomic.Int64).Add(1)
		}
	}

	OperationLatency.WithLabelValues(s.Operation, outcome).Observe(d.Seconds())
}

func (a *Aggregator) counters(op string) *counters {
	if v, ok := a.ops.Load(op); ok {
		return v.(*counters)
	}
	v, _ := a.ops.LoadOrStore(op, &counters{})
	return v.(*counters)
}

// Summary snapshots every operation and derives recommendations.
func (a *Aggregator) Summary() Report {
	per := make(map[string]domain.OperationStats)

	a.ops.Range(func(k, v any) bool {
		c := v.(*counters)
		st := domain.OperationStats{
			Count:         c.count.Load(),
			Successes:     c.successes.Load(),
			Failures:      c.failures.Load(),
			TotalDuration: time.Duration(c.totalNs.Load()),
		}
		if st.Count > 0 {
			st.AvgDuration = st.TotalDuration / time.Duration(st.Count)
			st.SuccessRate = float64(st.Successes) / float64(st.Count)
		}
		c.kinds.Range(func(kk, kv any) bool {
			if st.ErrorKinds == nil {
				st.ErrorKinds = make(map[domain.ErrorKind]int64)
			}
			st.ErrorKinds[kk.(domain.ErrorKind)] = kv.(*atomic.Int64).Load()
			return true
		})
		per[k.(string)] = st
		return true
	})

	return Report{PerOperation: per, Recommendations: a.recommend(per)}
}

func (a *Aggregator) recommend(per map[string]domain.OperationStats) []string {
	names := make([]string, 0, len(per))
	for name := range per {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		st := per[name]
		if a.thresholds.SlowThreshold > 0 && st.AvgDuration > a.thresholds.SlowThreshold {
			out = append(out, fmt.Sprintf(
				"%s averages %v, above the %v threshold; consider a faster provider or lower concurrency",
				name, st.AvgDuration.Round(time.Millisecond), a.thresholds.SlowThreshold))
		}
		if st.Count > 0 && a.thresholds.FailureRateThreshold > 0 {
			if rate := 1 - st.SuccessRate; rate > a.thresholds.FailureRateThreshold {
				out = append(out, fmt.Sprintf(
					"%s fails %.0f%% of the time (threshold %.0f%%)%s",
					name, rate*100, a.thresholds.FailureRateThreshold*100, dominantKindHint(st.ErrorKinds)))
			}
		}
	}
	return out
}

// Advise returns batch level hints that need more than per-operation counters.
func (a *Aggregator) Advise(s *domain.Summary) []string {
	var out []string
	if a.thresholds.MinCacheHitRate > 0 && s.TotalJobs > 0 && s.CacheHitRate < a.thresholds.MinCacheHitRate {
		out = append(out, fmt.Sprintf("cache hit rate %.0f%% is below %.0f%%; check cache TTL and capacity",
			s.CacheHitRate*100, a.thresholds.MinCacheHitRate*100))
	}
	for _, p := range s.TrippedProviders {
		out = append(out, fmt.Sprintf("circuit for provider %s opened during the run; check its health and quota", p))
	}
	return out
}

func dominantKindHint(kinds map[domain.ErrorKind]int64) string {
	var top domain.ErrorKind
	var n int64
	for k, v := range kinds {
		if v > n || (v == n && k < top) {
			top, n = k, v
		}
	}
	switch top {
	case "":
		return ""
	case domain.KindRateLimit:
		return "; mostly rate limited, lower concurrency or requests_per_second"
	case domain.KindAuthentication, domain.KindConfiguration:
		return fmt.Sprintf("; mostly %s errors, check provider credentials and settings", top)
	default:
		return fmt.Sprintf("; mostly %s errors", top)
	}
}
