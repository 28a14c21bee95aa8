package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

func sample(op string, d time.Duration, ok bool, kind domain.ErrorKind) Sample {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return Sample{Operation: op, Start: start, End: start.Add(d), Success: ok, Kind: kind}
}

func TestAggregator_Summary(t *testing.T) {
	a := NewAggregator(Thresholds{})

	a.Record(sample("synthesize.a", 100*time.Millisecond, true, ""))
	a.Record(sample("synthesize.a", 300*time.Millisecond, false, domain.KindNetwork))
	a.Record(sample("job", time.Second, true, ""))

	rep := a.Summary()
	st, ok := rep.PerOperation["synthesize.a"]
	if !ok {
		t.Fatal("missing operation")
	}
	if st.Count != 2 || st.Successes != 1 || st.Failures != 1 {
		t.Errorf("counts = %+v", st)
	}
	if st.AvgDuration != 200*time.Millisecond {
		t.Errorf("avg = %v, want 200ms", st.AvgDuration)
	}
	if st.SuccessRate != 0.5 {
		t.Errorf("success rate = %v", st.SuccessRate)
	}
	if st.ErrorKinds[domain.KindNetwork] != 1 {
		t.Errorf("error kinds = %v", st.ErrorKinds)
	}
	if len(rep.Recommendations) != 0 {
		t.Errorf("unexpected recommendations: %v", rep.Recommendations)
	}
}

func TestAggregator_ConcurrentRecord(t *testing.T) {
	a := NewAggregator(Thresholds{})

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				a.Record(sample("job", time.Millisecond, i%5 != 0, domain.KindProvider))
			}
		}()
	}
	wg.Wait()

	st := a.Summary().PerOperation["job"]
	if st.Count != 8000 || st.Successes != 6400 || st.Failures != 1600 {
		t.Errorf("counts = %+v", st)
	}
	if st.TotalDuration != 8000*time.Millisecond {
		t.Errorf("total = %v", st.TotalDuration)
	}
}

func TestAggregator_Recommendations(t *testing.T) {
	a := NewAggregator(Thresholds{SlowThreshold: time.Second, FailureRateThreshold: 0.3})

	a.Record(sample("synthesize.slow", 2*time.Second, true, ""))
	a.Record(sample("synthesize.flaky", time.Millisecond, false, domain.KindRateLimit))
	a.Record(sample("synthesize.flaky", time.Millisecond, true, ""))
	a.Record(sample("synthesize.fine", time.Millisecond, true, ""))

	recs := a.Summary().Recommendations
	if len(recs) != 2 {
		t.Fatalf("recommendations = %v", recs)
	}
	if !strings.HasPrefix(recs[0], "synthesize.flaky fails 50%") || !strings.Contains(recs[0], "rate limited") {
		t.Errorf("flaky recommendation = %q", recs[0])
	}
	if !strings.HasPrefix(recs[1], "synthesize.slow averages 2s") {
		t.Errorf("slow recommendation = %q", recs[1])
	}
}

func TestAggregator_Advise(t *testing.T) {
	a := NewAggregator(Thresholds{MinCacheHitRate: 0.5})

	recs := a.Advise(&domain.Summary{TotalJobs: 4, CacheHitRate: 0.25, TrippedProviders: []string{"a"}})
	if len(recs) != 2 {
		t.Fatalf("recommendations = %v", recs)
	}
	if !strings.Contains(recs[1], "provider a") {
		t.Errorf("breaker recommendation = %q", recs[1])
	}
}
