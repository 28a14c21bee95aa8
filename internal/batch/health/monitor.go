package health

import (
	"log/slog"
	"sync"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/voicebatch/internal/batch/metrics"
	"github.com/vietddude/voicebatch/internal/infra/synth/routing"
)

// SnapshotSource exposes circuit snapshots; *routing.Breakers satisfies it.
type SnapshotSource interface {
	Snapshots() []routing.Snapshot
}

// Monitor tracks circuit states as they change and mirrors them into
// the breaker gauge and a gRPC health server.
type Monitor struct {
	mu     sync.RWMutex
	states map[string]routing.State
	seqs   map[string]uint64 // last applied StateChange.Seq per provider
	source SnapshotSource

	grpc   *health.Server
	logger *slog.Logger
}

// NewMonitor creates a monitor with every named provider starting closed.
func NewMonitor(providers []string) *Monitor {
	m := &Monitor{
		states: make(map[string]routing.State, len(providers)),
		seqs:   make(map[string]uint64, len(providers)),
		grpc:   health.NewServer(),
		logger: slog.Default().With("component", "health"),
	}
	for _, name := range providers {
		m.states[name] = routing.StateClosed
		m.grpc.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
		metrics.BreakerState.WithLabelValues(name).Set(float64(routing.StateClosed))
	}
	m.grpc.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return m
}

// Attach sets the source used for detailed circuit snapshots.
// Breakers are built after the monitor because they take OnStateChange as a listener.
func (m *Monitor) Attach(src SnapshotSource) {
	m.mu.Lock()
	m.source = src
	m.mu.Unlock()
}

// OnStateChange is a routing.WithStateListener callback.
// Changes older than the last applied one for the provider are dropped.
func (m *Monitor) OnStateChange(change routing.StateChange) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if change.Seq <= m.seqs[change.Provider] {
		return
	}
	m.seqs[change.Provider] = change.Seq
	m.states[change.Provider] = change.To
	overall := m.aggregateLocked()

	m.logger.Warn("Circuit state changed",
		"provider", change.Provider,
		"from", change.From.String(),
		"to", change.To.String(),
		"cooldown", change.Cooldown,
	)
	metrics.BreakerState.WithLabelValues(change.Provider).Set(float64(change.To))

	serving := healthpb.HealthCheckResponse_SERVING
	if change.To == routing.StateOpen {
		serving = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.grpc.SetServingStatus(change.Provider, serving)

	if overall == StatusCritical {
		m.grpc.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	} else {
		m.grpc.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}
}

// Status returns the aggregated engine status.
func (m *Monitor) Status() SystemStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggregateLocked()
}

// CheckHealth returns the per-provider report.
func (m *Monitor) CheckHealth() HealthReport {
	m.mu.RLock()
	report := HealthReport{
		SystemStatus: m.aggregateLocked(),
		Providers:    make(map[string]ProviderHealth, len(m.states)),
	}
	for name, state := range m.states {
		report.Providers[name] = ProviderHealth{Provider: name, Status: providerStatus(state)}
	}
	src := m.source
	m.mu.RUnlock()

	if src != nil {
		for _, snap := range src.Snapshots() {
			ph := report.Providers[snap.Provider]
			ph.Provider = snap.Provider
			if ph.Status == "" {
				ph.Status = StatusHealthy
			}
			s := snap
			ph.Circuit = &s
			report.Providers[snap.Provider] = ph
		}
	}
	return report
}

// GRPCServer returns the health service to register on a gRPC server.
func (m *Monitor) GRPCServer() *health.Server {
	return m.grpc
}

// aggregateLocked: critical when every circuit is open, degraded when any is not closed.
func (m *Monitor) aggregateLocked() SystemStatus {
	if len(m.states) == 0 {
		return StatusHealthy
	}
	open, notClosed := 0, 0
	for _, s := range m.states {
		if s == routing.StateOpen {
			open++
		}
		if s != routing.StateClosed {
			notClosed++
		}
	}
	switch {
	case open == len(m.states):
		return StatusCritical
	case notClosed > 0:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func providerStatus(s routing.State) SystemStatus {
	switch s {
	case routing.StateOpen:
		return StatusCritical
	case routing.StateHalfOpen:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
