// Package health provides engine health monitoring and status reporting.
package health

import "github.com/vietddude/voicebatch/internal/infra/synth/routing"

// SystemStatus represents the overall health state of the engine or a provider.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ProviderHealth contains the circuit view of one provider.
type ProviderHealth struct {
	Provider string            `json:"provider"`
	Status   SystemStatus      `json:"status"`
	Circuit  *routing.Snapshot `json:"circuit,omitempty"`
}

// HealthReport contains the full engine health report.
type HealthReport struct {
	SystemStatus SystemStatus              `json:"system_status"`
	Providers    map[string]ProviderHealth `json:"providers"`
}
