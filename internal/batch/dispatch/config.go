package dispatch

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/vietddude/voicebatch/internal/infra/synth/routing"
)

var (
	// ErrInvalidConfig is returned before dispatch starts for unusable settings.
	ErrInvalidConfig = errors.New("invalid dispatcher config")
	// ErrNoSelector is returned when Run is called without a provider selector.
	ErrNoSelector = errors.New("no provider selector")
)

// BreakerOpenPolicy decides the terminal status of a job rejected by an open circuit
// before its first attempt.
type BreakerOpenPolicy string

const (
	BreakerOpenSkip BreakerOpenPolicy = "skip"
	BreakerOpenFail BreakerOpenPolicy = "fail"
)

// Config holds dispatcher settings. All values are resolved upstream.
type Config struct {
	MaxConcurrency    int
	CPUMultiplier     int
	MaxAttempts       int
	Retry             routing.RetryPolicy
	BreakerOpenPolicy BreakerOpenPolicy
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxConcurrency:    8,
	CPUMultiplier:     2,
	MaxAttempts:       3,
	Retry:             routing.DefaultRetryPolicy,
	BreakerOpenPolicy: BreakerOpenSkip,
}

// Validate reports settings that would make a run impossible.
func (c Config) Validate() error {
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("%w: max concurrency must be positive, got %d", ErrInvalidConfig, c.MaxConcurrency)
	}
	if c.CPUMultiplier < 0 {
		return fmt.Errorf("%w: cpu multiplier must not be negative, got %d", ErrInvalidConfig, c.CPUMultiplier)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	switch c.BreakerOpenPolicy {
	case "", BreakerOpenSkip, BreakerOpenFail:
	default:
		return fmt.Errorf("%w: unknown breaker open policy %q", ErrInvalidConfig, c.BreakerOpenPolicy)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Concurrency returns min(MaxConcurrency, NumCPU*CPUMultiplier, jobCount), at least 1.
// A zero multiplier leaves the CPU bound out.
func (c Config) Concurrency(jobCount int) int {
	n := c.MaxConcurrency
	if c.CPUMultiplier > 0 {
		n = min(n, runtime.NumCPU()*c.CPUMultiplier)
	}
	if jobCount > 0 {
		n = min(n, jobCount)
	}
	return max(n, 1)
}
