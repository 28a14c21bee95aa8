package routing

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

// ErrInvalidPolicy is returned by Validate for unusable retry settings.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// RetryPolicy decides whether a failed attempt is retried and how long to wait.
type RetryPolicy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64

	// Rand returns a value in [0,1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultRetryPolicy provides sensible defaults.
var DefaultRetryPolicy = RetryPolicy{
	BaseDelay:      500 * time.Millisecond,
	MaxDelay:       30 * time.Second,
	JitterFraction: 0.2,
}

// Attempt describes one scheduled retry of a job.
type Attempt struct {
	Number       int
	PreviousKind domain.ErrorKind
	Delay        time.Duration
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	if p.BaseDelay <= 0 {
		return fmt.Errorf("%w: base delay must be positive", ErrInvalidPolicy)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("%w: max delay %v below base delay %v", ErrInvalidPolicy, p.MaxDelay, p.BaseDelay)
	}
	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		return fmt.Errorf("%w: jitter fraction %.2f outside [0,1]", ErrInvalidPolicy, p.JitterFraction)
	}
	return nil
}

// ShouldRetry reports whether attempt (1-based) that failed with kind gets another try,
// and the delay to wait before it.
func (p RetryPolicy) ShouldRetry(kind domain.ErrorKind, attempt, maxAttempts int) (bool, time.Duration) {
	switch kind {
	case domain.KindRateLimit, domain.KindNetwork, domain.KindProvider:
		if attempt >= maxAttempts {
			return false, 0
		}
		return true, p.Backoff(attempt)
	case domain.KindFileSystem:
		// Local condition: one more try on a flat delay, never the exponential schedule.
		if attempt == 1 && maxAttempts > 1 {
			return true, p.BaseDelay
		}
		return false, 0
	default:
		return false, 0
	}
}

// Next combines ShouldRetry with a server supplied hint. The hint can only lengthen
// the delay and the result never exceeds MaxDelay.
func (p RetryPolicy) Next(kind domain.ErrorKind, attempt, maxAttempts int, hint time.Duration) (Attempt, bool) {
	retry, delay := p.ShouldRetry(kind, attempt, maxAttempts)
	if !retry {
		return Attempt{}, false
	}
	if hint > delay {
		delay = min(hint, p.MaxDelay)
	}
	return Attempt{Number: attempt + 1, PreviousKind: kind, Delay: delay}, true
}

// Backoff returns BaseDelay * 2^(attempt-1) plus jitter, capped at MaxDelay.
// Jitter is at most JitterFraction of the un-jittered delay, so with a fraction
// in [0,1] the schedule is non-decreasing in attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay >= float64(p.MaxDelay) {
		return p.MaxDelay
	}

	if frac := clamp01(p.JitterFraction); frac > 0 {
		delay += delay * frac * p.random()
	}

	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

func (p RetryPolicy) random() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
