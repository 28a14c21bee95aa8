// Package provider defines the synthesis provider boundary.
//
// This package contains:
//   - Provider interface: one opaque synthesize call per backend
//   - Error: structured failure signal (status code + message) used for classification
//   - Registry: name -> Provider lookup that doubles as the dispatcher's Selector
//   - HTTPProvider: JSON-over-HTTP implementation (generic and OpenAI-style payloads)
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

var (
	// ErrUnknownProvider is returned when a job names a provider that is not registered.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrEmptyAudio is returned when a provider answers 2xx without a payload.
	ErrEmptyAudio = errors.New("provider returned empty audio")
)

// Provider performs one synthesis call.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "local-tts")
	Name() string

	// Synthesize converts text to an audio payload. The payload is opaque to callers.
	Synthesize(ctx context.Context, text string, voice domain.VoiceOptions) ([]byte, error)
}

// Selector resolves the provider a job should be sent to.
type Selector interface {
	Select(name string) (Provider, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(name string) (Provider, error)

// Select implements Selector.
func (f SelectorFunc) Select(name string) (Provider, error) {
	return f(name)
}

// Error is the failure signal a provider call reports.
type Error struct {
	Provider   string
	Code       int
	Message    string
	RetryAfter time.Duration // server supplied hint, 0 when absent
}

func (e *Error) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.Code, e.Message)
}

// Registry holds the configured providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  string
}

// NewRegistry creates an empty registry. fallback is used for jobs without a provider name.
func NewRegistry(fallback string) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		fallback:  fallback,
	}
}

// Add registers a provider, replacing any provider with the same name.
func (r *Registry) Add(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if r.fallback == "" {
		r.fallback = p.Name()
	}
}

// Select implements Selector.
func (r *Registry) Select(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.fallback
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
