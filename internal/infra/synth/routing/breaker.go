package routing

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Allow while a provider circuit rejects calls.
var ErrBreakerOpen = errors.New("circuit breaker open")

// State is the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Calls flow normally
	StateOpen                  // Calls are rejected until cooldown elapses
	StateHalfOpen              // One trial call decides the next state
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
	MaxCooldown      time.Duration // cap for the cooldown growth on repeated trips
}

// DefaultBreakerConfig provides sensible defaults.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	Cooldown:         30 * time.Second,
	MaxCooldown:      5 * time.Minute,
}

// StateChange is reported to listeners after every transition.
// Seq increases with every transition of a circuit; listeners run outside the
// circuit lock and may observe changes out of order, so they compare Seq.
type StateChange struct {
	Provider string
	Seq      uint64
	From     State
	To       State
	At       time.Time
	Cooldown time.Duration
}

// Ticket is handed out by Allow and passed back with the call's outcome.
// Outcomes of calls admitted under an earlier state are ignored.
type Ticket struct {
	gen   uint64
	trial bool
}

// Snapshot is a read-only view of a circuit.
type Snapshot struct {
	Provider            string        `json:"provider"`
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Trips               int           `json:"trips"`
	Cooldown            time.Duration `json:"cooldown_ns"`
	ChangedAt           time.Time     `json:"changed_at"`
}

// Circuit is the breaker of one provider. All methods are safe for concurrent use;
// the lock covers state bookkeeping only, never the provider call.
type Circuit struct {
	name      string
	cfg       BreakerConfig
	now       func() time.Time
	listeners []func(StateChange)

	mu            sync.Mutex
	state         State
	failures      int
	trips         int
	cooldown      time.Duration
	openedAt      time.Time
	changedAt     time.Time
	gen           uint64 // bumped on every transition
	trialInFlight bool
}

func newCircuit(name string, cfg BreakerConfig, now func() time.Time, listeners []func(StateChange)) *Circuit {
	return &Circuit{
		name:      name,
		cfg:       cfg,
		now:       now,
		listeners: listeners,
		cooldown:  cfg.Cooldown,
	}
}

// Name returns the provider name.
func (c *Circuit) Name() string {
	return c.name
}

// Allow reports whether a call may be sent. It returns an error wrapping ErrBreakerOpen
// while open and while a half-open trial is already in flight. The returned ticket
// must be handed to RecordSuccess or RecordFailure.
func (c *Circuit) Allow() (Ticket, error) {
	c.mu.Lock()

	switch c.state {
	case StateClosed:
		t := Ticket{gen: c.gen}
		c.mu.Unlock()
		return t, nil

	case StateOpen:
		now := c.now()
		elapsed := now.Sub(c.openedAt)
		if elapsed < c.cooldown {
			remaining := c.cooldown - elapsed
			c.mu.Unlock()
			return Ticket{}, fmt.Errorf("%w: %s (retry in %v)", ErrBreakerOpen, c.name, remaining)
		}
		change := c.transition(StateHalfOpen, now)
		c.trialInFlight = true
		t := Ticket{gen: c.gen, trial: true}
		c.mu.Unlock()
		c.notify(change)
		return t, nil

	default: // half-open
		if c.trialInFlight {
			c.mu.Unlock()
			return Ticket{}, fmt.Errorf("%w: %s (trial in flight)", ErrBreakerOpen, c.name)
		}
		c.trialInFlight = true
		t := Ticket{gen: c.gen, trial: true}
		c.mu.Unlock()
		return t, nil
	}
}

// counts reports whether an outcome belongs to the current state. Must hold mu.
func (c *Circuit) counts(t Ticket) bool {
	if t.gen != c.gen {
		// Admitted before a transition; it finished late.
		return false
	}
	return c.state != StateHalfOpen || t.trial
}

// RecordSuccess reports a successful call.
func (c *Circuit) RecordSuccess(t Ticket) {
	c.mu.Lock()
	if !c.counts(t) {
		c.mu.Unlock()
		return
	}

	switch c.state {
	case StateClosed:
		c.failures = 0
		c.mu.Unlock()
	case StateHalfOpen:
		c.failures = 0
		c.cooldown = c.cfg.Cooldown
		c.trialInFlight = false
		change := c.transition(StateClosed, c.now())
		c.mu.Unlock()
		c.notify(change)
	default:
		c.mu.Unlock()
	}
}

// RecordFailure reports a failed call.
func (c *Circuit) RecordFailure(t Ticket) {
	c.mu.Lock()
	if !c.counts(t) {
		c.mu.Unlock()
		return
	}

	switch c.state {
	case StateClosed:
		c.failures++
		if c.failures < c.cfg.FailureThreshold {
			c.mu.Unlock()
			return
		}
		now := c.now()
		c.failures = 0
		c.trips++
		c.openedAt = now
		change := c.transition(StateOpen, now)
		c.mu.Unlock()
		c.notify(change)

	case StateHalfOpen:
		now := c.now()
		c.trialInFlight = false
		c.trips++
		c.cooldown = min(c.cooldown*2, c.maxCooldown())
		c.openedAt = now
		change := c.transition(StateOpen, now)
		c.mu.Unlock()
		c.notify(change)

	default:
		c.mu.Unlock()
	}
}

// State returns the current state without advancing it.
func (c *Circuit) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current bookkeeping.
func (c *Circuit) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Provider:            c.name,
		State:               c.state.String(),
		ConsecutiveFailures: c.failures,
		Trips:               c.trips,
		Cooldown:            c.cooldown,
		ChangedAt:           c.changedAt,
	}
}

func (c *Circuit) maxCooldown() time.Duration {
	if c.cfg.MaxCooldown < c.cfg.Cooldown {
		return c.cfg.Cooldown
	}
	return c.cfg.MaxCooldown
}

// transition must be called with mu held.
func (c *Circuit) transition(to State, at time.Time) StateChange {
	c.gen++
	change := StateChange{Provider: c.name, Seq: c.gen, From: c.state, To: to, At: at, Cooldown: c.cooldown}
	c.state = to
	c.changedAt = at
	return change
}

func (c *Circuit) notify(change StateChange) {
	for _, l := range c.listeners {
		l(change)
	}
}

// BreakerOption configures Breakers.
type BreakerOption func(*Breakers)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breakers) { b.now = now }
}

// WithStateListener registers a callback for every circuit transition.
// Callbacks run outside the circuit lock.
func WithStateListener(fn func(StateChange)) BreakerOption {
	return func(b *Breakers) { b.listeners = append(b.listeners, fn) }
}

// Breakers owns exactly one Circuit per provider name.
// The registry lock guards the map only; circuits synchronize themselves.
type Breakers struct {
	cfg       BreakerConfig
	now       func() time.Time
	listeners []func(StateChange)

	mu       sync.RWMutex
	circuits map[string]*Circuit
}

// NewBreakers creates a registry handing out circuits with the given config.
func NewBreakers(cfg BreakerConfig, opts ...BreakerOption) *Breakers {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	b := &Breakers{
		cfg:      cfg,
		now:      time.Now,
		circuits: make(map[string]*Circuit),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Get returns the circuit for a provider, creating it on first use.
func (b *Breakers) Get(providerName string) *Circuit {
	b.mu.RLock()
	c, ok := b.circuits[providerName]
	b.mu.RUnlock()
	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[providerName]; ok {
		return c
	}
	c = newCircuit(providerName, b.cfg, b.now, b.listeners)
	b.circuits[providerName] = c
	return c
}

// Snapshots returns a view of every known circuit sorted by provider.
func (b *Breakers) Snapshots() []Snapshot {
	b.mu.RLock()
	circuits := make([]*Circuit, 0, len(b.circuits))
	for _, c := range b.circuits {
		circuits = append(circuits, c)
	}
	b.mu.RUnlock()

	out := make([]Snapshot, 0, len(circuits))
	for _, c := range circuits {
		out = append(out, c.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// TripCounts returns how often each known circuit has opened.
func (b *Breakers) TripCounts() map[string]int {
	counts := make(map[string]int)
	for _, s := range b.Snapshots() {
		counts[s.Provider] = s.Trips
	}
	return counts
}

// TrippedSince returns the providers whose circuit opened after before was taken,
// sorted by name. Circuits are shared, so before is how a caller scopes trips to one run.
func (b *Breakers) TrippedSince(before map[string]int) []string {
	var names []string
	for _, s := range b.Snapshots() {
		if s.Trips > before[s.Provider] {
			names = append(names, s.Provider)
		}
	}
	return names
}
