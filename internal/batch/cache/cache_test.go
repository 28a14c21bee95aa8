package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, cfg Config, opts ...Option) (*Cache, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c, err := New(cfg, append([]Option{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, clock
}

func TestCache_GetIdempotent(t *testing.T) {
	c, _ := newTestCache(t, Config{Capacity: 8, TTL: time.Minute})

	c.Put("k", []byte("audio"))
	for i := 0; i < 3; i++ {
		got, ok := c.Get("k")
		if !ok || string(got) != "audio" {
			t.Fatalf("get %d = %q, %v", i, got, ok)
		}
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("hit on missing key")
	}

	st := c.Stats()
	if st.Hits != 3 || st.Misses != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCache_PutRefreshes(t *testing.T) {
	c, clock := newTestCache(t, Config{Capacity: 8, TTL: time.Minute})

	c.Put("k", []byte("v1"))
	clock.Advance(50 * time.Second)
	c.Put("k", []byte("v2"))
	clock.Advance(50 * time.Second)

	got, ok := c.Get("k")
	if !ok || string(got) != "v2" {
		t.Fatalf("get = %q, %v; want v2 refreshed", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c, clock := newTestCache(t, Config{Capacity: 8, TTL: time.Minute})

	c.Put("k", []byte("v"))
	clock.Advance(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired early")
	}

	// access does not extend lifetime
	clock.Advance(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry returned")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not purged on get, len = %d", c.Len())
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c, _ := newTestCache(t, Config{Capacity: 2, TTL: time.Minute, Shards: 1})

	c.Put("a", []byte("a"))
	c.Put("b", []byte("b"))
	c.Get("a") // a becomes most recent
	c.Put("c", []byte("c"))

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry evicted")
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("evictions = %d, want 1", got)
	}
}

func TestCache_EvictExpired(t *testing.T) {
	c, clock := newTestCache(t, Config{Capacity: 64, TTL: time.Minute, Shards: 4})

	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("old-%d", i), []byte("x"))
	}
	clock.Advance(30 * time.Second)
	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("new-%d", i), []byte("x"))
	}
	clock.Advance(30 * time.Second)

	if n := c.EvictExpired(); n != 10 {
		t.Errorf("EvictExpired = %d, want 10", n)
	}
	if c.Len() != 5 {
		t.Errorf("len = %d, want 5", c.Len())
	}

	s := NewSweeper(c, 0)
	clock.Advance(30 * time.Second)
	if n := s.Sweep(); n != 5 {
		t.Errorf("Sweep = %d, want 5", n)
	}
}

func TestCache_Concurrent(t *testing.T) {
	c, _ := newTestCache(t, Config{Capacity: 1000, TTL: time.Minute})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k-%d", i%50)
				c.Put(key, []byte(key))
				if got, ok := c.Get(key); ok && string(got) != key {
					t.Errorf("key %s returned %q", key, got)
				}
			}
		}(w)
	}
	wg.Wait()

	if c.Len() != 50 {
		t.Errorf("len = %d, want 50", c.Len())
	}
}

func TestNew_InvalidCapacity(t *testing.T) {
	if _, err := New(Config{Capacity: 0}); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

type mapBacking struct {
	mu     sync.Mutex
	data   map[string][]byte
	failOn bool
}

func (m *mapBacking) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn {
		return nil, false, errors.New("backing down")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapBacking) Set(_ context.Context, key string, payload []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = payload
	return nil
}

func TestCache_BackingTier(t *testing.T) {
	ctx := context.Background()
	backing := &mapBacking{data: map[string][]byte{"remote": []byte("r")}}
	c, _ := newTestCache(t, Config{Capacity: 8, TTL: time.Minute}, WithBacking(backing))

	got, ok := c.Fetch(ctx, "remote")
	if !ok || string(got) != "r" {
		t.Fatalf("Fetch remote = %q, %v", got, ok)
	}
	if _, ok := c.Get("remote"); !ok {
		t.Error("backing hit not promoted to L1")
	}

	c.Store(ctx, "local", []byte("l"))
	if string(backing.data["local"]) != "l" {
		t.Error("Store did not write through")
	}

	backing.failOn = true
	if _, ok := c.Fetch(ctx, "absent"); ok {
		t.Error("failing backing produced a hit")
	}
}

func TestKey(t *testing.T) {
	voice := domain.VoiceOptions{Voice: "alloy", Format: "mp3", Extra: map[string]string{"b": "2", "a": "1"}}

	base := Key("openai", voice, "Hello   world ")
	if base != Key("openai", voice, " Hello world") {
		t.Error("whitespace normalization changed the key")
	}
	if base != Key("OpenAI", domain.VoiceOptions{
		Voice: "alloy", Format: "MP3", Extra: map[string]string{"a": "1", "b": "2"},
	}, "Hello world") {
		t.Error("extras order or case changed the key")
	}

	wav := voice
	wav.Format = "wav"
	if base == Key("openai", wav, "Hello world") {
		t.Error("format not part of the key")
	}
	if base == Key("other", voice, "Hello world") {
		t.Error("provider not part of the key")
	}
	if base == Key("openai", voice, "hello world") {
		t.Error("text case folded")
	}
}
