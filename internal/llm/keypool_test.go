package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"promoagent/internal/domain"
)

// fakeClock lets tests move a pool's time forward.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestPool(t *testing.T, keys ...string) (*KeyPool, *fakeClock) {
	t.Helper()
	pool, err := NewKeyPool(keys, time.Minute)
	if err != nil {
		t.Fatalf("NewKeyPool: %v", err)
	}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	pool.nowFunc = clock.Now
	return pool, clock
}

func nextKey(t *testing.T, pool *KeyPool) string {
	t.Helper()
	key, _, err := pool.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return key
}

// =============================================================================
// KeyPool
// =============================================================================

func TestNewKeyPool_WhenNoKeys_ShouldReturnError(t *testing.T) {
	if _, err := NewKeyPool(nil, time.Minute); err == nil {
		t.Error("expected error")
	}
}

func TestKeyPool_Next_ShouldRotateRoundRobin(t *testing.T) {
	pool, _ := newTestPool(t, "sk-a", "sk-b", "sk-c")
	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, nextKey(t, pool))
	}
	want := []string{"sk-a", "sk-b", "sk-c", "sk-a"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestKeyPool_MarkCooldown_ShouldSkipKeyUntilExpiry(t *testing.T) {
	pool, clock := newTestPool(t, "sk-a", "sk-b")
	_, idx, _ := pool.Next()
	pool.MarkCooldown(idx)
	if pool.Available() != 1 {
		t.Fatalf("available = %d", pool.Available())
	}
	for i := 0; i < 3; i++ {
		if k := nextKey(t, pool); k != "sk-b" {
			t.Fatalf("cooled key served: %s", k)
		}
	}
	clock.Advance(time.Minute + time.Second)
	if pool.Available() != 2 {
		t.Errorf("key should recover, available = %d", pool.Available())
	}
}

func TestKeyPool_Next_WhenAllCooling_ShouldReturnError(t *testing.T) {
	pool, _ := newTestPool(t, "sk-a")
	pool.MarkCooldown(0)
	if _, idx, err := pool.Next(); err == nil || idx != -1 {
		t.Errorf("want error and -1, got %d, %v", idx, err)
	}
}

func TestKeyPool_MarkCooldown_WhenIndexOutOfRange_ShouldIgnore(t *testing.T) {
	pool, _ := newTestPool(t, "sk-a")
	pool.MarkCooldown(-1)
	pool.MarkCooldown(5)
	if pool.Available() != 1 {
		t.Error("no key should cool down")
	}
}

func TestKeyPool_ShouldBeSafeForConcurrentUse(t *testing.T) {
	pool, err := NewKeyPool([]string{"sk-a", "sk-b", "sk-c"}, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, idx, err := pool.Next(); err == nil && j%7 == 0 {
					pool.MarkCooldown(idx)
				}
				_ = pool.Available()
			}
		}()
	}
	wg.Wait()
}

func TestIsRateLimitError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("openai api: 429 Too Many Requests"), true},
		{errors.New("Rate Limit reached for gpt-4o-mini"), true},
		{errors.New("openai api: 401 Unauthorized"), false},
		{errors.New("openai do: connection refused"), false},
	}
	for _, tc := range cases {
		if got := isRateLimitError(tc.err); got != tc.want {
			t.Errorf("isRateLimitError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

// =============================================================================
// KeyPoolClient
// =============================================================================

// keyServer answers like the Chat Completions API, rate limiting the keys in
// limited, and counts requests per key.
func keyServer(t *testing.T, limited ...string) (*httptest.Server, *sync.Map) {
	t.Helper()
	hits := &sync.Map{}
	blocked := map[string]bool{}
	for _, k := range limited {
		blocked[k] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		n, _ := hits.LoadOrStore(key, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)
		if blocked[key] {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":"drafted with %s"}}]}`, key)
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func hitCount(hits *sync.Map, key string) int32 {
	n, ok := hits.Load(key)
	if !ok {
		return 0
	}
	return n.(*atomic.Int32).Load()
}

func newPoolClient(t *testing.T, url string, keys ...string) *KeyPoolClient {
	t.Helper()
	pool, err := NewKeyPool(keys, time.Minute)
	if err != nil {
		t.Fatalf("NewKeyPool: %v", err)
	}
	clients := make([]*OpenAIClient, len(keys))
	for i, k := range keys {
		clients[i] = NewOpenAIClient(k, "gpt-test", url)
	}
	kpc, err := NewKeyPoolClient(pool, clients)
	if err != nil {
		t.Fatalf("NewKeyPoolClient: %v", err)
	}
	return kpc
}

func TestNewKeyPoolClient_WhenNilPool_ShouldReturnError(t *testing.T) {
	if _, err := NewKeyPoolClient(nil, []*OpenAIClient{NewOpenAIClient("k", "m", "")}); err == nil {
		t.Error("expected error for nil pool")
	}
}

func TestNewKeyPoolClient_WhenNoClients_ShouldReturnError(t *testing.T) {
	pool, _ := NewKeyPool([]string{"k"}, time.Minute)
	if _, err := NewKeyPoolClient(pool, nil); err == nil {
		t.Error("expected error for no clients")
	}
}

func TestNewKeyPoolClient_WhenMismatchedLengths_ShouldReturnError(t *testing.T) {
	pool, _ := NewKeyPool([]string{"a", "b"}, time.Minute)
	if _, err := NewKeyPoolClient(pool, []*OpenAIClient{NewOpenAIClient("a", "m", "")}); err == nil {
		t.Error("expected error for mismatched lengths")
	}
}

func TestKeyPoolClient_Draft_ShouldRotateKeys(t *testing.T) {
	srv, hits := keyServer(t)
	kpc := newPoolClient(t, srv.URL, "key-a", "key-b")

	first, err := kpc.Draft(context.Background(), "hola", domain.ToolExchange{})
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	second, _ := kpc.Draft(context.Background(), "hola", domain.ToolExchange{})
	if first != "drafted with key-a" || second != "drafted with key-b" {
		t.Errorf("rotation: %q then %q", first, second)
	}
	if hitCount(hits, "key-a") != 1 || hitCount(hits, "key-b") != 1 {
		t.Error("each key should be used once")
	}
}

func TestKeyPoolClient_WhenRateLimited_ShouldCooldownAndRetryNextKey(t *testing.T) {
	srv, hits := keyServer(t, "key-a")
	kpc := newPoolClient(t, srv.URL, "key-a", "key-b")

	got, err := kpc.Draft(context.Background(), "hola", domain.ToolExchange{})
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if got != "drafted with key-b" {
		t.Errorf("got %q", got)
	}
	if kpc.pool.Available() != 1 {
		t.Errorf("rate-limited key should be cooling down, available=%d", kpc.pool.Available())
	}
	_, _ = kpc.Draft(context.Background(), "hola", domain.ToolExchange{})
	if hitCount(hits, "key-a") != 1 {
		t.Errorf("cooled key reused: %d hits", hitCount(hits, "key-a"))
	}
}

func TestKeyPoolClient_WhenAllKeysRateLimited_ShouldReturnError(t *testing.T) {
	srv, _ := keyServer(t, "key-a")
	kpc := newPoolClient(t, srv.URL, "key-a")

	_, err := kpc.Select(context.Background(), domain.SelectionRequest{Utterance: "hola"})
	if err == nil || !strings.Contains(err.Error(), "cooldown") {
		t.Errorf("want cooldown error, got %v", err)
	}
}

func TestKeyPoolClient_WhenNon429Error_ShouldNotCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	kpc := newPoolClient(t, srv.URL, "key-a", "key-b")

	if _, err := kpc.Draft(context.Background(), "hola", domain.ToolExchange{}); err == nil {
		t.Fatal("expected error")
	}
	if kpc.pool.Available() != 2 {
		t.Errorf("no key should cool down on 401, available=%d", kpc.pool.Available())
	}
}

func TestKeyPoolClient_WhenContextCanceled_ShouldReturnContextError(t *testing.T) {
	srv, hits := keyServer(t)
	kpc := newPoolClient(t, srv.URL, "key-a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := kpc.Select(ctx, domain.SelectionRequest{}); err != context.Canceled {
		t.Errorf("want context.Canceled, got %v", err)
	}
	if hitCount(hits, "key-a") != 0 {
		t.Error("no request expected")
	}
}

// =============================================================================
// splitKeys
// =============================================================================

func TestSplitKeys(t *testing.T) {
	cases := map[string][]string{
		"sk-a":           {"sk-a"},
		"sk-a,sk-b":      {"sk-a", "sk-b"},
		" sk-a , sk-b ,": {"sk-a", "sk-b"},
		",, ,":           {},
		"":               {},
	}
	for raw, want := range cases {
		if got := splitKeys(raw); !reflect.DeepEqual(got, want) {
			t.Errorf("splitKeys(%q) = %#v, want %#v", raw, got, want)
		}
	}
}
