package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"promoagent/internal/domain"
)

// KeyPool manages a pool of API keys with round-robin rotation and cooldown support.
// When a key receives a rate-limit (429) error, it can be marked as "cooldown" and
// subsequent calls to Next will skip it until the cooldown period expires.
// KeyPool is safe for concurrent use.
type KeyPool struct {
	keys        []string
	mu          sync.Mutex
	nextIdx     int
	cooldowns   []time.Time   // parallel to keys; zero means no cooldown
	cooldownDur time.Duration // how long a key stays in cooldown
	nowFunc     func() time.Time
}

// NewKeyPool creates a KeyPool from the given keys with the specified cooldown duration.
// Returns an error if keys is empty or nil.
func NewKeyPool(keys []string, cooldownDur time.Duration) (*KeyPool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("keypool: at least one key is required")
	}
	return &KeyPool{
		keys:        keys,
		cooldowns:   make([]time.Time, len(keys)),
		cooldownDur: cooldownDur,
		nowFunc:     time.Now,
	}, nil
}

// Next returns the next available key using round-robin, skipping keys in cooldown.
// Returns the key, its index, and an error if all keys are in cooldown.
func (kp *KeyPool) Next() (string, int, error) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	now := kp.nowFunc()
	n := len(kp.keys)

	// Try each key starting from nextIdx, wrapping around
	for i := 0; i < n; i++ {
		idx := (kp.nextIdx + i) % n
		if kp.cooldowns[idx].IsZero() || now.After(kp.cooldowns[idx]) {
			// This key is available
			kp.nextIdx = (idx + 1) % n
			return kp.keys[idx], idx, nil
		}
	}

	return "", -1, fmt.Errorf("keypool: all %d keys are in cooldown", n)
}

// MarkCooldown puts the key at the given index into cooldown for the configured duration.
// Out-of-range indices are silently ignored.
func (kp *KeyPool) MarkCooldown(idx int) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	if idx < 0 || idx >= len(kp.keys) {
		return
	}
	kp.cooldowns[idx] = kp.nowFunc().Add(kp.cooldownDur)
}

// Len returns the total number of keys in the pool.
func (kp *KeyPool) Len() int {
	return len(kp.keys)
}

// Available returns the number of keys not currently in cooldown.
func (kp *KeyPool) Available() int {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	now := kp.nowFunc()
	count := 0
	for _, cd := range kp.cooldowns {
		if cd.IsZero() || now.After(cd) {
			count++
		}
	}
	return count
}

// =============================================================================
// Rate-limit detection
// =============================================================================

// isRateLimitError returns true when the error indicates a 429 / rate-limit response.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// =============================================================================
// KeyPoolClient (selector and drafter decorator)
// =============================================================================

// KeyPoolClient wraps one OpenAIClient per API key and rotates between them
// using a KeyPool. On a 429 rate-limit error the current key is marked as
// cooldown and the request is retried once with the next available key.
type KeyPoolClient struct {
	pool    *KeyPool
	clients []*OpenAIClient
}

// NewKeyPoolClient creates a KeyPoolClient. The pool and clients must have matching lengths.
func NewKeyPoolClient(pool *KeyPool, clients []*OpenAIClient) (*KeyPoolClient, error) {
	if pool == nil {
		return nil, fmt.Errorf("keypool client: pool must not be nil")
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("keypool client: at least one client is required")
	}
	if pool.Len() != len(clients) {
		return nil, fmt.Errorf("keypool client: pool size (%d) must match clients count (%d)", pool.Len(), len(clients))
	}
	return &KeyPoolClient{pool: pool, clients: clients}, nil
}

// withKey runs fn with the next available client and, on a rate limit, once
// more with the following one.
func withKey[T any](ctx context.Context, k *KeyPoolClient, fn func(*OpenAIClient) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	_, idx, err := k.pool.Next()
	if err != nil {
		return zero, err
	}
	out, callErr := fn(k.clients[idx])
	if callErr == nil || !isRateLimitError(callErr) {
		return out, callErr
	}
	k.pool.MarkCooldown(idx)
	_, idx2, err := k.pool.Next()
	if err != nil {
		return zero, fmt.Errorf("all keys in cooldown after rate limit: %w", callErr)
	}
	return fn(k.clients[idx2])
}

// Select implements domain.ToolSelector.
func (k *KeyPoolClient) Select(ctx context.Context, req domain.SelectionRequest) (*domain.Selection, error) {
	return withKey(ctx, k, func(c *OpenAIClient) (*domain.Selection, error) {
		return c.Select(ctx, req)
	})
}

// Draft implements domain.Drafter.
func (k *KeyPoolClient) Draft(ctx context.Context, utterance string, ex domain.ToolExchange) (string, error) {
	return withKey(ctx, k, func(c *OpenAIClient) (string, error) {
		return c.Draft(ctx, utterance, ex)
	})
}

var (
	_ domain.ToolSelector = (*KeyPoolClient)(nil)
	_ domain.Drafter      = (*KeyPoolClient)(nil)
)
