package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"promoagent/internal/domain"
)

// =============================================================================
// RetryConfig
// =============================================================================

// Config controls retry behaviour for external calls.
type Config struct {
	MaxRetries     int           `json:"maxRetries"`     // Maximum number of retry attempts (0 = no retries)
	InitialBackoff time.Duration `json:"initialBackoff"` // Delay before first retry (0 = immediate)
	MaxBackoff     time.Duration `json:"maxBackoff"`     // Upper bound on backoff duration
	Multiplier     float64       `json:"multiplier"`     // Backoff multiplier (e.g. 2.0 for exponential)
}

// DefaultConfig returns the defaults used for model calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// MaxToolRetries is the most retries a tool call may get in one turn.
const MaxToolRetries = 1

// ToolConfig returns the policy for tool calls: at most one immediate retry.
func ToolConfig(maxRetries int) Config {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries > MaxToolRetries {
		maxRetries = MaxToolRetries
	}
	return Config{MaxRetries: maxRetries, MaxBackoff: time.Second, Multiplier: 1.0}
}

// Validate checks that all Config fields are within acceptable ranges.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("retry: MaxRetries must be >= 0")
	}
	if c.InitialBackoff < 0 {
		return errors.New("retry: InitialBackoff must be >= 0")
	}
	if c.MaxBackoff <= 0 {
		return errors.New("retry: MaxBackoff must be > 0")
	}
	if c.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	return nil
}

// =============================================================================
// Error Classification
// =============================================================================

// retryableStatusCodes are HTTP status codes that indicate a transient failure.
var retryableStatusCodes = []string{"429", "500", "502", "503", "504", "529"}

// IsRetryable returns true when err represents a transient failure that may
// succeed on retry (5xx, 429, timeout, connection refused, EOF).
// Context errors (Canceled, DeadlineExceeded) are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are never retryable; the caller chose to stop.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// net.Error timeout (wraps OS-level i/o timeout)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()

	for _, code := range retryableStatusCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}

	if strings.Contains(msg, "connection refused") {
		return true
	}
	if strings.Contains(msg, "EOF") {
		return true
	}

	return false
}

// IsUnavailable reports whether err marks an unreachable or timed-out tool.
// These are the only tool failures worth retrying.
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrToolUnavailable)
}

// =============================================================================
// Do
// =============================================================================

// sleepFunc is used by Do between attempts; tests replace it.
var sleepFunc = time.Sleep

// Do calls fn until it succeeds, fails with an error retryIf rejects, or
// cfg.MaxRetries retries are spent. It returns the number of attempts made
// and the last error. A cancelled ctx stops further attempts.
func Do(ctx context.Context, cfg Config, retryIf func(error) bool, fn func(ctx context.Context) error) (int, error) {
	backoff := cfg.InitialBackoff
	attempts := 0
	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		attempts++
		err = fn(ctx)
		if err == nil || !retryIf(err) || attempt == cfg.MaxRetries {
			return attempts, err
		}
		if backoff > 0 {
			sleepFunc(backoff)
			next := time.Duration(float64(backoff) * cfg.Multiplier)
			if next > cfg.MaxBackoff {
				next = cfg.MaxBackoff
			}
			backoff = next
		}
		if ctx.Err() != nil {
			return attempts, err
		}
	}
	return attempts, err
}

// =============================================================================
// RetryableSelector (Decorator)
// =============================================================================

// RetryableSelector wraps a ToolSelector with retry-on-transient-error logic.
type RetryableSelector struct {
	inner     domain.ToolSelector
	config    Config
	sleepFunc func(time.Duration) // injectable for testing
}

// NewRetryableSelector returns a decorator that retries Select calls on
// transient errors. inner must not be nil.
func NewRetryableSelector(inner domain.ToolSelector, cfg Config) *RetryableSelector {
	if inner == nil {
		panic("retry: inner selector must not be nil")
	}
	return &RetryableSelector{
		inner:     inner,
		config:    cfg,
		sleepFunc: time.Sleep,
	}
}

// Select calls the inner selector and retries on transient errors with
// exponential backoff. Returns the first successful selection, or the last
// error after retries are exhausted.
func (p *RetryableSelector) Select(ctx context.Context, req domain.SelectionRequest) (*domain.Selection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		result, err := p.inner.Select(ctx, req)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}

		// Don't sleep after the last attempt
		if attempt == p.config.MaxRetries {
			break
		}

		p.sleepFunc(backoff)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		next := time.Duration(float64(backoff) * p.config.Multiplier)
		if next > p.config.MaxBackoff {
			next = p.config.MaxBackoff
		}
		backoff = next
	}

	return nil, fmt.Errorf("retries exhausted after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}

var _ domain.ToolSelector = (*RetryableSelector)(nil)
