package llm

import (
	"fmt"
	"strings"
	"time"

	"promoagent/internal/domain"
	"promoagent/internal/retry"
)

// defaultCooldownDuration is the time a rate-limited key stays in cooldown.
const defaultCooldownDuration = 60 * time.Second

// DefaultModel is used when the agent config names none.
const DefaultModel = "gpt-4o-mini"

// openAISecret is the secrets key holding one or more comma-separated API keys.
const openAISecret = "openai"

// SecretGetter returns a secret by name (e.g. "openai"). Used to resolve API keys.
type SecretGetter func(name string) (string, error)

// Agent is what the factory builds: a selector and, when drafting is enabled,
// a drafter.
type Agent struct {
	Selector domain.ToolSelector
	Drafter  domain.Drafter // nil when replies are template-only
}

// New returns the selector (and optional drafter) for the given agent config.
// Provider may be "local" or "openai"; empty defaults to "local". retryCfg,
// if non-nil, wraps the selector with exponential-backoff retry on transient
// errors.
func New(agent *domain.AgentConfig, getSecret SecretGetter, retryCfg *retry.Config) (Agent, error) {
	if agent == nil {
		return Agent{Selector: NewLocalSelector()}, nil
	}
	provider := agent.Provider
	if provider == "" {
		provider = "local"
	}
	switch provider {
	case "local":
		return Agent{Selector: NewLocalSelector()}, nil
	case "openai":
		model := agent.Model
		if model == "" {
			model = DefaultModel
		}
		client, err := resolveKeyedClient(getSecret, func(key string) *OpenAIClient {
			return NewOpenAIClient(key, model, agent.BaseURL)
		})
		if err != nil {
			return Agent{}, err
		}
		out := Agent{Selector: wrapWithRetry(client, retryCfg)}
		if agent.Draft {
			out.Drafter = client
		}
		return out, nil
	default:
		return Agent{}, fmt.Errorf("unknown LLM provider %q (use: local, openai)", provider)
	}
}

// keyedClient is satisfied by both a single client and a key pool.
type keyedClient interface {
	domain.ToolSelector
	domain.Drafter
}

// splitKeys splits a raw secret value by commas, trims whitespace, and filters empty entries.
func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

// newKeyPoolFunc is the KeyPool constructor. Package-level var for test injection.
var newKeyPoolFunc = NewKeyPool

// resolveKeyedClient fetches the secret, splits it into one or more keys, and
// returns either a single client (one key) or a KeyPoolClient (multiple keys).
func resolveKeyedClient(getSecret SecretGetter, makeClient func(key string) *OpenAIClient) (keyedClient, error) {
	if getSecret == nil {
		return nil, fmt.Errorf("openai provider: no secret source configured")
	}
	raw, err := getSecret(openAISecret)
	if err != nil {
		return nil, fmt.Errorf("openai provider: %w (store with: promoagent secrets set %s <key>)", err, openAISecret)
	}
	keys := splitKeys(raw)
	if len(keys) == 0 {
		return nil, fmt.Errorf("openai provider: API key not set (store with: promoagent secrets set %s <key>)", openAISecret)
	}
	if len(keys) == 1 {
		return makeClient(keys[0]), nil
	}
	pool, err := newKeyPoolFunc(keys, defaultCooldownDuration)
	if err != nil {
		return nil, fmt.Errorf("openai key pool: %w", err)
	}
	clients := make([]*OpenAIClient, len(keys))
	for i, k := range keys {
		clients[i] = makeClient(k)
	}
	return NewKeyPoolClient(pool, clients)
}

// wrapWithRetry decorates a selector with retry logic when config is supplied.
func wrapWithRetry(sel domain.ToolSelector, retryCfg *retry.Config) domain.ToolSelector {
	if retryCfg == nil || retryCfg.MaxRetries <= 0 {
		return sel
	}
	return retry.NewRetryableSelector(sel, *retryCfg)
}
