// Package cli implements the promoagent subcommands. Each Run function takes
// its writers explicitly and returns an error (or exit code) so the commands
// can be driven from tests without a process.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"promoagent/internal/brain"
	"promoagent/internal/domain"
	"promoagent/internal/grounding"
	"promoagent/internal/queue"
	"promoagent/internal/retry"
	"promoagent/internal/secrets"
	"promoagent/internal/session"
	"promoagent/internal/tooling"
)

// App is the assembled agent: the catalog, its tools and the brain in front
// of them. Build creates one per process.
type App struct {
	Config   *domain.Config
	Logger   *slog.Logger
	Secrets  secrets.SecretsManager // nil when no secrets file is usable
	Source   domain.PromotionSource
	Registry *tooling.ToolRegistry
	Brain    *brain.Brain
	Lanes    *queue.LaneQueue

	closeSource func() error
}

// NewLogger builds the process logger from the log section of the config.
func NewLogger(cfg domain.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Build opens the configured source and wires the tools, the selector and the
// brain. Close releases what Build opened.
func Build(ctx context.Context, cfg *domain.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("build: config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	sm, err := secretsManager()
	if err != nil {
		// Secrets may still come from the environment.
		logger.Debug("secrets file unavailable", "error", secrets.Redact(err.Error()))
		sm = nil
	}

	token, err := secrets.Optional(sm, secrets.KeySourceToken)
	if err != nil {
		return nil, fmt.Errorf("build: source token: %w", err)
	}
	source, closeSource, err := catalogOpen(ctx, cfg.Source, token, logger)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	reg := tooling.NewToolRegistry()
	limits := tooling.Limits{
		MaxLimit:      cfg.Tools.MaxLimit,
		DefaultLimit:  cfg.Tools.DefaultLimit,
		StrictInclude: cfg.Tools.StrictInclude,
	}
	if err := tooling.RegisterPromotionTools(reg, source, limits); err != nil {
		closeSource()
		return nil, fmt.Errorf("build: %w", err)
	}

	getSecret := func(name string) (string, error) { return secrets.Lookup(sm, name) }
	modelRetry := retry.DefaultConfig()
	agent, err := llmNew(&cfg.Agent, getSecret, &modelRetry)
	if err != nil {
		closeSource()
		return nil, fmt.Errorf("build: %w", err)
	}

	opts := []brain.Option{
		brain.WithLogger(logger),
		brain.WithStore(session.NewStore(session.DefaultTTL)),
		brain.WithToolTimeout(cfg.Tools.Timeout.Std()),
		brain.WithToolRetries(cfg.Tools.MaxRetries),
		brain.WithMaxToolCalls(cfg.Tools.MaxToolCalls),
		brain.WithSecrets(token),
	}
	if agent.Drafter != nil {
		opts = append(opts, brain.WithDrafter(agent.Drafter))
	}
	if key, _ := secrets.Optional(sm, secrets.KeyOpenAI); key != "" {
		opts = append(opts, brain.WithSecrets(strings.Split(key, ",")...))
	}

	app := &App{
		Config:      cfg,
		Logger:      logger,
		Secrets:     sm,
		Source:      source,
		Registry:    reg,
		Brain:       brain.NewBrain(agent.Selector, brain.NewToolDispatcher(reg), opts...),
		Lanes:       queue.NewLaneQueue(queue.WithIdleTimeout(laneIdleTimeout)),
		closeSource: closeSource,
	}
	logger.Debug("agent ready",
		"source", cfg.Source.Kind,
		"provider", cfg.Agent.Provider,
		"draft", agent.Drafter != nil,
	)
	return app, nil
}

// Close stops the lanes and releases the catalog.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.Lanes != nil {
		a.Lanes.Close()
	}
	if a.closeSource != nil {
		return a.closeSource()
	}
	return nil
}

// Turn runs one utterance through the session's lane. A turn that failed or
// never ran because ctx ended yields the failure reply.
func (a *App) Turn(ctx context.Context, sessionID, utterance string) (brain.Reply, error) {
	r, err := queue.Run(ctx, a.Lanes, sessionID, func(ctx context.Context) (brain.Reply, error) {
		return a.Brain.Turn(ctx, sessionID, utterance)
	})
	if err != nil {
		return brain.Reply{Text: grounding.Failure, Outcome: brain.OutcomeFailure}, err
	}
	return r, nil
}
