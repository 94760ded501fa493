// Package brain runs one conversational turn: it asks the selector for a tool
// call, validates and executes it, and composes a grounded, formal reply.
package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"promoagent/internal/domain"
	"promoagent/internal/grounding"
	"promoagent/internal/injection"
	"promoagent/internal/retry"
	"promoagent/internal/secrets"
	"promoagent/internal/session"
	"promoagent/internal/tooling"
)

// State is a step of the turn state machine.
type State string

const (
	StateAwaitingUtterance   State = "awaiting_utterance"
	StateToolSelection       State = "tool_selection"
	StateToolValidation      State = "tool_validation"
	StateToolExecution       State = "tool_execution"
	StateResponseComposition State = "response_composition"
)

// Outcome classifies the reply of a turn.
type Outcome string

const (
	OutcomeAnswer        Outcome = "answer"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeEmpty         Outcome = "empty"
	OutcomeClarification Outcome = "clarification"
	OutcomeRefusal       Outcome = "refusal"
	OutcomeUnavailable   Outcome = "unavailable"
	OutcomeFailure       Outcome = "failure"
)

// Reply is what a turn produces for the player.
type Reply struct {
	Text    string  `json:"text"`
	Outcome Outcome `json:"outcome"`
	Tool    string  `json:"tool,omitempty"`
	TurnID  string  `json:"turnId"`
}

// Defaults used when no option overrides them.
const (
	DefaultToolTimeout  = 5 * time.Second
	DefaultMaxToolCalls = 3
)

// Option is a functional option for configuring Brain.
type Option func(*Brain)

// WithLogger sets a structured logger for the Brain. If l is nil it is ignored
// and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(b *Brain) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithDrafter lets the model write replies. Drafts that fail the grounding or
// tone checks are replaced by the template reply. Nil is ignored.
func WithDrafter(d domain.Drafter) Option {
	return func(b *Brain) {
		if d != nil {
			b.drafter = d
		}
	}
}

// WithStore sets the pending-intent store. Nil is ignored.
func WithStore(s *session.Store) Option {
	return func(b *Brain) {
		if s != nil {
			b.store = s
		}
	}
}

// WithComposer replaces the template composer.
func WithComposer(c grounding.Composer) Option {
	return func(b *Brain) { b.composer = c }
}

// WithToolTimeout bounds each tool call. Non-positive values are ignored.
func WithToolTimeout(d time.Duration) Option {
	return func(b *Brain) {
		if d > 0 {
			b.toolTimeout = d
		}
	}
}

// WithToolRetries sets how many times an unavailable tool is retried.
func WithToolRetries(n int) Option {
	return func(b *Brain) { b.toolRetry = retry.ToolConfig(n) }
}

// WithMaxToolCalls caps the chained tool calls of one turn. Non-positive
// values are ignored.
func WithMaxToolCalls(n int) Option {
	return func(b *Brain) {
		if n > 0 {
			b.maxToolCalls = n
		}
	}
}

// WithSecrets names values that must never appear in log lines.
func WithSecrets(values ...string) Option {
	return func(b *Brain) { b.secrets = append(b.secrets, values...) }
}

// Brain answers player utterances using only tool output.
type Brain struct {
	selector     domain.ToolSelector
	dispatcher   *ToolDispatcher
	drafter      domain.Drafter // optional; nil means template replies only
	store        *session.Store
	composer     grounding.Composer
	toolTimeout  time.Duration
	toolRetry    retry.Config
	maxToolCalls int
	secrets      []string
	logger       *slog.Logger // optional; nil uses slog.Default()
	newID        func() string
}

// NewBrain returns a Brain that selects tools with selector and runs them
// through dispatcher. Both must not be nil.
func NewBrain(selector domain.ToolSelector, dispatcher *ToolDispatcher, opts ...Option) *Brain {
	if selector == nil {
		panic("brain: selector must not be nil")
	}
	if dispatcher == nil {
		panic("brain: dispatcher must not be nil")
	}
	b := &Brain{
		selector:     selector,
		dispatcher:   dispatcher,
		store:        session.NewStore(session.DefaultTTL),
		toolTimeout:  DefaultToolTimeout,
		toolRetry:    retry.ToolConfig(retry.MaxToolRetries),
		maxToolCalls: DefaultMaxToolCalls,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// log returns the Brain's logger, falling back to the default slog logger.
func (b *Brain) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

// Tools returns the definitions offered to the selector.
func (b *Brain) Tools() []domain.ToolDefinition {
	return b.dispatcher.FormatToolsForLLM()
}

// turn carries the per-call state of Turn.
type turn struct {
	session string
	id      string
	log     *slog.Logger
}

func (t *turn) enter(s State) {
	t.log.Debug("turn state", "state", string(s))
}

func (t *turn) reply(text string, outcome Outcome, tool string) Reply {
	t.enter(StateAwaitingUtterance)
	return Reply{Text: text, Outcome: outcome, Tool: tool, TurnID: t.id}
}

// Turn answers one utterance of sessionID. The returned Reply always carries
// player-facing text; a non-nil error accompanies the generic failure reply.
func (b *Brain) Turn(ctx context.Context, sessionID, utterance string) (Reply, error) {
	t := &turn{session: sessionID, id: b.newID()}
	t.log = b.log().With("session", sessionID, "turn", t.id)

	if scan := injection.Scan(utterance); scan.Detected {
		t.log.Warn("prompt injection suspected", "patterns", scan.Patterns)
		b.store.Clear(sessionID)
		return t.reply(grounding.Refusal, OutcomeRefusal, ""), nil
	}

	pending, _ := b.store.Pending(sessionID)
	tools := b.Tools()
	var done []domain.ToolExchange
	var topic string
	if pending != nil {
		topic = pending.Topic
	}

	for len(done) < b.maxToolCalls {
		t.enter(StateToolSelection)
		sel, err := b.selector.Select(ctx, domain.SelectionRequest{
			Utterance: utterance,
			Pending:   pending,
			Topic:     topic,
			Tools:     tools,
			Previous:  done,
		})
		if err != nil {
			t.log.Error("tool selection failed", "error", b.redact(err.Error()))
			return t.reply(grounding.Failure, OutcomeFailure, ""), fmt.Errorf("brain: select: %w", err)
		}
		if sel == nil || sel.Call == nil {
			if len(done) > 0 {
				break
			}
			return b.outOfScope(t, pending), nil
		}

		if sel.Topic != "" {
			topic = sel.Topic
		}
		call := *sel.Call
		if pending != nil {
			if call.Name == pending.Tool {
				call.Arguments = mergeArgs(pending.Arguments, call.Arguments)
			}
			b.store.Clear(sessionID)
			pending = nil
		}

		t.enter(StateToolValidation)
		normalized, err := b.dispatcher.Validate(call.Name, call.Arguments)
		if err != nil {
			if errors.Is(err, tooling.ErrUnknownTool) {
				t.log.Warn("selector chose an unknown tool", "tool", call.Name)
				return t.reply(grounding.Refusal, OutcomeRefusal, ""), nil
			}
			if verr, ok := tooling.AsValidationError(err); ok {
				return b.clarify(t, call, verr, topic), nil
			}
			return t.reply(grounding.Failure, OutcomeFailure, call.Name), fmt.Errorf("brain: validate %s: %w", call.Name, err)
		}
		call.Arguments = normalized

		t.enter(StateToolExecution)
		resp, err := b.execute(ctx, t, call)
		if err != nil {
			if errors.Is(err, domain.ErrToolUnavailable) {
				return t.reply(grounding.Unavailable, OutcomeUnavailable, call.Name), nil
			}
			t.log.Error("tool call failed", "tool", call.Name, "error", b.redact(err.Error()))
			return t.reply(grounding.Failure, OutcomeFailure, call.Name), fmt.Errorf("brain: call %s: %w", call.Name, err)
		}
		done = append(done, domain.ToolExchange{Call: call, Response: resp})
	}

	t.enter(StateResponseComposition)
	last := done[len(done)-1]
	outcome := classify(last.Response)
	text := b.composer.Compose(last)
	if outcome == OutcomeAnswer {
		text = b.draft(ctx, t, utterance, last, text)
	}
	return t.reply(text, outcome, last.Call.Name), nil
}

// outOfScope handles a selection without a tool call. Any model text is
// discarded.
func (b *Brain) outOfScope(t *turn, pending *domain.PendingIntent) Reply {
	if pending != nil {
		t.log.Debug("no tool call while clarification pending", "tool", pending.Tool)
		text := grounding.Clarification(pending.Fields, func(f string) string {
			return b.dispatcher.Describe(pending.Tool, f)
		})
		return t.reply(text, OutcomeClarification, pending.Tool)
	}
	t.log.Info("out of scope utterance", "kind", string(domain.KindScopeViolation))
	return t.reply(grounding.Refusal, OutcomeRefusal, "")
}

// clarify remembers the arguments that passed validation and asks for the
// rest.
func (b *Brain) clarify(t *turn, call domain.ToolCall, verr *tooling.ValidationError, topic string) Reply {
	fields := verr.Fields()
	args := grounding.Args(call)
	for _, f := range fields {
		delete(args, f)
	}
	b.store.Remember(t.session, domain.PendingIntent{
		Tool:      call.Name,
		Arguments: args,
		Fields:    fields,
		Topic:     topic,
	})
	t.log.Info("tool arguments rejected", "tool", call.Name, "kind", string(domain.KindValidation), "fields", fields)
	text := grounding.Clarification(fields, func(f string) string {
		return b.dispatcher.Describe(call.Name, f)
	})
	return t.reply(text, OutcomeClarification, call.Name)
}

// execute runs the call under the tool timeout and retries unavailability.
func (b *Brain) execute(ctx context.Context, t *turn, call domain.ToolCall) (*domain.ToolResponse, error) {
	start := time.Now()
	var resp *domain.ToolResponse
	attempts, err := retry.Do(ctx, b.toolRetry, retry.IsUnavailable, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, b.toolTimeout)
		defer cancel()
		r, err := b.dispatcher.HandleToolCall(callCtx, call.Name, call.Arguments)
		if err != nil {
			if callCtx.Err() != nil && !errors.Is(err, domain.ErrToolUnavailable) {
				return fmt.Errorf("%w: %v", domain.ErrToolUnavailable, err)
			}
			return err
		}
		if r == nil || r.Kind() == domain.KindToolUnavailable {
			msg := "empty response"
			if r != nil {
				msg = r.Message
			}
			return fmt.Errorf("%w: %s", domain.ErrToolUnavailable, msg)
		}
		resp = r
		return nil
	})
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, domain.ErrToolUnavailable) {
			t.log.Warn("tool unavailable",
				"tool", call.Name,
				"duration", duration,
				"attempts", attempts,
				"error", b.redact(err.Error()),
			)
		}
		return nil, err
	}
	t.log.Debug("tool call completed", "tool", call.Name, "duration", duration, "attempts", attempts)
	return resp, nil
}

// draft asks the drafter for a reply and keeps it only when every fact is
// grounded and the register is formal.
func (b *Brain) draft(ctx context.Context, t *turn, utterance string, ex domain.ToolExchange, template string) string {
	if b.drafter == nil {
		return template
	}
	text, err := b.drafter.Draft(ctx, utterance, ex)
	if err != nil || text == "" {
		if err != nil {
			t.log.Warn("draft failed", "error", b.redact(err.Error()))
		}
		return template
	}
	if err := grounding.CheckGrounded(text, ex); err != nil {
		t.log.Info("draft rejected", "gate", "grounding", "reason", err.Error())
		return template
	}
	if err := grounding.CheckTone(text); err != nil {
		t.log.Info("draft rejected", "gate", "tone", "reason", err.Error())
		return template
	}
	return text
}

func (b *Brain) redact(s string) string {
	return secrets.Redact(s, b.secrets...)
}

// classify maps an envelope to the turn outcome.
func classify(resp *domain.ToolResponse) Outcome {
	switch resp.Kind() {
	case "":
	case domain.KindNotFound:
		return OutcomeNotFound
	case domain.KindToolUnavailable:
		return OutcomeUnavailable
	default:
		return OutcomeEmpty
	}
	records, err := resp.Records()
	if err != nil || len(records) == 0 {
		return OutcomeEmpty
	}
	return OutcomeAnswer
}

// mergeArgs lays the new arguments over the stored ones.
func mergeArgs(stored map[string]any, raw json.RawMessage) json.RawMessage {
	merged := make(map[string]any, len(stored))
	for k, v := range stored {
		merged[k] = v
	}
	var fresh map[string]any
	if err := json.Unmarshal(raw, &fresh); err == nil {
		for k, v := range fresh {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return raw
	}
	return out
}
