package brain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"promoagent/internal/domain"
	"promoagent/internal/tooling"
)

// =============================================================================
// fakeSchemaTool is a test double for dispatcher tests
// =============================================================================

type fakeSchemaTool struct {
	name        string
	schema      string
	validator   *tooling.Validator
	validations int
	calls       int
	gotArgs     json.RawMessage
	resp        *domain.ToolResponse
	callErr     error
}

func (f *fakeSchemaTool) Name() string        { return f.name }
func (f *fakeSchemaTool) Description() string { return f.name + " description" }
func (f *fakeSchemaTool) Definition() string  { return f.schema }

func (f *fakeSchemaTool) Validate(args json.RawMessage) (json.RawMessage, error) {
	f.validations++
	return f.validator.ValidateRaw(args)
}

func (f *fakeSchemaTool) Call(_ context.Context, args json.RawMessage) (*domain.ToolResponse, error) {
	f.calls++
	f.gotArgs = args
	return f.resp, f.callErr
}

// executingTool also runs prevalidated arguments.
type executingTool struct {
	*fakeSchemaTool
	executed int
}

func (e *executingTool) Execute(_ context.Context, normalized json.RawMessage) (*domain.ToolResponse, error) {
	e.executed++
	e.gotArgs = normalized
	return e.resp, e.callErr
}

func newFake(name string) *fakeSchemaTool {
	schema := `{"type":"object","properties":{"x":{"type":"number"}},"required":["x"],"additionalProperties":false}`
	v, err := tooling.NewValidator(name, schema)
	if err != nil {
		panic(err)
	}
	return &fakeSchemaTool{
		name:      name,
		schema:    schema,
		validator: v,
		resp:      domain.ErrorResponse(domain.KindNotFound, ""),
	}
}

func newDispatcher(t *testing.T, tools ...tooling.SchemaTool) *ToolDispatcher {
	t.Helper()
	reg := tooling.NewToolRegistry()
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return NewToolDispatcher(reg)
}

// =============================================================================
// NewToolDispatcher
// =============================================================================

func TestNewToolDispatcher_ShouldPanicWhenRegistryIsNil(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic when registry is nil")
		}
	}()
	NewToolDispatcher(nil)
}

// =============================================================================
// FormatToolsForLLM
// =============================================================================

func TestToolDispatcher_FormatToolsForLLM_ShouldReturnSortedDefinitions(t *testing.T) {
	d := newDispatcher(t, newFake("zeta"), newFake("alpha"))
	defs := d.FormatToolsForLLM()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
	if !json.Valid(defs[0].InputSchema) {
		t.Errorf("schema is not valid JSON: %s", defs[0].InputSchema)
	}
}

func TestToolDispatcher_FormatToolsForLLM_WhenEmpty_ShouldReturnEmptySlice(t *testing.T) {
	d := newDispatcher(t)
	if defs := d.FormatToolsForLLM(); len(defs) != 0 {
		t.Errorf("want none, got %d", len(defs))
	}
}

// =============================================================================
// HandleToolCall
// =============================================================================

func TestToolDispatcher_HandleToolCall_ShouldCallToolWithoutRevalidating(t *testing.T) {
	fake := newFake("calc")
	d := newDispatcher(t, fake)

	resp, err := d.HandleToolCall(context.Background(), "calc", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("HandleToolCall: %v", err)
	}
	if resp.Kind() != domain.KindNotFound || fake.calls != 1 {
		t.Errorf("resp %+v, calls %d", resp, fake.calls)
	}
	if fake.validations != 0 {
		t.Errorf("arguments validated %d times by the dispatcher", fake.validations)
	}
}

func TestToolDispatcher_HandleToolCall_WhenToolExecutes_ShouldUseExecute(t *testing.T) {
	tool := &executingTool{fakeSchemaTool: newFake("calc")}
	d := newDispatcher(t, tool)

	normalized, err := d.Validate("calc", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := d.HandleToolCall(context.Background(), "calc", normalized); err != nil {
		t.Fatalf("HandleToolCall: %v", err)
	}
	if tool.validations != 1 || tool.executed != 1 || tool.calls != 0 {
		t.Errorf("validations %d, executed %d, calls %d", tool.validations, tool.executed, tool.calls)
	}
}

func TestToolDispatcher_Validate_WhenArgsInvalid_ShouldReturnValidationError(t *testing.T) {
	fake := newFake("calc")
	d := newDispatcher(t, fake)

	_, err := d.Validate("calc", json.RawMessage(`{"x":"one"}`))
	verr, ok := tooling.AsValidationError(err)
	if !ok || !verr.Has("x", tooling.TypeMismatch) {
		t.Errorf("want type-mismatch on x, got %v", err)
	}
	if fake.calls != 0 {
		t.Error("tool must not be called by Validate")
	}
}

func TestToolDispatcher_HandleToolCall_WhenUnknownTool_ShouldReturnErrUnknownTool(t *testing.T) {
	d := newDispatcher(t)
	_, err := d.HandleToolCall(context.Background(), "nope", nil)
	if !errors.Is(err, tooling.ErrUnknownTool) {
		t.Errorf("want ErrUnknownTool, got %v", err)
	}
}

func TestToolDispatcher_HandleToolCall_ShouldPropagateToolError(t *testing.T) {
	fake := newFake("calc")
	fake.callErr = domain.ErrToolUnavailable
	d := newDispatcher(t, fake)
	_, err := d.HandleToolCall(context.Background(), "calc", json.RawMessage(`{"x":1}`))
	if !errors.Is(err, domain.ErrToolUnavailable) {
		t.Errorf("want ErrToolUnavailable, got %v", err)
	}
}

func TestToolDispatcher_HandleToolCall_ShouldPassNormalizedArgs(t *testing.T) {
	src := &recordingSource{inner: nil}
	reg := tooling.NewToolRegistry()
	_ = tooling.RegisterPromotionTools(reg, src, tooling.DefaultLimits())
	d := NewToolDispatcher(reg)

	src.err = domain.ErrToolUnavailable
	normalized, err := d.Validate(domain.ToolListPromotions, json.RawMessage(`{"country":"ar","page":"2"}`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	_, _ = d.HandleToolCall(context.Background(), domain.ToolListPromotions, normalized)
	q := src.lastQuery()
	if q.Country != "AR" || q.Page != 2 || q.Limit != 50 {
		t.Errorf("normalized query: %+v", q)
	}
}

// =============================================================================
// Validate / Describe
// =============================================================================

func TestToolDispatcher_Validate_ShouldReturnNormalizedArgs(t *testing.T) {
	reg := tooling.NewToolRegistry()
	_ = tooling.RegisterPromotionTools(reg, &recordingSource{}, tooling.DefaultLimits())
	d := NewToolDispatcher(reg)

	got, err := d.Validate(domain.ToolGetPromotion, json.RawMessage(`{"id":"7"}`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if string(got) != `{"id":7}` {
		t.Errorf("got %s", got)
	}
}

func TestToolDispatcher_Describe(t *testing.T) {
	reg := tooling.NewToolRegistry()
	_ = tooling.RegisterPromotionTools(reg, &recordingSource{}, tooling.DefaultLimits())
	d := newDispatcher(t, newFake("plain"))
	full := NewToolDispatcher(reg)

	if got := full.Describe(domain.ToolListPromotions, "page"); got != "1-based page number." {
		t.Errorf("page description: %q", got)
	}
	if got := full.Describe("missing", "page"); got != "" {
		t.Errorf("unknown tool: %q", got)
	}
	if got := d.Describe("plain", "x"); got != "" {
		t.Errorf("tool without validator: %q", got)
	}
}
