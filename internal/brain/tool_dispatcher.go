package brain

import (
	"context"
	"encoding/json"

	"promoagent/internal/domain"
	"promoagent/internal/tooling"
)

// ToolDispatcher connects the brain to SchemaTool implementations.
// It formats tool definitions for the selector, validates arguments against
// each tool's schema and runs the validated call.
type ToolDispatcher struct {
	registry *tooling.ToolRegistry
}

// NewToolDispatcher creates a dispatcher backed by the given registry.
// Panics if registry is nil.
func NewToolDispatcher(registry *tooling.ToolRegistry) *ToolDispatcher {
	if registry == nil {
		panic("tool_dispatcher: registry must not be nil")
	}
	return &ToolDispatcher{registry: registry}
}

// FormatToolsForLLM returns domain.ToolDefinition slices ready to be serialised
// into a function-calling request.
func (d *ToolDispatcher) FormatToolsForLLM() []domain.ToolDefinition {
	return d.registry.Definitions()
}

// Validate checks and normalises args for the named tool. Rejected arguments
// come back as a *tooling.ValidationError.
func (d *ToolDispatcher) Validate(name string, args json.RawMessage) (json.RawMessage, error) {
	return d.registry.Validate(name, args)
}

// HandleToolCall calls the named tool with arguments that already passed
// Validate. They are not checked again: tools that support it run them through
// Execute, others through Call.
func (d *ToolDispatcher) HandleToolCall(ctx context.Context, name string, normalized json.RawMessage) (*domain.ToolResponse, error) {
	tool, err := d.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if p, ok := tool.(tooling.PrevalidatedTool); ok {
		return p.Execute(ctx, normalized)
	}
	return tool.Call(ctx, normalized)
}

// describer is implemented by tools that expose their compiled validator.
type describer interface {
	Validator() *tooling.Validator
}

// Describe returns the schema description of field for the named tool, or "".
func (d *ToolDispatcher) Describe(name, field string) string {
	tool, err := d.registry.Get(name)
	if err != nil {
		return ""
	}
	if v, ok := tool.(describer); ok && v.Validator() != nil {
		return v.Validator().Describe(field)
	}
	return ""
}
