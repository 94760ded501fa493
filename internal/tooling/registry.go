package tooling

import (
	"encoding/json"
	"fmt"
	"sort"

	"promoagent/internal/domain"
)

// ErrUnknownTool is returned by Get for names that were never registered.
var ErrUnknownTool = fmt.Errorf("unknown tool")

// ToolRegistry holds SchemaTool implementations keyed by name. The brain uses
// it to enumerate tool definitions for the model and dispatch calls. It is
// filled at startup and read-only afterwards.
type ToolRegistry struct {
	tools map[string]SchemaTool
}

// NewToolRegistry returns an empty, ready-to-use registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]SchemaTool)}
}

// Register adds a tool. Returns an error if the tool is nil or a tool with the
// same name is already registered.
func (r *ToolRegistry) Register(tool SchemaTool) error {
	if tool == nil {
		return fmt.Errorf("tool must not be nil")
	}
	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q is already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns the tool with the given name or an error wrapping ErrUnknownTool.
func (r *ToolRegistry) Get(name string) (SchemaTool, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return tool, nil
}

// List returns all registered tools sorted by name.
func (r *ToolRegistry) List() []SchemaTool {
	out := make([]SchemaTool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definitions returns domain.ToolDefinition for every registered tool, sorted
// by name, suitable for passing to a function-calling API.
func (r *ToolRegistry) Definitions() []domain.ToolDefinition {
	tools := r.List()
	out := make([]domain.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: json.RawMessage(t.Definition()),
		})
	}
	return out
}

// Validate checks args for the named tool without calling it.
func (r *ToolRegistry) Validate(name string, args json.RawMessage) (json.RawMessage, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return tool.Validate(args)
}
