package tooling

import (
	"context"
	"encoding/json"

	"promoagent/internal/domain"
)

// SchemaTool is a tool whose input is described by a JSON Schema generated from
// a Go struct via invopop/jsonschema. The brain passes Definition() to the
// model and validates proposed arguments with Validate before calling Call().
type SchemaTool interface {
	// Name returns the unique tool name used in function-calling.
	Name() string
	// Description returns a human-readable description for the model.
	Description() string
	// Definition returns the JSON Schema string for the tool's input struct.
	Definition() string
	// Validate checks args against the schema and returns them normalized with
	// defaults applied. Failures are reported as *ValidationError.
	Validate(args json.RawMessage) (json.RawMessage, error)
	// Call validates args and executes the tool. Invalid arguments produce a
	// ValidationError envelope; a nil error with a NotFound envelope means the
	// lookup succeeded but matched nothing. Errors wrap
	// domain.ErrToolUnavailable.
	Call(ctx context.Context, args json.RawMessage) (*domain.ToolResponse, error)
}

// PrevalidatedTool is a SchemaTool that can run arguments already normalized
// by its Validate method without checking them again.
type PrevalidatedTool interface {
	SchemaTool
	Execute(ctx context.Context, normalized json.RawMessage) (*domain.ToolResponse, error)
}
