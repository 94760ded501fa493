package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"promoagent/internal/tooling"
)

// RunToolsList prints each registered tool with its description, or every
// definition including its JSON Schema when schemas is set.
func RunToolsList(reg *tooling.ToolRegistry, schemas bool, out io.Writer) error {
	defs := reg.Definitions()
	if schemas {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	}
	for _, d := range defs {
		fmt.Fprintf(out, "%s\n    %s\n", d.Name, d.Description)
	}
	return nil
}

// RunToolCall calls one tool directly with raw JSON arguments and prints the
// envelope. Validation failures are envelopes too, so only transport-level
// failures return an error.
func RunToolCall(ctx context.Context, reg *tooling.ToolRegistry, name, args string, out io.Writer) error {
	tool, err := reg.Get(name)
	if err != nil {
		return err
	}
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		return fmt.Errorf("tool %s: arguments are not valid JSON", name)
	}
	resp, err := tool.Call(ctx, json.RawMessage(args))
	if resp != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(resp); encErr != nil {
			return fmt.Errorf("tool %s: %w", name, encErr)
		}
	}
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}
	return nil
}
