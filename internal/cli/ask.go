package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"promoagent/internal/secrets"
)

// AskOptions holds options for the one-shot ask command.
type AskOptions struct {
	SessionID string // empty generates one
	JSON      bool   // print the whole reply as JSON
}

// askOutput is the JSON form of an answered question.
type askOutput struct {
	SessionID string `json:"sessionId"`
	Reply     string `json:"reply"`
	Outcome   string `json:"outcome"`
	Tool      string `json:"tool,omitempty"`
	TurnID    string `json:"turnId"`
}

// RunAsk answers one utterance and prints the reply. The reply is printed
// even when the turn fails; the failure is then also returned.
func RunAsk(ctx context.Context, app *App, utterance string, opts AskOptions, out io.Writer) error {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return fmt.Errorf("ask: message is empty")
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = "cli:" + uuid.NewString()
	}

	reply, turnErr := app.Turn(ctx, sessionID, utterance)
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(askOutput{
			SessionID: sessionID,
			Reply:     reply.Text,
			Outcome:   string(reply.Outcome),
			Tool:      reply.Tool,
			TurnID:    reply.TurnID,
		}); err != nil {
			return fmt.Errorf("ask: %w", err)
		}
	} else {
		fmt.Fprintln(out, reply.Text)
	}
	if turnErr != nil {
		return fmt.Errorf("ask: %s", secrets.Redact(turnErr.Error()))
	}
	return nil
}
