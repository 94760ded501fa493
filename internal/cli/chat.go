package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"promoagent/internal/secrets"
	"promoagent/internal/session"
)

// ChatOptions holds options for the interactive chat command.
type ChatOptions struct {
	SessionID  string // empty generates one
	Transcript string // JSONL file the turns are appended to; empty disables
}

// chatPrompt is written before each player line.
const chatPrompt = "> "

// timeNow stamps transcript entries; tests may replace it.
var timeNow = time.Now

// RunChat reads utterances line by line from in and writes each reply to out
// until in ends, ctx is done or the player types /quit. /history prints the
// last turns of the transcript.
func RunChat(ctx context.Context, app *App, opts ChatOptions, in io.Reader, out io.Writer) error {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = "cli:" + uuid.NewString()
	}
	var history *session.HistoryStore
	if opts.Transcript != "" {
		history = session.NewHistoryStore(opts.Transcript)
	}

	fmt.Fprintln(out, "Promotions assistant. Type /quit to leave.")
	scanner := bufio.NewScanner(in)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fmt.Fprint(out, chatPrompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			printHistory(history, out)
			continue
		}

		reply, err := app.Turn(ctx, sessionID, line)
		if err != nil {
			app.Logger.Warn("turn failed", "session", sessionID, "error", secrets.Redact(err.Error()))
		}
		fmt.Fprintln(out, reply.Text)

		if history != nil {
			entry := session.Entry{
				Session:   sessionID,
				Turn:      reply.TurnID,
				Utterance: line,
				Reply:     reply.Text,
				Outcome:   string(reply.Outcome),
				Tool:      reply.Tool,
				Time:      timeNow().UTC(),
			}
			if err := history.Append(entry); err != nil {
				app.Logger.Warn("transcript append failed", "error", err)
			}
		}
	}
}

// historyShown is how many turns /history prints.
const historyShown = 10

func printHistory(history *session.HistoryStore, out io.Writer) {
	if history == nil {
		fmt.Fprintln(out, "No transcript is being kept (use --transcript).")
		return
	}
	entries, err := history.Last(historyShown)
	if err != nil {
		fmt.Fprintf(out, "Transcript unavailable: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No turns yet.")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(out, "[%s] %s -> %s\n", e.Time.Format(time.RFC3339), e.Utterance, e.Outcome)
	}
}
