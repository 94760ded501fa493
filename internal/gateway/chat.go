package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"promoagent/internal/brain"
	"promoagent/internal/secrets"
)

// ChatRequest is the body of POST /chat. An empty SessionID starts a new
// session whose id is returned in the response.
type ChatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// ChatResponse is the reply to POST /chat.
type ChatResponse struct {
	SessionID string `json:"sessionId"`
	Reply     string `json:"reply"`
	Outcome   string `json:"outcome"`
	Tool      string `json:"tool,omitempty"`
	TurnID    string `json:"turnId"`
}

// newSessionID is used when a chat request carries no session; tests may replace it.
var newSessionID = uuid.NewString

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "chat is not enabled"})
		return
	}
	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message must not be empty"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = newSessionID()
	}

	reply, err := s.turn(r.Context(), "http:"+req.SessionID, req.Message)
	if reply.Text == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "the assistant is not available"})
		return
	}
	if err != nil {
		s.logger.Error("chat turn failed", "session", req.SessionID, "turn", reply.TurnID, "error", secrets.Redact(err.Error(), s.secrets...))
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		SessionID: req.SessionID,
		Reply:     reply.Text,
		Outcome:   string(reply.Outcome),
		Tool:      reply.Tool,
		TurnID:    reply.TurnID,
	})
}

// turn runs one turn in the session's lane. A lane or context failure before
// the turn finished yields an empty reply.
func (s *Server) turn(ctx context.Context, sessionID, message string) (brain.Reply, error) {
	done := make(chan brain.Reply, 1)
	err := s.lanes.Do(ctx, sessionID, func(ctx context.Context) error {
		r, err := s.chat.Turn(ctx, sessionID, message)
		done <- r
		return err
	})
	select {
	case r := <-done:
		return r, err
	default:
		return brain.Reply{}, err
	}
}
