package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"promoagent/internal/domain"
	"promoagent/internal/secrets"
	"promoagent/internal/tooling"
)

// maxBodyBytes bounds request bodies on every JSON route.
const maxBodyBytes = 64 << 10

// jsonMarshal is used when encoding responses and WSMessage; tests may
// replace it to force Marshal errors. Access is protected by jsonMarshalMu
// for race-safe test swaps.
var (
	jsonMarshalMu sync.RWMutex
	jsonMarshal   = json.Marshal
)

func marshal(v any) ([]byte, error) {
	jsonMarshalMu.RLock()
	m := jsonMarshal
	jsonMarshalMu.RUnlock()
	return m(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := marshal(v)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// toolArgs extracts tool arguments from a request body. Both the bare
// arguments object and the {"params": {...}} wrapper are accepted; an empty
// body means no arguments.
func toolArgs(body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return json.RawMessage("{}"), nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if params, ok := fields["params"]; ok && len(fields) == 1 {
		params = bytes.TrimSpace(params)
		if len(params) > 0 && params[0] == '{' {
			return params, nil
		}
	}
	return body, nil
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if s.tools == nil {
		writeJSON(w, http.StatusOK, []domain.ToolDefinition{})
		return
	}
	writeJSON(w, http.StatusOK, s.tools.Definitions())
}

// handleTool runs one tool. Envelopes, including ValidationError and
// NotFound, are returned with 200; an unreachable catalog answers 503 with a
// ToolUnavailable envelope.
func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if s.tools == nil {
		writeJSON(w, http.StatusNotFound, domain.ErrorResponse(domain.KindNotFound, "no tools are served here"))
		return
	}
	tool, err := s.tools.Get(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, domain.ErrorResponse(domain.KindNotFound, err.Error()))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse(domain.KindValidation, "unreadable request body"))
		return
	}
	args, err := toolArgs(body)
	if err != nil {
		writeJSON(w, http.StatusOK, domain.ErrorResponse(domain.KindValidation, "request body is not a JSON object"))
		return
	}

	start := time.Now()
	resp, err := tool.Call(r.Context(), args)
	if err != nil {
		if errors.Is(err, domain.ErrToolUnavailable) {
			s.logger.Warn("tool unavailable",
				"tool", name,
				"duration", time.Since(start),
				"error", secrets.Redact(err.Error(), s.secrets...))
			writeJSON(w, http.StatusServiceUnavailable, domain.ErrorResponse(domain.KindToolUnavailable, "the promotions catalog is temporarily unavailable"))
			return
		}
		if verr, ok := tooling.AsValidationError(err); ok {
			writeJSON(w, http.StatusOK, domain.ErrorResponse(domain.KindValidation, verr.Error()))
			return
		}
		s.logger.Error("tool failed", "tool", name, "error", secrets.Redact(err.Error(), s.secrets...))
		writeJSON(w, http.StatusInternalServerError, domain.ErrorResponse(domain.KindToolUnavailable, "internal error"))
		return
	}
	s.logger.Debug("tool call", "tool", name, "duration", time.Since(start), "kind", string(resp.Kind()))
	writeJSON(w, http.StatusOK, resp)
}
