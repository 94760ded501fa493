package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"promoagent/internal/domain"
)

// maxResponseBytes caps how much of a remote response is read.
const maxResponseBytes = 4 << 20

// RemoteOption configures a Remote source.
type RemoteOption func(*Remote)

// WithHTTPClient replaces the default HTTP client. Nil is ignored.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		if c != nil {
			r.client = c
		}
	}
}

// WithToken sends Authorization: Bearer <token> on every call.
func WithToken(token string) RemoteOption {
	return func(r *Remote) { r.token = token }
}

// WithRemoteLogger sets the structured logger. Nil is ignored.
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(r *Remote) {
		if l != nil {
			r.logger = l
		}
	}
}

// Remote calls a tool server over HTTP: POST {base}/tools/<name>, falling
// back to POST {base}/api/tools/<name> when the first path is not served.
// The request body is {"params": <validated tool request>}; the response body
// is a ToolResponse envelope. Transport failures, unexpected statuses and
// undecodable bodies are reported as ErrToolUnavailable.
type Remote struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewRemote returns a remote source for baseURL (e.g. "http://localhost:8000").
func NewRemote(baseURL string, opts ...RemoteOption) (*Remote, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("catalog: remote base URL must not be empty")
	}
	r := &Remote{baseURL: baseURL, client: &http.Client{}}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Remote) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

type listRequest struct {
	Country string   `json:"country"`
	Page    int      `json:"page"`
	Limit   int      `json:"limit"`
	Include []string `json:"include,omitempty"`
	Sort    string   `json:"sort,omitempty"`
}

type getRequest struct {
	ID      int      `json:"id"`
	Include []string `json:"include,omitempty"`
}

type toolCall struct {
	Params any `json:"params"`
}

// ListByCountry implements domain.PromotionSource.
func (r *Remote) ListByCountry(ctx context.Context, q domain.ListQuery) (*domain.ToolResponse, error) {
	return r.call(ctx, domain.ToolListPromotions, listRequest{
		Country: q.Country, Page: q.Page, Limit: q.Limit, Include: q.Include, Sort: q.Sort,
	})
}

// GetByID implements domain.PromotionSource. Servers that answer with a
// different record, or with a list, are held to the requested id: a list is
// searched for it and any other mismatch is reported as NotFound.
func (r *Remote) GetByID(ctx context.Context, id int, include []string) (*domain.ToolResponse, error) {
	resp, err := r.call(ctx, domain.ToolGetPromotion, getRequest{ID: id, Include: include})
	if err != nil || resp.Kind() != "" || resp.IsNull() {
		return resp, err
	}
	records, err := resp.Records()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrToolUnavailable, domain.ToolGetPromotion, err)
	}
	for _, p := range records {
		if p.ID == id {
			return domain.ItemResponse(p)
		}
	}
	r.log().Warn("remote returned a different promotion", "tool", domain.ToolGetPromotion, "requested", id)
	return domain.ErrorResponse(domain.KindNotFound, ""), nil
}

// Paths returns the endpoints tried for a tool, in order.
func (r *Remote) Paths(tool string) []string {
	return []string{
		r.baseURL + "/tools/" + tool,
		r.baseURL + "/api/tools/" + tool,
	}
}

func (r *Remote) call(ctx context.Context, tool string, params any) (*domain.ToolResponse, error) {
	body, err := json.Marshal(toolCall{Params: params})
	if err != nil {
		return nil, fmt.Errorf("catalog remote %s: encode: %w", tool, err)
	}

	var lastErr error
	for _, url := range r.Paths(tool) {
		resp, status, err := r.post(ctx, url, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrToolUnavailable, tool, err)
		}
		if status == http.StatusNotFound || status == http.StatusMethodNotAllowed {
			r.log().Debug("remote tool path not served", "tool", tool, "status", status)
			lastErr = fmt.Errorf("status %d", status)
			continue
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("%w: %s: status %d", domain.ErrToolUnavailable, tool, status)
		}
		var env domain.ToolResponse
		if err := json.Unmarshal(resp, &env); err != nil {
			return nil, fmt.Errorf("%w: %s: invalid envelope: %v", domain.ErrToolUnavailable, tool, err)
		}
		if env.Kind() == domain.KindToolUnavailable {
			return nil, fmt.Errorf("%w: %s: reported by server", domain.ErrToolUnavailable, tool)
		}
		if len(env.Data) == 0 {
			env.Data = json.RawMessage("null")
		}
		return &env, nil
	}
	return nil, fmt.Errorf("%w: %s: no endpoint served the tool: %v", domain.ErrToolUnavailable, tool, lastErr)
}

func (r *Remote) post(ctx context.Context, url string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

var _ domain.PromotionSource = (*Remote)(nil)
