package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// =============================================================================
// Core Configuration
// =============================================================================

type Config struct {
	Source   SourceConfig   `json:"source" yaml:"source"`
	Tools    ToolsConfig    `json:"tools" yaml:"tools"`
	Agent    AgentConfig    `json:"agent" yaml:"agent"`
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// SourceConfig selects the promotion data source.
type SourceConfig struct {
	Kind string `json:"kind" yaml:"kind"`                     // "memory" | "sqlite" | "remote"
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // YAML catalog file or database URL
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`   // remote tool server base URL
	// Watch reloads a memory catalog file when it changes on disk.
	Watch bool `json:"watch,omitempty" yaml:"watch,omitempty"`
}

// ToolsConfig bounds tool inputs and tool-call behaviour.
type ToolsConfig struct {
	MaxLimit      int      `json:"maxLimit" yaml:"maxLimit"`
	DefaultLimit  int      `json:"defaultLimit" yaml:"defaultLimit"`
	Timeout       Duration `json:"timeout" yaml:"timeout"`
	MaxRetries    int      `json:"maxRetries" yaml:"maxRetries"` // 0 or 1
	MaxToolCalls  int      `json:"maxToolCalls" yaml:"maxToolCalls"`
	StrictInclude bool     `json:"strictInclude,omitempty" yaml:"strictInclude,omitempty"`
}

type AgentConfig struct {
	Provider string `json:"provider" yaml:"provider"` // "local" | "openai"
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Draft    bool   `json:"draft,omitempty" yaml:"draft,omitempty"` // let the model draft replies (still gated)
}

type GatewayConfig struct {
	Port      int    `json:"port" yaml:"port"`
	AuthToken string `json:"authToken,omitempty" yaml:"authToken,omitempty"` // When set, requires Authorization: Bearer <authToken>
}

type TelegramConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type LogConfig struct {
	Format string `json:"format" yaml:"format"` // "json" | "text"
	Level  string `json:"level" yaml:"level"`
}

// Duration is a time.Duration that reads and writes as a Go duration string ("5s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var ms int64
		if err2 := json.Unmarshal(b, &ms); err2 != nil {
			return fmt.Errorf("duration: %w", err)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// =============================================================================
// Promotions
// =============================================================================

// DateLayout is the ISO-8601 calendar date format used for promotion dates.
const DateLayout = "2006-01-02"

var (
	countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)
	slugPattern    = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// SortFields are the promotion fields a listing may be sorted by. A leading
// "-" on the sort key selects descending order.
var SortFields = []string{"id", "title", "startDate", "endDate", "country", "slug"}

// IncludeFields are the related fields catalogs know how to embed. An amount
// is quoted in the currency of the promotion's country.
var IncludeFields = []string{"terms", "countries", "image", "amount"}

// Promotion is a single catalog record. Records are immutable once loaded;
// sources hand out copies.
type Promotion struct {
	ID        int            `json:"id" yaml:"id"`
	Title     string         `json:"title" yaml:"title"`
	Content   string         `json:"content" yaml:"content"`
	StartDate string         `json:"startDate" yaml:"startDate"`
	EndDate   string         `json:"endDate,omitempty" yaml:"endDate,omitempty"`
	Country   string         `json:"country" yaml:"country"`
	Slug      string         `json:"slug" yaml:"slug"`
	Related   map[string]any `json:"related,omitempty" yaml:"related,omitempty"`
}

// Validate checks the record invariants: positive id, ISO-2 uppercase country,
// URL-safe slug, ISO dates and endDate >= startDate when both are set.
func (p Promotion) Validate() error {
	if p.ID <= 0 {
		return fmt.Errorf("promotion %d: id must be positive", p.ID)
	}
	if !countryPattern.MatchString(p.Country) {
		return fmt.Errorf("promotion %d: country %q is not an uppercase ISO-2 code", p.ID, p.Country)
	}
	if !slugPattern.MatchString(p.Slug) {
		return fmt.Errorf("promotion %d: slug %q is not URL-safe", p.ID, p.Slug)
	}
	start, err := time.Parse(DateLayout, p.StartDate)
	if err != nil {
		return fmt.Errorf("promotion %d: startDate: %w", p.ID, err)
	}
	if p.EndDate != "" {
		end, err := time.Parse(DateLayout, p.EndDate)
		if err != nil {
			return fmt.Errorf("promotion %d: endDate: %w", p.ID, err)
		}
		if end.Before(start) {
			return fmt.Errorf("promotion %d: endDate %s precedes startDate %s", p.ID, p.EndDate, p.StartDate)
		}
	}
	return nil
}

// Clone returns a copy that shares nothing mutable with p.
func (p Promotion) Clone() Promotion {
	if p.Related != nil {
		related := make(map[string]any, len(p.Related))
		for k, v := range p.Related {
			related[k] = v
		}
		p.Related = related
	}
	return p
}

// Project returns a copy carrying only the requested related fields. Keys the
// record does not have are skipped.
func (p Promotion) Project(include []string) Promotion {
	out := p
	out.Related = nil
	for _, key := range include {
		v, ok := p.Related[key]
		if !ok {
			continue
		}
		if out.Related == nil {
			out.Related = make(map[string]any, len(include))
		}
		out.Related[key] = v
	}
	return out
}

// =============================================================================
// Tool Envelope
// =============================================================================

// ErrorKind classifies a tool or dispatcher failure.
type ErrorKind string

const (
	KindValidation      ErrorKind = "ValidationError"
	KindNotFound        ErrorKind = "NotFound"
	KindToolUnavailable ErrorKind = "ToolUnavailable"
	KindScopeViolation  ErrorKind = "ScopeViolation"
)

// ErrToolUnavailable marks I/O failures and timeouts reaching the data source.
var ErrToolUnavailable = errors.New("tool unavailable")

// Meta describes the page a list response carries.
type Meta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// ToolResponse is the uniform {data, meta, error} envelope every tool returns.
// Data holds a Promotion object, an array of them, or null.
type ToolResponse struct {
	Data    json.RawMessage `json:"data"`
	Meta    *Meta           `json:"meta"`
	Error   *ErrorKind      `json:"error"`
	Message string          `json:"message,omitempty"`
}

// ListResponse builds a paginated envelope. A nil list is encoded as [].
func ListResponse(items []Promotion, meta Meta) (*ToolResponse, error) {
	if items == nil {
		items = []Promotion{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode promotions: %w", err)
	}
	return &ToolResponse{Data: raw, Meta: &meta}, nil
}

// ItemResponse builds a singular envelope.
func ItemResponse(item Promotion) (*ToolResponse, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode promotion: %w", err)
	}
	return &ToolResponse{Data: raw}, nil
}

// ErrorResponse builds an envelope with null data and the given error kind.
func ErrorResponse(kind ErrorKind, message string) *ToolResponse {
	k := kind
	return &ToolResponse{Data: json.RawMessage("null"), Error: &k, Message: message}
}

// Kind returns the envelope error kind, or "" when the call succeeded.
func (r *ToolResponse) Kind() ErrorKind {
	if r == nil || r.Error == nil {
		return ""
	}
	return *r.Error
}

// IsNull reports whether data is absent or JSON null.
func (r *ToolResponse) IsNull() bool {
	if r == nil {
		return true
	}
	s := string(r.Data)
	return s == "" || s == "null"
}

// Item decodes a singular data payload.
func (r *ToolResponse) Item() (*Promotion, error) {
	if r.IsNull() {
		return nil, nil
	}
	var p Promotion
	if err := json.Unmarshal(r.Data, &p); err != nil {
		return nil, fmt.Errorf("decode promotion: %w", err)
	}
	return &p, nil
}

// Items decodes a list data payload. Null decodes to an empty list.
func (r *ToolResponse) Items() ([]Promotion, error) {
	if r.IsNull() {
		return []Promotion{}, nil
	}
	var out []Promotion
	if err := json.Unmarshal(r.Data, &out); err != nil {
		return nil, fmt.Errorf("decode promotions: %w", err)
	}
	return out, nil
}

// Records returns the promotions in data whether it is a list or an object.
func (r *ToolResponse) Records() ([]Promotion, error) {
	if r.IsNull() {
		return nil, nil
	}
	if len(r.Data) > 0 && r.Data[0] == '[' {
		return r.Items()
	}
	p, err := r.Item()
	if err != nil || p == nil {
		return nil, err
	}
	return []Promotion{*p}, nil
}

// =============================================================================
// Conversation
// =============================================================================

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition is the schema published to the model for one tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// PendingIntent is a tool call that failed validation and is waiting for the
// player to supply the missing or invalid fields.
type PendingIntent struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Fields    []string       `json:"fields"`
	Topic     string         `json:"topic,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
