package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"promoagent/internal/domain"
)

// DefaultOpenAIURL is the Chat Completions endpoint used when no base URL is
// configured.
const DefaultOpenAIURL = "https://api.openai.com/v1/chat/completions"

const selectPrompt = `You are the promotions assistant of an online casino.
You may only answer questions about casino promotions, and only with data returned by the tools list_promotions_by_country and get_promotion_by_id.
Always call a tool when the player asks about promotions. Map country names to ISO 3166-1 alpha-2 codes (Chile is CL, Argentina is AR, Mexico is MX, Spain is ES, the United States is US).
When the player names a promotion instead of giving its id, list the promotions of the player's country once and then fetch the matching promotion by id.
Common names: partners is "Juégalo Partners" (ID 68), cumpleaños is "Bono Cumpleaños" (ID 1), bienvenida is "Bono de Bienvenida" (ID 50), cashback is "Cashback" (ID 2), lealtad is "Nuevo programa de lealtad" (ID 52).
If the request is not about casino promotions, do not call any tool.
Never guess a value the player did not give; omit the argument instead.`

const draftPrompt = `You write replies for the promotions assistant of an online casino.
Use a formal, courteous register. Never use slang, exclamation sequences or casual first-person phrases.
State only facts present in the tool result below. Copy titles, dates, identifiers and country codes exactly. Write titles in **bold**.
Never include image URLs or links. Reply in the language of the player.`

// OpenAIClient talks to an OpenAI-compatible Chat Completions API. It selects
// tools through function calling and drafts replies from tool output.
type OpenAIClient struct {
	apiKey      string
	model       string
	client      *http.Client
	baseURL     string
	marshalFunc func(v interface{}) ([]byte, error) // for testing
}

// NewOpenAIClient returns a client for model. An empty baseURL uses
// DefaultOpenAIURL; a base ending in /v1 gets /chat/completions appended.
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:      apiKey,
		model:       model,
		client:      &http.Client{},
		baseURL:     completionsURL(baseURL),
		marshalFunc: json.Marshal,
	}
}

func completionsURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case base == "":
		return DefaultOpenAIURL
	case strings.HasSuffix(base, "/chat/completions"):
		return base
	default:
		return base + "/chat/completions"
	}
}

type openAIRequest struct {
	Model      string          `json:"model"`
	Messages   []openAIMessage `json:"messages"`
	Tools      []openAITool    `json:"tools,omitempty"`
	ToolChoice string          `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

// Select implements domain.ToolSelector. The first tool call of the reply is
// used; the model's text is returned alongside but never shown unvalidated.
func (p *OpenAIClient) Select(ctx context.Context, req domain.SelectionRequest) (*domain.Selection, error) {
	messages := []openAIMessage{{Role: "system", Content: selectPrompt}}
	if req.Pending != nil {
		known, _ := json.Marshal(req.Pending.Arguments)
		messages = append(messages, openAIMessage{
			Role: "system",
			Content: fmt.Sprintf("The previous request to %s is missing or has invalid values for: %s. Arguments already known: %s. If the player now supplies them, call %s again.",
				req.Pending.Tool, strings.Join(req.Pending.Fields, ", "), known, req.Pending.Tool),
		})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Utterance})
	for _, ex := range req.Previous {
		call := openAIToolCall{ID: ex.Call.ID, Type: "function"}
		call.Function.Name = ex.Call.Name
		call.Function.Arguments = string(ex.Call.Arguments)
		result, _ := json.Marshal(ex.Response)
		messages = append(messages,
			openAIMessage{Role: "assistant", ToolCalls: []openAIToolCall{call}},
			openAIMessage{Role: "tool", ToolCallID: ex.Call.ID, Content: string(result)},
		)
	}

	tools := make([]openAITool, 0, len(req.Tools))
	for _, d := range req.Tools {
		tools = append(tools, openAITool{Type: "function", Function: openAIFunction{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.InputSchema,
		}})
	}

	msg, err := p.complete(ctx, openAIRequest{Model: p.model, Messages: messages, Tools: tools, ToolChoice: "auto"})
	if err != nil {
		return nil, err
	}
	sel := &domain.Selection{Text: msg.Content}
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		sel.Call = &domain.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(args)}
	}
	return sel, nil
}

// Draft implements domain.Drafter.
func (p *OpenAIClient) Draft(ctx context.Context, utterance string, ex domain.ToolExchange) (string, error) {
	result, err := p.marshalFunc(ex.Response)
	if err != nil {
		return "", fmt.Errorf("openai marshal: %w", err)
	}
	user := fmt.Sprintf("Player message:\n%s\n\nTool %s called with %s returned:\n%s",
		utterance, ex.Call.Name, ex.Call.Arguments, result)
	msg, err := p.complete(ctx, openAIRequest{
		Model: p.model,
		Messages: []openAIMessage{
			{Role: "system", Content: draftPrompt},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(msg.Content), nil
}

func (p *OpenAIClient) complete(ctx context.Context, body openAIRequest) (*openAIMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := p.marshalFunc(body)
	if err != nil {
		return nil, fmt.Errorf("openai marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai api: %s", resp.Status)
	}
	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response")
	}
	return &out.Choices[0].Message, nil
}

var (
	_ domain.ToolSelector = (*OpenAIClient)(nil)
	_ domain.Drafter      = (*OpenAIClient)(nil)
)
