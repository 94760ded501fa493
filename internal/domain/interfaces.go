package domain

import "context"

// Tool names published to the model and used on the HTTP tool boundary.
const (
	ToolListPromotions = "list_promotions_by_country"
	ToolGetPromotion   = "get_promotion_by_id"
)

// ListQuery is the validated, normalised input of a country listing.
type ListQuery struct {
	Country string
	Page    int
	Limit   int
	Include []string
	Sort    string
}

// PromotionSource is the read-only promotion catalog. Implementations may be
// in-memory, database-backed or remote. Failures reaching the catalog must
// wrap ErrToolUnavailable.
type PromotionSource interface {
	// ListByCountry returns the requested page as a list envelope.
	ListByCountry(ctx context.Context, q ListQuery) (*ToolResponse, error)

	// GetByID returns the promotion as a singular envelope, or an envelope
	// with error NotFound when no record has that id.
	GetByID(ctx context.Context, id int, include []string) (*ToolResponse, error)
}

// Selection is the model's decision for one turn: at most one tool call, plus
// any free text the model produced (never shown to players unvalidated).
type Selection struct {
	Call *ToolCall
	Text string
	// Topic names the promotion the player asked about when the call alone
	// cannot find it, e.g. a title to look for in a listing.
	Topic string
}

// SelectionRequest carries everything a selector may look at.
type SelectionRequest struct {
	Utterance string
	Pending   *PendingIntent
	// Topic is the topic of an earlier selection in this turn, or of the
	// clarification the utterance answers.
	Topic string
	Tools []ToolDefinition
	// Previous holds the tool calls and responses already made this turn, so a
	// selector can chain a listing into a lookup.
	Previous []ToolExchange
}

// ToolExchange is one executed call and its envelope.
type ToolExchange struct {
	Call     ToolCall
	Response *ToolResponse
}

// ToolSelector decides which tool, if any, answers the utterance.
type ToolSelector interface {
	Select(ctx context.Context, req SelectionRequest) (*Selection, error)
}

// Drafter lets the model write the reply from the tool output. Drafts are
// accepted only when they pass the grounding and tone gates.
type Drafter interface {
	Draft(ctx context.Context, utterance string, exchange ToolExchange) (string, error)
}
