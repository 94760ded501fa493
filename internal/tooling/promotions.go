package tooling

import (
	"context"
	"encoding/json"
	"fmt"

	"promoagent/internal/domain"
)

// Limits bounds list pagination. MaxLimit is published as the schema maximum
// of limit; DefaultLimit is applied when limit is omitted.
type Limits struct {
	MaxLimit      int
	DefaultLimit  int
	StrictInclude bool
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxLimit: 100, DefaultLimit: 50}
}

func (l Limits) normalized() Limits {
	d := DefaultLimits()
	if l.MaxLimit <= 0 {
		l.MaxLimit = d.MaxLimit
	}
	if l.DefaultLimit <= 0 || l.DefaultLimit > l.MaxLimit {
		l.DefaultLimit = min(d.DefaultLimit, l.MaxLimit)
	}
	return l
}

// ListPromotionsTool lists active promotions for a country, paginated.
type ListPromotionsTool struct {
	source    domain.PromotionSource
	schema    string
	validator *Validator
}

// NewListPromotionsTool builds the tool over source. Panics if source is nil.
func NewListPromotionsTool(source domain.PromotionSource, limits Limits) *ListPromotionsTool {
	if source == nil {
		panic("tooling: promotion source must not be nil")
	}
	limits = limits.normalized()

	s := Reflect(&ListPromotionsInput{})
	if p, ok := s.Properties.Get("limit"); ok {
		p.Maximum = json.Number(fmt.Sprint(limits.MaxLimit))
		p.Default = limits.DefaultLimit
	}
	if p, ok := s.Properties.Get("page"); ok {
		p.Default = 1
	}
	if p, ok := s.Properties.Get("include"); ok && limits.StrictInclude && p.Items != nil {
		p.Items.Enum = includeEnum()
	}
	schema := RenderSchema(s)

	v, err := NewValidator(domain.ToolListPromotions, schema, WithNormalizer("country", UpperTrim))
	if err != nil {
		panic(fmt.Sprintf("tooling: %v", err))
	}
	return &ListPromotionsTool{source: source, schema: schema, validator: v}
}

// Name returns the tool name used in function-calling.
func (t *ListPromotionsTool) Name() string { return domain.ToolListPromotions }

// Description returns a human-readable description for the model.
func (t *ListPromotionsTool) Description() string {
	return "Lists the casino promotions available to players of one country. " +
		"Results are paginated; meta.total is the number of matching promotions."
}

// Definition returns the JSON Schema for the tool input.
func (t *ListPromotionsTool) Definition() string { return t.schema }

// Validator exposes the compiled validator.
func (t *ListPromotionsTool) Validator() *Validator { return t.validator }

// Validate implements SchemaTool.
func (t *ListPromotionsTool) Validate(args json.RawMessage) (json.RawMessage, error) {
	return t.validator.ValidateRaw(args)
}

// Call implements SchemaTool.
func (t *ListPromotionsTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResponse, error) {
	normalized, err := t.validator.ValidateRaw(args)
	if err != nil {
		return domain.ErrorResponse(domain.KindValidation, err.Error()), nil
	}
	return t.Execute(ctx, normalized)
}

// Execute implements PrevalidatedTool.
func (t *ListPromotionsTool) Execute(ctx context.Context, normalized json.RawMessage) (*domain.ToolResponse, error) {
	var in ListPromotionsInput
	if resp := decode(normalized, &in); resp != nil {
		return resp, nil
	}
	return t.source.ListByCountry(ctx, domain.ListQuery{
		Country: in.Country,
		Page:    in.Page,
		Limit:   in.Limit,
		Include: in.Include,
		Sort:    in.Sort,
	})
}

// GetPromotionTool fetches one promotion by id.
type GetPromotionTool struct {
	source    domain.PromotionSource
	schema    string
	validator *Validator
}

// NewGetPromotionTool builds the tool over source. Panics if source is nil.
func NewGetPromotionTool(source domain.PromotionSource, limits Limits) *GetPromotionTool {
	if source == nil {
		panic("tooling: promotion source must not be nil")
	}
	s := Reflect(&GetPromotionInput{})
	if p, ok := s.Properties.Get("include"); ok && limits.StrictInclude && p.Items != nil {
		p.Items.Enum = includeEnum()
	}
	schema := RenderSchema(s)

	v, err := NewValidator(domain.ToolGetPromotion, schema)
	if err != nil {
		panic(fmt.Sprintf("tooling: %v", err))
	}
	return &GetPromotionTool{source: source, schema: schema, validator: v}
}

// Name returns the tool name used in function-calling.
func (t *GetPromotionTool) Name() string { return domain.ToolGetPromotion }

// Description returns a human-readable description for the model.
func (t *GetPromotionTool) Description() string {
	return "Returns the full details of a single casino promotion by its numeric id."
}

// Definition returns the JSON Schema for the tool input.
func (t *GetPromotionTool) Definition() string { return t.schema }

// Validator exposes the compiled validator.
func (t *GetPromotionTool) Validator() *Validator { return t.validator }

// Validate implements SchemaTool.
func (t *GetPromotionTool) Validate(args json.RawMessage) (json.RawMessage, error) {
	return t.validator.ValidateRaw(args)
}

// Call implements SchemaTool.
func (t *GetPromotionTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResponse, error) {
	normalized, err := t.validator.ValidateRaw(args)
	if err != nil {
		return domain.ErrorResponse(domain.KindValidation, err.Error()), nil
	}
	return t.Execute(ctx, normalized)
}

// Execute implements PrevalidatedTool.
func (t *GetPromotionTool) Execute(ctx context.Context, normalized json.RawMessage) (*domain.ToolResponse, error) {
	var in GetPromotionInput
	if resp := decode(normalized, &in); resp != nil {
		return resp, nil
	}
	return t.source.GetByID(ctx, in.ID, in.Include)
}

// decode reads normalized arguments into out, answering with a
// ValidationError envelope when they do not fit.
func decode(normalized json.RawMessage, out any) *domain.ToolResponse {
	if err := json.Unmarshal(normalized, out); err != nil {
		return domain.ErrorResponse(domain.KindValidation, "arguments do not match the tool input")
	}
	return nil
}

func includeEnum() []any {
	out := make([]any, len(domain.IncludeFields))
	for i, f := range domain.IncludeFields {
		out[i] = f
	}
	return out
}

// RegisterPromotionTools registers both promotion tools on reg.
func RegisterPromotionTools(reg *ToolRegistry, source domain.PromotionSource, limits Limits) error {
	if err := reg.Register(NewListPromotionsTool(source, limits)); err != nil {
		return err
	}
	return reg.Register(NewGetPromotionTool(source, limits))
}

var (
	_ PrevalidatedTool = (*ListPromotionsTool)(nil)
	_ PrevalidatedTool = (*GetPromotionTool)(nil)
)
