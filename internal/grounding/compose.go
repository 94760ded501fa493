// Package grounding turns tool envelopes into formal player-facing replies and
// checks model drafts against the data they claim to describe.
package grounding

import (
	"encoding/json"
	"fmt"
	"strings"

	"promoagent/internal/domain"
)

// Fixed replies.
const (
	Refusal     = "I am only able to provide information regarding casino promotions."
	Unavailable = "We sincerely apologize; the promotions service is temporarily unavailable. Please try again in a few moments."
	Failure     = "We sincerely apologize; your request could not be completed at this time. Please try again later."
)

// Composer renders replies from tool responses using formal templates. Every
// fact it writes is copied from the envelope or the validated request.
type Composer struct {
	// MaxItems caps how many promotions a listing reply names. Zero means all.
	MaxItems int
}

// Args decodes validated tool arguments. Malformed input yields an empty map.
func Args(call domain.ToolCall) map[string]any {
	out := map[string]any{}
	if len(call.Arguments) > 0 {
		_ = json.Unmarshal(call.Arguments, &out)
	}
	return out
}

// Compose writes the reply for one executed call. Error envelopes and empty
// listings always produce a "no matching promotions" sentence.
func (c Composer) Compose(ex domain.ToolExchange) string {
	args := Args(ex.Call)
	resp := ex.Response

	switch resp.Kind() {
	case "":
	case domain.KindNotFound:
		return notFound(ex.Call.Name, args)
	case domain.KindToolUnavailable:
		return Unavailable
	default:
		return noMatches(args)
	}

	records, err := resp.Records()
	if err != nil || len(records) == 0 {
		if resp.Meta != nil && resp.Meta.Total > 0 {
			return pastEnd(args, *resp.Meta)
		}
		return noMatches(args)
	}

	if ex.Call.Name == domain.ToolGetPromotion || resp.Meta == nil {
		return detail(records[0])
	}
	return c.listing(args, records, *resp.Meta)
}

func notFound(tool string, args map[string]any) string {
	if tool == domain.ToolGetPromotion {
		if id, ok := intArg(args, "id"); ok {
			return fmt.Sprintf("No promotion with identifier %d was found. Please verify the identifier and try again.", id)
		}
	}
	return "No matching promotions were found."
}

func noMatches(args map[string]any) string {
	if country, ok := args["country"].(string); ok && country != "" {
		return fmt.Sprintf("No matching promotions were found for country %s.", country)
	}
	return "No matching promotions were found."
}

func pastEnd(args map[string]any, meta domain.Meta) string {
	return fmt.Sprintf("No matching promotions were found on page %d. There are %d promotions across %d pages for country %v.",
		meta.Page, meta.Total, meta.TotalPages, args["country"])
}

func (c Composer) listing(args map[string]any, records []domain.Promotion, meta domain.Meta) string {
	var b strings.Builder
	country, _ := args["country"].(string)
	if country == "" {
		country = records[0].Country
	}
	if meta.TotalPages > 1 {
		fmt.Fprintf(&b, "The following promotions are available for country %s (page %d of %d, %d in total):\n",
			country, meta.Page, meta.TotalPages, meta.Total)
	} else {
		fmt.Fprintf(&b, "The following promotions are available for country %s:\n", country)
	}

	shown := records
	if c.MaxItems > 0 && len(shown) > c.MaxItems {
		shown = shown[:c.MaxItems]
	}
	for _, p := range shown {
		if amount := amountOf(p); amount != "" {
			fmt.Fprintf(&b, "- **%s** (ID %d), %s, %s.\n", p.Title, p.ID, amount, validity(p))
			continue
		}
		fmt.Fprintf(&b, "- **%s** (ID %d), %s.\n", p.Title, p.ID, validity(p))
	}
	if meta.Page < meta.TotalPages {
		fmt.Fprintf(&b, "Further promotions are available on page %d.\n", meta.Page+1)
	}
	b.WriteString("Please indicate the identifier of any promotion for which you would like further details.")
	return b.String()
}

func detail(p domain.Promotion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (ID %d, country %s)\n", p.Title, p.ID, p.Country)
	if p.Content != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.Content)
	}
	if amount := amountOf(p); amount != "" {
		fmt.Fprintf(&b, "Amount: %s\n", amount)
	}
	fmt.Fprintf(&b, "Validity: %s.", capitalize(validity(p)))
	if terms, ok := p.Related["terms"].(string); ok && terms != "" {
		fmt.Fprintf(&b, "\nTerms and conditions: %s", terms)
	}
	if countries := stringList(p.Related["countries"]); len(countries) > 0 {
		fmt.Fprintf(&b, "\nAvailable in: %s.", strings.Join(countries, ", "))
	}
	return b.String()
}

// amountOf formats the promotion's amount, when the record carries one.
func amountOf(p domain.Promotion) string {
	v, ok := p.Related["amount"]
	if !ok {
		return ""
	}
	return FormatAmount(v, p.Country)
}

func validity(p domain.Promotion) string {
	if p.EndDate == "" {
		return fmt.Sprintf("valid from %s with no announced end date", p.StartDate)
	}
	return fmt.Sprintf("valid from %s until %s", p.StartDate, p.EndDate)
}

// Clarification asks for the named fields in plain language, using the schema
// descriptions when describe knows them.
func Clarification(fields []string, describe func(string) string) string {
	if len(fields) == 0 {
		return "Could you please clarify your request regarding casino promotions?"
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		label := plainName(f)
		if describe != nil {
			if d := strings.TrimSuffix(strings.TrimSpace(describe(f)), "."); d != "" {
				label = fmt.Sprintf("%s (%s)", label, lowerFirst(d))
			}
		}
		parts = append(parts, label)
	}
	return "To assist you with this request, could you please provide the following: " + strings.Join(parts, "; ") + "?"
}

// plainName turns a schema field name into words: "startDate" -> "start date".
func plainName(field string) string {
	switch field {
	case "id":
		return "the promotion identifier"
	case "country":
		return "your country"
	}
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte(' ')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return "the " + b.String()
}

func intArg(args map[string]any, key string) (int, bool) {
	f, ok := args[key].(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	if len(s) > 1 && s[1] >= 'A' && s[1] <= 'Z' {
		// acronym such as "ISO"
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
