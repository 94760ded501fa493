package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"promoagent/internal/domain"
)

// countryNames maps country names, as players write them, to ISO codes.
var countryNames = map[string]string{
	"chile":                     "CL",
	"argentina":                 "AR",
	"méxico":                    "MX",
	"mexico":                    "MX",
	"españa":                    "ES",
	"espana":                    "ES",
	"spain":                     "ES",
	"estados unidos":            "US",
	"estados unidos de america": "US",
	"estados unidos de américa": "US",
	"united states":             "US",
	"usa":                       "US",
}

// promotionNames maps common promotion nicknames to the title fragment used
// to find them in a listing.
var promotionNames = []struct {
	keys  []string
	title string
}{
	{[]string{"partners", "partner"}, "partners"},
	{[]string{"cumpleaños", "cumpleanos", "birthday"}, "cumpleaños"},
	{[]string{"bienvenida", "welcome"}, "bienvenida"},
	{[]string{"cashback"}, "cashback"},
	{[]string{"lealtad", "loyalty"}, "lealtad"},
}

var promotionWords = []string{
	"promo", "promos", "promoción", "promocion", "promociones", "promotion", "promotions",
	"bono", "bonos", "bonus", "bonuses", "oferta", "ofertas", "offer", "offers",
	"cashback", "giros", "free spins", "torneo", "torneos", "tournament", "deal", "deals",
}

var (
	idPattern    = regexp.MustCompile(`(?i)(?:\bid\b|#|\bpromoci[oó]n\b|\bpromotion\b|\bpromo\b|\bn[uú]mero\b|\bnumber\b)\s*(?:n[°º]\s*)?#?\s*(\d+)\b`)
	pagePattern  = regexp.MustCompile(`(?i)\b(?:p[aá]gina|page)\s*(\d+)\b`)
	limitPattern = regexp.MustCompile(`(?i)\b(?:limit|l[ií]mite|primeras|primeros|first|top)\s*(\d+)\b`)
	codePattern  = regexp.MustCompile(`\b[A-Z]{2}\b`)
	numberOnly   = regexp.MustCompile(`^\s*#?(\d+)\s*[.!?]?\s*$`)
	wordPattern  = regexp.MustCompile(`[\p{L}]+`)
)

// knownCodes are the ISO codes accepted when a player types one directly.
var knownCodes = map[string]bool{"CL": true, "AR": true, "MX": true, "ES": true, "US": true, "PE": true, "CO": true, "UY": true, "ZZ": true}

// LocalSelector picks tools from keywords in English and Spanish. It needs no
// API key and is deterministic, which makes it the default for development
// and tests.
type LocalSelector struct{}

// NewLocalSelector returns a keyword selector.
func NewLocalSelector() *LocalSelector {
	return &LocalSelector{}
}

// intent is what the keyword pass found in one utterance.
type intent struct {
	country   string
	id        int
	bareNum   int
	promo     int // index into promotionNames, -1 when none
	page      int
	limit     int
	sort      string
	include   []string
	promoWord bool
}

// Select implements domain.ToolSelector.
func (s *LocalSelector) Select(ctx context.Context, req domain.SelectionRequest) (*domain.Selection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in := parseIntent(req.Utterance)
	topic := req.Topic
	if in.promo >= 0 {
		topic = promotionNames[in.promo].title
	}

	if len(req.Previous) > 0 {
		return chain(topic, in.include, req.Previous), nil
	}
	if req.Pending != nil {
		if call := fillPending(in, req.Pending); call != nil {
			return &domain.Selection{Call: call, Topic: topic}, nil
		}
	}

	// A country on its own is not a request; it only answers a pending
	// clarification.
	switch {
	case in.id > 0:
		args := map[string]any{"id": in.id}
		addInclude(args, in.include)
		return selection(domain.ToolGetPromotion, args), nil
	case in.promoWord || in.promo >= 0:
		sel := selection(domain.ToolListPromotions, listArgs(in))
		if in.promo >= 0 {
			sel.Topic = topic
		}
		return sel, nil
	}
	return &domain.Selection{}, nil
}

// chain decides a follow-up call after earlier calls of the same turn. Only
// a named promotion found in a listing leads to a lookup.
func chain(topic string, include []string, previous []domain.ToolExchange) *domain.Selection {
	last := previous[len(previous)-1]
	if last.Call.Name != domain.ToolListPromotions || topic == "" || last.Response == nil {
		return &domain.Selection{}
	}
	items, err := last.Response.Items()
	if err != nil {
		return &domain.Selection{}
	}
	want := fold(topic)
	for _, p := range items {
		if strings.Contains(fold(p.Title), want) {
			args := map[string]any{"id": p.ID}
			addInclude(args, include)
			return selection(domain.ToolGetPromotion, args)
		}
	}
	return &domain.Selection{}
}

// fillPending answers an open clarification with what the utterance provides.
func fillPending(in intent, p *domain.PendingIntent) *domain.ToolCall {
	args := map[string]any{}
	for _, f := range p.Fields {
		switch f {
		case "country":
			if in.country != "" {
				args["country"] = in.country
			}
		case "id":
			if in.id > 0 {
				args["id"] = in.id
			} else if in.bareNum > 0 {
				args["id"] = in.bareNum
			}
		case "page":
			if in.page > 0 {
				args["page"] = in.page
			} else if in.bareNum > 0 {
				args["page"] = in.bareNum
			}
		case "limit":
			if in.limit > 0 {
				args["limit"] = in.limit
			} else if in.bareNum > 0 {
				args["limit"] = in.bareNum
			}
		}
	}
	if len(args) == 0 {
		return nil
	}
	raw, _ := json.Marshal(args)
	return &domain.ToolCall{ID: "local-1", Name: p.Tool, Arguments: raw}
}

func parseIntent(utterance string) intent {
	in := intent{promo: -1}
	lower := strings.ToLower(utterance)
	folded := fold(lower)
	words := map[string]bool{}
	for _, w := range wordPattern.FindAllString(lower, -1) {
		words[w] = true
		words[fold(w)] = true
	}

	in.country = countryOf(utterance, lower, words)

	if m := idPattern.FindStringSubmatch(utterance); m != nil {
		in.id, _ = strconv.Atoi(m[1])
	}
	if m := numberOnly.FindStringSubmatch(utterance); m != nil {
		in.bareNum, _ = strconv.Atoi(m[1])
	}
	if m := pagePattern.FindStringSubmatch(utterance); m != nil {
		in.page, _ = strconv.Atoi(m[1])
	}
	if m := limitPattern.FindStringSubmatch(utterance); m != nil {
		in.limit, _ = strconv.Atoi(m[1])
	}

	for i, p := range promotionNames {
		for _, k := range p.keys {
			if words[k] || words[fold(k)] {
				in.promo = i
			}
		}
		if in.promo >= 0 {
			break
		}
	}
	for _, w := range promotionWords {
		if strings.Contains(w, " ") && strings.Contains(lower, w) || words[w] {
			in.promoWord = true
			break
		}
	}

	switch {
	case containsAny(folded, "mas recientes", "mas nuevas", "newest", "latest", "most recent"):
		in.sort = "-startDate"
	case containsAny(folded, "terminan pronto", "vencen pronto", "ending soon", "expire soon", "expiring"):
		in.sort = "endDate"
	case containsAny(folded, "alfabetic", "alphabetic", "por nombre", "by name", "by title"):
		in.sort = "title"
	}
	if containsAny(folded, "termino", "condiciones", "terms", "conditions", "requisitos") {
		in.include = append(in.include, "terms")
	}
	if containsAny(folded, "paises", "countries") {
		in.include = append(in.include, "countries")
	}
	if containsAny(folded, "monto", "cuanto", "how much", "amount", "valor") {
		in.include = append(in.include, "amount")
	}
	return in
}

func countryOf(original, lower string, words map[string]bool) string {
	names := make([]string, 0, len(countryNames))
	for n := range countryNames {
		names = append(names, n)
	}
	// Longest first so "estados unidos de america" wins over "estados unidos".
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for _, n := range names {
		if strings.Contains(n, " ") {
			if strings.Contains(lower, n) {
				return countryNames[n]
			}
			continue
		}
		if words[n] {
			return countryNames[n]
		}
	}
	for _, c := range codePattern.FindAllString(original, -1) {
		if knownCodes[c] {
			return c
		}
	}
	if t := strings.TrimSpace(strings.Trim(strings.TrimSpace(original), ".!?")); len(t) == 2 {
		if c := strings.ToUpper(t); knownCodes[c] {
			return c
		}
	}
	return ""
}

func listArgs(in intent) map[string]any {
	args := map[string]any{}
	if in.country != "" {
		args["country"] = in.country
	}
	if in.page > 0 {
		args["page"] = in.page
	}
	if in.limit > 0 {
		args["limit"] = in.limit
	}
	if in.sort != "" {
		args["sort"] = in.sort
	}
	addInclude(args, in.include)
	return args
}

func addInclude(args map[string]any, include []string) {
	if len(include) > 0 {
		args["include"] = include
	}
}

func selection(tool string, args map[string]any) *domain.Selection {
	raw, _ := json.Marshal(args)
	return &domain.Selection{Call: &domain.ToolCall{ID: "local-1", Name: tool, Arguments: raw}}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"Á", "A", "É", "E", "Í", "I", "Ó", "O", "Ú", "U", "Ü", "U", "Ñ", "N",
)

// fold lower-cases s and strips Spanish accents.
func fold(s string) string {
	return accentFolder.Replace(strings.ToLower(s))
}

var _ domain.ToolSelector = (*LocalSelector)(nil)
