package grounding

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"promoagent/internal/domain"
)

// FactKind names the class of a factual token found in a reply.
type FactKind string

const (
	FactDate    FactKind = "date"
	FactNumber  FactKind = "number"
	FactCountry FactKind = "country"
	FactTitle   FactKind = "title"
)

// Fact is one factual token lifted from free text.
type Fact struct {
	Kind  FactKind
	Value string
}

// UngroundedError lists the facts in a draft that no tool output supports.
type UngroundedError struct {
	Facts []Fact
}

func (e *UngroundedError) Error() string {
	parts := make([]string, len(e.Facts))
	for i, f := range e.Facts {
		parts[i] = fmt.Sprintf("%s %q", f.Kind, f.Value)
	}
	return "ungrounded facts: " + strings.Join(parts, ", ")
}

var (
	datePattern    = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	numberPattern  = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	countryPattern = regexp.MustCompile(`\b[A-Z]{2}\b`)
	boldPattern    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	quotePattern   = regexp.MustCompile(`"([^"]+)"|“([^”]+)”`)
)

// notCountries are two-letter capitals that read as words, not country codes.
var notCountries = map[string]bool{
	"ID": true, "OK": true, "AM": true, "PM": true, "TV": true, "VS": true,
}

// ExtractFacts returns the dates, numbers, country codes and emphasised titles
// in text. Numbers inside dates are not reported separately.
func ExtractFacts(text string) []Fact {
	var facts []Fact
	for _, m := range boldPattern.FindAllStringSubmatch(text, -1) {
		facts = append(facts, Fact{Kind: FactTitle, Value: strings.TrimSpace(m[1])})
	}
	for _, m := range quotePattern.FindAllStringSubmatch(text, -1) {
		v := m[1]
		if v == "" {
			v = m[2]
		}
		facts = append(facts, Fact{Kind: FactTitle, Value: strings.TrimSpace(v)})
	}
	for _, d := range datePattern.FindAllString(text, -1) {
		facts = append(facts, Fact{Kind: FactDate, Value: d})
	}
	rest := datePattern.ReplaceAllString(text, " ")
	for _, n := range numberPattern.FindAllString(rest, -1) {
		facts = append(facts, Fact{Kind: FactNumber, Value: n})
	}
	for _, c := range countryPattern.FindAllString(rest, -1) {
		if !notCountries[c] {
			facts = append(facts, Fact{Kind: FactCountry, Value: c})
		}
	}
	return facts
}

// evidence is everything a grounded reply may mention.
type evidence struct {
	dates     map[string]bool
	numbers   map[string]bool
	countries map[string]bool
	titles    []string
	text      string
}

func (e *evidence) addText(s string) {
	if s == "" {
		return
	}
	e.text += "\n" + strings.ToLower(s)
	for _, d := range datePattern.FindAllString(s, -1) {
		e.dates[d] = true
	}
	for _, n := range numberPattern.FindAllString(datePattern.ReplaceAllString(s, " "), -1) {
		e.numbers[n] = true
	}
	for _, c := range countryPattern.FindAllString(s, -1) {
		e.countries[c] = true
	}
}

func (e *evidence) addNumber(n int) {
	e.numbers[strconv.Itoa(n)] = true
}

func (e *evidence) addValue(v any) {
	switch t := v.(type) {
	case string:
		e.addText(t)
	case float64:
		e.numbers[strconv.FormatFloat(t, 'f', -1, 64)] = true
	case []any:
		for _, it := range t {
			e.addValue(it)
		}
	case map[string]any:
		for _, it := range t {
			e.addValue(it)
		}
	}
}

func gather(ex domain.ToolExchange) *evidence {
	e := &evidence{
		dates:     map[string]bool{},
		numbers:   map[string]bool{},
		countries: map[string]bool{},
	}
	for _, v := range Args(ex.Call) {
		e.addValue(v)
	}
	if ex.Response != nil && ex.Response.Meta != nil {
		m := ex.Response.Meta
		for _, n := range []int{m.Page, m.Limit, m.Total, m.TotalPages, m.Page + 1} {
			e.addNumber(n)
		}
	}
	if ex.Response != nil && !ex.Response.IsNull() {
		var raw any
		if json.Unmarshal(ex.Response.Data, &raw) == nil {
			e.addValue(raw)
		}
		if records, err := ex.Response.Records(); err == nil {
			e.addNumber(len(records))
			for _, p := range records {
				e.addNumber(p.ID)
				e.titles = append(e.titles, strings.ToLower(p.Title))
				e.addText(amountOf(p))
			}
		}
	}
	return e
}

// CheckGrounded reports every fact in draft that cannot be traced to the
// response data, its meta or the validated request. Titles must name a
// returned promotion; other tokens must appear in the returned fields.
func CheckGrounded(draft string, ex domain.ToolExchange) error {
	e := gather(ex)
	var bad []Fact
	for _, f := range ExtractFacts(draft) {
		if !e.supports(f) {
			bad = append(bad, f)
		}
	}
	if len(bad) > 0 {
		return &UngroundedError{Facts: bad}
	}
	return nil
}

func (e *evidence) supports(f Fact) bool {
	switch f.Kind {
	case FactDate:
		return e.dates[f.Value]
	case FactNumber:
		return e.numbers[f.Value]
	case FactCountry:
		return e.countries[f.Value]
	case FactTitle:
		v := strings.ToLower(f.Value)
		for _, t := range e.titles {
			if t == v {
				return true
			}
		}
		// Other emphasised text must appear verbatim in the returned fields.
		return strings.Contains(e.text, v)
	}
	return false
}

// =============================================================================
// Tone
// =============================================================================

// ToneError lists the casual phrases found in a draft.
type ToneError struct {
	Phrases []string
}

func (e *ToneError) Error() string {
	return "informal register: " + strings.Join(e.Phrases, ", ")
}

// casualLexicon holds slang and casual first-person phrases in English and
// Spanish. Entries match on word boundaries, case-insensitively.
var casualLexicon = []string{
	"hey", "hiya", "dude", "bro", "buddy", "folks",
	"gonna", "wanna", "gotta", "kinda", "sorta", "lemme",
	"yeah", "yep", "yup", "nope", "nah", "lol", "lmao", "omg", "btw", "tbh",
	"awesome", "cool", "super cool", "no worries", "no problem",
	"i guess", "i think", "i'm", "i reckon", "i dunno",
	"che", "boludo", "weón", "weon", "wena", "bacán", "bacan", "chévere", "chevere",
	"güey", "wey", "pana", "chido", "mola", "tío",
}

var toneMatchers = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(casualLexicon))
	for i, w := range casualLexicon {
		out[i] = regexp.MustCompile(`(?i)(^|[^\p{L}'])` + regexp.QuoteMeta(w) + `($|[^\p{L}'])`)
	}
	return out
}()

var repeatedBang = regexp.MustCompile(`[!?]{2,}`)

// CheckTone rejects slang, casual first-person phrasing and repeated
// exclamation marks.
func CheckTone(text string) error {
	var found []string
	for i, m := range toneMatchers {
		if m.MatchString(text) {
			found = append(found, casualLexicon[i])
		}
	}
	if repeatedBang.MatchString(text) {
		found = append(found, "repeated punctuation")
	}
	if len(found) > 0 {
		return &ToneError{Phrases: found}
	}
	return nil
}
