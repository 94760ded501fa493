package tooling

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ViolationKind classifies a single argument problem.
type ViolationKind string

const (
	MissingRequired     ViolationKind = "missing-required"
	TypeMismatch        ViolationKind = "type-mismatch"
	ConstraintViolation ViolationKind = "constraint-violation"
)

// Violation is one field-level schema failure.
type Violation struct {
	Field   string        `json:"field"`
	Kind    ViolationKind `json:"kind"`
	Message string        `json:"message"`
}

// ValidationError lists every violation found in one tool request.
type ValidationError struct {
	Tool       string      `json:"tool"`
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", v.Field, v.Message, v.Kind))
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(parts, "; "))
}

// Fields returns the distinct offending field names in order.
func (e *ValidationError) Fields() []string {
	seen := make(map[string]bool, len(e.Violations))
	var out []string
	for _, v := range e.Violations {
		if v.Field == "" || seen[v.Field] {
			continue
		}
		seen[v.Field] = true
		out = append(out, v.Field)
	}
	return out
}

// Has reports whether any violation of kind concerns field.
func (e *ValidationError) Has(field string, kind ViolationKind) bool {
	for _, v := range e.Violations {
		if v.Field == field && v.Kind == kind {
			return true
		}
	}
	return false
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithNormalizer registers a function run on a decoded field value before
// validation, e.g. to upper-case a country code. Non-string values are passed
// through unchanged by the normalizers in this package.
func WithNormalizer(field string, fn func(any) any) ValidatorOption {
	return func(v *Validator) { v.normalizers[field] = fn }
}

// property is what the validator needs from one schema property.
type property struct {
	typ         string
	description string
	def         any
	hasDefault  bool
}

// Validator checks tool arguments against a schema compiled once at
// construction. It is safe for concurrent use.
type Validator struct {
	tool        string
	schema      *jsonschema.Schema
	required    []string
	properties  map[string]property
	order       []string
	normalizers map[string]func(any) any
}

// schemaDoc is the subset of a JSON Schema document the validator reads as
// data, alongside the compiled form.
type schemaDoc struct {
	Required   []string                   `json:"required"`
	Properties map[string]json.RawMessage `json:"properties"`
}

type propertyDoc struct {
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Default     json.RawMessage `json:"default"`
}

// NewValidator compiles schemaStr for tool.
func NewValidator(tool, schemaStr string, opts ...ValidatorOption) (*Validator, error) {
	compiled, err := jsonschema.CompileString(tool+".json", schemaStr)
	if err != nil {
		return nil, fmt.Errorf("invalid schema for %s: %w", tool, err)
	}
	var doc schemaDoc
	if err := json.Unmarshal([]byte(schemaStr), &doc); err != nil {
		return nil, fmt.Errorf("invalid schema for %s: %w", tool, err)
	}

	v := &Validator{
		tool:        tool,
		schema:      compiled,
		required:    doc.Required,
		properties:  make(map[string]property, len(doc.Properties)),
		normalizers: make(map[string]func(any) any),
	}
	for name, raw := range doc.Properties {
		var pd propertyDoc
		if err := json.Unmarshal(raw, &pd); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: property %s: %w", tool, name, err)
		}
		p := property{typ: pd.Type, description: pd.Description}
		if len(pd.Default) > 0 {
			if err := json.Unmarshal(pd.Default, &p.def); err != nil {
				return nil, fmt.Errorf("invalid schema for %s: default of %s: %w", tool, name, err)
			}
			p.hasDefault = true
		}
		v.properties[name] = p
		v.order = append(v.order, name)
	}
	sort.Strings(v.order)
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Tool returns the tool name the validator was built for.
func (v *Validator) Tool() string { return v.tool }

// Describe returns the schema description of field, or "".
func (v *Validator) Describe(field string) string {
	return v.properties[field].description
}

// Validate decodes args, coerces decimal strings in integer fields, runs the
// normalizers and checks the result against the schema. Every violation is
// collected. On success the arguments are returned with defaults applied for
// absent optional fields.
func (v *Validator) Validate(args json.RawMessage) (map[string]any, error) {
	var decoded any = map[string]any{}
	if len(strings.TrimSpace(string(args))) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return nil, &ValidationError{Tool: v.tool, Violations: []Violation{{
				Kind: TypeMismatch, Message: "arguments are not valid JSON",
			}}}
		}
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, &ValidationError{Tool: v.tool, Violations: []Violation{{
			Kind: TypeMismatch, Message: "arguments must be a JSON object",
		}}}
	}

	for name, value := range obj {
		if value == nil {
			// null is treated as absent so defaults and required checks apply.
			delete(obj, name)
			continue
		}
		if p, ok := v.properties[name]; ok && p.typ == "integer" {
			obj[name] = coerceInteger(value)
		}
		if fn, ok := v.normalizers[name]; ok {
			obj[name] = fn(obj[name])
		}
	}

	var violations []Violation
	for _, name := range v.required {
		if _, present := obj[name]; !present {
			violations = append(violations, Violation{Field: name, Kind: MissingRequired, Message: "is required"})
		}
	}

	if err := v.schema.Validate(obj); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return nil, fmt.Errorf("validate %s: %w", v.tool, err)
		}
		violations = append(violations, collect(verr)...)
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Tool: v.tool, Violations: dedupe(violations)}
	}

	for _, name := range v.order {
		p := v.properties[name]
		if _, present := obj[name]; !present && p.hasDefault {
			obj[name] = p.def
		}
	}
	return obj, nil
}

// ValidateRaw is Validate with the result re-encoded as JSON.
func (v *Validator) ValidateRaw(args json.RawMessage) (json.RawMessage, error) {
	obj, err := v.Validate(args)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode %s arguments: %w", v.tool, err)
	}
	return out, nil
}

// coerceInteger turns "3" into 3. Anything else is returned unchanged and left
// for the schema to reject.
func coerceInteger(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return value
	}
	return float64(n)
}

// UpperTrim upper-cases and trims string values.
func UpperTrim(value any) any {
	if s, ok := value.(string); ok {
		return strings.ToUpper(strings.TrimSpace(s))
	}
	return value
}

var quotedName = regexp.MustCompile(`'([^']+)'`)

// collect flattens a santhosh-tekuri error tree into leaf violations.
// Required failures are skipped; they are computed from the schema directly.
func collect(err *jsonschema.ValidationError) []Violation {
	if len(err.Causes) > 0 {
		var out []Violation
		for _, c := range err.Causes {
			out = append(out, collect(c)...)
		}
		return out
	}

	keyword := err.KeywordLocation
	if i := strings.LastIndex(keyword, "/"); i >= 0 {
		keyword = keyword[i+1:]
	}
	field := fieldOf(err.InstanceLocation)

	switch keyword {
	case "required":
		return nil
	case "type":
		return []Violation{{Field: field, Kind: TypeMismatch, Message: err.Message}}
	case "additionalProperties":
		var out []Violation
		for _, m := range quotedName.FindAllStringSubmatch(err.Message, -1) {
			out = append(out, Violation{Field: m[1], Kind: ConstraintViolation, Message: "is not a recognised argument"})
		}
		if len(out) == 0 {
			out = append(out, Violation{Field: field, Kind: ConstraintViolation, Message: err.Message})
		}
		return out
	default:
		return []Violation{{Field: field, Kind: ConstraintViolation, Message: err.Message}}
	}
}

// fieldOf maps an instance location like "/include/2" to "include".
func fieldOf(location string) string {
	location = strings.TrimPrefix(location, "/")
	if i := strings.Index(location, "/"); i >= 0 {
		location = location[:i]
	}
	return location
}

func dedupe(in []Violation) []Violation {
	seen := make(map[string]bool, len(in))
	out := make([]Violation, 0, len(in))
	for _, v := range in {
		key := v.Field + "\x00" + string(v.Kind)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}
