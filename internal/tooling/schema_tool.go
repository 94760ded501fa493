package tooling

import (
	"encoding/json"

	invopopSchema "github.com/invopop/jsonschema"
)

// ListPromotionsInput is the argument structure of list_promotions_by_country.
type ListPromotionsInput struct {
	Country string   `json:"country" jsonschema:"pattern=^[A-Z]{2}$" jsonschema_description:"ISO 3166-1 alpha-2 country code of the player's market, e.g. CL for Chile."`
	Page    int      `json:"page,omitempty" jsonschema:"minimum=1,default=1" jsonschema_description:"1-based page number."`
	Limit   int      `json:"limit,omitempty" jsonschema:"minimum=1" jsonschema_description:"Number of promotions per page."`
	Include []string `json:"include,omitempty" jsonschema:"uniqueItems=true" jsonschema_description:"Related fields to embed in each promotion (terms, countries, image, amount)."`
	Sort    string   `json:"sort,omitempty" jsonschema:"pattern=^-?(id|title|startDate|endDate|country|slug)$" jsonschema_description:"Field to sort by; prefix with - for descending order."`
}

// GetPromotionInput is the argument structure of get_promotion_by_id.
type GetPromotionInput struct {
	ID      int      `json:"id" jsonschema:"minimum=1,maximum=2147483647" jsonschema_description:"Numeric identifier of the promotion."`
	Include []string `json:"include,omitempty" jsonschema:"uniqueItems=true" jsonschema_description:"Related fields to embed (terms, countries, image, amount)."`
}

// marshalFunc is the JSON marshaler used by RenderSchema; tests replace it.
var marshalFunc = func(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Reflect builds the schema document for a Go struct using invopop/jsonschema
// reflection. Fields without omitempty are required and unknown properties are
// rejected. Callers may adjust the result before rendering it.
func Reflect(input interface{}) *invopopSchema.Schema {
	reflector := invopopSchema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(input)
}

// RenderSchema marshals a schema document. It returns "" when marshaling fails.
func RenderSchema(schema *invopopSchema.Schema) string {
	schemaBytes, err := marshalFunc(schema)
	if err != nil {
		return ""
	}
	return string(schemaBytes)
}
