package classify

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tomasvik/docpipe/constants"
)

// BuildClassificationJSONSchema returns the JSON-Schema (draft 2020-12 subset)
// the model output must satisfy. It is sent to the service as a structured
// output constraint and also used locally to validate the reply.
func BuildClassificationJSONSchema() map[string]any {
	tagProps := map[string]any{}
	required := make([]string, 0, constants.RequiredTagCount())
	for _, c := range constants.RequiredCategories() {
		tagProps[string(c)] = map[string]any{"type": "string", "minLength": 1}
		required = append(required, string(c))
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"tags": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties":           tagProps,
				"required":             required,
			},
			"summary":    map[string]any{"type": "string", "minLength": 1},
			"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		},
		"required": []string{"tags", "summary", "confidence"},
	}
}

// ValidateJSONAgainstSchema compiles schema and validates doc against it.
func ValidateJSONAgainstSchema(schema map[string]any, doc []byte) error {
	sb, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(sb)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return compiled.Validate(v)
}
