package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Compile parses a raw JSON-schema document, as supplied directly by a
// tool descriptor (or normalized upstream for a provider's strict mode,
// e.g. openaiclient.strictify), into a reusable validator.
func Compile(raw map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("schema: decode: %w", err)
	}
	c := jsonschema.NewCompiler()
	const resource = "mem://schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	sch, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return sch, nil
}

// Validate checks value (typically the result of json.Unmarshal into
// map[string]any/[]any/primitives) against raw, a JSON-schema document.
//
// This backs the structured-output retry loop in internal/modeladapter:
// when a model's structured response fails Validate, the adapter retries
// with the validation error appended to the prompt, up to
// RuntimeConfig.MaxStructuredOutputRetries times.
func Validate(raw map[string]any, value any) error {
	sch, err := Compile(raw)
	if err != nil {
		return err
	}
	return sch.Validate(value)
}
