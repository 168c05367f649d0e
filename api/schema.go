package api

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names
const (
	schemaDetect = "detect"
	schemaGround = "ground"
	schemaRepair = "repair"
)

// maxBatchEvents bounds a single request's event array
const maxBatchEvents = 100000

var eventsSchema = fmt.Sprintf(`{"type": "array", "maxItems": %d, "items": {"type": "object"}}`, maxBatchEvents)

// optionalEvents also accepts an explicit null, read as no events
var optionalEvents = fmt.Sprintf(`{"type": ["array", "null"], "maxItems": %d, "items": {"type": "object"}}`, maxBatchEvents)

var schemaSources = map[string]string{
	schemaDetect: eventsSchema,
	schemaGround: `{
		"type": "object",
		"required": ["text"],
		"additionalProperties": false,
		"properties": {
			"text": {"type": "string"},
			"events": ` + optionalEvents + `
		}
	}`,
	schemaRepair: `{
		"type": "object",
		"required": ["text"],
		"additionalProperties": false,
		"properties": {
			"text": {"type": "string"},
			"events": ` + optionalEvents + `,
			"risks": {
				"type": ["array", "null"],
				"items": {
					"type": "object",
					"required": ["id", "text"],
					"properties": {
						"id": {"type": "string", "pattern": "^R[0-9]+$"},
						"text": {"type": "string"},
						"principal": {"type": "string"}
					}
				}
			}
		}
	}`,
}

// schemaSet holds the compiled request schemas
type schemaSet struct {
	schemas map[string]*gojsonschema.Schema
}

func loadSchemas() (*schemaSet, error) {
	set := &schemaSet{schemas: make(map[string]*gojsonschema.Schema, len(schemaSources))}
	for name, src := range schemaSources {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s schema: %w", name, err)
		}
		set.schemas[name] = s
	}
	return set, nil
}

func mustLoadSchemas() *schemaSet {
	set, err := loadSchemas()
	if err != nil {
		panic(err)
	}
	return set
}

// validate returns one message per schema violation.
// The error is set only when data is not JSON at all.
func (s *schemaSet) validate(name string, data []byte) ([]string, error) {
	schema, ok := s.schemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return problems, nil
}
