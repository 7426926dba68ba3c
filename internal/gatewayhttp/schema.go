package gatewayhttp

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// chatRequestSchemaDoc is the JSON Schema for the POST /v1/chat/completions
// body (spec.md §6): model and a non-empty messages array are required,
// every message needs a role, and stream/tools/web_search must be the right
// JSON type when present. Detailed per-field shape (tool_choice,
// response_format, ...) is intentionally loose — those are provider-specific
// and validated by the adapters themselves, not at the HTTP boundary.
const chatRequestSchemaDoc = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["model", "messages"],
	"properties": {
		"model": {"type": "string", "minLength": 1},
		"messages": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["role"],
				"properties": {
					"role": {"type": "string", "enum": ["system", "user", "assistant", "tool"]}
				}
			}
		},
		"stream": {"type": "boolean"},
		"temperature": {"type": "number"},
		"top_p": {"type": "number"},
		"max_tokens": {"type": "integer"},
		"tools": {"type": "array"},
		"web_search": {"type": "boolean"}
	}
}`

// requestSchema validates a decoded chat-completion request body against
// chatRequestSchemaDoc before it is converted into the canonical
// providers.Request, rejecting malformed bodies with a descriptive 400
// before any routing work happens.
type requestSchema struct {
	compiled *jsonschema.Schema
}

func newRequestSchema() (*requestSchema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("chat_completion_request.json", strReader(chatRequestSchemaDoc)); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := compiler.Compile("chat_completion_request.json")
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return &requestSchema{compiled: compiled}, nil
}

// Validate parses body as generic JSON and checks it against the compiled
// schema. jsonschema validates decoded Go values (map[string]interface{}),
// not raw bytes, so the body is unmarshaled once here independent of the
// later strongly-typed chatRequest decode.
func (s *requestSchema) Validate(body []byte) error {
	v, err := jsonschema.UnmarshalJSON(strReader(string(body)))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("request failed schema validation: %w", err)
	}
	return nil
}
