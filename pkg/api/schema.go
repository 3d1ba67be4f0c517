package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// submitSchema is the wire-level shape check for order submissions.
// Semantic validation (budgets, dates, backend resolution) lives in
// the orchestrator; the schema only refuses bodies that are not even
// the right shape.
const submitSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["tenant_id", "buyer_ref", "action", "backend", "packages"],
  "properties": {
    "tenant_id": {"type": "string", "minLength": 1},
    "buyer_ref": {"type": "string", "minLength": 1},
    "action": {"enum": ["create", "update"]},
    "backend": {"type": "string", "minLength": 1},
    "protocol_version": {"type": "string"},
    "order_id": {"type": "string"},
    "packages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "budget_cents"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "budget_cents": {"type": "integer", "minimum": 0},
          "flight_start": {"type": "string"},
          "flight_end": {"type": "string"},
          "targeting": {"type": "object"}
        }
      }
    },
    "creatives": {"type": "array"}
  }
}`

// compileSubmitSchema compiles the schema once at server construction.
// A schema that does not compile is a programming error surfaced at
// startup, not per request.
func compileSubmitSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://openadex.org/schemas/submit.schema.json"
	if err := c.AddResource(url, strings.NewReader(submitSchema)); err != nil {
		return nil, fmt.Errorf("api: load submit schema: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("api: compile submit schema: %w", err)
	}
	return compiled, nil
}
