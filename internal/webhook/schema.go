package webhook

import (
	"bytes"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema del payload de webhook. Deliberadamente laxo en el contenido de
// record (schemaless) y estricto en los campos de ruteo.
const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "type", "entity_type", "entity_id"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "type": {"type": "string", "minLength": 1},
    "entity_type": {"type": "string", "minLength": 1},
    "entity_id": {"type": "string", "minLength": 1},
    "correlation_id": {"type": "string"},
    "occurred_at": {"type": "string"},
    "record": {"type": "object"},
    "merged_id": {"type": "string"},
    "surviving_id": {"type": "string"}
  }
}`

var compiledSchema = mustCompile()

func mustCompile() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(eventSchema))
	if err != nil {
		panic("webhook: bad event schema: " + err.Error())
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("webhook-event.json", doc); err != nil {
		panic("webhook: bad event schema: " + err.Error())
	}
	sch, err := c.Compile("webhook-event.json")
	if err != nil {
		panic("webhook: bad event schema: " + err.Error())
	}
	return sch
}

// ValidatePayload corre el payload crudo contra el schema del evento.
func ValidatePayload(raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return compiledSchema.Validate(inst)
}
