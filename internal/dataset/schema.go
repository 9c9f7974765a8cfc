package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a compiled project JSON Schema used for structured-output
// compliance checks. A nil *Schema means the project has no active schema and
// every candidate passes. A Schema whose document failed to compile rejects
// every candidate instead of surfacing the compile error to classification.
type Schema struct {
	compiled *jsonschema.Schema
	invalid  bool
}

// CompileSchema compiles a raw JSON Schema document. The returned error
// reports why compilation failed; callers who want the reject-everything
// behavior on bad documents should use Broken instead of propagating it.
func CompileSchema(raw []byte) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing schema document: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("project://schema.json", doc); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	compiled, err := c.Compile("project://schema.json")
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// Broken returns a schema that rejects every candidate. Used when a project
// has an active schema document that cannot be compiled: reward alone must
// not qualify an example the schema was meant to gate.
func Broken() *Schema {
	return &Schema{invalid: true}
}

// Accepts reports whether content satisfies the schema. Empty content,
// non-JSON content, validation failure, and validator panics all count as
// rejection.
func (s *Schema) Accepts(content string) (ok bool) {
	if s == nil {
		return true
	}
	if s.invalid || content == "" {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	var inst any
	if err := json.Unmarshal([]byte(content), &inst); err != nil {
		return false
	}
	return s.compiled.Validate(inst) == nil
}
