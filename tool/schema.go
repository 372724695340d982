package tool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON schema for tool arguments.
type Schema struct {
	raw      map[string]any
	compiled *jsonschema.Schema
}

var schemaCache sync.Map

// CompileSchema compiles a JSON-schema map. Compiled schemas are cached by
// content, so tools sharing a schema compile it once.
func CompileSchema(params map[string]any) (*Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])
	if cached, ok := schemaCache.Load(key); ok {
		if s, ok := cached.(*Schema); ok {
			return s, nil
		}
	}
	compiled, err := jsonschema.CompileString(key+".schema.json", string(data))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	s := &Schema{raw: params, compiled: compiled}
	schemaCache.Store(key, s)
	return s, nil
}

// Validate checks decoded JSON arguments against the schema. Violations are
// returned as a *ValidationError naming the first failing location.
func (s *Schema) Validate(args map[string]any) error {
	// round-trip through JSON so Go-typed values compare like decoded ones
	data, err := json.Marshal(args)
	if err != nil {
		return &ValidationError{Message: fmt.Sprintf("arguments are not JSON-encodable: %v", err)}
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	if err := s.compiled.Validate(decoded); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			leaf := ve
			for len(leaf.Causes) > 0 {
				leaf = leaf.Causes[0]
			}
			return &ValidationError{Field: strings.TrimPrefix(leaf.InstanceLocation, "/"), Message: leaf.Message}
		}
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

// Raw returns the schema as declared.
func (s *Schema) Raw() map[string]any { return s.raw }

// ValidationError represents argument validation errors.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// SchemaFromStruct reflects a parameter schema from a Go struct. Fields
// without omitempty are required; descriptions come from the
// `jsonschema:"description=..."` tag.
func SchemaFromStruct(v any) map[string]any {
	r := &invopop.Reflector{DoNotReference: true, ExpandedStruct: true, AllowAdditionalProperties: false}
	schema := r.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}
