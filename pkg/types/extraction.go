package types

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"
)

// SchemaKind tags the shape of an extraction schema.
type SchemaKind string

const (
	// SchemaText captures free text into a single string field.
	SchemaText SchemaKind = "text"

	// SchemaObject captures a flat object with typed fields.
	SchemaObject SchemaKind = "object"
)

// FieldType is the expected JSON type of an extracted field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

// DefaultContentField is the field the default schema captures page text into.
const DefaultContentField = "content"

// SchemaField describes one extracted value.
type SchemaField struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description"`

	// Selector optionally pins the field to a CSS selector for providers
	// that extract by DOM lookup instead of by model.
	Selector string `json:"selector,omitempty" yaml:"selector"`
	Required bool   `json:"required,omitempty" yaml:"required"`
}

// ExtractionSchema is a validated description of the data an extraction should
// produce. Providers may treat it loosely; the engine checks results against it.
type ExtractionSchema struct {
	Kind        SchemaKind    `json:"kind" yaml:"kind"`
	Instruction string        `json:"instruction,omitempty" yaml:"instruction"`
	Fields      []SchemaField `json:"fields,omitempty" yaml:"fields"`
}

// DefaultSchema captures the visible page content as text.
func DefaultSchema() *ExtractionSchema {
	return &ExtractionSchema{
		Kind:        SchemaText,
		Instruction: "Capture the visible content of the current page as text.",
		Fields: []SchemaField{
			{Name: DefaultContentField, Type: FieldString, Required: true},
		},
	}
}

// Validate checks the schema description itself.
func (s *ExtractionSchema) Validate() error {
	switch s.Kind {
	case SchemaText:
		if len(s.Fields) > 1 {
			return fmt.Errorf("text schema takes at most one field, got %d", len(s.Fields))
		}
		if len(s.Fields) == 1 && s.Fields[0].Type != FieldString {
			return fmt.Errorf("text schema field %q must be a string", s.Fields[0].Name)
		}
	case SchemaObject:
		if len(s.Fields) == 0 {
			return fmt.Errorf("object schema requires at least one field")
		}
	default:
		return fmt.Errorf("unknown schema kind %q", s.Kind)
	}

	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("schema field name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate schema field %q", name)
		}
		seen[name] = true
		switch f.Type {
		case FieldString, FieldNumber, FieldBoolean, FieldArray, FieldObject:
		default:
			return fmt.Errorf("field %q has unknown type %q", name, f.Type)
		}
	}
	return nil
}

// TextField returns the field name a text schema captures into.
func (s *ExtractionSchema) TextField() string {
	if len(s.Fields) == 1 {
		return s.Fields[0].Name
	}
	return DefaultContentField
}

// Check validates extracted data against the schema. Unknown keys are allowed.
func (s *ExtractionSchema) Check(data map[string]any) error {
	if s.Kind == SchemaText {
		v, ok := data[s.TextField()]
		if !ok {
			return fmt.Errorf("missing field %q", s.TextField())
		}
		if _, ok := v.(string); !ok {
			return fmt.Errorf("field %q: expected string, got %T", s.TextField(), v)
		}
		return nil
	}

	for _, f := range s.Fields {
		v, ok := data[f.Name]
		if !ok || v == nil {
			if f.Required {
				return fmt.Errorf("missing required field %q", f.Name)
			}
			continue
		}
		if !matchesType(f.Type, v) {
			return fmt.Errorf("field %q: expected %s, got %T", f.Name, f.Type, v)
		}
	}
	return nil
}

// JSONSchema renders the schema as a JSON Schema object for providers that
// accept one.
func (s *ExtractionSchema) JSONSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(s.Fields))
	required := make([]string, 0, len(s.Fields))
	fields := s.Fields
	if s.Kind == SchemaText && len(fields) == 0 {
		fields = []SchemaField{{Name: DefaultContentField, Type: FieldString, Required: true}}
	}
	for _, f := range fields {
		prop := map[string]interface{}{"type": string(f.Type)}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Clone returns a deep copy of the schema.
func (s ExtractionSchema) Clone() ExtractionSchema {
	s.Fields = slices.Clone(s.Fields)
	return s
}

func matchesType(t FieldType, v any) bool {
	switch t {
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldBoolean:
		_, ok := v.(bool)
		return ok
	case FieldNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64, uint, uint32, uint64:
			return true
		}
		return false
	case FieldArray:
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	case FieldObject:
		return reflect.TypeOf(v).Kind() == reflect.Map
	}
	return false
}

// ExtractionResult is structured data pulled out of a page and attached to a task.
type ExtractionResult struct {
	Data       map[string]any `json:"data"`
	Final      bool           `json:"final,omitempty"`
	CapturedAt time.Time      `json:"capturedAt"`
}

// Empty reports whether the result carries no usable data: no keys, or only
// nil values and blank strings.
func (r *ExtractionResult) Empty() bool {
	if r == nil {
		return true
	}
	for _, v := range r.Data {
		switch val := v.(type) {
		case nil:
		case string:
			if strings.TrimSpace(val) != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Clone returns a shallow copy of the result with its own top-level map.
func (r *ExtractionResult) Clone() *ExtractionResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Data = maps.Clone(r.Data)
	return &out
}
