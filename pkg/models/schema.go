package models

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaViolation indicates instance data does not conform to the
// definition's data schema.
var ErrSchemaViolation = errors.New("workflow data does not conform to schema")

// DataSchema wraps a JSON Schema document describing the shape of a
// definition's instance data. A nil or empty schema accepts any data.
type DataSchema struct {
	Document map[string]any `json:"document"`
}

// SchemaValidationError carries the field-level failures from a schema check.
type SchemaValidationError struct {
	Failures []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("%v: %v", ErrSchemaViolation, e.Failures)
}

func (e *SchemaValidationError) Is(target error) bool {
	return target == ErrSchemaViolation
}

// Validate checks data against the schema document.
func (s *DataSchema) Validate(data map[string]any) error {
	if s == nil || len(s.Document) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(s.Document)
	dataLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate workflow data: %w", err)
	}

	if result.Valid() {
		return nil
	}

	failures := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		failures = append(failures, desc.String())
	}

	return &SchemaValidationError{Failures: failures}
}
