package jsonutil

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError describes one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating a document.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks a JSON document against a JSON schema.
func Validate(schemaJSON, document []byte) (*ValidationResult, error) {
	schema := gojsonschema.NewBytesLoader(schemaJSON)
	doc := gojsonschema.NewBytesLoader(document)
	result, err := gojsonschema.Validate(schema, doc)
	if err != nil {
		return nil, wrapError("jsonutil.Validate failed", err)
	}
	out := &ValidationResult{Valid: result.Valid()}
	for _, e := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   e.Field(),
			Message: e.Description(),
		})
	}
	return out, nil
}

// MustValidate validates and flattens violations into one error.
func MustValidate(schemaJSON, document []byte) error {
	result, err := Validate(schemaJSON, document)
	if err != nil {
		return err
	}
	if result.Valid {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
}
