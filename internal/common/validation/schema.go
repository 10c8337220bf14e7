// Package validation checks inbound job variables and request bodies against
// JSON schemas.
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"loan-lifecycle/internal/models"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validate runs data against a schema expressed as a Go map.
func Validate(schema map[string]interface{}, data interface{}) (*ValidationResult, error) {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(data))
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, e := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   e.Field(),
			Message: e.Description(),
			Code:    strings.ToUpper(e.Type()),
		})
	}
	return out, nil
}

// EventSchema describes a lifecycle event: {applicationId, trigger}.
func EventSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"applicationId", "trigger"},
		"properties": map[string]interface{}{
			"applicationId": map[string]interface{}{"type": "string", "minLength": 1},
			"trigger":       map[string]interface{}{"type": "string", "enum": models.TriggerKinds()},
		},
	}
}

// FieldsSchema describes a field submission: {applicationId, payload}.
func FieldsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"applicationId", "payload"},
		"properties": map[string]interface{}{
			"applicationId": map[string]interface{}{"type": "string", "minLength": 1},
			"payload":       map[string]interface{}{"type": "object"},
		},
	}
}

func ValidateEvent(vars map[string]interface{}) (*ValidationResult, error) {
	return Validate(EventSchema(), vars)
}

func ValidateFields(vars map[string]interface{}) (*ValidationResult, error) {
	return Validate(FieldsSchema(), vars)
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}
