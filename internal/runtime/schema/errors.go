package schema

import (
	"fmt"
	"strings"
)

// ValidationError is one field-level schema violation.
type ValidationError struct {
	EventType    string `json:"event_type"`
	Version      int    `json:"version"`
	Field        string `json:"field"`
	Message      string `json:"message"`
	ExpectedType string `json:"expected_type,omitempty"`
	ActualType   string `json:"actual_type,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field '%s': %s (schema %s v%d)", e.Field, e.Message, e.EventType, e.Version)
}

// ValidationErrors aggregates every violation found in one payload.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// Fields names the offending fields in the order they were found.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, ve := range e {
		fields = append(fields, ve.Field)
	}
	return fields
}

func requiredFieldError(s Schema, field string) *ValidationError {
	return &ValidationError{
		EventType: s.EventType,
		Version:   s.Version,
		Field:     field,
		Message:   "required field is missing",
	}
}

func typeMismatchError(s Schema, field string, expected FieldType, actual string) *ValidationError {
	return &ValidationError{
		EventType:    s.EventType,
		Version:      s.Version,
		Field:        field,
		Message:      fmt.Sprintf("expected %s, got %s", expected, actual),
		ExpectedType: string(expected),
		ActualType:   actual,
	}
}

func enumError(s Schema, field string, value any, allowed []string) *ValidationError {
	return &ValidationError{
		EventType: s.EventType,
		Version:   s.Version,
		Field:     field,
		Message:   fmt.Sprintf("value %v is not one of %s", value, strings.Join(allowed, ", ")),
	}
}
