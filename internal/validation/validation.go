// Package validation wraps go-playground/validator with field names taken from
// json tags so errors can be returned to clients verbatim.
package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	instance := validator.New(validator.WithRequiredStructEnabled())
	instance.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return instance
}

// FieldError names one failed rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Error aggregates every field that failed validation.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, field.Field+" "+field.Rule)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether field failed any rule.
func (e *Error) Has(field string) bool {
	for _, candidate := range e.Fields {
		if candidate.Field == field {
			return true
		}
	}
	return false
}

// Struct validates value against its validate tags.
func Struct(value any) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}
	result := &Error{Fields: make([]FieldError, 0, len(fieldErrors))}
	for _, fieldError := range fieldErrors {
		result.Fields = append(result.Fields, FieldError{Field: fieldError.Field(), Rule: fieldError.Tag()})
	}
	return result
}

// Var validates a single value against tag.
func Var(field string, value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
			return &Error{Fields: []FieldError{{Field: field, Rule: fieldErrors[0].Tag()}}}
		}
		return err
	}
	return nil
}
