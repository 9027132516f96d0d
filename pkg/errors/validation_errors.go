package errors

import (
	"fmt"
	"strings"
)

// FieldError is a configuration error tied to one named setting
type FieldError struct {
	*AppError
	Field    string      `json:"field,omitempty"`
	Value    interface{} `json:"value,omitempty"`
	Expected interface{} `json:"expected,omitempty"`
	Rule     string      `json:"rule,omitempty"`
}

// MultiFieldError aggregates several field errors found in one pass
type MultiFieldError struct {
	*AppError
	Errors []*FieldError `json:"errors"`
}

// NewFieldError creates a configuration error for a single field
func NewFieldError(field, rule string, value, expected interface{}) *FieldError {
	return &FieldError{
		AppError: &AppError{
			Type:    ErrorTypeConfiguration,
			Code:    CodeInvalidParameter,
			Message: fmt.Sprintf("field '%s' failed rule '%s'", field, rule),
		},
		Field:    field,
		Value:    value,
		Expected: expected,
		Rule:     rule,
	}
}

// Unwrap exposes the embedded AppError to errors.As
func (fe *FieldError) Unwrap() error {
	return fe.AppError
}

// Unwrap exposes the embedded AppError to errors.As
func (mfe *MultiFieldError) Unwrap() error {
	return mfe.AppError
}

func (mfe *MultiFieldError) Error() string {
	parts := make([]string, 0, len(mfe.Errors))
	for _, e := range mfe.Errors {
		parts = append(parts, e.Error())
	}
	return fmt.Sprintf("%s: %s", mfe.Code, strings.Join(parts, "; "))
}

// Fields returns the names of the fields that failed
func (mfe *MultiFieldError) Fields() []string {
	fields := make([]string, 0, len(mfe.Errors))
	for _, e := range mfe.Errors {
		fields = append(fields, e.Field)
	}
	return fields
}

// ValidationBuilder collects configuration errors incrementally
type ValidationBuilder struct {
	errors []*FieldError
	field  string
}

// NewValidationBuilder creates a new validation builder
func NewValidationBuilder() *ValidationBuilder {
	return &ValidationBuilder{
		errors: make([]*FieldError, 0),
	}
}

// SetField sets the current field for subsequent validations
func (vb *ValidationBuilder) SetField(field string) *ValidationBuilder {
	vb.field = field
	return vb
}

// Required validates that a string value is not blank
func (vb *ValidationBuilder) Required(value string) *ValidationBuilder {
	if strings.TrimSpace(value) == "" {
		fe := NewFieldError(vb.field, "required", value, nil)
		fe.Message = fmt.Sprintf("field '%s' is required", vb.field)
		vb.errors = append(vb.errors, fe)
	}
	return vb
}

// Positive validates that an integer is strictly positive
func (vb *ValidationBuilder) Positive(value int) *ValidationBuilder {
	if value <= 0 {
		fe := NewFieldError(vb.field, "positive", value, "> 0")
		fe.Message = fmt.Sprintf("field '%s' must be positive, got %d", vb.field, value)
		vb.errors = append(vb.errors, fe)
	}
	return vb
}

// NonNegative validates that an integer is zero or greater
func (vb *ValidationBuilder) NonNegative(value int) *ValidationBuilder {
	if value < 0 {
		fe := NewFieldError(vb.field, "non_negative", value, ">= 0")
		fe.Message = fmt.Sprintf("field '%s' must not be negative, got %d", vb.field, value)
		vb.errors = append(vb.errors, fe)
	}
	return vb
}

// Range validates a closed numeric range
func (vb *ValidationBuilder) Range(value, min, max float64) *ValidationBuilder {
	if value < min || value > max {
		fe := NewFieldError(vb.field, "range", value, fmt.Sprintf("[%g, %g]", min, max))
		fe.Message = fmt.Sprintf("field '%s' is out of range [%g, %g]", vb.field, min, max)
		vb.errors = append(vb.errors, fe)
	}
	return vb
}

// OneOf validates membership in a closed set
func (vb *ValidationBuilder) OneOf(value string, allowed []string) *ValidationBuilder {
	for _, a := range allowed {
		if value == a {
			return vb
		}
	}
	fe := NewFieldError(vb.field, "one_of", value, allowed)
	fe.Message = fmt.Sprintf("field '%s' must be one of %v, got %q", vb.field, allowed, value)
	vb.errors = append(vb.errors, fe)
	return vb
}

// Build returns the collected errors or nil if there are none
func (vb *ValidationBuilder) Build() error {
	switch len(vb.errors) {
	case 0:
		return nil
	case 1:
		return vb.errors[0]
	}

	return &MultiFieldError{
		AppError: &AppError{
			Type:    ErrorTypeConfiguration,
			Code:    CodeInvalidParameter,
			Message: fmt.Sprintf("%d configuration errors", len(vb.errors)),
		},
		Errors: vb.errors,
	}
}
