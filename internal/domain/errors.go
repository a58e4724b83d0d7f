package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable indicates the token endpoint or the LLM gateway
	// failed or timed out.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedUpstreamResponse indicates the LLM returned something
	// other than the structured reply that was expected.
	ErrMalformedUpstreamResponse = errors.New("malformed upstream response")
)

// Error codes returned by the HTTP surface.
const (
	CodeSchemaError         = "SCHEMA_ERROR"
	CodeModelInference      = "MODEL_INFERENCE_ERROR"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeMalformedUpstream   = "MALFORMED_UPSTREAM_RESPONSE"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL_ERROR"
)

// SchemaError reports a missing or malformed transaction field.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: field %q: %s", e.Field, e.Reason)
}

// NewSchemaError creates a SchemaError.
func NewSchemaError(field, reason string) *SchemaError {
	return &SchemaError{Field: field, Reason: reason}
}

// ModelInferenceError reports a scorer artifact failure.
// A single failure aborts the whole assessment.
type ModelInferenceError struct {
	Model string
	Err   error
}

func (e *ModelInferenceError) Error() string {
	return fmt.Sprintf("model %s inference failed: %v", e.Model, e.Err)
}

func (e *ModelInferenceError) Unwrap() error {
	return e.Err
}

// IsSchemaError reports whether err is or wraps a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsModelInferenceError reports whether err is or wraps a ModelInferenceError.
func IsModelInferenceError(err error) bool {
	var me *ModelInferenceError
	return errors.As(err, &me)
}
