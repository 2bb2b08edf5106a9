package domain

import (
	"errors"
	"fmt"
	"time"
)

// InputError represents a standardized error response
type InputError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios. InvalidInput is the only error
// kind the calculator contract itself produces; the rest cover the outer
// surfaces (ingestion, rule lookup, HTTP).
const (
	ErrInvalidInput   = "INVALID_INPUT"
	ErrRuleNotFound   = "RULE_NOT_FOUND"
	ErrIngestion      = "INGESTION_ERROR"
	ErrRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrInternalServer = "INTERNAL_SERVER_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewInputError creates a new InputError with timestamp
func NewInputError(code, message, details string) *InputError {
	return &InputError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// IsInvalidInput reports whether err is an InputError carrying the
// INVALID_INPUT code, possibly wrapped.
func IsInvalidInput(err error) bool {
	var ie *InputError
	return errors.As(err, &ie) && ie.Code == ErrInvalidInput
}
