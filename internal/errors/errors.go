// Package errors provides error handling utilities.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Type identifies the category of error
type Type string

const (
	// TypeValidation indicates missing or malformed request facts.
	// It is the only type surfaced to callers as a failure.
	TypeValidation Type = "VALIDATION_ERROR"

	// TypeRuleEvaluation indicates a single block failed to evaluate or apply
	TypeRuleEvaluation Type = "RULE_EVALUATION_ERROR"

	// TypeConstraintViolation indicates a floor could not be met by the bundle economics
	TypeConstraintViolation Type = "CONSTRAINT_VIOLATION"

	// TypeCacheUnavailable indicates the cache backend could not be reached
	TypeCacheUnavailable Type = "CACHE_UNAVAILABLE"

	// TypeBatchPartialFailure indicates one key of a batch failed
	TypeBatchPartialFailure Type = "BATCH_PARTIAL_FAILURE"

	// TypeStrategy indicates a strategy definition failed load-time validation
	TypeStrategy Type = "STRATEGY_ERROR"

	// TypeConfig indicates a configuration error
	TypeConfig Type = "CONFIG_ERROR"

	// TypeNotFound indicates a resource not found error
	TypeNotFound Type = "NOT_FOUND"

	// TypeInternal indicates an internal error
	TypeInternal Type = "INTERNAL_ERROR"
)

// Error represents a domain error with context
type Error struct {
	Type    Type                   `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *Error) Is(t Type) bool {
	return e.Type == t
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new error
func New(errType Type, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new formatted error
func Newf(errType Type, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with context
func Wrap(errType Type, message string, cause error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an error with formatted context
func Wrapf(errType Type, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// IsType checks if an error, or any error it wraps, is of a specific type
func IsType(err error, t Type) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Type == t {
			return true
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the type of the outermost domain error, or "" when err is not one
func TypeOf(err error) Type {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}

// Validation creates a validation error
func Validation(message string) *Error {
	return New(TypeValidation, message)
}

// RuleEvaluation creates a rule evaluation error for a block
func RuleEvaluation(ruleID string, cause error) *Error {
	return Wrapf(TypeRuleEvaluation, cause, "rule %s failed", ruleID).WithContext("rule_id", ruleID)
}

// CacheUnavailable wraps a cache backend failure
func CacheUnavailable(op string, cause error) *Error {
	return Wrapf(TypeCacheUnavailable, cause, "cache %s failed", op)
}

// Strategy creates a strategy validation error
func Strategy(message string, cause error) *Error {
	return Wrap(TypeStrategy, message, cause)
}

// NotFound creates a not found error
func NotFound(resourceType, identifier string) *Error {
	return Newf(TypeNotFound, "%s not found: %s", resourceType, identifier)
}

// Internal creates an internal error
func Internal(message string, cause error) *Error {
	return Wrap(TypeInternal, message, cause)
}
