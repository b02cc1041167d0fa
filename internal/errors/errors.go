// Package errors provides coded errors that carry details and suggestions for API callers
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Pipeline errors
	ErrCodeSQLGeneration       ErrorCode = "SQL_GENERATION_FAILED"
	ErrCodeSafetyValidation    ErrorCode = "SAFETY_VALIDATION_FAILED"
	ErrCodeQueryExecution      ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeFallbackExecution   ErrorCode = "FALLBACK_EXECUTION_FAILED"
	ErrCodeSummaryGeneration   ErrorCode = "SUMMARY_GENERATION_FAILED"
	ErrCodeTemplateLoad        ErrorCode = "TEMPLATE_LOAD_FAILED"
	ErrCodeLanguageModelConfig ErrorCode = "LANGUAGE_MODEL_UNAVAILABLE"

	// Database errors
	ErrCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseQuery      ErrorCode = "DATABASE_QUERY_FAILED"
	ErrCodeDatasetImport      ErrorCode = "DATASET_IMPORT_FAILED"

	// Authentication errors
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeTokenCreation      ErrorCode = "TOKEN_CREATION_FAILED"
	ErrCodeNotAuthenticated   ErrorCode = "NOT_AUTHENTICATED"
	ErrCodeInsufficientPerms  ErrorCode = "INSUFFICIENT_PERMISSIONS"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"

	// Input validation errors
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED_FIELD"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"

	// Cache errors
	ErrCodeCacheRead  ErrorCode = "CACHE_READ_FAILED"
	ErrCodeCacheWrite ErrorCode = "CACHE_WRITE_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// EnhancedError represents an error with additional context and helpful information
type EnhancedError struct {
	Code          ErrorCode              `json:"code"`
	Message       string                 `json:"message"`
	Details       string                 `json:"details,omitempty"`
	Suggestion    string                 `json:"suggestion,omitempty"`
	Documentation string                 `json:"documentation,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Cause         error                  `json:"-"`
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf(": %s", e.Details))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (cause: %v)", e.Cause))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain unwrapping
func (e *EnhancedError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly error message with suggestions
func (e *EnhancedError) UserMessage() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf("\n\nDetails: %s", e.Details))
	}
	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion))
	}
	if e.Documentation != "" {
		sb.WriteString(fmt.Sprintf("\n\nLearn more: %s", e.Documentation))
	}
	return sb.String()
}

// New creates a new EnhancedError
func New(code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Metadata: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with enhanced context
func Wrap(err error, code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Cause:    err,
		Metadata: make(map[string]interface{}),
	}
}

// WithDetails adds detailed information about the error
func (e *EnhancedError) WithDetails(details string) *EnhancedError {
	e.Details = details
	return e
}

// WithSuggestion adds a suggestion on how to fix the error
func (e *EnhancedError) WithSuggestion(suggestion string) *EnhancedError {
	e.Suggestion = suggestion
	return e
}

// WithMetadata adds additional metadata to the error
func (e *EnhancedError) WithMetadata(key string, value interface{}) *EnhancedError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// CodeOf returns the code of the first EnhancedError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var enhanced *EnhancedError
	if errors.As(err, &enhanced) {
		return enhanced.Code
	}
	return ""
}

// Retryable reports whether the error was marked as retryable.
func Retryable(err error) bool {
	var enhanced *EnhancedError
	if !errors.As(err, &enhanced) {
		return false
	}
	retry, _ := enhanced.Metadata["retryable"].(bool)
	return retry
}

// Common error constructors with pre-configured messages

// NewSQLGenerationError creates an error for language model SQL generation failures
func NewSQLGenerationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeSQLGeneration, "Failed to generate SQL").
		WithDetails("The language model was unable to convert the question into SQL").
		WithSuggestion("The question will be answered from a predefined template instead. Rephrase it to mention a month, category, channel, region or customer segment for a closer match.").
		WithMetadata("retryable", true)
}

// NewSafetyValidationError creates an error for rejected model output
func NewSafetyValidationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeSafetyValidation, "Generated SQL failed safety validation").
		WithDetails(err.Error()).
		WithSuggestion("Only single read-only SELECT statements over the sales table are executed.")
}

// NewQueryExecutionError creates an error for analytics engine failures
func NewQueryExecutionError(err error) *EnhancedError {
	return Wrap(err, ErrCodeQueryExecution, "Query execution failed").
		WithDetails("The analytics engine rejected or failed to run the query").
		WithMetadata("retryable", true)
}

// NewFallbackExecutionError creates an error for when even the template query fails
func NewFallbackExecutionError(err error, template string) *EnhancedError {
	return Wrap(err, ErrCodeFallbackExecution, "Unable to answer the question").
		WithDetails(fmt.Sprintf("The fallback query (%s) could not be executed", template)).
		WithSuggestion("The analytics database may be unavailable. Please try again in a moment.").
		WithMetadata("template", template).
		WithMetadata("retryable", true)
}

// NewTemplateLoadError creates an error for a template registry that cannot be loaded
func NewTemplateLoadError(err error, name string) *EnhancedError {
	return Wrap(err, ErrCodeTemplateLoad, "Failed to load query template").
		WithDetails(fmt.Sprintf("Template '%s' is invalid", name)).
		WithSuggestion("Every template must be a single SELECT over the configured table.").
		WithMetadata("template", name)
}

// NewInvalidCredentialsError creates an error for authentication failures
func NewInvalidCredentialsError() *EnhancedError {
	return New(ErrCodeInvalidCredentials, "Invalid username or password").
		WithDetails("Authentication failed with the provided credentials").
		WithSuggestion("Please check your username and password and try again.")
}

// NewTokenCreationError creates an error for token creation failures
func NewTokenCreationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeTokenCreation, "Failed to create authentication token").
		WithDetails("The system was unable to generate an authentication token").
		WithMetadata("retryable", true)
}

// NewNotAuthenticatedError creates an error for unauthenticated requests
func NewNotAuthenticatedError() *EnhancedError {
	return New(ErrCodeNotAuthenticated, "Authentication required").
		WithDetails("This endpoint requires authentication").
		WithSuggestion("Include a bearer token in the 'Authorization' header or a valid API key in the 'X-API-Key' header.")
}

// NewInvalidInputError creates an error for invalid input
func NewInvalidInputError(field string, reason string) *EnhancedError {
	return New(ErrCodeInvalidInput, "Invalid input").
		WithDetails(fmt.Sprintf("Field '%s' is invalid: %s", field, reason)).
		WithSuggestion("Please check the API documentation for the expected format and try again.")
}

// NewNotFoundError creates an error for missing resources
func NewNotFoundError(kind, name string) *EnhancedError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", kind)).
		WithDetails(fmt.Sprintf("No %s named '%s'", kind, name)).
		WithMetadata("name", name)
}

// NewDatabaseConnectionError creates an error for database connection failures
func NewDatabaseConnectionError(err error) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseConnection, "Database connection failed").
		WithDetails("Unable to connect to the database").
		WithSuggestion("The service may be experiencing issues. Please try again in a moment.").
		WithMetadata("retryable", true)
}

// NewDatabaseQueryError creates an error for database query failures
func NewDatabaseQueryError(err error, operation string) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseQuery, "Database query failed").
		WithDetails(fmt.Sprintf("Failed to execute database operation: %s", operation)).
		WithMetadata("retryable", true)
}
