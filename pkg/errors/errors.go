// Package errors defines the error taxonomy used across the reconciliation
// engine. Every error carries a category, a specific code, optional context
// and a suggestion for the operator, plus a stack trace from the point of
// creation.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryOracle         ErrorCategory = "oracle"
	CategoryPersistence    ErrorCategory = "persistence"
	CategoryFile           ErrorCategory = "file"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Validation errors
	CodeInvalidTenant  ErrorCode = "invalid_tenant"
	CodeMissingField   ErrorCode = "missing_field"
	CodeInvalidAmount  ErrorCode = "invalid_amount"
	CodeInvalidDate    ErrorCode = "invalid_date"
	CodeInvalidOutcome ErrorCode = "invalid_outcome"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Reconciliation errors
	CodeTargetConsumed  ErrorCode = "target_consumed"
	CodeDecisionUnknown ErrorCode = "decision_unknown"
	CodeTenantMismatch  ErrorCode = "tenant_mismatch"
	CodeBatchAborted    ErrorCode = "batch_aborted"

	// Oracle errors
	CodeOracleTimeout     ErrorCode = "oracle_timeout"
	CodeOracleUnavailable ErrorCode = "oracle_unavailable"
	CodeOracleBadResponse ErrorCode = "oracle_bad_response"

	// Persistence errors
	CodeLedgerWriteFailed ErrorCode = "ledger_write_failed"
	CodeStoreUnavailable  ErrorCode = "store_unavailable"

	// File errors
	CodeFileNotFound  ErrorCode = "file_not_found"
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// EngineError is the base error type for all reconciliation engine errors
type EngineError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *EngineError) GetExitCode() int {
	switch e.Category {
	case CategoryValidation:
		return 2
	case CategoryConfiguration:
		return 3
	case CategoryReconciliation:
		return 4
	case CategoryPersistence:
		return 5
	case CategoryOracle:
		return 6
	case CategoryInternal:
		return 7
	case CategoryFile:
		return 8
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new EngineError
func New(category ErrorCategory, code ErrorCode, message string) *EngineError {
	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with EngineError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *EngineError {
	if err == nil {
		return nil
	}

	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// ValidationError creates a validation error for a rejected input.
// Validation failures surface to the caller before scoring and are not retried.
func ValidationError(code ErrorCode, field string, value interface{}, err error) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidTenant:
		message = fmt.Sprintf("invalid tenant in field '%s': %v", field, value)
		suggestion = "verify the tenant identifier and that the caller is scoped to it"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "amounts must be non-zero decimals such as '1250.00'"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use a timezone-aware timestamp (RFC3339) or YYYY-MM-DD"
	case CodeInvalidOutcome:
		message = fmt.Sprintf("invalid outcome in field '%s': %v", field, value)
		suggestion = "corrected outcomes must be MATCHED, NEAR_MATCH, UNMATCHED or DISPUTED"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryValidation, code, message)
	} else {
		result = New(CategoryValidation, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting via flag, environment or config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, code, message)
	} else {
		result = New(CategoryConfiguration, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ReconciliationError creates a reconciliation-related error
func ReconciliationError(code ErrorCode, operation string, err error) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeTargetConsumed:
		message = fmt.Sprintf("target already consumed within this batch during %s", operation)
		suggestion = "the source record is recorded as unmatched for this run; re-run to rescore"
	case CodeDecisionUnknown:
		message = fmt.Sprintf("referenced match decision does not exist during %s", operation)
		suggestion = "verify the decision ID against the tenant's decision history"
	case CodeTenantMismatch:
		message = fmt.Sprintf("record belongs to a different tenant during %s", operation)
		suggestion = "feedback and history lookups must stay within one tenant"
	case CodeBatchAborted:
		message = fmt.Sprintf("batch aborted during %s", operation)
		suggestion = "decisions written before the abort remain valid; re-run the batch"
	default:
		message = fmt.Sprintf("reconciliation error during %s", operation)
		suggestion = "review the data and configuration"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryReconciliation, code, message)
	} else {
		result = New(CategoryReconciliation, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// FileError creates a file-related error for fixture loading
func FileError(code ErrorCode, filePath string, err error) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found or unreadable: %s", filePath)
		suggestion = "check the file path and read permissions"
	case CodeInvalidFormat:
		message = fmt.Sprintf("file has invalid format: %s", filePath)
		suggestion = "ensure the file is valid CSV with the expected columns"
	case CodeMissingColumn:
		message = fmt.Sprintf("file is missing a required column: %s", filePath)
		suggestion = "check the header row against the expected column names"
	default:
		message = fmt.Sprintf("file error: %s", filePath)
		suggestion = "check the file and try again"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryFile, code, message)
	} else {
		result = New(CategoryFile, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("file_path", filePath)
}

// OracleError creates an oracle-related error. Oracle failures are always
// recoverable: the caller falls back to rule-based scoring.
func OracleError(code ErrorCode, provider string, err error) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeOracleTimeout:
		message = fmt.Sprintf("oracle call to %s timed out", provider)
		suggestion = "rule-based scores were used; increase the oracle timeout if this recurs"
	case CodeOracleUnavailable:
		message = fmt.Sprintf("oracle %s is unavailable", provider)
		suggestion = "rule-based scores were used; check connectivity and credentials"
	case CodeOracleBadResponse:
		message = fmt.Sprintf("oracle %s returned an unparseable response", provider)
		suggestion = "rule-based scores were used; the raw response was discarded"
	default:
		message = fmt.Sprintf("oracle error from %s", provider)
		suggestion = "rule-based scores were used"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryOracle, code, message)
	} else {
		result = New(CategoryOracle, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("provider", provider)
}

// PersistenceError creates a persistence-related error. A ledger write
// failure is fatal for the batch: the audit trail is the system of record.
func PersistenceError(code ErrorCode, store string, err error) *EngineError {
	var message string
	var suggestion string

	switch code {
	case CodeLedgerWriteFailed:
		message = fmt.Sprintf("failed to append decision to %s", store)
		suggestion = "the batch was aborted to avoid losing audit history"
	case CodeStoreUnavailable:
		message = fmt.Sprintf("store unavailable: %s", store)
		suggestion = "check the backing store and retry the batch"
	default:
		message = fmt.Sprintf("persistence error in %s", store)
		suggestion = "check the backing store and retry"
	}

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryPersistence, code, message)
	} else {
		result = New(CategoryPersistence, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("store", store)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *EngineError {
	message := fmt.Sprintf("unexpected error during %s", operation)

	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryInternal, code, message)
	} else {
		result = New(CategoryInternal, code, message)
	}

	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// IsEngineError checks if an error is an EngineError
func IsEngineError(err error) bool {
	_, ok := err.(*EngineError)
	return ok
}

// AsEngineError extracts an EngineError from an error chain
func AsEngineError(err error) (*EngineError, bool) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr, true
	}
	return nil, false
}

// HasCategory reports whether err (or anything it wraps) is an EngineError
// of the given category
func HasCategory(err error, category ErrorCategory) bool {
	if engineErr, ok := AsEngineError(err); ok {
		return engineErr.Category == category
	}
	return false
}

// HasCode reports whether err (or anything it wraps) carries the given code
func HasCode(err error, code ErrorCode) bool {
	if engineErr, ok := AsEngineError(err); ok {
		return engineErr.Code == code
	}
	return false
}

// ErrorSummary aggregates multiple errors for batch reporting
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*EngineError        `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*EngineError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}
