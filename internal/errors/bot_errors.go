package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
)

// ErrorCategory classifies failures along the decision and execution chain
type ErrorCategory string

const (
	// Decision stages
	ErrorCategoryInvalidInput       ErrorCategory = "INVALID_INPUT"
	ErrorCategoryValidationRejected ErrorCategory = "VALIDATION_REJECTED"
	ErrorCategoryRiskRejected       ErrorCategory = "RISK_REJECTED"

	// Execution stage
	ErrorCategoryBalanceInsufficient  ErrorCategory = "BALANCE_INSUFFICIENT"
	ErrorCategoryOrderPlacementFailed ErrorCategory = "ORDER_PLACEMENT_FAILED"
	ErrorCategoryProtectiveLegFailed  ErrorCategory = "PROTECTIVE_LEG_FAILED"
	ErrorCategoryExchangeTransient    ErrorCategory = "EXCHANGE_TRANSIENT"

	// Infrastructure
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
	ErrorCategoryCredentials   ErrorCategory = "CREDENTIALS"
	ErrorCategoryFatal         ErrorCategory = "FATAL"
)

// BotError represents a categorized error with context
type BotError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *BotError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *BotError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error can be retried
func (e *BotError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should stop the process
func (e *BotError) IsFatal() bool {
	return e.Category == ErrorCategoryFatal ||
		e.Category == ErrorCategoryCredentials ||
		e.Category == ErrorCategoryConfiguration
}

// NewBotError creates a new categorized bot error
func NewBotError(category ErrorCategory, component, operation, message string) *BotError {
	return &BotError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: isRetryableCategory(category),
	}
}

// WrapError wraps an existing error with bot error context
func WrapError(err error, category ErrorCategory, component, operation string) *BotError {
	if err == nil {
		return nil
	}

	return &BotError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  isRetryableCategory(category),
	}
}

// WithContext adds context information to the error
func (e *BotError) WithContext(key string, value interface{}) *BotError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *BotError) WithRetryable(retryable bool) *BotError {
	e.Retryable = retryable
	return e
}

// WithMessage replaces the human readable message
func (e *BotError) WithMessage(message string) *BotError {
	e.Message = message
	return e
}

// isRetryableCategory reports whether a fresh attempt can succeed without operator action.
// Placement failures are retryable only with fresh sizing, which the caller owns.
func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryExchangeTransient, ErrorCategoryOrderPlacementFailed, ErrorCategoryProtectiveLegFailed:
		return true
	default:
		return false
	}
}

// IsCategory reports whether err, or anything it wraps, is a BotError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var botErr *BotError
	if stderrors.As(err, &botErr) {
		return botErr.Category == category
	}
	return false
}

// CategoryOf returns the category of err, or "" when err is not a BotError.
func CategoryOf(err error) ErrorCategory {
	var botErr *BotError
	if stderrors.As(err, &botErr) {
		return botErr.Category
	}
	return ""
}

// CategorizeError attempts to categorize a raw exchange or transport error
func CategorizeError(err error, component, operation string) *BotError {
	if err == nil {
		return nil
	}

	var botErr *BotError
	if stderrors.As(err, &botErr) {
		return botErr
	}

	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "api key") || strings.Contains(errMsg, "api secret") ||
		strings.Contains(errMsg, "authentication") || strings.Contains(errMsg, "unauthorized"):
		return WrapError(err, ErrorCategoryCredentials, component, operation)
	case strings.Contains(errMsg, "insufficient") || strings.Contains(errMsg, "balance"):
		return WrapError(err, ErrorCategoryBalanceInsufficient, component, operation)
	case strings.Contains(errMsg, "invalid") || strings.Contains(errMsg, "minimum") ||
		strings.Contains(errMsg, "maximum"):
		return WrapError(err, ErrorCategoryInvalidInput, component, operation)
	}

	// timeouts, rate limits, dropped connections and anything unknown
	return WrapError(err, ErrorCategoryExchangeTransient, component, operation)
}

// Common error constructors
func NewInvalidInputError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryInvalidInput, component, operation, message)
}

func NewRiskRejectedError(component, operation, reason string) *BotError {
	return NewBotError(ErrorCategoryRiskRejected, component, operation, reason)
}

func NewBalanceInsufficientError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryBalanceInsufficient, component, operation, message)
}

func NewOrderPlacementError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryOrderPlacementFailed, component, operation)
}

func NewProtectiveLegError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryProtectiveLegFailed, component, operation)
}

func NewExchangeTransientError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryExchangeTransient, component, operation)
}

func NewConfigurationError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryConfiguration, component, operation, message)
}

func NewCredentialsError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryCredentials, component, operation, message)
}

// Error recovery strategies
type RecoveryAction string

const (
	RecoveryActionRetry    RecoveryAction = "RETRY"
	RecoveryActionSkip     RecoveryAction = "SKIP"
	RecoveryActionStop     RecoveryAction = "STOP"
	RecoveryActionResize   RecoveryAction = "RESIZE"
	RecoveryActionEscalate RecoveryAction = "ESCALATE"
)

// GetRecoveryAction suggests a recovery action based on error category
func (e *BotError) GetRecoveryAction() RecoveryAction {
	switch e.Category {
	case ErrorCategoryFatal, ErrorCategoryCredentials, ErrorCategoryConfiguration:
		return RecoveryActionStop
	case ErrorCategoryExchangeTransient:
		return RecoveryActionRetry
	case ErrorCategoryOrderPlacementFailed:
		// stale price and stop must not be reused
		return RecoveryActionResize
	case ErrorCategoryProtectiveLegFailed:
		return RecoveryActionEscalate
	default:
		return RecoveryActionSkip
	}
}

// ErrorStats tracks error statistics
type ErrorStats struct {
	mu               sync.Mutex
	TotalErrors      int
	ErrorsByCategory map[ErrorCategory]int
	RecentErrors     []*BotError
	MaxRecentErrors  int
}

// NewErrorStats creates a new error statistics tracker
func NewErrorStats(maxRecentErrors int) *ErrorStats {
	return &ErrorStats{
		ErrorsByCategory: make(map[ErrorCategory]int),
		RecentErrors:     make([]*BotError, 0, maxRecentErrors),
		MaxRecentErrors:  maxRecentErrors,
	}
}

// RecordError records an error in the statistics
func (es *ErrorStats) RecordError(err *BotError) {
	if err == nil {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	es.TotalErrors++
	es.ErrorsByCategory[err.Category]++

	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > es.MaxRecentErrors {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// Count returns how many errors of a category were recorded
func (es *ErrorStats) Count(category ErrorCategory) int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.ErrorsByCategory[category]
}

// GetErrorRate returns the error rate for a specific category
func (es *ErrorStats) GetErrorRate(category ErrorCategory) float64 {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.TotalErrors == 0 {
		return 0.0
	}
	return float64(es.ErrorsByCategory[category]) / float64(es.TotalErrors)
}

// HasRecentErrors checks if there have been errors in the recent history
func (es *ErrorStats) HasRecentErrors(category ErrorCategory, count int) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Category == category {
			recentCount++
		}
	}
	return recentCount >= count
}
