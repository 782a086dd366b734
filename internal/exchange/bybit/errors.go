package bybit

import (
	"errors"
	"fmt"
	"net/http"
)

// BybitError represents a Bybit API error with additional context
type BybitError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *BybitError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("Bybit API error %d: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("Bybit API error %d: %s", e.Code, e.Message)
}

// Common Bybit error codes
const (
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodeInvalidTimestamp    = 10005
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeOrderNotFound       = 110001
	ErrCodeInvalidOrderType    = 110004
	ErrCodeInsufficientBalance = 110007
	ErrCodeSymbolNotFound      = 110009
	ErrCodeInvalidQuantity     = 110020
	ErrCodeInvalidPrice        = 110021
)

func codeOf(err error) (int, bool) {
	var bybitErr *BybitError
	if errors.As(err, &bybitErr) {
		return bybitErr.Code, true
	}
	return 0, false
}

// IsRetryableError reports rate limiting and upstream 5xx failures
func IsRetryableError(err error) bool {
	code, ok := codeOf(err)
	if !ok {
		return false
	}
	switch code {
	case ErrCodeRateLimitExceeded,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsAuthenticationError checks if the error is related to authentication
func IsAuthenticationError(err error) bool {
	code, ok := codeOf(err)
	return ok && (code == ErrCodeInvalidAPIKey || code == ErrCodeInvalidSignature || code == ErrCodeInvalidTimestamp)
}

func IsInsufficientBalanceError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrCodeInsufficientBalance
}

func IsOrderNotFoundError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrCodeOrderNotFound
}

func IsRateLimitError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == ErrCodeRateLimitExceeded
}

// NewBybitError creates a new BybitError
func NewBybitError(code int, message string, details ...string) *BybitError {
	err := &BybitError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// WrapAPIError adds the failing operation to an error
func WrapAPIError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var bybitErr *BybitError
	if errors.As(err, &bybitErr) {
		wrapped := *bybitErr
		wrapped.Details = "operation: " + operation
		return &wrapped
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}

// ParseAPIError converts a non-zero retCode into a BybitError
func ParseAPIError(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	return NewBybitError(retCode, retMsg)
}
