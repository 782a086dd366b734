package exchange

import "errors"

// ExchangeError represents standardized errors from exchanges
type ExchangeError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Details     string `json:"details,omitempty"`
	IsRetryable bool   `json:"is_retryable"`
}

func (e *ExchangeError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Is matches on Code so a detailed copy still satisfies errors.Is against the sentinel
func (e *ExchangeError) Is(target error) bool {
	var other *ExchangeError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// WithDetails returns a copy of the error carrying details
func (e *ExchangeError) WithDetails(details string) *ExchangeError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable reports whether err is an ExchangeError marked retryable
func IsRetryable(err error) bool {
	var exErr *ExchangeError
	return errors.As(err, &exErr) && exErr.IsRetryable
}

// Common error types
var (
	ErrInsufficientBalance = &ExchangeError{
		Code:    "INSUFFICIENT_BALANCE",
		Message: "Insufficient balance for trade",
	}

	ErrInvalidSymbol = &ExchangeError{
		Code:    "INVALID_SYMBOL",
		Message: "Invalid trading symbol",
	}

	ErrInvalidOrder = &ExchangeError{
		Code:    "INVALID_ORDER",
		Message: "Order parameters rejected",
	}

	ErrOrderSizeTooSmall = &ExchangeError{
		Code:    "ORDER_SIZE_TOO_SMALL",
		Message: "Order size below minimum requirements",
	}

	ErrOrderNotFound = &ExchangeError{
		Code:    "ORDER_NOT_FOUND",
		Message: "Order not found",
	}

	ErrRateLimitExceeded = &ExchangeError{
		Code:        "RATE_LIMIT_EXCEEDED",
		Message:     "API rate limit exceeded",
		IsRetryable: true,
	}

	ErrConnectionFailed = &ExchangeError{
		Code:        "CONNECTION_FAILED",
		Message:     "Failed to connect to exchange",
		IsRetryable: true,
	}

	ErrAuthenticationFailed = &ExchangeError{
		Code:    "AUTHENTICATION_FAILED",
		Message: "API authentication failed",
	}

	ErrUnsupportedExchange = &ExchangeError{
		Code:    "UNSUPPORTED_EXCHANGE",
		Message: "Exchange is not supported",
	}
)
