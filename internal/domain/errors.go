package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType is the category of a gateway failure.
type ErrorType string

const (
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeProxy          ErrorType = "exchange_proxy"
	ErrorTypeFailedRequest  ErrorType = "failed_request"
	ErrorTypeOrderRejected  ErrorType = "order_rejected"
)

// ExchangeError is the typed failure returned by exchange gateways.
type ExchangeError struct {
	Type       ErrorType
	Code       string
	Message    string
	Retriable  bool
	RetryAfter time.Duration
	Timestamp  time.Time
	Cause      error
}

func (e *ExchangeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *ExchangeError) Unwrap() error {
	return e.Cause
}

func newExchangeError(errType ErrorType, code, message string, retriable bool, cause error) *ExchangeError {
	return &ExchangeError{
		Type:      errType,
		Code:      code,
		Message:   message,
		Retriable: retriable,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewNetworkError creates a transient I/O error.
func NewNetworkError(message string, cause error) *ExchangeError {
	return newExchangeError(ErrorTypeNetwork, "network_error", message, true, cause)
}

func NewAuthenticationError(message string) *ExchangeError {
	return newExchangeError(ErrorTypeAuthentication, "authentication_failed", message, false, nil)
}

// NewRateLimitError carries the delay the exchange asked for.
func NewRateLimitError(message string, retryAfter time.Duration) *ExchangeError {
	err := newExchangeError(ErrorTypeRateLimit, "rate_limit_exceeded", message, true, nil)
	err.RetryAfter = retryAfter
	return err
}

func NewProxyError(message string, retriable bool, cause error) *ExchangeError {
	return newExchangeError(ErrorTypeProxy, "proxy_error", message, retriable, cause)
}

func NewFailedRequestError(message string, cause error) *ExchangeError {
	return newExchangeError(ErrorTypeFailedRequest, "failed_request", message, false, cause)
}

func NewOrderRejectedError(message string) *ExchangeError {
	return newExchangeError(ErrorTypeOrderRejected, "order_rejected", message, false, nil)
}

// IsErrorType reports whether err wraps an ExchangeError of the given type.
func IsErrorType(err error, errType ErrorType) bool {
	var exchangeErr *ExchangeError
	if errors.As(err, &exchangeErr) {
		return exchangeErr.Type == errType
	}
	return false
}

func IsRetriable(err error) bool {
	var exchangeErr *ExchangeError
	if errors.As(err, &exchangeErr) {
		return exchangeErr.Retriable
	}
	return false
}

func IsRateLimit(err error) bool {
	return IsErrorType(err, ErrorTypeRateLimit)
}

// RetryAfter returns the rate-limit delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var exchangeErr *ExchangeError
	if errors.As(err, &exchangeErr) && exchangeErr.Type == ErrorTypeRateLimit {
		return exchangeErr.RetryAfter, true
	}
	return 0, false
}

var (
	ErrMissingPriceData          = errors.New("missing price data")
	ErrPendingPriceData          = errors.New("price data pending")
	ErrInvalidOrderState         = errors.New("invalid order state")
	ErrDuplicateTransactionID    = errors.New("duplicate transaction id")
	ErrIncompletePNL             = errors.New("incomplete pnl")
	ErrOrderGroupTriggerArgument = errors.New("invalid order group trigger argument")
	ErrPortfolioNegativeValue    = errors.New("portfolio value would become negative")
	ErrUnknownOrder              = errors.New("order not found")
	ErrUnknownMarket             = errors.New("market not found")
	ErrUnknownOrderGroup         = errors.New("order group not found")
	ErrMarkPriceTimeout          = errors.New("mark price not available in time")
	ErrOrderCreationTimeout      = errors.New("order creation timed out")
	ErrOrderCancelTimeout        = errors.New("order cancel timed out")
)
