// Package errors provides the sentinel and typed errors shared by the bot's packages.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNoActiveSession   = errors.New("no active session")
	ErrNoActiveConfig    = errors.New("no active bot configuration")
	ErrSessionExists     = errors.New("another session is already active")
	ErrSessionCompleted  = errors.New("session is completed")
	ErrSessionNotActive  = errors.New("session is not active")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrAlreadyRunning    = errors.New("bot is already running")
	ErrNotRunning        = errors.New("bot is not running")
	ErrCycleInProgress   = errors.New("cycle already in progress")
	ErrEmergencyStop     = errors.New("emergency stop active")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOrderRejected     = errors.New("order rejected")
	ErrRateLimited       = errors.New("rate limited")
	ErrTimeout           = errors.New("operation timed out")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrMissingMarketData = errors.New("market data unavailable")

	ErrExchangeUnavailable = errors.New("exchange unavailable")
)

// ValidationError represents malformed input or a missing prerequisite.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// WrapValidation builds a ValidationError around a sentinel so errors.Is still matches it.
func WrapValidation(err error, field string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: err.Error(),
		Err:     err,
	}
}

// ExecutionError represents an exchange failure while placing or settling an order.
type ExecutionError struct {
	OrderID string
	Side    string
	Symbol  string
	Reason  string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution error [%s] %s %s: %s: %v", e.OrderID, e.Side, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("execution error [%s] %s %s: %s", e.OrderID, e.Side, e.Symbol, e.Reason)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(orderID, side, symbol, reason string, err error) *ExecutionError {
	return &ExecutionError{
		OrderID: orderID,
		Side:    side,
		Symbol:  symbol,
		Reason:  reason,
		Err:     err,
	}
}

// ExchangeError represents a non-2xx response from the exchange API.
type ExchangeError struct {
	Status  int
	Code    int
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error [%d/%d]: %s", e.Status, e.Code, e.Message)
}

// Temporary reports whether the request may succeed if retried.
func (e *ExchangeError) Temporary() bool {
	return e.Status == 429 || e.Status >= 500
}

// RiskError represents a risk management rejection.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.2f, limit: %.2f)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsExecution reports whether err is or wraps an ExecutionError.
func IsExecution(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// IsTemporary reports whether err carries a retryable exchange failure.
func IsTemporary(err error) bool {
	var xe *ExchangeError
	if errors.As(err, &xe) {
		return xe.Temporary()
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}
