package lootbox

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error kind.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Caller is neither the owner nor a registered delegate.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// A capped token would exceed its cap.
	CodeSupplyExhausted Code = "SUPPLY_EXHAUSTED"
	// A non-positive quantity was requested.
	CodeZeroAmount Code = "ZERO_AMOUNT"
	// The option id is not configured.
	CodeInvalidOption Code = "INVALID_OPTION"
	// The category id is not configured.
	CodeInvalidCategory Code = "INVALID_CATEGORY"
	// Unpack amount exceeds the held box units.
	CodeInsufficientBoxBalance Code = "INSUFFICIENT_BOX_BALANCE"
	// An option cannot distribute its remainder.
	CodeAllocatorExhausted Code = "ALLOCATOR_EXHAUSTED"
	// An operation re-entered itself for the same actor and resource.
	CodeReentrant Code = "REENTRANT_CALL"
	// The catalog or process configuration is invalid.
	CodeInvalidConfig Code = "INVALID_CONFIG"
	// The service has not completed genesis.
	CodeNotReady Code = "NOT_READY"
)

// Sentinels for errors.Is. Matching is by code, so any *Error with the
// same code matches regardless of message.
var (
	ErrUnauthorized           = &Error{Code: CodeUnauthorized, Message: "caller is not the owner or a delegate"}
	ErrSupplyExhausted        = &Error{Code: CodeSupplyExhausted, Message: "supply exhausted"}
	ErrZeroAmount             = &Error{Code: CodeZeroAmount, Message: "amount must be positive"}
	ErrInvalidOption          = &Error{Code: CodeInvalidOption, Message: "invalid option"}
	ErrInvalidCategory        = &Error{Code: CodeInvalidCategory, Message: "invalid category"}
	ErrInsufficientBoxBalance = &Error{Code: CodeInsufficientBoxBalance, Message: "insufficient box balance"}
	ErrAllocatorExhausted     = &Error{Code: CodeAllocatorExhausted, Message: "allocator exhausted"}
	ErrReentrant              = &Error{Code: CodeReentrant, Message: "reentrant call"}
	ErrInvalidConfig          = &Error{Code: CodeInvalidConfig, Message: "invalid configuration"}
	ErrNotReady               = &Error{Code: CodeNotReady, Message: "service not ready"}
)

// Error is the engine's error type.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// NewError creates an error of the given kind with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMetadata creates an error carrying key/value context, which
// transports forward to clients.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates an error of the given kind around cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// AsError checks whether err is an *Error and returns it.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, CodeUnknown for foreign errors and the
// empty code for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return CodeUnknown
}
