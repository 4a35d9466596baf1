package order

import (
	"errors"
	"fmt"
)

// Code identifies a failure category reported to callers
type Code string

const (
	CodeAlreadyInitialized Code = "already_initialized"
	CodeNotInitialized     Code = "not_initialized"
	CodeUnauthorized       Code = "unauthorized"
	CodeOrderNotFound      Code = "order_not_found"
	CodeOrderNotActive     Code = "order_not_active"
	CodeInvalidParam       Code = "invalid_param"
	CodePriceNotAvailable  Code = "price_not_available"
	CodeSwapFailed         Code = "swap_failed"
)

// Error is the structured failure returned by engine operations.
// errors.Is matches on Code, so wrapped detail never hides the category.
type Error struct {
	Code    Code
	Message string

	cause error
}

var (
	ErrAlreadyInitialized = &Error{Code: CodeAlreadyInitialized}
	ErrNotInitialized     = &Error{Code: CodeNotInitialized}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized}
	ErrOrderNotFound      = &Error{Code: CodeOrderNotFound}
	ErrOrderNotActive     = &Error{Code: CodeOrderNotActive}
	ErrInvalidParam       = &Error{Code: CodeInvalidParam}
	ErrPriceNotAvailable  = &Error{Code: CodePriceNotAvailable}
	ErrSwapFailed         = &Error{Code: CodeSwapFailed}
)

// Errorf builds an error of the given code with a formatted message
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given code that unwraps to cause
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the failure code from err, or "" if err carries none
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
