package authjwt

import (
	"errors"
	"fmt"
)

// ErrorCode represents authjwt error categories.
type ErrorCode string

const (
	ErrCodeConfiguration  ErrorCode = "configuration_error"
	ErrCodeSigning        ErrorCode = "signing_error"
	ErrCodeUnauthorized   ErrorCode = "unauthorized"
	ErrCodeKeyResolution  ErrorCode = "key_resolution_error"
	ErrCodeJWKSGeneration ErrorCode = "jwks_generation_error"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeConfiguration:  "Invalid configuration",
	ErrCodeSigning:        "Token signing failed",
	ErrCodeUnauthorized:   "Unauthorized",
	ErrCodeKeyResolution:  "Signing key could not be resolved",
	ErrCodeJWKSGeneration: "Error generating JWKS",
}

var (
	// ErrKeyNotFound is returned by the resolver when the remote document
	// has no usable key for the requested kid.
	ErrKeyNotFound = errors.New("signing key not found")
	// ErrRateLimited is returned when the outbound JWKS fetch budget is spent.
	ErrRateLimited = errors.New("too many requests to the JWKS endpoint")
)

// Error wraps authjwt errors with a stable code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, err error) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}

func newErrorMessage(code ErrorCode, msg string, err error) error {
	return &Error{Code: code, Message: msg, Err: err}
}

// IsCode reports whether err is (or wraps) an *Error carrying code.
// Only the outermost *Error is inspected.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
