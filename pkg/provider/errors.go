package provider

import (
	"errors"
	"fmt"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeInvalidParams     = -32602
)

// Error is an EIP-1193 shaped provider error: a numeric code the host can
// branch on plus human-readable text.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func errNoSession() *Error {
	return &Error{Code: CodeUnauthorized, Message: "No active session"}
}

func errUnsupported(format string, args ...any) *Error {
	return &Error{Code: CodeUnsupportedMethod, Message: fmt.Sprintf(format, args...)}
}

func errInvalidParams(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

func errUserRejected(format string, args ...any) *Error {
	return &Error{Code: CodeUserRejected, Message: fmt.Sprintf(format, args...)}
}

// IsUserRejection reports whether err is an explicit user rejection, as
// opposed to a transient or structural failure.
func IsUserRejection(err error) bool {
	var perr *Error
	if !errors.As(err, &perr) {
		return false
	}
	return perr.Code == CodeUserRejected
}
