package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Error Codes
// ============================================================================

const (
	ErrorCodeAuthenticationFailed = "authentication_failed"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeRateLimited          = "rate_limited"
	ErrorCodeServerError          = "server_error"
	ErrorCodeRequestFailed        = "request_failed"
	ErrorCodeMalformedResponse    = "malformed_response"
)

// ============================================================================
// Error - typed backend error
// ============================================================================

// Error represents a backend error response. It carries the HTTP status,
// a machine-readable code and a human-readable description, with any error
// body opportunistically attached as detail.
type Error struct {
	// StatusCode is the HTTP status code of the failed response.
	StatusCode int `json:"-"`

	// Code is the machine-readable error code.
	Code string `json:"error"`

	// Description is a human-readable description of the error.
	Description string `json:"error_description"`

	// Detail is the raw response body, when one was present.
	Detail string `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Description, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Sentinel errors for conditions the callers branch on.
var (
	// ErrMalformedResponse is returned when a success response lacks the
	// fields the contract requires (e.g. a create call without an id).
	ErrMalformedResponse = errors.New("api: malformed backend response")

	// ErrTimeout is returned when a polling primitive exhausts its attempt
	// ceiling before reaching a definitive result.
	ErrTimeout = errors.New("api: polling timed out")

	// ErrUserRejected is returned when the user explicitly declines a
	// request in the review UI. Callers branch on it to distinguish a
	// deliberate rejection from a transport or backend failure.
	ErrUserRejected = errors.New("api: rejected by the user")
)

// responseError maps a non-2xx response to a typed *Error per the transport
// taxonomy: 401 authentication, 403 access denied, 429 rate limited,
// 5xx server error, anything else a generic status-coded failure.
func responseError(statusCode int, body []byte) *Error {
	e := &Error{StatusCode: statusCode}

	switch {
	case statusCode == http.StatusUnauthorized:
		e.Code = ErrorCodeAuthenticationFailed
		e.Description = "authentication failed, reconnect your wallet"
	case statusCode == http.StatusForbidden:
		e.Code = ErrorCodeAccessDenied
		e.Description = "access denied"
	case statusCode == http.StatusTooManyRequests:
		e.Code = ErrorCodeRateLimited
		e.Description = "rate limited by the backend"
	case statusCode >= http.StatusInternalServerError:
		e.Code = ErrorCodeServerError
		e.Description = "backend server error"
	default:
		e.Code = ErrorCodeRequestFailed
		e.Description = fmt.Sprintf("request failed with status %d", statusCode)
	}

	// Bodies are attached as detail, never required. Prefer a structured
	// error message when the body parses as one.
	if len(body) > 0 {
		var parsed struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
			Message          string `json:"message"`
		}
		switch {
		case json.Unmarshal(body, &parsed) != nil:
			e.Detail = string(body)
		case parsed.ErrorDescription != "":
			e.Detail = parsed.ErrorDescription
		case parsed.Message != "":
			e.Detail = parsed.Message
		case parsed.Error != "":
			e.Detail = parsed.Error
		default:
			e.Detail = string(body)
		}
	}

	return e
}

// IsUnauthorized reports whether err is a typed *Error with HTTP 401.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
