package aras

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind names one class of failure in the uniform error model.
type ErrorKind string

const (
	KindConfig     ErrorKind = "ConfigError"
	KindAuth       ErrorKind = "AuthError"
	KindValidation ErrorKind = "ValidationError"
	KindAPI        ErrorKind = "ApiError"
	KindTransport  ErrorKind = "TransportError"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of its kind.
var (
	ErrConfig     = &Error{Kind: KindConfig}
	ErrAuth       = &Error{Kind: KindAuth}
	ErrValidation = &Error{Kind: KindValidation}
	ErrAPI        = &Error{Kind: KindAPI}
	ErrTransport  = &Error{Kind: KindTransport}
)

// maxDetailLength bounds server-provided text carried in an Error.
const maxDetailLength = 512

// Error is the single error shape surfaced by this package. It serialises
// to JSON so it can be returned to the assistant host as-is.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	StatusCode int       `json:"status_code,omitempty"`
	Code       string    `json:"code,omitempty"`
	Detail     string    `json:"detail"`

	cause error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.StatusCode == 0 || t.StatusCode == e.StatusCode)
}

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport:
		return true
	case KindAPI:
		return isRetryableStatus(e.StatusCode)
	default:
		return false
	}
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func configError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfig, Detail: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Detail: fmt.Sprintf(format, args...)}
}

func authError(status int, detail string, cause error) *Error {
	return &Error{Kind: KindAuth, StatusCode: status, Detail: truncate(detail), cause: cause}
}

func apiError(status int, code, detail string) *Error {
	return &Error{Kind: KindAPI, StatusCode: status, Code: code, Detail: truncate(detail)}
}

func transportError(detail string, cause error) *Error {
	return &Error{Kind: KindTransport, Detail: detail, cause: cause}
}

// truncate trims and shortens server text to maxDetailLength runes.
func truncate(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxDetailLength {
		return s
	}
	return string(r[:maxDetailLength]) + "…"
}
