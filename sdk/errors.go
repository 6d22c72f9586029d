package callwire

import (
	"fmt"
	"net/url"
)

// Error is the canonical error type for everything that can go wrong during a
// call session: placing the call, opening the media stream, and capturing
// audio. Callers can switch on Type or use errors.As to recover it from a
// wrapped chain.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Status  int       `json:"status,omitempty"`
	Body    string    `json:"body,omitempty"`

	err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status: %d)", e.Type, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrNetwork is a request that produced no HTTP response at all
	// (DNS failure, connection refused, connection reset).
	ErrNetwork ErrorType = "network_error"
	// ErrTimeout is an attempt that exceeded its time budget.
	ErrTimeout ErrorType = "timeout_error"
	// ErrServer is a non-2xx HTTP response, or a 2xx response whose body
	// does not carry the expected fields.
	ErrServer ErrorType = "server_error"
	// ErrInvalidState is an operation invoked in a state that does not
	// permit it, such as opening a transport that is already open.
	ErrInvalidState ErrorType = "invalid_state_error"
	// ErrCaptureUnavailable is a microphone that could not be acquired.
	ErrCaptureUnavailable ErrorType = "capture_unavailable"
	// ErrTransport is a media-stream failure after the request phase:
	// dial errors, write failures, abnormal remote closes.
	ErrTransport ErrorType = "transport_error"
)

// NewNetworkError creates a network error wrapping the transport cause.
func NewNetworkError(message string, cause error) *Error {
	return &Error{
		Type:    ErrNetwork,
		Message: message,
		err:     cause,
	}
}

// NewTimeoutError creates a timeout error wrapping the cause.
func NewTimeoutError(message string, cause error) *Error {
	return &Error{
		Type:    ErrTimeout,
		Message: message,
		err:     cause,
	}
}

// NewServerError creates a server error carrying the HTTP status and the
// raw response body.
func NewServerError(status int, body string) *Error {
	return &Error{
		Type:    ErrServer,
		Message: fmt.Sprintf("server returned %d", status),
		Status:  status,
		Body:    body,
	}
}

// NewInvalidStateError creates an invalid state error.
func NewInvalidStateError(message string) *Error {
	return &Error{
		Type:    ErrInvalidState,
		Message: message,
	}
}

// NewCaptureUnavailableError creates a capture error wrapping the device
// cause.
func NewCaptureUnavailableError(message string, cause error) *Error {
	return &Error{
		Type:    ErrCaptureUnavailable,
		Message: message,
		err:     cause,
	}
}

// NewTransportError creates a transport error for a failed media-stream
// operation. Credentials embedded in the URL are redacted before the URL is
// rendered into the message.
func NewTransportError(op, rawURL string, cause error) *Error {
	message := fmt.Sprintf("%s %s", op, redactURLUserInfo(rawURL))
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	return &Error{
		Type:    ErrTransport,
		Message: message,
		err:     cause,
	}
}

// IsRetryable returns true if a fresh attempt could plausibly succeed.
// Invalid-state, capture, and transport errors are deterministic or tied to
// resources a retry would not fix.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrNetwork, ErrTimeout, ErrServer:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
