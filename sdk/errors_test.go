package callwire

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	err := NewServerError(503, "upstream down")
	if got := err.Error(); got != "server_error: server returned 503 (status: 503)" {
		t.Fatalf("Error()=%q", got)
	}

	err = NewNetworkError("connection refused", nil)
	if got := err.Error(); got != "network_error: connection refused" {
		t.Fatalf("Error()=%q", got)
	}
}

func TestError_IsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  *Error
		want bool
	}{
		{NewNetworkError("boom", nil), true},
		{NewTimeoutError("slow", nil), true},
		{NewServerError(500, ""), true},
		{NewServerError(404, ""), true},
		{NewInvalidStateError("bad call"), false},
		{NewCaptureUnavailableError("mic busy", nil), false},
		{NewTransportError("dial", "ws://bridge/media-stream", nil), false},
	}
	for _, tc := range tests {
		if got := tc.err.IsRetryable(); got != tc.want {
			t.Fatalf("%s: IsRetryable()=%v, want %v", tc.err.Type, got, tc.want)
		}
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := NewNetworkError("request failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}

	var apiErr *Error
	if !errors.As(error(err), &apiErr) || apiErr.Type != ErrNetwork {
		t.Fatalf("errors.As failed: %v", err)
	}
}

func TestNewTransportError_RedactsCredentials(t *testing.T) {
	t.Parallel()

	err := NewTransportError("dial", "ws://user:hunter2@bridge.local/media-stream", errors.New("refused"))
	if strings.Contains(err.Message, "hunter2") {
		t.Fatalf("message leaks credentials: %q", err.Message)
	}
	if !strings.Contains(err.Message, "bridge.local") {
		t.Fatalf("message dropped the host: %q", err.Message)
	}
}

func TestNewServerError_CarriesStatusAndBody(t *testing.T) {
	t.Parallel()

	err := NewServerError(502, `{"error":{"message":"bad gateway"}}`)
	if err.Status != 502 {
		t.Fatalf("Status=%d", err.Status)
	}
	if err.Body == "" {
		t.Fatalf("Body empty")
	}
}
