package callwire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// CallType selects what kind of call the bridge should place.
type CallType string

const (
	CallTypeOnDemand         CallType = "on-demand"
	CallTypeScheduledCheckin CallType = "scheduled-checkin"
)

// CallRequest describes the call to place. To is the destination phone
// number in E.164 form, required for on-demand calls. The request is
// immutable once passed to PlaceCall.
type CallRequest struct {
	To       string   `json:"to,omitempty"`
	CallType CallType `json:"call_type,omitempty"`
}

type callUserResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	CallSID string `json:"call_sid"`
	CallID  string `json:"call_id"`
}

type callErrorResponse struct {
	Error Error `json:"error"`
}

// PlaceCall asks the bridge to place the call and returns the correlation id
// (the call SID) identifying the new session. Failed attempts are retried
// per the client's RetryPolicy; the final error surfaces only once the
// policy is exhausted. Cancelling ctx aborts the in-flight attempt or retry
// wait and returns ctx's error.
func (c *Client) PlaceCall(ctx context.Context, call CallRequest) (string, error) {
	endpoint, err := c.endpoint("/call-user")
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(call)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	attempt := 0
	for {
		c.logger.Info("placing call", "method", http.MethodPost, "url", endpoint, "attempt", attempt)

		sid, err := c.placeCallOnce(ctx, endpoint, payload)
		if err == nil {
			return sid, nil
		}
		if !c.retry.shouldRetry(ctx, attempt, err) {
			return "", err
		}
		if waitErr := waitRetry(ctx, c.retry.Delay); waitErr != nil {
			return "", abortError(waitErr)
		}
		attempt++
	}
}

func (c *Client) placeCallOnce(parent context.Context, endpoint string, payload []byte) (string, error) {
	ctx := parent
	if c.retry.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, c.retry.AttemptTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyRequestError(parent, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewNetworkError("read response", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", parseCallError(resp.StatusCode, respBody)
	}

	var out callUserResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", &Error{
			Type:    ErrServer,
			Message: "malformed response body",
			Status:  resp.StatusCode,
			Body:    strings.TrimSpace(string(respBody)),
		}
	}
	if strings.TrimSpace(out.CallSID) == "" {
		return "", &Error{
			Type:    ErrServer,
			Message: "response is missing call_sid",
			Status:  resp.StatusCode,
			Body:    strings.TrimSpace(string(respBody)),
		}
	}
	return out.CallSID, nil
}

// parseCallError converts a non-2xx response into a server error. When the
// body carries the bridge's error envelope the message is lifted from it;
// the raw body and status are preserved either way.
func parseCallError(status int, body []byte) *Error {
	serverErr := NewServerError(status, strings.TrimSpace(string(body)))
	var resp callErrorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error.Message != "" {
		serverErr.Message = resp.Error.Message
	}
	return serverErr
}

// classifyRequestError maps an http.Client.Do failure into the error
// taxonomy: deadline overruns become timeout errors, everything else that
// produced no response is a network error. A cancelled parent context wins
// over both so a deliberate end is never misreported as a failure.
func classifyRequestError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return abortError(ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("request timed out", err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return NewTimeoutError("request timed out", err)
	}
	return NewNetworkError("request failed", err)
}

// abortError maps a context error onto the taxonomy. Cancellation passes
// through unwrapped so callers can tell a deliberate end from a failure;
// deadline expiry is a timeout.
func abortError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("aborted by deadline", err)
	}
	return err
}
