package callwire

import (
	"log/slog"
	"net/http"
	"time"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-attempt ceiling for call-placing requests.
// Attempts that exceed it fail with a timeout error and count against the
// retry budget.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retry.AttemptTimeout = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithRetries sets the maximum number of retries for failed requests.
// A client with n retries makes at most n+1 attempts.
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		c.retry.MaxRetries = n
	}
}

// WithRetryDelay sets the constant delay between attempts.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retry.Delay = d
	}
}

// WithRetryPolicy replaces the whole retry policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}
