// Package callwire is the client SDK for the callwire calling service.
//
// A session is one AI-assisted phone call: the client places the call through
// the bridge backend, opens the media stream carrying interleaved audio and
// transcript frames, and coordinates microphone capture against that stream
// until either side ends the call. Session drives the whole lifecycle; the
// lower-level pieces (Client, MediaStream, Dispatcher) are exported for
// callers that need finer control.
package callwire

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Client talks to the bridge's HTTP surface: the call-placing endpoint and
// the health probe. It also derives the media-stream URL the transport dials.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	retry      RetryPolicy
}

// NewClient creates a client for the bridge at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		logger:  slog.Default(),
		retry:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newDefaultHTTPClient()
	}
	return c
}

// endpoint resolves path against the configured base URL. The base must
// carry a scheme and host and no embedded credentials; its query and
// fragment are discarded.
func (c *Client) endpoint(path string) (string, error) {
	rawBaseURL := strings.TrimSpace(c.baseURL)
	if rawBaseURL == "" {
		return "", NewInvalidStateError("bridge base URL is not configured")
	}

	base, err := url.Parse(rawBaseURL)
	if err != nil || strings.TrimSpace(base.Scheme) == "" || strings.TrimSpace(base.Host) == "" {
		return "", NewInvalidStateError("invalid bridge base URL")
	}
	if base.User != nil {
		return "", NewInvalidStateError("bridge base URL must not include credentials")
	}

	base.RawQuery = ""
	base.Fragment = ""

	cleanPath := "/" + strings.TrimLeft(path, "/")
	basePath := strings.TrimSuffix(base.Path, "/")
	if basePath == "" || basePath == "/" {
		base.Path = cleanPath
	} else {
		base.Path = basePath + cleanPath
	}
	base.RawPath = ""

	return base.String(), nil
}

// streamEndpoint derives the media-stream WebSocket URL for one call:
// http(s) becomes ws(s) and the correlation id rides the call_record_id
// query parameter.
func (c *Client) streamEndpoint(callID string) (string, error) {
	endpoint, err := c.endpoint("/media-stream")
	if err != nil {
		return "", err
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", NewInvalidStateError("invalid bridge base URL")
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already websocket scheme.
	default:
		return "", NewInvalidStateError("bridge base URL must use http(s) or ws(s)")
	}
	u.RawQuery = url.Values{"call_record_id": {callID}}.Encode()
	return u.String(), nil
}
