package callwire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Health probes the bridge root endpoint. Any 2xx response carrying a JSON
// body counts as reachable; everything else comes back as an error from the
// taxonomy. No retries: this is a point-in-time probe.
func (c *Client) Health(ctx context.Context) error {
	endpoint, err := c.endpoint("/")
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewNetworkError("read response", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return parseCallError(resp.StatusCode, respBody)
	}

	var probe struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &probe); err != nil {
		return &Error{
			Type:    ErrServer,
			Message: "malformed health response",
			Status:  resp.StatusCode,
			Body:    strings.TrimSpace(string(respBody)),
		}
	}
	return nil
}
