package upstream

import (
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of an upstream error body is retained.
const maxErrorBody = 4096

// APIError represents a non-2xx response from an upstream provider. It
// retains the status code and a bounded slice of the body so failure
// classification can inspect both.
type APIError struct {
	ChannelID  string
	StatusCode int
	Body       string
}

// Error returns a formatted error string including channel, status, and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("channel %s: HTTP %d: %s", e.ChannelID, e.StatusCode, e.Body)
}

// HTTPStatus returns the HTTP status code for failover decisions.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// ResponseBody returns the retained response body for classification.
func (e *APIError) ResponseBody() string { return e.Body }

// ParseAPIError reads up to 4KB from the response body and returns an APIError.
func ParseAPIError(channelID string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{ChannelID: channelID, StatusCode: resp.StatusCode, Body: string(body)}
}
