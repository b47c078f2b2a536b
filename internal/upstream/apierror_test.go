package upstream

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestParseAPIError(t *testing.T) {
	t.Parallel()

	resp := &http.Response{
		StatusCode: 429,
		Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"rate limit"}}`)),
	}
	err := ParseAPIError("ch1", resp)

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err type = %T, want *APIError", err)
	}
	if apiErr.HTTPStatus() != 429 {
		t.Errorf("status = %d, want 429", apiErr.HTTPStatus())
	}
	if !strings.Contains(apiErr.ResponseBody(), "rate limit") {
		t.Errorf("body = %q", apiErr.ResponseBody())
	}
	if got := apiErr.Error(); got != `channel ch1: HTTP 429: {"error":{"message":"rate limit"}}` {
		t.Errorf("Error() = %q", got)
	}

	// Classification probes errors through this pair of methods.
	if _, ok := err.(interface {
		HTTPStatus() int
		ResponseBody() string
	}); !ok {
		t.Errorf("APIError should expose HTTPStatus and ResponseBody, got %T", err)
	}
}

func TestParseAPIError_BodyCapped(t *testing.T) {
	t.Parallel()

	huge := strings.Repeat("x", maxErrorBody*2)
	resp := &http.Response{
		StatusCode: 500,
		Body:       io.NopCloser(strings.NewReader(huge)),
	}
	err := ParseAPIError("ch1", resp)
	if got := len(err.(*APIError).Body); got != maxErrorBody {
		t.Errorf("retained body = %d bytes, want %d", got, maxErrorBody)
	}
}
