package blacklist

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	gateway "github.com/smartai/router/internal"
)

// statusError implements httpStatusError and responseBodyError for testing.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string        { return fmt.Sprintf("HTTP %d", e.code) }
func (e *statusError) HTTPStatus() int      { return e.code }
func (e *statusError) ResponseBody() string { return e.body }

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantType    gateway.ErrorType
		wantBackoff time.Duration
		wantPerm    bool
	}{
		{"401", &statusError{code: 401}, gateway.ErrTypeAuth, 0, true},
		{"403_plain", &statusError{code: 403, body: "forbidden"}, gateway.ErrTypeAuth, 0, true},
		{"403_rate", &statusError{code: 403, body: "rate limit exceeded"}, gateway.ErrTypeRateLimit, 10 * time.Second, false},
		{"404", &statusError{code: 404}, gateway.ErrTypeModelUnavailable, 300 * time.Second, false},
		{"429_plain", &statusError{code: 429, body: "slow down"}, gateway.ErrTypeRateLimit, 10 * time.Second, false},
		{"429_quota", &statusError{code: 429, body: "insufficient quota"}, gateway.ErrTypeQuotaExceeded, 1800 * time.Second, false},
		{"429_balance", &statusError{code: 429, body: "balance too low"}, gateway.ErrTypeQuotaExceeded, 1800 * time.Second, false},
		{"500", &statusError{code: 500}, gateway.ErrTypeServer, 60 * time.Second, false},
		{"503", &statusError{code: 503}, gateway.ErrTypeServer, 60 * time.Second, false},
		{"400", &statusError{code: 400}, gateway.ErrTypeUnknown, 60 * time.Second, false},
		{"deadline", context.DeadlineExceeded, gateway.ErrTypeTimeout, 30 * time.Second, false},
		{"os_deadline", os.ErrDeadlineExceeded, gateway.ErrTypeTimeout, 30 * time.Second, false},
		{"wrapped_deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), gateway.ErrTypeTimeout, 30 * time.Second, false},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, gateway.ErrTypeConnection, 30 * time.Second, false},
		{"generic", errors.New("boom"), gateway.ErrTypeUnknown, 60 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tt.err)
			if got.Type != tt.wantType {
				t.Errorf("type = %s, want %s", got.Type, tt.wantType)
			}
			if got.Permanent != tt.wantPerm {
				t.Errorf("permanent = %v, want %v", got.Permanent, tt.wantPerm)
			}
			if !got.Permanent && got.Backoff != tt.wantBackoff {
				t.Errorf("backoff = %s, want %s", got.Backoff, tt.wantBackoff)
			}
		})
	}
}

func TestClassify_RetryAfterBackoff(t *testing.T) {
	t.Parallel()

	err := &statusError{code: 429, body: `{"error":{"message":"try again","retry_after":42}}`}
	got := Classify(err)
	if got.Type != gateway.ErrTypeRateLimit {
		t.Fatalf("type = %s, want rate_limit", got.Type)
	}
	if got.Backoff != 42*time.Second {
		t.Errorf("backoff = %s, want 42s", got.Backoff)
	}

	// Large hints are capped at 300s.
	err = &statusError{code: 429, body: `{"retry_after": 9000}`}
	if got := Classify(err); got.Backoff != 300*time.Second {
		t.Errorf("capped backoff = %s, want 300s", got.Backoff)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want float64
		ok   bool
	}{
		{"json_field", `{"retry_after": 12}`, 12, true},
		{"json_dash", `{"retry-after": "3.5"}`, 3.5, true},
		{"plain_text", "retry after: 7", 7, true},
		{"try_again", "Rate limit reached. Please try again in 20s.", 20, true},
		{"gemini_delay", `{"retryDelay":"14s"}`, 14, true},
		{"none", "no hint here", 0, false},
		{"zero", `{"retry_after": 0}`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseRetryAfter(tt.body)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %f, %v; want %f, %v", tt.body, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRetryAfterHint_StructuredWins(t *testing.T) {
	t.Parallel()

	ra := 5.0
	err := &gateway.UpstreamError{Code: 429, Message: "slow down", RetryAfter: &ra}
	got, ok := RetryAfterHint(fmt.Errorf("wrap: %w", err), `{"retry_after": 99}`)
	if !ok || got != 5.0 {
		t.Errorf("hint = %f, %v; want 5.0, true", got, ok)
	}
}
