package blacklist

import (
	"context"
	"errors"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	gateway "github.com/smartai/router/internal"
)

// httpStatusError is an interface for errors carrying an HTTP status code.
// Matches the same interface used by the dispatcher's failover logic.
type httpStatusError interface {
	HTTPStatus() int
}

// responseBodyError is an optional interface for errors that retain the
// upstream response body, used to distinguish rate-limit flavors.
type responseBodyError interface {
	ResponseBody() string
}

// Classification is the typed outcome of failure analysis.
type Classification struct {
	Type      gateway.ErrorType
	Backoff   time.Duration // initial backoff; ignored when Permanent
	Permanent bool
}

// Classify maps an upstream failure to its blacklist classification:
//
//	401, 403 (non-rate-limit text)  auth_error          permanent
//	403 with "rate"/"limit" body    rate_limit          10 s
//	404                             model_unavailable   300 s
//	429 with "quota"/"balance"      quota_exceeded      1800 s
//	429 other                       rate_limit          retry-after capped 300 s, else 10 s
//	>=500                           server_error        60 s
//	timeout                         timeout             30 s
//	transport                       connection_error    30 s
//	else                            unknown             60 s
func Classify(err error) Classification {
	if err == nil {
		return Classification{Type: gateway.ErrTypeUnknown, Backoff: 60 * time.Second}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return Classification{Type: gateway.ErrTypeTimeout, Backoff: 30 * time.Second}
	}

	var he httpStatusError
	if errors.As(err, &he) {
		body := ""
		var be responseBodyError
		if errors.As(err, &be) {
			body = strings.ToLower(be.ResponseBody())
		}
		return classifyStatus(he.HTTPStatus(), body, err)
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return Classification{Type: gateway.ErrTypeConnection, Backoff: 30 * time.Second}
	}
	var netTimeout net.Error
	if errors.As(err, &netTimeout) && netTimeout.Timeout() {
		return Classification{Type: gateway.ErrTypeTimeout, Backoff: 30 * time.Second}
	}

	return Classification{Type: gateway.ErrTypeUnknown, Backoff: 60 * time.Second}
}

func classifyStatus(code int, body string, err error) Classification {
	switch {
	case code == 401 || code == 403:
		if code == 403 && (strings.Contains(body, "rate") || strings.Contains(body, "limit")) {
			return Classification{Type: gateway.ErrTypeRateLimit, Backoff: 10 * time.Second}
		}
		return Classification{Type: gateway.ErrTypeAuth, Permanent: true}
	case code == 404:
		return Classification{Type: gateway.ErrTypeModelUnavailable, Backoff: 300 * time.Second}
	case code == 429:
		if strings.Contains(body, "quota") || strings.Contains(body, "balance") {
			return Classification{Type: gateway.ErrTypeQuotaExceeded, Backoff: 1800 * time.Second}
		}
		backoff := 10 * time.Second
		if hint, ok := RetryAfterHint(err, body); ok {
			backoff = min(time.Duration(hint*float64(time.Second)), 300*time.Second)
		}
		return Classification{Type: gateway.ErrTypeRateLimit, Backoff: backoff}
	case code >= 500:
		return Classification{Type: gateway.ErrTypeServer, Backoff: 60 * time.Second}
	default:
		return Classification{Type: gateway.ErrTypeUnknown, Backoff: 60 * time.Second}
	}
}

// Retry-after patterns over JSON and plain-text bodies. Providers disagree on
// the field name and unit; all observed forms are seconds.
var retryAfterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"retry_after"\s*:\s*"?([0-9]+(?:\.[0-9]+)?)`),
	regexp.MustCompile(`"retry-after"\s*:\s*"?([0-9]+(?:\.[0-9]+)?)`),
	regexp.MustCompile(`retry[ -_]?after[:\s]+([0-9]+(?:\.[0-9]+)?)`),
	regexp.MustCompile(`try again in ([0-9]+(?:\.[0-9]+)?)\s*s`),
	regexp.MustCompile(`"retryDelay"\s*:\s*"([0-9]+(?:\.[0-9]+)?)s"`),
}

// ParseRetryAfter extracts a retry-after hint in seconds from a response body.
func ParseRetryAfter(body string) (float64, bool) {
	lower := strings.ToLower(body)
	for _, p := range retryAfterPatterns {
		if m := p.FindStringSubmatch(lower); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
				return v, true
			}
		}
	}
	return 0, false
}

// RetryAfterHint returns the retry-after in seconds from either a structured
// UpstreamError or the response body text.
func RetryAfterHint(err error, body string) (float64, bool) {
	var ue *gateway.UpstreamError
	if errors.As(err, &ue) && ue.RetryAfter != nil && *ue.RetryAfter > 0 {
		return *ue.RetryAfter, true
	}
	return ParseRetryAfter(body)
}
