package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the gateway domain.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrBadRequest        = errors.New("bad request")
	ErrNotFound          = errors.New("not found")
	ErrNoChannels        = errors.New("no channels available")
	ErrAllChannelsFailed = errors.New("all channels failed")
	ErrChannelBlacklist  = errors.New("channel blacklisted")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamTransport = errors.New("upstream transport error")
)

// TagNotFoundError reports a tag query that matched no concrete model.
type TagNotFoundError struct {
	Tags []string
}

// Error returns the tag list that failed to match.
func (e *TagNotFoundError) Error() string {
	return fmt.Sprintf("no models match tags: %s", strings.Join(e.Tags, ","))
}

// Is makes the error match ErrNotFound so the HTTP layer maps it to 404.
func (e *TagNotFoundError) Is(target error) bool { return target == ErrNotFound }
