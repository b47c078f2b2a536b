package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/smartai/router/internal"
	"github.com/smartai/router/internal/blacklist"
)

const maxLineSize = 64 * 1024 // 64KB per SSE line

// NewScanner returns a bufio.Scanner configured for reading SSE lines with
// a 64KB buffer. Each call to Scan() returns a single line without the
// trailing newline.
func NewScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), maxLineSize)
	return s
}

// ParseSSELine parses a single SSE line into its event type and data payload.
// It returns ok=false for empty lines, comments, and malformed lines.
func ParseSSELine(line string) (event, data string, ok bool) {
	if line == "" || line[0] == ':' {
		return "", "", false
	}
	key, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	value = strings.TrimPrefix(value, " ")
	switch key {
	case "event":
		return value, "", true
	case "data":
		return "", value, true
	default:
		return "", "", false
	}
}

// ReadStream reads SSE lines from resp and sends them as StreamEvents on ch.
// It handles the "[DONE]" sentinel, extracts usage from the final chunk, and
// surfaces mid-stream error payloads as typed upstream errors so the caller
// can classify them. The channel is closed when done.
func ReadStream(ctx context.Context, channelID string, resp *http.Response, ch chan<- gateway.StreamEvent) {
	defer close(ch)
	defer resp.Body.Close()

	// Every send honors ctx so a consumer that stopped reading cannot wedge
	// this goroutine behind a full channel.
	send := func(ev gateway.StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := NewScanner(resp.Body)
	for scanner.Scan() {
		_, data, ok := ParseSSELine(scanner.Text())
		if !ok {
			continue
		}
		if data == "[DONE]" {
			send(gateway.StreamEvent{Done: true})
			return
		}

		ev := gateway.StreamEvent{Data: []byte(data)}

		// Some providers report failures mid-stream as a data payload with a
		// top-level error object instead of closing with an HTTP status.
		if e := gjson.GetBytes(ev.Data, "error"); e.Exists() && e.IsObject() {
			send(gateway.StreamEvent{Err: streamError(channelID, e)})
			return
		}

		if u := gjson.GetBytes(ev.Data, "usage"); u.Exists() && u.Type == gjson.JSON {
			var usage gateway.Usage
			if json.Unmarshal([]byte(u.Raw), &usage) == nil && usage.TotalTokens > 0 {
				ev.Usage = &usage
			}
		}

		if !send(ev) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		send(gateway.StreamEvent{Err: fmt.Errorf("channel %s: read stream: %w", channelID, err)})
	}
}

// streamError converts a mid-stream error payload into an UpstreamError so
// classification treats it like an HTTP-level failure.
func streamError(channelID string, e gjson.Result) error {
	code := int(e.Get("code").Int())
	if code == 0 {
		code = int(e.Get("status").Int())
	}
	msg := e.Get("message").String()
	if msg == "" {
		msg = e.Raw
	}
	ue := &gateway.UpstreamError{Code: code, Message: fmt.Sprintf("channel %s: %s", channelID, msg)}
	if v, ok := blacklist.ParseRetryAfter(e.Raw); ok {
		ue.RetryAfter = &v
	}
	return ue
}
