package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	gateway "github.com/smartai/router/internal"
)

// Attempt records one tried channel for the routing summary.
type Attempt struct {
	ChannelID   string            `json:"channel_id"`
	ChannelName string            `json:"channel_name"`
	Model       string            `json:"model"`
	ErrorType   gateway.ErrorType `json:"error_type,omitempty"`
	Error       string            `json:"error,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
}

// Summary is the routing metadata attached to every response under the
// gateway.SummaryKey field, and emitted as the final SSE event before [DONE].
type Summary struct {
	RequestID       string         `json:"request_id"`
	ChannelID       string         `json:"channel_id"`
	ChannelName     string         `json:"channel_name"`
	Provider        string         `json:"provider"`
	Model           string         `json:"model"`
	RequestedModel  string         `json:"requested_model"`
	Strategy        string         `json:"strategy"`
	Status          string         `json:"status"` // "success", "error", "cancelled"
	Attempts        []Attempt      `json:"attempts,omitempty"`
	ResponseTimeMs  int64          `json:"response_time_ms"`
	TTFBMs          int64          `json:"ttfb_ms,omitempty"`
	TokensPerSecond float64        `json:"tokens_per_second,omitempty"`
	Usage           *gateway.Usage `json:"usage,omitempty"`
	Cost            float64        `json:"cost"`
	Currency        string         `json:"currency,omitempty"`
	EstimatedCost   float64        `json:"estimated_cost,omitempty"`
}

// parseUpstreamBody decodes an upstream JSON response into a field map,
// extracts usage if present, and strips leaked thinking chains from choices.
func parseUpstreamBody(body []byte) (map[string]json.RawMessage, *gateway.Usage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, nil, fmt.Errorf("parse upstream response: %w", err)
	}

	var usage *gateway.Usage
	if raw, ok := m["usage"]; ok {
		var u gateway.Usage
		if json.Unmarshal(raw, &u) == nil && u.TotalTokens > 0 {
			usage = &u
		}
	}

	cleanChoices(m)
	return m, usage, nil
}

// marshalWithSummary injects the summary under its reserved key and
// re-serialises the response. All other fields pass through untouched.
func marshalWithSummary(m map[string]json.RawMessage, s *Summary) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	m[gateway.SummaryKey] = raw
	return json.Marshal(m)
}

// summaryEvent renders the summary as a standalone SSE data payload,
// {"smart_ai_router": {...}}, sent after the last content chunk.
func summaryEvent(s *Summary) ([]byte, error) {
	return json.Marshal(map[string]*Summary{gateway.SummaryKey: s})
}

var thinkPattern = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)

// cleanThinking strips a leading <think>...</think> block that some local
// models emit inline. An unterminated block is left alone.
func cleanThinking(content string) string {
	if !strings.Contains(content, "<think>") {
		return content
	}
	return thinkPattern.ReplaceAllString(content, "")
}

// cleanChoices applies thinking-chain cleanup to every choice message in a
// decoded response map. Errors leave the body untouched.
func cleanChoices(m map[string]json.RawMessage) {
	raw, ok := m["choices"]
	if !ok {
		return
	}
	var choices []gateway.Choice
	if err := json.Unmarshal(raw, &choices); err != nil {
		return
	}
	changed := false
	for i := range choices {
		var content string
		if json.Unmarshal(choices[i].Message.Content, &content) != nil {
			continue
		}
		if cleaned := cleanThinking(content); cleaned != content {
			b, err := json.Marshal(cleaned)
			if err != nil {
				continue
			}
			choices[i].Message.Content = b
			changed = true
		}
	}
	if !changed {
		return
	}
	if b, err := json.Marshal(choices); err == nil {
		m["choices"] = b
	}
}
