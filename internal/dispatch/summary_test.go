package dispatch

import (
	"encoding/json"
	"strings"
	"testing"

	gateway "github.com/smartai/router/internal"
)

func TestParseUpstreamBody(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"id": "chatcmpl-1",
		"choices": [{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],
		"usage": {"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}
	}`)
	m, usage, err := parseUpstreamBody(body)
	if err != nil {
		t.Fatal(err)
	}
	if usage == nil || usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", usage)
	}
	if _, ok := m["choices"]; !ok {
		t.Error("choices missing from parsed map")
	}

	if _, _, err := parseUpstreamBody([]byte("<html>bad gateway</html>")); err == nil {
		t.Error("non-JSON body should error")
	}

	// Zero-total usage is treated as absent.
	_, usage, err = parseUpstreamBody([]byte(`{"usage":{"total_tokens":0}}`))
	if err != nil || usage != nil {
		t.Errorf("zero usage = %+v, err %v", usage, err)
	}
}

func TestMarshalWithSummary(t *testing.T) {
	t.Parallel()

	m := map[string]json.RawMessage{"id": json.RawMessage(`"chatcmpl-1"`)}
	sum := &Summary{RequestID: "req-1", ChannelID: "ch1", Status: "success"}

	out, err := marshalWithSummary(m, sum)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatal(err)
	}
	raw, ok := decoded[gateway.SummaryKey]
	if !ok {
		t.Fatalf("output missing %q", gateway.SummaryKey)
	}
	var got Summary
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.RequestID != "req-1" || got.ChannelID != "ch1" {
		t.Errorf("summary = %+v", got)
	}
	if string(decoded["id"]) != `"chatcmpl-1"` {
		t.Error("original fields must pass through")
	}
}

func TestSummaryEvent(t *testing.T) {
	t.Parallel()

	data, err := summaryEvent(&Summary{RequestID: "req-1", Status: "success"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), `{"`+gateway.SummaryKey+`":`) {
		t.Errorf("event = %s", data)
	}
}

func TestCleanThinking(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no_block", "plain answer", "plain answer"},
		{"leading_block", "<think>reasoning here</think>The answer is 4.", "The answer is 4."},
		{"whitespace_around", "  <think>hmm</think>\n\nFinal.", "Final."},
		{"unterminated", "<think>never closed", "<think>never closed"},
		{"multiline", "<think>line1\nline2</think>ok", "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := cleanThinking(tt.in); got != tt.want {
				t.Errorf("cleanThinking(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanChoices(t *testing.T) {
	t.Parallel()

	m := map[string]json.RawMessage{
		"choices": json.RawMessage(`[{"index":0,"message":{"role":"assistant","content":"<think>x</think>clean"},"finish_reason":"stop"}]`),
	}
	cleanChoices(m)

	var choices []gateway.Choice
	if err := json.Unmarshal(m["choices"], &choices); err != nil {
		t.Fatal(err)
	}
	var content string
	if err := json.Unmarshal(choices[0].Message.Content, &content); err != nil {
		t.Fatal(err)
	}
	if content != "clean" {
		t.Errorf("content = %q, want thinking stripped", content)
	}
}
