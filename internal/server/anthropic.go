package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/smartai/router/internal"
)

// anthropicVersion is the only Messages API version this dialect accepts.
const anthropicVersion = "2023-06-01"

// anthropicRequest is the Anthropic Messages API request body.
type anthropicRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []anthropicMsg  `json:"messages"`
	System      json.RawMessage `json:"system,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`
	StopSeqs    json.RawMessage `json:"stop_sequences,omitempty"`
}

type anthropicMsg struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// anthropicError is the Messages API error envelope.
type anthropicError struct {
	Type  string `json:"type"` // always "error"
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeAnthropicError(w http.ResponseWriter, status int, errType, msg string) {
	var e anthropicError
	e.Type = "error"
	e.Error.Type = errType
	e.Error.Message = msg
	writeJSON(w, status, e)
}

// handleAnthropicMessages accepts Anthropic Messages API requests, translates
// them to the internal OpenAI form, dispatches, and translates the result
// back, synthesizing the typed SSE event protocol for streaming.
func (s *server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	if v := r.Header.Get("anthropic-version"); v != anthropicVersion {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error",
			"anthropic-version header must be "+anthropicVersion)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeAnthropicError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
		return
	}
	var in anthropicRequest
	if err := json.Unmarshal(raw, &in); err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return
	}
	if in.Model == "" {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}

	req, err := anthropicToChatRequest(&in)
	if err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	if in.Stream {
		s.handleAnthropicStream(w, r, req)
		return
	}

	body, _, err := s.deps.Dispatcher.Completion(r.Context(), req)
	if err != nil {
		writeAnthropicError(w, errorStatus(err), "api_error", err.Error())
		return
	}
	out, err := chatResponseToAnthropic(body)
	if err != nil {
		writeAnthropicError(w, http.StatusBadGateway, "api_error", err.Error())
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// anthropicToChatRequest converts a Messages API request to the canonical
// internal form. Content block arrays are flattened to their text parts.
func anthropicToChatRequest(in *anthropicRequest) (*gateway.ChatRequest, error) {
	out := &gateway.ChatRequest{
		Model:       in.Model,
		Temperature: in.Temperature,
		TopP:        in.TopP,
		Stream:      in.Stream,
		Tools:       in.Tools,
		Stop:        in.StopSeqs,
	}
	if in.MaxTokens > 0 {
		mt := in.MaxTokens
		out.MaxTokens = &mt
	}

	if len(in.System) > 0 {
		out.Messages = append(out.Messages, gateway.Message{
			Role:    "system",
			Content: flattenAnthropicContent(in.System),
		})
	}
	for _, m := range in.Messages {
		out.Messages = append(out.Messages, gateway.Message{
			Role:    m.Role,
			Content: flattenAnthropicContent(m.Content),
		})
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return out, nil
}

// flattenAnthropicContent reduces a content value (string or block array) to
// a JSON string of its concatenated text blocks.
func flattenAnthropicContent(content json.RawMessage) json.RawMessage {
	v := gjson.ParseBytes(content)
	if v.Type == gjson.String {
		return content
	}
	if !v.IsArray() {
		return content
	}
	var sb strings.Builder
	v.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			sb.WriteString(block.Get("text").String())
		}
		return true
	})
	b, _ := json.Marshal(sb.String())
	return b
}

// chatResponseToAnthropic converts an OpenAI-format completion (with the
// routing summary injected) into a Messages API response. The summary is
// carried through under its own key.
func chatResponseToAnthropic(body []byte) ([]byte, error) {
	r := gjson.ParseBytes(body)

	content := r.Get("choices.0.message.content").String()
	out := map[string]any{
		"id":    r.Get("id").String(),
		"type":  "message",
		"role":  "assistant",
		"model": r.Get("model").String(),
		"content": []map[string]any{
			{"type": "text", "text": content},
		},
		"stop_reason": mapFinishReason(r.Get("choices.0.finish_reason").String()),
		"usage": map[string]any{
			"input_tokens":  r.Get("usage.prompt_tokens").Int(),
			"output_tokens": r.Get("usage.completion_tokens").Int(),
		},
	}
	if sum := r.Get(gateway.SummaryKey); sum.Exists() {
		out[gateway.SummaryKey] = json.RawMessage(sum.Raw)
	}
	return json.Marshal(out)
}

// mapFinishReason converts OpenAI finish reasons to Anthropic stop reasons.
func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "end_turn"
	}
}

// handleAnthropicStream synthesizes the Messages API event protocol
// (message_start, content_block_*, message_delta, message_stop) from the
// internal OpenAI-format chunk stream.
func (s *server) handleAnthropicStream(w http.ResponseWriter, r *http.Request, req *gateway.ChatRequest) {
	ch, _, err := s.deps.Dispatcher.Stream(r.Context(), req)
	if err != nil {
		writeAnthropicError(w, errorStatus(err), "api_error", err.Error())
		return
	}

	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	flusher.Flush()

	var (
		started      bool
		blockOpen    bool
		finishReason string
		usage        *gateway.Usage
	)

	emit := func(event string, payload map[string]any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		writeSSEEvent(w, event, data)
		flusher.Flush()
	}

	finish := func() {
		if blockOpen {
			emit("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0})
		}
		outputTokens := int64(0)
		if usage != nil {
			outputTokens = int64(usage.CompletionTokens)
		}
		emit("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": mapFinishReason(finishReason)},
			"usage": map[string]any{"output_tokens": outputTokens},
		})
		emit("message_stop", map[string]any{"type": "message_stop"})
	}

	for ev := range ch {
		switch {
		case ev.Err != nil:
			slog.LogAttrs(r.Context(), slog.LevelError, "stream error",
				slog.String("error", ev.Err.Error()))
			finish()
			return
		case ev.Done:
			finish()
			return
		}

		chunk := gjson.ParseBytes(ev.Data)
		// The routing summary rides the internal stream as its own data
		// event; the typed Anthropic protocol has no place for it.
		if chunk.Get(gateway.SummaryKey).Exists() {
			continue
		}

		if !started {
			started = true
			emit("message_start", map[string]any{
				"type": "message_start",
				"message": map[string]any{
					"id":      chunk.Get("id").String(),
					"type":    "message",
					"role":    "assistant",
					"model":   chunk.Get("model").String(),
					"content": []any{},
					"usage":   map[string]any{"input_tokens": 0, "output_tokens": 0},
				},
			})
		}

		if ev.Usage != nil {
			usage = ev.Usage
		}
		if fr := chunk.Get("choices.0.finish_reason"); fr.Exists() && fr.String() != "" {
			finishReason = fr.String()
		}

		text := chunk.Get("choices.0.delta.content").String()
		if text == "" {
			continue
		}
		if !blockOpen {
			blockOpen = true
			emit("content_block_start", map[string]any{
				"type":          "content_block_start",
				"index":         0,
				"content_block": map[string]any{"type": "text", "text": ""},
			})
		}
		emit("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": text},
		})
	}
	finish()
}
