package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	gateway "github.com/smartai/router/internal"
)

// geminiRequest is the generateContent request body.
type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenCfg   `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenCfg struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

func writeGeminiError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": msg,
			"status":  geminiStatusName(status),
		},
	})
}

func geminiStatusName(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// handleGeminiGenerate serves the generateContent dialect. The model name
// and action share the final path segment ("gemini-pro:generateContent"),
// so the route wildcard is split on the last colon.
func (s *server) handleGeminiGenerate(w http.ResponseWriter, r *http.Request) {
	tail := chi.URLParam(r, "*")
	idx := strings.LastIndexByte(tail, ':')
	if idx <= 0 {
		writeGeminiError(w, http.StatusNotFound, "unknown method "+tail)
		return
	}
	model, action := tail[:idx], tail[idx+1:]

	var stream bool
	switch action {
	case "generateContent":
	case "streamGenerateContent":
		stream = true
	default:
		writeGeminiError(w, http.StatusNotFound, "unknown method "+action)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeGeminiError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	var in geminiRequest
	if err := json.Unmarshal(raw, &in); err != nil {
		writeGeminiError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(in.Contents) == 0 {
		writeGeminiError(w, http.StatusBadRequest, "contents is required")
		return
	}

	req, err := geminiToChatRequest(model, stream, &in)
	if err != nil {
		writeGeminiError(w, http.StatusBadRequest, err.Error())
		return
	}

	if stream {
		s.handleGeminiStream(w, r, req)
		return
	}

	body, _, err := s.deps.Dispatcher.Completion(r.Context(), req)
	if err != nil {
		writeGeminiError(w, errorStatus(err), err.Error())
		return
	}
	out, err := chatResponseToGemini(body)
	if err != nil {
		writeGeminiError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// geminiToChatRequest converts generateContent input to the canonical
// internal form. Gemini's "model" role maps to "assistant".
func geminiToChatRequest(model string, stream bool, in *geminiRequest) (*gateway.ChatRequest, error) {
	out := &gateway.ChatRequest{
		Model:  model,
		Stream: stream,
	}
	if cfg := in.GenerationConfig; cfg != nil {
		out.Temperature = cfg.Temperature
		out.TopP = cfg.TopP
		out.MaxTokens = cfg.MaxOutputTokens
	}

	appendMsg := func(role string, parts []geminiPart) {
		var sb strings.Builder
		for _, p := range parts {
			sb.WriteString(p.Text)
		}
		content, _ := json.Marshal(sb.String())
		out.Messages = append(out.Messages, gateway.Message{Role: role, Content: content})
	}

	if in.SystemInstruction != nil {
		appendMsg("system", in.SystemInstruction.Parts)
	}
	for _, c := range in.Contents {
		role := "user"
		if c.Role == "model" {
			role = "assistant"
		}
		appendMsg(role, c.Parts)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return out, nil
}

// chatResponseToGemini converts an OpenAI-format completion into the
// generateContent candidate shape.
func chatResponseToGemini(body []byte) ([]byte, error) {
	r := gjson.ParseBytes(body)

	out := map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": r.Get("choices.0.message.content").String()}},
				},
				"finishReason": mapGeminiFinishReason(r.Get("choices.0.finish_reason").String()),
				"index":        0,
			},
		},
		"usageMetadata": map[string]any{
			"promptTokenCount":     r.Get("usage.prompt_tokens").Int(),
			"candidatesTokenCount": r.Get("usage.completion_tokens").Int(),
			"totalTokenCount":      r.Get("usage.total_tokens").Int(),
		},
		"modelVersion": r.Get("model").String(),
	}
	if sum := r.Get(gateway.SummaryKey); sum.Exists() {
		out[gateway.SummaryKey] = json.RawMessage(sum.Raw)
	}
	return json.Marshal(out)
}

func mapGeminiFinishReason(reason string) string {
	switch reason {
	case "length":
		return "MAX_TOKENS"
	case "content_filter":
		return "SAFETY"
	default:
		return "STOP"
	}
}

// handleGeminiStream relays the internal chunk stream as generateContent
// candidate frames over SSE.
func (s *server) handleGeminiStream(w http.ResponseWriter, r *http.Request, req *gateway.ChatRequest) {
	ch, _, err := s.deps.Dispatcher.Stream(r.Context(), req)
	if err != nil {
		writeGeminiError(w, errorStatus(err), err.Error())
		return
	}

	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	flusher.Flush()

	for ev := range ch {
		if ev.Err != nil {
			slog.LogAttrs(r.Context(), slog.LevelError, "stream error",
				slog.String("error", ev.Err.Error()))
			return
		}
		if ev.Done {
			return
		}

		chunk := gjson.ParseBytes(ev.Data)
		// The routing summary has no candidate shape; drop it from this
		// dialect's stream.
		if chunk.Get(gateway.SummaryKey).Exists() {
			continue
		}

		text := chunk.Get("choices.0.delta.content").String()
		finish := chunk.Get("choices.0.finish_reason").String()
		if text == "" && finish == "" {
			continue
		}

		frame := map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role":  "model",
						"parts": []map[string]any{{"text": text}},
					},
					"index": 0,
				},
			},
			"modelVersion": chunk.Get("model").String(),
		}
		if finish != "" {
			frame["candidates"].([]map[string]any)[0]["finishReason"] = mapGeminiFinishReason(finish)
			if ev.Usage != nil {
				frame["usageMetadata"] = map[string]any{
					"promptTokenCount":     ev.Usage.PromptTokens,
					"candidatesTokenCount": ev.Usage.CompletionTokens,
					"totalTokenCount":      ev.Usage.TotalTokens,
				}
			}
		}
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		writeSSEData(w, data)
		flusher.Flush()
	}
}
