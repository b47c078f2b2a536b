// Package testutil provides configurable test fakes for gateway components.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
)

// FakeUpstream is an httptest server speaking the OpenAI chat completion
// protocol. Each instance plays one upstream channel.
type FakeUpstream struct {
	srv      *httptest.Server
	requests atomic.Int64

	// Handler overrides the default behavior entirely when set.
	Handler http.HandlerFunc
	// FailStatus makes every completion request fail with this status.
	FailStatus int
	// FailBody is the error payload returned with FailStatus.
	FailBody string
	// Reply is the assistant message content for successful completions.
	Reply string
	// Usage is the token usage reported on success.
	Usage FakeUsage
	// StreamChunks are the content fragments emitted when the request asks
	// for a stream. Empty means the Reply is sent as one chunk.
	StreamChunks []string
	// Models is the payload for GET /models.
	Models []string
}

// FakeUsage mirrors OpenAI usage accounting.
type FakeUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewFakeUpstream starts a fake upstream with sane defaults.
func NewFakeUpstream() *FakeUpstream {
	f := &FakeUpstream{
		Reply:  "hello",
		Usage:  FakeUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Models: []string{"fake-model"},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

// URL returns the server's base URL.
func (f *FakeUpstream) URL() string { return f.srv.URL }

// Requests returns how many completion requests the server has seen.
func (f *FakeUpstream) Requests() int64 { return f.requests.Load() }

// Close shuts the server down.
func (f *FakeUpstream) Close() { f.srv.Close() }

func (f *FakeUpstream) serve(w http.ResponseWriter, r *http.Request) {
	if f.Handler != nil {
		f.Handler(w, r)
		return
	}

	switch r.URL.Path {
	case "/models":
		type entry struct {
			ID string `json:"id"`
		}
		data := make([]entry, 0, len(f.Models))
		for _, m := range f.Models {
			data = append(data, entry{ID: m})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})

	case "/chat/completions":
		f.requests.Add(1)
		if f.FailStatus != 0 {
			body := f.FailBody
			if body == "" {
				body = fmt.Sprintf(`{"error":{"message":"failed","type":"api_error","code":%d}}`, f.FailStatus)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.FailStatus)
			w.Write([]byte(body))
			return
		}

		var req struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		if req.Stream {
			f.serveStream(w, req.Model)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-fake",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": f.Reply},
				"finish_reason": "stop",
			}},
			"usage": f.Usage,
		})

	default:
		http.NotFound(w, r)
	}
}

func (f *FakeUpstream) serveStream(w http.ResponseWriter, model string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)

	chunks := f.StreamChunks
	if len(chunks) == 0 {
		chunks = []string{f.Reply}
	}

	writeChunk := func(payload map[string]any) {
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	for _, c := range chunks {
		writeChunk(map[string]any{
			"id":      "chatcmpl-fake",
			"object":  "chat.completion.chunk",
			"model":   model,
			"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": c}}},
		})
	}
	writeChunk(map[string]any{
		"id":      "chatcmpl-fake",
		"object":  "chat.completion.chunk",
		"model":   model,
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{}, "finish_reason": "stop"}},
		"usage":   f.Usage,
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
