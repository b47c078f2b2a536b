package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	gateway "github.com/smartai/router/internal"
	"github.com/smartai/router/internal/dispatch"
)

// maxRequestBody caps inbound chat payloads (10 MB covers large vision
// requests with base64 images).
const maxRequestBody = 10 << 20

func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
		return
	}

	var req gateway.ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}
	if req.Model == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("model is required"))
		return
	}
	req.Raw = raw

	if req.Stream {
		s.handleChatCompletionStream(w, r, &req)
		return
	}

	body, sum, err := s.deps.Dispatcher.Completion(r.Context(), &req)
	if err != nil {
		writeDispatchError(w, err, sum)
		return
	}

	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// handleChatCompletionStream relays the dispatcher's event stream as SSE.
// The dispatcher appends the routing summary event before the [DONE] sentinel.
func (s *server) handleChatCompletionStream(w http.ResponseWriter, r *http.Request, req *gateway.ChatRequest) {
	ch, sum, err := s.deps.Dispatcher.Stream(r.Context(), req)
	if err != nil {
		writeDispatchError(w, err, sum)
		return
	}

	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				writeSSEDone(w)
				flusher.Flush()
				return
			}
			if ev.Err != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "stream error",
					slog.String("error", ev.Err.Error()),
				)
				// Terminate with an error frame; the dispatcher follows up
				// with the summary event before closing the channel.
				if frame, err := json.Marshal(errorResponse(ev.Err.Error())); err == nil {
					writeSSEData(w, frame)
					flusher.Flush()
				}
				continue
			}
			if ev.Done {
				writeSSEDone(w)
				flusher.Flush()
				return
			}
			writeSSEData(w, ev.Data)
			flusher.Flush()

		case <-keepAlive.C:
			writeSSEKeepAlive(w)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleListModels returns every discovered concrete model plus the virtual
// selectors derived from live channel and model tags.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	now := time.Now().Unix()
	seen := make(map[string]struct{})
	var data []modelEntry

	add := func(id, owner string) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		data = append(data, modelEntry{ID: id, Object: "model", Created: now, OwnedBy: owner})
	}

	for _, ch := range s.deps.Registry.EnabledChannels() {
		for _, m := range s.deps.Catalog.Models(ch.ID) {
			add(m, ch.Provider)
		}
		if ch.ModelName != "" {
			add(ch.ModelName, ch.Provider)
		}
	}

	// Virtual selectors: one auto: entry per strategy, one tag: entry per
	// tag observed on any enabled channel.
	for _, strat := range []string{"balanced", "cost_first", "cost_optimized", "free_first",
		"local_first", "speed_optimized", "quality_optimized"} {
		add("auto:"+strat, "router")
	}
	tags := make(map[string]struct{})
	for _, ch := range s.deps.Registry.EnabledChannels() {
		for _, t := range ch.Tags {
			tags[t] = struct{}{}
		}
	}
	sortedTags := make([]string, 0, len(tags))
	for t := range tags {
		sortedTags = append(sortedTags, t)
	}
	sort.Strings(sortedTags)
	for _, t := range sortedTags {
		add("tag:"+t, "router")
	}

	writeJSON(w, http.StatusOK, modelListResponse{Object: "list", Data: data})
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrNoChannels), errors.Is(err, gateway.ErrAllChannelsFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDispatchError maps a routing or dispatch failure onto the wire,
// attaching the routing summary when one exists so callers can see which
// channels were attempted.
func writeDispatchError(w http.ResponseWriter, err error, sum *dispatch.Summary) {
	status := errorStatus(err)
	resp := errorResponse(err.Error())
	if status == http.StatusServiceUnavailable {
		resp.Error.Type = "service_unavailable"
	}
	if sum == nil {
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, status, map[string]any{
		"error":            resp.Error,
		gateway.SummaryKey: sum,
	})
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
