package routing

import (
	"encoding/json"
	"slices"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/smartai/router/internal/modelmeta"
)

// Capability names derived from the raw request.
const (
	CapVision    = "vision"
	CapTools     = "function_calling"
	CapStreaming = "streaming"
)

// preFilterLimit caps the candidate set passed to the scorer. When more
// candidates survive the capability filter, a cheap (priority, health)
// heuristic keeps the best ones.
const preFilterLimit = 20

// DetectCapabilities inspects the raw OpenAI-format payload and fills the
// request's RequiredCapabilities, MinContextLength, and HasFunctions fields.
func DetectCapabilities(req *Request) {
	raw := req.Raw
	if len(raw) == 0 {
		if req.Stream {
			req.RequiredCapabilities = append(req.RequiredCapabilities, CapStreaming)
		}
		return
	}

	var caps []string

	// vision: any message part with type=image_url.
	vision := false
	gjson.GetBytes(raw, "messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if !content.IsArray() {
			return true
		}
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "image_url" {
				vision = true
				return false
			}
			return true
		})
		return !vision
	})
	if vision {
		caps = append(caps, CapVision)
	}

	for _, field := range []string{"tools", "functions", "tool_choice", "function_call"} {
		if gjson.GetBytes(raw, field).Exists() {
			caps = append(caps, CapTools)
			req.HasFunctions = true
			break
		}
	}
	if req.Stream || gjson.GetBytes(raw, "stream").Bool() {
		caps = append(caps, CapStreaming)
	}

	req.RequiredCapabilities = mergeCaps(req.RequiredCapabilities, caps)

	if req.MinContextLength == 0 {
		req.MinContextLength = estimateMinContext(raw, req.MaxTokens)
	}
}

func mergeCaps(existing, detected []string) []string {
	for _, c := range detected {
		if !slices.Contains(existing, c) {
			existing = append(existing, c)
		}
	}
	return existing
}

// estimateMinContext is a rough upper bound on the context window the request
// needs: a quarter of the input text length plus the completion budget.
func estimateMinContext(raw json.RawMessage, maxTokens int) int {
	textLen := 0
	gjson.GetBytes(raw, "messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if content.Type == gjson.String {
			textLen += len(content.String())
		} else if content.IsArray() {
			content.ForEach(func(_, part gjson.Result) bool {
				textLen += len(part.Get("text").String())
				return true
			})
		}
		return true
	})
	return textLen/4 + maxTokens
}

// FilterByCapability drops candidates that cannot satisfy the detected
// capabilities or the minimum context length. Candidates with unknown
// metadata pass for cloud providers (optimistic) and are judged on name
// markers for local providers.
func (r *Router) FilterByCapability(req *Request, candidates []Candidate) []Candidate {
	kept := candidates[:0]
	for _, c := range candidates {
		meta, known := r.meta.Get(c.MatchedModel, c.Channel.Provider, c.Channel.ID)

		if !known && !modelmeta.IsLocalProvider(c.Channel.Provider) {
			// Cloud model we know nothing about: optimistic pass.
			kept = append(kept, c)
			continue
		}

		ok := true
		for _, cap := range req.RequiredCapabilities {
			switch cap {
			case CapVision:
				ok = ok && meta.SupportsVision
			case CapTools:
				ok = ok && meta.SupportsTools
			case CapStreaming:
				ok = ok && meta.SupportsStreaming
			}
		}
		if ok && req.MinContextLength > 0 && meta.ContextLength > 0 &&
			meta.ContextLength < req.MinContextLength {
			ok = false
		}
		if ok {
			kept = append(kept, c)
		}
	}

	if len(kept) > preFilterLimit {
		kept = r.preFilter(kept)
	}
	return kept
}

// preFilter keeps the top candidates by a weighted (priority, health)
// heuristic, cheap enough to run before full scoring.
func (r *Router) preFilter(candidates []Candidate) []Candidate {
	type ranked struct {
		c Candidate
		v float64
	}
	rs := make([]ranked, len(candidates))
	for i, c := range candidates {
		// Lower priority number is better; health in [0,1] is better high.
		prio := 1.0 / float64(1+max(c.Channel.Priority, 0))
		health := r.runtime.HealthScore(c.Channel.ID)
		rs[i] = ranked{c: c, v: 0.6*prio + 0.4*health}
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].v > rs[j].v })
	out := make([]Candidate, preFilterLimit)
	for i := range preFilterLimit {
		out[i] = rs[i].c
	}
	return out
}
