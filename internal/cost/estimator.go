// Package cost implements token estimation, request pricing, usage tracking,
// and per-caller session accounting.
package cost

import (
	"encoding/json"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tidwall/gjson"

	gateway "github.com/smartai/router/internal"
)

const (
	// perMessageOverhead covers role and formatting tokens per message.
	perMessageOverhead = 4
	// replyPrimer is the fixed cost of priming the assistant reply.
	replyPrimer = 3
)

// Estimator counts tokens with a BPE encoder when available, falling back to
// a character heuristic that weights CJK text separately.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator loads the cl100k_base encoding. Encoder setup can fail when
// the embedded tables are unavailable; the estimator then degrades to the
// character heuristic rather than erroring.
func NewEstimator() *Estimator {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Estimator{}
	}
	return &Estimator{enc: enc}
}

// CountText returns the token count for a plain text string.
func (e *Estimator) CountText(text string) int {
	if text == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return heuristicTokens(text)
}

// EstimateRequest estimates the prompt token count for a chat request,
// including per-message overhead.
func (e *Estimator) EstimateRequest(messages []gateway.Message) int {
	total := 0
	for _, m := range messages {
		total += perMessageOverhead
		total += e.CountText(m.Role)
		total += e.CountText(contentText(m.Content))
		if m.Name != "" {
			total += e.CountText(m.Name) + 1
		}
		if len(m.ToolCalls) > 0 {
			total += e.CountText(string(m.ToolCalls))
		}
	}
	total += replyPrimer
	return max(total, 1)
}

// EstimateCompletion predicts the completion size for pre-flight cost
// estimates. An explicit max_tokens wins; otherwise the prediction scales a
// baseline by request complexity.
func (e *Estimator) EstimateCompletion(promptTokens, maxTokens int) int {
	if maxTokens > 0 {
		return maxTokens
	}
	base := min(max(promptTokens, 50), 1000)
	switch {
	case promptTokens < 100:
		return base / 2
	case promptTokens > 4000:
		return base * 3
	case promptTokens > 1000:
		return base * 2
	default:
		return base
	}
}

// contentText extracts the text of an OpenAI message content field, which is
// either a JSON string or an array of typed parts.
func contentText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	v := gjson.ParseBytes(content)
	if v.Type == gjson.String {
		return v.String()
	}
	if v.IsArray() {
		var out []byte
		v.ForEach(func(_, part gjson.Result) bool {
			out = append(out, part.Get("text").String()...)
			return true
		})
		return string(out)
	}
	return v.Raw
}

// heuristicTokens approximates BPE counts without an encoder: CJK runs at
// about two characters per token, everything else at about four.
func heuristicTokens(s string) int {
	cjk, other := 0, 0
	for _, r := range s {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			other++
		}
	}
	return max((cjk+1)/2+(other+3)/4, 1)
}
