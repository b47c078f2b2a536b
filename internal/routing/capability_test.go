package routing

import (
	"encoding/json"
	"slices"
	"testing"
)

func TestDetectCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		stream   bool
		want     []string
		wantFunc bool
	}{
		{
			name: "plain_text",
			raw:  `{"model":"m","messages":[{"role":"user","content":"hi"}]}`,
			want: nil,
		},
		{
			name: "vision",
			raw:  `{"messages":[{"role":"user","content":[{"type":"text","text":"what is this"},{"type":"image_url","image_url":{"url":"data:..."}}]}]}`,
			want: []string{CapVision},
		},
		{
			name:     "tools",
			raw:      `{"messages":[],"tools":[{"type":"function"}]}`,
			want:     []string{CapTools},
			wantFunc: true,
		},
		{
			name:     "legacy_functions",
			raw:      `{"messages":[],"functions":[{"name":"f"}]}`,
			want:     []string{CapTools},
			wantFunc: true,
		},
		{
			name:   "stream_flag",
			raw:    `{"messages":[]}`,
			stream: true,
			want:   []string{CapStreaming},
		},
		{
			name: "stream_in_body",
			raw:  `{"messages":[],"stream":true}`,
			want: []string{CapStreaming},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := &Request{Raw: json.RawMessage(tt.raw), Stream: tt.stream}
			DetectCapabilities(req)
			for _, c := range tt.want {
				if !slices.Contains(req.RequiredCapabilities, c) {
					t.Errorf("capabilities = %v, missing %s", req.RequiredCapabilities, c)
				}
			}
			if len(tt.want) == 0 && len(req.RequiredCapabilities) != 0 {
				t.Errorf("capabilities = %v, want none", req.RequiredCapabilities)
			}
			if req.HasFunctions != tt.wantFunc {
				t.Errorf("HasFunctions = %v, want %v", req.HasFunctions, tt.wantFunc)
			}
		})
	}
}

func TestDetectCapabilities_MinContext(t *testing.T) {
	t.Parallel()

	long := make([]byte, 40000)
	for i := range long {
		long[i] = 'a'
	}
	raw, _ := json.Marshal(map[string]any{
		"messages": []map[string]any{{"role": "user", "content": string(long)}},
	})

	req := &Request{Raw: raw, MaxTokens: 2000}
	DetectCapabilities(req)
	want := 40000/4 + 2000
	if req.MinContextLength != want {
		t.Errorf("MinContextLength = %d, want %d", req.MinContextLength, want)
	}

	// Explicit values are not overwritten.
	req = &Request{Raw: raw, MinContextLength: 99}
	DetectCapabilities(req)
	if req.MinContextLength != 99 {
		t.Errorf("MinContextLength = %d, want 99", req.MinContextLength)
	}
}
