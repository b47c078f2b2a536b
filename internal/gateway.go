// Package gateway defines domain types and interfaces for the smart-ai-router
// gateway. This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// --- Chat wire types (OpenAI dialect, the canonical internal form) ---

// ChatRequest is the canonical internal chat completion request. All ingress
// dialects (OpenAI, Anthropic, Gemini) are translated into this shape before
// routing; Raw preserves the original OpenAI-format payload for passthrough.
type ChatRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	N                int             `json:"n,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	StreamOptions    *StreamOptions  `json:"stream_options,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
	User             string          `json:"user,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat   json.RawMessage `json:"response_format,omitempty"`

	Raw json.RawMessage `json:"-"` // original ingress payload
}

// StreamOptions controls streaming behavior.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// ChatResponse represents an OpenAI-compatible chat completion response.
type ChatResponse struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	Choices           []Choice `json:"choices"`
	Usage             *Usage   `json:"usage,omitempty"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Upstream stream events ---

// UpstreamError is a structured error surfaced by an upstream provider, either
// as a terminal HTTP status or injected mid-stream as a data: {"error":...} event.
type UpstreamError struct {
	Code       int      `json:"code"`
	Message    string   `json:"message"`
	RetryAfter *float64 `json:"retry_after,omitempty"` // seconds, when hinted
}

// Error returns the upstream error message.
func (e *UpstreamError) Error() string { return e.Message }

// HTTPStatus returns the HTTP status code for failover decisions.
func (e *UpstreamError) HTTPStatus() int { return e.Code }

// StreamEvent is one event in a typed upstream stream. Exactly one of the
// fields is meaningful per event:
//
//	Data != nil  -> content chunk (raw SSE data payload, OpenAI format)
//	Usage != nil -> usage extracted from the final chunk (may accompany Data)
//	Err != nil   -> in-stream upstream error
//	Done         -> upstream sent the [DONE] sentinel
type StreamEvent struct {
	Data  []byte
	Usage *Usage
	Err   error
	Done  bool
}

// --- Channels and providers ---

// CostPerToken is a channel-level price override in USD per token.
type CostPerToken struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

// CurrencyExchange converts channel costs into a target currency.
type CurrencyExchange struct {
	Rate        float64 `json:"rate" yaml:"rate"`
	From        string  `json:"from" yaml:"from"`
	To          string  `json:"to" yaml:"to"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// Performance holds operator-declared channel performance hints.
type Performance struct {
	SpeedScore float64 `json:"speed_score" yaml:"speed_score"`
}

// Channel is one upstream account used as a routable target.
type Channel struct {
	ID                 string            `json:"id" yaml:"id"`
	Name               string            `json:"name" yaml:"name"`
	Provider           string            `json:"provider" yaml:"provider"`
	BaseURL            string            `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey             string            `json:"-" yaml:"api_key"`
	ModelName          string            `json:"model_name" yaml:"model_name"`
	Priority           int               `json:"priority" yaml:"priority"`
	Enabled            bool              `json:"enabled" yaml:"enabled"`
	Tags               []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	MinRequestInterval float64           `json:"min_request_interval,omitempty" yaml:"min_request_interval,omitempty"` // seconds
	CostPerToken       *CostPerToken     `json:"cost_per_token,omitempty" yaml:"cost_per_token,omitempty"`
	CurrencyExchange   *CurrencyExchange `json:"currency_exchange,omitempty" yaml:"currency_exchange,omitempty"`
	Performance        *Performance      `json:"performance,omitempty" yaml:"performance,omitempty"`
}

// Provider describes an upstream provider family. Read-only at runtime.
type Provider struct {
	Name         string `json:"name" yaml:"name"`
	DisplayName  string `json:"display_name" yaml:"display_name"`
	BaseURL      string `json:"base_url" yaml:"base_url"`
	AuthType     string `json:"auth_type" yaml:"auth_type"` // "bearer", "x-api-key", "gcp_oauth"
	AdapterClass string `json:"adapter_class,omitempty" yaml:"adapter_class,omitempty"`
}

// Provider auth types.
const (
	AuthBearer   = "bearer"
	AuthXAPIKey  = "x-api-key"
	AuthGCPOAuth = "gcp_oauth"
)

// --- Model metadata ---

// ModelMetadata is the unified capability/pricing view for a (provider, model)
// pair after merging catalog, provider, and channel layers.
type ModelMetadata struct {
	ID                  string   `json:"id"`
	Provider            string   `json:"provider,omitempty"`
	ParameterCount      float64  `json:"parameter_count,omitempty"` // millions
	ContextLength       int      `json:"context_length,omitempty"`
	Modality            string   `json:"modality,omitempty"`
	InputModalities     []string `json:"input_modalities,omitempty"`
	OutputModalities    []string `json:"output_modalities,omitempty"`
	SupportedParameters []string `json:"supported_parameters,omitempty"`
	SupportsVision      bool     `json:"supports_vision"`
	SupportsTools       bool     `json:"supports_function_calling"`
	SupportsStreaming   bool     `json:"supports_streaming"`
	SupportsAudio       bool     `json:"supports_audio"`
	PricingInput        float64  `json:"pricing_input"`  // USD per 1e6 tokens
	PricingOutput       float64  `json:"pricing_output"` // USD per 1e6 tokens
	QualityScore        float64  `json:"quality_score,omitempty"`
	SpeedScore          float64  `json:"speed_score,omitempty"`
	IsFree              bool     `json:"is_free"`
	IsLocal             bool     `json:"is_local"`
	Tags                []string `json:"tags,omitempty"`
}

// --- Blacklist ---

// ErrorType classifies an upstream failure for blacklisting.
type ErrorType string

// Blacklist error types.
const (
	ErrTypeRateLimit        ErrorType = "rate_limit"
	ErrTypeAuth             ErrorType = "auth_error"
	ErrTypeModelUnavailable ErrorType = "model_unavailable"
	ErrTypeQuotaExceeded    ErrorType = "quota_exceeded"
	ErrTypeServer           ErrorType = "server_error"
	ErrTypeTimeout          ErrorType = "timeout"
	ErrTypeConnection       ErrorType = "connection_error"
	ErrTypeUnknown          ErrorType = "unknown"
)

// BlacklistEntry bars a (channel, model) pair from being tried until it expires.
type BlacklistEntry struct {
	ChannelID       string     `json:"channel_id"`
	ModelName       string     `json:"model_name"` // lowercase
	ErrorType       ErrorType  `json:"error_type"`
	ErrorCode       int        `json:"error_code"` // HTTP status or 0
	ErrorMessage    string     `json:"error_message"`
	BlacklistedAt   time.Time  `json:"blacklisted_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"` // nil when permanent
	FailureCount    int        `json:"failure_count"`
	IsPermanent     bool       `json:"is_permanent"`
	BackoffDuration float64    `json:"backoff_duration_s"`
}

// Expired reports whether the entry has passed its expiry at the given time.
// Permanent entries never expire.
func (e *BlacklistEntry) Expired(now time.Time) bool {
	if e.IsPermanent || e.ExpiresAt == nil {
		return false
	}
	return now.After(*e.ExpiresAt)
}

// --- Usage and sessions ---

// UsageRecord is one append-only JSONL row per request.
type UsageRecord struct {
	RequestID      string    `json:"request_id"`
	Timestamp      time.Time `json:"timestamp"`
	Model          string    `json:"model"`
	ChannelID      string    `json:"channel_id"`
	ChannelName    string    `json:"channel_name"`
	Provider       string    `json:"provider"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	InputCost      float64   `json:"input_cost"`
	OutputCost     float64   `json:"output_cost"`
	TotalCost      float64   `json:"total_cost"`
	Currency       string    `json:"currency,omitempty"`
	Status         string    `json:"status"` // "success", "error", "cancelled"
	ResponseTimeMs int64     `json:"response_time_ms"`
	Tags           []string  `json:"tags,omitempty"`
	SessionKey     string    `json:"session_key,omitempty"`
}

// Session accumulates per-caller accounting. Keyed by a hash of the masked
// API key, truncated user agent, and client IP.
type Session struct {
	Key           string           `json:"key"`
	TotalRequests int64            `json:"total_requests"`
	TotalCost     float64          `json:"total_cost"`
	ModelsUsed    map[string]int64 `json:"models_used"`
	ChannelsUsed  map[string]int64 `json:"channels_used"`
	LastActiveAt  time.Time        `json:"last_active_at"`
}

// SummaryKey is the JSON key under which the routing summary is attached to
// responses (and emitted as the final SSE event before [DONE]).
const SummaryKey = "smart_ai_router"

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// SessionKey is set later by the authenticate middleware via mutation of the
// same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID  string
	SessionKey string
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// SessionKeyFromContext extracts the session key from context.
func SessionKeyFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.SessionKey
	}
	return ""
}

// ContextWithSessionKey stores the session key in the existing requestMeta if
// present, avoiding a new context.WithValue allocation.
func ContextWithSessionKey(ctx context.Context, key string) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.SessionKey = key
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{SessionKey: key})
}

// --- Shared helpers ---

// HashKey returns the hex-encoded SHA-256 hash of a raw string.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MaskAPIKey returns the first four and last four characters of a key with the
// middle elided, for logs and session hashing.
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
