// Package server implements the HTTP transport layer: the OpenAI-compatible
// surface, the Anthropic and Gemini ingress dialects, and the admin API.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartai/router/internal/blacklist"
	"github.com/smartai/router/internal/config"
	"github.com/smartai/router/internal/cost"
	"github.com/smartai/router/internal/dispatch"
	"github.com/smartai/router/internal/modelmeta"
	"github.com/smartai/router/internal/routing"
	"github.com/smartai/router/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth       config.AuthConfig
	Dispatcher *dispatch.Dispatcher
	Router     *routing.Router
	Registry   *config.Registry
	Runtime    *config.RuntimeState
	Blacklist  *blacklist.Manager
	Meta       *modelmeta.Registry
	Catalog    *modelmeta.ChannelCatalog
	Tracker    *cost.Tracker
	Sessions   *cost.Sessions
	Metrics    *telemetry.Metrics
	ReadyCheck ReadyChecker // nil = always ready (for tests)
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Client-facing API (auth required)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		// OpenAI dialect
		r.Post("/v1/chat/completions", s.handleChatCompletion)
		r.Get("/v1/models", s.handleListModels)

		// Anthropic dialect
		r.Post("/v1/messages", s.handleAnthropicMessages)

		// Gemini dialect; the action suffix (":generateContent" or
		// ":streamGenerateContent") rides in the last path segment. Both the
		// v1beta and v1 prefixes are served.
		r.Post("/v1beta/models/*", s.handleGeminiGenerate)
		r.Post("/v1/models/*", s.handleGeminiGenerate)

		// Router state overview
		r.Get("/v1/status", s.handleStatus)
	})

	// Admin API (separate token)
	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(s.adminAuthenticate)
		r.Get("/channels", s.handleListChannels)
		r.Post("/channels/{id}/enable", s.handleEnableChannel)
		r.Post("/channels/{id}/disable", s.handleDisableChannel)
		r.Put("/channels/{id}/priority", s.handleSetChannelPriority)
		r.Get("/blacklist", s.handleListBlacklist)
		r.Delete("/blacklist/{channel}", s.handleClearBlacklist)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/usage/totals", s.handleUsageTotals)
		r.Post("/cache/purge", s.handleCachePurge)
	})

	return r
}

type server struct {
	deps Deps
}
