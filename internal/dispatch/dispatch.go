// Package dispatch executes routed chat requests against upstream channels
// with ordered failover, per-channel pacing, blacklist feedback, and usage
// accounting.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gateway "github.com/smartai/router/internal"
	"github.com/smartai/router/internal/blacklist"
	"github.com/smartai/router/internal/cloudauth"
	"github.com/smartai/router/internal/config"
	"github.com/smartai/router/internal/cost"
	"github.com/smartai/router/internal/modelmeta"
	"github.com/smartai/router/internal/routing"
	"github.com/smartai/router/internal/scheduler"
	"github.com/smartai/router/internal/telemetry"
	"github.com/smartai/router/internal/upstream"
)

const (
	chatCompletionsPath = "/chat/completions"
	// inlineRetryWait caps how long a rate-limited last candidate is waited
	// out in-line before the request fails.
	inlineRetryWait = 16 * time.Second
)

// Dispatcher turns routing selections into upstream calls.
type Dispatcher struct {
	registry   *config.Registry
	runtime    *config.RuntimeState
	router     *routing.Router
	meta       *modelmeta.Registry
	blacklist  *blacklist.Manager
	scheduler  *scheduler.Interval
	pool       *upstream.Pool
	auth       *cloudauth.Authorizer
	estimator  *cost.Estimator
	tracker    *cost.Tracker
	sessions   *cost.Sessions
	alerts     *cost.AlertLog
	probes     *probeCache
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// Deps bundles the dispatcher's collaborators.
type Deps struct {
	Registry  *config.Registry
	Runtime   *config.RuntimeState
	Router    *routing.Router
	Meta      *modelmeta.Registry
	Blacklist *blacklist.Manager
	Scheduler *scheduler.Interval
	Pool      *upstream.Pool
	Estimator *cost.Estimator
	Tracker   *cost.Tracker
	Sessions  *cost.Sessions
	Alerts    *cost.AlertLog
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// New wires a Dispatcher from its dependencies.
func New(d Deps) *Dispatcher {
	return &Dispatcher{
		registry:  d.Registry,
		runtime:   d.Runtime,
		router:    d.Router,
		meta:      d.Meta,
		blacklist: d.Blacklist,
		scheduler: d.Scheduler,
		pool:      d.Pool,
		auth:      cloudauth.NewAuthorizer(),
		estimator: d.Estimator,
		tracker:   d.Tracker,
		sessions:  d.Sessions,
		alerts:    d.Alerts,
		probes:    newProbeCache(),
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

// route builds the routing request from the chat request and resolves it to
// a selection.
func (d *Dispatcher) route(ctx context.Context, req *gateway.ChatRequest) (*routing.Selection, *routing.Request, error) {
	rreq := &routing.Request{
		Model:  req.Model,
		Stream: req.Stream,
		Raw:    req.Raw,
	}
	if req.MaxTokens != nil {
		rreq.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		rreq.Temperature = *req.Temperature
	}

	sel, err := d.router.Route(ctx, rreq)
	if err != nil {
		return nil, nil, err
	}
	return sel, rreq, nil
}

// target is one resolved attempt destination.
type target struct {
	score    routing.Score
	channel  *gateway.Channel
	authType string
	baseURL  string
}

// resolveTarget re-checks a scored candidate against live state. Returns nil
// when the channel has been removed, disabled, or blacklisted since scoring.
func (d *Dispatcher) resolveTarget(s routing.Score) *target {
	ch := d.registry.ChannelByID(s.ChannelID)
	if ch == nil || !ch.Enabled {
		return nil
	}
	if barred, _ := d.blacklist.IsModelBlacklisted(ch.ID, s.MatchedModel); barred {
		return nil
	}
	authType := gateway.AuthBearer
	if prov, ok := d.registry.Provider(ch.Provider); ok && prov.AuthType != "" {
		authType = prov.AuthType
	}
	return &target{
		score:    s,
		channel:  ch,
		authType: authType,
		baseURL:  strings.TrimRight(d.registry.BaseURLFor(ch), "/"),
	}
}

// buildBody produces the outbound payload: the original raw request with the
// model rewritten to the channel's concrete name, and streaming options
// forced when streaming.
func buildBody(req *gateway.ChatRequest, model string, stream bool) ([]byte, error) {
	var m map[string]json.RawMessage
	if len(req.Raw) > 0 {
		if err := json.Unmarshal(req.Raw, &m); err != nil {
			return nil, fmt.Errorf("parse request payload: %w", err)
		}
	} else {
		b, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
	}

	rawModel, err := json.Marshal(model)
	if err != nil {
		return nil, err
	}
	m["model"] = rawModel

	if stream {
		m["stream"] = json.RawMessage("true")
		if _, ok := m["stream_options"]; !ok {
			m["stream_options"] = json.RawMessage(`{"include_usage":true}`)
		}
	} else {
		delete(m, "stream")
		delete(m, "stream_options")
	}
	return json.Marshal(m)
}

// send opens one upstream call. The response is returned with its body
// unread; non-2xx statuses come back as a typed APIError.
func (d *Dispatcher) send(ctx context.Context, t *target, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+chatCompletionsPath, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := d.auth.SetAuth(ctx, httpReq.Header, t.authType, t.channel.APIKey); err != nil {
		return nil, err
	}

	resp, err := d.pool.ClientFor(t.baseURL).Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, upstream.ParseAPIError(t.channel.ID, resp)
	}
	return resp, nil
}

// pace applies the channel's minimum request interval: skip to the next
// candidate if the channel is not ready, unless this is the last one, in
// which case the remaining interval is waited out.
func (d *Dispatcher) pace(ctx context.Context, t *target, last bool) (bool, error) {
	interval := time.Duration(t.channel.MinRequestInterval * float64(time.Second))
	if interval <= 0 {
		return true, nil
	}
	if d.scheduler.IsChannelReady(t.channel.ID, interval) {
		return true, nil
	}
	if !last {
		return false, nil
	}
	waited, err := d.scheduler.WaitIfNeeded(ctx, t.channel.ID, interval)
	if err != nil {
		return false, err
	}
	if waited > 0 {
		d.logger.LogAttrs(ctx, slog.LevelDebug, "interval wait",
			slog.String("channel", t.channel.ID),
			slog.Duration("waited", waited))
	}
	return true, nil
}

// handleFailure classifies an attempt error, records the blacklist entry, and
// propagates escalation side effects. Returns the classification.
func (d *Dispatcher) handleFailure(ctx context.Context, t *target, err error, elapsed time.Duration) blacklist.Classification {
	cls := blacklist.Classify(err)

	code := 0
	var he interface{ HTTPStatus() int }
	if errors.As(err, &he) {
		code = he.HTTPStatus()
	}
	escalated := d.blacklist.Add(t.channel.ID, t.score.MatchedModel, cls, code, err.Error())

	d.runtime.ReportOutcome(t.channel.ID, false, float64(elapsed.Milliseconds()))
	if d.metrics != nil {
		d.metrics.UpstreamErrors.WithLabelValues(t.channel.ID, string(cls.Type)).Inc()
		entries, _ := d.blacklist.Snapshot()
		d.metrics.BlacklistEntries.Set(float64(len(entries)))
	}

	// Permanent failures and escalations invalidate cached selections so the
	// channel stops winning routes it can no longer serve.
	if cls.Permanent || escalated {
		d.router.Selections().InvalidateChannel(t.channel.ID)
	}
	if escalated {
		d.alertAppend(ctx, cost.Alert{
			ChannelID: t.channel.ID,
			Kind:      "escalated",
			Message:   fmt.Sprintf("channel-wide blacklist after repeated failures: %s", cls.Type),
		})
	} else if cls.Permanent {
		d.alertAppend(ctx, cost.Alert{
			ChannelID: t.channel.ID,
			Kind:      "blacklisted",
			Model:     t.score.MatchedModel,
			Message:   fmt.Sprintf("permanent %s: HTTP %d", cls.Type, code),
		})
	}

	d.logger.LogAttrs(ctx, slog.LevelWarn, "attempt failed",
		slog.String("channel", t.channel.ID),
		slog.String("model", t.score.MatchedModel),
		slog.String("error_type", string(cls.Type)),
		slog.Bool("escalated", escalated),
		slog.String("error", err.Error()))
	return cls
}

// handleSuccess records runtime health, clears stale blacklist state, and
// emits upstream latency metrics.
func (d *Dispatcher) handleSuccess(t *target, elapsed time.Duration) {
	d.runtime.ReportOutcome(t.channel.ID, true, float64(elapsed.Milliseconds()))
	d.blacklist.Remove(t.channel.ID, t.score.MatchedModel)
	if d.metrics != nil {
		d.metrics.UpstreamDuration.WithLabelValues(t.channel.ID, t.score.MatchedModel).
			Observe(elapsed.Seconds())
	}
}

// record accounts a finished request: usage JSONL, session totals, metrics.
func (d *Dispatcher) record(ctx context.Context, t *target, sum *Summary, status string) {
	rec := gateway.UsageRecord{
		RequestID:      sum.RequestID,
		Timestamp:      time.Now().UTC(),
		Model:          sum.Model,
		ChannelID:      t.channel.ID,
		ChannelName:    t.channel.Name,
		Provider:       t.channel.Provider,
		Status:         status,
		ResponseTimeMs: sum.ResponseTimeMs,
		Tags:           t.channel.Tags,
		SessionKey:     gateway.SessionKeyFromContext(ctx),
		Currency:       sum.Currency,
		TotalCost:      sum.Cost,
	}
	if sum.Usage != nil {
		rec.InputTokens = sum.Usage.PromptTokens
		rec.OutputTokens = sum.Usage.CompletionTokens

		meta, _ := d.meta.Get(sum.Model, t.channel.Provider, t.channel.ID)
		b := cost.Price(meta, t.channel, *sum.Usage)
		rec.InputCost = b.InputCost
		rec.OutputCost = b.OutputCost
		rec.TotalCost = b.TotalCost
		rec.Currency = b.Currency
		sum.Cost = b.TotalCost
		sum.Currency = b.Currency

		if d.metrics != nil {
			d.metrics.TokensProcessed.WithLabelValues(sum.Model, "prompt").
				Add(float64(sum.Usage.PromptTokens))
			d.metrics.TokensProcessed.WithLabelValues(sum.Model, "completion").
				Add(float64(sum.Usage.CompletionTokens))
		}
	}
	if d.metrics != nil {
		d.metrics.CostTotal.WithLabelValues(t.channel.ID).Add(rec.TotalCost)
	}

	d.tracker.Record(rec)
	d.sessions.Touch(rec.SessionKey, rec.Model, rec.ChannelID, rec.TotalCost)
}

// clientCanceled reports whether an attempt error stems from the caller
// abandoning the request rather than an upstream fault.
func clientCanceled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}

// recordCancelled accounts a request abandoned by the caller. The channel
// keeps its health score and no blacklist entry is written.
func (d *Dispatcher) recordCancelled(ctx context.Context, t *target, sum *Summary, start time.Time) {
	sum.ChannelID = t.channel.ID
	sum.ChannelName = t.channel.Name
	sum.Provider = t.channel.Provider
	sum.Model = t.score.MatchedModel
	sum.ResponseTimeMs = time.Since(start).Milliseconds()
	sum.Status = "cancelled"
	d.record(ctx, t, sum, "cancelled")
}

// estimateCost projects the request's cost from the pre-flight token counts
// and the selection's blended per-1K price. The upstream usage report
// replaces it post-flight.
func (d *Dispatcher) estimateCost(req *gateway.ChatRequest, sel *routing.Selection) float64 {
	if d.estimator == nil || sel.EstimatedCost <= 0 {
		return 0
	}
	prompt := d.estimator.EstimateRequest(req.Messages)
	maxTok := 0
	if req.MaxTokens != nil {
		maxTok = *req.MaxTokens
	}
	completion := d.estimator.EstimateCompletion(prompt, maxTok)
	return float64(prompt+completion) / 1000 * sel.EstimatedCost
}

func (d *Dispatcher) alertAppend(ctx context.Context, a cost.Alert) {
	if d.alerts == nil {
		return
	}
	if err := d.alerts.Append(a); err != nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "alert append failed",
			slog.String("error", err.Error()))
	}
}

// retryAfterWait returns the bounded in-line wait for a rate-limited last
// candidate, or 0 when waiting is pointless.
func retryAfterWait(cls blacklist.Classification, err error) time.Duration {
	if cls.Type != gateway.ErrTypeRateLimit {
		return 0
	}
	if hint, ok := blacklist.RetryAfterHint(err, errBody(err)); ok {
		return min(time.Duration(hint*float64(time.Second)), inlineRetryWait)
	}
	return 0
}

func errBody(err error) string {
	var be interface{ ResponseBody() string }
	if errors.As(err, &be) {
		return be.ResponseBody()
	}
	return err.Error()
}
