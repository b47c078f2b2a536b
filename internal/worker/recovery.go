package worker

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/smartai/router/internal/blacklist"
	"github.com/smartai/router/internal/cloudauth"
	"github.com/smartai/router/internal/config"
	"github.com/smartai/router/internal/cost"
	"github.com/smartai/router/internal/upstream"
)

const (
	recoveryInterval = 300 * time.Second
	recoveryTimeout  = 10 * time.Second
	maxProbeBody     = 1 << 20
)

// RecoveryWorker probes blacklisted (channel, model) pairs whose backoff has
// elapsed. A successful probe clears the entry; a failed one extends it.
type RecoveryWorker struct {
	registry  *config.Registry
	blacklist *blacklist.Manager
	pool      *upstream.Pool
	auth      *cloudauth.Authorizer
	alerts    *cost.AlertLog
	interval  time.Duration
}

// NewRecoveryWorker creates a RecoveryWorker. A non-positive interval falls
// back to the default cadence.
func NewRecoveryWorker(registry *config.Registry, bl *blacklist.Manager, pool *upstream.Pool, auth *cloudauth.Authorizer, alerts *cost.AlertLog, interval time.Duration) *RecoveryWorker {
	if interval <= 0 {
		interval = recoveryInterval
	}
	return &RecoveryWorker{registry: registry, blacklist: bl, pool: pool, auth: auth, alerts: alerts, interval: interval}
}

// Name returns the worker identifier.
func (w *RecoveryWorker) Name() string { return "blacklist_recovery" }

// Run probes recovery candidates on a fixed interval until ctx is cancelled.
func (w *RecoveryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// sweep probes every due candidate in parallel; the tick finishes only after
// all probes have either cleared or extended their entries.
func (w *RecoveryWorker) sweep(ctx context.Context) {
	candidates := w.blacklist.RecoveryCandidates(time.Now())
	var g errgroup.Group
	for _, entry := range candidates {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if w.probe(ctx, entry.ChannelID, entry.ModelName) {
				w.blacklist.Remove(entry.ChannelID, entry.ModelName)
				if err := w.alerts.Append(cost.Alert{
					ChannelID: entry.ChannelID,
					Kind:      "recovered",
					Model:     entry.ModelName,
					Message:   "probe succeeded, blacklist entry cleared",
				}); err != nil {
					slog.Warn("alert write failed", "error", err)
				}
				slog.LogAttrs(ctx, slog.LevelInfo, "channel model recovered",
					slog.String("channel", entry.ChannelID),
					slog.String("model", entry.ModelName),
				)
				return nil
			}
			backoff := w.blacklist.ExtendAfterFailedProbe(entry.ChannelID, entry.ModelName)
			slog.LogAttrs(ctx, slog.LevelInfo, "recovery probe failed",
				slog.String("channel", entry.ChannelID),
				slog.String("model", entry.ModelName),
				slog.Duration("next_backoff", backoff),
			)
			return nil
		})
	}
	g.Wait() //nolint:errcheck -- probe goroutines never return errors
}

// probe issues an authenticated model-list request. Recovery requires a 2xx
// response and, when the body parses as a model list, the target model id
// appearing in it (case-insensitive substring match in either direction).
func (w *RecoveryWorker) probe(ctx context.Context, channelID, model string) bool {
	ch := w.registry.ChannelByID(channelID)
	if ch == nil || !ch.Enabled {
		return false
	}
	baseURL := strings.TrimRight(w.registry.BaseURLFor(ch), "/")
	if baseURL == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, recoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/models", nil)
	if err != nil {
		return false
	}
	authType := "bearer"
	if p, ok := w.registry.Provider(ch.Provider); ok && p.AuthType != "" {
		authType = p.AuthType
	}
	if err := w.auth.SetAuth(ctx, req.Header, authType, ch.APIKey); err != nil {
		return false
	}

	resp, err := w.pool.ProbeClient(baseURL).Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return true
	}
	ids := gjson.GetBytes(body, "data.#.id")
	if !ids.IsArray() {
		// Unparseable body; the 2xx alone counts.
		return true
	}
	want := strings.ToLower(model)
	found := false
	ids.ForEach(func(_, id gjson.Result) bool {
		got := strings.ToLower(id.String())
		if strings.Contains(got, want) || strings.Contains(want, got) {
			found = true
			return false
		}
		return true
	})
	return found
}
