package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/smartai/router/internal/blacklist"
	"github.com/smartai/router/internal/cost"
	"github.com/smartai/router/internal/routing"
	"github.com/smartai/router/internal/scheduler"
	"github.com/smartai/router/internal/telemetry"
)

const (
	sweepInterval    = 60 * time.Second
	intervalStaleAge = 10 * time.Minute
)

// Sweeper expires blacklist entries, stale interval records, dangling
// selection-cache index keys, and idle sessions on a fixed cadence.
type Sweeper struct {
	blacklist  *blacklist.Manager
	interval   *scheduler.Interval
	selections *routing.SelectionCache
	sessions   *cost.Sessions
	metrics    *telemetry.Metrics
	every      time.Duration
}

// NewSweeper creates a Sweeper. A non-positive cadence falls back to the
// default.
func NewSweeper(bl *blacklist.Manager, iv *scheduler.Interval, sel *routing.SelectionCache, sess *cost.Sessions, m *telemetry.Metrics, every time.Duration) *Sweeper {
	if every <= 0 {
		every = sweepInterval
	}
	return &Sweeper{blacklist: bl, interval: iv, selections: sel, sessions: sess, metrics: m, every: every}
}

// Name returns the worker identifier.
func (w *Sweeper) Name() string { return "sweeper" }

// Run sweeps until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			expired := w.blacklist.CleanupExpired()
			stale := w.interval.EvictStale(time.Now().Add(-intervalStaleAge))
			w.selections.Sweep()
			idle := w.sessions.CleanupExpired()

			if w.metrics != nil {
				entries, _ := w.blacklist.Snapshot()
				w.metrics.BlacklistEntries.Set(float64(len(entries)))
			}

			if expired+stale+idle > 0 {
				slog.LogAttrs(ctx, slog.LevelDebug, "sweep completed",
					slog.Int("blacklist_expired", expired),
					slog.Int("interval_stale", stale),
					slog.Int("sessions_idle", idle),
				)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
