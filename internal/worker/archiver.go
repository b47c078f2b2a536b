package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/smartai/router/internal/cost"
)

const archiveInterval = 24 * time.Hour

// Archiver moves usage log files older than the retention window into the
// archive directory once a day.
type Archiver struct {
	tracker       *cost.Tracker
	retentionDays int
}

// NewArchiver creates an Archiver. A non-positive retention disables it.
func NewArchiver(tracker *cost.Tracker, retentionDays int) *Archiver {
	return &Archiver{tracker: tracker, retentionDays: retentionDays}
}

// Name returns the worker identifier.
func (w *Archiver) Name() string { return "usage_archiver" }

// Run archives old usage files on a daily cadence until ctx is cancelled.
func (w *Archiver) Run(ctx context.Context) error {
	if w.retentionDays <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			moved, err := w.tracker.ArchiveOld(w.retentionDays)
			if err != nil {
				slog.LogAttrs(ctx, slog.LevelError, "usage archive failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if moved > 0 {
				slog.LogAttrs(ctx, slog.LevelInfo, "usage files archived",
					slog.Int("files", moved),
				)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
