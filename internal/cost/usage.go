package cost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	gateway "github.com/smartai/router/internal"
)

const (
	usageChanSize   = 1000
	usageBatchSize  = 100
	usageFlushEvery = 5 * time.Second
	usageDrainTime  = 30 * time.Second

	usageFilePrefix = "usage_"
	archiveDirName  = "archive"
)

// UsageStore is an optional persistence mirror for usage records, batch
// inserted alongside the JSONL log.
type UsageStore interface {
	InsertUsage(ctx context.Context, records []gateway.UsageRecord) error
}

// ChannelTotals aggregates spend per channel since process start.
type ChannelTotals struct {
	Requests     int64   `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"`
	Errors       int64   `json:"errors"`
}

// Tracker buffers usage records and batch-flushes them to a daily JSONL file
// (logs/usage_YYYYMMDD.jsonl). Records are dropped if the channel is full.
// A single goroutine owns the file, so writes never interleave.
type Tracker struct {
	ch     chan gateway.UsageRecord
	dir    string
	store  UsageStore
	logger *slog.Logger

	file *os.File
	day  string

	mu     sync.RWMutex
	totals map[string]*ChannelTotals
}

// NewTracker creates a Tracker writing under dir. store may be nil.
func NewTracker(dir string, store UsageStore, logger *slog.Logger) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create usage dir: %w", err)
	}
	return &Tracker{
		ch:     make(chan gateway.UsageRecord, usageChanSize),
		dir:    dir,
		store:  store,
		logger: logger,
		totals: make(map[string]*ChannelTotals),
	}, nil
}

// Name returns the worker identifier.
func (t *Tracker) Name() string { return "usage_tracker" }

// Record enqueues a usage record. It never blocks; drops on full channel.
func (t *Tracker) Record(r gateway.UsageRecord) {
	select {
	case t.ch <- r:
	default:
		t.logger.Warn("usage record dropped, channel full")
	}
}

// Totals returns a snapshot of per-channel aggregates since process start.
func (t *Tracker) Totals() map[string]ChannelTotals {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]ChannelTotals, len(t.totals))
	for id, agg := range t.totals {
		out[id] = *agg
	}
	return out
}

// Run processes records until ctx is cancelled, then drains the queue.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(usageFlushEvery)
	defer ticker.Stop()
	defer t.closeFile()

	buf := make([]gateway.UsageRecord, 0, usageBatchSize)
	for {
		select {
		case r := <-t.ch:
			buf = append(buf, r)
			if len(buf) >= usageBatchSize {
				t.flush(ctx, buf)
				buf = buf[:0]
			}
		case <-ticker.C:
			if len(buf) > 0 {
				t.flush(ctx, buf)
				buf = buf[:0]
			}
		case <-ctx.Done():
			t.drain(buf)
			return nil
		}
	}
}

func (t *Tracker) drain(buf []gateway.UsageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), usageDrainTime)
	defer cancel()
	for {
		select {
		case r := <-t.ch:
			buf = append(buf, r)
			if len(buf) >= usageBatchSize {
				t.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				t.flush(ctx, buf)
			}
			return
		}
	}
}

func (t *Tracker) flush(ctx context.Context, buf []gateway.UsageRecord) {
	batch := make([]gateway.UsageRecord, len(buf))
	copy(batch, buf)

	// Assign IDs off the hot path; callers leave RequestID empty on
	// internally generated records.
	for i := range batch {
		if batch[i].RequestID == "" {
			batch[i].RequestID = uuid.Must(uuid.NewV7()).String()
		}
		t.aggregate(&batch[i])
	}

	if err := t.writeJSONL(batch); err != nil {
		t.logger.LogAttrs(ctx, slog.LevelError, "usage flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()))
	}
	if t.store != nil {
		if err := t.store.InsertUsage(ctx, batch); err != nil {
			t.logger.LogAttrs(ctx, slog.LevelError, "usage store insert failed",
				slog.Int("count", len(batch)),
				slog.String("error", err.Error()))
		}
	}
}

func (t *Tracker) aggregate(r *gateway.UsageRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	agg, ok := t.totals[r.ChannelID]
	if !ok {
		agg = &ChannelTotals{}
		t.totals[r.ChannelID] = agg
	}
	agg.Requests++
	agg.InputTokens += int64(r.InputTokens)
	agg.OutputTokens += int64(r.OutputTokens)
	agg.TotalCost += r.TotalCost
	if r.Status != "success" {
		agg.Errors++
	}
}

// writeJSONL appends one JSON line per record to the current day's file,
// rotating at the date boundary. Only the Run goroutine calls this.
func (t *Tracker) writeJSONL(batch []gateway.UsageRecord) error {
	day := time.Now().UTC().Format("20060102")
	if t.file == nil || day != t.day {
		t.closeFile()
		path := filepath.Join(t.dir, usageFilePrefix+day+".jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open usage log: %w", err)
		}
		t.file = f
		t.day = day
	}
	for _, r := range batch {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal usage record: %w", err)
		}
		if _, err := t.file.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write usage log: %w", err)
		}
	}
	return nil
}

func (t *Tracker) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

// ArchiveOld moves daily usage files older than the retention window into
// the archive subdirectory. Returns the number of files moved.
func (t *Tracker) ArchiveOld(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("20060102")

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return 0, fmt.Errorf("read usage dir: %w", err)
	}
	archiveDir := filepath.Join(t.dir, archiveDirName)

	moved := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, usageFilePrefix) || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, usageFilePrefix), ".jsonl")
		if len(day) != 8 || day >= cutoff {
			continue
		}
		if moved == 0 {
			if err := os.MkdirAll(archiveDir, 0o755); err != nil {
				return 0, fmt.Errorf("create archive dir: %w", err)
			}
		}
		if err := os.Rename(filepath.Join(t.dir, name), filepath.Join(archiveDir, name)); err != nil {
			return moved, fmt.Errorf("archive %s: %w", name, err)
		}
		moved++
	}
	return moved, nil
}
