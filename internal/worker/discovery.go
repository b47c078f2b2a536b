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

	"github.com/smartai/router/internal/cloudauth"
	"github.com/smartai/router/internal/config"
	"github.com/smartai/router/internal/modelmeta"
	"github.com/smartai/router/internal/upstream"
)

const (
	discoveryInterval = 6 * time.Hour
	discoveryTimeout  = 30 * time.Second
	discoveryMaxBody  = 4 << 20
)

// DiscoveryWorker refreshes each channel's upstream model list and persists
// it to the on-disk catalog.
type DiscoveryWorker struct {
	registry *config.Registry
	catalog  *modelmeta.ChannelCatalog
	pool     *upstream.Pool
	auth     *cloudauth.Authorizer
	interval time.Duration
}

// NewDiscoveryWorker creates a DiscoveryWorker. A non-positive interval falls
// back to the default cadence.
func NewDiscoveryWorker(registry *config.Registry, catalog *modelmeta.ChannelCatalog, pool *upstream.Pool, auth *cloudauth.Authorizer, interval time.Duration) *DiscoveryWorker {
	if interval <= 0 {
		interval = discoveryInterval
	}
	return &DiscoveryWorker{registry: registry, catalog: catalog, pool: pool, auth: auth, interval: interval}
}

// Name returns the worker identifier.
func (w *DiscoveryWorker) Name() string { return "model_discovery" }

// Run performs an initial refresh, then refreshes on a fixed interval until
// ctx is cancelled.
func (w *DiscoveryWorker) Run(ctx context.Context) error {
	w.refreshAll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.refreshAll(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *DiscoveryWorker) refreshAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, ch := range w.registry.EnabledChannels() {
		g.Go(func() error {
			models, err := w.fetchModels(ctx, ch.ID)
			if err != nil {
				slog.LogAttrs(ctx, slog.LevelWarn, "model discovery failed",
					slog.String("channel", ch.ID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if len(models) == 0 {
				return nil
			}
			if err := w.catalog.Set(ch.ID, ch.APIKey, models); err != nil {
				slog.Warn("catalog write failed", "channel", ch.ID, "error", err)
				return nil
			}
			slog.LogAttrs(ctx, slog.LevelInfo, "model list refreshed",
				slog.String("channel", ch.ID),
				slog.Int("models", len(models)),
			)
			return nil
		})
	}
	g.Wait()
}

func (w *DiscoveryWorker) fetchModels(ctx context.Context, channelID string) ([]string, error) {
	ch := w.registry.ChannelByID(channelID)
	if ch == nil {
		return nil, nil
	}
	baseURL := strings.TrimRight(w.registry.BaseURLFor(ch), "/")
	if baseURL == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	authType := "bearer"
	if p, ok := w.registry.Provider(ch.Provider); ok && p.AuthType != "" {
		authType = p.AuthType
	}
	if err := w.auth.SetAuth(ctx, req.Header, authType, ch.APIKey); err != nil {
		return nil, err
	}

	resp, err := w.pool.ClientFor(baseURL).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, upstream.ParseAPIError(channelID, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, discoveryMaxBody))
	if err != nil {
		return nil, err
	}

	var models []string
	gjson.GetBytes(body, "data").ForEach(func(_, m gjson.Result) bool {
		if id := m.Get("id").String(); id != "" {
			models = append(models, id)
		}
		return true
	})
	return models, nil
}
