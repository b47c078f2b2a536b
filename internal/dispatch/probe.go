package dispatch

import (
	"context"
	"net/http"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/errgroup"
)

const (
	probeTTL     = 30 * time.Second
	probeBudget  = 2 * time.Second
	preflightMax = 3
)

// probeCache remembers recent connectivity checks per origin so consecutive
// requests do not re-probe healthy upstreams.
type probeCache struct {
	cache *otter.Cache[string, bool]
}

func newProbeCache() *probeCache {
	return &probeCache{
		cache: otter.Must(&otter.Options[string, bool]{
			MaximumSize:      512,
			ExpiryCalculator: otter.ExpiryWriting[string, bool](probeTTL),
		}),
	}
}

func (p *probeCache) get(origin string) (ok, known bool) {
	ok, known = p.cache.GetIfPresent(origin)
	return ok, known
}

func (p *probeCache) set(origin string, ok bool) {
	p.cache.Set(origin, ok)
}

// preflight probes connectivity of the first few targets whose origins have
// no fresh probe result. Probes run concurrently within a short budget; a
// slow probe simply leaves the origin unknown, which never blocks dispatch.
func (d *Dispatcher) preflight(ctx context.Context, targets []*target) {
	ctx, cancel := context.WithTimeout(ctx, probeBudget)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	seen := make(map[string]struct{})
	launched := 0
	for _, t := range targets {
		if launched >= preflightMax {
			break
		}
		if _, dup := seen[t.baseURL]; dup {
			continue
		}
		seen[t.baseURL] = struct{}{}
		if _, known := d.probes.get(t.baseURL); known {
			continue
		}
		launched++
		g.Go(func() error {
			d.probes.set(t.baseURL, d.probeOrigin(ctx, t))
			return nil
		})
	}
	g.Wait()
}

// probeOrigin checks that the channel's API answers at all. Any HTTP response
// counts as reachable; auth and quota problems surface on the real request.
func (d *Dispatcher) probeOrigin(ctx context.Context, t *target) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	if err := d.auth.SetAuth(ctx, req.Header, t.authType, t.channel.APIKey); err != nil {
		return false
	}
	resp, err := d.pool.ProbeClient(t.baseURL).Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// probeAllows reports whether a target should be attempted given its cached
// probe state. Unknown origins are allowed; a known-dead origin is skipped
// unless it is the last option.
func (d *Dispatcher) probeAllows(t *target, last bool) bool {
	ok, known := d.probes.get(t.baseURL)
	return !known || ok || last
}
