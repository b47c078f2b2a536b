// Package upstream manages pooled HTTP clients, upstream error parsing, and
// SSE stream decoding for provider origins.
package upstream

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/dnscache"
)

const (
	dnsRefreshInterval = 5 * time.Minute
	requestTimeout     = 300 * time.Second
	probeTimeout       = 10 * time.Second
)

// Pool hands out one *http.Client per origin. Clients share a cached DNS
// resolver and tuned connection limits; remote HTTPS origins negotiate HTTP/2,
// local HTTP origins stay on HTTP/1.1.
type Pool struct {
	mu       sync.RWMutex
	clients  map[string]*http.Client
	resolver *dnscache.Resolver
	stop     chan struct{}
	stopOnce sync.Once
}

// NewPool creates a client pool and starts the background DNS refresher.
func NewPool() *Pool {
	p := &Pool{
		clients:  make(map[string]*http.Client),
		resolver: &dnscache.Resolver{},
		stop:     make(chan struct{}),
	}
	go p.refreshLoop()
	return p
}

// ClientFor returns the pooled client for the origin of baseURL, creating it
// on first use.
func (p *Pool) ClientFor(baseURL string) *http.Client {
	origin := originOf(baseURL)

	p.mu.RLock()
	c, ok := p.clients[origin]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[origin]; ok {
		return c
	}
	c = &http.Client{
		Transport: p.newTransport(strings.HasPrefix(origin, "https")),
		Timeout:   requestTimeout,
	}
	p.clients[origin] = c
	return c
}

// ProbeClient returns a short-timeout client for health and recovery probes
// against baseURL's origin. Probes must not tie up the request pool's
// long-lived connections.
func (p *Pool) ProbeClient(baseURL string) *http.Client {
	return &http.Client{
		Transport: p.newTransport(strings.HasPrefix(originOf(baseURL), "https")),
		Timeout:   probeTimeout,
	}
}

// Close stops the DNS refresher and closes idle connections.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		if t, ok := c.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
}

// newTransport returns a tuned *http.Transport with connection pooling and
// DNS caching. forceHTTP2 is set for remote HTTPS APIs and left off for local
// HTTP/1.1 servers such as Ollama.
func (p *Pool) newTransport(forceHTTP2 bool) *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &http.Transport{
		MaxIdleConnsPerHost: 20,
		MaxIdleConns:        100,
		IdleConnTimeout:     30 * time.Second,
		ForceAttemptHTTP2:   forceHTTP2,
		TLSHandshakeTimeout: 5 * time.Second,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := p.resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		},
	}
}

func (p *Pool) refreshLoop() {
	t := time.NewTicker(dnsRefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.resolver.Refresh(true)
		case <-p.stop:
			return
		}
	}
}

// originOf reduces a base URL to scheme://host for client keying. Unparseable
// URLs key on the raw string, which still yields a working client.
func originOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return baseURL
	}
	return u.Scheme + "://" + u.Host
}
