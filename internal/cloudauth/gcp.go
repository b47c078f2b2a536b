package cloudauth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// GCP obtains bearer tokens from Application Default Credentials. The token
// source is resolved once and cached; tokens auto-refresh.
type GCP struct {
	mu     sync.Mutex
	source oauth2.TokenSource
}

// Token returns a valid access token for the cloud-platform scope.
func (g *GCP) Token(ctx context.Context) (string, error) {
	src, err := g.tokenSource(ctx)
	if err != nil {
		return "", err
	}
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("cloudauth: obtain GCP token: %w", err)
	}
	return tok.AccessToken, nil
}

func (g *GCP) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.source != nil {
		return g.source, nil
	}
	creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("cloudauth: find GCP credentials: %w", err)
	}
	g.source = oauth2.ReuseTokenSource(nil, creds.TokenSource)
	return g.source, nil
}

// setTokenSource overrides the source, for tests.
func (g *GCP) setTokenSource(ts oauth2.TokenSource) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.source = oauth2.ReuseTokenSource(nil, ts)
}
