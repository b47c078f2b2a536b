// Package cloudauth injects upstream credentials per channel auth type:
// static bearer or x-api-key headers, and GCP OAuth tokens for Vertex AI
// channels via Application Default Credentials.
package cloudauth

import (
	"context"
	"net/http"

	gateway "github.com/smartai/router/internal"
)

// Apply sets the credential header for a static auth type. gcp_oauth channels
// are handled by the caller with a token from GCP.
func Apply(h http.Header, authType, key string) {
	switch authType {
	case gateway.AuthXAPIKey:
		h.Set("x-api-key", key)
	default:
		h.Set("Authorization", "Bearer "+key)
	}
}

// Authorizer resolves the header setter for a channel, fetching OAuth tokens
// where the auth type requires them.
type Authorizer struct {
	gcp *GCP
}

// NewAuthorizer returns an Authorizer with a lazy GCP credential source.
func NewAuthorizer() *Authorizer {
	return &Authorizer{gcp: &GCP{}}
}

// SetAuth injects the channel's credentials into the outbound headers.
func (a *Authorizer) SetAuth(ctx context.Context, h http.Header, authType, key string) error {
	if authType == gateway.AuthGCPOAuth {
		tok, err := a.gcp.Token(ctx)
		if err != nil {
			return err
		}
		h.Set("Authorization", "Bearer "+tok)
		return nil
	}
	Apply(h, authType, key)
	return nil
}
