// Package discovery resolves a remote authorization server's metadata
// document and signing keys for the Relying Party role (spec §4.9's
// RP/discovery domain-stack components), grounded on the teacher's
// examples/example-app/main.go use of oidc.NewProvider plus the
// negative-caching posture of its vendored remoteKeySet
// (vendor/github.com/coreos/go-oidc/jwks.go): a failed metadata fetch
// is remembered for a short window so a flapping peer doesn't turn
// into a fetch-per-request storm.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// negativeCacheTTL bounds how long a failed discovery fetch is
// remembered before the next call retries the peer, mirroring the
// teacher's keysExpiryDelta posture of a short, fixed grace window
// rather than unbounded backoff.
const negativeCacheTTL = 30 * time.Second

// Peer resolves and caches one issuer's provider metadata and ID token
// verifier. A Peer is safe for concurrent use.
type Peer struct {
	issuerURL string
	clientID  string
	now       func() time.Time

	mu        sync.Mutex
	provider  *oidc.Provider
	verifier  *oidc.IDTokenVerifier
	lastErr   error
	lastErrAt time.Time
}

// NewPeer returns a Peer for issuerURL, whose ID tokens are expected to
// carry clientID as an audience. Nothing is fetched until the first
// Provider/Verifier call.
func NewPeer(issuerURL, clientID string) *Peer {
	return &Peer{issuerURL: issuerURL, clientID: clientID, now: time.Now}
}

// Provider returns the peer's cached *oidc.Provider, fetching its
// discovery document on first use. A recent failure is replayed
// without a new round trip until negativeCacheTTL elapses.
func (p *Peer) Provider(ctx context.Context) (*oidc.Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.provider != nil {
		return p.provider, nil
	}
	if p.lastErr != nil && p.now().Before(p.lastErrAt.Add(negativeCacheTTL)) {
		return nil, p.lastErr
	}

	provider, err := oidc.NewProvider(ctx, p.issuerURL)
	if err != nil {
		p.lastErr = fmt.Errorf("discovery: fetch %q: %w", p.issuerURL, err)
		p.lastErrAt = p.now()
		return nil, p.lastErr
	}
	p.provider = provider
	p.verifier = provider.Verifier(&oidc.Config{ClientID: p.clientID})
	p.lastErr = nil
	return provider, nil
}

// Verifier returns an *oidc.IDTokenVerifier bound to the peer's JWKS,
// fetching discovery first if needed.
func (p *Peer) Verifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	if _, err := p.Provider(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verifier, nil
}

// Endpoint returns the peer's OAuth2 authorization/token endpoint pair,
// fetching discovery first if needed.
func (p *Peer) Endpoint(ctx context.Context) (oauth2.Endpoint, error) {
	provider, err := p.Provider(ctx)
	if err != nil {
		return oauth2.Endpoint{}, err
	}
	return provider.Endpoint(), nil
}

// Forget drops the cached provider and verifier, forcing the next call
// to re-fetch discovery. Useful after a peer rotates its issuer keys
// out of band from the negative-cache window above.
func (p *Peer) Forget() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provider = nil
	p.verifier = nil
	p.lastErr = nil
}
