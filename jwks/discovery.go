package jwks

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/otel/attribute"

	"github.com/finplat/jwt-trust/core"
	"github.com/finplat/jwt-trust/internal/oidc"
)

// DiscoveryResolver resolves signing keys for a single OIDC issuer. The JWKS
// URI is found through the issuer's discovery document unless one was given
// with WithCustomJWKSURI. Keys are looked up purely by kid; the issuer claim
// is not consulted.
type DiscoveryResolver struct {
	issuerURL    *url.URL
	jwksURI      string
	cacheTTL     time.Duration
	refreshDelay time.Duration
	httpClient   *http.Client
	logger       core.Logger
	metrics      core.Metrics
	now          func() time.Time

	uriMu sync.Mutex
	cache *Cache[KeySet]
}

// NewDiscoveryResolver builds a DiscoveryResolver.
// Required options:
//   - WithIssuerURL or WithCustomJWKSURI
//
// Example:
//
//	resolver, err := jwks.NewDiscoveryResolver(
//	    jwks.WithIssuerURL(issuerURL),
//	    jwks.WithCacheTTL(10*time.Minute),
//	)
func NewDiscoveryResolver(opts ...DiscoveryOption) (*DiscoveryResolver, error) {
	r := &DiscoveryResolver{
		cacheTTL:     15 * time.Minute,
		refreshDelay: DefaultRefreshDelay,
		httpClient:   &http.Client{Timeout: DefaultFetchTimeout},
		logger:       core.NopLogger{},
		metrics:      core.NoopMetrics{},
		now:          time.Now,
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	if r.issuerURL == nil && r.jwksURI == "" {
		return nil, errors.New("issuer URL is required (use WithIssuerURL or WithCustomJWKSURI)")
	}

	r.cache = NewCache(r.cacheTTL, r.refresh)
	r.cache.now = r.now

	return r, nil
}

// ResolveKeys returns the PEM keys published under kid. issuerID is ignored.
func (r *DiscoveryResolver) ResolveKeys(ctx context.Context, kid, _ string) ([]string, error) {
	set, err := r.cache.GetData(ctx, false)
	if err != nil {
		return nil, err
	}
	if pems, ok := set[kid]; ok {
		return pems, nil
	}

	allowRefresh := r.now().After(r.cache.RefreshTime().Add(r.refreshDelay))
	if allowRefresh {
		set, err = r.cache.GetData(ctx, true)
		if err != nil {
			return nil, err
		}
		if pems, ok := set[kid]; ok {
			return pems, nil
		}
	}

	r.logger.Warn("kid not found in discovered key set", "kid", kid)
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

func (r *DiscoveryResolver) refresh(ctx context.Context) (KeySet, error) {
	ctx, span := core.StartSpan(ctx, "jwks.discovery.refresh")

	start := time.Now()
	set, endpoint, err := r.fetch(ctx)
	tags := map[string]string{"issuer": r.issuerLabel()}
	r.metrics.IncCounter(core.MetricJWKSRefreshTotal, tags)
	r.metrics.ObserveHistogram(core.MetricJWKSRefreshSeconds, time.Since(start).Seconds(), tags)

	if err != nil {
		r.metrics.IncCounter(core.MetricJWKSRefreshFailures, tags)
		r.logger.Error("JWKS discovery refresh failed", "issuer", r.issuerLabel(), "endpoint", endpoint, "error", err)
		core.EndSpan(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("jwks.endpoint", endpoint))
	r.metrics.SetGauge(core.MetricJWKSKeys, float64(set.Kids()), tags)
	core.EndSpan(span, nil)
	return set, nil
}

func (r *DiscoveryResolver) fetch(ctx context.Context) (KeySet, string, error) {
	endpoint, err := r.resolveJWKSURI(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	set, err := jwk.Fetch(ctx, endpoint, jwk.WithHTTPClient(r.httpClient))
	if err != nil {
		return nil, endpoint, fmt.Errorf("%w: could not fetch JWKS: %w", ErrFetchFailed, err)
	}

	keys, err := keySetFromJWK(set)
	if err != nil {
		return nil, endpoint, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return keys, endpoint, nil
}

func (r *DiscoveryResolver) resolveJWKSURI(ctx context.Context) (string, error) {
	r.uriMu.Lock()
	defer r.uriMu.Unlock()

	if r.jwksURI != "" {
		return r.jwksURI, nil
	}

	wk, err := oidc.GetWellKnownEndpointsFromIssuerURL(ctx, r.httpClient, *r.issuerURL, r.issuerURL.String())
	if err != nil {
		return "", err
	}
	if _, err := url.Parse(wk.JWKSURI); err != nil {
		return "", fmt.Errorf("could not parse JWKS URI from well known endpoints: %w", err)
	}

	r.jwksURI = wk.JWKSURI
	return r.jwksURI, nil
}

func (r *DiscoveryResolver) issuerLabel() string {
	if r.issuerURL != nil {
		return r.issuerURL.String()
	}
	return r.jwksURI
}

// keySetFromJWK converts a parsed JWK set into kid to PEM form. Keys without
// a kid are skipped since no token can select them.
func keySetFromJWK(set jwk.Set) (KeySet, error) {
	out := make(KeySet, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid := key.KeyID()
		if kid == "" {
			continue
		}

		raw, err := jwk.PublicRawKeyOf(key)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", kid, err)
		}
		der, err := x509.MarshalPKIXPublicKey(raw)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", kid, err)
		}

		out[kid] = append(out[kid], string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})))
	}
	return out, nil
}
