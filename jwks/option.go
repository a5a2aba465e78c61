package jwks

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/finplat/jwt-trust/core"
)

// Defaults shared by the store and the discovery resolver.
const (
	DefaultRefreshDelay    = 300 * time.Second
	DefaultFetchTimeout    = 30 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// ============================================================================
// EndpointsStore Options
// ============================================================================

// StoreOption is how options for the EndpointsStore are set up.
type StoreOption func(*EndpointsStore) error

// WithRefreshDelay sets the minimum time between two refreshes of the same
// issuer's key set. Zero allows a refresh on every lookup.
func WithRefreshDelay(d time.Duration) StoreOption {
	return func(s *EndpointsStore) error {
		if d < 0 {
			return errors.New("refresh delay cannot be negative")
		}
		s.refreshDelay = d
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for JWKS fetches.
// If not specified, a client with a 30s timeout is used.
func WithHTTPClient(c *http.Client) StoreOption {
	return func(s *EndpointsStore) error {
		if c == nil {
			return errors.New("HTTP client cannot be nil")
		}
		s.httpClient = c
		return nil
	}
}

// WithBreakerFailures sets how many consecutive fetch failures open an
// issuer's circuit breaker. Zero disables the breaker.
func WithBreakerFailures(n int) StoreOption {
	return func(s *EndpointsStore) error {
		if n < 0 {
			return errors.New("breaker failures cannot be negative")
		}
		s.breakerFailures = uint32(n)
		return nil
	}
}

// WithLogger sets the logger for the EndpointsStore.
func WithLogger(logger core.Logger) StoreOption {
	return func(s *EndpointsStore) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics sink for the EndpointsStore.
func WithMetrics(metrics core.Metrics) StoreOption {
	return func(s *EndpointsStore) error {
		if metrics == nil {
			return errors.New("metrics cannot be nil")
		}
		s.metrics = metrics
		return nil
	}
}

// ============================================================================
// DiscoveryResolver Options
// ============================================================================

// DiscoveryOption is how options for the DiscoveryResolver are set up.
type DiscoveryOption func(*DiscoveryResolver) error

// WithIssuerURL sets the OIDC issuer whose discovery document names the JWKS URI.
func WithIssuerURL(issuerURL *url.URL) DiscoveryOption {
	return func(r *DiscoveryResolver) error {
		if issuerURL == nil {
			return errors.New("issuer URL cannot be nil")
		}
		r.issuerURL = issuerURL
		return nil
	}
}

// WithCustomJWKSURI skips discovery and fetches keys from jwksURI directly.
func WithCustomJWKSURI(jwksURI *url.URL) DiscoveryOption {
	return func(r *DiscoveryResolver) error {
		if jwksURI == nil {
			return errors.New("custom JWKS URI cannot be nil")
		}
		r.jwksURI = jwksURI.String()
		return nil
	}
}

// WithCacheTTL sets how long a fetched key set is served before the next
// lookup refreshes it. NeverExpires leaves refreshes to kid misses only.
func WithCacheTTL(ttl time.Duration) DiscoveryOption {
	return func(r *DiscoveryResolver) error {
		if ttl < 0 && ttl != NeverExpires {
			return fmt.Errorf("cache TTL cannot be negative")
		}
		if ttl == 0 {
			ttl = 15 * time.Minute
		}
		r.cacheTTL = ttl
		return nil
	}
}

// WithDiscoveryRefreshDelay sets the minimum time between two kid-miss refreshes.
func WithDiscoveryRefreshDelay(d time.Duration) DiscoveryOption {
	return func(r *DiscoveryResolver) error {
		if d < 0 {
			return errors.New("refresh delay cannot be negative")
		}
		r.refreshDelay = d
		return nil
	}
}

// WithDiscoveryHTTPClient sets the HTTP client used for discovery and JWKS fetches.
func WithDiscoveryHTTPClient(c *http.Client) DiscoveryOption {
	return func(r *DiscoveryResolver) error {
		if c == nil {
			return errors.New("HTTP client cannot be nil")
		}
		r.httpClient = c
		return nil
	}
}

// WithDiscoveryLogger sets the logger for the DiscoveryResolver.
func WithDiscoveryLogger(logger core.Logger) DiscoveryOption {
	return func(r *DiscoveryResolver) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		r.logger = logger
		return nil
	}
}

// WithDiscoveryMetrics sets the metrics sink for the DiscoveryResolver.
func WithDiscoveryMetrics(metrics core.Metrics) DiscoveryOption {
	return func(r *DiscoveryResolver) error {
		if metrics == nil {
			return errors.New("metrics cannot be nil")
		}
		r.metrics = metrics
		return nil
	}
}
