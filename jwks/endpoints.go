package jwks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/finplat/jwt-trust/core"
)

// Key-resolution errors.
var (
	// ErrUnknownIssuer is returned for an issuer id with no registered endpoint.
	// No network call is made.
	ErrUnknownIssuer = errors.New("unknown issuer")

	// ErrKeyNotFound is returned when an issuer's key set has no entry for a kid.
	ErrKeyNotFound = errors.New("kid not found in issuer key set")
)

// EndpointsStore owns one Cache per trusted issuer and maps each issuer id to
// the endpoint its JWKS is fetched from.
//
// Two clocks govern staleness. Each per-issuer Cache never expires on its own;
// the store decides whether a refresh may happen, allowing one only when
// refreshDelay has passed since that issuer's last successful refresh.
type EndpointsStore struct {
	endpoints       map[string]string
	refreshDelay    time.Duration
	httpClient      *http.Client
	breakerFailures uint32
	logger          core.Logger
	metrics         core.Metrics
	now             func() time.Time

	// caches only ever grows: entries are added lazily, never replaced or removed.
	mu     sync.Mutex
	caches map[string]*Cache[KeySet]
}

// NewEndpointsStore builds an EndpointsStore for the given issuer id to JWKS
// URL registrations. The map is copied and never changes afterwards.
//
// Example:
//
//	store, err := jwks.NewEndpointsStore(
//	    map[string]string{"serv1domain": "https://idp.example/serv1"},
//	    jwks.WithRefreshDelay(5*time.Minute),
//	    jwks.WithLogger(logger),
//	)
func NewEndpointsStore(endpoints map[string]string, opts ...StoreOption) (*EndpointsStore, error) {
	s := &EndpointsStore{
		endpoints:       make(map[string]string, len(endpoints)),
		refreshDelay:    DefaultRefreshDelay,
		httpClient:      &http.Client{Timeout: DefaultFetchTimeout},
		breakerFailures: DefaultBreakerFailures,
		logger:          core.NopLogger{},
		metrics:         core.NoopMetrics{},
		now:             time.Now,
		caches:          make(map[string]*Cache[KeySet]),
	}

	for issuerID, endpoint := range endpoints {
		if issuerID == "" {
			return nil, errors.New("issuer id cannot be empty")
		}
		u, err := url.Parse(endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid JWKS endpoint %q for issuer %q", endpoint, issuerID)
		}
		s.endpoints[issuerID] = endpoint
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	return s, nil
}

// Issuers returns the registered issuer ids.
func (s *EndpointsStore) Issuers() []string {
	ids := make([]string, 0, len(s.endpoints))
	for id := range s.endpoints {
		ids = append(ids, id)
	}
	return ids
}

// GetCache returns the key set for issuerID, creating that issuer's Cache on
// first use. A refresh is requested only when tryRefresh is set and the
// refresh delay has passed since the last successful refresh. A Cache that
// has never been filled refreshes regardless.
func (s *EndpointsStore) GetCache(ctx context.Context, issuerID string, tryRefresh bool) (KeySet, error) {
	cache, err := s.cacheFor(issuerID)
	if err != nil {
		return nil, err
	}

	allowRefresh := s.now().After(cache.RefreshTime().Add(s.refreshDelay))

	return cache.GetData(ctx, tryRefresh && allowRefresh)
}

// ResolveKeys returns the PEM keys the issuer publishes under kid. The
// issuer's key set is refreshed first whenever the refresh delay has passed
// since its last successful refresh, so a kid the issuer stopped publishing
// stops resolving within one delay.
func (s *EndpointsStore) ResolveKeys(ctx context.Context, kid, issuerID string) ([]string, error) {
	set, err := s.GetCache(ctx, issuerID, true)
	if err != nil {
		return nil, err
	}
	if pems, ok := set[kid]; ok {
		return pems, nil
	}

	s.logger.Warn("kid not found in issuer key set", "issuer", issuerID, "kid", kid)
	return nil, fmt.Errorf("%w: issuer %q kid %q", ErrKeyNotFound, issuerID, kid)
}

func (s *EndpointsStore) cacheFor(issuerID string) (*Cache[KeySet], error) {
	endpoint, ok := s.endpoints[issuerID]
	if !ok {
		s.logger.Warn("key lookup for unknown issuer", "issuer", issuerID)
		return nil, fmt.Errorf("%w: %q", ErrUnknownIssuer, issuerID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cache, ok := s.caches[issuerID]
	if !ok {
		cache = NewCache(NeverExpires, s.refreshFunc(issuerID, endpoint))
		cache.now = s.now
		s.caches[issuerID] = cache
	}
	return cache, nil
}

func (s *EndpointsStore) refreshFunc(issuerID, endpoint string) RefreshFunc[KeySet] {
	fetch := func(ctx context.Context) (KeySet, error) {
		return fetchKeySet(ctx, s.httpClient, endpoint)
	}

	if s.breakerFailures > 0 {
		threshold := s.breakerFailures
		breaker := gobreaker.NewCircuitBreaker[KeySet](gobreaker.Settings{
			Name:    issuerID,
			Timeout: DefaultBreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				s.logger.Warn("JWKS circuit breaker state changed", "issuer", name, "from", from.String(), "to", to.String())
			},
		})
		direct := fetch
		fetch = func(ctx context.Context) (KeySet, error) {
			set, err := breaker.Execute(func() (KeySet, error) { return direct(ctx) })
			if err != nil && !errors.Is(err, ErrFetchFailed) {
				err = fmt.Errorf("%w: %w", ErrFetchFailed, err)
			}
			return set, err
		}
	}

	return func(ctx context.Context) (KeySet, error) {
		ctx, span := core.StartSpan(ctx, "jwks.refresh",
			attribute.String("jwks.issuer", issuerID),
			attribute.String("jwks.endpoint", endpoint),
		)

		start := time.Now()
		set, err := fetch(ctx)
		tags := map[string]string{"issuer": issuerID}
		s.metrics.IncCounter(core.MetricJWKSRefreshTotal, tags)
		s.metrics.ObserveHistogram(core.MetricJWKSRefreshSeconds, time.Since(start).Seconds(), tags)

		if err != nil {
			s.metrics.IncCounter(core.MetricJWKSRefreshFailures, tags)
			s.logger.Error("JWKS refresh failed", "issuer", issuerID, "endpoint", endpoint, "error", err)
			core.EndSpan(span, err)
			return nil, err
		}

		s.metrics.SetGauge(core.MetricJWKSKeys, float64(set.Kids()), tags)
		s.logger.Info("JWKS refreshed", "issuer", issuerID, "keys", set.Kids())
		core.EndSpan(span, nil)
		return set, nil
	}
}
