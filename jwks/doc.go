/*
Package jwks resolves the public keys trusted issuers sign tokens with.

# Overview

The package has four parts:
  - a codec between PEM and the x5c form used inside JWKS documents, plus
    kid derivation and key-age checks
  - Cache, a generic single-flight value cache driven purely by demand
  - EndpointsStore, a registry of trusted issuers keyed by issuer id, each
    with its own lazily created Cache of kid to PEM keys
  - DiscoveryResolver, which finds a single issuer's JWKS through OIDC
    discovery and looks keys up by kid alone

EndpointsStore and DiscoveryResolver both satisfy validator.KeyResolver.

# Registry-based resolution

	store, err := jwks.NewEndpointsStore(
	    map[string]string{
	        "serv1domain": "https://idp.example/serv1",
	        "serv2domain": "https://idp.example/serv2",
	    },
	    jwks.WithRefreshDelay(5*time.Minute),
	    jwks.WithLogger(logger),
	)
	if err != nil {
	    log.Fatal(err)
	}

	pems, err := store.ResolveKeys(ctx, kid, "serv1domain")

A lookup for an issuer id that was never registered fails with
ErrUnknownIssuer and makes no network call.

# Staleness

Two clocks decide when an issuer's keys are fetched again.

The per-issuer Cache is created with NeverExpires, so it never goes stale on
its own. The store allows a refresh only when refreshDelay has passed since
the issuer's last successful fetch, and ResolveKeys asks for one on every
lookup. Within one refreshDelay lookups are served from memory; the first
lookup after it fetches again, so a rotated key is picked up and a key the
issuer stopped publishing stops resolving.

# Single-flight

Concurrent callers that arrive while a fetch is running wait for that fetch
and observe its result. A failed fetch leaves the previously cached keys in
place and is reported to every caller that waited on it; the next caller
allowed to refresh tries again. No fetch happens in the background.

# Circuit breaking

Each issuer's fetches go through a circuit breaker. After
WithBreakerFailures consecutive failures (5 by default) the issuer's
endpoint is left alone for 30 seconds and lookups that would fetch fail
fast with ErrFetchFailed. The cached keys are kept for when the issuer
recovers. Pass 0 to disable.

# Discovery-based resolution

	resolver, err := jwks.NewDiscoveryResolver(
	    jwks.WithIssuerURL(issuerURL),
	    jwks.WithCacheTTL(15*time.Minute),
	)

The discovery document is fetched once; its issuer must match the configured
issuer URL (a trailing slash is ignored). Keys are refreshed when the cache
TTL elapses or, subject to the refresh delay, on a kid miss.
*/
package jwks
