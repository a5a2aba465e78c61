package oidc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/goccy/go-json"
)

// WellKnownEndpoints holds the well known OIDC endpoints
type WellKnownEndpoints struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// GetWellKnownEndpointsFromIssuerURL gets the well known endpoints for the
// passed in issuer url. When expectedIssuer is not empty, the issuer in the
// returned metadata must match it (a trailing slash is ignored).
func GetWellKnownEndpointsFromIssuerURL(
	ctx context.Context,
	client *http.Client,
	issuerURL url.URL,
	expectedIssuer string,
) (*WellKnownEndpoints, error) {
	issuerURL.Path = path.Join(issuerURL.Path, ".well-known/openid-configuration")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuerURL.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("could not build request to get well-known endpoints: %w", err)
	}

	r, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not fetch well-known endpoints from url %s: %w", issuerURL.String(), err)
	}
	defer func() { _ = r.Body.Close() }()

	if r.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("well-known endpoints request to %s returned status %d", issuerURL.String(), r.StatusCode)
	}

	var wkEndpoints WellKnownEndpoints
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&wkEndpoints); err != nil {
		return nil, fmt.Errorf("failed to decode JSON from well-known endpoints: %w", err)
	}

	if err := validateMetadata(wkEndpoints, expectedIssuer); err != nil {
		return nil, err
	}

	return &wkEndpoints, nil
}

func validateMetadata(wk WellKnownEndpoints, expectedIssuer string) error {
	if wk.JWKSURI == "" {
		return errors.New("discovery metadata missing required 'jwks_uri' field")
	}
	if expectedIssuer == "" {
		return nil
	}
	if wk.Issuer == "" {
		return errors.New("discovery metadata missing required 'issuer' field")
	}
	if strings.TrimSuffix(wk.Issuer, "/") != strings.TrimSuffix(expectedIssuer, "/") {
		return fmt.Errorf("issuer mismatch: metadata issuer %q does not match expected %q", wk.Issuer, expectedIssuer)
	}
	return nil
}
