/*
Package oidc resolves the JWKS location of an OpenID Connect issuer.

Providers publish metadata at a well-known URL:

	https://issuer.example.com/.well-known/openid-configuration

Only the issuer and jwks_uri members are read. When an expected issuer is
passed, the metadata issuer must match it, which stops a discovery document
served from one host from vouching for keys of another issuer.

	endpoints, err := oidc.GetWellKnownEndpointsFromIssuerURL(ctx, client, *issuerURL, issuerURL.String())
	if err != nil {
	    return err
	}
	// endpoints.JWKSURI
*/
package oidc
