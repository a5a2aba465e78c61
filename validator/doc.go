/*
Package validator authorises bearer tokens signed by trusted issuers.

A TokenAuthenticator runs the same steps for every token:

 1. Decode the token without verifying it. Tokens that cannot be decoded,
    declare no alg, declare a symmetric alg or "none", or carry no kid are
    rejected with invalid_auth_token.
 2. Check claims structurally: exp (a missing exp counts as expired), nbf,
    iss against the trusted issuers, and aud, azp and scope when those
    constraints are configured.
 3. Resolve candidate public keys for (kid, iss) through a KeyResolver.
 4. Verify the signature against each candidate until one succeeds.
 5. Return the claims without sub, exp and iat, with the kid added.

Steps 1 and 2 never touch the network, so a token from an untrusted issuer
is rejected before any key lookup.

# Key resolution

KeyResolver is the only thing that differs between deployments:

  - jwks.EndpointsStore looks keys up in a registry of issuer id to JWKS URL
  - jwks.DiscoveryResolver finds one issuer's JWKS through OIDC discovery
  - keys.LocalResolver serves this service's own signing slots

When the resolver can list its issuers (EndpointsStore does), those are the
trusted issuers unless WithTrustedIssuers says otherwise.

# Basic Usage

	store, err := jwks.NewEndpointsStore(map[string]string{
	    "serv1domain": "https://idp.example/serv1",
	})
	if err != nil {
	    log.Fatal(err)
	}

	auth, err := validator.New(store,
	    validator.WithAudiences("svc"),
	    validator.WithClients("client1"),
	    validator.WithLogger(logger),
	)
	if err != nil {
	    log.Fatal(err)
	}

	result, err := auth.CheckAuthorisation(ctx, r.Header.Get("Authorization"))
	if err != nil {
	    // errors.Is(err, core.ErrAuthFailed) is always true here.
	    // core.IsInternal(err) tells issuer or network faults apart.
	}
	fmt.Println(result.Claims.Issuer(), result.Claims.KeyID())

# Errors

Every rejection is a *core.AuthError. Its Code is one of
invalid_auth_token, auth_token_expired, auth_token_issuer_invalid,
auth_token_audience_invalid, auth_token_client_invalid,
auth_token_scope_invalid, auth_failed (no key verified the signature, or the
kid is unknown) and key_resolution_failed (the keys could not be fetched).
*/
package validator
