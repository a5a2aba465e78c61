/*
Package jwttrust authorises requests carrying JWTs signed by a fixed set of
trusted issuers, and publishes and rotates this service's own signing keys.

Tokens are checked by a validator.TokenAuthenticator. Claims are checked
first; signing keys are then resolved by kid through a jwks.EndpointsStore,
which caches each issuer's JWKS and fetches it again at most once per
refresh delay. This package adapts the authenticator to net/http, gin and
echo. The gRPC adapter lives in integrations/grpc.

# Quick Start

	import (
	    "github.com/finplat/jwt-trust"
	    "github.com/finplat/jwt-trust/jwks"
	    "github.com/finplat/jwt-trust/validator"
	)

	func main() {
	    store, err := jwks.NewEndpointsStore(map[string]string{
	        "serv1domain": "https://serv1domain/jwks",
	    })
	    if err != nil {
	        log.Fatal(err)
	    }

	    auth, err := validator.New(store, validator.WithAudiences("svc"))
	    if err != nil {
	        log.Fatal(err)
	    }

	    middleware, err := jwttrust.New(jwttrust.WithValidator(auth))
	    if err != nil {
	        log.Fatal(err)
	    }

	    http.Handle("/api/", middleware.CheckJWT(apiHandler))
	    http.ListenAndServe(":8080", nil)
	}

# Accessing Claims

	func apiHandler(w http.ResponseWriter, r *http.Request) {
	    claims, err := jwttrust.GetClaims[validator.Claims](r.Context())
	    if err != nil {
	        http.Error(w, "Unauthorized", http.StatusUnauthorized)
	        return
	    }
	    fmt.Fprintf(w, "Hello, %s!", claims.AuthorizedParty())
	}

# Frameworks

The same Middleware serves gin and echo:

	router := gin.New()
	router.Use(middleware.Gin())

	e := echo.New()
	e.Use(middleware.Echo())

# Error Responses

DefaultErrorHandler answers with a JSON body:

	{"message": "token is expired", "code": "auth_token_expired"}

A missing or rejected token is 401 with WWW-Authenticate: Bearer. A token
whose audience, client or scope is not accepted is 403. Failures that are not
about the token itself are 500.

# Service

NewService assembles everything a config.Config describes: the issuer store
or discovery resolver, the authenticator and middleware, and the signing key
slots with their rotator, publisher, signer and rotation scheduler. Slots live
in memory or in redis.

	cfg, err := config.Load()
	svc, err := jwttrust.NewService(cfg, jwttrust.WithServiceLogger(logger))
	err = svc.Bootstrap(ctx)
	http.Handle("/.well-known/jwks.json", svc.Handler())
*/
package jwttrust
