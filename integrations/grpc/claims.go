package grpc

import (
	"context"

	"github.com/finplat/jwt-trust/core"
)

// GetClaims returns the claims the interceptor admitted the call with:
//
//	claims, err := jwtgrpc.GetClaims[validator.Claims](ctx)
//	if err != nil {
//	    return nil, status.Error(codes.Internal, "no caller identity")
//	}
//	log.Printf("call from %s as %s", claims.Issuer(), claims.AuthorizedParty())
func GetClaims[T any](ctx context.Context) (T, error) {
	return core.GetClaims[T](ctx)
}

// MustGetClaims is GetClaims for handlers behind the interceptor on a method
// that is not excluded. It panics when the claims are missing.
func MustGetClaims[T any](ctx context.Context) T {
	claims, err := core.GetClaims[T](ctx)
	if err != nil {
		panic(err)
	}
	return claims
}

// HasClaims reports whether the call was admitted with a token. It is false
// for excluded methods called without one.
func HasClaims(ctx context.Context) bool {
	return core.HasClaims(ctx)
}
