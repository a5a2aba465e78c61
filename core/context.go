package core

import "context"

type contextKey int

const claimsKey contextKey = iota

// GetClaims returns the claims an authorised request was admitted with. T is
// the type the transport stored, validator.Claims for every adapter in this
// module. A request that never passed authorisation yields ErrClaimsNotFound;
// a T other than the stored type is a claims_not_found *AuthError.
func GetClaims[T any](ctx context.Context) (T, error) {
	var zero T

	val := ctx.Value(claimsKey)
	if val == nil {
		return zero, ErrClaimsNotFound
	}

	claims, ok := val.(T)
	if !ok {
		return zero, NewAuthError(
			ErrorCodeClaimsNotFound,
			"claims type assertion failed",
			nil,
		)
	}

	return claims, nil
}

// SetClaims attaches the claims of an authorised token to ctx.
func SetClaims(ctx context.Context, claims any) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// HasClaims reports whether ctx carries claims of any type.
func HasClaims(ctx context.Context) bool {
	return ctx.Value(claimsKey) != nil
}
