package jwttrust

import (
	"context"
	"fmt"
	"net/http"

	"github.com/finplat/jwt-trust/core"
)

// Middleware authorises HTTP requests with a bearer token. The same value
// backs the net/http, gin and echo adapters.
type Middleware struct {
	core                *core.Core
	errorHandler        ErrorHandler
	tokenExtractor      TokenExtractor
	validateOnOptions   bool
	exclusionURLHandler ExclusionURLHandler
	logger              core.Logger

	// used during construction only
	validator           core.Validator
	credentialsOptional bool
}

// ExclusionURLHandler reports whether a request skips authorisation.
type ExclusionURLHandler func(r *http.Request) bool

// New constructs a Middleware. WithValidator is required.
//
// Example:
//
//	auth, _ := validator.New(store, validator.WithAudiences("svc"))
//	mw, err := jwttrust.New(jwttrust.WithValidator(auth))
//	if err != nil {
//	    log.Fatalf("failed to create middleware: %v", err)
//	}
//	http.Handle("/api/", mw.CheckJWT(apiHandler))
func New(opts ...Option) (*Middleware, error) {
	m := &Middleware{
		validateOnOptions: true,
		errorHandler:      DefaultErrorHandler,
		tokenExtractor:    AuthHeaderTokenExtractor,
		logger:            core.NopLogger{},
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	if m.validator == nil {
		return nil, fmt.Errorf("invalid middleware configuration: %w", ErrValidatorNil)
	}

	c, err := core.New(
		core.WithValidator(m.validator),
		core.WithCredentialsOptional(m.credentialsOptional),
		core.WithLogger(m.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create core: %w", err)
	}
	m.core = c
	m.validator = nil

	return m, nil
}

// GetClaims retrieves claims from the context with type safety using generics.
//
// Example:
//
//	claims, err := jwttrust.GetClaims[validator.Claims](r.Context())
//	if err != nil {
//	    http.Error(w, "failed to get claims", http.StatusInternalServerError)
//	    return
//	}
//	fmt.Println(claims.Issuer())
func GetClaims[T any](ctx context.Context) (T, error) {
	return core.GetClaims[T](ctx)
}

// MustGetClaims retrieves claims from the context or panics.
// Use only when you are certain claims exist (e.g., after middleware has run).
func MustGetClaims[T any](ctx context.Context) T {
	claims, err := core.GetClaims[T](ctx)
	if err != nil {
		panic(err)
	}
	return claims
}

// HasClaims checks if claims exist in the context.
func HasClaims(ctx context.Context) bool {
	return core.HasClaims(ctx)
}

// skip reports whether r bypasses authorisation.
func (m *Middleware) skip(r *http.Request) bool {
	if m.exclusionURLHandler != nil && m.exclusionURLHandler(r) {
		m.logger.Debug("skipping JWT validation for excluded URL", "method", r.Method, "path", r.URL.Path)
		return true
	}
	if !m.validateOnOptions && r.Method == http.MethodOptions {
		m.logger.Debug("skipping JWT validation for OPTIONS request")
		return true
	}
	return false
}

// authorise extracts and checks the token of r. A nil claims value with a nil
// error means credentials were optional and absent.
func (m *Middleware) authorise(r *http.Request) (any, error) {
	token, err := m.tokenExtractor(r)
	if err != nil {
		m.logger.Debug("failed to extract token from request", "error", err, "method", r.Method, "path", r.URL.Path)
		return nil, err
	}

	claims, err := m.core.CheckToken(r.Context(), token)
	if err != nil {
		m.logger.Debug("JWT validation failed", "error", err, "method", r.Method, "path", r.URL.Path)
		return nil, err
	}
	return claims, nil
}

// CheckJWT wraps next so it only runs for authorised requests. Verified
// claims are stored in the request context.
func (m *Middleware) CheckJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.authorise(r)
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}
		if claims == nil {
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(core.SetClaims(r.Context(), claims)))
	})
}
