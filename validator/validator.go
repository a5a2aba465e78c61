package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"go.opentelemetry.io/otel/attribute"

	"github.com/finplat/jwt-trust/core"
	"github.com/finplat/jwt-trust/jwks"
)

// Signature algorithms a token may declare. Symmetric algorithms and "none"
// are never accepted since trust is anchored in published public keys.
const (
	RS256 = "RS256" // RSASSA-PKCS-v1.5 using SHA-256
	RS384 = "RS384" // RSASSA-PKCS-v1.5 using SHA-384
	RS512 = "RS512" // RSASSA-PKCS-v1.5 using SHA-512
	PS256 = "PS256" // RSASSA-PSS using SHA256 and MGF1-SHA256
	PS384 = "PS384" // RSASSA-PSS using SHA384 and MGF1-SHA384
	PS512 = "PS512" // RSASSA-PSS using SHA512 and MGF1-SHA512
	ES256 = "ES256" // ECDSA using P-256 and SHA-256
	ES384 = "ES384" // ECDSA using P-384 and SHA-384
	ES512 = "ES512" // ECDSA using P-521 and SHA-512
)

var asymmetricAlgorithms = map[string]jwa.SignatureAlgorithm{
	RS256: jwa.RS256,
	RS384: jwa.RS384,
	RS512: jwa.RS512,
	PS256: jwa.PS256,
	PS384: jwa.PS384,
	PS512: jwa.PS512,
	ES256: jwa.ES256,
	ES384: jwa.ES384,
	ES512: jwa.ES512,
}

// TokenAuthenticator checks bearer tokens against a set of trusted issuers.
// Claims are checked before any key is looked up, so an untrusted or expired
// token never causes a network call.
type TokenAuthenticator struct {
	resolver       KeyResolver
	trustedIssuers map[string]struct{}
	audiences      map[string]struct{}
	clients        map[string]struct{}
	scopes         map[string]struct{}
	algorithms     map[string]struct{}
	clockSkew      time.Duration
	now            func() time.Time
	logger         core.Logger
	metrics        core.Metrics
	parser         *jwt.Parser
}

// New builds a TokenAuthenticator that resolves signing keys through resolver.
//
// Example:
//
//	store, _ := jwks.NewEndpointsStore(endpoints)
//	auth, err := validator.New(store,
//	    validator.WithAudiences("svc"),
//	    validator.WithClients("client1"),
//	)
func New(resolver KeyResolver, opts ...Option) (*TokenAuthenticator, error) {
	if resolver == nil {
		return nil, errors.New("key resolver is required but was nil")
	}

	a := &TokenAuthenticator{
		resolver: resolver,
		now:      time.Now,
		logger:   core.NopLogger{},
		metrics:  core.NoopMetrics{},
		parser:   jwt.NewParser(),
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	if a.trustedIssuers == nil {
		if lister, ok := resolver.(interface{ Issuers() []string }); ok {
			set, err := toSet("issuer", lister.Issuers())
			if err != nil {
				return nil, err
			}
			a.trustedIssuers = set
		}
	}
	if len(a.trustedIssuers) == 0 {
		return nil, errors.New("at least one trusted issuer is required (use WithTrustedIssuers)")
	}

	if a.algorithms == nil {
		a.algorithms = make(map[string]struct{}, len(asymmetricAlgorithms))
		for alg := range asymmetricAlgorithms {
			a.algorithms[alg] = struct{}{}
		}
	}

	return a, nil
}

// CheckAuthorisation authorises a bearer string of the form "<scheme> <token>".
// Every failure is a *core.AuthError and matches core.ErrAuthFailed.
func (a *TokenAuthenticator) CheckAuthorisation(ctx context.Context, bearer string) (*Result, error) {
	token, err := ParseBearer(bearer)
	if err != nil {
		a.record(core.ErrorCodeInvalidAuthToken)
		return nil, err
	}
	return a.CheckToken(ctx, token)
}

// CheckToken authorises a bare compact JWS.
func (a *TokenAuthenticator) CheckToken(ctx context.Context, token string) (*Result, error) {
	ctx, span := core.StartSpan(ctx, "validator.CheckToken")

	result, err := a.check(ctx, token)

	code := "ok"
	if err != nil {
		code = core.ErrorCode(err)
		span.SetAttributes(attribute.String("auth.error_code", code))
	} else {
		span.SetAttributes(
			attribute.String("auth.issuer", result.Claims.Issuer()),
			attribute.String("auth.kid", result.Claims.KeyID()),
		)
	}
	a.record(code)
	core.EndSpan(span, err)

	return result, err
}

// ValidateToken is CheckToken returning only the Claims. It lets a
// TokenAuthenticator serve as a core.Validator for the transport adapters.
func (a *TokenAuthenticator) ValidateToken(ctx context.Context, token string) (any, error) {
	result, err := a.CheckToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return result.Claims, nil
}

func (a *TokenAuthenticator) check(ctx context.Context, token string) (*Result, error) {
	if err := validateTokenFormat(token); err != nil {
		return nil, core.NewAuthError(core.ErrorCodeInvalidAuthToken, "token is malformed", err)
	}

	claims := jwt.MapClaims{}
	parsed, _, err := a.parser.ParseUnverified(token, claims)
	if err != nil {
		return nil, core.NewAuthError(core.ErrorCodeInvalidAuthToken, "could not decode the token", err)
	}

	alg, _ := parsed.Header["alg"].(string)
	if alg == "" {
		return nil, core.NewAuthError(core.ErrorCodeInvalidAuthToken, "token header declares no signing algorithm", nil)
	}
	if _, ok := a.algorithms[alg]; !ok {
		return nil, core.NewAuthError(core.ErrorCodeInvalidAuthToken, "token signing algorithm not allowed",
			fmt.Errorf("algorithm %q", alg))
	}
	kid, _ := parsed.Header["kid"].(string)
	if kid == "" {
		return nil, core.NewAuthError(core.ErrorCodeInvalidAuthToken, "token header declares no kid", nil)
	}

	if err := a.validateClaims(claims); err != nil {
		a.logger.Debug("token claims rejected", "code", core.ErrorCode(err), "error", err)
		return nil, err
	}

	issuer, _ := claims.GetIssuer()
	pems, err := a.resolver.ResolveKeys(ctx, kid, issuer)
	if err != nil {
		if errors.Is(err, jwks.ErrKeyNotFound) {
			a.logger.Warn("no published key matches token kid", "issuer", issuer, "kid", kid)
			return nil, core.NewAuthError(core.ErrorCodeAuthFailed, "no key found for token kid", err)
		}
		a.logger.Error("key resolution failed", "issuer", issuer, "kid", kid, "error", err)
		return nil, core.NewAuthError(core.ErrorCodeKeyResolutionFailed, "could not resolve signing keys", err)
	}

	if err := verifySignature(token, asymmetricAlgorithms[alg], pems); err != nil {
		a.logger.Warn("token signature verification failed", "issuer", issuer, "kid", kid, "candidates", len(pems))
		return nil, core.NewAuthError(core.ErrorCodeAuthFailed, "token signature is invalid", err)
	}

	out := make(Claims, len(claims)+1)
	for name, value := range claims {
		out[name] = value
	}
	for _, name := range strippedClaims {
		delete(out, name)
	}
	out["kid"] = kid

	return &Result{Authorised: true, Claims: out}, nil
}

func (a *TokenAuthenticator) validateClaims(claims jwt.MapClaims) error {
	now := a.now()

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return core.NewAuthError(core.ErrorCodeInvalidAuthToken, "exp claim is malformed", err)
	}
	if exp == nil || now.After(exp.Add(a.clockSkew)) {
		return core.NewAuthError(core.ErrorCodeAuthTokenExpired, "token is expired", nil)
	}

	nbf, err := claims.GetNotBefore()
	if err != nil {
		return core.NewAuthError(core.ErrorCodeInvalidAuthToken, "nbf claim is malformed", err)
	}
	if nbf != nil && now.Add(a.clockSkew).Before(nbf.Time) {
		return core.NewAuthError(core.ErrorCodeInvalidAuthToken, "token is not valid yet", nil)
	}

	issuer, _ := claims.GetIssuer()
	if _, ok := a.trustedIssuers[issuer]; !ok {
		return core.NewAuthError(core.ErrorCodeAuthTokenIssuerInvalid, "token issuer is not trusted",
			fmt.Errorf("issuer %q", issuer))
	}

	if len(a.audiences) > 0 {
		aud, _ := claims.GetAudience()
		if !anyIn(aud, a.audiences) {
			return core.NewAuthError(core.ErrorCodeAudienceInvalid, "token audience is not accepted", nil)
		}
	}

	if len(a.clients) > 0 {
		azp, _ := claims["azp"].(string)
		if _, ok := a.clients[azp]; !ok {
			return core.NewAuthError(core.ErrorCodeClientInvalid, "token client is not accepted",
				fmt.Errorf("azp %q", azp))
		}
	}

	if len(a.scopes) > 0 {
		if !anyIn(Claims(claims).Scopes(), a.scopes) {
			return core.NewAuthError(core.ErrorCodeScopeInvalid, "token carries none of the required scopes", nil)
		}
	}

	return nil
}

func (a *TokenAuthenticator) record(code string) {
	a.metrics.IncCounter(core.MetricAuthTotal, map[string]string{"result": code})
}

// verifySignature tries each candidate key in turn and succeeds on the first
// one that verifies.
func verifySignature(token string, alg jwa.SignatureAlgorithm, pems []string) error {
	if len(pems) == 0 {
		return errors.New("no candidate keys")
	}

	var errs []error
	for _, p := range pems {
		pub, err := jwks.ParsePublicKey(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := jws.Verify([]byte(token), jws.WithKey(alg, pub)); err != nil {
			errs = append(errs, err)
			continue
		}
		return nil
	}
	return errors.Join(errs...)
}

// ParseBearer splits "<scheme> <token>" and returns the token. The scheme
// must be Bearer, in any case.
func ParseBearer(bearer string) (string, error) {
	parts := strings.Fields(bearer)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", core.NewAuthError(core.ErrorCodeInvalidAuthToken,
			"authorization value format must be Bearer {token}", nil)
	}
	return parts[1], nil
}

func anyIn(values []string, set map[string]struct{}) bool {
	for _, v := range values {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
