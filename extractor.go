package jwttrust

import (
	"errors"
	"net/http"

	"github.com/finplat/jwt-trust/validator"
)

// TokenExtractor finds the bearer token of a request. No token at all is
// ("", nil) and is answered as a missing token; an error means the request
// carried something that is not a usable token.
type TokenExtractor func(r *http.Request) (string, error)

// ParseAuthorizationHeader returns the token of a "<scheme> <token>" value.
// The scheme must be Bearer, in any case; anything else is an
// invalid_auth_token *core.AuthError.
func ParseAuthorizationHeader(header string) (string, error) {
	return validator.ParseBearer(header)
}

// AuthHeaderTokenExtractor reads the Authorization header. It is the default.
func AuthHeaderTokenExtractor(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", nil
	}
	return ParseAuthorizationHeader(authHeader)
}

// CookieTokenExtractor reads the raw token from cookieName, for browser
// callers that cannot set headers.
func CookieTokenExtractor(cookieName string) TokenExtractor {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(cookieName)
		if errors.Is(err, http.ErrNoCookie) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return cookie.Value, nil
	}
}

// ParameterTokenExtractor reads the raw token from the query parameter param.
func ParameterTokenExtractor(param string) TokenExtractor {
	return func(r *http.Request) (string, error) {
		return r.URL.Query().Get(param), nil
	}
}

// MultiTokenExtractor tries extractors in order and returns the first token
// found. The first error stops the search.
func MultiTokenExtractor(extractors ...TokenExtractor) TokenExtractor {
	return func(r *http.Request) (string, error) {
		for _, ex := range extractors {
			token, err := ex(r)
			if err != nil {
				return "", err
			}

			if token != "" {
				return token, nil
			}
		}
		return "", nil
	}
}
