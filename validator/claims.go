package validator

import (
	"context"
	"strings"
)

// Claims removed from a verified token before it is handed to callers.
var strippedClaims = []string{"sub", "exp", "iat"}

// KeyResolver returns the PEM-encoded public keys an issuer publishes under
// a kid. Implementations decide where keys come from: an issuer registry,
// OIDC discovery, or locally held signing slots.
type KeyResolver interface {
	ResolveKeys(ctx context.Context, kid, issuer string) ([]string, error)
}

// Claims is the verified claim set of a token, minus sub, exp and iat, plus
// the kid the token was signed under.
type Claims map[string]any

// Result is the outcome of a successful authorisation.
type Result struct {
	Authorised bool
	Claims     Claims
}

// Issuer returns the iss claim.
func (c Claims) Issuer() string { return c.str("iss") }

// AuthorizedParty returns the azp claim.
func (c Claims) AuthorizedParty() string { return c.str("azp") }

// KeyID returns the kid of the key that verified the token.
func (c Claims) KeyID() string { return c.str("kid") }

// Audience returns the aud claim, which may be a single string or a list.
func (c Claims) Audience() []string { return stringList(c["aud"]) }

// Scopes returns the token's scopes, read from a space-delimited scope claim
// or a scp list.
func (c Claims) Scopes() []string {
	if s, ok := c["scope"].(string); ok {
		return strings.Fields(s)
	}
	return stringList(c["scp"])
}

func (c Claims) str(name string) string {
	s, _ := c[name].(string)
	return s
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
