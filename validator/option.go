package validator

import (
	"errors"
	"fmt"
	"time"

	"github.com/finplat/jwt-trust/core"
)

// Option is how options for the TokenAuthenticator are set up.
// Options return errors to enable validation during construction.
type Option func(*TokenAuthenticator) error

// WithTrustedIssuers sets the iss values a token may carry. When the key
// resolver lists its own issuers (as jwks.EndpointsStore does) and this
// option is not given, those issuers are trusted.
func WithTrustedIssuers(issuers ...string) Option {
	return func(a *TokenAuthenticator) error {
		if len(issuers) == 0 {
			return errors.New("trusted issuers cannot be empty")
		}
		set, err := toSet("issuer", issuers)
		if err != nil {
			return err
		}
		a.trustedIssuers = set
		return nil
	}
}

// WithAudiences requires the token's aud to contain at least one of audiences.
func WithAudiences(audiences ...string) Option {
	return func(a *TokenAuthenticator) error {
		set, err := toSet("audience", audiences)
		if err != nil {
			return err
		}
		a.audiences = set
		return nil
	}
}

// WithClients requires the token's azp to be one of clients.
func WithClients(clients ...string) Option {
	return func(a *TokenAuthenticator) error {
		set, err := toSet("client", clients)
		if err != nil {
			return err
		}
		a.clients = set
		return nil
	}
}

// WithScopes requires the token to carry at least one of scopes.
func WithScopes(scopes ...string) Option {
	return func(a *TokenAuthenticator) error {
		set, err := toSet("scope", scopes)
		if err != nil {
			return err
		}
		a.scopes = set
		return nil
	}
}

// WithAllowedAlgorithms restricts the header alg values a token may declare.
// Only asymmetric algorithms are accepted; the default is RS256, RS384,
// RS512, PS256, PS384, PS512, ES256, ES384 and ES512.
func WithAllowedAlgorithms(algorithms ...string) Option {
	return func(a *TokenAuthenticator) error {
		if len(algorithms) == 0 {
			return errors.New("allowed algorithms cannot be empty")
		}
		set := make(map[string]struct{}, len(algorithms))
		for _, alg := range algorithms {
			if _, ok := asymmetricAlgorithms[alg]; !ok {
				return fmt.Errorf("unsupported signature algorithm: %s", alg)
			}
			set[alg] = struct{}{}
		}
		a.algorithms = set
		return nil
	}
}

// WithAllowedClockSkew tolerates exp being up to skew in the past.
func WithAllowedClockSkew(skew time.Duration) Option {
	return func(a *TokenAuthenticator) error {
		if skew < 0 {
			return errors.New("clock skew cannot be negative")
		}
		a.clockSkew = skew
		return nil
	}
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *TokenAuthenticator) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		a.now = now
		return nil
	}
}

// WithLogger sets the logger for the TokenAuthenticator.
func WithLogger(logger core.Logger) Option {
	return func(a *TokenAuthenticator) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		a.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics sink for the TokenAuthenticator.
func WithMetrics(metrics core.Metrics) Option {
	return func(a *TokenAuthenticator) error {
		if metrics == nil {
			return errors.New("metrics cannot be nil")
		}
		a.metrics = metrics
		return nil
	}
}

func toSet(kind string, values []string) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(values))
	for i, v := range values {
		if v == "" {
			return nil, fmt.Errorf("%s at index %d cannot be empty", kind, i)
		}
		set[v] = struct{}{}
	}
	return set, nil
}
