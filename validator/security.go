package validator

import (
	"errors"
	"strings"
)

// ErrExcessiveTokenDots is returned when a token has more segments than a
// compact JWS, before any decoding is attempted.
var ErrExcessiveTokenDots = errors.New("token contains excessive dots")

const (
	// A compact JWS is header.payload.signature.
	jwsDots = 2

	maxTokenSize = 64 * 1024
)

// validateTokenFormat rejects inputs that cannot be a compact JWS before they
// reach the decoder.
func validateTokenFormat(tokenString string) error {
	if len(tokenString) == 0 {
		return errors.New("token is empty")
	}

	if len(tokenString) > maxTokenSize {
		return errors.New("token exceeds maximum size (64KB)")
	}

	if strings.Count(tokenString, ".") > jwsDots {
		return ErrExcessiveTokenDots
	}

	return nil
}
