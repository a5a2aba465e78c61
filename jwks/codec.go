package jwks

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	pemLabelCertificate = "CERTIFICATE"
	pemLabelPublicKey   = "PUBLIC KEY"
)

// PemToX5c strips the PEM armour and all whitespace, leaving the base64 DER
// body used in a JWK "x5c" entry. Input that is already in x5c form is
// returned with whitespace removed, so the function is idempotent.
func PemToX5c(pemText string) string {
	var b strings.Builder
	for _, line := range strings.Split(pemText, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "-----") {
			continue
		}
		for _, r := range line {
			if !unicode.IsSpace(r) {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// X5cToPem wraps an x5c value in PEM armour. DER that parses as a certificate
// is labelled CERTIFICATE, anything else PUBLIC KEY. Input that is already PEM
// is re-encoded in canonical form rather than wrapped twice.
func X5cToPem(x5c string) (string, error) {
	if strings.Contains(x5c, "-----BEGIN") {
		block, _ := pem.Decode([]byte(strings.TrimSpace(x5c)))
		if block == nil {
			return "", errors.New("invalid PEM input")
		}
		return string(pem.EncodeToMemory(block)), nil
	}

	der, err := base64.StdEncoding.DecodeString(PemToX5c(x5c))
	if err != nil {
		return "", fmt.Errorf("invalid x5c value: %w", err)
	}
	if len(der) == 0 {
		return "", errors.New("empty x5c value")
	}

	label := pemLabelPublicKey
	if _, err := x509.ParseCertificate(der); err == nil {
		label = pemLabelCertificate
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: label, Bytes: der})), nil
}

// ParsePublicKey parses a PEM public key, certificate, or bare x5c value
// into an RSA or EC public key.
func ParsePublicKey(keyMaterial string) (crypto.PublicKey, error) {
	pemText, err := X5cToPem(keyMaterial)
	if err != nil {
		return nil, err
	}

	if rsaKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemText)); err == nil {
		return rsaKey, nil
	}
	ecKey, err := jwt.ParseECPublicKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, fmt.Errorf("unsupported public key material: %w", err)
	}
	return ecKey, nil
}

// KidFor derives the key identifier for a public key: the RFC 7638 SHA-256
// thumbprint, base64url without padding. The thumbprint depends only on the
// key itself, so PEM, certificate and x5c encodings of one key agree.
func KidFor(keyMaterial string) (string, error) {
	pub, err := ParsePublicKey(keyMaterial)
	if err != nil {
		return "", fmt.Errorf("could not derive kid: %w", err)
	}

	key, err := jwk.FromRaw(pub)
	if err != nil {
		return "", fmt.Errorf("could not derive kid: %w", err)
	}

	thumbprint, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("could not derive kid: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

// IsExpired reports whether a key created at createdAt (unix seconds) has
// outlived maxAge seconds. Exactly maxAge old is not expired.
func IsExpired(createdAt, maxAge int64) bool {
	return IsExpiredAt(createdAt, maxAge, time.Now())
}

// IsExpiredAt is IsExpired against an explicit clock reading.
func IsExpiredAt(createdAt, maxAge int64, now time.Time) bool {
	return createdAt+maxAge < now.Unix()
}
