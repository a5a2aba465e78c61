package keys

import (
	"context"
	"errors"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/finplat/jwt-trust/jwks"
)

// Signer issues RS256 tokens with the current primary key.
type Signer struct {
	settings settings
	record   *jwks.Cache[RotationRecord]
}

// NewSigner builds a Signer reading its key from store.
func NewSigner(store KeyValueStore, opts ...Option) (*Signer, error) {
	if store == nil {
		return nil, errors.New("key value store is required but was nil")
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Signer{settings: s, record: newRecordCache(store, s)}, nil
}

// Sign signs claims with the primary key. The header kid is derived from the
// primary public key. iat, exp and jti are set, and iss when an issuer is
// configured; values already present in claims are kept.
func (s *Signer) Sign(ctx context.Context, claims jwt.MapClaims) (string, error) {
	rec, err := s.record.GetData(ctx, false)
	if err != nil {
		return "", fmt.Errorf("load key slots: %w", err)
	}
	if !rec.Primary.Complete() {
		return "", ErrInvalidPrimaryKeyPair
	}

	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(rec.Primary.Private))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPrimaryKeyPair, err)
	}
	kid, err := jwks.KidFor(rec.Primary.Public)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPrimaryKeyPair, err)
	}

	now := s.settings.now()
	out := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(s.settings.tokenTTL).Unix(),
		"jti": uuid.NewString(),
	}
	if s.settings.issuer != "" {
		out["iss"] = s.settings.issuer
	}
	for k, v := range claims {
		out[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, out)
	token.Header["kid"] = kid
	return token.SignedString(priv)
}
