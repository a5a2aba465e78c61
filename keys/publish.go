package keys

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/finplat/jwt-trust/jwks"
)

// JWK is one published RSA signing key.
type JWK struct {
	Kty string   `json:"kty"`
	Alg string   `json:"alg"`
	Use string   `json:"use"`
	Kid string   `json:"kid"`
	N   string   `json:"n"`
	E   string   `json:"e"`
	X5c []string `json:"x5c"`
}

// Document is the JWKS this service publishes for its own keys.
type Document struct {
	Keys []JWK `json:"keys"`
}

// Publisher renders the persisted slots as a JWKS document.
type Publisher struct {
	store    KeyValueStore
	settings settings
}

// NewPublisher builds a Publisher reading from store.
func NewPublisher(store KeyValueStore, opts ...Option) (*Publisher, error) {
	if store == nil {
		return nil, errors.New("key value store is required but was nil")
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Publisher{store: store, settings: s}, nil
}

// Document returns the primary key, and the secondary key unless it is older
// than the configured max age. A secondary that mirrors the primary is listed once.
func (p *Publisher) Document(ctx context.Context) (*Document, error) {
	rec, err := loadRecord(ctx, p.store, p.settings.prefix, p.settings.logger)
	if err != nil {
		p.settings.logger.Error("could not read signing slots", "prefix", p.settings.prefix, "error", err)
		return nil, fmt.Errorf("load key slots: %w", err)
	}
	if !rec.Primary.Complete() {
		p.settings.logger.Error("no primary signing key to publish", "prefix", p.settings.prefix)
		return nil, ErrInvalidPrimaryKeyPair
	}

	primary, err := toJWK(rec.Primary.Public)
	if err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}
	doc := &Document{Keys: []JWK{primary}}

	for _, slot := range publishedSecondary(rec, p.settings) {
		secondary, err := toJWK(slot.Public)
		if err != nil {
			p.settings.logger.Warn("skipping unreadable secondary key", "prefix", p.settings.prefix, "error", err)
			continue
		}
		if secondary.Kid != primary.Kid {
			doc.Keys = append(doc.Keys, secondary)
		}
	}

	return doc, nil
}

// publishedSecondary returns the secondary slot when it is still within max age.
func publishedSecondary(rec RotationRecord, s settings) []KeyPairSlot {
	if rec.Secondary.Public == "" {
		return nil
	}
	if jwks.IsExpiredAt(rec.Secondary.CreatedAt, int64(s.maxAge.Seconds()), s.now()) {
		return nil
	}
	return []KeyPairSlot{rec.Secondary}
}

func toJWK(publicPEM string) (JWK, error) {
	pub, err := jwks.ParsePublicKey(publicPEM)
	if err != nil {
		return JWK{}, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return JWK{}, errors.New("signing key is not RSA")
	}
	kid, err := jwks.KidFor(publicPEM)
	if err != nil {
		return JWK{}, err
	}

	return JWK{
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		Kid: kid,
		N:   base64URLEncode(rsaPub.N),
		E:   base64URLEncode(big.NewInt(int64(rsaPub.E))),
		X5c: []string{jwks.PemToX5c(publicPEM)},
	}, nil
}

func base64URLEncode(i *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(i.Bytes())
}
