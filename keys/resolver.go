package keys

import (
	"context"
	"errors"
	"fmt"

	"github.com/finplat/jwt-trust/jwks"
)

// LocalResolver resolves kids against this service's own signing slots, so
// tokens issued by Signer can be verified by a validator.TokenAuthenticator.
// Slots are re-read at most once per record TTL, or on a kid miss.
type LocalResolver struct {
	settings settings
	record   *jwks.Cache[RotationRecord]
}

// NewLocalResolver builds a LocalResolver reading from store.
func NewLocalResolver(store KeyValueStore, opts ...Option) (*LocalResolver, error) {
	if store == nil {
		return nil, errors.New("key value store is required but was nil")
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &LocalResolver{settings: s, record: newRecordCache(store, s)}, nil
}

// Issuers lists the configured issuer, if any.
func (l *LocalResolver) Issuers() []string {
	if l.settings.issuer == "" {
		return nil
	}
	return []string{l.settings.issuer}
}

// ResolveKeys returns the public key of the published slot whose kid matches.
func (l *LocalResolver) ResolveKeys(ctx context.Context, kid, _ string) ([]string, error) {
	rec, err := l.record.GetData(ctx, false)
	if err != nil {
		l.settings.logger.Error("could not read signing slots", "prefix", l.settings.prefix, "error", err)
		return nil, err
	}
	if pem, ok := matchKid(rec, kid, l.settings); ok {
		return []string{pem}, nil
	}

	rec, err = l.record.GetData(ctx, true)
	if err != nil {
		l.settings.logger.Error("could not read signing slots", "prefix", l.settings.prefix, "error", err)
		return nil, err
	}
	if pem, ok := matchKid(rec, kid, l.settings); ok {
		return []string{pem}, nil
	}

	return nil, fmt.Errorf("%w: local kid %q", jwks.ErrKeyNotFound, kid)
}

func matchKid(rec RotationRecord, kid string, s settings) (string, bool) {
	candidates := []KeyPairSlot{rec.Primary}
	candidates = append(candidates, publishedSecondary(rec, s)...)

	for _, slot := range candidates {
		if slot.Public == "" {
			continue
		}
		slotKid, err := jwks.KidFor(slot.Public)
		if err == nil && slotKid == kid {
			return slot.Public, true
		}
	}
	return "", false
}

func newRecordCache(store KeyValueStore, s settings) *jwks.Cache[RotationRecord] {
	return jwks.NewCache(s.recordTTL, func(ctx context.Context) (RotationRecord, error) {
		return loadRecord(ctx, store, s.prefix, s.logger)
	})
}
