package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/finplat/jwt-trust/core"
	"github.com/finplat/jwt-trust/jwks"
)

// ErrInvalidPrimaryKeyPair is returned when the persisted primary slot is
// missing either half of its key pair. Nothing is written.
var ErrInvalidPrimaryKeyPair = errors.New("invalid primary key pair")

// Rotator replaces the primary signing key and keeps the previous one as
// secondary so that tokens signed just before a rotation stay verifiable.
// Rotations must not run concurrently. Within a process Scheduler serializes
// them; processes sharing a store need WithLocker.
type Rotator struct {
	store    KeyValueStore
	settings settings
	generate func(bits int) (*rsa.PrivateKey, error)
}

// NewRotator builds a Rotator writing to store.
func NewRotator(store KeyValueStore, opts ...Option) (*Rotator, error) {
	if store == nil {
		return nil, errors.New("key value store is required but was nil")
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Rotator{
		store:    store,
		settings: s,
		generate: func(bits int) (*rsa.PrivateKey, error) { return rsa.GenerateKey(rand.Reader, bits) },
	}, nil
}

// Current returns the persisted slots.
func (r *Rotator) Current(ctx context.Context) (RotationRecord, error) {
	return loadRecord(ctx, r.store, r.settings.prefix, r.settings.logger)
}

// Rotate generates a new primary key pair and demotes the current primary to
// secondary exactly as persisted. Secondary is written before primary, so an
// interrupted rotation leaves the old primary published as secondary rather
// than losing it.
//
// Only when the current primary's public key cannot be read is there no
// previous key worth keeping; the new primary is then written to both slots.
func (r *Rotator) Rotate(ctx context.Context) (rec RotationRecord, err error) {
	ctx, span := core.StartSpan(ctx, "keys.Rotate", attribute.String("keys.prefix", r.settings.prefix))
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, ErrRotationLocked):
			result = "locked"
			r.settings.logger.Info("key rotation skipped, lock held elsewhere", "prefix", r.settings.prefix)
		case err != nil:
			result = "error"
			r.settings.logger.Error("key rotation failed", "prefix", r.settings.prefix, "error", err)
		}
		r.settings.metrics.IncCounter(core.MetricKeyRotationTotal, map[string]string{"result": result})
		core.EndSpan(span, err)
	}()

	unlock, err := r.lock(ctx)
	if err != nil {
		return RotationRecord{}, err
	}
	defer unlock()

	current, err := r.Current(ctx)
	if err != nil {
		return RotationRecord{}, fmt.Errorf("load key slots: %w", err)
	}
	if !current.Primary.Complete() {
		return RotationRecord{}, ErrInvalidPrimaryKeyPair
	}

	primary, err := r.newSlot()
	if err != nil {
		return RotationRecord{}, err
	}

	secondary := current.Primary
	if _, perr := jwks.ParsePublicKey(secondary.Public); perr != nil {
		r.settings.logger.Warn("previous primary is unreadable, mirroring new primary into secondary",
			"prefix", r.settings.prefix, "error", perr)
		secondary = primary
	}

	if err := writeSlot(ctx, r.store, r.settings.prefix, SlotSecondary, secondary); err != nil {
		return RotationRecord{}, err
	}
	if err := writeSlot(ctx, r.store, r.settings.prefix, SlotPrimary, primary); err != nil {
		return RotationRecord{}, err
	}

	r.settings.metrics.SetGauge(core.MetricKeyRotationLastUnixTime, float64(primary.CreatedAt), nil)
	r.settings.logger.Info("signing key rotated", "prefix", r.settings.prefix, "created_at", primary.CreatedAt)

	return RotationRecord{Primary: primary, Secondary: secondary}, nil
}

// Bootstrap writes a first primary key pair, and the same pair as secondary,
// into a store holding none of the six slot values. It reports whether it
// wrote anything. A store that holds some values but no complete primary is
// left alone and ErrInvalidPrimaryKeyPair is returned.
func (r *Rotator) Bootstrap(ctx context.Context) (bool, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	empty, err := storeEmpty(ctx, r.store, r.settings.prefix)
	if err != nil {
		return false, fmt.Errorf("load key slots: %w", err)
	}
	if !empty {
		current, err := r.Current(ctx)
		if err != nil {
			return false, fmt.Errorf("load key slots: %w", err)
		}
		if !current.Primary.Complete() {
			return false, ErrInvalidPrimaryKeyPair
		}
		return false, nil
	}

	primary, err := r.newSlot()
	if err != nil {
		return false, err
	}
	if err := writeSlot(ctx, r.store, r.settings.prefix, SlotSecondary, primary); err != nil {
		return false, err
	}
	if err := writeSlot(ctx, r.store, r.settings.prefix, SlotPrimary, primary); err != nil {
		return false, err
	}

	r.settings.logger.Info("signing key bootstrapped", "prefix", r.settings.prefix)
	return true, nil
}

// lock takes the configured Locker, if any. The returned func releases it.
func (r *Rotator) lock(ctx context.Context) (func(), error) {
	if r.settings.locker == nil {
		return func() {}, nil
	}
	unlock, err := r.settings.locker.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	return func() {
		// The rotation's ctx may already be done; release on a fresh one.
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			r.settings.logger.Warn("could not release rotation lock", "prefix", r.settings.prefix, "error", err)
		}
	}, nil
}

func (r *Rotator) newSlot() (KeyPairSlot, error) {
	priv, err := r.generate(r.settings.bits)
	if err != nil {
		return KeyPairSlot{}, fmt.Errorf("generate RSA key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return KeyPairSlot{}, fmt.Errorf("marshal public key: %w", err)
	}

	return KeyPairSlot{
		Public:    string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		Private:   string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})),
		CreatedAt: r.settings.now().Unix(),
	}, nil
}
