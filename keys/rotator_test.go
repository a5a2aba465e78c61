package keys

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finplat/jwt-trust/core"
	"github.com/finplat/jwt-trust/internal/testissuer"
	"github.com/finplat/jwt-trust/jwks"
	"github.com/finplat/jwt-trust/validator"
)

const prefix = "/svc/"

func seedPrimary(t *testing.T, store KeyValueStore, key *testissuer.Key, createdAt int64) KeyPairSlot {
	t.Helper()
	slot := KeyPairSlot{Public: key.PublicPEM, Private: key.PrivatePEM, CreatedAt: createdAt}
	require.NoError(t, writeSlot(context.Background(), store, prefix, SlotPrimary, slot))
	return slot
}

func newTestRotator(t *testing.T, store KeyValueStore, now *time.Time, opts ...Option) *Rotator {
	t.Helper()
	opts = append([]Option{WithPrefix(prefix), WithClock(func() time.Time { return *now })}, opts...)
	r, err := NewRotator(store, opts...)
	require.NoError(t, err)
	return r
}

func TestRotator_Rotate(t *testing.T) {
	t.Run("It demotes the previous primary to secondary unchanged", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Unix(1_000, 0)
		a := seedPrimary(t, store, testissuer.NewKey("a"), 500)

		rec, err := newTestRotator(t, store, &now).Rotate(context.Background())
		require.NoError(t, err)

		assert.Equal(t, a, rec.Secondary)
		assert.NotEqual(t, a.Public, rec.Primary.Public)
		assert.Equal(t, int64(1_000), rec.Primary.CreatedAt)

		persisted, err := loadRecord(context.Background(), store, prefix, core.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, rec, persisted)
	})

	t.Run("It keeps tokens signed before a rotation verifiable until the next one", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Unix(1_000, 0)
		keyA := testissuer.NewKey("a")
		seedPrimary(t, store, keyA, 500)
		rotator := newTestRotator(t, store, &now)

		kidA, err := jwks.KidFor(keyA.PublicPEM)
		require.NoError(t, err)
		tokenA := testissuer.SignWith(&testissuer.Key{Kid: kidA, Private: keyA.Private}, tokenClaims(now))

		_, err = rotator.Rotate(context.Background())
		require.NoError(t, err)
		assert.NoError(t, verify(t, store, now, tokenA), "A verifies as secondary after one rotation")

		signer, err := NewSigner(store, WithPrefix(prefix), WithClock(func() time.Time { return now }))
		require.NoError(t, err)
		tokenB, err := signer.Sign(context.Background(), jwt.MapClaims{"iss": "self"})
		require.NoError(t, err)

		now = now.Add(time.Second)
		rec, err := rotator.Rotate(context.Background())
		require.NoError(t, err)

		assert.NoError(t, verify(t, store, now, tokenB), "B, signed seconds before, verifies as secondary")
		assert.Error(t, verify(t, store, now, tokenA), "A is retired by the second rotation")

		fresh, err := NewSigner(store, WithPrefix(prefix), WithClock(func() time.Time { return now }))
		require.NoError(t, err)
		tokenC, err := fresh.Sign(context.Background(), jwt.MapClaims{"iss": "self"})
		require.NoError(t, err)

		parsed, _, err := jwt.NewParser().ParseUnverified(tokenC, jwt.MapClaims{})
		require.NoError(t, err)
		primaryKid, err := jwks.KidFor(rec.Primary.Public)
		require.NoError(t, err)
		assert.Equal(t, primaryKid, parsed.Header["kid"], "new tokens carry the new primary's kid")
	})

	t.Run("It fails without writing when the primary is incomplete", func(t *testing.T) {
		for name, seed := range map[string]KeyPairSlot{
			"empty store":     {},
			"missing private": {Public: "pub", CreatedAt: 1},
			"missing public":  {Private: "priv", CreatedAt: 1},
		} {
			store := newRecordingStore()
			if seed != (KeyPairSlot{}) {
				require.NoError(t, writeSlot(context.Background(), store.MemoryStore, prefix, SlotPrimary, seed))
			}
			now := time.Unix(1_000, 0)

			_, err := newTestRotator(t, store, &now).Rotate(context.Background())
			assert.ErrorIs(t, err, ErrInvalidPrimaryKeyPair, name)
			assert.Empty(t, store.Writes(), name)
		}
	})

	t.Run("It demotes a primary without a creation time unchanged", func(t *testing.T) {
		for name, createdAt := range map[string]string{
			"zero":        "0",
			"missing":     "",
			"unparseable": "yesterday",
		} {
			store := NewMemoryStore()
			now := time.Unix(1_000, 0)
			a := seedPrimary(t, store, testissuer.NewKey("a"), 0)
			if createdAt == "" {
				store.mu.Lock()
				delete(store.values, SlotName(prefix, SlotPrimary, fieldCreatedAt))
				store.mu.Unlock()
			} else {
				require.NoError(t, store.Put(context.Background(), SlotName(prefix, SlotPrimary, fieldCreatedAt), createdAt))
			}

			rec, err := newTestRotator(t, store, &now).Rotate(context.Background())
			require.NoError(t, err, name)

			assert.Equal(t, a, rec.Secondary, name)
			assert.NotEqual(t, a.Public, rec.Primary.Public, name)
		}
	})

	t.Run("It mirrors the new primary into secondary when the previous public key is unreadable", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Unix(1_000, 0)
		require.NoError(t, writeSlot(context.Background(), store, prefix, SlotPrimary,
			KeyPairSlot{Public: "not a key", Private: "not a key either", CreatedAt: 500}))

		var logs bytes.Buffer
		logger := logrus.New()
		logger.SetOutput(&logs)
		logger.SetFormatter(&logrus.JSONFormatter{})

		rec, err := newTestRotator(t, store, &now, WithLogger(core.NewLogrusLogger(logger))).Rotate(context.Background())
		require.NoError(t, err)

		assert.Equal(t, rec.Primary, rec.Secondary)
		assert.Contains(t, logs.String(), "mirroring new primary into secondary")
	})

	t.Run("It writes nothing while another rotation holds the lock", func(t *testing.T) {
		store := newRecordingStore()
		now := time.Unix(1_000, 0)
		a := seedPrimary(t, store.MemoryStore, testissuer.NewKey("a"), 500)

		lock := &MemoryLock{}
		unlock, err := lock.TryLock(context.Background())
		require.NoError(t, err)

		registry := prometheus.NewRegistry()
		rotator := newTestRotator(t, store, &now, WithLocker(lock), WithMetrics(core.NewPrometheusMetrics(registry)))

		_, err = rotator.Rotate(context.Background())
		assert.ErrorIs(t, err, ErrRotationLocked)
		assert.Empty(t, store.Writes())

		require.NoError(t, unlock(context.Background()))
		rec, err := rotator.Rotate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, a, rec.Secondary)

		_, err = lock.TryLock(context.Background())
		assert.NoError(t, err, "Rotate releases the lock")

		metrics, err := registry.Gather()
		require.NoError(t, err)
		results := map[string]bool{}
		for _, family := range metrics {
			if family.GetName() != core.MetricKeyRotationTotal {
				continue
			}
			for _, m := range family.GetMetric() {
				for _, label := range m.GetLabel() {
					results[label.GetValue()] = true
				}
			}
		}
		assert.Equal(t, map[string]bool{"locked": true, "ok": true}, results)
	})

	t.Run("It writes secondary before primary", func(t *testing.T) {
		store := newRecordingStore()
		now := time.Unix(1_000, 0)
		seedPrimary(t, store.MemoryStore, testissuer.NewKey("a"), 500)

		_, err := newTestRotator(t, store, &now).Rotate(context.Background())
		require.NoError(t, err)

		assert.Equal(t, []string{
			"/svc/secondary.public",
			"/svc/secondary.private",
			"/svc/secondary.createdAt",
			"/svc/primary.public",
			"/svc/primary.private",
			"/svc/primary.createdAt",
		}, store.Writes())
	})

	t.Run("It leaves the primary untouched when the secondary write fails", func(t *testing.T) {
		store := newRecordingStore()
		now := time.Unix(1_000, 0)
		a := seedPrimary(t, store.MemoryStore, testissuer.NewKey("a"), 500)
		store.failOn = "/svc/secondary.private"

		_, err := newTestRotator(t, store, &now).Rotate(context.Background())
		require.Error(t, err)

		rec, err := loadRecord(context.Background(), store.MemoryStore, prefix, core.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, a, rec.Primary)
	})

	t.Run("It surfaces key generation failures", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Unix(1_000, 0)
		seedPrimary(t, store, testissuer.NewKey("a"), 500)

		rotator := newTestRotator(t, store, &now)
		rotator.generate = func(int) (*rsa.PrivateKey, error) { return nil, errors.New("entropy exhausted") }

		_, err := rotator.Rotate(context.Background())
		assert.ErrorContains(t, err, "entropy exhausted")
	})

	t.Run("It records rotation metrics", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Unix(1_000, 0)
		seedPrimary(t, store, testissuer.NewKey("a"), 500)

		registry := prometheus.NewRegistry()
		rotator := newTestRotator(t, store, &now, WithMetrics(core.NewPrometheusMetrics(registry)))

		_, err := rotator.Rotate(context.Background())
		require.NoError(t, err)

		assertMetricCount(t, registry, core.MetricKeyRotationTotal, 1)
		assertMetricCount(t, registry, core.MetricKeyRotationLastUnixTime, 1)
	})
}

func TestRotator_Bootstrap(t *testing.T) {
	t.Run("It writes a first primary once", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Unix(1_000, 0)
		rotator := newTestRotator(t, store, &now)

		created, err := rotator.Bootstrap(context.Background())
		require.NoError(t, err)
		assert.True(t, created)

		rec, err := rotator.Current(context.Background())
		require.NoError(t, err)
		assert.True(t, rec.Primary.Complete())
		assert.Equal(t, rec.Primary, rec.Secondary)

		created, err = rotator.Bootstrap(context.Background())
		require.NoError(t, err)
		assert.False(t, created)

		again, err := rotator.Current(context.Background())
		require.NoError(t, err)
		assert.Equal(t, rec, again)
	})

	t.Run("It refuses a store holding part of a primary and leaves it untouched", func(t *testing.T) {
		for name, names := range map[string][]string{
			"public only":    {fieldPublic},
			"private only":   {fieldPrivate},
			"createdAt only": {fieldCreatedAt},
			"no primary":     nil,
		} {
			store := newRecordingStore()
			now := time.Unix(1_000, 0)
			kb := testissuer.NewKey("b")
			b := KeyPairSlot{Public: kb.PublicPEM, Private: kb.PrivatePEM, CreatedAt: 500}
			require.NoError(t, writeSlot(context.Background(), store.MemoryStore, prefix, SlotSecondary, b))
			a := testissuer.NewKey("a")
			for _, field := range names {
				value := map[string]string{fieldPublic: a.PublicPEM, fieldPrivate: a.PrivatePEM, fieldCreatedAt: "500"}[field]
				require.NoError(t, store.MemoryStore.Put(context.Background(), SlotName(prefix, SlotPrimary, field), value))
			}
			rotator := newTestRotator(t, store, &now)

			created, err := rotator.Bootstrap(context.Background())
			assert.ErrorIs(t, err, ErrInvalidPrimaryKeyPair, name)
			assert.False(t, created, name)

			_, err = rotator.Rotate(context.Background())
			assert.ErrorIs(t, err, ErrInvalidPrimaryKeyPair, name)

			assert.Empty(t, store.Writes(), name)
			rec, err := rotator.Current(context.Background())
			require.NoError(t, err)
			assert.Equal(t, b, rec.Secondary, name)
		}
	})

	t.Run("It writes nothing while another rotation holds the lock", func(t *testing.T) {
		store := newRecordingStore()
		now := time.Unix(1_000, 0)
		lock := &MemoryLock{}
		_, err := lock.TryLock(context.Background())
		require.NoError(t, err)

		created, err := newTestRotator(t, store, &now, WithLocker(lock)).Bootstrap(context.Background())
		assert.ErrorIs(t, err, ErrRotationLocked)
		assert.False(t, created)
		assert.Empty(t, store.Writes())
	})
}

func TestNewRotator(t *testing.T) {
	_, err := NewRotator(nil)
	assert.Error(t, err)

	for name, opt := range map[string]Option{
		"small key":       WithKeyBits(1024),
		"empty prefix":    WithPrefix(""),
		"zero max age":    WithMaxAge(0),
		"zero token ttl":  WithTokenTTL(0),
		"empty issuer":    WithIssuer(""),
		"zero record ttl": WithRecordTTL(0),
		"nil clock":       WithClock(nil),
		"nil logger":      WithLogger(nil),
		"nil metrics":     WithMetrics(nil),
		"nil locker":      WithLocker(nil),
	} {
		_, err := NewRotator(NewMemoryStore(), opt)
		assert.Error(t, err, name)
	}
}

func tokenClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{"iss": "self", "exp": now.Add(time.Hour).Unix()}
}

// verify checks token against the slots currently in store.
func verify(t *testing.T, store KeyValueStore, now time.Time, token string) error {
	t.Helper()
	resolver, err := NewLocalResolver(store,
		WithPrefix(prefix),
		WithIssuer("self"),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	auth, err := validator.New(resolver, validator.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, err = auth.CheckToken(context.Background(), token)
	return err
}

func assertMetricCount(t *testing.T, g prometheus.Gatherer, name string, want int) {
	t.Helper()
	got, err := testutil.GatherAndCount(g, name)
	require.NoError(t, err)
	assert.Equal(t, want, got, name)
}
