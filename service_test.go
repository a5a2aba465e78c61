package jwttrust

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finplat/jwt-trust/config"
	"github.com/finplat/jwt-trust/core"
	"github.com/finplat/jwt-trust/internal/testissuer"
	"github.com/finplat/jwt-trust/keys"
)

func newTestService(t *testing.T, env map[string]string) (*Service, *testissuer.Issuer) {
	t.Helper()
	idp := testissuer.New("k1")
	t.Cleanup(idp.Close)

	t.Setenv("TRUST_ISSUERS", testIssuer+"="+idp.JWKSURL())
	t.Setenv("TRUST_AUDIENCES", testAudience)
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := config.LoadFile("")
	require.NoError(t, err)

	svc, err := NewService(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	return svc, idp
}

func TestNewService(t *testing.T) {
	t.Run("It requires a config", func(t *testing.T) {
		_, err := NewService(nil)
		assert.ErrorContains(t, err, "config is required")
	})

	t.Run("It builds every component", func(t *testing.T) {
		svc, _ := newTestService(t, nil)

		assert.NotNil(t, svc.Authenticator)
		assert.NotNil(t, svc.Middleware)
		assert.NotNil(t, svc.Rotator)
		assert.NotNil(t, svc.Publisher)
		assert.NotNil(t, svc.Signer)
		assert.NotNil(t, svc.Scheduler)
		assert.IsType(t, &keys.MemoryStore{}, svc.Store)
	})

	t.Run("It leaves rotation unscheduled without a schedule", func(t *testing.T) {
		idp := testissuer.New("k1")
		t.Cleanup(idp.Close)
		t.Setenv("TRUST_ISSUERS", testIssuer+"="+idp.JWKSURL())

		cfg, err := config.LoadFile("")
		require.NoError(t, err)
		cfg.Rotation.Schedule = ""

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Nil(t, svc.Scheduler)
	})

	t.Run("It uses the given key store", func(t *testing.T) {
		idp := testissuer.New("k1")
		t.Cleanup(idp.Close)
		t.Setenv("TRUST_ISSUERS", testIssuer+"="+idp.JWKSURL())
		t.Setenv("TRUST_KEYS_STORE", "redis")

		cfg, err := config.LoadFile("")
		require.NoError(t, err)

		store := keys.NewMemoryStore()
		svc, err := NewService(cfg, WithKeyStore(store))
		require.NoError(t, err)
		assert.Same(t, store, svc.Store)
		assert.Nil(t, svc.redis)
	})

	t.Run("It rejects nil options", func(t *testing.T) {
		cfg := &config.Config{}
		_, err := NewService(cfg, WithServiceLogger(nil))
		assert.ErrorIs(t, err, ErrLoggerNil)

		_, err = NewService(cfg, WithKeyStore(nil))
		assert.ErrorContains(t, err, "key store cannot be nil")

		_, err = NewService(cfg, WithRegistry(nil))
		assert.ErrorContains(t, err, "registry cannot be nil")

		_, err = NewService(cfg, WithRotationLocker(nil))
		assert.ErrorContains(t, err, "rotation locker cannot be nil")
	})
}

func TestService_Rotation(t *testing.T) {
	t.Run("It alerts when a scheduled rotation fails", func(t *testing.T) {
		idp := testissuer.New("k1")
		t.Cleanup(idp.Close)
		t.Setenv("TRUST_ISSUERS", testIssuer+"="+idp.JWKSURL())
		cfg, err := config.LoadFile("")
		require.NoError(t, err)

		var logs bytes.Buffer
		l := logrus.New()
		l.SetOutput(&logs)
		l.SetFormatter(&logrus.JSONFormatter{})

		svc, err := NewService(cfg, WithServiceLogger(core.NewLogrusLogger(l)))
		require.NoError(t, err)
		t.Cleanup(func() { _ = svc.Close() })

		err = svc.Scheduler.RunOnce(context.Background())
		assert.ErrorIs(t, err, keys.ErrInvalidPrimaryKeyPair)
		assert.Contains(t, logs.String(), "scheduled key rotation failed")
		assertMetricCount(t, svc.Registry, core.MetricKeyRotationAlerts, 1)
	})

	t.Run("It lets one replica rotate shared redis slots at a time", func(t *testing.T) {
		mr := miniredis.RunT(t)
		idp := testissuer.New("k1")
		t.Cleanup(idp.Close)
		t.Setenv("TRUST_ISSUERS", testIssuer+"="+idp.JWKSURL())
		t.Setenv("TRUST_KEYS_STORE", "redis")
		t.Setenv("TRUST_REDIS_ADDR", mr.Addr())
		cfg, err := config.LoadFile("")
		require.NoError(t, err)

		replica := func() *Service {
			svc, err := NewService(cfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = svc.Close() })
			assert.IsType(t, &keys.RedisLock{}, svc.Locker)
			return svc
		}
		a, b := replica(), replica()
		ctx := context.Background()

		require.NoError(t, a.Bootstrap(ctx))
		before, err := b.Rotator.Current(ctx)
		require.NoError(t, err)
		require.True(t, before.Primary.Complete())

		require.NoError(t, mr.Set(RotationLockKey(cfg.Keys.Prefix), "held by a"))
		assert.ErrorIs(t, b.Scheduler.RunOnce(ctx), keys.ErrRotationLocked)
		assertMetricCount(t, b.Registry, core.MetricKeyRotationAlerts, 0)
		assert.NoError(t, b.Bootstrap(ctx), "a held lock is not a bootstrap failure")

		after, err := b.Rotator.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)

		mr.Del(RotationLockKey(cfg.Keys.Prefix))
		require.NoError(t, b.Scheduler.RunOnce(ctx))
		rotated, err := a.Rotator.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, before.Primary, rotated.Secondary)
	})
}

func TestService_Authorisation(t *testing.T) {
	svc, idp := newTestService(t, map[string]string{"TRUST_KEYS_ISSUER": "trustd"})
	ctx := context.Background()
	require.NoError(t, svc.Bootstrap(ctx))

	t.Run("It accepts tokens of a remote issuer", func(t *testing.T) {
		token := idp.Sign(jwt.MapClaims{
			"iss": testIssuer,
			"aud": testAudience,
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		result, err := svc.Authenticator.CheckToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, testIssuer, result.Claims.Issuer())
	})

	t.Run("It accepts tokens it signed itself", func(t *testing.T) {
		token, err := svc.Signer.Sign(ctx, jwt.MapClaims{"aud": testAudience})
		require.NoError(t, err)

		result, err := svc.Authenticator.CheckToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "trustd", result.Claims.Issuer())
	})

	t.Run("It accepts its own tokens after a rotation", func(t *testing.T) {
		before, err := svc.Signer.Sign(ctx, jwt.MapClaims{"aud": testAudience})
		require.NoError(t, err)

		_, err = svc.Rotator.Rotate(ctx)
		require.NoError(t, err)

		_, err = svc.Authenticator.CheckToken(ctx, before)
		assert.NoError(t, err)
	})

	t.Run("It protects handlers through the middleware", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc.Middleware.CheckJWT(echoClaims).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("It publishes its keys", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"kty":"RSA"`)
	})

	t.Run("It records authorisations in its registry", func(t *testing.T) {
		rec := httptest.NewRecorder()
		MetricsHandler(svc.Registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Contains(t, rec.Body.String(), core.MetricAuthTotal)
	})
}

func assertMetricCount(t *testing.T, g prometheus.Gatherer, name string, want int) {
	t.Helper()
	got, err := testutil.GatherAndCount(g, name)
	require.NoError(t, err)
	assert.Equal(t, want, got, name)
}
