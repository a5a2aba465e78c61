package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttrust "github.com/finplat/jwt-trust"
	"github.com/finplat/jwt-trust/config"
	"github.com/finplat/jwt-trust/core"
	"github.com/finplat/jwt-trust/internal/testissuer"
	"github.com/finplat/jwt-trust/keys"
)

func newKeysService(t *testing.T) (*jwttrust.Service, *keys.MemoryStore) {
	t.Helper()
	idp := testissuer.New("k1")
	t.Cleanup(idp.Close)
	t.Setenv("TRUST_ISSUERS", "serv1domain="+idp.JWKSURL())

	cfg, err := config.LoadFile("")
	require.NoError(t, err)
	store := keys.NewMemoryStore()
	svc, err := jwttrust.NewService(cfg, jwttrust.WithKeyStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, store
}

func TestPrepareKeys(t *testing.T) {
	t.Run("It refuses to rotate an empty store instead of bootstrapping it", func(t *testing.T) {
		svc, store := newKeysService(t)

		exit, err := prepareKeys(t.Context(), svc, true, false)
		assert.True(t, exit)
		assert.ErrorIs(t, err, keys.ErrInvalidPrimaryKeyPair)

		for _, name := range keys.SlotNames(svc.Config.Keys.Prefix) {
			_, err := store.Get(t.Context(), name)
			assert.ErrorIs(t, err, keys.ErrSlotNotFound, name)
		}
	})

	t.Run("It rotates an existing primary once", func(t *testing.T) {
		svc, _ := newKeysService(t)
		require.NoError(t, svc.Bootstrap(t.Context()))
		before, err := svc.Rotator.Current(t.Context())
		require.NoError(t, err)

		exit, err := prepareKeys(t.Context(), svc, true, false)
		require.NoError(t, err)
		assert.True(t, exit)

		after, err := svc.Rotator.Current(t.Context())
		require.NoError(t, err)
		assert.Equal(t, before.Primary, after.Secondary)
		assert.NotEqual(t, before.Primary.Public, after.Primary.Public)
	})

	t.Run("It bootstraps and exits in bootstrap mode", func(t *testing.T) {
		svc, _ := newKeysService(t)

		exit, err := prepareKeys(t.Context(), svc, false, true)
		require.NoError(t, err)
		assert.True(t, exit)

		rec, err := svc.Rotator.Current(t.Context())
		require.NoError(t, err)
		assert.True(t, rec.Primary.Complete())
	})

	t.Run("It bootstraps and keeps serving otherwise", func(t *testing.T) {
		svc, _ := newKeysService(t)

		exit, err := prepareKeys(t.Context(), svc, false, false)
		require.NoError(t, err)
		assert.False(t, exit)
	})
}

func TestRouter(t *testing.T) {
	idp := testissuer.New("k1")
	t.Cleanup(idp.Close)
	t.Setenv("TRUST_ISSUERS", "serv1domain="+idp.JWKSURL())
	t.Setenv("TRUST_SCOPES", "read")

	cfg, err := config.LoadFile("")
	require.NoError(t, err)
	svc, err := jwttrust.NewService(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	require.NoError(t, svc.Bootstrap(t.Context()))

	router := newRouter(svc, core.NopLogger{})

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("It publishes the JWKS document", func(t *testing.T) {
		rec := serve(httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"keys"`)
	})

	t.Run("It answers health checks", func(t *testing.T) {
		rec := serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("It rejects anonymous calls to protected routes", func(t *testing.T) {
		rec := serve(httptest.NewRequest(http.MethodGet, "/v1/whoami", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("It forbids tokens without a required scope", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+idp.Sign(jwt.MapClaims{
			"iss":   "serv1domain",
			"scope": "write",
			"exp":   time.Now().Add(time.Hour).Unix(),
		}))
		rec := serve(req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("It describes the caller", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+idp.Sign(jwt.MapClaims{
			"iss":   "serv1domain",
			"azp":   "client1",
			"scope": "read write",
			"exp":   time.Now().Add(time.Hour).Unix(),
		}))
		rec := serve(req)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "serv1domain", body["issuer"])
		assert.Equal(t, "client1", body["client"])
		assert.Equal(t, "k1", body["kid"])
	})

	t.Run("It serves metrics", func(t *testing.T) {
		rec := serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), core.MetricAuthTotal)
	})
}
