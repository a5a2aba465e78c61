package jwks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finplat/jwt-trust/core"
	"github.com/finplat/jwt-trust/internal/testissuer"
)

func TestNewEndpointsStore(t *testing.T) {
	t.Run("It rejects an invalid endpoint", func(t *testing.T) {
		_, err := NewEndpointsStore(map[string]string{"serv1domain": "not a url"})
		assert.Error(t, err)
	})

	t.Run("It rejects an empty issuer id", func(t *testing.T) {
		_, err := NewEndpointsStore(map[string]string{"": "https://idp.example/serv1"})
		assert.Error(t, err)
	})

	t.Run("It rejects invalid options", func(t *testing.T) {
		endpoints := map[string]string{"serv1domain": "https://idp.example/serv1"}

		for name, opt := range map[string]StoreOption{
			"negative refresh delay": WithRefreshDelay(-time.Second),
			"nil client":             WithHTTPClient(nil),
			"negative breaker":       WithBreakerFailures(-1),
			"nil logger":             WithLogger(nil),
			"nil metrics":            WithMetrics(nil),
		} {
			_, err := NewEndpointsStore(endpoints, opt)
			assert.Error(t, err, name)
		}
	})

	t.Run("It copies the endpoint map", func(t *testing.T) {
		endpoints := map[string]string{"serv1domain": "https://idp.example/serv1"}
		store, err := NewEndpointsStore(endpoints)
		require.NoError(t, err)

		endpoints["serv2domain"] = "https://idp.example/serv2"
		assert.ElementsMatch(t, []string{"serv1domain"}, store.Issuers())
	})
}

func TestEndpointsStore_ResolveKeys(t *testing.T) {
	t.Run("It resolves keys published by the issuer", func(t *testing.T) {
		idp := testissuer.New("k1")
		defer idp.Close()

		store := newTestStore(t, idp)

		pems, err := store.ResolveKeys(context.Background(), "k1", "serv1domain")
		require.NoError(t, err)
		require.Len(t, pems, 1)

		pub, err := ParsePublicKey(pems[0])
		require.NoError(t, err)
		assert.True(t, idp.Key().Private.PublicKey.Equal(pub))
	})

	t.Run("It fails for an unknown issuer without a network call", func(t *testing.T) {
		idp := testissuer.New("k1")
		defer idp.Close()

		store := newTestStore(t, idp)

		_, err := store.ResolveKeys(context.Background(), "k1", "evil.example")
		assert.ErrorIs(t, err, ErrUnknownIssuer)
		assert.Equal(t, int64(0), idp.Requests())
	})

	t.Run("It coalesces concurrent first lookups into one fetch", func(t *testing.T) {
		idp := testissuer.New("k1")
		defer idp.Close()
		idp.Delay(50 * time.Millisecond)

		store := newTestStore(t, idp)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pems, err := store.ResolveKeys(context.Background(), "k1", "serv1domain")
				assert.NoError(t, err)
				assert.Len(t, pems, 1)
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), idp.Requests())
	})

	t.Run("It declines a refresh for a new kid within the refresh delay", func(t *testing.T) {
		idp := testissuer.New("k1")
		defer idp.Close()

		now := time.Unix(10_000, 0)
		store := newTestStore(t, idp, WithRefreshDelay(time.Minute))
		store.now = func() time.Time { return now }

		_, err := store.ResolveKeys(context.Background(), "k1", "serv1domain")
		require.NoError(t, err)
		require.Equal(t, int64(1), idp.Requests())

		idp.SetKeys(testissuer.NewKey("k2"), idp.Key())

		_, err = store.ResolveKeys(context.Background(), "k2", "serv1domain")
		assert.ErrorIs(t, err, ErrKeyNotFound)
		assert.Equal(t, int64(1), idp.Requests(), "refresh delay has not passed")

		now = now.Add(time.Minute + time.Second)
		pems, err := store.ResolveKeys(context.Background(), "k2", "serv1domain")
		require.NoError(t, err)
		assert.Len(t, pems, 1)
		assert.Equal(t, int64(2), idp.Requests())

		_, err = store.ResolveKeys(context.Background(), "k1", "serv1domain")
		require.NoError(t, err)
		assert.Equal(t, int64(2), idp.Requests(), "known kid is served from cache")
	})

	t.Run("It refreshes a known kid once the refresh delay has passed", func(t *testing.T) {
		idp := testissuer.New("k1")
		defer idp.Close()

		now := time.Unix(10_000, 0)
		store := newTestStore(t, idp, WithRefreshDelay(time.Minute))
		store.now = func() time.Time { return now }

		_, err := store.ResolveKeys(context.Background(), "k1", "serv1domain")
		require.NoError(t, err)

		idp.SetKeys(testissuer.NewKey("k2"))

		now = now.Add(30 * time.Second)
		_, err = store.ResolveKeys(context.Background(), "k1", "serv1domain")
		require.NoError(t, err, "still within the refresh delay")
		assert.Equal(t, int64(1), idp.Requests())

		now = now.Add(24 * time.Hour)
		_, err = store.ResolveKeys(context.Background(), "k1", "serv1domain")
		assert.ErrorIs(t, err, ErrKeyNotFound, "a dropped kid stops resolving")
		assert.Equal(t, int64(2), idp.Requests())
	})

	t.Run("It retains the previous key set across a failed refresh", func(t *testing.T) {
		idp := testissuer.New("k1")
		defer idp.Close()

		now := time.Unix(10_000, 0)
		store := newTestStore(t, idp, WithRefreshDelay(time.Minute), WithBreakerFailures(0))
		store.now = func() time.Time { return now }

		_, err := store.ResolveKeys(context.Background(), "k1", "serv1domain")
		require.NoError(t, err)

		idp.Fail(http.StatusServiceUnavailable, "down")
		now = now.Add(2 * time.Minute)

		_, err = store.ResolveKeys(context.Background(), "k1", "serv1domain")
		assert.ErrorIs(t, err, ErrFetchFailed)

		set, err := store.GetCache(context.Background(), "serv1domain", false)
		require.NoError(t, err)
		assert.Len(t, set["k1"], 1)

		idp.Recover()
		pems, err := store.ResolveKeys(context.Background(), "k1", "serv1domain")
		require.NoError(t, err)
		assert.Len(t, pems, 1)
		assert.Equal(t, int64(3), idp.Requests())
	})

	t.Run("It reports a first fetch failure instead of an empty set", func(t *testing.T) {
		idp := testissuer.New("k1")
		defer idp.Close()
		idp.Fail(http.StatusInternalServerError, "boom")

		store := newTestStore(t, idp)

		_, err := store.GetCache(context.Background(), "serv1domain", true)
		assert.ErrorIs(t, err, ErrFetchFailed)
	})
}

func TestEndpointsStore_GetCache(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		body     string
		wantErr  bool
		wantKids int
	}{
		{name: "empty key list is valid", status: http.StatusOK, body: `{"keys":[]}`, wantKids: 0},
		{name: "kid without x5c", status: http.StatusOK, body: `{"keys":[{"kid":"k1"}]}`, wantErr: true},
		{name: "kid with empty x5c", status: http.StatusOK, body: `{"keys":[{"kid":"k1","x5c":[]}]}`, wantErr: true},
		{name: "missing keys member", status: http.StatusOK, body: `{"other":[]}`, wantErr: true},
		{name: "malformed JSON", status: http.StatusOK, body: `{"keys":[`, wantErr: true},
		{name: "entry without kid", status: http.StatusOK, body: `{"keys":[{"x5c":["AAAA"]}]}`, wantErr: true},
		{name: "invalid x5c", status: http.StatusOK, body: `{"keys":[{"kid":"k1","x5c":["%%%"]}]}`, wantErr: true},
		{name: "not found", status: http.StatusNotFound, body: `{"keys":[]}`, wantErr: true},
		{name: "server error", status: http.StatusBadGateway, body: ``, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := staticServer(t, tc.status, tc.body)

			store, err := NewEndpointsStore(map[string]string{"serv1domain": server.URL}, WithBreakerFailures(0))
			require.NoError(t, err)

			set, err := store.GetCache(context.Background(), "serv1domain", true)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrFetchFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantKids, set.Kids())
		})
	}
}

func TestEndpointsStore_Breaker(t *testing.T) {
	t.Run("It stops calling a failing issuer once the breaker opens", func(t *testing.T) {
		idp := testissuer.New("k1")
		defer idp.Close()
		idp.Fail(http.StatusServiceUnavailable, "down")

		store := newTestStore(t, idp, WithRefreshDelay(0), WithBreakerFailures(2))

		for i := 0; i < 5; i++ {
			_, err := store.ResolveKeys(context.Background(), "k1", "serv1domain")
			assert.ErrorIs(t, err, ErrFetchFailed)
		}

		assert.Equal(t, int64(2), idp.Requests())
	})
}

func TestEndpointsStore_Metrics(t *testing.T) {
	t.Run("It records refreshes and failures per issuer", func(t *testing.T) {
		idp := testissuer.New("k1")
		defer idp.Close()

		registry := prometheus.NewRegistry()
		store := newTestStore(t, idp, WithRefreshDelay(0), WithMetrics(core.NewPrometheusMetrics(registry)))

		_, err := store.ResolveKeys(context.Background(), "k1", "serv1domain")
		require.NoError(t, err)

		idp.Fail(http.StatusInternalServerError, "")
		_, err = store.GetCache(context.Background(), "serv1domain", true)
		require.Error(t, err)

		assertMetricCount(t, registry, core.MetricJWKSRefreshTotal, 1)
		assertMetricCount(t, registry, core.MetricJWKSRefreshFailures, 1)
		assertMetricCount(t, registry, core.MetricJWKSKeys, 1)
	})
}

func newTestStore(t *testing.T, idp *testissuer.Issuer, opts ...StoreOption) *EndpointsStore {
	t.Helper()
	store, err := NewEndpointsStore(map[string]string{"serv1domain": idp.JWKSURL()}, opts...)
	require.NoError(t, err)
	return store
}

func staticServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func assertMetricCount(t *testing.T, g prometheus.Gatherer, name string, want int) {
	t.Helper()
	got, err := testutil.GatherAndCount(g, name)
	require.NoError(t, err)
	assert.Equal(t, want, got, name)
}
