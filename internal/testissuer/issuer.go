// Package testissuer runs an in-process identity provider for tests. It
// publishes its signing keys over HTTP in both x5c and n/e form and signs
// tokens that validate against what it publishes.
//
// Example usage:
//
//	idp := testissuer.New("k1")
//	defer idp.Close()
//
//	store, _ := jwks.NewEndpointsStore(map[string]string{"serv1domain": idp.JWKSURL()})
//	token := idp.Sign(jwt.MapClaims{"iss": "serv1domain", "exp": time.Now().Add(time.Minute).Unix()})
package testissuer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	jwt "github.com/golang-jwt/jwt/v5"
)

// Key is one RSA signing key together with its published encodings.
type Key struct {
	Kid        string
	Private    *rsa.PrivateKey
	PublicPEM  string
	PrivatePEM string
	// X5c is the base64 DER of a self-signed certificate for the key.
	X5c string
}

// NewKey generates a 2048-bit RSA key published under kid.
func NewKey(kid string) *Key {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("failed to generate RSA key: " + err.Error())
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		panic("failed to marshal public key: " + err.Error())
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: kid},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		panic("failed to create certificate: " + err.Error())
	}

	return &Key{
		Kid:        kid,
		Private:    priv,
		PublicPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		PrivatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})),
		X5c:        base64.StdEncoding.EncodeToString(certDER),
	}
}

// Issuer serves a JWKS document and signs tokens with its current key.
//
// Routes:
//   - /jwks                              {keys:[{kid,x5c}]}
//   - /.well-known/jwks.json             {keys:[{kty,kid,alg,use,n,e}]}
//   - /.well-known/openid-configuration  discovery pointing at /.well-known/jwks.json
type Issuer struct {
	server   *httptest.Server
	requests atomic.Int64

	mu     sync.Mutex
	keys   []*Key
	status int
	body   string
	delay  time.Duration
}

// New starts an issuer publishing one freshly generated key under kid.
// Call Close when done.
func New(kid string) *Issuer {
	iss := &Issuer{keys: []*Key{NewKey(kid)}, status: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", iss.handleX5c)
	mux.HandleFunc("/.well-known/jwks.json", iss.handleJWK)
	mux.HandleFunc("/.well-known/openid-configuration", iss.handleDiscovery)

	iss.server = httptest.NewServer(mux)
	return iss
}

// URL returns the base URL of the issuer.
func (i *Issuer) URL() string { return i.server.URL }

// JWKSURL returns the URL of the x5c-form key set.
func (i *Issuer) JWKSURL() string { return i.server.URL + "/jwks" }

// Close shuts the server down.
func (i *Issuer) Close() { i.server.Close() }

// Requests returns how many key set or discovery requests were served.
func (i *Issuer) Requests() int64 { return i.requests.Load() }

// Key returns the signing key, the first one published.
func (i *Issuer) Key() *Key {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.keys[0]
}

// SetKeys replaces the published keys. The first becomes the signing key.
func (i *Issuer) SetKeys(keys ...*Key) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys = keys
}

// Fail makes key set requests answer with status and body until Recover is called.
func (i *Issuer) Fail(status int, body string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = status
	i.body = body
}

// Recover undoes Fail.
func (i *Issuer) Recover() {
	i.Fail(http.StatusOK, "")
}

// Delay holds every key set response for d.
func (i *Issuer) Delay(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.delay = d
}

// Sign signs claims with the current signing key using RS256.
func (i *Issuer) Sign(claims jwt.MapClaims) string {
	return SignWith(i.Key(), claims)
}

// SignWith signs claims with key using RS256 and key.Kid in the header.
func SignWith(key *Key, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.Kid
	signed, err := token.SignedString(key.Private)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return signed
}

func (i *Issuer) snapshot() ([]*Key, int, string, time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*Key(nil), i.keys...), i.status, i.body, i.delay
}

func (i *Issuer) handleX5c(w http.ResponseWriter, _ *http.Request) {
	i.requests.Add(1)
	keys, status, body, delay := i.snapshot()
	time.Sleep(delay)

	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}

	type entry struct {
		Kid string   `json:"kid"`
		X5c []string `json:"x5c"`
	}
	doc := struct {
		Keys []entry `json:"keys"`
	}{Keys: make([]entry, 0, len(keys))}
	for _, k := range keys {
		doc.Keys = append(doc.Keys, entry{Kid: k.Kid, X5c: []string{k.X5c}})
	}

	writeJSON(w, doc)
}

func (i *Issuer) handleJWK(w http.ResponseWriter, _ *http.Request) {
	i.requests.Add(1)
	keys, status, body, delay := i.snapshot()
	time.Sleep(delay)

	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}

	type entry struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		Alg string `json:"alg"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
	}
	doc := struct {
		Keys []entry `json:"keys"`
	}{Keys: make([]entry, 0, len(keys))}
	for _, k := range keys {
		pub := k.Private.PublicKey
		doc.Keys = append(doc.Keys, entry{
			Kty: "RSA",
			Kid: k.Kid,
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}

	writeJSON(w, doc)
}

func (i *Issuer) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	i.requests.Add(1)
	writeJSON(w, map[string]string{
		"issuer":   i.server.URL + "/",
		"jwks_uri": i.server.URL + "/.well-known/jwks.json",
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
