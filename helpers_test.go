package authjwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	testIssuer   = "https://auth.lingo.test"
	testAudience = "lingo-api"
)

var (
	keyOnce  sync.Once
	testKeys []*rsa.PrivateKey
)

// rsaKey returns one of a small pool of 2048-bit keys shared by the tests.
func rsaKey(t *testing.T, i int) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		for n := 0; n < 3; n++ {
			k, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			testKeys = append(testKeys, k)
		}
	})
	return testKeys[i]
}

func privatePEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func publicPEM(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func signingConfig(t *testing.T) SigningConfig {
	t.Helper()
	key := rsaKey(t, 0)
	return SigningConfig{
		PrivateKey: privatePEM(t, key),
		PublicKey:  publicPEM(t, &key.PublicKey),
		Issuer:     testIssuer,
		Audience:   testAudience,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
}

func newTestIssuer(t *testing.T, opts ...Option) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(signingConfig(t), opts...)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return issuer
}

// jwksDocument renders a JWKS with one RS256 signature key per kid.
func jwksDocument(t *testing.T, keys map[string]*rsa.PublicKey) []byte {
	t.Helper()
	set := jwk.NewSet()
	for kid, pub := range keys {
		k, err := jwk.FromRaw(pub)
		if err != nil {
			t.Fatalf("jwk from raw: %v", err)
		}
		if kid != "" {
			if err := k.Set(jwk.KeyIDKey, kid); err != nil {
				t.Fatalf("set kid: %v", err)
			}
		}
		if err := k.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
			t.Fatalf("set alg: %v", err)
		}
		if err := k.Set(jwk.KeyUsageKey, "sig"); err != nil {
			t.Fatalf("set use: %v", err)
		}
		if err := set.AddKey(k); err != nil {
			t.Fatalf("add key: %v", err)
		}
	}
	payload, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return payload
}

// jwksServer serves payload and counts requests.
func jwksServer(t *testing.T, payload []byte) (string, *int32) {
	t.Helper()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server.URL, &hits
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
