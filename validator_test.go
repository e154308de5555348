package authjwt

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func localValidator(t *testing.T, opts ...Option) *LocalValidator {
	t.Helper()
	v, err := signingConfig(t).Validator(opts...)
	if err != nil {
		t.Fatalf("Validator: %v", err)
	}
	return v
}

func requireUnauthorized(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected unauthorized error %q, got nil", msg)
	}
	var authErr *Error
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if authErr.Code != ErrCodeUnauthorized {
		t.Fatalf("expected code %s, got %s", ErrCodeUnauthorized, authErr.Code)
	}
	if msg != "" && authErr.Message != msg {
		t.Fatalf("expected message %q, got %q", msg, authErr.Message)
	}
}

func TestValidator_LocalRoundTrip(t *testing.T) {
	issuer := newTestIssuer(t)
	validator := localValidator(t)

	token, err := issuer.SignAccessToken(Claims{"sub": "user-1", "role": "admin"})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}

	claims, err := validator.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject() != "user-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject())
	}
	if claims.String("role") != "admin" {
		t.Fatalf("unexpected role: %v", claims["role"])
	}
	if claims.Issuer() != testIssuer {
		t.Fatalf("unexpected issuer: %s", claims.Issuer())
	}
	if aud := claims.Audience(); len(aud) != 1 || aud[0] != testAudience {
		t.Fatalf("unexpected audience: %v", aud)
	}
	if got := claims.ExpiresAt().Sub(claims.IssuedAt()); got != 15*time.Minute {
		t.Fatalf("expected 15m lifetime, got %s", got)
	}
}

func TestValidator_RemoteRoundTrip(t *testing.T) {
	cfg := signingConfig(t)
	issuer := newTestIssuer(t)

	server := httptest.NewServer(JWKSHandler(NewJwksPublisher(cfg.KeySource())))
	t.Cleanup(server.Close)

	validator, err := NewValidator(ValidationConfig{
		JWKSURL:  server.URL,
		Issuer:   testIssuer,
		Audience: testAudience,
	})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if _, ok := validator.(*RemoteValidator); !ok {
		t.Fatalf("expected *RemoteValidator, got %T", validator)
	}

	token, err := issuer.SignAccessToken(Claims{"sub": "user-2", "email": "u2@lingo.test"})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	claims, err := validator.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject() != "user-2" || claims.String("email") != "u2@lingo.test" {
		t.Fatalf("unexpected claims: %v", claims)
	}
}

func TestValidator_RefreshTokenLifetime(t *testing.T) {
	issuer := newTestIssuer(t)
	token, err := issuer.SignRefreshToken(Claims{"sub": "user-1"})
	if err != nil {
		t.Fatalf("SignRefreshToken: %v", err)
	}
	claims, err := localValidator(t).Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := claims.ExpiresAt().Sub(claims.IssuedAt()); got != 24*time.Hour {
		t.Fatalf("expected 24h lifetime, got %s", got)
	}
}

func TestValidator_MissingSubject(t *testing.T) {
	issuer := newTestIssuer(t)
	token, err := issuer.SignAccessToken(Claims{"role": "admin"})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	_, err = localValidator(t).Validate(context.Background(), token)
	requireUnauthorized(t, err, "invalid token payload")
}

func TestValidator_Rejections(t *testing.T) {
	issuer := newTestIssuer(t)
	past := time.Now().Add(-time.Hour)
	staleIssuer := newTestIssuer(t, WithClock(func() time.Time { return past }))

	valid, err := issuer.SignAccessToken(Claims{"sub": "user-1"})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	expired, err := staleIssuer.SignAccessToken(Claims{"sub": "user-1"})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	otherCfg := signingConfig(t)
	otherCfg.PrivateKey = privatePEM(t, rsaKey(t, 1))
	foreign, err := NewTokenIssuer(otherCfg)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	foreignToken, err := foreign.SignAccessToken(Claims{"sub": "user-1"})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}

	cases := []struct {
		name   string
		cfg    func(*ValidationConfig)
		token  string
		expect string
	}{
		{name: "empty", token: "  ", expect: "no auth token"},
		{name: "garbage", token: "not-a-jwt", expect: "jwt malformed"},
		{name: "expired", token: expired, expect: "jwt expired"},
		{name: "tampered signature", token: tampered, expect: "invalid signature"},
		{name: "foreign key", token: foreignToken, expect: "invalid signature"},
		{
			name:   "wrong issuer",
			cfg:    func(c *ValidationConfig) { c.Issuer = "https://someone-else" },
			token:  valid,
			expect: "jwt issuer invalid",
		},
		{
			name:   "wrong audience",
			cfg:    func(c *ValidationConfig) { c.Audience = "other-api" },
			token:  valid,
			expect: "jwt audience invalid",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signing := signingConfig(t)
			cfg := ValidationConfig{
				PublicKey: signing.PublicKey,
				Issuer:    signing.Issuer,
				Audience:  signing.Audience,
			}
			if tc.cfg != nil {
				tc.cfg(&cfg)
			}
			v, err := NewValidator(cfg)
			if err != nil {
				t.Fatalf("NewValidator: %v", err)
			}
			_, err = v.Validate(context.Background(), tc.token)
			requireUnauthorized(t, err, tc.expect)
		})
	}
}

func TestValidator_ClockSkew(t *testing.T) {
	issuer := newTestIssuer(t)
	token, err := issuer.SignAccessToken(Claims{"sub": "user-1"})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	later := func() time.Time { return time.Now().Add(15*time.Minute + 10*time.Second) }

	strict := localValidator(t, WithClock(later))
	_, err = strict.Validate(context.Background(), token)
	requireUnauthorized(t, err, "jwt expired")

	signing := signingConfig(t)
	lenient, err := NewLocalValidator(ValidationConfig{
		PublicKey: signing.PublicKey,
		Issuer:    signing.Issuer,
		Audience:  signing.Audience,
		ClockSkew: time.Minute,
	}, WithClock(later))
	if err != nil {
		t.Fatalf("NewLocalValidator: %v", err)
	}
	if _, err := lenient.Validate(context.Background(), token); err != nil {
		t.Fatalf("expected token within skew to validate: %v", err)
	}
}

func TestValidator_RejectsNonRS256(t *testing.T) {
	tok, err := jwt.NewBuilder().
		Subject("user-1").
		Issuer(testIssuer).
		Audience([]string{testAudience}).
		Expiration(time.Now().Add(time.Hour)).
		Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	key, err := jwk.FromRaw([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("symmetric key: %v", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, key))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = localValidator(t).Validate(context.Background(), string(signed))
	requireUnauthorized(t, err, "invalid algorithm")
}

func TestNewValidator_KeyMaterial(t *testing.T) {
	signing := signingConfig(t)
	cases := map[string]ValidationConfig{
		"neither": {Issuer: testIssuer, Audience: testAudience},
		"both": {
			PublicKey: signing.PublicKey,
			JWKSURL:   "https://auth.lingo.test/.well-known/jwks.json",
			Issuer:    testIssuer,
			Audience:  testAudience,
		},
		"missing issuer": {PublicKey: signing.PublicKey, Audience: testAudience},
		"malformed key": {PublicKey: "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----", Issuer: testIssuer, Audience: testAudience},
		"non http jwks": {JWKSURL: "ftp://auth.lingo.test/jwks", Issuer: testIssuer, Audience: testAudience},
		"negative skew": {PublicKey: signing.PublicKey, Issuer: testIssuer, Audience: testAudience, ClockSkew: -time.Second},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewValidator(cfg)
			if !IsCode(err, ErrCodeConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}

	_, err := NewValidator(ValidationConfig{Issuer: testIssuer, Audience: testAudience})
	if !strings.Contains(err.Error(), "either publicKey or jwksUrl must be provided for JWT validation") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestRemoteValidator_ResolutionFailure(t *testing.T) {
	issuer := newTestIssuer(t)
	token, err := issuer.SignAccessToken(Claims{"sub": "user-1"})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}

	t.Run("endpoint error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		t.Cleanup(server.Close)

		v, err := NewValidator(ValidationConfig{JWKSURL: server.URL, Issuer: testIssuer, Audience: testAudience})
		if err != nil {
			t.Fatalf("NewValidator: %v", err)
		}
		_, err = v.Validate(context.Background(), token)
		requireUnauthorized(t, err, "unable to resolve signing key")

		var outer *Error
		errors.As(err, &outer)
		if !IsCode(outer.Err, ErrCodeKeyResolution) {
			t.Fatalf("expected wrapped key resolution error, got %v", outer.Err)
		}
	})

	t.Run("unknown kid", func(t *testing.T) {
		url, _ := jwksServer(t, jwksDocument(t, map[string]*rsa.PublicKey{
			"rotated-1": &rsaKey(t, 1).PublicKey,
			"rotated-2": &rsaKey(t, 2).PublicKey,
		}))
		v, err := NewValidator(ValidationConfig{JWKSURL: url, Issuer: testIssuer, Audience: testAudience})
		if err != nil {
			t.Fatalf("NewValidator: %v", err)
		}
		_, err = v.Validate(context.Background(), token)
		requireUnauthorized(t, err, "unable to resolve signing key")
		if !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("expected ErrKeyNotFound in chain, got %v", err)
		}
	})
}

func TestRemoteValidator_SharedResolver(t *testing.T) {
	key := rsaKey(t, 0)
	url, hits := jwksServer(t, jwksDocument(t, map[string]*rsa.PublicKey{defaultKeyID: &key.PublicKey}))

	resolver, err := NewRemoteKeyResolver(ResolverConfig{JWKSURL: url})
	if err != nil {
		t.Fatalf("NewRemoteKeyResolver: %v", err)
	}
	cfg := ValidationConfig{JWKSURL: url, Issuer: testIssuer, Audience: testAudience}
	first, err := NewRemoteValidator(cfg, WithResolver(resolver))
	if err != nil {
		t.Fatalf("NewRemoteValidator: %v", err)
	}
	second, err := NewRemoteValidator(cfg, WithResolver(resolver))
	if err != nil {
		t.Fatalf("NewRemoteValidator: %v", err)
	}

	token, err := newTestIssuer(t).SignAccessToken(Claims{"sub": "user-1"})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	for _, v := range []*RemoteValidator{first, second} {
		if _, err := v.Validate(context.Background(), token); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Fatalf("expected one JWKS fetch, got %d", got)
	}
}

func TestValidator_KidHeader(t *testing.T) {
	token, err := newTestIssuer(t).SignAccessToken(Claims{"sub": "user-1"})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		t.Fatalf("jws.Parse: %v", err)
	}
	headers := msg.Signatures()[0].ProtectedHeaders()
	if headers.KeyID() != defaultKeyID {
		t.Fatalf("unexpected kid: %q", headers.KeyID())
	}
	if headers.Algorithm() != jwa.RS256 {
		t.Fatalf("unexpected alg: %s", headers.Algorithm())
	}
}

func TestValidator_IssuerClockAhead(t *testing.T) {
	base := time.Now()
	issuer := newTestIssuer(t, WithClock(func() time.Time { return base.Add(2 * time.Second) }))
	token, err := issuer.SignAccessToken(Claims{"sub": "user-1"})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}

	validator := localValidator(t, WithClock(func() time.Time { return base }))
	claims, err := validator.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("token issued slightly in the future should validate: %v", err)
	}
	if claims.IssuedAt().Before(base) {
		t.Fatalf("unexpected iat %s", claims.IssuedAt())
	}

	future := newTestIssuer(t, WithClock(func() time.Time { return base.Add(time.Hour) }))
	token, err = future.SignAccessToken(Claims{"sub": "user-1", "nbf": base.Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	_, err = validator.Validate(context.Background(), token)
	requireUnauthorized(t, err, "jwt not active")
}
