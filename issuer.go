package authjwt

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// TokenIssuer signs claim sets with the configured RSA private key (RS256),
// injecting issuer, audience and the per-kind lifetime.
type TokenIssuer struct {
	cfg      SigningConfig
	key      jwk.Key
	now      func() time.Time
	tokenIDs bool
	logger   *zap.Logger
}

// NewTokenIssuer parses the private key up front. A missing key is a
// configuration error; a malformed one is a signing error.
func NewTokenIssuer(cfg SigningConfig, opts ...Option) (*TokenIssuer, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, newError(ErrCodeConfiguration, err)
	}
	priv, err := ParseRSAPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, newError(ErrCodeSigning, fmt.Errorf("parse private key: %w", err))
	}
	key, err := jwk.FromRaw(priv)
	if err != nil {
		return nil, newError(ErrCodeSigning, fmt.Errorf("private key jwk: %w", err))
	}
	if err := key.Set(jwk.KeyIDKey, cfg.KeyID); err != nil {
		return nil, newError(ErrCodeSigning, fmt.Errorf("set kid: %w", err))
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, newError(ErrCodeSigning, fmt.Errorf("set alg: %w", err))
	}

	o := buildOptions(opts)
	return &TokenIssuer{
		cfg:      cfg,
		key:      key,
		now:      o.now,
		tokenIDs: o.tokenIDs,
		logger:   o.logger,
	}, nil
}

// Config returns the normalized signing configuration.
func (i *TokenIssuer) Config() SigningConfig {
	return i.cfg
}

// SignAccessToken signs claims with the access token lifetime.
func (i *TokenIssuer) SignAccessToken(claims Claims) (string, error) {
	return i.sign(claims, i.cfg.AccessTTL, kindAccess)
}

// SignRefreshToken signs claims with the refresh token lifetime.
func (i *TokenIssuer) SignRefreshToken(claims Claims) (string, error) {
	return i.sign(claims, i.cfg.RefreshTTL, kindRefresh)
}

// sign never mutates claims. Claims that already carry iss, aud or exp are
// refused since those come from configuration; a numeric iat is kept as the
// issue time.
func (i *TokenIssuer) sign(claims Claims, ttl time.Duration, kind string) (string, error) {
	for _, reserved := range []string{ClaimIssuer, ClaimAudience, ClaimExpiresAt} {
		if _, ok := claims[reserved]; ok {
			return "", newError(ErrCodeSigning, fmt.Errorf("claims already carry %q", reserved))
		}
	}

	issuedAt := i.now().UTC().Truncate(time.Second)
	if v, ok := claims[ClaimIssuedAt]; ok {
		secs, ok := numericDate(v)
		if !ok {
			return "", newError(ErrCodeSigning, fmt.Errorf("%q must be a numeric date", ClaimIssuedAt))
		}
		issuedAt = time.Unix(secs, 0).UTC()
	}

	tok := jwt.New()
	// a single audience goes on the wire as a string, not a one-element array
	tok.Options().Enable(jwt.FlattenAudience)
	for k, v := range claims {
		if k == ClaimIssuedAt {
			continue
		}
		if err := tok.Set(k, v); err != nil {
			return "", newError(ErrCodeSigning, fmt.Errorf("claim %q: %w", k, err))
		}
	}
	registered := map[string]any{
		jwt.IssuerKey:     i.cfg.Issuer,
		jwt.AudienceKey:   i.cfg.Audience,
		jwt.IssuedAtKey:   issuedAt,
		jwt.ExpirationKey: issuedAt.Add(ttl),
	}
	if _, ok := claims[ClaimJWTID]; !ok && i.tokenIDs {
		registered[jwt.JwtIDKey] = uuid.NewString()
	}
	for k, v := range registered {
		if err := tok.Set(k, v); err != nil {
			return "", newError(ErrCodeSigning, fmt.Errorf("claim %q: %w", k, err))
		}
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, i.key))
	if err != nil {
		i.logger.Error("token signing failed", zap.String("kind", kind), zap.Error(err))
		return "", newError(ErrCodeSigning, err)
	}
	TokensIssued.WithLabelValues(kind).Inc()
	return string(signed), nil
}
