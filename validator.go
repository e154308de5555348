package authjwt

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
)

// TokenValidator verifies an RS256 token and returns its claims. Every
// failure is an *Error with code ErrCodeUnauthorized.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Claims, error)
}

const (
	strategyLocal  = "local"
	strategyRemote = "remote"
)

// NewValidator selects the variant from the configuration: a LocalValidator
// when PublicKey is set, a RemoteValidator when JWKSURL is set.
func NewValidator(cfg ValidationConfig, opts ...Option) (TokenValidator, error) {
	if err := cfg.validate(); err != nil {
		return nil, newError(ErrCodeConfiguration, err)
	}
	if strings.TrimSpace(cfg.JWKSURL) != "" {
		return NewRemoteValidator(cfg, opts...)
	}
	return NewLocalValidator(cfg, opts...)
}

// Validator returns a LocalValidator over the issuing side's own public key.
func (c SigningConfig) Validator(opts ...Option) (*LocalValidator, error) {
	return NewLocalValidator(ValidationConfig{
		PublicKey: c.PublicKey,
		Issuer:    c.Issuer,
		Audience:  c.Audience,
	}, opts...)
}

// LocalValidator verifies tokens against a configured public key.
type LocalValidator struct {
	verifier
	key *rsa.PublicKey
}

// NewLocalValidator builds a validator for cfg.PublicKey.
func NewLocalValidator(cfg ValidationConfig, opts ...Option) (*LocalValidator, error) {
	if err := cfg.validate(); err != nil {
		return nil, newError(ErrCodeConfiguration, err)
	}
	if strings.TrimSpace(cfg.PublicKey) == "" {
		return nil, newError(ErrCodeConfiguration, errors.New("public key is required"))
	}
	key, err := ParseRSAPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, newError(ErrCodeConfiguration, fmt.Errorf("parse public key: %w", err))
	}
	return &LocalValidator{
		verifier: newVerifier(cfg, strategyLocal, buildOptions(opts)),
		key:      key,
	}, nil
}

// Validate implements TokenValidator.
func (v *LocalValidator) Validate(ctx context.Context, token string) (Claims, error) {
	return v.verify(ctx, token, func(context.Context, string) (*rsa.PublicKey, error) {
		return v.key, nil
	})
}

// RemoteValidator verifies tokens against keys published at a JWKS URL.
type RemoteValidator struct {
	verifier
	resolver KeyResolver
}

// NewRemoteValidator builds a validator for cfg.JWKSURL. Unless WithResolver
// is given it owns a RemoteKeyResolver configured from cfg.Resolver.
func NewRemoteValidator(cfg ValidationConfig, opts ...Option) (*RemoteValidator, error) {
	if err := cfg.validate(); err != nil {
		return nil, newError(ErrCodeConfiguration, err)
	}
	if strings.TrimSpace(cfg.JWKSURL) == "" {
		return nil, newError(ErrCodeConfiguration, errors.New("jwks url is required"))
	}
	o := buildOptions(opts)
	resolver := o.resolver
	if resolver == nil {
		rcfg := cfg.Resolver
		rcfg.JWKSURL = cfg.JWKSURL
		r, err := NewRemoteKeyResolver(rcfg, opts...)
		if err != nil {
			return nil, err
		}
		resolver = r
	}
	return &RemoteValidator{
		verifier: newVerifier(cfg, strategyRemote, o),
		resolver: resolver,
	}, nil
}

// Validate implements TokenValidator. Key resolution failures surface as
// unauthorized errors wrapping the resolver error.
func (v *RemoteValidator) Validate(ctx context.Context, token string) (Claims, error) {
	return v.verify(ctx, token, func(ctx context.Context, kid string) (*rsa.PublicKey, error) {
		key, err := v.resolver.Resolve(ctx, kid)
		if err != nil {
			v.logger.Warn("signing key resolution failed", zap.String("kid", kid), zap.Error(err))
			return nil, newErrorMessage(ErrCodeUnauthorized, "unable to resolve signing key", err)
		}
		return key, nil
	})
}

type keyLookup func(ctx context.Context, kid string) (*rsa.PublicKey, error)

type verifier struct {
	issuer   string
	audience string
	skew     time.Duration
	now      func() time.Time
	strategy string
	logger   *zap.Logger
}

func newVerifier(cfg ValidationConfig, strategy string, o options) verifier {
	return verifier{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		skew:     cfg.ClockSkew,
		now:      o.now,
		strategy: strategy,
		logger:   o.logger,
	}
}

func (v verifier) verify(ctx context.Context, token string, lookup keyLookup) (Claims, error) {
	claims, err := v.verifyToken(ctx, token, lookup)
	if err != nil {
		Validations.WithLabelValues(v.strategy, "rejected").Inc()
		v.logger.Debug("token rejected", zap.String("strategy", v.strategy), zap.Error(err))
		return nil, err
	}
	Validations.WithLabelValues(v.strategy, "ok").Inc()
	return claims, nil
}

func (v verifier) verifyToken(ctx context.Context, token string, lookup keyLookup) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, unauthorized("no auth token", nil)
	}

	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, unauthorized("jwt malformed", err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return nil, unauthorized("jwt malformed", fmt.Errorf("expected one signature, got %d", len(sigs)))
	}
	headers := sigs[0].ProtectedHeaders()
	if alg := headers.Algorithm(); alg != jwa.RS256 {
		return nil, unauthorized("invalid algorithm", fmt.Errorf("alg %q not accepted", alg))
	}

	key, err := lookup(ctx, headers.KeyID())
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.RS256, key), jwt.WithValidate(false))
	if err != nil {
		return nil, unauthorized("invalid signature", err)
	}

	// iat is informational; only exp and nbf bound the token's lifetime
	validateOpts := []jwt.ValidateOption{
		jwt.WithResetValidators(true),
		jwt.WithValidator(jwt.IsExpirationValid()),
		jwt.WithValidator(jwt.IsNbfValid()),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithAcceptableSkew(v.skew),
		jwt.WithClock(jwt.ClockFunc(v.now)),
	}
	if err := jwt.Validate(parsed, validateOpts...); err != nil {
		switch {
		case errors.Is(err, jwt.ErrInvalidIssuer()):
			return nil, unauthorized("jwt issuer invalid", err)
		case errors.Is(err, jwt.ErrInvalidAudience()):
			return nil, unauthorized("jwt audience invalid", err)
		case errors.Is(err, jwt.ErrTokenExpired()):
			return nil, unauthorized("jwt expired", err)
		case errors.Is(err, jwt.ErrTokenNotYetValid()):
			return nil, unauthorized("jwt not active", err)
		default:
			return nil, unauthorized("invalid token", err)
		}
	}

	claims, err := claimsFromToken(ctx, parsed)
	if err != nil {
		return nil, unauthorized("invalid token payload", err)
	}
	if claims.Subject() == "" {
		return nil, unauthorized("invalid token payload", errors.New("sub claim missing"))
	}
	return claims, nil
}

func unauthorized(msg string, err error) error {
	return newErrorMessage(ErrCodeUnauthorized, msg, err)
}

// claimsFromToken flattens the decoded token into Claims, holding registered
// time claims as Unix seconds and a single audience as a plain string.
func claimsFromToken(ctx context.Context, token jwt.Token) (Claims, error) {
	raw, err := token.AsMap(ctx)
	if err != nil {
		return nil, err
	}
	claims := make(Claims, len(raw))
	for k, v := range raw {
		switch k {
		case ClaimIssuedAt, ClaimExpiresAt, ClaimNotBefore:
			if secs, ok := numericDate(v); ok {
				claims[k] = secs
				continue
			}
		case ClaimAudience:
			if aud, ok := v.([]string); ok && len(aud) == 1 {
				claims[k] = aud[0]
				continue
			}
		}
		claims[k] = v
	}
	return claims, nil
}
