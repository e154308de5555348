package authjwt

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

var errNoKeySource = errors.New("no key source configured")

// SigningKey is one public key offered by a KeySource.
type SigningKey struct {
	KID       string
	PublicKey string
}

// KeySource enumerates the currently valid signing keys.
type KeySource interface {
	SigningKeys(ctx context.Context) ([]SigningKey, error)
}

// KeySourceFunc adapts a function to KeySource.
type KeySourceFunc func(ctx context.Context) ([]SigningKey, error)

// SigningKeys implements KeySource.
func (f KeySourceFunc) SigningKeys(ctx context.Context) ([]SigningKey, error) {
	return f(ctx)
}

// StaticKeySource serves a fixed list of keys.
type StaticKeySource []SigningKey

// SigningKeys implements KeySource.
func (s StaticKeySource) SigningKeys(context.Context) ([]SigningKey, error) {
	return append([]SigningKey(nil), s...), nil
}

// KeySource returns the single-key source for the issuing side's public key.
func (c SigningConfig) KeySource() StaticKeySource {
	kid := strings.TrimSpace(c.KeyID)
	if kid == "" {
		kid = defaultKeyID
	}
	return StaticKeySource{{KID: kid, PublicKey: c.PublicKey}}
}

// JWKS is the document served at /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JwksPublisher renders the keys of a KeySource as a JWKS document.
type JwksPublisher struct {
	source    KeySource
	converter *KeyFormatConverter
	logger    *zap.Logger
}

// NewJwksPublisher builds a publisher. It honors WithConverter, WithLogger and
// WithClock (the latter through the default converter).
func NewJwksPublisher(source KeySource, opts ...Option) *JwksPublisher {
	o := buildOptions(opts)
	converter := o.converter
	if converter == nil {
		converter = &KeyFormatConverter{now: o.now, logger: o.logger}
	}
	return &JwksPublisher{source: source, converter: converter, logger: o.logger}
}

// Publish builds the document. It fails only when the key source cannot be
// enumerated; per-key conversion problems are absorbed by the converter.
func (p *JwksPublisher) Publish(ctx context.Context) (JWKS, error) {
	if p.source == nil {
		return JWKS{}, newError(ErrCodeJWKSGeneration, errNoKeySource)
	}
	keys, err := p.source.SigningKeys(ctx)
	if err != nil {
		p.logger.Error("enumerate signing keys", zap.Error(err))
		return JWKS{}, newError(ErrCodeJWKSGeneration, err)
	}

	out := JWKS{Keys: make([]JWK, 0, len(keys))}
	for _, key := range keys {
		if strings.TrimSpace(key.PublicKey) == "" {
			p.logger.Warn("signing key has no public key material, skipping", zap.String("kid", key.KID))
			continue
		}
		record := p.converter.ToJWK(key.PublicKey)
		record.Kid = firstNonEmpty(key.KID, record.Kid, defaultKeyID)
		record.Use = keyUseSig
		record.Alg = algRS256
		out.Keys = append(out.Keys, record)
	}
	return out, nil
}
