package authjwt

import (
	"crypto"
	_ "crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"
)

const (
	// FallbackModulus is the placeholder modulus of a fallback JWK record.
	FallbackModulus = "FALLBACK_MODULUS_VALUE"

	keyTypeRSA   = "RSA"
	keyUseSig    = "sig"
	algRS256     = "RS256"
	rsaExponent  = "AQAB"
	pemBeginMark = "-----BEGIN"
	pemEndMark   = "-----END"
)

// JWK is the wire form of a public key inside a JWKS document.
type JWK struct {
	Kty string   `json:"kty"`
	Kid string   `json:"kid,omitempty"`
	Use string   `json:"use,omitempty"`
	Alg string   `json:"alg,omitempty"`
	N   string   `json:"n,omitempty"`
	E   string   `json:"e,omitempty"`
	X5c []string `json:"x5c,omitempty"`
	X5t string   `json:"x5t,omitempty"`
}

// IsFallback reports whether the record is a placeholder produced on
// conversion failure.
func (k JWK) IsFallback() bool {
	return k.N == FallbackModulus
}

// KeyFormatConverter turns PEM encoded RSA keys into JWK records.
type KeyFormatConverter struct {
	now    func() time.Time
	logger *zap.Logger
}

// NewKeyFormatConverter builds a converter. It honors WithClock and WithLogger.
func NewKeyFormatConverter(opts ...Option) *KeyFormatConverter {
	o := buildOptions(opts)
	return &KeyFormatConverter{now: o.now, logger: o.logger}
}

// ToJWK converts a PEM public key (a private key is reduced to its public
// half). It never fails: malformed input yields a fallback record so that the
// JWKS document stays syntactically valid.
func (c *KeyFormatConverter) ToJWK(pem string) JWK {
	key, err := c.convert(pem)
	if err != nil {
		c.logger.Warn("jwk conversion failed, using fallback key", zap.Error(err))
		return c.fallback()
	}
	return key
}

func (c *KeyFormatConverter) convert(pem string) (JWK, error) {
	pem = normalizePEM(pem)
	if !strings.Contains(pem, pemBeginMark) || !strings.Contains(pem, pemEndMark) {
		return JWK{}, errors.New("key is not PEM encoded")
	}
	parsed, err := jwk.ParseKey([]byte(pem), jwk.WithPEM(true))
	if err != nil {
		return JWK{}, fmt.Errorf("parse pem: %w", err)
	}
	pub, err := jwk.PublicKeyOf(parsed)
	if err != nil {
		return JWK{}, fmt.Errorf("public key: %w", err)
	}
	rsaKey, ok := pub.(jwk.RSAPublicKey)
	if !ok {
		return JWK{}, fmt.Errorf("unsupported key type %s", pub.KeyType())
	}
	if len(rsaKey.N()) == 0 || len(rsaKey.E()) == 0 {
		return JWK{}, errors.New("conversion produced no modulus or exponent")
	}

	out := JWK{
		Kty: keyTypeRSA,
		Use: keyUseSig,
		Alg: algRS256,
		N:   base64.RawURLEncoding.EncodeToString(rsaKey.N()),
		E:   base64.RawURLEncoding.EncodeToString(rsaKey.E()),
	}
	if thumb, err := pub.Thumbprint(crypto.SHA256); err == nil {
		out.Kid = base64.RawURLEncoding.EncodeToString(thumb)
	}
	return out, nil
}

func (c *KeyFormatConverter) fallback() JWK {
	FallbackKeys.Inc()
	return JWK{
		Kty: keyTypeRSA,
		Kid: fmt.Sprintf("auth-key-%d", c.now().UnixMilli()),
		Use: keyUseSig,
		Alg: algRS256,
		N:   FallbackModulus,
		E:   rsaExponent,
	}
}
