package authjwt

import (
	"crypto/rsa"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// normalizePEM turns escaped newlines (common when keys travel through
// environment variables) into real ones.
func normalizePEM(pem string) string {
	pem = strings.TrimSpace(pem)
	if !strings.Contains(pem, "\n") && strings.Contains(pem, `\n`) {
		pem = strings.ReplaceAll(pem, `\n`, "\n")
	}
	return pem
}

// ParseRSAPrivateKey decodes a PKCS#1 or PKCS#8 PEM encoded RSA private key.
func ParseRSAPrivateKey(pem string) (*rsa.PrivateKey, error) {
	return jwt.ParseRSAPrivateKeyFromPEM([]byte(normalizePEM(pem)))
}

// ParseRSAPublicKey decodes a PKIX, PKCS#1 or certificate PEM into an RSA
// public key.
func ParseRSAPublicKey(pem string) (*rsa.PublicKey, error) {
	return jwt.ParseRSAPublicKeyFromPEM([]byte(normalizePEM(pem)))
}
