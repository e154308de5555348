package authjwt

import (
	"encoding/json"
	"time"
)

// Registered claim names.
const (
	ClaimSubject   = "sub"
	ClaimIssuer    = "iss"
	ClaimAudience  = "aud"
	ClaimIssuedAt  = "iat"
	ClaimExpiresAt = "exp"
	ClaimNotBefore = "nbf"
	ClaimJWTID     = "jti"
)

// Claims is the open claim set carried by a token. Registered time claims
// are held as Unix seconds (int64) after validation.
type Claims map[string]any

// Clone returns a shallow copy of the claim set.
func (c Claims) Clone() Claims {
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Subject returns the "sub" claim or "".
func (c Claims) Subject() string {
	return c.String(ClaimSubject)
}

// Issuer returns the "iss" claim or "".
func (c Claims) Issuer() string {
	return c.String(ClaimIssuer)
}

// JWTID returns the "jti" claim or "".
func (c Claims) JWTID() string {
	return c.String(ClaimJWTID)
}

// Audience returns the "aud" claim as a list.
func (c Claims) Audience() []string {
	switch v := c[ClaimAudience].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// IssuedAt returns the "iat" claim or the zero time.
func (c Claims) IssuedAt() time.Time {
	return c.Time(ClaimIssuedAt)
}

// ExpiresAt returns the "exp" claim or the zero time.
func (c Claims) ExpiresAt() time.Time {
	return c.Time(ClaimExpiresAt)
}

// NotBefore returns the "nbf" claim or the zero time.
func (c Claims) NotBefore() time.Time {
	return c.Time(ClaimNotBefore)
}

// String returns the claim under key when it is a string.
func (c Claims) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Time interprets the claim under key as a NumericDate.
func (c Claims) Time(key string) time.Time {
	secs, ok := numericDate(c[key])
	if !ok {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func numericDate(v any) (int64, bool) {
	switch n := v.(type) {
	case time.Time:
		if n.IsZero() {
			return 0, false
		}
		return n.Unix(), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	default:
		return 0, false
	}
}
