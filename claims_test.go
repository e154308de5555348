package authjwt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClaimsAccessors(t *testing.T) {
	claims := Claims{
		"sub": "user-1",
		"iss": testIssuer,
		"aud": []any{"a", "", "b"},
		"iat": int64(1767225600),
		"exp": json.Number("1767226500"),
		"nbf": float64(1767225600),
		"jti": 7,
	}
	require.Equal(t, "user-1", claims.Subject())
	require.Equal(t, testIssuer, claims.Issuer())
	require.Equal(t, []string{"a", "b"}, claims.Audience())
	require.Equal(t, time.Unix(1767225600, 0).UTC(), claims.IssuedAt())
	require.Equal(t, 15*time.Minute, claims.ExpiresAt().Sub(claims.IssuedAt()))
	require.Equal(t, claims.IssuedAt(), claims.NotBefore())
	require.Empty(t, claims.JWTID())

	require.Equal(t, []string{"only"}, Claims{"aud": "only"}.Audience())
	require.Nil(t, Claims{}.Audience())
	require.True(t, Claims{}.ExpiresAt().IsZero())
}

func TestClaimsClone(t *testing.T) {
	original := Claims{"sub": "user-1"}
	clone := original.Clone()
	clone["sub"] = "user-2"
	require.Equal(t, "user-1", original.Subject())
}

func TestDetachKeepsValuesDropsCancellation(t *testing.T) {
	type key struct{}
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "v"))
	detached := detach(parent)
	cancel()

	require.NoError(t, detached.Err())
	require.Nil(t, detached.Done())
	require.Equal(t, "v", detached.Value(key{}))
	require.Same(t, detached, detach(detached))
}
