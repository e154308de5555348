package authjwt

import (
	"golang.org/x/oauth2"
)

// TokenSource returns an oauth2.TokenSource that mints access tokens for
// claims and reuses each one until shortly before it expires. Used with
// oauth2.NewClient it sends the "Authorization: Bearer" carrier expected by
// the validators.
func (i *TokenIssuer) TokenSource(claims Claims) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &issuerTokenSource{
		issuer: i,
		claims: claims.Clone(),
	})
}

type issuerTokenSource struct {
	issuer *TokenIssuer
	claims Claims
}

func (s *issuerTokenSource) Token() (*oauth2.Token, error) {
	issuedAt := s.issuer.now()
	signed, err := s.issuer.SignAccessToken(s.claims)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		Expiry:      issuedAt.Add(s.issuer.cfg.AccessTTL),
	}, nil
}
