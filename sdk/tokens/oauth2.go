package tokens

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// ErrNoAccessToken is returned by the oauth2 adapter when the source holds no access token.
var ErrNoAccessToken = errors.New("tokens: no access token")

// OAuth2 converts p into an oauth2 bearer token without expiry information.
func (p Pair) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
	}
}

type oauth2Source struct {
	ctx context.Context
	src Source
}

// OAuth2TokenSource exposes src to code built around oauth2.Transport.
// Each Token call reads the current pair, so rotations are picked up immediately.
func OAuth2TokenSource(ctx context.Context, src Source) oauth2.TokenSource {
	if ctx == nil {
		ctx = context.Background()
	}
	return &oauth2Source{ctx: ctx, src: src}
}

func (s *oauth2Source) Token() (*oauth2.Token, error) {
	if s.src == nil {
		return nil, ErrNoAccessToken
	}
	pair := s.src.Tokens(s.ctx)
	if pair.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	return pair.OAuth2(), nil
}
