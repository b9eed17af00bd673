// internal/common/auth/token.go
package auth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"crm-dialogs/internal/common/config"
	"crm-dialogs/internal/common/errors"
)

// TokenSource yields bearer tokens for outbound CRM calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientCredentials obtains and caches app-only tokens using the OAuth2 client
// credentials grant. Tokens are refreshed shortly before expiry.
type ClientCredentials struct {
	cfg *clientcredentials.Config

	mu  sync.Mutex
	src oauth2.TokenSource
}

func NewClientCredentials(tokenURL, clientID, clientSecret string, scopes ...string) *ClientCredentials {
	return &ClientCredentials{
		cfg: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
	}
}

// NewDynamicsCredentials builds the token source for a Dynamics organization.
func NewDynamicsCredentials(cfg config.DynamicsConfig) *ClientCredentials {
	return NewClientCredentials(cfg.GetTokenURL(), cfg.ClientID, cfg.ClientSecret, cfg.GetScope())
}

func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.src == nil {
		// The source is bound to the first caller's context for its HTTP client only;
		// deadlines are not retained across calls.
		c.src = oauth2.ReuseTokenSource(nil, c.cfg.TokenSource(context.WithoutCancel(ctx)))
	}
	src := c.src
	c.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return "", errors.NewCRMAuthFailedError(err)
	}
	if tok.AccessToken == "" {
		return "", errors.NewCRMAuthFailedError(fmt.Errorf("token endpoint returned an empty access token"))
	}
	return tok.AccessToken, nil
}

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}
