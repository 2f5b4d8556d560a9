package platform

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	scheduler "github.com/DEEJ4Y/postscheduler"
)

// DefaultTokenURL is the X OAuth 2.0 token endpoint.
const DefaultTokenURL = "https://api.twitter.com/2/oauth2/token"

// OAuthConfig holds client credentials for the refresh-token grant.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// OAuthRefresher implements scheduler.TokenExchanger.
//
// Confidential clients (a secret is configured) authenticate with HTTP Basic;
// public clients send client_id in the form body.
type OAuthRefresher struct {
	config oauth2.Config
	client *http.Client
}

// NewOAuthRefresher creates a refresher using client for the token call.
func NewOAuthRefresher(cfg OAuthConfig, client *http.Client) *OAuthRefresher {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if client == nil {
		client = NewHTTPClient("x-oauth", DefaultTimeout, "")
	}
	style := oauth2.AuthStyleInParams
	if cfg.ClientSecret != "" {
		style = oauth2.AuthStyleInHeader
	}
	return &OAuthRefresher{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: style,
			},
		},
		client: client,
	}
}

// Refresh exchanges refreshToken. The returned grant carries an empty
// RefreshToken when the provider did not issue a new one.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*scheduler.TokenGrant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	grant := &scheduler.TokenGrant{
		AccessToken: tok.AccessToken,
		Expiry:      tok.Expiry,
	}
	// oauth2 carries the old refresh token forward when none is returned.
	if tok.RefreshToken != refreshToken {
		grant.RefreshToken = tok.RefreshToken
	}
	return grant, nil
}
