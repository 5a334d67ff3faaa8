package oauthclient

import (
	"fmt"

	"golang.org/x/oauth2"
)

// NewManualOAuth2Config builds an *oauth2.Config from pre-registered,
// manually supplied client credentials and endpoints — the counterpart to
// dynamic client registration for servers that require an out-of-band
// registration step.
func NewManualOAuth2Config(clientID, clientSecret, authURL, tokenURL, redirectURI string, scopes []string) (*oauth2.Config, error) {
	if clientID == "" {
		return nil, fmt.Errorf("oauthclient: manual config requires a client_id")
	}
	if authURL == "" || tokenURL == "" {
		return nil, fmt.Errorf("oauthclient: manual config requires authorization and token endpoints")
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}
