package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

var (
	// ErrMissingIDToken reports a token response without an id_token.
	ErrMissingIDToken = errors.New("auth: token response carried no id_token")
	// ErrInvalidOAuthConfig reports a GoogleOAuth built from unusable configuration.
	ErrInvalidOAuthConfig = errors.New("auth: invalid oauth config")
)

// GoogleOAuthConfig describes the registered Google OAuth client.
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
}

// GoogleOAuth drives the authorization code flow against Google.
// The ID token returned by the exchange is handed to GoogleVerifier.
type GoogleOAuth struct {
	config *oauth2.Config
}

// NewGoogleOAuth constructs the code flow client. Endpoint defaults to Google's.
func NewGoogleOAuth(cfg GoogleOAuthConfig) (*GoogleOAuth, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: client id and secret are required", ErrInvalidOAuthConfig)
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, fmt.Errorf("%w: redirect url is required", ErrInvalidOAuthConfig)
	}
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		endpoint = endpoints.Google
	}
	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
	}, nil
}

// NewState returns an unguessable value binding the callback to the browser that started the flow.
func NewState() (string, error) {
	buffer := make([]byte, 32)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// AuthURL returns the consent screen URL for the given state.
func (g *GoogleOAuth) AuthURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades the authorization code for Google's raw ID token.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("auth: authorization code is required")
	}
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("auth: exchanging oauth code: %w", err)
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return "", ErrMissingIDToken
	}
	return rawIDToken, nil
}
