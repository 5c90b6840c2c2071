package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/oauth2"
)

func newTokenEndpoint(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token request: %v", err)
		}
		if r.PostForm.Get("code") != "auth-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestOAuth(t *testing.T, tokenURL string) *GoogleOAuth {
	t.Helper()
	client, err := NewGoogleOAuth(GoogleOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return client
}

func TestGoogleOAuthExchangeReturnsIDToken(t *testing.T) {
	server := newTokenEndpoint(t, `{"access_token":"at","token_type":"Bearer","expires_in":3600,"id_token":"raw-id-token"}`)
	client := newTestOAuth(t, server.URL)

	idToken, err := client.Exchange(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("unexpected exchange error: %v", err)
	}
	if idToken != "raw-id-token" {
		t.Fatalf("unexpected id token %q", idToken)
	}
}

func TestGoogleOAuthExchangeRequiresIDToken(t *testing.T) {
	server := newTokenEndpoint(t, `{"access_token":"at","token_type":"Bearer","expires_in":3600}`)
	client := newTestOAuth(t, server.URL)

	if _, err := client.Exchange(context.Background(), "auth-code"); !errors.Is(err, ErrMissingIDToken) {
		t.Fatalf("expected missing id token error, got %v", err)
	}
}

func TestGoogleOAuthExchangeSurfacesProviderErrors(t *testing.T) {
	server := newTokenEndpoint(t, `{}`)
	client := newTestOAuth(t, server.URL)

	if _, err := client.Exchange(context.Background(), "wrong-code"); err == nil {
		t.Fatalf("expected exchange to fail for rejected code")
	}
}

func TestGoogleOAuthAuthURLCarriesState(t *testing.T) {
	client := newTestOAuth(t, "https://accounts.example.com/token")
	state, err := NewState()
	if err != nil {
		t.Fatalf("failed to generate state: %v", err)
	}

	parsed, err := url.Parse(client.AuthURL(state))
	if err != nil {
		t.Fatalf("auth url did not parse: %v", err)
	}
	query := parsed.Query()
	if query.Get("state") != state {
		t.Fatalf("expected state %q, got %q", state, query.Get("state"))
	}
	if query.Get("client_id") != "client-id" {
		t.Fatalf("unexpected client id %q", query.Get("client_id"))
	}
	if query.Get("scope") != "openid email profile" {
		t.Fatalf("unexpected scope %q", query.Get("scope"))
	}
}

func TestNewGoogleOAuthValidatesConfig(t *testing.T) {
	_, err := NewGoogleOAuth(GoogleOAuthConfig{ClientID: "id", RedirectURL: "http://localhost/cb"})
	if !errors.Is(err, ErrInvalidOAuthConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}
