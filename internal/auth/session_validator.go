package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionCookieName is the cookie the browser flow stores the session token in.
	DefaultSessionCookieName = "launchleap_session"
	// AccessTokenQueryParameter lets EventSource clients, which cannot set headers, authenticate.
	AccessTokenQueryParameter = "access_token"

	bearerScheme = "bearer"
)

var (
	ErrMissingSessionSigningKey = errors.New("session validator: signing key required")
	ErrMissingSessionIssuer     = errors.New("session validator: issuer required")
	ErrMissingSessionAudience   = errors.New("session validator: audience required")
	ErrMissingSessionToken      = errors.New("session validator: token required")
	ErrInvalidSessionToken      = errors.New("session validator: invalid token")
	ErrExpiredSessionToken      = errors.New("session validator: token expired")
	ErrRevokedSessionToken      = errors.New("session validator: token revoked")
	ErrMissingSessionSubject    = errors.New("session validator: subject required")
)

// RevocationChecker reports whether a token id was revoked before its expiry.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) bool
}

// SessionValidatorConfig mirrors the TokenIssuerConfig the tokens were minted with.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	CookieName    string
	Revocations   RevocationChecker
	Clock         func() time.Time
}

// credentialSource pulls a session token out of one part of a request.
type credentialSource func(r *http.Request) string

// SessionValidator accepts the HS256 session tokens minted by TokenIssuer.
type SessionValidator struct {
	parser      *jwt.Parser
	secret      []byte
	cookieName  string
	sources     []credentialSource
	revocations RevocationChecker
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	switch {
	case len(cfg.SigningSecret) == 0:
		return nil, ErrMissingSessionSigningKey
	case strings.TrimSpace(cfg.Issuer) == "":
		return nil, ErrMissingSessionIssuer
	case strings.TrimSpace(cfg.Audience) == "":
		return nil, ErrMissingSessionAudience
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = DefaultSessionCookieName
	}

	return &SessionValidator{
		parser: jwt.NewParser(
			jwt.WithTimeFunc(clock),
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(strings.TrimSpace(cfg.Issuer)),
			jwt.WithAudience(strings.TrimSpace(cfg.Audience)),
			jwt.WithExpirationRequired(),
		),
		secret:      append([]byte(nil), cfg.SigningSecret...),
		cookieName:  cookieName,
		sources:     []credentialSource{bearerHeader, sessionCookie(cookieName), accessTokenQuery},
		revocations: cfg.Revocations,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken checks signature, issuer, audience, expiry and revocation.
func (v *SessionValidator) ValidateToken(ctx context.Context, tokenString string) (SessionClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	var claims SessionClaims
	if _, err := v.parser.ParseWithClaims(tokenString, &claims, v.signingKey); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return SessionClaims{}, ErrExpiredSessionToken
		case errors.Is(err, ErrMissingSessionSubject):
			return SessionClaims{}, ErrMissingSessionSubject
		default:
			return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
		}
	}
	if v.revocations != nil && v.revocations.IsRevoked(ctx, claims.TokenID()) {
		return SessionClaims{}, ErrRevokedSessionToken
	}
	return claims, nil
}

func (v *SessionValidator) signingKey(*jwt.Token) (interface{}, error) {
	return v.secret, nil
}

// ValidateRequest validates the first session token found in the request.
// The bearer header wins over the cookie, which wins over the query parameter.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	for _, source := range v.sources {
		if token := source(r); token != "" {
			return v.ValidateToken(r.Context(), token)
		}
	}
	return SessionClaims{}, ErrMissingSessionToken
}

func bearerHeader(r *http.Request) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}

func sessionCookie(name string) credentialSource {
	return func(r *http.Request) string {
		cookie, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(cookie.Value)
	}
}

func accessTokenQuery(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get(AccessTokenQueryParameter))
}
