package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultTokenTTL = 24 * time.Hour
	// TokenTypeBearer is the token_type reported alongside issued tokens.
	TokenTypeBearer = "bearer"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")
	errMissingSessionUser   = errors.New("session user id must be provided")
)

// SessionUser is the identity embedded into a session token.
type SessionUser struct {
	ID        string
	Email     string
	FullName  string
	AvatarURL string
}

// SessionClaims is the JWT payload of LaunchLeap session tokens.
type SessionClaims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

// User reconstructs the embedded session user.
func (c SessionClaims) User() SessionUser {
	return SessionUser{
		ID:        c.UserID,
		Email:     c.Email,
		FullName:  c.FullName,
		AvatarURL: c.AvatarURL,
	}
}

// TokenID returns the jti used for revocation.
func (c SessionClaims) TokenID() string {
	return c.ID
}

// Validate runs after the registered claims check: the subject must name the embedded user.
func (c SessionClaims) Validate() error {
	if strings.TrimSpace(c.UserID) == "" || c.Subject != c.UserID {
		return ErrMissingSessionSubject
	}
	return nil
}

// ExpiresAtTime returns the expiry, zero when absent.
func (c SessionClaims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssuedToken is a signed session token with its expiry.
type IssuedToken struct {
	AccessToken string
	TokenID     string
	ExpiresAt   time.Time
	ExpiresIn   int64
}

// TokenIssuerConfig configures the session token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer mints HS256 session tokens after the identity provider vouched for a user.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errMissingAudience
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue produces a signed session token for the user.
func (i *TokenIssuer) Issue(user SessionUser) (IssuedToken, error) {
	if strings.TrimSpace(user.ID) == "" {
		return IssuedToken{}, errMissingSessionUser
	}

	now := i.clock().UTC().Truncate(time.Second)
	expiresAt := now.Add(i.ttl)
	tokenID := uuid.NewString()

	claims := SessionClaims{
		UserID:    user.ID,
		Email:     user.Email,
		FullName:  user.FullName,
		AvatarURL: user.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   user.ID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingSecret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("auth: signing session token: %w", err)
	}

	return IssuedToken{
		AccessToken: signed,
		TokenID:     tokenID,
		ExpiresAt:   expiresAt,
		ExpiresIn:   int64(i.ttl.Seconds()),
	}, nil
}

// Refresh mints a fresh token for the user carried by still-valid claims.
func (i *TokenIssuer) Refresh(claims SessionClaims) (IssuedToken, error) {
	return i.Issue(claims.User())
}
