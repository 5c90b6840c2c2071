package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/cache"
	"github.com/golang-jwt/jwt/v5"
)

func newTestValidator(t *testing.T, clock func() time.Time, revocations RevocationChecker) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		Revocations:   revocations,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }
	issued, err := newTestIssuer(t, clock).Issue(SessionUser{ID: "user-123", Email: "user@example.com"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	claims, err := newTestValidator(t, clock, nil).ValidateToken(context.Background(), issued.AccessToken)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != "user-123" || claims.Email != "user@example.com" {
		t.Fatalf("unexpected claims %#v", claims)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issued, err := newTestIssuer(t, func() time.Time { return clockNow.Add(-2 * time.Hour) }).Issue(SessionUser{ID: "user-123"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	_, err = newTestValidator(t, func() time.Time { return clockNow }, nil).ValidateToken(context.Background(), issued.AccessToken)
	if !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorRejectsForeignTokens(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow }, nil)

	testCases := []struct {
		name   string
		secret string
		claims SessionClaims
	}{
		{
			name:   "wrong-secret",
			secret: "other-secret",
			claims: validClaims(clockNow, testIssuer, testAudience),
		},
		{
			name:   "wrong-issuer",
			secret: testSigningSecret,
			claims: validClaims(clockNow, "someone-else", testAudience),
		},
		{
			name:   "wrong-audience",
			secret: testSigningSecret,
			claims: validClaims(clockNow, testIssuer, "another-api"),
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, testCase.claims).SignedString([]byte(testCase.secret))
			if err != nil {
				t.Fatalf("failed to sign token: %v", err)
			}
			if _, err := validator.ValidateToken(context.Background(), signed); !errors.Is(err, ErrInvalidSessionToken) {
				t.Fatalf("expected invalid token error, got %v", err)
			}
		})
	}
}

func TestSessionValidatorRejectsMismatchedSubject(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	claims := validClaims(clockNow, testIssuer, testAudience)
	claims.UserID = ""
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	_, err = newTestValidator(t, func() time.Time { return clockNow }, nil).ValidateToken(context.Background(), signed)
	if !errors.Is(err, ErrMissingSessionSubject) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}

func TestSessionValidatorRejectsRevokedTokens(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }
	revocations := NewRevocationStore(cache.NewMemory(clock), clock)
	validator := newTestValidator(t, clock, revocations)

	issued, err := newTestIssuer(t, clock).Issue(SessionUser{ID: "user-123"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := validator.ValidateToken(context.Background(), issued.AccessToken); err != nil {
		t.Fatalf("expected token to validate before revocation: %v", err)
	}

	revocations.Revoke(context.Background(), issued.TokenID, issued.ExpiresAt)

	if _, err := validator.ValidateToken(context.Background(), issued.AccessToken); !errors.Is(err, ErrRevokedSessionToken) {
		t.Fatalf("expected revoked token error, got %v", err)
	}
}

func TestSessionValidatorValidateRequestSources(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }
	validator := newTestValidator(t, clock, nil)
	issued, err := newTestIssuer(t, clock).Issue(SessionUser{ID: "user-123"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	testCases := []struct {
		name    string
		prepare func(*http.Request)
	}{
		{name: "bearer", prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+issued.AccessToken) }},
		{name: "cookie", prepare: func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: DefaultSessionCookieName, Value: issued.AccessToken})
		}},
		{name: "query", prepare: func(r *http.Request) {
			query := r.URL.Query()
			query.Set(AccessTokenQueryParameter, issued.AccessToken)
			r.URL.RawQuery = query.Encode()
		}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
			testCase.prepare(request)
			claims, err := validator.ValidateRequest(request)
			if err != nil {
				t.Fatalf("expected request to validate: %v", err)
			}
			if claims.UserID != "user-123" {
				t.Fatalf("unexpected user id %s", claims.UserID)
			}
		})
	}

	if _, err := validator.ValidateRequest(httptest.NewRequest(http.MethodGet, "/auth/session", nil)); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestNewSessionValidatorRequiresAudience(t *testing.T) {
	_, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte(testSigningSecret), Issuer: testIssuer})
	if !errors.Is(err, ErrMissingSessionAudience) {
		t.Fatalf("expected missing audience error, got %v", err)
	}
}

func validClaims(now time.Time, issuer, audience string) SessionClaims {
	return SessionClaims{
		UserID: "user-123",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "token-1",
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			Subject:   "user-123",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestSessionValidatorCredentialPrecedence(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }
	validator := newTestValidator(t, clock, nil)
	issued, err := newTestIssuer(t, clock).Issue(SessionUser{ID: "user-123"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	testCases := []struct {
		name          string
		authorization string
		wantErr       error
	}{
		{name: "bearer-beats-cookie", authorization: "Bearer not-a-jwt", wantErr: ErrInvalidSessionToken},
		{name: "lowercase-scheme", authorization: "bearer " + issued.AccessToken},
		{name: "basic-falls-through", authorization: "Basic dXNlcjpwYXNz"},
		{name: "empty-bearer-falls-through", authorization: "Bearer"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
			request.Header.Set("Authorization", testCase.authorization)
			request.AddCookie(&http.Cookie{Name: DefaultSessionCookieName, Value: issued.AccessToken})
			_, err := validator.ValidateRequest(request)
			if testCase.wantErr == nil && err != nil {
				t.Fatalf("expected request to validate: %v", err)
			}
			if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestSessionClaimsValidate(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	claims := validClaims(now, testIssuer, testAudience)
	if err := claims.Validate(); err != nil {
		t.Fatalf("expected matching subject to pass: %v", err)
	}
	claims.Subject = "user-456"
	if err := claims.Validate(); !errors.Is(err, ErrMissingSessionSubject) {
		t.Fatalf("expected mismatched subject to fail, got %v", err)
	}
}
