package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/accounts"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/auth"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/cache"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/database"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/profiles"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/storage"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/tools"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "launchleap-auth"
	testAudience      = "launchleap-api"
	testPublicBaseURL = "http://api.launchleap.test"
)

// stubVerifier treats the raw ID token as "<subject>|<email>|<name>".
type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, rawToken string) (auth.Identity, error) {
	parts := strings.Split(rawToken, "|")
	if len(parts) != 3 || parts[0] == "" {
		return auth.Identity{}, fmt.Errorf("unrecognized test token %q", rawToken)
	}
	return auth.Identity{
		Provider: auth.ProviderGoogle,
		Subject:  parts[0],
		Email:    parts[1],
		FullName: parts[2],
	}, nil
}

type stubOAuth struct {
	idToken string
}

func (s stubOAuth) AuthURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (s stubOAuth) Exchange(_ context.Context, code string) (string, error) {
	if code != "good-code" {
		return "", fmt.Errorf("bad code")
	}
	return s.idToken, nil
}

type testHarness struct {
	handler http.Handler
	events  *AuthEventHub
}

type harnessOptions struct {
	oauth          OAuthFlow
	allowedOrigins []string
	heartbeat      time.Duration
}

func newTestHarness(t *testing.T, options harnessOptions) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	memory := cache.NewMemory(nil)
	revocations := auth.NewRevocationStore(memory, nil)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		Revocations:   revocations,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct user service: %v", err)
	}
	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db, IDProvider: profiles.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to construct profile service: %v", err)
	}
	toolService, err := tools.NewService(tools.ServiceConfig{Database: db, Cache: memory})
	if err != nil {
		t.Fatalf("failed to construct tool service: %v", err)
	}
	accountService, err := accounts.NewService(accounts.ServiceConfig{Database: db, Identities: userService, Tools: toolService})
	if err != nil {
		t.Fatalf("failed to construct account service: %v", err)
	}
	objects, err := storage.New(storage.Config{Filesystem: afero.NewMemMapFs(), PublicBaseURL: testPublicBaseURL})
	if err != nil {
		t.Fatalf("failed to construct storage: %v", err)
	}

	events := NewAuthEventHub(zap.NewNop())
	handler, err := NewHTTPHandler(Dependencies{
		IdentityVerifier:  stubVerifier{},
		SessionTokens:     issuer,
		SessionValidator:  validator,
		TokenRevoker:      revocations,
		OAuth:             options.oauth,
		Users:             userService,
		Profiles:          profileService,
		Tools:             toolService,
		Accounts:          accountService,
		Storage:           objects,
		Events:            events,
		AllowedOrigins:    options.allowedOrigins,
		HeartbeatInterval: options.heartbeat,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &testHarness{
		handler: handler,
		events:  events,
	}
}

// signIn exchanges a stub ID token and returns the session token and user id.
func (h *testHarness) signIn(t *testing.T, subject, email, name string) (string, string) {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/auth/google", "", map[string]string{"id_token": subject + "|" + email + "|" + name})
	if recorder.Code != http.StatusOK {
		t.Fatalf("sign in failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var response authResponsePayload
	decode(t, recorder, &response)
	return response.AccessToken, response.User.ID
}

func (h *testHarness) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return h.serve(request)
}

func (h *testHarness) serve(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func expectError(t *testing.T, recorder *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Error string `json:"error"`
	}
	decode(t, recorder, &payload)
	if payload.Error != code {
		t.Fatalf("expected error %q, got %q", code, payload.Error)
	}
}
