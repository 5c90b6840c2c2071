package apiclient

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type recordedRequest struct {
	method        string
	path          string
	rawQuery      string
	authorization string
	body          []byte
}

// fakeBackend records requests and answers with canned handlers.
type fakeBackend struct {
	t        *testing.T
	server   *httptest.Server
	mux      *http.ServeMux
	mu       sync.Mutex
	requests []recordedRequest
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fake := &fakeBackend{t: t, mux: http.NewServeMux()}
	fake.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fake.mu.Lock()
		fake.requests = append(fake.requests, recordedRequest{
			method:        r.Method,
			path:          r.URL.Path,
			rawQuery:      r.URL.RawQuery,
			authorization: r.Header.Get("Authorization"),
			body:          body,
		})
		fake.mu.Unlock()
		fake.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(fake.server.Close)
	return fake
}

func (f *fakeBackend) handle(pattern string, status int, payload any) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, payload)
	})
}

func (f *fakeBackend) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeBackend) last() recordedRequest {
	f.t.Helper()
	requests := f.recorded()
	if len(requests) == 0 {
		f.t.Fatalf("expected a recorded request")
	}
	return requests[len(requests)-1]
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

type clientOptions struct {
	fs      afero.Fs
	path    string
	watch   bool
	openURL func(string) error
	now     time.Time
}

func newTestClient(t *testing.T, fake *fakeBackend, options clientOptions) *Client {
	t.Helper()
	filesystem := options.fs
	if filesystem == nil {
		filesystem = afero.NewMemMapFs()
	}
	path := options.path
	if path == "" {
		path = filepath.Join("/home/tester/.config/launchleap", "session.json")
	}
	store, err := NewSessionStore(filesystem, path)
	if err != nil {
		t.Fatalf("failed to build session store: %v", err)
	}
	now := options.now
	if now.IsZero() {
		now = testNow
	}
	client, err := New(Config{
		BaseURL:         fake.server.URL,
		HTTPClient:      fake.server.Client(),
		SessionStore:    store,
		OpenURL:         options.openURL,
		WatchSession:    options.watch,
		CallbackTimeout: 5 * time.Second,
		Clock:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func signedToken(t *testing.T, tokenID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ID: tokenID, Subject: "user-1"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func testSession(token string, expiresAt time.Time) backend.Session {
	return backend.Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
		User: backend.User{
			ID:       "user-1",
			Email:    "ada@example.com",
			Metadata: backend.UserMetadata{FullName: "Ada Lovelace"},
		},
	}
}

func userPayload() map[string]any {
	return map[string]any{
		"id":            "user-1",
		"email":         "ada@example.com",
		"user_metadata": map[string]string{"full_name": "Ada Lovelace"},
	}
}

func awaitAuthEvent(t *testing.T, events <-chan backend.AuthEvent, want backend.AuthEventType) backend.AuthEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		case event, open := <-events:
			if !open {
				t.Fatalf("event stream closed before %s", want)
			}
			if event.Type == want {
				return event
			}
		}
	}
}
