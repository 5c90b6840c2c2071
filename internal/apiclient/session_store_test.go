package apiclient

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"github.com/spf13/afero"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	store, err := NewSessionStore(afero.NewMemMapFs(), "/home/tester/.config/launchleap/session.json")
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	if session, err := store.Load(); err != nil || session != nil {
		t.Fatalf("expected no session before saving, got %#v (%v)", session, err)
	}

	saved := testSession("token-1", testNow.Add(time.Hour))
	saved.User.Metadata.AvatarURL = "https://example.com/ada.png"
	if err := store.Save(saved); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if loaded == nil || loaded.AccessToken != "token-1" || !loaded.ExpiresAt.Equal(saved.ExpiresAt) {
		t.Fatalf("unexpected loaded session %#v", loaded)
	}
	if loaded.User != saved.User {
		t.Fatalf("expected user %#v, got %#v", saved.User, loaded.User)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("unexpected clear error: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clearing twice should succeed, got %v", err)
	}
	if session, err := store.Load(); err != nil || session != nil {
		t.Fatalf("expected no session after clearing, got %#v (%v)", session, err)
	}
}

func TestSessionStoreRejectsMalformedFile(t *testing.T) {
	filesystem := afero.NewMemMapFs()
	path := "/home/tester/.config/launchleap/session.json"
	store, err := NewSessionStore(filesystem, path)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	testCases := []struct {
		name    string
		content string
	}{
		{name: "not-json", content: "{not json"},
		{name: "missing-token", content: `{"user":{"id":"user-1"}}`},
		{name: "missing-user", content: `{"access_token":"token-1"}`},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if err := afero.WriteFile(filesystem, path, []byte(testCase.content), 0o600); err != nil {
				t.Fatalf("failed to seed session file: %v", err)
			}
			if _, err := store.Load(); !errors.Is(err, backend.ErrMalformedRow) {
				t.Fatalf("expected malformed row error, got %v", err)
			}
		})
	}
}

func TestSessionStoreTreatsEmptyFileAsSignedOut(t *testing.T) {
	filesystem := afero.NewMemMapFs()
	path := "/session.json"
	if err := afero.WriteFile(filesystem, path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("failed to seed session file: %v", err)
	}
	store, err := NewSessionStore(filesystem, path)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if session, err := store.Load(); err != nil || session != nil {
		t.Fatalf("expected empty file to mean no session, got %#v (%v)", session, err)
	}
}

func TestSessionStoreWritesOwnerOnlyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store, err := NewSessionStore(nil, path)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if err := store.Save(testSession("token-1", testNow.Add(time.Hour))); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected session file to exist: %v", err)
	}
	if info.Mode().Perm() != sessionFileMode {
		t.Fatalf("expected mode %o, got %o", sessionFileMode, info.Mode().Perm())
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("failed to list session directory: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the session file to remain, found %d entries", len(entries))
	}
}

func TestNewSessionStoreRequiresPath(t *testing.T) {
	if _, err := NewSessionStore(nil, "  "); !errors.Is(err, errMissingSessionPath) {
		t.Fatalf("expected missing path error, got %v", err)
	}
}
