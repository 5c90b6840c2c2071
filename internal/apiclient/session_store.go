package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"github.com/spf13/afero"
)

const sessionFileMode = 0o600

var errMissingSessionPath = errors.New("session path is required")

type storedUserMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type storedUser struct {
	ID           string             `json:"id"`
	Email        string             `json:"email,omitempty"`
	UserMetadata storedUserMetadata `json:"user_metadata"`
}

type storedSession struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresAt   int64      `json:"expires_at"`
	User        storedUser `json:"user"`
}

// SessionStore persists the signed-in session as a JSON file readable only by its owner.
type SessionStore struct {
	fs   afero.Fs
	path string
}

// NewSessionStore returns a store for path. A nil filesystem means the OS filesystem.
func NewSessionStore(filesystem afero.Fs, path string) (*SessionStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errMissingSessionPath
	}
	if filesystem == nil {
		filesystem = afero.NewOsFs()
	}
	return &SessionStore{fs: filesystem, path: filepath.Clean(path)}, nil
}

// Path is the session file location.
func (s *SessionStore) Path() string {
	return s.path
}

// Load returns the stored session, or nil when there is none.
func (s *SessionStore) Load() (*backend.Session, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: session file: %v", backend.ErrMalformedRow, err)
	}
	if strings.TrimSpace(stored.AccessToken) == "" || strings.TrimSpace(stored.User.ID) == "" {
		return nil, fmt.Errorf("%w: session file is missing its token or user", backend.ErrMalformedRow)
	}

	return &backend.Session{
		AccessToken: stored.AccessToken,
		TokenType:   stored.TokenType,
		ExpiresAt:   time.Unix(stored.ExpiresAt, 0).UTC(),
		User: backend.User{
			ID:    stored.User.ID,
			Email: stored.User.Email,
			Metadata: backend.UserMetadata{
				FullName:  stored.User.UserMetadata.FullName,
				AvatarURL: stored.User.UserMetadata.AvatarURL,
			},
		},
	}, nil
}

// Save replaces the stored session. Readers never observe a partially written file.
func (s *SessionStore) Save(session backend.Session) error {
	data, err := json.MarshalIndent(storedSession{
		AccessToken: session.AccessToken,
		TokenType:   session.TokenType,
		ExpiresAt:   session.ExpiresAt.Unix(),
		User: storedUser{
			ID:    session.User.ID,
			Email: session.User.Email,
			UserMetadata: storedUserMetadata{
				FullName:  session.User.Metadata.FullName,
				AvatarURL: session.User.Metadata.AvatarURL,
			},
		},
	}, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	temp, err := afero.TempFile(s.fs, dir, ".session-*")
	if err != nil {
		return fmt.Errorf("creating session file: %w", err)
	}
	tempName := temp.Name()
	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = s.fs.Remove(tempName)
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = s.fs.Remove(tempName)
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := s.fs.Chmod(tempName, sessionFileMode); err != nil {
		_ = s.fs.Remove(tempName)
		return fmt.Errorf("securing session file: %w", err)
	}
	if err := s.fs.Rename(tempName, s.path); err != nil {
		_ = s.fs.Remove(tempName)
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

// Clear removes the stored session. A missing file is not an error.
func (s *SessionStore) Clear() error {
	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}
