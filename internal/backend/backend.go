// Package backend defines the typed contract the client side uses to reach the
// LaunchLeap backend: auth sessions, the profiles, tools and upvotes tables, and
// object storage.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound reports a row that does not exist.
	ErrNotFound = errors.New("backend: not found")
	// ErrConflict reports a uniqueness violation.
	ErrConflict = errors.New("backend: conflict")
	// ErrUnauthorized reports a missing, expired or revoked session.
	ErrUnauthorized = errors.New("backend: unauthorized")
	// ErrForbidden reports a write against a row the caller does not own.
	ErrForbidden = errors.New("backend: forbidden")
	// ErrInvalid reports a request the backend rejected as malformed.
	ErrInvalid = errors.New("backend: invalid request")
	// ErrUnavailable reports a backend that timed out or failed internally.
	ErrUnavailable = errors.New("backend: unavailable")
	// ErrMalformedRow reports a response row missing required fields.
	ErrMalformedRow = errors.New("backend: malformed row")
)

// APIError carries the HTTP status and error code of a failed backend call.
type APIError struct {
	Status int
	Code   string
	kind   error
}

// NewAPIError classifies a failed response by status code.
func NewAPIError(status int, code string) *APIError {
	return &APIError{Status: status, Code: code, kind: kindForStatus(status)}
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%v (status %d)", e.kind, e.Status)
	}
	return fmt.Sprintf("%v: %s (status %d)", e.kind, e.Code, e.Status)
}

// Unwrap exposes the sentinel matching the status so errors.Is works.
func (e *APIError) Unwrap() error {
	return e.kind
}

func kindForStatus(status int) error {
	switch status {
	case 400, 413, 415:
		return ErrInvalid
	case 401:
		return ErrUnauthorized
	case 403:
		return ErrForbidden
	case 404:
		return ErrNotFound
	case 409:
		return ErrConflict
	default:
		return ErrUnavailable
	}
}

// AuthEventType names an auth state transition.
type AuthEventType string

// Auth state transitions.
const (
	EventSignedIn       AuthEventType = "SIGNED_IN"
	EventSignedOut      AuthEventType = "SIGNED_OUT"
	EventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEventType = "USER_UPDATED"
)

// ProviderGoogle is the only OAuth provider the backend offers.
const ProviderGoogle = "google"

// UserMetadata is what the identity provider told us about the user.
type UserMetadata struct {
	FullName  string
	AvatarURL string
}

// User is the identity behind a session.
type User struct {
	ID       string
	Email    string
	Metadata UserMetadata
}

// Session is a signed-in session.
type Session struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	User        User
}

// ExpiresWithin reports whether the session expires before now+window.
func (s Session) ExpiresWithin(now time.Time, window time.Duration) bool {
	return !s.ExpiresAt.After(now.Add(window))
}

// Expired reports whether the session is no longer usable at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// AuthEvent is delivered on the auth state change stream. Session is nil for EventSignedOut.
type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}

// Profile is a row of the profiles table.
type Profile struct {
	ID        string
	UserID    string
	Username  *string
	Tagline   *string
	Bio       *string
	AvatarURL *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasUsername reports whether the profile finished setup.
func (p Profile) HasUsername() bool {
	return p.Username != nil && strings.TrimSpace(*p.Username) != ""
}

// NewProfile is an insert into the profiles table.
type NewProfile struct {
	UserID    string
	Username  *string
	Tagline   *string
	Bio       *string
	AvatarURL *string
}

// ProfileUpdate is a partial update. Nil fields are left alone and empty strings clear the column.
type ProfileUpdate struct {
	Username  *string
	Tagline   *string
	Bio       *string
	AvatarURL *string
}

// Empty reports whether the update touches no column.
func (u ProfileUpdate) Empty() bool {
	return u.Username == nil && u.Tagline == nil && u.Bio == nil && u.AvatarURL == nil
}

// Tool is a row of the tools table as seen by the caller.
type Tool struct {
	ID           uint64
	Title        string
	Description  string
	URL          *string
	LogoURL      *string
	IsPaid       *bool
	LaunchDate   *time.Time
	UserID       *string
	CreatedAt    time.Time
	UpvotesCount int64
	IsUpvoted    bool
}

// Paid treats an unknown price as free.
func (t Tool) Paid() bool {
	return t.IsPaid != nil && *t.IsPaid
}

// ToolQuery filters the tool listing.
type ToolQuery struct {
	Search  string
	Pricing string
	Sort    string
	OwnerID string
	Limit   int
	Offset  int
}

// NewTool is a tool submission.
type NewTool struct {
	Title       string
	Description string
	URL         string
	LogoURL     *string
	IsPaid      *bool
	LaunchDate  *time.Time
}

// UpvoteState is the authoritative upvote status of a tool for the caller.
type UpvoteState struct {
	ToolID  uint64
	Upvoted bool
	Count   int64
}

// Auth is the session side of the backend.
type Auth interface {
	// GetSession returns the current session or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)
	// OnAuthStateChange subscribes to auth transitions. Call the returned func to unsubscribe.
	OnAuthStateChange() (<-chan AuthEvent, func())
	SignInWithOAuth(ctx context.Context, provider, redirectURL string) error
	SignOut(ctx context.Context) error
}

// Profiles is the profiles table.
type Profiles interface {
	ByUserID(ctx context.Context, userID string) (Profile, error)
	ByUsername(ctx context.Context, username string) (Profile, error)
	Insert(ctx context.Context, profile NewProfile) (Profile, error)
	Update(ctx context.Context, userID string, update ProfileUpdate) (Profile, error)
}

// Tools is the tools table.
type Tools interface {
	List(ctx context.Context, query ToolQuery) ([]Tool, error)
	Trending(ctx context.Context, limit int) ([]Tool, error)
	Get(ctx context.Context, toolID uint64) (Tool, error)
	Create(ctx context.Context, tool NewTool) (Tool, error)
	Delete(ctx context.Context, toolID uint64) error
}

// Upvotes is the upvotes table, scoped to the signed-in user.
type Upvotes interface {
	Insert(ctx context.Context, toolID uint64) (UpvoteState, error)
	Delete(ctx context.Context, toolID uint64) (UpvoteState, error)
}

// Storage is the object store.
type Storage interface {
	// Upload stores data and returns the key it was stored under.
	Upload(ctx context.Context, bucket, key string, data []byte) (string, error)
	PublicURL(bucket, key string) string
}

// Client bundles the backend surfaces.
type Client struct {
	Auth     Auth
	Profiles Profiles
	Tools    Tools
	Upvotes  Upvotes
	Storage  Storage
}
