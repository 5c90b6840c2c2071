package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
)

const eventTimeout = 5 * time.Second

// barrierEvent is ignored by the manager. Sending it on the unbuffered event
// channel returns only after every earlier event was handled.
const barrierEvent backend.AuthEventType = "BARRIER"

type fakeAuth struct {
	mu             sync.Mutex
	session        *backend.Session
	sessionErr     error
	blockProbe     bool
	signInErr      error
	signOutErr     error
	signInCalls    []string
	signOutCalls   int
	unsubscribed   bool
	events         chan backend.AuthEvent
	getSessionHits int
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{events: make(chan backend.AuthEvent)}
}

func (f *fakeAuth) GetSession(ctx context.Context) (*backend.Session, error) {
	f.mu.Lock()
	f.getSessionHits++
	block := f.blockProbe
	session, err := f.session, f.sessionErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return session, err
}

func (f *fakeAuth) OnAuthStateChange() (<-chan backend.AuthEvent, func()) {
	return f.events, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribed = true
	}
}

func (f *fakeAuth) SignInWithOAuth(_ context.Context, provider, redirectURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signInCalls = append(f.signInCalls, provider+" "+redirectURL)
	return f.signInErr
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return f.signOutErr
}

func (f *fakeAuth) emit(t *testing.T, event backend.AuthEvent) {
	t.Helper()
	select {
	case f.events <- event:
	case <-time.After(eventTimeout):
		t.Fatalf("manager did not accept %s", event.Type)
	}
}

// settle waits until every emitted event was handled.
func (f *fakeAuth) settle(t *testing.T) {
	t.Helper()
	f.emit(t, backend.AuthEvent{Type: barrierEvent})
}

type fakeProfiles struct {
	mu        sync.Mutex
	rows      map[string]backend.Profile
	fetchErr  error
	insertErr error
	updateErr error
	// raceOnInsert stores the row, as a concurrent sign-in would, and still fails the insert.
	raceOnInsert bool
	inserts      []backend.NewProfile
	updates      []backend.ProfileUpdate
	fetches      int
}

func newFakeProfiles(rows ...backend.Profile) *fakeProfiles {
	profiles := &fakeProfiles{rows: make(map[string]backend.Profile)}
	for _, row := range rows {
		profiles.rows[row.UserID] = row
	}
	return profiles
}

func (f *fakeProfiles) ByUserID(_ context.Context, userID string) (backend.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return backend.Profile{}, f.fetchErr
	}
	row, ok := f.rows[userID]
	if !ok {
		return backend.Profile{}, backend.NewAPIError(404, "profile_not_found")
	}
	return row, nil
}

func (f *fakeProfiles) ByUsername(_ context.Context, username string) (backend.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Username != nil && *row.Username == username {
			return row, nil
		}
	}
	return backend.Profile{}, backend.ErrNotFound
}

func (f *fakeProfiles) Insert(_ context.Context, profile backend.NewProfile) (backend.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, profile)
	row := backend.Profile{
		ID:        "profile-" + profile.UserID,
		UserID:    profile.UserID,
		Username:  profile.Username,
		Tagline:   profile.Tagline,
		Bio:       profile.Bio,
		AvatarURL: profile.AvatarURL,
	}
	if f.raceOnInsert {
		f.rows[profile.UserID] = row
		return backend.Profile{}, backend.ErrConflict
	}
	if f.insertErr != nil {
		return backend.Profile{}, f.insertErr
	}
	if _, exists := f.rows[profile.UserID]; exists {
		return backend.Profile{}, backend.ErrConflict
	}
	f.rows[profile.UserID] = row
	return row, nil
}

func (f *fakeProfiles) Update(_ context.Context, userID string, update backend.ProfileUpdate) (backend.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	if f.updateErr != nil {
		return backend.Profile{}, f.updateErr
	}
	row, ok := f.rows[userID]
	if !ok {
		return backend.Profile{}, backend.ErrNotFound
	}
	apply := func(target **string, value *string) {
		if value == nil {
			return
		}
		if *value == "" {
			*target = nil
			return
		}
		copied := *value
		*target = &copied
	}
	apply(&row.Username, update.Username)
	apply(&row.Tagline, update.Tagline)
	apply(&row.Bio, update.Bio)
	apply(&row.AvatarURL, update.AvatarURL)
	f.rows[userID] = row
	return row, nil
}

func (f *fakeProfiles) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts)
}

func (f *fakeProfiles) calls() (fetches, inserts, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, len(f.inserts), len(f.updates)
}

type recordingNavigator struct {
	mu     sync.Mutex
	routes []string
}

func (n *recordingNavigator) Navigate(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
}

func (n *recordingNavigator) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.routes...)
}

func stringPtr(value string) *string {
	return &value
}

func sessionFor(userID, email, fullName string) *backend.Session {
	return &backend.Session{
		AccessToken: "token-" + userID,
		TokenType:   "bearer",
		ExpiresAt:   time.Now().Add(time.Hour),
		User: backend.User{
			ID:       userID,
			Email:    email,
			Metadata: backend.UserMetadata{FullName: fullName},
		},
	}
}
