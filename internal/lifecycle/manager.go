// Package lifecycle keeps the signed-in user's session and profile in one
// authoritative in-memory state and reconciles it with backend auth events.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"go.uber.org/zap"
)

const defaultProbeTimeout = 10 * time.Second

var (
	// ErrUnauthenticated reports an operation that needs a signed-in user.
	ErrUnauthenticated = errors.New("lifecycle: not signed in")
	// ErrNotInitialized reports use of a manager before Init.
	ErrNotInitialized = errors.New("lifecycle: manager not initialized")
	// ErrDisposed reports use of a manager after Dispose.
	ErrDisposed = errors.New("lifecycle: manager disposed")

	errMissingAuth     = errors.New("auth backend is required")
	errMissingProfiles = errors.New("profiles backend is required")
)

// Phase is the lifecycle state machine position.
type Phase string

// Lifecycle phases.
const (
	PhaseInitializing Phase = "initializing"
	PhaseAnonymous    Phase = "anonymous"
	PhaseNoProfile    Phase = "authenticated_no_profile"
	PhaseWithProfile  Phase = "authenticated_with_profile"
)

const (
	operationProbe       = "lifecycle.probe"
	operationSignedIn    = "lifecycle.signed_in"
	operationRefetch     = "lifecycle.refetch"
	operationFetchCreate = "lifecycle.fetch_or_create"
)

// State is a snapshot of the session and profile view.
type State struct {
	Phase   Phase
	Session *backend.Session
	User    *backend.User
	Profile *backend.Profile
	Loading bool
}

// Authenticated reports whether a user is signed in.
func (s State) Authenticated() bool {
	return s.User != nil
}

// Navigator performs route changes requested by the manager.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

// Navigate calls f(route).
func (f NavigatorFunc) Navigate(route string) {
	f(route)
}

// Config wires a Manager.
type Config struct {
	Auth      backend.Auth
	Profiles  backend.Profiles
	Navigator Navigator
	// RedirectURL is where the identity provider sends the browser back to.
	RedirectURL string
	// ProbeTimeout bounds the startup session probe.
	ProbeTimeout time.Duration
	Logger       *zap.Logger
}

// Manager owns the session and profile state. Every write goes through one
// reconcile lock so the startup probe and auth events never race.
type Manager struct {
	auth         backend.Auth
	profiles     backend.Profiles
	navigator    Navigator
	redirectURL  string
	probeTimeout time.Duration
	logger       *zap.Logger

	reconcileMu sync.Mutex

	stateMu sync.RWMutex
	state   State

	watchers *stateHub

	lifecycleMu  sync.Mutex
	initialized  bool
	disposed     bool
	cancelEvents context.CancelFunc
	unsubscribe  func()
	eventsDone   chan struct{}
}

// New validates cfg and returns a manager in PhaseInitializing.
func New(cfg Config) (*Manager, error) {
	if cfg.Auth == nil {
		return nil, errMissingAuth
	}
	if cfg.Profiles == nil {
		return nil, errMissingProfiles
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	navigator := cfg.Navigator
	if navigator == nil {
		navigator = NavigatorFunc(func(route string) {
			logger.Debug("navigation requested", zap.String("route", route))
		})
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}

	initial := State{Phase: PhaseInitializing, Loading: true}
	return &Manager{
		auth:         cfg.Auth,
		profiles:     cfg.Profiles,
		navigator:    navigator,
		redirectURL:  strings.TrimSpace(cfg.RedirectURL),
		probeTimeout: probeTimeout,
		logger:       logger,
		state:        initial,
		watchers:     newStateHub(initial),
	}, nil
}

// Init subscribes to auth events and then probes for an existing session.
// Probe failures are logged and leave the manager Anonymous.
func (m *Manager) Init(ctx context.Context) error {
	m.lifecycleMu.Lock()
	if m.disposed {
		m.lifecycleMu.Unlock()
		return ErrDisposed
	}
	if m.initialized {
		m.lifecycleMu.Unlock()
		return nil
	}
	m.initialized = true
	events, unsubscribe := m.auth.OnAuthStateChange()
	eventCtx, cancel := context.WithCancel(context.Background())
	m.unsubscribe = unsubscribe
	m.cancelEvents = cancel
	m.eventsDone = make(chan struct{})
	go m.consume(eventCtx, events, m.eventsDone)
	m.lifecycleMu.Unlock()

	m.probe(ctx)
	return nil
}

// Dispose stops event handling and ends every Watch stream.
func (m *Manager) Dispose() {
	m.lifecycleMu.Lock()
	if m.disposed {
		m.lifecycleMu.Unlock()
		return
	}
	m.disposed = true
	cancel, unsubscribe, done := m.cancelEvents, m.unsubscribe, m.eventsDone
	m.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if done != nil {
		<-done
	}
	m.watchers.close()
}

// State returns the current snapshot.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return cloneState(m.state)
}

// Watch streams state snapshots, starting with the current one. Slow readers
// only miss intermediate snapshots, never the latest.
func (m *Manager) Watch() (<-chan State, func()) {
	return m.watchers.subscribe()
}

// WaitFor blocks until ready reports true for a snapshot or ctx ends.
func (m *Manager) WaitFor(ctx context.Context, ready func(State) bool) (State, error) {
	states, stop := m.Watch()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return m.State(), ctx.Err()
		case state, open := <-states:
			if !open {
				return m.State(), ErrDisposed
			}
			if ready(state) {
				return state, nil
			}
		}
	}
}

// SignInWithGoogle starts the OAuth flow. The resulting SIGNED_IN event drives
// profile provisioning and navigation.
func (m *Manager) SignInWithGoogle(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.auth.SignInWithOAuth(ctx, backend.ProviderGoogle, m.redirectURL)
}

// SignOut ends the backend session, resets to Anonymous and navigates home.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	if err := m.auth.SignOut(ctx); err != nil {
		return err
	}
	m.setState(State{Phase: PhaseAnonymous})
	m.navigator.Navigate(RouteHome)
	return nil
}

// UpdateProfile writes update to the signed-in user's profile and re-reads it.
// A user without a profile gets one provisioned first.
func (m *Manager) UpdateProfile(ctx context.Context, update backend.ProfileUpdate) (backend.Profile, error) {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	current := m.State()
	if current.User == nil {
		return backend.Profile{}, ErrUnauthenticated
	}
	// The sign-in fetch may have failed, leaving no row to update.
	if current.Profile == nil {
		if _, err := m.fetchOrCreateProfile(ctx, *current.User); err != nil {
			return backend.Profile{}, err
		}
	}
	if _, err := m.profiles.Update(ctx, current.User.ID, update); err != nil {
		return backend.Profile{}, err
	}
	profile, err := m.profiles.ByUserID(ctx, current.User.ID)
	if err != nil {
		return backend.Profile{}, err
	}
	m.setProfile(&profile)
	return profile, nil
}

// RefreshProfile re-reads the signed-in user's profile. Without a user it does nothing.
func (m *Manager) RefreshProfile(ctx context.Context) error {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	current := m.State()
	if current.User == nil {
		return nil
	}
	profile, err := m.fetchProfile(ctx, current.User.ID)
	if err != nil {
		return err
	}
	m.setProfile(profile)
	return nil
}

// OpenProfile looks up a public profile. An unknown username navigates home.
func (m *Manager) OpenProfile(ctx context.Context, username string) (backend.Profile, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		m.navigator.Navigate(RouteHome)
		return backend.Profile{}, fmt.Errorf("%w: username is required", backend.ErrNotFound)
	}
	profile, err := m.profiles.ByUsername(ctx, username)
	if errors.Is(err, backend.ErrNotFound) {
		m.navigator.Navigate(RouteHome)
	}
	if err != nil {
		return backend.Profile{}, err
	}
	return profile, nil
}

func (m *Manager) ready() error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	switch {
	case m.disposed:
		return ErrDisposed
	case !m.initialized:
		return ErrNotInitialized
	default:
		return nil
	}
}

func (m *Manager) probe(ctx context.Context) {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	session, err := m.auth.GetSession(probeCtx)
	if err != nil {
		m.logError(operationProbe, "session_lookup_failed", err)
		m.setState(State{Phase: PhaseAnonymous})
		return
	}
	if session == nil {
		m.setState(State{Phase: PhaseAnonymous})
		return
	}

	profile, err := m.fetchOrCreateProfile(probeCtx, session.User)
	if err != nil {
		m.logError(operationProbe, "profile_lookup_failed", err, zap.String("user_id", session.User.ID))
		m.setState(State{Phase: PhaseAnonymous})
		return
	}
	m.setState(authenticatedState(session, profile))
}

func (m *Manager) consume(ctx context.Context, events <-chan backend.AuthEvent, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			m.handle(ctx, event)
		}
	}
}

func (m *Manager) handle(ctx context.Context, event backend.AuthEvent) {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	switch event.Type {
	case backend.EventSignedIn:
		m.handleSignedIn(ctx, event.Session)
	case backend.EventTokenRefreshed, backend.EventUserUpdated:
		m.handleRefreshed(ctx, event.Session)
	case backend.EventSignedOut:
		if m.State().Phase == PhaseAnonymous {
			return
		}
		m.setState(State{Phase: PhaseAnonymous})
		m.navigator.Navigate(RouteHome)
	default:
		m.logger.Debug("ignoring auth event", zap.String("event", string(event.Type)))
	}
}

func (m *Manager) handleSignedIn(ctx context.Context, session *backend.Session) {
	if session == nil {
		m.logger.Warn("sign-in event without a session")
		return
	}
	profile, err := m.fetchOrCreateProfile(ctx, session.User)
	if err != nil {
		m.logError(operationSignedIn, "profile_unavailable", err, zap.String("user_id", session.User.ID))
		profile = nil
	}
	m.setState(authenticatedState(session, profile))
	m.navigator.Navigate(routeAfterSignIn(profile))
}

func (m *Manager) handleRefreshed(ctx context.Context, session *backend.Session) {
	current := m.State()
	if session == nil {
		session = current.Session
	}
	if session == nil {
		return
	}
	profile, err := m.fetchProfile(ctx, session.User.ID)
	if err != nil {
		m.logError(operationRefetch, "profile_lookup_failed", err, zap.String("user_id", session.User.ID))
		profile = current.Profile
	}
	m.setState(authenticatedState(session, profile))
}

// fetchProfile returns nil when the user has no profile yet.
func (m *Manager) fetchProfile(ctx context.Context, userID string) (*backend.Profile, error) {
	profile, err := m.profiles.ByUserID(ctx, userID)
	if errors.Is(err, backend.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// fetchOrCreateProfile provisions a profile on first sign-in. A failed insert,
// usually a concurrent sign-in winning the race, falls back to a re-fetch.
func (m *Manager) fetchOrCreateProfile(ctx context.Context, user backend.User) (*backend.Profile, error) {
	existing, err := m.fetchProfile(ctx, user.ID)
	if err != nil || existing != nil {
		return existing, err
	}

	created, err := m.profiles.Insert(ctx, newProfileFor(user))
	if err == nil {
		return &created, nil
	}
	m.logError(operationFetchCreate, "insert_failed", err, zap.String("user_id", user.ID))

	existing, fetchErr := m.fetchProfile(ctx, user.ID)
	if fetchErr != nil {
		return nil, fetchErr
	}
	if existing == nil {
		return nil, err
	}
	return existing, nil
}

func (m *Manager) setProfile(profile *backend.Profile) {
	m.stateMu.RLock()
	current := cloneState(m.state)
	m.stateMu.RUnlock()
	if current.Session == nil {
		return
	}
	m.setState(authenticatedState(current.Session, profile))
}

// setState requires reconcileMu.
func (m *Manager) setState(next State) {
	next = cloneState(next)
	m.stateMu.Lock()
	m.state = next
	m.stateMu.Unlock()
	m.watchers.publish(cloneState(next))
}

func (m *Manager) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	m.logger.Error("lifecycle operation failed", attrs...)
}

func authenticatedState(session *backend.Session, profile *backend.Profile) State {
	user := session.User
	phase := PhaseNoProfile
	if profile != nil {
		phase = PhaseWithProfile
	}
	return State{
		Phase:   phase,
		Session: session,
		User:    &user,
		Profile: profile,
	}
}

func cloneState(state State) State {
	clone := state
	if state.Session != nil {
		session := *state.Session
		clone.Session = &session
	}
	if state.User != nil {
		user := *state.User
		clone.User = &user
	}
	if state.Profile != nil {
		profile := *state.Profile
		clone.Profile = &profile
	}
	return clone
}
