package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"go.uber.org/zap"
)

const (
	callbackShutdownTimeout = 5 * time.Second
	callbackPage            = "Signed in to LaunchLeap. You can close this tab and return to the terminal.\n"
	callbackFailedPage      = "Sign in failed. Return to the terminal for details.\n"
)

var errMissingProvider = errors.New("oauth provider is required")

// AuthClient owns the signed-in session: it restores and refreshes it, runs the
// browser sign-in, and reports every transition on the auth event stream.
type AuthClient struct {
	transport       *transport
	store           *SessionStore
	hub             *eventHub
	refreshWindow   time.Duration
	callbackTimeout time.Duration
	openURL         func(string) error
	clock           func() time.Time
	logger          *zap.Logger
	streamClient    *http.Client

	// opMu serialises operations that read or replace the stored session.
	opMu    sync.Mutex
	stateMu sync.RWMutex
	current *backend.Session
	loaded  bool

	watcher   *sessionWatcher
	closeOnce sync.Once
}

type callbackResult struct {
	accessToken string
	tokenType   string
	expiresIn   int64
	errorCode   string
}

// OnAuthStateChange subscribes to auth transitions.
func (a *AuthClient) OnAuthStateChange() (<-chan backend.AuthEvent, func()) {
	return a.hub.subscribe()
}

// GetSession restores the stored session, refreshing it when it is about to expire.
// It returns nil when nobody is signed in.
func (a *AuthClient) GetSession(ctx context.Context) (*backend.Session, error) {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	session, err := a.currentOrLoad()
	if err != nil {
		if clearErr := a.forget(); clearErr != nil {
			a.logger.Warn("failed to clear unreadable session", zap.Error(clearErr))
		}
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	now := a.clock()
	if session.Expired(now) {
		a.logger.Debug("stored session expired", zap.Time("expires_at", session.ExpiresAt))
		if err := a.forget(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if !session.ExpiresWithin(now, a.refreshWindow) {
		return copySession(session), nil
	}

	refreshed, err := a.refresh(ctx, *session)
	switch {
	case err == nil:
		a.hub.publish(backend.AuthEvent{Type: backend.EventTokenRefreshed, Session: copySession(&refreshed)})
		return copySession(&refreshed), nil
	case errors.Is(err, backend.ErrUnauthorized):
		a.logger.Info("stored session was rejected", zap.Error(err))
		if err := a.forget(); err != nil {
			return nil, err
		}
		a.hub.publish(backend.AuthEvent{Type: backend.EventSignedOut})
		return nil, nil
	default:
		a.logger.Warn("session refresh failed", zap.Error(err))
		return copySession(session), nil
	}
}

// SignInWithOAuth runs the provider's sign-in in a browser and waits for the
// redirect on redirectURL, which must be a loopback http address.
func (a *AuthClient) SignInWithOAuth(ctx context.Context, provider, redirectURL string) error {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return errMissingProvider
	}
	callback, err := url.Parse(strings.TrimSpace(redirectURL))
	if err != nil || callback.Scheme != "http" || callback.Host == "" {
		return fmt.Errorf("%w: redirect url %q must be an http loopback address", backend.ErrInvalid, redirectURL)
	}
	callbackPath := callback.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	listener, err := net.Listen("tcp", callback.Host)
	if err != nil {
		return fmt.Errorf("listening for the sign-in redirect: %w", err)
	}

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		result := readCallback(r.URL.Query())
		if result.accessToken == "" && result.errorCode == "" {
			http.Error(w, "missing access token", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if result.errorCode != "" {
			_, _ = w.Write([]byte(callbackFailedPage))
		} else {
			_, _ = w.Write([]byte(callbackPage))
		}
		select {
		case results <- result:
		default:
		}
	})
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			a.logger.Warn("sign-in callback server stopped", zap.Error(serveErr))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), callbackShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	loginURL := a.transport.endpoint("/auth/"+url.PathEscape(provider)+"/login", url.Values{"redirect_to": {callback.String()}})
	if err := a.openURL(loginURL); err != nil {
		return fmt.Errorf("opening the sign-in page: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.callbackTimeout)
	defer cancel()
	var result callbackResult
	select {
	case <-waitCtx.Done():
		return fmt.Errorf("waiting for the sign-in redirect: %w", waitCtx.Err())
	case result = <-results:
	}
	if result.errorCode != "" {
		return fmt.Errorf("%w: sign in failed: %s", backend.ErrUnauthorized, result.errorCode)
	}

	session, err := a.describe(ctx, result)
	if err != nil {
		return err
	}
	return a.adopt(session)
}

// SignInWithIDToken trades a Google ID token for a session without a browser.
func (a *AuthClient) SignInWithIDToken(ctx context.Context, idToken string) error {
	if strings.TrimSpace(idToken) == "" {
		return fmt.Errorf("%w: id token is required", backend.ErrInvalid)
	}
	var row authRow
	err := a.transport.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/google",
		body:      map[string]string{"id_token": idToken},
		anonymous: true,
	}, &row)
	if err != nil {
		return err
	}
	session, err := parseAuth(row, a.clock())
	if err != nil {
		return err
	}
	return a.adopt(session)
}

// SignOut revokes the session on the backend and forgets it locally.
func (a *AuthClient) SignOut(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	session, err := a.currentOrLoad()
	if err != nil {
		a.logger.Debug("signing out over an unreadable session", zap.Error(err))
	}
	if session != nil {
		err := a.transport.do(ctx, request{method: http.MethodPost, path: "/auth/logout", bearer: session.AccessToken}, nil)
		if err != nil && !errors.Is(err, backend.ErrUnauthorized) {
			return err
		}
	}
	if err := a.forget(); err != nil {
		return err
	}
	a.hub.publish(backend.AuthEvent{Type: backend.EventSignedOut})
	return nil
}

// Close stops watching the session file and ends every subscription.
func (a *AuthClient) Close() {
	a.closeOnce.Do(func() {
		if a.watcher != nil {
			a.watcher.stop()
		}
		a.hub.close()
	})
}

func (a *AuthClient) accessToken() string {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	if a.current == nil {
		return ""
	}
	return a.current.AccessToken
}

func (a *AuthClient) currentSession() *backend.Session {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return copySession(a.current)
}

// currentOrLoad requires opMu.
func (a *AuthClient) currentOrLoad() (*backend.Session, error) {
	a.stateMu.RLock()
	if a.loaded {
		session := copySession(a.current)
		a.stateMu.RUnlock()
		return session, nil
	}
	a.stateMu.RUnlock()

	session, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	a.stateMu.Lock()
	a.current = session
	a.loaded = true
	a.stateMu.Unlock()
	return copySession(session), nil
}

// remember requires opMu.
func (a *AuthClient) remember(session backend.Session) error {
	if err := a.store.Save(session); err != nil {
		return err
	}
	a.stateMu.Lock()
	a.current = copySession(&session)
	a.loaded = true
	a.stateMu.Unlock()
	return nil
}

// forget requires opMu.
func (a *AuthClient) forget() error {
	a.stateMu.Lock()
	a.current = nil
	a.loaded = true
	a.stateMu.Unlock()
	return a.store.Clear()
}

func (a *AuthClient) adopt(session backend.Session) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	if err := a.remember(session); err != nil {
		return err
	}
	a.hub.publish(backend.AuthEvent{Type: backend.EventSignedIn, Session: copySession(&session)})
	return nil
}

// refresh requires opMu.
func (a *AuthClient) refresh(ctx context.Context, session backend.Session) (backend.Session, error) {
	var row authRow
	err := a.transport.do(ctx, request{method: http.MethodPost, path: "/auth/refresh", bearer: session.AccessToken}, &row)
	if err != nil {
		return backend.Session{}, err
	}
	refreshed, err := parseAuth(row, a.clock())
	if err != nil {
		return backend.Session{}, err
	}
	if err := a.remember(refreshed); err != nil {
		return backend.Session{}, err
	}
	return refreshed, nil
}

// describe completes a redirect token into a session by asking the backend who it belongs to.
func (a *AuthClient) describe(ctx context.Context, result callbackResult) (backend.Session, error) {
	var row sessionRow
	err := a.transport.do(ctx, request{method: http.MethodGet, path: "/auth/session", bearer: result.accessToken}, &row)
	if err != nil {
		return backend.Session{}, err
	}
	return parseAuth(authRow{
		AccessToken: result.accessToken,
		TokenType:   result.tokenType,
		ExpiresIn:   result.expiresIn,
		ExpiresAt:   row.ExpiresAt,
		User:        row.User,
	}, a.clock())
}

func readCallback(query url.Values) callbackResult {
	expiresIn, _ := strconv.ParseInt(query.Get("expires_in"), 10, 64)
	return callbackResult{
		accessToken: strings.TrimSpace(query.Get("access_token")),
		tokenType:   strings.TrimSpace(query.Get("token_type")),
		expiresIn:   expiresIn,
		errorCode:   strings.TrimSpace(query.Get("error")),
	}
}

func copySession(session *backend.Session) *backend.Session {
	if session == nil {
		return nil
	}
	clone := *session
	return &clone
}
