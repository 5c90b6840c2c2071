// Package apiclient implements the backend facade over the LaunchLeap HTTP API.
package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultRefreshWindow   = 5 * time.Minute
	defaultCallbackTimeout = 3 * time.Minute
)

var (
	errMissingBaseURL      = errors.New("api base url is required")
	errMissingSessionStore = errors.New("session store is required")
)

// Config wires the client to a backend.
type Config struct {
	BaseURL      string
	HTTPClient   *http.Client
	SessionStore *SessionStore
	// RefreshWindow is how close to expiry a restored session gets refreshed.
	RefreshWindow time.Duration
	// CallbackTimeout bounds the wait for the OAuth redirect.
	CallbackTimeout time.Duration
	// OpenURL presents the sign-in page to the user.
	OpenURL func(loginURL string) error
	// WatchSession reports sign-ins and sign-outs made by other processes sharing the session file.
	WatchSession bool
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Client is the HTTP implementation of every backend surface.
type Client struct {
	Auth     *AuthClient
	Profiles *ProfileClient
	Tools    *ToolClient
	Upvotes  *UpvoteClient
	Storage  *StorageClient
}

// New validates cfg and builds the client.
func New(cfg Config) (*Client, error) {
	rawBaseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if rawBaseURL == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(rawBaseURL)
	if err != nil || baseURL.Host == "" || (baseURL.Scheme != "http" && baseURL.Scheme != "https") {
		return nil, fmt.Errorf("api base url %q is invalid", cfg.BaseURL)
	}
	if cfg.SessionStore == nil {
		return nil, errMissingSessionStore
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	refreshWindow := cfg.RefreshWindow
	if refreshWindow <= 0 {
		refreshWindow = defaultRefreshWindow
	}
	callbackTimeout := cfg.CallbackTimeout
	if callbackTimeout <= 0 {
		callbackTimeout = defaultCallbackTimeout
	}
	openURL := cfg.OpenURL
	if openURL == nil {
		openURL = func(loginURL string) error {
			logger.Warn("open the sign-in page in a browser", zap.String("url", loginURL))
			return nil
		}
	}

	authClient := &AuthClient{
		store:           cfg.SessionStore,
		hub:             newEventHub(),
		refreshWindow:   refreshWindow,
		callbackTimeout: callbackTimeout,
		openURL:         openURL,
		clock:           clock,
		logger:          logger,
		streamClient:    &http.Client{Transport: httpClient.Transport},
	}
	shared := &transport{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      authClient.accessToken,
		logger:     logger,
	}
	authClient.transport = shared

	if cfg.WatchSession {
		if err := authClient.watch(); err != nil {
			authClient.Close()
			return nil, err
		}
	}

	return &Client{
		Auth:     authClient,
		Profiles: &ProfileClient{transport: shared},
		Tools:    &ToolClient{transport: shared},
		Upvotes:  &UpvoteClient{transport: shared},
		Storage:  &StorageClient{transport: shared},
	}, nil
}

// Facade exposes the client through the backend interfaces.
func (c *Client) Facade() backend.Client {
	return backend.Client{
		Auth:     c.Auth,
		Profiles: c.Profiles,
		Tools:    c.Tools,
		Upvotes:  c.Upvotes,
		Storage:  c.Storage,
	}
}

// Close stops the session watcher and ends every auth event subscription.
func (c *Client) Close() {
	c.Auth.Close()
}
