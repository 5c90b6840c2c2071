package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/auth"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/profiles"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/storage"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/tools"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey  = "launchleap_user_id"
	claimsContextKey  = "launchleap_session_claims"
	defaultHeartbeat  = 25 * time.Second
	maxJSONBodyBytes  = 1 << 20
	maxMultipartBytes = storage.MaxObjectSize + maxJSONBodyBytes
)

var (
	errMissingIdentityVerifier = errors.New("identity verifier dependency required")
	errMissingSessionTokens    = errors.New("session token dependency required")
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserDirectory    = errors.New("user directory dependency required")
	errMissingProfileStore     = errors.New("profile store dependency required")
	errMissingToolCatalog      = errors.New("tool catalog dependency required")
)

// IdentityVerifier checks an identity provider ID token.
type IdentityVerifier interface {
	Verify(ctx context.Context, rawToken string) (auth.Identity, error)
}

// SessionTokens mints session tokens.
type SessionTokens interface {
	Issue(user auth.SessionUser) (auth.IssuedToken, error)
	Refresh(claims auth.SessionClaims) (auth.IssuedToken, error)
}

// SessionValidator authenticates requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

// TokenRevoker invalidates session tokens before expiry.
type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, until time.Time)
}

// OAuthFlow drives the provider's authorization code flow.
type OAuthFlow interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (string, error)
}

// UserDirectory maps provider identities to canonical users.
type UserDirectory interface {
	ResolveUser(ctx context.Context, identity auth.Identity) (users.User, error)
	FindUser(ctx context.Context, userID string) (users.User, error)
}

// ProfileStore is the profiles table.
type ProfileStore interface {
	ByUserID(ctx context.Context, userID string) (profiles.Profile, error)
	ByUsername(ctx context.Context, username string) (profiles.Profile, error)
	Create(ctx context.Context, input profiles.NewProfile) (profiles.Profile, error)
	Update(ctx context.Context, userID string, update profiles.ProfileUpdate) (profiles.Profile, error)
}

// ToolCatalog is the tools and upvotes tables.
type ToolCatalog interface {
	List(ctx context.Context, query tools.ListQuery) ([]tools.ToolView, error)
	Trending(ctx context.Context, limit int, viewerID string) ([]tools.ToolView, error)
	Get(ctx context.Context, toolID uint64, viewerID string) (tools.ToolView, error)
	Create(ctx context.Context, input tools.NewTool) (tools.Tool, error)
	Delete(ctx context.Context, toolID uint64, userID string) error
	AddUpvote(ctx context.Context, toolID uint64, userID string) (tools.UpvoteState, error)
	RemoveUpvote(ctx context.Context, toolID uint64, userID string) (tools.UpvoteState, error)
	ToggleUpvote(ctx context.Context, toolID uint64, userID string) (tools.UpvoteState, error)
}

// AccountDeleter removes everything a user owns.
type AccountDeleter interface {
	DeleteAccount(ctx context.Context, userID string) error
}

// ObjectStore keeps uploaded files.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key string, data []byte) error
	PublicURL(bucket, key string) string
	Open(bucket, key string) (storage.Object, error)
}

// Dependencies wires the HTTP surface to the services behind it.
type Dependencies struct {
	IdentityVerifier  IdentityVerifier
	SessionTokens     SessionTokens
	SessionValidator  SessionValidator
	TokenRevoker      TokenRevoker
	OAuth             OAuthFlow
	Users             UserDirectory
	Profiles          ProfileStore
	Tools             ToolCatalog
	Accounts          AccountDeleter
	Storage           ObjectStore
	Events            *AuthEventHub
	AllowedOrigins    []string
	SecureCookies     bool
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the REST surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.IdentityVerifier == nil {
		return nil, errMissingIdentityVerifier
	}
	if deps.SessionTokens == nil {
		return nil, errMissingSessionTokens
	}
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.Profiles == nil {
		return nil, errMissingProfileStore
	}
	if deps.Tools == nil {
		return nil, errMissingToolCatalog
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = NewAuthEventHub(logger)
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		verifier:       deps.IdentityVerifier,
		tokens:         deps.SessionTokens,
		sessions:       deps.SessionValidator,
		revoker:        deps.TokenRevoker,
		oauth:          deps.OAuth,
		users:          deps.Users,
		profiles:       deps.Profiles,
		tools:          deps.Tools,
		accounts:       deps.Accounts,
		objects:        deps.Storage,
		events:         events,
		allowedOrigins: normalizeOrigins(deps.AllowedOrigins),
		secureCookies:  deps.SecureCookies,
		heartbeat:      heartbeat,
		logger:         logger,
	}

	router.GET("/api/health", handler.handleHealth)

	router.POST("/auth/google", handler.handleGoogleAuth)
	router.GET("/auth/google/login", handler.handleOAuthLogin)
	router.GET("/auth/google/callback", handler.handleOAuthCallback)

	public := router.Group("/")
	public.Use(handler.identifyViewer)
	public.GET("/api/profiles/:userId", handler.handleGetProfile)
	public.GET("/api/users/:username", handler.handleGetProfileByUsername)
	public.GET("/api/tools", handler.handleListTools)
	public.GET("/api/tools/trending", handler.handleTrendingTools)
	public.GET("/api/tools/:id", handler.handleGetTool)
	public.GET("/storage/:bucket/*key", handler.handleServeObject)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/session", handler.handleSession)
	protected.POST("/auth/refresh", handler.handleRefresh)
	protected.POST("/auth/logout", handler.handleLogout)
	protected.GET("/auth/events", handler.handleEventStream)
	protected.POST("/api/profiles", handler.handleCreateProfile)
	protected.PUT("/api/profiles/:userId", handler.handleUpdateProfile)
	protected.POST("/api/tools", handler.handleCreateTool)
	protected.DELETE("/api/tools/:id", handler.handleDeleteTool)
	protected.PUT("/api/tools/:id/upvote", handler.handleAddUpvote)
	protected.DELETE("/api/tools/:id/upvote", handler.handleRemoveUpvote)
	protected.POST("/api/tools/:id/upvote/toggle", handler.handleToggleUpvote)
	protected.DELETE("/api/account", handler.handleDeleteAccount)
	protected.PUT("/storage/:bucket/*key", handler.handleUploadObject)

	return router, nil
}

type httpHandler struct {
	verifier       IdentityVerifier
	tokens         SessionTokens
	sessions       SessionValidator
	revoker        TokenRevoker
	oauth          OAuthFlow
	users          UserDirectory
	profiles       ProfileStore
	tools          ToolCatalog
	accounts       AccountDeleter
	objects        ObjectStore
	events         *AuthEventHub
	allowedOrigins map[string]struct{}
	secureCookies  bool
	heartbeat      time.Duration
	logger         *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "API server running"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		abortWithError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(claimsContextKey, claims)
	c.Next()
}

// identifyViewer attaches the caller when a valid token is present and never rejects.
func (h *httpHandler) identifyViewer(c *gin.Context) {
	if claims, err := h.sessions.ValidateRequest(c.Request); err == nil {
		c.Set(userIDContextKey, claims.UserID)
		c.Set(claimsContextKey, claims)
	}
	c.Next()
}

func sessionClaims(c *gin.Context) (auth.SessionClaims, bool) {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return auth.SessionClaims{}, false
	}
	claims, ok := value.(auth.SessionClaims)
	return claims, ok
}

func writeError(c *gin.Context, status int, code string) {
	c.JSON(status, gin.H{"error": code})
}

func abortWithError(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	origins := normalizeOrigins(allowedOrigins)
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if len(origins) == 0 {
				return true
			}
			return originAllowed(origins, origin)
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Cache-Control", "Last-Event-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func normalizeOrigins(origins []string) map[string]struct{} {
	normalized := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
		if trimmed != "" {
			normalized[trimmed] = struct{}{}
		}
	}
	return normalized
}

// originAllowed accepts configured origins and any loopback origin.
func originAllowed(origins map[string]struct{}, origin string) bool {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if isLoopbackHost(parsed.Hostname()) {
		return true
	}
	_, ok := origins[strings.ToLower(parsed.Scheme+"://"+parsed.Host)]
	return ok
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
