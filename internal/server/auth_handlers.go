package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/auth"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	oauthStateCookie    = "launchleap_oauth_state"
	oauthRedirectCookie = "launchleap_oauth_redirect"
	oauthCookiePath     = "/auth/google"
	oauthCookieMaxAge   = 600
)

type authRequestPayload struct {
	IDToken string `json:"id_token"`
}

type userMetadataPayload struct {
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type userPayload struct {
	ID           string              `json:"id"`
	Email        string              `json:"email,omitempty"`
	UserMetadata userMetadataPayload `json:"user_metadata"`
}

type authResponsePayload struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	ExpiresAt   int64       `json:"expires_at"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

type sessionResponsePayload struct {
	User      userPayload `json:"user"`
	ExpiresAt int64       `json:"expires_at"`
}

func newUserPayload(user auth.SessionUser) userPayload {
	return userPayload{
		ID:    user.ID,
		Email: user.Email,
		UserMetadata: userMetadataPayload{
			FullName:  user.FullName,
			AvatarURL: user.AvatarURL,
		},
	}
}

func sessionUserFrom(user users.User) auth.SessionUser {
	return auth.SessionUser{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  user.FullName,
		AvatarURL: user.AvatarURL,
	}
}

func newAuthResponse(issued auth.IssuedToken, user auth.SessionUser) authResponsePayload {
	return authResponsePayload{
		AccessToken: issued.AccessToken,
		ExpiresIn:   issued.ExpiresIn,
		ExpiresAt:   issued.ExpiresAt.Unix(),
		TokenType:   auth.TokenTypeBearer,
		User:        newUserPayload(user),
	}
}

// handleGoogleAuth exchanges a Google ID token for a session token.
func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		writeError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	issued, user, err := h.signIn(c, request.IDToken)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, newAuthResponse(issued, user))
}

// signIn verifies the ID token, resolves the canonical user and mints a session. It writes the error response itself.
func (h *httpHandler) signIn(c *gin.Context, rawIDToken string) (auth.IssuedToken, auth.SessionUser, error) {
	ctx := c.Request.Context()
	identity, err := h.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		h.logger.Warn("identity token verification failed", zap.Error(err))
		writeError(c, http.StatusUnauthorized, "unauthorized")
		return auth.IssuedToken{}, auth.SessionUser{}, err
	}

	user, err := h.users.ResolveUser(ctx, identity)
	if err != nil {
		h.logger.Error("failed to resolve user", zap.String("provider", identity.Provider), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "user_resolution_failed")
		return auth.IssuedToken{}, auth.SessionUser{}, err
	}

	sessionUser := sessionUserFrom(user)
	issued, err := h.tokens.Issue(sessionUser)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "token_issue_failed")
		return auth.IssuedToken{}, auth.SessionUser{}, err
	}
	return issued, sessionUser, nil
}

func (h *httpHandler) handleOAuthLogin(c *gin.Context) {
	if h.oauth == nil {
		writeError(c, http.StatusNotFound, "oauth_disabled")
		return
	}
	redirectTo := strings.TrimSpace(c.Query("redirect_to"))
	if !h.redirectAllowed(redirectTo) {
		writeError(c, http.StatusBadRequest, "invalid_redirect")
		return
	}

	state, err := auth.NewState()
	if err != nil {
		h.logger.Error("failed to generate oauth state", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "state_generation_failed")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, oauthCookieMaxAge, oauthCookiePath, "", h.secureCookies, true)
	c.SetCookie(oauthRedirectCookie, url.QueryEscape(redirectTo), oauthCookieMaxAge, oauthCookiePath, "", h.secureCookies, true)
	c.Redirect(http.StatusFound, h.oauth.AuthURL(state))
}

func (h *httpHandler) handleOAuthCallback(c *gin.Context) {
	if h.oauth == nil {
		writeError(c, http.StatusNotFound, "oauth_disabled")
		return
	}

	expectedState, stateErr := c.Cookie(oauthStateCookie)
	encodedRedirect, redirectErr := c.Cookie(oauthRedirectCookie)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, "", -1, oauthCookiePath, "", h.secureCookies, true)
	c.SetCookie(oauthRedirectCookie, "", -1, oauthCookiePath, "", h.secureCookies, true)

	if stateErr != nil || redirectErr != nil || expectedState == "" || c.Query("state") != expectedState {
		writeError(c, http.StatusBadRequest, "invalid_state")
		return
	}
	redirectTo, err := url.QueryUnescape(encodedRedirect)
	if err != nil || !h.redirectAllowed(redirectTo) {
		writeError(c, http.StatusBadRequest, "invalid_redirect")
		return
	}

	if providerError := c.Query("error"); providerError != "" {
		c.Redirect(http.StatusFound, withQuery(redirectTo, url.Values{"error": {providerError}}))
		return
	}

	rawIDToken, err := h.oauth.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		h.logger.Warn("oauth code exchange failed", zap.Error(err))
		c.Redirect(http.StatusFound, withQuery(redirectTo, url.Values{"error": {"exchange_failed"}}))
		return
	}

	identity, err := h.verifier.Verify(c.Request.Context(), rawIDToken)
	if err != nil {
		h.logger.Warn("identity token verification failed", zap.Error(err))
		c.Redirect(http.StatusFound, withQuery(redirectTo, url.Values{"error": {"unauthorized"}}))
		return
	}
	user, err := h.users.ResolveUser(c.Request.Context(), identity)
	if err != nil {
		h.logger.Error("failed to resolve user", zap.String("provider", identity.Provider), zap.Error(err))
		c.Redirect(http.StatusFound, withQuery(redirectTo, url.Values{"error": {"server_error"}}))
		return
	}
	issued, err := h.tokens.Issue(sessionUserFrom(user))
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.Redirect(http.StatusFound, withQuery(redirectTo, url.Values{"error": {"server_error"}}))
		return
	}

	c.SetCookie(h.sessions.CookieName(), issued.AccessToken, int(issued.ExpiresIn), "/", "", h.secureCookies, true)
	c.Redirect(http.StatusFound, withQuery(redirectTo, url.Values{
		"access_token": {issued.AccessToken},
		"expires_in":   {strconv.FormatInt(issued.ExpiresIn, 10)},
		"token_type":   {auth.TokenTypeBearer},
	}))
}

func (h *httpHandler) handleSession(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionUser := claims.User()
	user, err := h.users.FindUser(c.Request.Context(), claims.UserID)
	switch {
	case err == nil:
		sessionUser = sessionUserFrom(user)
	case errors.Is(err, users.ErrUserNotFound):
		writeError(c, http.StatusUnauthorized, "unauthorized")
		return
	default:
		h.logger.Warn("failed to load user for session", zap.String("user_id", claims.UserID), zap.Error(err))
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		User:      newUserPayload(sessionUser),
		ExpiresAt: claims.ExpiresAtTime().Unix(),
	})
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	if user, err := h.users.FindUser(c.Request.Context(), claims.UserID); err == nil {
		refreshedUser := sessionUserFrom(user)
		claims.Email = refreshedUser.Email
		claims.FullName = refreshedUser.FullName
		claims.AvatarURL = refreshedUser.AvatarURL
	} else if errors.Is(err, users.ErrUserNotFound) {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	issued, err := h.tokens.Refresh(claims)
	if err != nil {
		h.logger.Error("failed to refresh session token", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "token_issue_failed")
		return
	}
	h.revoke(c, claims)
	c.JSON(http.StatusOK, newAuthResponse(issued, claims.User()))
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.revoke(c, claims)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", h.secureCookies, true)
	h.events.SessionRevoked(claims.UserID, claims.TokenID())
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteAccount(c *gin.Context) {
	if h.accounts == nil {
		writeError(c, http.StatusNotImplemented, "account_deletion_disabled")
		return
	}
	claims, ok := sessionClaims(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.accounts.DeleteAccount(c.Request.Context(), claims.UserID); err != nil {
		h.logger.Error("failed to delete account", zap.String("user_id", claims.UserID), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "account_deletion_failed")
		return
	}
	h.revoke(c, claims)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", h.secureCookies, true)
	h.events.AccountDeleted(claims.UserID, claims.TokenID())
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) revoke(c *gin.Context, claims auth.SessionClaims) {
	if h.revoker == nil {
		return
	}
	h.revoker.Revoke(c.Request.Context(), claims.TokenID(), claims.ExpiresAtTime())
}

// redirectAllowed accepts loopback targets (the terminal client) and configured site origins.
func (h *httpHandler) redirectAllowed(target string) bool {
	if target == "" {
		return false
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" {
		return false
	}
	return originAllowed(h.allowedOrigins, parsed.Scheme+"://"+parsed.Host)
}

func withQuery(target string, values url.Values) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return target
	}
	query := parsed.Query()
	for key, entries := range values {
		for _, entry := range entries {
			query.Set(key, entry)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
