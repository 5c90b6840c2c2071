package apiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	serverEventProfileUpdated = "profile-updated"
	serverEventSessionRevoked = "session-revoked"
	serverEventAccountDeleted = "account-deleted"
)

type serverEvent struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	TokenID string `json:"tokenId"`
}

// StreamEvents relays the backend's auth event stream onto OnAuthStateChange
// until ctx ends or the backend ends the session. Profile changes become
// USER_UPDATED; revocation of this session or deletion of the account becomes SIGNED_OUT.
func (a *AuthClient) StreamEvents(ctx context.Context) error {
	session := a.currentSession()
	if session == nil {
		return backend.ErrUnauthorized
	}
	tokenID := tokenIDOf(session.AccessToken)

	streamRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, a.transport.endpoint("/auth/events", nil), http.NoBody)
	if err != nil {
		return err
	}
	streamRequest.Header.Set("Accept", "text/event-stream")
	streamRequest.Header.Set("Authorization", "Bearer "+session.AccessToken)

	response, err := a.streamClient.Do(streamRequest)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return backend.NewAPIError(response.StatusCode, "")
	}

	scanner := bufio.NewScanner(response.Body)
	eventName := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			eventName = ""
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			var event serverEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
				a.logger.Debug("skipping unreadable server event", zap.String("event", eventName), zap.Error(err))
				continue
			}
			if event.Type == "" {
				event.Type = eventName
			}
			if a.relay(event, tokenID) {
				return nil
			}
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// relay reports whether the stream is over.
func (a *AuthClient) relay(event serverEvent, tokenID string) bool {
	switch event.Type {
	case serverEventProfileUpdated:
		a.hub.publish(backend.AuthEvent{Type: backend.EventUserUpdated, Session: a.currentSession()})
		return false
	case serverEventSessionRevoked:
		if tokenID == "" || event.TokenID != tokenID {
			return false
		}
	case serverEventAccountDeleted:
	default:
		return false
	}

	a.opMu.Lock()
	err := a.forget()
	a.opMu.Unlock()
	if err != nil {
		a.logger.Warn("failed to clear revoked session", zap.Error(err))
	}
	a.hub.publish(backend.AuthEvent{Type: backend.EventSignedOut})
	return true
}

// tokenIDOf reads the jti of our own token. The backend already verified it.
func tokenIDOf(accessToken string) string {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return ""
	}
	return claims.ID
}
