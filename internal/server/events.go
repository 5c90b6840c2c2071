package server

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthEventKind names an event delivered on /auth/events.
type AuthEventKind string

// Events pushed to a signed-in user's open streams.
const (
	AuthEventProfileUpdated AuthEventKind = "profile-updated"
	AuthEventSessionRevoked AuthEventKind = "session-revoked"
	AuthEventAccountDeleted AuthEventKind = "account-deleted"
	authEventHeartbeat      AuthEventKind = "heartbeat"
)

const (
	authEventSource   = "launchleap-backend"
	streamBufferDepth = 16
)

// AuthEvent is addressed to every open stream of one user.
type AuthEvent struct {
	Kind    AuthEventKind
	UserID  string
	TokenID string
	At      time.Time
}

// ends reports whether a stream opened with tokenID closes after delivering the event.
func (e AuthEvent) ends(tokenID string) bool {
	switch e.Kind {
	case AuthEventAccountDeleted:
		return true
	case AuthEventSessionRevoked:
		return e.TokenID == tokenID
	default:
		return false
	}
}

type authEventPayload struct {
	Type      AuthEventKind `json:"type"`
	UserID    string        `json:"userId,omitempty"`
	TokenID   string        `json:"tokenId,omitempty"`
	Source    string        `json:"source"`
	Timestamp string        `json:"timestamp"`
}

func (e AuthEvent) payload() authEventPayload {
	return authEventPayload{
		Type:      e.Kind,
		UserID:    e.UserID,
		TokenID:   e.TokenID,
		Source:    authEventSource,
		Timestamp: e.At.UTC().Format(time.RFC3339),
	}
}

// AuthEventHub fans auth events out to the open event streams of each user.
// Delivery never blocks the publisher; a full stream loses the event.
type AuthEventHub struct {
	mu      sync.Mutex
	streams map[string][]*eventStream
	clock   func() time.Time
	logger  *zap.Logger
}

type eventStream struct {
	events chan AuthEvent
}

// NewAuthEventHub constructs an empty hub.
func NewAuthEventHub(logger *zap.Logger) *AuthEventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthEventHub{
		streams: make(map[string][]*eventStream),
		clock:   time.Now,
		logger:  logger,
	}
}

// Subscribe opens a stream for userID. It is dropped when ctx ends or release runs.
func (h *AuthEventHub) Subscribe(ctx context.Context, userID string) (<-chan AuthEvent, func()) {
	if userID == "" {
		closed := make(chan AuthEvent)
		close(closed)
		return closed, func() {}
	}

	stream := &eventStream{events: make(chan AuthEvent, streamBufferDepth)}
	h.mu.Lock()
	h.streams[userID] = append(h.streams[userID], stream)
	h.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() { h.drop(userID, stream) })
	}
	stopWatching := context.AfterFunc(ctx, release)
	return stream.events, func() {
		stopWatching()
		release()
	}
}

// OpenStreams counts the streams currently subscribed for userID.
func (h *AuthEventHub) OpenStreams(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams[userID])
}

// ProfileUpdated tells the user's clients to refetch their profile.
func (h *AuthEventHub) ProfileUpdated(userID string) {
	h.Publish(AuthEvent{Kind: AuthEventProfileUpdated, UserID: userID})
}

// SessionRevoked signs out the client holding tokenID.
func (h *AuthEventHub) SessionRevoked(userID, tokenID string) {
	h.Publish(AuthEvent{Kind: AuthEventSessionRevoked, UserID: userID, TokenID: tokenID})
}

// AccountDeleted signs out every client of the user.
func (h *AuthEventHub) AccountDeleted(userID, tokenID string) {
	h.Publish(AuthEvent{Kind: AuthEventAccountDeleted, UserID: userID, TokenID: tokenID})
}

// Publish delivers event to the user's open streams.
func (h *AuthEventHub) Publish(event AuthEvent) {
	if event.UserID == "" || event.Kind == "" {
		return
	}
	if event.At.IsZero() {
		event.At = h.clock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, stream := range h.streams[event.UserID] {
		select {
		case stream.events <- event:
		default:
			h.logger.Warn("auth event dropped for slow stream",
				zap.String("user_id", event.UserID),
				zap.String("event", string(event.Kind)))
		}
	}
}

func (h *AuthEventHub) drop(userID string, stream *eventStream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	remaining := slices.DeleteFunc(h.streams[userID], func(candidate *eventStream) bool {
		return candidate == stream
	})
	if len(remaining) == 0 {
		delete(h.streams, userID)
		return
	}
	h.streams[userID] = remaining
}

// handleEventStream serves the caller's auth events as server-sent events.
// The stream ends after the session it was opened with is revoked.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctx := c.Request.Context()
	events, release := h.events.Subscribe(ctx, claims.UserID)
	defer release()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	logger := h.logger.With(zap.String("user_id", claims.UserID))
	logger.Debug("event stream opened")
	defer logger.Debug("event stream closed")
	for {
		var event AuthEvent
		select {
		case <-ctx.Done():
			return
		case tick := <-heartbeat.C:
			event = AuthEvent{Kind: authEventHeartbeat, At: tick}
		case received, open := <-events:
			if !open {
				return
			}
			event = received
		}

		c.SSEvent(string(event.Kind), event.payload())
		c.Writer.Flush()
		if event.ends(claims.TokenID()) {
			return
		}
	}
}
