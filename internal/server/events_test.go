package server

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func receiveEvent(t *testing.T, events <-chan AuthEvent) AuthEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected an auth event within deadline")
		return AuthEvent{}
	}
}

func TestAuthEventHubDeliversToEveryStreamOfTheUser(t *testing.T) {
	hub := NewAuthEventHub(nil)
	laptop, releaseLaptop := hub.Subscribe(context.Background(), "user-1")
	defer releaseLaptop()
	phone, releasePhone := hub.Subscribe(context.Background(), "user-1")
	defer releasePhone()

	hub.SessionRevoked("user-1", "token-1")

	for _, events := range []<-chan AuthEvent{laptop, phone} {
		event := receiveEvent(t, events)
		if event.Kind != AuthEventSessionRevoked || event.TokenID != "token-1" {
			t.Fatalf("unexpected event %#v", event)
		}
		if event.At.IsZero() {
			t.Fatalf("expected publish time to be stamped")
		}
	}
}

func TestAuthEventHubIsolatesUsers(t *testing.T) {
	hub := NewAuthEventHub(nil)
	ada, releaseAda := hub.Subscribe(context.Background(), "user-2")
	defer releaseAda()
	grace, releaseGrace := hub.Subscribe(context.Background(), "user-3")
	defer releaseGrace()

	hub.ProfileUpdated("user-3")

	if event := receiveEvent(t, grace); event.UserID != "user-3" {
		t.Fatalf("expected user-3, received %s", event.UserID)
	}
	select {
	case event := <-ada:
		t.Fatalf("did not expect %#v for an unrelated user", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAuthEventHubReleasesStreams(t *testing.T) {
	hub := NewAuthEventHub(nil)
	_, release := hub.Subscribe(context.Background(), "user-4")
	ctx, cancel := context.WithCancel(context.Background())
	_, _ = hub.Subscribe(ctx, "user-4")
	if open := hub.OpenStreams("user-4"); open != 2 {
		t.Fatalf("expected two open streams, got %d", open)
	}

	release()
	release()
	if open := hub.OpenStreams("user-4"); open != 1 {
		t.Fatalf("expected one open stream after release, got %d", open)
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for hub.OpenStreams("user-4") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected the cancelled stream to be dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAuthEventHubDropsEventsForFullStreams(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	hub := NewAuthEventHub(zap.New(core))
	events, release := hub.Subscribe(context.Background(), "user-5")
	defer release()

	for i := 0; i < streamBufferDepth+1; i++ {
		hub.ProfileUpdated("user-5")
	}

	if len(events) != streamBufferDepth {
		t.Fatalf("expected a full buffer of %d events, got %d", streamBufferDepth, len(events))
	}
	entries := logs.FilterMessage("auth event dropped for slow stream").All()
	if len(entries) != 1 {
		t.Fatalf("expected one dropped event log, got %d", len(entries))
	}
	if entries[0].ContextMap()["event"] != string(AuthEventProfileUpdated) {
		t.Fatalf("unexpected log fields %#v", entries[0].ContextMap())
	}
}

func TestAuthEventHubIgnoresAnonymousSubscribers(t *testing.T) {
	hub := NewAuthEventHub(nil)
	events, release := hub.Subscribe(context.Background(), "")
	defer release()
	if _, open := <-events; open {
		t.Fatalf("expected the anonymous stream to be closed")
	}
	hub.Publish(AuthEvent{Kind: AuthEventProfileUpdated})
}

func TestAuthEventEnds(t *testing.T) {
	testCases := []struct {
		name  string
		event AuthEvent
		want  bool
	}{
		{name: "own-session-revoked", event: AuthEvent{Kind: AuthEventSessionRevoked, TokenID: "jti-1"}, want: true},
		{name: "other-session-revoked", event: AuthEvent{Kind: AuthEventSessionRevoked, TokenID: "jti-2"}},
		{name: "account-deleted", event: AuthEvent{Kind: AuthEventAccountDeleted, TokenID: "jti-2"}, want: true},
		{name: "profile-updated", event: AuthEvent{Kind: AuthEventProfileUpdated}},
		{name: "heartbeat", event: AuthEvent{Kind: authEventHeartbeat}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.ends("jti-1"); got != testCase.want {
				t.Fatalf("expected %v, got %v", testCase.want, got)
			}
		})
	}
}
