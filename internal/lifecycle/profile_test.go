package lifecycle

import (
	"testing"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"github.com/google/go-cmp/cmp"
)

func TestDeriveUsername(t *testing.T) {
	testCases := []struct {
		name     string
		fullName string
		email    string
		want     *string
	}{
		{name: "full-name", fullName: "Ada Lovelace", email: "ada@example.com", want: stringPtr("ada.lovelace")},
		{name: "whitespace-runs", fullName: " Grace \t Brewster  Hopper ", want: stringPtr("grace.brewster.hopper")},
		{name: "email-local-part", email: "a@x.com", want: stringPtr("a")},
		{name: "email-case-kept", email: "Ada.L@example.com", want: stringPtr("Ada.L")},
		{name: "blank-name-uses-email", fullName: "   ", email: "ada@example.com", want: stringPtr("ada")},
		{name: "nothing", want: nil},
		{name: "email-without-local-part", email: "@example.com", want: nil},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := DeriveUsername(testCase.fullName, testCase.email)
			if diff := cmp.Diff(testCase.want, got); diff != "" {
				t.Fatalf("unexpected username (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewProfileForCarriesAvatar(t *testing.T) {
	user := backend.User{
		ID:       "user-1",
		Email:    "ada@example.com",
		Metadata: backend.UserMetadata{FullName: "Ada", AvatarURL: "https://example.com/ada.png"},
	}
	want := backend.NewProfile{
		UserID:    "user-1",
		Username:  stringPtr("ada"),
		AvatarURL: stringPtr("https://example.com/ada.png"),
	}
	if diff := cmp.Diff(want, newProfileFor(user)); diff != "" {
		t.Fatalf("unexpected profile (-want +got):\n%s", diff)
	}
}

func TestRouteAfterSignIn(t *testing.T) {
	if got := routeAfterSignIn(nil); got != RouteProfileSetup {
		t.Fatalf("expected setup route without profile, got %q", got)
	}
	if got := routeAfterSignIn(&backend.Profile{Username: stringPtr("  ")}); got != RouteProfileSetup {
		t.Fatalf("expected setup route for blank username, got %q", got)
	}
	if got := routeAfterSignIn(&backend.Profile{Username: stringPtr("ada lovelace")}); got != "/profile/ada%20lovelace" {
		t.Fatalf("unexpected profile route %q", got)
	}
}
