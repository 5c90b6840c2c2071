package lifecycle

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
)

// Routes the manager navigates to.
const (
	RouteHome         = "/"
	RouteProfileSetup = "/profile-setup"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// ProfileRoute is the public page of username.
func ProfileRoute(username string) string {
	return "/profile/" + url.PathEscape(username)
}

func routeAfterSignIn(profile *backend.Profile) string {
	if profile == nil || !profile.HasUsername() {
		return RouteProfileSetup
	}
	return ProfileRoute(*profile.Username)
}

// DeriveUsername proposes a username for a first sign-in: the full name
// lower-cased with whitespace runs joined by ".", else the email's local part.
// It returns nil when neither is available.
func DeriveUsername(fullName, email string) *string {
	if name := strings.TrimSpace(fullName); name != "" {
		username := whitespaceRun.ReplaceAllString(strings.ToLower(name), ".")
		return &username
	}
	if local, _, _ := strings.Cut(strings.TrimSpace(email), "@"); local != "" {
		return &local
	}
	return nil
}

func newProfileFor(user backend.User) backend.NewProfile {
	profile := backend.NewProfile{
		UserID:   user.ID,
		Username: DeriveUsername(user.Metadata.FullName, user.Email),
	}
	if avatar := strings.TrimSpace(user.Metadata.AvatarURL); avatar != "" {
		profile.AvatarURL = &avatar
	}
	return profile
}
