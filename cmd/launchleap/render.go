package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/lifecycle"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/upvote"
	"github.com/dustin/go-humanize"
)

const noValue = "-"

func displayName(user backend.User) string {
	switch {
	case user.Metadata.FullName != "" && user.Email != "":
		return fmt.Sprintf("%s <%s>", user.Metadata.FullName, user.Email)
	case user.Email != "":
		return user.Email
	case user.Metadata.FullName != "":
		return user.Metadata.FullName
	default:
		return user.ID
	}
}

func valueOr(value *string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return noValue
	}
	return *value
}

func relative(moment time.Time, now time.Time) string {
	if moment.IsZero() {
		return noValue
	}
	return humanize.RelTime(moment, now, "ago", "from now")
}

func renderState(w io.Writer, state lifecycle.State, now time.Time) {
	if state.User == nil {
		fmt.Fprintln(w, "Not signed in")
		return
	}
	fmt.Fprintf(w, "Signed in as %s\n", displayName(*state.User))
	if state.Session != nil {
		fmt.Fprintf(w, "Session expires %s\n", relative(state.Session.ExpiresAt, now))
	}
	if state.Profile == nil {
		fmt.Fprintln(w, "Profile: not set up")
		return
	}
	fmt.Fprintf(w, "Profile: %s\n", valueOr(state.Profile.Username))
}

func renderTransition(w io.Writer, state lifecycle.State, now time.Time) {
	stamp := now.Format(time.Kitchen)
	switch state.Phase {
	case lifecycle.PhaseAnonymous:
		fmt.Fprintf(w, "[%s] signed out\n", stamp)
	case lifecycle.PhaseNoProfile:
		fmt.Fprintf(w, "[%s] signed in as %s (no profile)\n", stamp, displayName(*state.User))
	case lifecycle.PhaseWithProfile:
		fmt.Fprintf(w, "[%s] signed in as %s (profile %s)\n", stamp, displayName(*state.User), valueOr(state.Profile.Username))
	}
}

func renderProfile(w io.Writer, profile backend.Profile, now time.Time) {
	fmt.Fprintf(w, "Username:  %s\n", valueOr(profile.Username))
	fmt.Fprintf(w, "Tagline:   %s\n", valueOr(profile.Tagline))
	fmt.Fprintf(w, "Bio:       %s\n", valueOr(profile.Bio))
	fmt.Fprintf(w, "Avatar:    %s\n", valueOr(profile.AvatarURL))
	fmt.Fprintf(w, "Joined:    %s\n", relative(profile.CreatedAt, now))
}

func renderTools(w io.Writer, tools []backend.Tool, now time.Time) {
	if len(tools) == 0 {
		fmt.Fprintln(w, "No tools found")
		return
	}
	table := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "ID\tTITLE\tUPVOTES\tPRICE\tLAUNCHED")
	for _, tool := range tools {
		fmt.Fprintf(table, "%d\t%s\t%s\t%s\t%s\n",
			tool.ID,
			tool.Title,
			upvoteLabel(tool.UpvotesCount, tool.IsUpvoted),
			priceLabel(tool),
			launchLabel(tool.LaunchDate, now),
		)
	}
	_ = table.Flush()
}

func renderTool(w io.Writer, tool backend.Tool, now time.Time) {
	fmt.Fprintf(w, "#%d %s\n", tool.ID, tool.Title)
	fmt.Fprintf(w, "%s\n\n", tool.Description)
	fmt.Fprintf(w, "Website:   %s\n", valueOr(tool.URL))
	fmt.Fprintf(w, "Logo:      %s\n", valueOr(tool.LogoURL))
	fmt.Fprintf(w, "Price:     %s\n", priceLabel(tool))
	fmt.Fprintf(w, "Launched:  %s\n", launchLabel(tool.LaunchDate, now))
	fmt.Fprintf(w, "Upvotes:   %s\n", upvoteLabel(tool.UpvotesCount, tool.IsUpvoted))
	fmt.Fprintf(w, "Submitted: %s\n", relative(tool.CreatedAt, now))
}

func renderUpvote(w io.Writer, toolID uint64, result upvote.Result) {
	verb := "Removed your upvote from"
	if result.Upvoted {
		verb = "Upvoted"
	}
	fmt.Fprintf(w, "%s tool %d (%s %s)\n", verb, toolID, humanize.Comma(result.Count), pluralUpvotes(result.Count))
}

func upvoteLabel(count int64, upvoted bool) string {
	label := humanize.Comma(count)
	if upvoted {
		label += " ▲"
	}
	return label
}

func pluralUpvotes(count int64) string {
	if count == 1 {
		return "upvote"
	}
	return "upvotes"
}

func priceLabel(tool backend.Tool) string {
	if tool.Paid() {
		return "paid"
	}
	return "free"
}

func launchLabel(launch *time.Time, now time.Time) string {
	if launch == nil {
		return noValue
	}
	return launch.Format(launchDateLayout) + " (" + relative(*launch, now) + ")"
}

// describeError turns a failure into the one-line notification shown to the user.
func describeError(err error) string {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, lifecycle.ErrUnauthenticated), errors.Is(err, upvote.ErrAuthRequired):
		return "Sign in required. Run: launchleap login"
	case errors.Is(err, backend.ErrUnauthorized):
		return "Your session is no longer valid. Run: launchleap login"
	case errors.Is(err, backend.ErrForbidden):
		return "Only the owner can do that"
	case errors.Is(err, backend.ErrNotFound):
		return "Not found"
	case errors.Is(err, backend.ErrConflict):
		return "That already exists"
	case errors.Is(err, backend.ErrUnavailable):
		return "LaunchLeap is unreachable right now. Try again."
	case errors.Is(err, errNavigationTimeout):
		return "Signed in, but the profile did not load in time. Run: launchleap whoami"
	case errors.As(err, &apiErr) && apiErr.Code != "":
		return "Request rejected: " + apiErr.Code
	default:
		return "Error: " + err.Error()
	}
}
