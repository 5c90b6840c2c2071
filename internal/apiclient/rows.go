package apiclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
)

type userMetadataRow struct {
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
}

type userRow struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	UserMetadata userMetadataRow `json:"user_metadata"`
}

type authRow struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresIn   int64   `json:"expires_in"`
	ExpiresAt   int64   `json:"expires_at"`
	User        userRow `json:"user"`
}

type sessionRow struct {
	User      userRow `json:"user"`
	ExpiresAt int64   `json:"expires_at"`
}

type profileRow struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Username  *string   `json:"username"`
	Tagline   *string   `json:"tagline"`
	Bio       *string   `json:"bio"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type toolRow struct {
	ID           uint64     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	URL          *string    `json:"url"`
	LogoURL      *string    `json:"logo_url"`
	IsPaid       *bool      `json:"is_paid"`
	LaunchDate   *time.Time `json:"launch_date"`
	UserID       *string    `json:"user_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpvotesCount int64      `json:"upvotes_count"`
	IsUpvoted    bool       `json:"is_upvoted"`
}

type upvoteRow struct {
	ToolID  uint64 `json:"tool_id"`
	Upvoted bool   `json:"upvoted"`
	Count   int64  `json:"upvotes_count"`
}

type uploadRow struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	PublicURL string `json:"public_url"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{backend.ErrMalformedRow}, args...)...)
}

func parseUser(row userRow) (backend.User, error) {
	if strings.TrimSpace(row.ID) == "" {
		return backend.User{}, malformed("user is missing id")
	}
	return backend.User{
		ID:    row.ID,
		Email: row.Email,
		Metadata: backend.UserMetadata{
			FullName:  row.UserMetadata.FullName,
			AvatarURL: row.UserMetadata.AvatarURL,
		},
	}, nil
}

// parseAuth converts a token response. now anchors expires_in when expires_at is absent.
func parseAuth(row authRow, now time.Time) (backend.Session, error) {
	if strings.TrimSpace(row.AccessToken) == "" {
		return backend.Session{}, malformed("auth response is missing access_token")
	}
	user, err := parseUser(row.User)
	if err != nil {
		return backend.Session{}, err
	}
	expiresAt := time.Unix(row.ExpiresAt, 0).UTC()
	if row.ExpiresAt == 0 {
		if row.ExpiresIn <= 0 {
			return backend.Session{}, malformed("auth response carries no expiry")
		}
		expiresAt = now.Add(time.Duration(row.ExpiresIn) * time.Second).UTC()
	}
	tokenType := row.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return backend.Session{
		AccessToken: row.AccessToken,
		TokenType:   tokenType,
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

func parseProfile(row profileRow) (backend.Profile, error) {
	if strings.TrimSpace(row.ID) == "" {
		return backend.Profile{}, malformed("profile is missing id")
	}
	if strings.TrimSpace(row.UserID) == "" {
		return backend.Profile{}, malformed("profile %s is missing user_id", row.ID)
	}
	return backend.Profile{
		ID:        row.ID,
		UserID:    row.UserID,
		Username:  row.Username,
		Tagline:   row.Tagline,
		Bio:       row.Bio,
		AvatarURL: row.AvatarURL,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func parseTool(row toolRow) (backend.Tool, error) {
	if row.ID == 0 {
		return backend.Tool{}, malformed("tool is missing id")
	}
	if strings.TrimSpace(row.Title) == "" {
		return backend.Tool{}, malformed("tool %d is missing title", row.ID)
	}
	count := row.UpvotesCount
	if count < 0 {
		count = 0
	}
	return backend.Tool{
		ID:           row.ID,
		Title:        row.Title,
		Description:  row.Description,
		URL:          row.URL,
		LogoURL:      row.LogoURL,
		IsPaid:       row.IsPaid,
		LaunchDate:   row.LaunchDate,
		UserID:       row.UserID,
		CreatedAt:    row.CreatedAt,
		UpvotesCount: count,
		IsUpvoted:    row.IsUpvoted,
	}, nil
}

func parseTools(rows []toolRow) ([]backend.Tool, error) {
	result := make([]backend.Tool, 0, len(rows))
	for _, row := range rows {
		tool, err := parseTool(row)
		if err != nil {
			return nil, err
		}
		result = append(result, tool)
	}
	return result, nil
}

func parseUpvote(row upvoteRow) (backend.UpvoteState, error) {
	if row.ToolID == 0 {
		return backend.UpvoteState{}, malformed("upvote state is missing tool_id")
	}
	count := row.Count
	if count < 0 {
		count = 0
	}
	return backend.UpvoteState{ToolID: row.ToolID, Upvoted: row.Upvoted, Count: count}, nil
}
