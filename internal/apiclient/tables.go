package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
)

const launchDateLayout = "2006-01-02"

// ProfileClient reaches the profiles table.
type ProfileClient struct {
	transport *transport
}

type profileWrite struct {
	UserID    string  `json:"user_id,omitempty"`
	Username  *string `json:"username,omitempty"`
	Tagline   *string `json:"tagline,omitempty"`
	Bio       *string `json:"bio,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// ByUserID returns the profile owned by userID.
func (c *ProfileClient) ByUserID(ctx context.Context, userID string) (backend.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return backend.Profile{}, fmt.Errorf("%w: user id is required", backend.ErrInvalid)
	}
	return c.fetch(ctx, "/api/profiles/"+url.PathEscape(userID))
}

// ByUsername returns the oldest profile carrying username.
func (c *ProfileClient) ByUsername(ctx context.Context, username string) (backend.Profile, error) {
	if strings.TrimSpace(username) == "" {
		return backend.Profile{}, fmt.Errorf("%w: username is required", backend.ErrInvalid)
	}
	return c.fetch(ctx, "/api/users/"+url.PathEscape(username))
}

func (c *ProfileClient) fetch(ctx context.Context, path string) (backend.Profile, error) {
	var row profileRow
	if err := c.transport.do(ctx, request{method: http.MethodGet, path: path}, &row); err != nil {
		return backend.Profile{}, err
	}
	return parseProfile(row)
}

// Insert creates a profile for the signed-in user.
func (c *ProfileClient) Insert(ctx context.Context, profile backend.NewProfile) (backend.Profile, error) {
	var row profileRow
	err := c.transport.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/profiles",
		body: profileWrite{
			UserID:    profile.UserID,
			Username:  profile.Username,
			Tagline:   profile.Tagline,
			Bio:       profile.Bio,
			AvatarURL: profile.AvatarURL,
		},
	}, &row)
	if err != nil {
		return backend.Profile{}, err
	}
	return parseProfile(row)
}

// Update applies a partial update to the profile owned by userID.
func (c *ProfileClient) Update(ctx context.Context, userID string, update backend.ProfileUpdate) (backend.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return backend.Profile{}, fmt.Errorf("%w: user id is required", backend.ErrInvalid)
	}
	var row profileRow
	err := c.transport.do(ctx, request{
		method: http.MethodPut,
		path:   "/api/profiles/" + url.PathEscape(userID),
		body: profileWrite{
			Username:  update.Username,
			Tagline:   update.Tagline,
			Bio:       update.Bio,
			AvatarURL: update.AvatarURL,
		},
	}, &row)
	if err != nil {
		return backend.Profile{}, err
	}
	return parseProfile(row)
}

// ToolClient reaches the tools table.
type ToolClient struct {
	transport *transport
}

type toolWrite struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	URL         string  `json:"url"`
	LogoURL     *string `json:"logo_url,omitempty"`
	IsPaid      *bool   `json:"is_paid,omitempty"`
	LaunchDate  *string `json:"launch_date,omitempty"`
}

// List returns one page of the catalogue.
func (c *ToolClient) List(ctx context.Context, query backend.ToolQuery) ([]backend.Tool, error) {
	values := url.Values{}
	setIfPresent(values, "q", query.Search)
	setIfPresent(values, "pricing", query.Pricing)
	setIfPresent(values, "sort", query.Sort)
	setIfPresent(values, "user_id", query.OwnerID)
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset > 0 {
		values.Set("offset", strconv.Itoa(query.Offset))
	}

	var rows []toolRow
	if err := c.transport.do(ctx, request{method: http.MethodGet, path: "/api/tools", query: values}, &rows); err != nil {
		return nil, err
	}
	return parseTools(rows)
}

// Trending returns the most upvoted tools.
func (c *ToolClient) Trending(ctx context.Context, limit int) ([]backend.Tool, error) {
	values := url.Values{}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var rows []toolRow
	if err := c.transport.do(ctx, request{method: http.MethodGet, path: "/api/tools/trending", query: values}, &rows); err != nil {
		return nil, err
	}
	return parseTools(rows)
}

// Get returns one tool.
func (c *ToolClient) Get(ctx context.Context, toolID uint64) (backend.Tool, error) {
	var row toolRow
	if err := c.transport.do(ctx, request{method: http.MethodGet, path: toolPath(toolID)}, &row); err != nil {
		return backend.Tool{}, err
	}
	return parseTool(row)
}

// Create submits a tool as the signed-in user.
func (c *ToolClient) Create(ctx context.Context, tool backend.NewTool) (backend.Tool, error) {
	payload := toolWrite{
		Title:       tool.Title,
		Description: tool.Description,
		URL:         tool.URL,
		LogoURL:     tool.LogoURL,
		IsPaid:      tool.IsPaid,
	}
	if tool.LaunchDate != nil {
		formatted := tool.LaunchDate.Format(launchDateLayout)
		payload.LaunchDate = &formatted
	}

	var row toolRow
	if err := c.transport.do(ctx, request{method: http.MethodPost, path: "/api/tools", body: payload}, &row); err != nil {
		return backend.Tool{}, err
	}
	return parseTool(row)
}

// Delete removes a tool the signed-in user submitted.
func (c *ToolClient) Delete(ctx context.Context, toolID uint64) error {
	return c.transport.do(ctx, request{method: http.MethodDelete, path: toolPath(toolID)}, nil)
}

// UpvoteClient reaches the upvotes table as the signed-in user.
type UpvoteClient struct {
	transport *transport
}

// Insert upvotes the tool. Upvoting twice is a no-op.
func (c *UpvoteClient) Insert(ctx context.Context, toolID uint64) (backend.UpvoteState, error) {
	return c.change(ctx, http.MethodPut, toolID)
}

// Delete withdraws the upvote. Withdrawing a missing upvote is a no-op.
func (c *UpvoteClient) Delete(ctx context.Context, toolID uint64) (backend.UpvoteState, error) {
	return c.change(ctx, http.MethodDelete, toolID)
}

func (c *UpvoteClient) change(ctx context.Context, method string, toolID uint64) (backend.UpvoteState, error) {
	var row upvoteRow
	if err := c.transport.do(ctx, request{method: method, path: toolPath(toolID) + "/upvote"}, &row); err != nil {
		return backend.UpvoteState{}, err
	}
	return parseUpvote(row)
}

// StorageClient reaches the object store.
type StorageClient struct {
	transport *transport
}

// Upload stores data under bucket/key and returns the key.
func (c *StorageClient) Upload(ctx context.Context, bucket, key string, data []byte) (string, error) {
	var row uploadRow
	err := c.transport.do(ctx, request{
		method:      http.MethodPut,
		path:        objectPath(bucket, key),
		rawBody:     data,
		contentType: "application/octet-stream",
	}, &row)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(row.Key) == "" {
		return "", malformed("upload response is missing key")
	}
	return row.Key, nil
}

// PublicURL returns the address an uploaded object is served from.
func (c *StorageClient) PublicURL(bucket, key string) string {
	return c.transport.endpoint(objectPath(bucket, key), nil)
}

func objectPath(bucket, key string) string {
	segments := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for index, segment := range segments {
		segments[index] = url.PathEscape(segment)
	}
	return "/storage/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}

func toolPath(toolID uint64) string {
	return "/api/tools/" + strconv.FormatUint(toolID, 10)
}

func setIfPresent(values url.Values, key, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		values.Set(key, trimmed)
	}
}
