package tools

import "time"

// Tool is a submitted product listing.
type Tool struct {
	ID           uint64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title        string     `gorm:"column:title;size:200;not null" json:"title"`
	Description  string     `gorm:"column:description;type:text;not null" json:"description"`
	URL          *string    `gorm:"column:url;size:2048" json:"url"`
	LogoURL      *string    `gorm:"column:logo_url;size:2048" json:"logo_url"`
	IsPaid       *bool      `gorm:"column:is_paid" json:"is_paid"`
	LaunchDate   *time.Time `gorm:"column:launch_date" json:"launch_date"`
	UserID       *string    `gorm:"column:user_id;size:64;index" json:"user_id"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null;index" json:"created_at"`
	UpvotesCount int64      `gorm:"column:upvotes_count;not null;default:0;index" json:"upvotes_count"`
}

// TableName provides the explicit table binding for GORM.
func (Tool) TableName() string {
	return "tools"
}

// OwnedBy reports whether userID submitted the tool.
func (t Tool) OwnedBy(userID string) bool {
	return t.UserID != nil && userID != "" && *t.UserID == userID
}

// Upvote records one user's upvote on one tool.
type Upvote struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ToolID    uint64    `gorm:"column:tool_id;not null;uniqueIndex:idx_upvotes_tool_user,priority:1"`
	UserID    string    `gorm:"column:user_id;size:64;not null;uniqueIndex:idx_upvotes_tool_user,priority:2;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Upvote) TableName() string {
	return "upvotes"
}

// ToolView is a tool as seen by a particular viewer.
type ToolView struct {
	Tool
	IsUpvoted bool `json:"is_upvoted"`
}

// UpvoteState is the authoritative upvote status after a change.
type UpvoteState struct {
	ToolID  uint64 `json:"tool_id"`
	Upvoted bool   `json:"upvoted"`
	Count   int64  `json:"upvotes_count"`
}

// NewTool is the submission payload.
type NewTool struct {
	Title       string
	Description string
	URL         string
	LogoURL     *string
	IsPaid      *bool
	LaunchDate  *time.Time
	UserID      string
}

// Pricing filters.
const (
	PricingAny  = ""
	PricingFree = "free"
	PricingPaid = "paid"
)

// Sort orders.
const (
	SortUpvotes = "upvotes"
	SortNewest  = "newest"
	SortLaunch  = "launch"
)

// ListQuery filters and pages the tool catalogue.
type ListQuery struct {
	Search   string
	Pricing  string
	Sort     string
	OwnerID  string
	Limit    int
	Offset   int
	ViewerID string
}
