package users

import (
	"strings"
	"time"
)

// Identity maps a provider login onto the canonical LaunchLeap user id.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:64;not null;uniqueIndex"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:full_name;size:320"`
	AvatarURL   string    `gorm:"column:avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// User is the authenticated account as the rest of the backend sees it.
type User struct {
	ID        string
	Email     string
	FullName  string
	AvatarURL string
}

func (i Identity) user() User {
	return User{
		ID:        i.UserID,
		Email:     i.Email,
		FullName:  i.DisplayName,
		AvatarURL: i.AvatarURL,
	}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
