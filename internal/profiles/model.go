package profiles

import (
	"strings"
	"time"
)

const maxUsernameLength = 64

// Profile is the public-facing user record, one per authenticated user.
type Profile struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	UserID    string    `gorm:"column:user_id;size:64;not null;uniqueIndex" json:"user_id"`
	Username  *string   `gorm:"column:username;size:190;index" json:"username"`
	Tagline   *string   `gorm:"column:tagline;size:320" json:"tagline"`
	Bio       *string   `gorm:"column:bio;type:text" json:"bio"`
	AvatarURL *string   `gorm:"column:avatar_url;size:1024" json:"avatar_url"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "profiles"
}

// NewProfile is the insert payload. Nil and blank fields are stored as NULL.
type NewProfile struct {
	UserID    string
	Username  *string
	Tagline   *string
	Bio       *string
	AvatarURL *string
}

// ProfileUpdate is a partial update. A nil field is left untouched, a blank one is cleared.
type ProfileUpdate struct {
	Username  *string
	Tagline   *string
	Bio       *string
	AvatarURL *string
}

// Empty reports whether the update carries no fields.
func (u ProfileUpdate) Empty() bool {
	return u.Username == nil && u.Tagline == nil && u.Bio == nil && u.AvatarURL == nil
}

func (u ProfileUpdate) columns() map[string]interface{} {
	columns := map[string]interface{}{}
	setNullable(columns, "username", u.Username)
	setNullable(columns, "tagline", u.Tagline)
	setNullable(columns, "bio", u.Bio)
	setNullable(columns, "avatar_url", u.AvatarURL)
	return columns
}

func setNullable(columns map[string]interface{}, column string, value *string) {
	if value == nil {
		return
	}
	columns[column] = nullable(value)
}

// nullable trims the value and maps blank input to nil.
func nullable(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
