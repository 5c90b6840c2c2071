package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/auth"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the provider identity did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUserNotFound indicates no identity is mapped to the user id.
	ErrUserNotFound = errors.New("users: user not found")
)

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider func() (string, error)
}

// Service manages canonical user identifiers and provider-specific identities.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	newID func() (string, error)
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = newUserID
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		newID: idProvider,
	}, nil
}

// ResolveUser returns the canonical user for a verified provider identity.
// It creates a new user id when the provider+subject pair has not been seen before.
func (s *Service) ResolveUser(ctx context.Context, identity auth.Identity) (User, error) {
	provider := normalize(identity.Provider)
	subject := normalize(identity.Subject)
	if provider == "" || subject == "" {
		return User{}, ErrInvalidIdentity
	}

	incoming := User{
		Email:     normalize(identity.Email),
		FullName:  normalize(identity.FullName),
		AvatarURL: normalize(identity.AvatarURL),
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if cachedUser, ok := cached.(User); ok && cachedUser == withID(incoming, cachedUser.ID) {
			return cachedUser, nil
		}
	}

	db := s.db.WithContext(ctx)
	now := s.now().UTC()

	var stored Identity
	err := db.Where("provider = ? AND subject = ?", provider, subject).First(&stored).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		userID, idErr := s.newID()
		if idErr != nil {
			return User{}, fmt.Errorf("users: generating user id: %w", idErr)
		}
		stored = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      userID,
			Email:       incoming.Email,
			DisplayName: incoming.FullName,
			AvatarURL:   incoming.AvatarURL,
			LastSeenAt:  now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := db.Create(&stored).Error; err != nil {
			return User{}, err
		}
	case err != nil:
		return User{}, err
	default:
		updates := map[string]interface{}{"last_seen_at": now}
		if incoming.Email != "" && incoming.Email != stored.Email {
			updates["email"] = incoming.Email
			stored.Email = incoming.Email
		}
		if incoming.FullName != "" && incoming.FullName != stored.DisplayName {
			updates["full_name"] = incoming.FullName
			stored.DisplayName = incoming.FullName
		}
		if incoming.AvatarURL != "" && incoming.AvatarURL != stored.AvatarURL {
			updates["avatar_url"] = incoming.AvatarURL
			stored.AvatarURL = incoming.AvatarURL
		}
		if len(updates) > 1 {
			updates["updated_at"] = now
		}
		if err := db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error; err != nil {
			return User{}, err
		}
	}

	user := stored.user()
	s.cache.Store(cacheKey, user)
	return user, nil
}

// FindUser returns the stored account for a canonical user id.
func (s *Service) FindUser(ctx context.Context, userID string) (User, error) {
	userID = normalize(userID)
	if userID == "" {
		return User{}, ErrUserNotFound
	}
	var stored Identity
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return stored.user(), nil
}

// Forget drops cached mappings for a user whose identity rows were deleted.
func (s *Service) Forget(userID string) {
	s.cache.Range(func(key, value any) bool {
		if cachedUser, ok := value.(User); ok && cachedUser.ID == userID {
			s.cache.Delete(key)
		}
		return true
	})
}

func withID(user User, id string) User {
	user.ID = id
	return user
}

func newUserID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
