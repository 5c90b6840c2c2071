package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrProfileNotFound indicates no profile matched the lookup.
	ErrProfileNotFound = errors.New("profiles: profile not found")
	// ErrProfileExists indicates the user already owns a profile.
	ErrProfileExists = errors.New("profiles: profile already exists")
	// ErrInvalidProfile indicates the payload failed validation.
	ErrInvalidProfile = errors.New("profiles: invalid profile")

	errMissingDatabase   = errors.New("profiles: database handle is required")
	errMissingIDProvider = errors.New("profiles: id provider is required")
)

// ServiceConfig describes the dependencies of the profile repository.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service reads and writes the profiles table.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates dependencies and constructs the repository.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// ByUserID returns the profile owned by userID.
func (s *Service) ByUserID(ctx context.Context, userID string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, ErrProfileNotFound
	}
	return s.first(ctx, "profiles.by_user_id", "user_id = ?", userID)
}

// ByUsername returns the first profile carrying username. Usernames are not unique.
func (s *Service) ByUsername(ctx context.Context, username string) (Profile, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Profile{}, ErrProfileNotFound
	}
	return s.first(ctx, "profiles.by_username", "username = ?", username)
}

// Create inserts a profile. A user owns at most one profile.
func (s *Service) Create(ctx context.Context, input NewProfile) (Profile, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return Profile{}, fmt.Errorf("%w: user_id is required", ErrInvalidProfile)
	}
	username := nullable(input.Username)
	if username != nil && len(*username) > maxUsernameLength {
		return Profile{}, fmt.Errorf("%w: username exceeds %d characters", ErrInvalidProfile, maxUsernameLength)
	}

	if _, err := s.ByUserID(ctx, userID); err == nil {
		return Profile{}, ErrProfileExists
	} else if !errors.Is(err, ErrProfileNotFound) {
		return Profile{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError("profiles.create", "id_failed", err)
		return Profile{}, err
	}

	now := s.clock().UTC()
	profile := Profile{
		ID:        id,
		UserID:    userID,
		Username:  username,
		Tagline:   nullable(input.Tagline),
		Bio:       nullable(input.Bio),
		AvatarURL: nullable(input.AvatarURL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		// A concurrent insert for the same user trips the unique index.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Profile{}, ErrProfileExists
		}
		if _, lookupErr := s.ByUserID(ctx, userID); lookupErr == nil {
			return Profile{}, ErrProfileExists
		}
		s.logError("profiles.create", "insert_failed", err, zap.String("user_id", userID))
		return Profile{}, err
	}
	return profile, nil
}

// Update applies a partial update to the profile owned by userID and returns the stored row.
func (s *Service) Update(ctx context.Context, userID string, update ProfileUpdate) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, ErrProfileNotFound
	}
	if update.Username != nil {
		if username := nullable(update.Username); username != nil && len(*username) > maxUsernameLength {
			return Profile{}, fmt.Errorf("%w: username exceeds %d characters", ErrInvalidProfile, maxUsernameLength)
		}
	}

	columns := update.columns()
	columns["updated_at"] = s.clock().UTC()

	result := s.db.WithContext(ctx).Model(&Profile{}).Where("user_id = ?", userID).Updates(columns)
	if result.Error != nil {
		s.logError("profiles.update", "update_failed", result.Error, zap.String("user_id", userID))
		return Profile{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Profile{}, ErrProfileNotFound
	}
	return s.ByUserID(ctx, userID)
}

// DeleteTx removes the profile owned by userID inside an existing transaction.
func DeleteTx(tx *gorm.DB, userID string) error {
	return tx.Where("user_id = ?", userID).Delete(&Profile{}).Error
}

func (s *Service) first(ctx context.Context, operation, query string, arg string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where(query, arg).Order("created_at ASC").Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		s.logError(operation, "query_failed", err)
		return Profile{}, err
	}
	return profile, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("profiles service error", attrs...)
}
