package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/profiles"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/tools"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrMissingUser indicates a deletion request without a user id.
	ErrMissingUser = errors.New("accounts: user id is required")

	errMissingDatabase = errors.New("accounts: database handle is required")
)

// IdentityCache forgets cached identity mappings.
type IdentityCache interface {
	Forget(userID string)
}

// TrendingCache drops derived tool listings.
type TrendingCache interface {
	InvalidateTrending(ctx context.Context)
}

// ServiceConfig describes the dependencies of account deletion.
type ServiceConfig struct {
	Database   *gorm.DB
	Identities IdentityCache
	Tools      TrendingCache
	Logger     *zap.Logger
}

// Service removes everything a user owns.
type Service struct {
	db         *gorm.DB
	identities IdentityCache
	tools      TrendingCache
	logger     *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		identities: cfg.Identities,
		tools:      cfg.Tools,
		logger:     logger,
	}, nil
}

// DeleteAccount removes the user's upvotes, tools, profile and identities in one transaction.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUser
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tools.PurgeUserData(tx, userID); err != nil {
			return err
		}
		if err := profiles.DeleteTx(tx, userID); err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&users.Identity{}).Error
	})
	if err != nil {
		s.logger.Error("accounts service error",
			zap.String("operation", "accounts.delete"),
			zap.String("reason", "transaction_failed"),
			zap.String("user_id", userID),
			zap.Error(err))
		return err
	}

	if s.identities != nil {
		s.identities.Forget(userID)
	}
	if s.tools != nil {
		s.tools.InvalidateTrending(ctx)
	}
	s.logger.Info("account deleted", zap.String("user_id", userID))
	return nil
}
