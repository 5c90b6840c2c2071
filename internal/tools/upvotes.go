package tools

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type upvoteIntent int

const (
	intentAdd upvoteIntent = iota
	intentRemove
	intentToggle
)

// AddUpvote records the user's upvote. Repeating it is a no-op.
func (s *Service) AddUpvote(ctx context.Context, toolID uint64, userID string) (UpvoteState, error) {
	return s.applyUpvote(ctx, toolID, userID, intentAdd)
}

// RemoveUpvote withdraws the user's upvote. Repeating it is a no-op.
func (s *Service) RemoveUpvote(ctx context.Context, toolID uint64, userID string) (UpvoteState, error) {
	return s.applyUpvote(ctx, toolID, userID, intentRemove)
}

// ToggleUpvote flips the user's upvote based on the stored state.
func (s *Service) ToggleUpvote(ctx context.Context, toolID uint64, userID string) (UpvoteState, error) {
	return s.applyUpvote(ctx, toolID, userID, intentToggle)
}

// applyUpvote changes the upvote row and recounts tools.upvotes_count in one transaction
// while holding the tool row lock, so the counter always equals the number of rows.
func (s *Service) applyUpvote(ctx context.Context, toolID uint64, userID string, intent upvoteIntent) (UpvoteState, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UpvoteState{}, newServiceError(opUpvote, reasonUnauthenticated, ErrAuthRequired)
	}

	state := UpvoteState{ToolID: toolID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tool Tool
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Take(&tool, toolID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpvote, reasonNotFound, ErrToolNotFound)
		}
		if err != nil {
			return newServiceError(opUpvote, reasonQueryFailed, err)
		}

		var existing int64
		if err := tx.Model(&Upvote{}).
			Where("tool_id = ? AND user_id = ?", toolID, userID).
			Count(&existing).Error; err != nil {
			return newServiceError(opUpvote, reasonQueryFailed, err)
		}

		wanted := existing == 0
		switch intent {
		case intentAdd:
			wanted = true
		case intentRemove:
			wanted = false
		}

		switch {
		case wanted && existing == 0:
			upvote := Upvote{ToolID: toolID, UserID: userID, CreatedAt: s.clock().UTC()}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&upvote).Error; err != nil {
				return newServiceError(opUpvote, reasonWriteFailed, err)
			}
		case !wanted && existing > 0:
			if err := tx.Where("tool_id = ? AND user_id = ?", toolID, userID).Delete(&Upvote{}).Error; err != nil {
				return newServiceError(opUpvote, reasonWriteFailed, err)
			}
		}

		count, err := recount(tx, toolID)
		if err != nil {
			return newServiceError(opUpvote, reasonWriteFailed, err)
		}
		state.Upvoted = wanted
		state.Count = count
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrToolNotFound) {
			s.logError(opUpvote, reasonWriteFailed, err, zap.Uint64("tool_id", toolID), zap.String("user_id", userID))
		}
		return UpvoteState{}, err
	}

	s.invalidateTrending(ctx)
	return state, nil
}

func recount(tx *gorm.DB, toolID uint64) (int64, error) {
	var count int64
	if err := tx.Model(&Upvote{}).Where("tool_id = ?", toolID).Count(&count).Error; err != nil {
		return 0, err
	}
	if err := tx.Model(&Tool{}).Where("id = ?", toolID).Update("upvotes_count", count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// PurgeUserData deletes the user's upvotes and submitted tools inside tx and
// recounts the tools that lost an upvote.
func PurgeUserData(tx *gorm.DB, userID string) error {
	var upvotedToolIDs []uint64
	if err := tx.Model(&Upvote{}).Where("user_id = ?", userID).Pluck("tool_id", &upvotedToolIDs).Error; err != nil {
		return newServiceError(opPurgeUserData, reasonQueryFailed, err)
	}
	var ownedToolIDs []uint64
	if err := tx.Model(&Tool{}).Where("user_id = ?", userID).Pluck("id", &ownedToolIDs).Error; err != nil {
		return newServiceError(opPurgeUserData, reasonQueryFailed, err)
	}

	if err := tx.Where("user_id = ?", userID).Delete(&Upvote{}).Error; err != nil {
		return newServiceError(opPurgeUserData, reasonWriteFailed, err)
	}
	if len(ownedToolIDs) > 0 {
		if err := tx.Where("tool_id IN ?", ownedToolIDs).Delete(&Upvote{}).Error; err != nil {
			return newServiceError(opPurgeUserData, reasonWriteFailed, err)
		}
		if err := tx.Where("id IN ?", ownedToolIDs).Delete(&Tool{}).Error; err != nil {
			return newServiceError(opPurgeUserData, reasonWriteFailed, err)
		}
	}

	owned := make(map[uint64]struct{}, len(ownedToolIDs))
	for _, toolID := range ownedToolIDs {
		owned[toolID] = struct{}{}
	}
	for _, toolID := range upvotedToolIDs {
		if _, deleted := owned[toolID]; deleted {
			continue
		}
		if _, err := recount(tx, toolID); err != nil {
			return newServiceError(opPurgeUserData, reasonWriteFailed, err)
		}
	}
	return nil
}
