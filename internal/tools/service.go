package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultListLimit is used when a list query does not name a limit.
	DefaultListLimit = 50
	// MaxListLimit caps a single page.
	MaxListLimit = 100
	// DefaultTrendingLimit is the size of the trending carousel.
	DefaultTrendingLimit = 6

	maxTrendingLimit   = 24
	maxTitleLength     = 200
	defaultListTimeout = 15 * time.Second
	defaultTrendingTTL = 30 * time.Second
	trendingCacheKey   = "tools:trending"
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies of the tool catalogue.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	Logger      *zap.Logger
	Cache       cache.Store
	ListTimeout time.Duration
	TrendingTTL time.Duration
}

// Service owns the tools and upvotes tables.
type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	logger      *zap.Logger
	cache       cache.Store
	listTimeout time.Duration
	trendingTTL time.Duration
}

// NewService validates dependencies and constructs the catalogue service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	store := cfg.Cache
	if store == nil {
		store = cache.NewMemory(clock)
	}
	listTimeout := cfg.ListTimeout
	if listTimeout <= 0 {
		listTimeout = defaultListTimeout
	}
	trendingTTL := cfg.TrendingTTL
	if trendingTTL <= 0 {
		trendingTTL = defaultTrendingTTL
	}
	return &Service{
		db:          cfg.Database,
		clock:       clock,
		logger:      logger,
		cache:       store,
		listTimeout: listTimeout,
		trendingTTL: trendingTTL,
	}, nil
}

// List returns one page of tools with the viewer's upvote flags.
func (s *Service) List(ctx context.Context, query ListQuery) ([]ToolView, error) {
	normalized, err := normalizeQuery(query)
	if err != nil {
		return nil, newServiceError(opList, reasonInvalidInput, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.listTimeout)
	defer cancel()

	var (
		rows    []Tool
		upvoted map[uint64]struct{}
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		rows, err = s.selectTools(groupCtx, normalized)
		return err
	})
	group.Go(func() error {
		var err error
		upvoted, err = s.upvotedBy(groupCtx, normalized.ViewerID)
		return err
	})
	if err := group.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logError(opList, reasonTimeout, err, zap.Duration("timeout", s.listTimeout))
			return nil, newServiceError(opList, reasonTimeout, context.DeadlineExceeded)
		}
		s.logError(opList, reasonQueryFailed, err)
		return nil, newServiceError(opList, reasonQueryFailed, err)
	}

	return withViewerFlags(rows, upvoted), nil
}

// Trending returns the most upvoted tools, served from cache when warm.
func (s *Service) Trending(ctx context.Context, limit int, viewerID string) ([]ToolView, error) {
	if limit <= 0 {
		limit = DefaultTrendingLimit
	}
	if limit > maxTrendingLimit {
		limit = maxTrendingLimit
	}

	rows, err := s.trendingRows(ctx)
	if err != nil {
		s.logError(opTrending, reasonQueryFailed, err)
		return nil, newServiceError(opTrending, reasonQueryFailed, err)
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	upvoted, err := s.upvotedBy(ctx, strings.TrimSpace(viewerID))
	if err != nil {
		s.logError(opTrending, reasonQueryFailed, err)
		return nil, newServiceError(opTrending, reasonQueryFailed, err)
	}
	return withViewerFlags(rows, upvoted), nil
}

// Get returns a single tool for the viewer.
func (s *Service) Get(ctx context.Context, toolID uint64, viewerID string) (ToolView, error) {
	var tool Tool
	err := s.db.WithContext(ctx).Take(&tool, toolID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ToolView{}, newServiceError(opGet, reasonNotFound, ErrToolNotFound)
	}
	if err != nil {
		s.logError(opGet, reasonQueryFailed, err, zap.Uint64("tool_id", toolID))
		return ToolView{}, newServiceError(opGet, reasonQueryFailed, err)
	}

	view := ToolView{Tool: tool}
	if viewerID = strings.TrimSpace(viewerID); viewerID != "" {
		var count int64
		if err := s.db.WithContext(ctx).Model(&Upvote{}).
			Where("tool_id = ? AND user_id = ?", toolID, viewerID).
			Count(&count).Error; err != nil {
			s.logError(opGet, reasonQueryFailed, err, zap.Uint64("tool_id", toolID))
			return ToolView{}, newServiceError(opGet, reasonQueryFailed, err)
		}
		view.IsUpvoted = count > 0
	}
	return view, nil
}

// Create validates and stores a new submission.
func (s *Service) Create(ctx context.Context, input NewTool) (Tool, error) {
	tool, err := s.validateNewTool(input)
	if err != nil {
		return Tool{}, newServiceError(opCreate, reasonInvalidInput, err)
	}
	if err := s.db.WithContext(ctx).Create(&tool).Error; err != nil {
		s.logError(opCreate, reasonWriteFailed, err, zap.String("user_id", input.UserID))
		return Tool{}, newServiceError(opCreate, reasonWriteFailed, err)
	}
	s.invalidateTrending(ctx)
	return tool, nil
}

// Delete removes a tool and its upvotes. Only the submitter may delete.
func (s *Service) Delete(ctx context.Context, toolID uint64, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return newServiceError(opDelete, reasonUnauthenticated, ErrAuthRequired)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tool Tool
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&tool, toolID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDelete, reasonNotFound, ErrToolNotFound)
		}
		if err != nil {
			return newServiceError(opDelete, reasonQueryFailed, err)
		}
		if !tool.OwnedBy(userID) {
			return newServiceError(opDelete, reasonForbidden, ErrNotToolOwner)
		}
		if err := tx.Where("tool_id = ?", toolID).Delete(&Upvote{}).Error; err != nil {
			return newServiceError(opDelete, reasonWriteFailed, err)
		}
		if err := tx.Delete(&Tool{}, toolID).Error; err != nil {
			return newServiceError(opDelete, reasonWriteFailed, err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrToolNotFound) && !errors.Is(err, ErrNotToolOwner) {
			s.logError(opDelete, reasonWriteFailed, err, zap.Uint64("tool_id", toolID))
		}
		return err
	}
	s.invalidateTrending(ctx)
	return nil
}

// InvalidateTrending drops the cached trending list after out-of-band writes.
func (s *Service) InvalidateTrending(ctx context.Context) {
	s.invalidateTrending(ctx)
}

func (s *Service) selectTools(ctx context.Context, query ListQuery) ([]Tool, error) {
	statement := s.db.WithContext(ctx).Model(&Tool{})
	if query.Search != "" {
		pattern := "%" + strings.ToLower(query.Search) + "%"
		statement = statement.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}
	switch query.Pricing {
	case PricingFree:
		statement = statement.Where("is_paid IS NULL OR is_paid = ?", false)
	case PricingPaid:
		statement = statement.Where("is_paid = ?", true)
	}
	if query.OwnerID != "" {
		statement = statement.Where("user_id = ?", query.OwnerID)
	}
	switch query.Sort {
	case SortNewest:
		statement = statement.Order("created_at DESC").Order("id DESC")
	case SortLaunch:
		statement = statement.Order("launch_date IS NULL").Order("launch_date DESC").Order("id DESC")
	default:
		statement = statement.Order("upvotes_count DESC").Order("created_at DESC").Order("id DESC")
	}

	var rows []Tool
	err := statement.Limit(query.Limit).Offset(query.Offset).Find(&rows).Error
	return rows, err
}

func (s *Service) upvotedBy(ctx context.Context, viewerID string) (map[uint64]struct{}, error) {
	upvoted := make(map[uint64]struct{})
	if viewerID == "" {
		return upvoted, nil
	}
	var toolIDs []uint64
	if err := s.db.WithContext(ctx).Model(&Upvote{}).
		Where("user_id = ?", viewerID).
		Pluck("tool_id", &toolIDs).Error; err != nil {
		return nil, err
	}
	for _, toolID := range toolIDs {
		upvoted[toolID] = struct{}{}
	}
	return upvoted, nil
}

func (s *Service) trendingRows(ctx context.Context) ([]Tool, error) {
	if payload, ok := s.cache.Get(ctx, trendingCacheKey); ok {
		var cached []Tool
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
		s.logger.Debug("discarding unreadable trending cache entry")
	}

	var rows []Tool
	err := s.db.WithContext(ctx).
		Order("upvotes_count DESC").
		Order("created_at DESC").
		Order("id DESC").
		Limit(maxTrendingLimit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(rows); err == nil {
		s.cache.Set(ctx, trendingCacheKey, payload, s.trendingTTL)
	}
	return rows, nil
}

func (s *Service) invalidateTrending(ctx context.Context) {
	s.cache.Delete(ctx, trendingCacheKey)
}

func (s *Service) validateNewTool(input NewTool) (Tool, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Tool{}, fmt.Errorf("%w: title is required", ErrInvalidTool)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return Tool{}, fmt.Errorf("%w: title exceeds %d characters", ErrInvalidTool, maxTitleLength)
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return Tool{}, fmt.Errorf("%w: description is required", ErrInvalidTool)
	}
	toolURL, err := validateURL(input.URL)
	if err != nil {
		return Tool{}, fmt.Errorf("%w: url %v", ErrInvalidTool, err)
	}
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return Tool{}, fmt.Errorf("%w: user_id is required", ErrInvalidTool)
	}

	var logoURL *string
	if input.LogoURL != nil && strings.TrimSpace(*input.LogoURL) != "" {
		validated, err := validateURL(*input.LogoURL)
		if err != nil {
			return Tool{}, fmt.Errorf("%w: logo_url %v", ErrInvalidTool, err)
		}
		logoURL = &validated
	}

	var launchDate *time.Time
	if input.LaunchDate != nil && !input.LaunchDate.IsZero() {
		value := input.LaunchDate.UTC()
		launchDate = &value
	}

	return Tool{
		Title:       title,
		Description: description,
		URL:         &toolURL,
		LogoURL:     logoURL,
		IsPaid:      input.IsPaid,
		LaunchDate:  launchDate,
		UserID:      &userID,
		CreatedAt:   s.clock().UTC(),
	}, nil
}

func validateURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", errors.New("is not a valid url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("must be absolute")
	}
	return parsed.String(), nil
}

func normalizeQuery(query ListQuery) (ListQuery, error) {
	query.Search = strings.TrimSpace(query.Search)
	query.Pricing = strings.ToLower(strings.TrimSpace(query.Pricing))
	query.Sort = strings.ToLower(strings.TrimSpace(query.Sort))
	query.OwnerID = strings.TrimSpace(query.OwnerID)
	query.ViewerID = strings.TrimSpace(query.ViewerID)

	switch query.Pricing {
	case PricingAny, PricingFree, PricingPaid:
	default:
		return ListQuery{}, fmt.Errorf("%w: unknown pricing %q", ErrInvalidQuery, query.Pricing)
	}
	switch query.Sort {
	case "":
		query.Sort = SortUpvotes
	case SortUpvotes, SortNewest, SortLaunch:
	default:
		return ListQuery{}, fmt.Errorf("%w: unknown sort %q", ErrInvalidQuery, query.Sort)
	}
	if query.Limit <= 0 {
		query.Limit = DefaultListLimit
	}
	if query.Limit > MaxListLimit {
		query.Limit = MaxListLimit
	}
	if query.Offset < 0 {
		return ListQuery{}, fmt.Errorf("%w: offset must not be negative", ErrInvalidQuery)
	}
	return query, nil
}

func withViewerFlags(rows []Tool, upvoted map[uint64]struct{}) []ToolView {
	views := make([]ToolView, 0, len(rows))
	for _, row := range rows {
		_, isUpvoted := upvoted[row.ID]
		views = append(views, ToolView{Tool: row, IsUpvoted: isUpvoted})
	}
	return views
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
	s.logger.Error("tools service error", attrs...)
}
