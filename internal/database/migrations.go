package database

import (
	"errors"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/tools"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationDedupeUpvotes        = "2024-06-01_dedupe_upvotes"
	migrationBackfillUpvoteCounts = "2024-06-01_backfill_upvotes_count"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func preSchemaMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationDedupeUpvotes, apply: dedupeUpvotes},
	}
}

func postSchemaMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationBackfillUpvoteCounts, apply: backfillUpvoteCounts},
	}
}

func applyMigrations(db *gorm.DB, logger *zap.Logger, migrations []migrationDefinition) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dedupeUpvotes keeps the oldest upvote per (tool_id, user_id). Fresh databases have no table yet.
func dedupeUpvotes(db *gorm.DB) error {
	if !db.Migrator().HasTable(&tools.Upvote{}) {
		return nil
	}
	return db.Exec(`DELETE FROM upvotes WHERE id NOT IN (
		SELECT keep_id FROM (
			SELECT MIN(id) AS keep_id FROM upvotes GROUP BY tool_id, user_id
		) AS keepers
	)`).Error
}

func backfillUpvoteCounts(db *gorm.DB) error {
	return db.Exec(`UPDATE tools SET upvotes_count = (
		SELECT COUNT(*) FROM upvotes WHERE upvotes.tool_id = tools.id
	)`).Error
}
