package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sifan077/TempLogin/internal/app/model"
)

// AccessLogRepository defines the data access contract for the access log.
type AccessLogRepository interface {
	Create(ctx context.Context, entry *model.AccessLogEntry) error
	ListByLink(ctx context.Context, linkID string, limit int) ([]model.AccessLogEntry, error)
}

type accessLogRepository struct {
	db *gorm.DB
}

// NewAccessLogRepository returns a GORM-backed AccessLogRepository.
func NewAccessLogRepository(db *gorm.DB) AccessLogRepository {
	return &accessLogRepository{db: db}
}

// Create inserts the entry. Re-inserting an existing ID is a no-op so redelivered
// stream messages do not duplicate rows.
func (r *accessLogRepository) Create(ctx context.Context, entry *model.AccessLogEntry) error {
	entry.Timestamp = entry.Timestamp.UTC()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(entry).Error
	if err != nil {
		return storageError("create access log entry", err)
	}
	return nil
}

func (r *accessLogRepository) ListByLink(ctx context.Context, linkID string, limit int) ([]model.AccessLogEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var result []model.AccessLogEntry
	if err := r.db.WithContext(ctx).
		Where("link_id = ?", linkID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, storageError("list access log", err)
	}
	return result, nil
}
