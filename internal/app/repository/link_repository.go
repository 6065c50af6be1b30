package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sifan077/TempLogin/internal/app/access"
	"github.com/sifan077/TempLogin/internal/app/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	// consumeAttempts bounds retries when the compare-and-swap loses a race,
	// which only happens on stores without row locks.
	consumeAttempts = 3
)

var errConsumeConflict = errors.New("consume lost compare-and-swap")

// ConsumeResult carries the link state observed before the increment and the verdict.
type ConsumeResult struct {
	Link    model.Link
	Verdict access.Verdict
}

// ListFilter narrows the admin listing.
type ListFilter struct {
	SubjectIdentity string
	// Status is evaluated at Now. Empty means any status.
	Status access.DisplayStatus
	Now    time.Time
	Limit  int
	Offset int
}

// LinkRepository defines the data access contract for login links.
type LinkRepository interface {
	Create(ctx context.Context, link *model.Link) error
	GetByID(ctx context.Context, id string) (*model.Link, error)
	GetByToken(ctx context.Context, token string) (*model.Link, error)
	// TryConsume atomically classifies the link and, when granted, records the access.
	TryConsume(ctx context.Context, token string, now time.Time) (ConsumeResult, error)
	SetActive(ctx context.Context, id string, active bool) error
	ExtendExpiry(ctx context.Context, id string, newExpiresAt time.Time) error
	Delete(ctx context.Context, id string) error
	// ListExpiredBefore streams links that are past expiry or out of accesses at now
	// and have not been torn down yet.
	ListExpiredBefore(ctx context.Context, now time.Time, batchSize int, fn func([]model.Link) error) error
	// MarkTornDown records the teardown of a link. It reports false when another
	// sweep already claimed it.
	MarkTornDown(ctx context.Context, id string, at time.Time) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]model.Link, error)
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) Create(ctx context.Context, link *model.Link) error {
	link.CreatedAt = link.CreatedAt.UTC()
	link.ExpiresAt = link.ExpiresAt.UTC()

	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateToken
		}
		return storageError("create link", err)
	}
	return nil
}

func (r *linkRepository) GetByID(ctx context.Context, id string) (*model.Link, error) {
	return r.first(ctx, "get link by id", "id = ?", id)
}

func (r *linkRepository) GetByToken(ctx context.Context, token string) (*model.Link, error) {
	return r.first(ctx, "get link by token", "token = ?", token)
}

func (r *linkRepository) first(ctx context.Context, op, query string, arg string) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).Where(query, arg).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, storageError(op, err)
	}
	return &link, nil
}

func (r *linkRepository) TryConsume(ctx context.Context, token string, now time.Time) (ConsumeResult, error) {
	var (
		result ConsumeResult
		err    error
	)
	for attempt := 0; attempt < consumeAttempts; attempt++ {
		result, err = r.consumeOnce(ctx, token, now)
		if !errors.Is(err, errConsumeConflict) {
			break
		}
	}

	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ConsumeResult{}, ErrLinkNotFound
	default:
		return ConsumeResult{}, storageError("consume link", err)
	}
}

// consumeOnce runs the read-check-increment sequence in one transaction. The row
// lock serialises concurrent presentations of the same token in Postgres; the
// access_count guard on the UPDATE catches any interleaving the lock does not.
func (r *linkRepository) consumeOnce(ctx context.Context, token string, now time.Time) (ConsumeResult, error) {
	var result ConsumeResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link model.Link
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token = ?", token).
			First(&link).Error; err != nil {
			return err
		}

		result.Link = link
		result.Verdict = access.Classify(link, now)
		if !result.Verdict.Granted {
			return nil
		}

		res := tx.Model(&model.Link{}).
			Where("id = ? AND access_count = ?", link.ID, link.AccessCount).
			Updates(map[string]interface{}{
				"access_count":     gorm.Expr("access_count + ?", 1),
				"last_accessed_at": now.UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errConsumeConflict
		}
		return nil
	})
	return result, err
}

func (r *linkRepository) SetActive(ctx context.Context, id string, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ?", id).
		Update("is_active", active)
	if res.Error != nil {
		return storageError("set link active", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *linkRepository) ExtendExpiry(ctx context.Context, id string, newExpiresAt time.Time) error {
	newExpiresAt = newExpiresAt.UTC()

	// The expiry guard keeps concurrent extensions from moving expiry backwards.
	// A teardown marker is cleared only when the link can be used again, so a
	// maxed-out link is never torn down twice.
	res := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ? AND expires_at < ?", id, newExpiresAt).
		Updates(map[string]interface{}{
			"expires_at":   newExpiresAt,
			"torn_down_at": gorm.Expr("CASE WHEN max_accesses > 0 AND access_count >= max_accesses THEN torn_down_at ELSE NULL END"),
		})
	if res.Error != nil {
		return storageError("extend link expiry", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrInvalidExtension
}

func (r *linkRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Link{})
	if res.Error != nil {
		return storageError("delete link", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *linkRepository) ListExpiredBefore(ctx context.Context, now time.Time, batchSize int, fn func([]model.Link) error) error {
	if batchSize <= 0 {
		batchSize = defaultListLimit
	}

	var batch []model.Link
	res := r.db.WithContext(ctx).
		Where("torn_down_at IS NULL").
		Where("(expires_at <= ? OR (max_accesses > 0 AND access_count >= max_accesses))", now.UTC()).
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			out := make([]model.Link, len(batch))
			copy(out, batch)
			return fn(out)
		})
	if res.Error != nil {
		return storageError("list expired links", res.Error)
	}
	return nil
}

func (r *linkRepository) MarkTornDown(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ? AND torn_down_at IS NULL", id).
		Update("torn_down_at", at.UTC())
	if res.Error != nil {
		return false, storageError("mark link torn down", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *linkRepository) List(ctx context.Context, filter ListFilter) ([]model.Link, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	q := r.db.WithContext(ctx).Model(&model.Link{})
	if filter.SubjectIdentity != "" {
		q = q.Where("subject_identity = ?", filter.SubjectIdentity)
	}
	q = applyStatus(q, filter.Status, filter.Now.UTC())

	var result []model.Link
	if err := q.Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&result).Error; err != nil {
		return nil, storageError("list links", err)
	}
	return result, nil
}

// applyStatus mirrors access.Classify precedence in SQL.
func applyStatus(q *gorm.DB, status access.DisplayStatus, now time.Time) *gorm.DB {
	switch status {
	case access.StatusDeactivated:
		return q.Where("is_active = ?", false)
	case access.StatusExpired:
		return q.Where("is_active = ? AND expires_at <= ?", true, now)
	case access.StatusMaxedOut:
		return q.Where("is_active = ? AND expires_at > ? AND max_accesses > 0 AND access_count >= max_accesses", true, now)
	case access.StatusActive:
		return q.Where("is_active = ? AND expires_at > ? AND (max_accesses = 0 OR access_count < max_accesses)", true, now)
	default:
		return q
	}
}
