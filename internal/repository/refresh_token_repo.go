package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"tokenkeeper/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pgUniqueViolation = "23505"

// RefreshTokenRepository provides DB access for refresh tokens.
// Every revoke-style update is guarded by "revoked_at IS NULL" (or
// "is_compromised = false") so concurrent writers cannot both win.
type RefreshTokenRepository struct {
	db *gorm.DB
}

var _ domain.RefreshTokenStore = (*RefreshTokenRepository)(nil)

func NewRefreshTokenRepository(db *gorm.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Transaction(ctx context.Context, fn func(tx domain.RefreshTokenStore) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&RefreshTokenRepository{db: tx})
	})
}

func (r *RefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	err := r.db.WithContext(ctx).Create(t).Error
	if isDuplicateKeyError(err) {
		return domain.ErrDuplicateTokenHash
	}
	return err
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	return r.getByHash(r.db.WithContext(ctx), hash)
}

func (r *RefreshTokenRepository) GetByHashForUpdate(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	return r.getByHash(forUpdate(r.db.WithContext(ctx)), hash)
}

func (r *RefreshTokenRepository) getByHash(db *gorm.DB, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := db.Where("token_hash = ?", hash).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *RefreshTokenRepository) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("token_hash = ?", hash).
		Count(&count).Error
	return count > 0, err
}

func (r *RefreshTokenRepository) ListValidByUser(ctx context.Context, userID int64, role domain.Role, now time.Time) ([]domain.RefreshToken, error) {
	var tokens []domain.RefreshToken
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND user_role = ?", userID, role).
		Where("revoked_at IS NULL AND is_compromised = ? AND expires_at > ?", false, now.UTC()).
		Order("created_at ASC, id ASC").
		Find(&tokens).Error
	return tokens, err
}

func (r *RefreshTokenRepository) ListByFamily(ctx context.Context, familyID string) ([]domain.RefreshToken, error) {
	var tokens []domain.RefreshToken
	err := r.db.WithContext(ctx).
		Where("family_id = ?", familyID).
		Order("created_at ASC, id ASC").
		Find(&tokens).Error
	return tokens, err
}

func (r *RefreshTokenRepository) RecordUse(ctx context.Context, id int64, at time.Time) (bool, error) {
	res := r.live(ctx).Where("id = ?", id).Updates(map[string]any{
		"use_count":    gorm.Expr("use_count + 1"),
		"last_used_at": at.UTC(),
	})
	return res.RowsAffected == 1, res.Error
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, id int64, reason string, at time.Time) (bool, error) {
	res := r.live(ctx).Where("id = ?", id).Updates(map[string]any{
		"revoked_at":     at.UTC(),
		"revoked_reason": reason,
	})
	return res.RowsAffected == 1, res.Error
}

func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error) {
	res := r.live(ctx).Where("family_id = ?", familyID).Updates(map[string]any{
		"revoked_at":     at.UTC(),
		"revoked_reason": reason,
	})
	return res.RowsAffected, res.Error
}

func (r *RefreshTokenRepository) RevokeByUser(ctx context.Context, userID int64, role domain.Role, reason string, at time.Time) (int64, error) {
	res := r.live(ctx).Where("user_id = ? AND user_role = ?", userID, role).Updates(map[string]any{
		"revoked_at":     at.UTC(),
		"revoked_reason": reason,
	})
	return res.RowsAffected, res.Error
}

// MarkFamilyCompromised flags every not-yet-compromised row of the family.
// Rows that were already revoked keep their original revoked_at and reason.
func (r *RefreshTokenRepository) MarkFamilyCompromised(ctx context.Context, familyID string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("family_id = ? AND is_compromised = ?", familyID, false).
		Updates(map[string]any{
			"is_compromised": true,
			"revoked_reason": gorm.Expr("CASE WHEN revoked_at IS NULL THEN ? ELSE revoked_reason END", domain.ReasonCompromised),
			"revoked_at":     gorm.Expr("COALESCE(revoked_at, ?)", at.UTC()),
		})
	return res.RowsAffected, res.Error
}

func (r *RefreshTokenRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&domain.RefreshToken{}, id).Error
}

func (r *RefreshTokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	db := r.db.WithContext(ctx)
	if limit <= 0 {
		res := db.Where("expires_at < ?", cutoff.UTC()).Delete(&domain.RefreshToken{})
		return res.RowsAffected, res.Error
	}

	batch := db.Model(&domain.RefreshToken{}).
		Select("id").
		Where("expires_at < ?", cutoff.UTC()).
		Order("id").
		Limit(limit)
	res := db.Where("id IN (?)", batch).Delete(&domain.RefreshToken{})
	return res.RowsAffected, res.Error
}

func (r *RefreshTokenRepository) Counts(ctx context.Context, now time.Time) (domain.TokenCounts, error) {
	var c domain.TokenCounts
	db := r.db.WithContext(ctx)

	if err := db.Model(&domain.RefreshToken{}).Count(&c.Total).Error; err != nil {
		return c, err
	}
	if err := db.Model(&domain.RefreshToken{}).
		Where("expires_at < ?", now.UTC()).
		Count(&c.Expired).Error; err != nil {
		return c, err
	}
	if err := db.Model(&domain.RefreshToken{}).
		Where("revoked_at IS NOT NULL OR is_compromised = ?", true).
		Count(&c.Revoked).Error; err != nil {
		return c, err
	}
	return c, nil
}

// live scopes an update to rows that are neither revoked nor compromised.
func (r *RefreshTokenRepository) live(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("revoked_at IS NULL AND is_compromised = ?", false)
}

// forUpdate adds SELECT ... FOR UPDATE; SQLite has no row locks and
// serializes writers on its own.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() != "sqlite" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
