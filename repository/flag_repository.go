package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"flagengine/entity"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrFlagNotFound      = errors.New("flag not found")
	ErrFlagAlreadyExists = errors.New("flag already exists")
)

// FlagRepository defines the interface for interacting with flag data.
// Methods taking an sqlx.ExtContext participate in a caller-owned
// transaction; the rest run against the pool directly.
type FlagRepository interface {
	CreateFlag(ctx context.Context, tx sqlx.ExtContext, flag *entity.FeatureFlag) (int64, error)
	GetFlagByKey(ctx context.Context, key string) (*entity.FeatureFlag, error)
	GetFlagByKeyForUpdate(ctx context.Context, tx sqlx.ExtContext, key string) (*entity.FeatureFlag, error)
	ListFlags(ctx context.Context) ([]*entity.FeatureFlag, error)
	UpdateFlag(ctx context.Context, tx sqlx.ExtContext, flag *entity.FeatureFlag) error
	SoftDeleteFlag(ctx context.Context, tx sqlx.ExtContext, key string) error
	KeyExists(ctx context.Context, key string) (bool, error)
	Transact(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type pgFlagRepository struct {
	db *sqlx.DB
}

func NewFlagRepository(db *sqlx.DB) FlagRepository {
	return &pgFlagRepository{db: db}
}

const flagColumns = `id, flag_key, description, enabled, rollout_percentage, whitelist, analytics_enabled, created_at, updated_at, deleted_at`

func (r *pgFlagRepository) CreateFlag(ctx context.Context, tx sqlx.ExtContext, flag *entity.FeatureFlag) (int64, error) {
	query := `
		INSERT INTO flags (flag_key, description, enabled, rollout_percentage, whitelist, analytics_enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var flagID int64
	err := tx.QueryRowxContext(ctx, query,
		flag.FlagKey, flag.Description, flag.Enabled, flag.RolloutPercentage, nonNilWhitelist(flag.Whitelist), flag.AnalyticsEnabled,
	).Scan(&flagID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return 0, ErrFlagAlreadyExists
		}
		return 0, fmt.Errorf("failed to create flag: %w", err)
	}
	return flagID, nil
}

func (r *pgFlagRepository) GetFlagByKey(ctx context.Context, key string) (*entity.FeatureFlag, error) {
	var flag entity.FeatureFlag
	query := `SELECT ` + flagColumns + ` FROM flags WHERE flag_key = $1 AND deleted_at IS NULL`
	err := r.db.GetContext(ctx, &flag, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFlagNotFound
		}
		return nil, fmt.Errorf("failed to get flag by key: %w", err)
	}
	return &flag, nil
}

// GetFlagByKeyForUpdate loads a flag under a row lock so concurrent
// mutations of the same key serialize against each other.
func (r *pgFlagRepository) GetFlagByKeyForUpdate(ctx context.Context, tx sqlx.ExtContext, key string) (*entity.FeatureFlag, error) {
	var flag entity.FeatureFlag
	query := `SELECT ` + flagColumns + ` FROM flags WHERE flag_key = $1 AND deleted_at IS NULL FOR UPDATE`
	err := sqlx.GetContext(ctx, tx, &flag, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFlagNotFound
		}
		return nil, fmt.Errorf("failed to lock flag for update: %w", err)
	}
	return &flag, nil
}

func (r *pgFlagRepository) ListFlags(ctx context.Context) ([]*entity.FeatureFlag, error) {
	var flags []*entity.FeatureFlag
	query := `SELECT ` + flagColumns + ` FROM flags WHERE deleted_at IS NULL ORDER BY flag_key`
	err := r.db.SelectContext(ctx, &flags, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list flags: %w", err)
	}
	return flags, nil
}

func (r *pgFlagRepository) UpdateFlag(ctx context.Context, tx sqlx.ExtContext, flag *entity.FeatureFlag) error {
	query := `
		UPDATE flags
		SET description = $1, enabled = $2, rollout_percentage = $3, whitelist = $4, analytics_enabled = $5, updated_at = NOW()
		WHERE flag_key = $6 AND deleted_at IS NULL
	`
	result, err := tx.ExecContext(ctx, query,
		flag.Description, flag.Enabled, flag.RolloutPercentage, nonNilWhitelist(flag.Whitelist), flag.AnalyticsEnabled, flag.FlagKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrFlagNotFound
	}

	return nil
}

func (r *pgFlagRepository) SoftDeleteFlag(ctx context.Context, tx sqlx.ExtContext, key string) error {
	query := `UPDATE flags SET deleted_at = NOW(), updated_at = NOW() WHERE flag_key = $1 AND deleted_at IS NULL`
	result, err := tx.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to delete flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrFlagNotFound
	}

	return nil
}

// KeyExists checks key usage including soft-deleted rows, so keys
// referenced by audit or evaluation history cannot be reused.
func (r *pgFlagRepository) KeyExists(ctx context.Context, key string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM flags WHERE flag_key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("failed to check flag existence: %w", err)
	}
	return count > 0, nil
}

// nonNilWhitelist keeps a nil whitelist out of the NOT NULL column
func nonNilWhitelist(whitelist pq.StringArray) pq.StringArray {
	if whitelist == nil {
		return pq.StringArray{}
	}
	return whitelist
}

// Transact runs fn inside a transaction, committing on nil and rolling
// back on error or panic.
func (r *pgFlagRepository) Transact(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
