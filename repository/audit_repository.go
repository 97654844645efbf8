package repository

import (
	"context"
	"fmt"

	"flagengine/entity"

	"github.com/jmoiron/sqlx"
)

type AuditRepository interface {
	CreateAudit(ctx context.Context, tx sqlx.ExtContext, audit *entity.FlagAudit) error
	ListAuditsByFlagKey(ctx context.Context, flagKey string) ([]*entity.FlagAudit, error)
	ListAllAudits(ctx context.Context, limit, offset int) ([]*entity.FlagAudit, error)
}

type pgAuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) AuditRepository {
	return &pgAuditRepository{db: db}
}

// CreateAudit appends one audit row. It takes the caller's transaction so
// the flag write and its audit row commit as a single unit.
func (r *pgAuditRepository) CreateAudit(ctx context.Context, tx sqlx.ExtContext, audit *entity.FlagAudit) error {
	query := `
		INSERT INTO flag_audits (flag_key, actor_id, actor_type, action, before_state, after_state, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.ExecContext(ctx, query,
		audit.FlagKey, audit.ActorID, audit.ActorType, audit.Action, audit.BeforeState, audit.AfterState, audit.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit row: %w", err)
	}
	return nil
}

func (r *pgAuditRepository) ListAuditsByFlagKey(ctx context.Context, flagKey string) ([]*entity.FlagAudit, error) {
	var audits []*entity.FlagAudit
	query := `
		SELECT id, flag_key, actor_id, actor_type, action, before_state, after_state, reason, created_at
		FROM flag_audits
		WHERE flag_key = $1
		ORDER BY created_at DESC
	`
	err := r.db.SelectContext(ctx, &audits, query, flagKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list audits by flag key: %w", err)
	}
	return audits, nil
}

func (r *pgAuditRepository) ListAllAudits(ctx context.Context, limit, offset int) ([]*entity.FlagAudit, error) {
	var audits []*entity.FlagAudit
	query := `
		SELECT id, flag_key, actor_id, actor_type, action, before_state, after_state, reason, created_at
		FROM flag_audits
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	err := r.db.SelectContext(ctx, &audits, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list all audits: %w", err)
	}
	return audits, nil
}
