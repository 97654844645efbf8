package repository

import (
	"context"
	"fmt"

	"flagengine/entity"

	"github.com/jmoiron/sqlx"
)

type EvaluationRepository interface {
	CreateEvaluation(ctx context.Context, eval *entity.FlagEvaluation) error
	ListEvaluationsByFlagKey(ctx context.Context, flagKey string, limit, offset int) ([]*entity.FlagEvaluation, error)
}

type pgEvaluationRepository struct {
	db *sqlx.DB
}

func NewEvaluationRepository(db *sqlx.DB) EvaluationRepository {
	return &pgEvaluationRepository{db: db}
}

// CreateEvaluation appends one evaluation log row. Each insert is its own
// implicit transaction; it never holds locks that could contend with
// concurrent evaluations of the same flag.
func (r *pgEvaluationRepository) CreateEvaluation(ctx context.Context, eval *entity.FlagEvaluation) error {
	query := `
		INSERT INTO flag_evaluations
			(flag_key, subject_type, subject_id, result, consent_granted, rollout_percentage_snapshot, evaluation_reason, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		eval.FlagKey, eval.SubjectType, eval.SubjectID, eval.Result,
		eval.ConsentGranted, eval.RolloutPercentageSnapshot, eval.EvaluationReason, eval.TraceID,
	)
	if err != nil {
		return fmt.Errorf("failed to create evaluation row: %w", err)
	}
	return nil
}

func (r *pgEvaluationRepository) ListEvaluationsByFlagKey(ctx context.Context, flagKey string, limit, offset int) ([]*entity.FlagEvaluation, error) {
	var evals []*entity.FlagEvaluation
	query := `
		SELECT id, flag_key, subject_type, subject_id, result, consent_granted, rollout_percentage_snapshot, evaluation_reason, trace_id, created_at
		FROM flag_evaluations
		WHERE flag_key = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	err := r.db.SelectContext(ctx, &evals, query, flagKey, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations by flag key: %w", err)
	}
	return evals, nil
}
