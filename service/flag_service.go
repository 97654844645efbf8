package service

import (
	"context"
	"errors"
	"fmt"

	"flagengine/entity"
	"flagengine/pkg/logger"
	"flagengine/repository"
	"flagengine/validator"

	"github.com/jmoiron/sqlx"
)

var (
	ErrFlagNotFound      = errors.New("flag not found")
	ErrFlagAlreadyExists = errors.New("flag already exists")
)

// FlagService is the administration API: every mutation validates first,
// snapshots before/after states, and writes the flag together with its
// audit row in one transaction.
type FlagService interface {
	CreateFlag(ctx context.Context, req validator.FlagCreateRequest, actorID, reason string) (*entity.FeatureFlag, error)
	UpdateFlag(ctx context.Context, flagKey string, req validator.FlagUpdateRequest, actorID string) (*entity.FeatureFlag, error)
	DeleteFlag(ctx context.Context, flagKey, actorID, reason string) error
	GetFlag(ctx context.Context, flagKey string) (*entity.FeatureFlag, error)
	ListFlags(ctx context.Context) ([]*entity.FeatureFlag, error)
	GetFlagAudits(ctx context.Context, flagKey string) ([]*entity.FlagAudit, error)
	GetFlagEvaluations(ctx context.Context, flagKey string, limit, offset int) ([]*entity.FlagEvaluation, error)
}

type flagService struct {
	flagRepo  repository.FlagRepository
	auditRepo repository.AuditRepository
	evalRepo  repository.EvaluationRepository
	cache     repository.FlagCache
	logger    *logger.Logger
}

func NewFlagService(flagRepo repository.FlagRepository, auditRepo repository.AuditRepository, evalRepo repository.EvaluationRepository, cache repository.FlagCache, log *logger.Logger) FlagService {
	return &flagService{
		flagRepo:  flagRepo,
		auditRepo: auditRepo,
		evalRepo:  evalRepo,
		cache:     cache,
		logger:    log,
	}
}

func (s *flagService) CreateFlag(ctx context.Context, req validator.FlagCreateRequest, actorID, reason string) (*entity.FeatureFlag, error) {
	if err := validator.ValidateFlagCreateRequest(req); err != nil {
		s.logger.Warnw("Invalid flag creation request", "error", err, "actorID", actorID)
		return nil, err
	}
	if err := validator.ValidateActor(actorID); err != nil {
		return nil, err
	}

	// Soft-deleted keys count as taken so audit and evaluation history
	// never ends up referring to two different flags.
	exists, err := s.flagRepo.KeyExists(ctx, req.FlagKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check flag existence: %w", err)
	}
	if exists {
		return nil, ErrFlagAlreadyExists
	}

	flag := &entity.FeatureFlag{
		FlagKey:           req.FlagKey,
		Description:       req.Description,
		Enabled:           req.Enabled,
		RolloutPercentage: req.RolloutPercentage,
		Whitelist:         req.Whitelist,
		AnalyticsEnabled:  req.AnalyticsEnabled,
	}

	err = s.flagRepo.Transact(ctx, func(tx *sqlx.Tx) error {
		flagID, err := s.flagRepo.CreateFlag(ctx, tx, flag)
		if err != nil {
			if errors.Is(err, repository.ErrFlagAlreadyExists) {
				return ErrFlagAlreadyExists
			}
			return err
		}
		flag.ID = flagID

		after := flag.Snapshot()
		audit, err := entity.NewFlagAudit(flag.FlagKey, entity.ActionCreate, actorID, entity.ActorAdmin, nil, &after, reason)
		if err != nil {
			return fmt.Errorf("failed to build audit row: %w", err)
		}
		return s.auditRepo.CreateAudit(ctx, tx, audit)
	})
	if err != nil {
		if errors.Is(err, ErrFlagAlreadyExists) {
			return nil, ErrFlagAlreadyExists
		}
		s.logger.Errorw("Failed to create flag", "error", err, "flagKey", req.FlagKey)
		return nil, fmt.Errorf("failed to create flag: %w", err)
	}

	s.logger.Infow("Flag created", "flagKey", flag.FlagKey, "actorID", actorID)
	return flag, nil
}

// UpdateFlag applies only the fields the patch supplies. A patch that
// changes nothing is a no-op: updated_at is untouched and no audit row is
// written. The row lock serializes concurrent updates of the same key so
// the before/after snapshot pair always reflects a single transition.
func (s *flagService) UpdateFlag(ctx context.Context, flagKey string, req validator.FlagUpdateRequest, actorID string) (*entity.FeatureFlag, error) {
	if err := validator.ValidateFlagUpdateRequest(req); err != nil {
		s.logger.Warnw("Invalid flag update request", "error", err, "flagKey", flagKey, "actorID", actorID)
		return nil, err
	}
	if err := validator.ValidateActor(actorID); err != nil {
		return nil, err
	}

	var updated *entity.FeatureFlag
	err := s.flagRepo.Transact(ctx, func(tx *sqlx.Tx) error {
		flag, err := s.flagRepo.GetFlagByKeyForUpdate(ctx, tx, flagKey)
		if err != nil {
			if errors.Is(err, repository.ErrFlagNotFound) {
				return ErrFlagNotFound
			}
			return err
		}

		before := flag.Snapshot()
		applyPatch(flag, req)
		after := flag.Snapshot()

		if before.Equal(after) {
			updated = flag
			return nil
		}

		if err := s.flagRepo.UpdateFlag(ctx, tx, flag); err != nil {
			return err
		}

		audit, err := entity.NewFlagAudit(flagKey, entity.ActionUpdate, actorID, entity.ActorAdmin, &before, &after, req.Reason)
		if err != nil {
			return fmt.Errorf("failed to build audit row: %w", err)
		}
		if err := s.auditRepo.CreateAudit(ctx, tx, audit); err != nil {
			return err
		}

		updated = flag
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrFlagNotFound) {
			return nil, ErrFlagNotFound
		}
		s.logger.Errorw("Failed to update flag", "error", err, "flagKey", flagKey)
		return nil, fmt.Errorf("failed to update flag: %w", err)
	}

	s.invalidateCache(ctx, flagKey)

	s.logger.Infow("Flag updated", "flagKey", flagKey, "actorID", actorID)
	return updated, nil
}

func (s *flagService) DeleteFlag(ctx context.Context, flagKey, actorID, reason string) error {
	if err := validator.ValidateActor(actorID); err != nil {
		return err
	}

	err := s.flagRepo.Transact(ctx, func(tx *sqlx.Tx) error {
		flag, err := s.flagRepo.GetFlagByKeyForUpdate(ctx, tx, flagKey)
		if err != nil {
			if errors.Is(err, repository.ErrFlagNotFound) {
				return ErrFlagNotFound
			}
			return err
		}

		before := flag.Snapshot()
		if err := s.flagRepo.SoftDeleteFlag(ctx, tx, flagKey); err != nil {
			return err
		}

		audit, err := entity.NewFlagAudit(flagKey, entity.ActionDelete, actorID, entity.ActorAdmin, &before, nil, reason)
		if err != nil {
			return fmt.Errorf("failed to build audit row: %w", err)
		}
		return s.auditRepo.CreateAudit(ctx, tx, audit)
	})
	if err != nil {
		if errors.Is(err, ErrFlagNotFound) {
			return ErrFlagNotFound
		}
		s.logger.Errorw("Failed to delete flag", "error", err, "flagKey", flagKey)
		return fmt.Errorf("failed to delete flag: %w", err)
	}

	s.invalidateCache(ctx, flagKey)

	s.logger.Infow("Flag deleted", "flagKey", flagKey, "actorID", actorID, "reason", reason)
	return nil
}

func (s *flagService) GetFlag(ctx context.Context, flagKey string) (*entity.FeatureFlag, error) {
	flag, err := s.flagRepo.GetFlagByKey(ctx, flagKey)
	if err != nil {
		if errors.Is(err, repository.ErrFlagNotFound) {
			return nil, ErrFlagNotFound
		}
		return nil, fmt.Errorf("failed to get flag: %w", err)
	}
	return flag, nil
}

func (s *flagService) ListFlags(ctx context.Context) ([]*entity.FeatureFlag, error) {
	flags, err := s.flagRepo.ListFlags(ctx)
	if err != nil {
		s.logger.Errorw("Failed to list flags", "error", err)
		return nil, fmt.Errorf("failed to list flags: %w", err)
	}
	return flags, nil
}

func (s *flagService) GetFlagAudits(ctx context.Context, flagKey string) ([]*entity.FlagAudit, error) {
	if err := s.requireFlagExists(ctx, flagKey); err != nil {
		return nil, err
	}

	audits, err := s.auditRepo.ListAuditsByFlagKey(ctx, flagKey)
	if err != nil {
		s.logger.Errorw("Failed to get audit history", "error", err, "flagKey", flagKey)
		return nil, fmt.Errorf("failed to get audit history: %w", err)
	}
	return audits, nil
}

func (s *flagService) GetFlagEvaluations(ctx context.Context, flagKey string, limit, offset int) ([]*entity.FlagEvaluation, error) {
	if err := s.requireFlagExists(ctx, flagKey); err != nil {
		return nil, err
	}

	evals, err := s.evalRepo.ListEvaluationsByFlagKey(ctx, flagKey, limit, offset)
	if err != nil {
		s.logger.Errorw("Failed to get evaluation log", "error", err, "flagKey", flagKey)
		return nil, fmt.Errorf("failed to get evaluation log: %w", err)
	}
	return evals, nil
}

func (s *flagService) requireFlagExists(ctx context.Context, flagKey string) error {
	// History remains readable for soft-deleted flags.
	exists, err := s.flagRepo.KeyExists(ctx, flagKey)
	if err != nil {
		return fmt.Errorf("failed to verify flag existence: %w", err)
	}
	if !exists {
		return ErrFlagNotFound
	}
	return nil
}

// invalidateCache drops the cached config after a successful commit so
// the administrator reads their own write on the next evaluation.
func (s *flagService) invalidateCache(ctx context.Context, flagKey string) {
	if err := s.cache.Invalidate(ctx, flagKey); err != nil {
		s.logger.Errorw("Failed to invalidate flag cache", "error", err, "flagKey", flagKey)
	}
}

// applyPatch copies the supplied patch fields onto the loaded flag
func applyPatch(flag *entity.FeatureFlag, req validator.FlagUpdateRequest) {
	if req.Description != nil {
		flag.Description = *req.Description
	}
	if req.Enabled != nil {
		flag.Enabled = *req.Enabled
	}
	if req.RolloutPercentage != nil {
		flag.RolloutPercentage = *req.RolloutPercentage
	}
	if req.Whitelist != nil {
		flag.Whitelist = append([]string(nil), (*req.Whitelist)...)
	}
	if req.AnalyticsEnabled != nil {
		flag.AnalyticsEnabled = *req.AnalyticsEnabled
	}
}
