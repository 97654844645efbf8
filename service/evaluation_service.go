package service

import (
	"context"
	"errors"
	"fmt"

	"flagengine/entity"
	"flagengine/pkg/bucket"
	"flagengine/pkg/logger"
	"flagengine/repository"
	"flagengine/validator"
)

// EvaluationService decides whether a flag is active for a subject
type EvaluationService interface {
	Evaluate(ctx context.Context, req validator.EvaluateRequest) (entity.EvaluationResult, error)
}

type evaluationService struct {
	flagRepo repository.FlagRepository
	evalRepo repository.EvaluationRepository
	cache    repository.FlagCache
	logger   *logger.Logger
}

func NewEvaluationService(flagRepo repository.FlagRepository, evalRepo repository.EvaluationRepository, cache repository.FlagCache, log *logger.Logger) EvaluationService {
	return &evaluationService{
		flagRepo: flagRepo,
		evalRepo: evalRepo,
		cache:    cache,
		logger:   log,
	}
}

// Evaluate applies the precedence chain, first match wins: flag lookup,
// subject identity, master kill switch, whitelist, full rollout, zero
// rollout, cohort bucketing. Missing flags and missing subjects are normal
// negative results, not errors; only infrastructure failures surface as
// errors, and the flag then stays disabled for the caller (fail closed).
func (s *evaluationService) Evaluate(ctx context.Context, req validator.EvaluateRequest) (entity.EvaluationResult, error) {
	if err := validator.ValidateEvaluateRequest(req); err != nil {
		return entity.EvaluationResult{}, err
	}

	flag, err := s.loadFlag(ctx, req.FlagKey)
	if err != nil {
		if errors.Is(err, repository.ErrFlagNotFound) {
			// No flag config to consult, so no evaluation log either.
			return entity.EvaluationResult{Enabled: false, Reason: entity.ReasonFlagNotFound}, nil
		}
		return entity.EvaluationResult{}, fmt.Errorf("failed to load flag: %w", err)
	}

	subjectType, subjectID, ok := resolveSubject(req)
	if !ok {
		return entity.EvaluationResult{Enabled: false, Reason: entity.ReasonMissingSubject}, nil
	}

	result := decide(flag, subjectID)

	s.logEvaluation(ctx, flag, subjectType, subjectID, result, req)

	return result, nil
}

// decide runs the subject-dependent part of the precedence chain
func decide(flag *entity.FeatureFlag, subjectID string) entity.EvaluationResult {
	if !flag.Enabled {
		return entity.EvaluationResult{Enabled: false, Reason: entity.ReasonMasterDisabled}
	}
	if flag.IsWhitelisted(subjectID) {
		return entity.EvaluationResult{Enabled: true, Reason: entity.ReasonWhitelisted}
	}
	if flag.RolloutPercentage >= 100 {
		return entity.EvaluationResult{Enabled: true, Reason: entity.ReasonFullRollout}
	}
	if flag.RolloutPercentage <= 0 {
		return entity.EvaluationResult{Enabled: false, Reason: entity.ReasonZeroRollout}
	}

	if bucket.Assign(flag.FlagKey, subjectID) < flag.RolloutPercentage {
		return entity.EvaluationResult{Enabled: true, Reason: entity.ReasonCohortIncluded}
	}
	return entity.EvaluationResult{Enabled: false, Reason: entity.ReasonCohortExcluded}
}

// resolveSubject picks the subject identity for the evaluation. When both
// identities are supplied the user id is canonical and the session hash is
// ignored.
func resolveSubject(req validator.EvaluateRequest) (entity.SubjectType, string, bool) {
	if req.UserID != nil && *req.UserID != "" {
		return entity.SubjectUser, *req.UserID, true
	}
	if req.SessionHash != nil && *req.SessionHash != "" {
		return entity.SubjectSession, *req.SessionHash, true
	}
	return "", "", false
}

// loadFlag checks the cache before the store; cache failures degrade to a
// store lookup since the store is authoritative.
func (s *evaluationService) loadFlag(ctx context.Context, flagKey string) (*entity.FeatureFlag, error) {
	cached, found, err := s.cache.Get(ctx, flagKey)
	if err != nil {
		s.logger.Warnw("Flag cache read failed, falling back to store", "error", err, "flagKey", flagKey)
	} else if found {
		return cached, nil
	}

	flag, err := s.flagRepo.GetFlagByKey(ctx, flagKey)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, flag); err != nil {
		s.logger.Warnw("Flag cache write failed", "error", err, "flagKey", flagKey)
	}

	return flag, nil
}

// logEvaluation persists the outcome when the caller consented and the
// flag has analytics enabled. The write is best-effort: a failure is
// logged and swallowed so it never affects the evaluation result.
func (s *evaluationService) logEvaluation(ctx context.Context, flag *entity.FeatureFlag, subjectType entity.SubjectType, subjectID string, result entity.EvaluationResult, req validator.EvaluateRequest) {
	if !req.AnalyticsConsent || !flag.AnalyticsEnabled {
		return
	}

	eval := &entity.FlagEvaluation{
		FlagKey:                   flag.FlagKey,
		SubjectType:               subjectType,
		SubjectID:                 subjectID,
		Result:                    result.Enabled,
		ConsentGranted:            req.AnalyticsConsent,
		RolloutPercentageSnapshot: flag.RolloutPercentage,
		EvaluationReason:          result.Reason,
		TraceID:                   req.TraceID,
	}

	if err := s.evalRepo.CreateEvaluation(ctx, eval); err != nil {
		s.logger.Warnw("Failed to write evaluation log", "error", err, "flagKey", flag.FlagKey, "subjectID", subjectID)
	}
}
