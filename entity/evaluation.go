package entity

import "time"

// EvaluationReason is the closed set of outcomes the precedence chain can
// produce, ordered here the way the chain checks them.
type EvaluationReason string

const (
	ReasonFlagNotFound   EvaluationReason = "flag_not_found"
	ReasonMissingSubject EvaluationReason = "missing_subject"
	ReasonMasterDisabled EvaluationReason = "master_disabled"
	ReasonWhitelisted    EvaluationReason = "whitelisted"
	ReasonFullRollout    EvaluationReason = "full_rollout"
	ReasonZeroRollout    EvaluationReason = "zero_rollout"
	ReasonCohortIncluded EvaluationReason = "cohort_included"
	ReasonCohortExcluded EvaluationReason = "cohort_excluded"
)

// EvaluationResult is the transient outcome of one evaluation
type EvaluationResult struct {
	Enabled bool             `json:"enabled"`
	Reason  EvaluationReason `json:"reason"`
}

// SubjectType identifies the kind of identity a flag was evaluated against
type SubjectType string

const (
	SubjectUser    SubjectType = "user"
	SubjectSession SubjectType = "session"
)

// FlagEvaluation is an append-only, consent-gated record of one evaluation
// outcome. It captures the rollout percentage in effect at evaluation time
// so historical analysis survives later reconfiguration. The evaluation
// engine never reads these rows back; they exist for operators.
type FlagEvaluation struct {
	ID                        int64            `json:"id" db:"id"`
	FlagKey                   string           `json:"flag_key" db:"flag_key"`
	SubjectType               SubjectType      `json:"subject_type" db:"subject_type"`
	SubjectID                 string           `json:"subject_id" db:"subject_id"`
	Result                    bool             `json:"result" db:"result"`
	ConsentGranted            bool             `json:"consent_granted" db:"consent_granted"`
	RolloutPercentageSnapshot int              `json:"rollout_percentage_snapshot" db:"rollout_percentage_snapshot"`
	EvaluationReason          EvaluationReason `json:"evaluation_reason" db:"evaluation_reason"`
	TraceID                   *string          `json:"trace_id,omitempty" db:"trace_id"`
	CreatedAt                 time.Time        `json:"created_at" db:"created_at"`
}
