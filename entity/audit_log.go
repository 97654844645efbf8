package entity

import (
	"encoding/json"
	"time"
)

// AuditAction represents the type of mutation applied to a flag
type AuditAction string

const (
	ActionCreate AuditAction = "create"
	ActionUpdate AuditAction = "update"
	ActionDelete AuditAction = "delete"
)

// ActorType distinguishes human administrators from automated mutations
type ActorType string

const (
	ActorAdmin  ActorType = "admin"
	ActorSystem ActorType = "system"
)

// FlagAudit is an append-only record of one configuration mutation.
// BeforeState is null for creates, AfterState is null for deletes.
type FlagAudit struct {
	ID          int64           `json:"id" db:"id"`
	FlagKey     string          `json:"flag_key" db:"flag_key"`
	ActorID     string          `json:"actor_id" db:"actor_id"`
	ActorType   ActorType       `json:"actor_type" db:"actor_type"`
	Action      AuditAction     `json:"action" db:"action"`
	BeforeState json.RawMessage `json:"before_state,omitempty" db:"before_state"`
	AfterState  json.RawMessage `json:"after_state,omitempty" db:"after_state"`
	Reason      string          `json:"reason" db:"reason"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// NewFlagAudit builds an audit row from before/after snapshots. A nil
// snapshot pointer serializes as a null state column.
func NewFlagAudit(flagKey string, action AuditAction, actorID string, actorType ActorType, before, after *FlagState, reason string) (*FlagAudit, error) {
	audit := &FlagAudit{
		FlagKey:   flagKey,
		ActorID:   actorID,
		ActorType: actorType,
		Action:    action,
		Reason:    reason,
		CreatedAt: time.Now(),
	}

	if before != nil {
		data, err := json.Marshal(before)
		if err != nil {
			return nil, err
		}
		audit.BeforeState = data
	}
	if after != nil {
		data, err := json.Marshal(after)
		if err != nil {
			return nil, err
		}
		audit.AfterState = data
	}

	return audit, nil
}
