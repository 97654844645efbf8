package entity

import (
	"time"

	"github.com/lib/pq"
)

// FeatureFlag is the unit of rollout control. The key is immutable after
// creation; the rest of the configuration is mutated only through the
// administration service so every change lands in the audit trail.
type FeatureFlag struct {
	ID                int64          `json:"id" db:"id"`
	FlagKey           string         `json:"flag_key" db:"flag_key"`
	Description       string         `json:"description" db:"description"`
	Enabled           bool           `json:"enabled" db:"enabled"`
	RolloutPercentage int            `json:"rollout_percentage" db:"rollout_percentage"`
	Whitelist         pq.StringArray `json:"whitelist" db:"whitelist"`
	AnalyticsEnabled  bool           `json:"analytics_enabled" db:"analytics_enabled"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt         *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
}

// IsWhitelisted reports whether the subject identifier is on the flag's whitelist
func (f *FeatureFlag) IsWhitelisted(subjectID string) bool {
	for _, entry := range f.Whitelist {
		if entry == subjectID {
			return true
		}
	}
	return false
}

// IsDeleted reports whether the flag has been soft-deleted
func (f *FeatureFlag) IsDeleted() bool {
	return f.DeletedAt != nil
}

// Snapshot returns a structural copy of the flag's configuration, detached
// from the live record so audit before/after states cannot alias it.
func (f *FeatureFlag) Snapshot() FlagState {
	whitelist := make([]string, len(f.Whitelist))
	copy(whitelist, f.Whitelist)
	return FlagState{
		FlagKey:           f.FlagKey,
		Description:       f.Description,
		Enabled:           f.Enabled,
		RolloutPercentage: f.RolloutPercentage,
		Whitelist:         whitelist,
		AnalyticsEnabled:  f.AnalyticsEnabled,
	}
}

// FlagState is an immutable value snapshot of a flag's configuration as
// serialized into audit rows. Timestamps and the row id are deliberately
// excluded so snapshot equality means "no effective configuration change".
type FlagState struct {
	FlagKey           string   `json:"flag_key"`
	Description       string   `json:"description"`
	Enabled           bool     `json:"enabled"`
	RolloutPercentage int      `json:"rollout_percentage"`
	Whitelist         []string `json:"whitelist"`
	AnalyticsEnabled  bool     `json:"analytics_enabled"`
}

// Equal reports whether two snapshots describe the same configuration
func (s FlagState) Equal(other FlagState) bool {
	if s.FlagKey != other.FlagKey ||
		s.Description != other.Description ||
		s.Enabled != other.Enabled ||
		s.RolloutPercentage != other.RolloutPercentage ||
		s.AnalyticsEnabled != other.AnalyticsEnabled {
		return false
	}
	if len(s.Whitelist) != len(other.Whitelist) {
		return false
	}
	for i := range s.Whitelist {
		if s.Whitelist[i] != other.Whitelist[i] {
			return false
		}
	}
	return true
}
