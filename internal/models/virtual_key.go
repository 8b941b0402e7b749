package models

import (
	"slices"
	"time"

	"github.com/lib/pq"
)

// VirtualKey is an issued credential scoped to a user/team/org. The plaintext
// token is never stored; lookup is by SHA-256 hash.
type VirtualKey struct {
	TokenHash      string         `db:"token_hash" json:"token_hash"`
	KeyAlias       string         `db:"key_alias" json:"key_alias"`
	UserID         *string        `db:"user_id" json:"user_id,omitempty"`
	TeamID         *string        `db:"team_id" json:"team_id,omitempty"`
	OrgID          *string        `db:"org_id" json:"org_id,omitempty"`
	BudgetID       *string        `db:"budget_id" json:"budget_id,omitempty"`
	AllowedModels  pq.StringArray `db:"allowed_models" json:"allowed_models"`
	ModelMaxBudget FloatMap       `db:"model_max_budget" json:"model_max_budget,omitempty"`
	ModelAliases   StringMap      `db:"model_aliases" json:"model_aliases,omitempty"`
	MaxBudget      *float64       `db:"max_budget" json:"max_budget,omitempty"`
	SoftBudget     *float64       `db:"soft_budget" json:"soft_budget,omitempty"`
	Spend          float64        `db:"spend" json:"spend"`
	BudgetResetAt  *time.Time     `db:"budget_reset_at" json:"budget_reset_at,omitempty"`
	BudgetDuration *string        `db:"budget_duration" json:"budget_duration,omitempty"`
	TPMLimit       *int64         `db:"tpm_limit" json:"tpm_limit,omitempty"`
	RPMLimit       *int64         `db:"rpm_limit" json:"rpm_limit,omitempty"`
	ExpiresAt      *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	Blocked        bool           `db:"blocked" json:"blocked"`
	Metadata       JSONB          `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// AllowsModel reports whether this key may call the given model. An empty
// list means unrestricted; "*" is a wildcard grant. Access-group expansion
// happens before this check, in the router catalog.
func (k *VirtualKey) AllowsModel(model string) bool {
	if len(k.AllowedModels) == 0 {
		return true
	}
	if slices.Contains(k.AllowedModels, "*") {
		return true
	}
	return slices.Contains(k.AllowedModels, model)
}

// IsExpired checks the key's expiry against now, normalized to UTC.
func (k *VirtualKey) IsExpired(now time.Time) bool {
	if k.ExpiresAt == nil {
		return false
	}
	return now.UTC().After(k.ExpiresAt.UTC())
}

// BudgetExhausted reports whether spend has reached max_budget. The check is
// spend >= max_budget before the call, not spend+projected_cost: a single
// call may push spend over budget, the next call is rejected.
func (k *VirtualKey) BudgetExhausted() bool {
	return k.MaxBudget != nil && k.Spend >= *k.MaxBudget
}

// SoftBudgetReached reports whether spend crossed the alerting threshold.
// With no explicit soft budget, fraction of max_budget applies.
func (k *VirtualKey) SoftBudgetReached(fraction float64) bool {
	if k.SoftBudget != nil {
		return k.Spend >= *k.SoftBudget
	}
	if k.MaxBudget == nil {
		return false
	}
	return k.Spend >= *k.MaxBudget*fraction
}
