package models

import (
	"time"

	"github.com/lib/pq"
)

// Team is an organizational unit with a shared budget and member roster.
type Team struct {
	TeamID        string         `db:"team_id" json:"team_id"`
	TeamAlias     string         `db:"team_alias" json:"team_alias"`
	OrgID         *string        `db:"org_id" json:"org_id,omitempty"`
	BudgetID      *string        `db:"budget_id" json:"budget_id,omitempty"`
	MaxBudget     *float64       `db:"max_budget" json:"max_budget,omitempty"`
	Spend         float64        `db:"spend" json:"spend"`
	BudgetResetAt *time.Time     `db:"budget_reset_at" json:"budget_reset_at,omitempty"`
	BudgetDuration *string       `db:"budget_duration" json:"budget_duration,omitempty"`
	TPMLimit      *int64         `db:"tpm_limit" json:"tpm_limit,omitempty"`
	RPMLimit      *int64         `db:"rpm_limit" json:"rpm_limit,omitempty"`
	AllowedModels pq.StringArray `db:"allowed_models" json:"allowed_models"`
	ModelAliases  StringMap      `db:"model_aliases" json:"model_aliases,omitempty"`
	Blocked       bool           `db:"blocked" json:"blocked"`
	Metadata      JSONB          `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// BudgetExhausted reports whether the team aggregate spend reached max_budget.
func (t *Team) BudgetExhausted() bool {
	return t.MaxBudget != nil && t.Spend >= *t.MaxBudget
}

// TeamMembership is a per-(team, user) carve-out budget inside the team,
// separate from the team aggregate budget.
type TeamMembership struct {
	TeamID          string    `db:"team_id" json:"team_id"`
	UserID          string    `db:"user_id" json:"user_id"`
	Role            string    `db:"role" json:"role"`
	MaxBudget       *float64  `db:"max_budget" json:"max_budget,omitempty"`
	TeamMemberSpend float64   `db:"team_member_spend" json:"team_member_spend"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// BudgetExhausted reports whether the member's carve-out is used up.
func (m *TeamMembership) BudgetExhausted() bool {
	return m.MaxBudget != nil && m.TeamMemberSpend >= *m.MaxBudget
}
