package models

import "time"

// Organization groups teams and carries its own budget record.
type Organization struct {
	OrgID         string     `db:"org_id" json:"org_id"`
	OrgAlias      string     `db:"org_alias" json:"org_alias"`
	BudgetID      *string    `db:"budget_id" json:"budget_id,omitempty"`
	MaxBudget     *float64   `db:"max_budget" json:"max_budget,omitempty"`
	Spend         float64    `db:"spend" json:"spend"`
	BudgetResetAt *time.Time `db:"budget_reset_at" json:"budget_reset_at,omitempty"`
	Metadata      JSONB      `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

func (o *Organization) BudgetExhausted() bool {
	return o.MaxBudget != nil && o.Spend >= *o.MaxBudget
}
