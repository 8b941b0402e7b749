package models

import "time"

// EndUser is the gateway operator's own customer, identified by the opaque
// `user` field in the request payload. Distinct from InternalUser.
type EndUser struct {
	EndUserID      string     `db:"end_user_id" json:"end_user_id"`
	Alias          *string    `db:"alias" json:"alias,omitempty"`
	BudgetID       *string    `db:"budget_id" json:"budget_id,omitempty"`
	MaxBudget      *float64   `db:"max_budget" json:"max_budget,omitempty"`
	Spend          float64    `db:"spend" json:"spend"`
	BudgetResetAt  *time.Time `db:"budget_reset_at" json:"budget_reset_at,omitempty"`
	BudgetDuration *string    `db:"budget_duration" json:"budget_duration,omitempty"`
	AllowedRegion  *string    `db:"allowed_region" json:"allowed_region,omitempty"`
	DefaultModel   *string    `db:"default_model" json:"default_model,omitempty"`
	Blocked        bool       `db:"blocked" json:"blocked"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

func (e *EndUser) BudgetExhausted() bool {
	return e.MaxBudget != nil && e.Spend >= *e.MaxBudget
}
