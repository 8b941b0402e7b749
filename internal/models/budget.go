package models

import "time"

// Budget is a reusable budget record shared by reference (budget_id) across
// keys, teams, end users and organizations.
type Budget struct {
	BudgetID       string     `db:"budget_id" json:"budget_id"`
	MaxBudget      *float64   `db:"max_budget" json:"max_budget,omitempty"`
	SoftBudget     *float64   `db:"soft_budget" json:"soft_budget,omitempty"`
	TPMLimit       *int64     `db:"tpm_limit" json:"tpm_limit,omitempty"`
	RPMLimit       *int64     `db:"rpm_limit" json:"rpm_limit,omitempty"`
	ModelMaxBudget FloatMap   `db:"model_max_budget" json:"model_max_budget,omitempty"`
	ResetDuration  *string    `db:"reset_duration" json:"reset_duration,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// NextResetAt computes the reset timestamp after now from ResetDuration
// ("24h", "720h", ...). Returns nil when no reset schedule is configured.
func (b *Budget) NextResetAt(now time.Time) *time.Time {
	if b.ResetDuration == nil {
		return nil
	}
	d, err := time.ParseDuration(*b.ResetDuration)
	if err != nil || d <= 0 {
		return nil
	}
	t := now.UTC().Add(d)
	return &t
}
