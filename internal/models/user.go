package models

import (
	"time"

	"github.com/lib/pq"
)

// UserRole is the effective role of an internal user or key principal.
type UserRole string

const (
	RoleProxyAdmin           UserRole = "proxy_admin"
	RoleProxyAdminViewOnly   UserRole = "proxy_admin_view_only"
	RoleInternalUser         UserRole = "internal_user"
	RoleInternalUserViewOnly UserRole = "internal_user_view_only"
	RoleTeam                 UserRole = "team"
	RoleAppOwner             UserRole = "app_owner"
)

// IsAdmin reports whether the role carries proxy-admin privileges.
func (r UserRole) IsAdmin() bool {
	return r == RoleProxyAdmin
}

// IsViewOnly reports whether the role may only read, never mutate.
func (r UserRole) IsViewOnly() bool {
	return r == RoleProxyAdminViewOnly || r == RoleInternalUserViewOnly
}

// InternalUser is an operator-side user who owns keys and belongs to teams.
// Distinct from EndUser, which is the operator's own customer.
type InternalUser struct {
	UserID        string         `db:"user_id" json:"user_id"`
	UserEmail     *string        `db:"user_email" json:"user_email,omitempty"`
	UserRole      UserRole       `db:"user_role" json:"user_role"`
	Teams         pq.StringArray `db:"teams" json:"teams"`
	MaxBudget     *float64       `db:"max_budget" json:"max_budget,omitempty"`
	Spend         float64        `db:"spend" json:"spend"`
	BudgetResetAt *time.Time     `db:"budget_reset_at" json:"budget_reset_at,omitempty"`
	BudgetDuration *string       `db:"budget_duration" json:"budget_duration,omitempty"`
	TPMLimit      *int64         `db:"tpm_limit" json:"tpm_limit,omitempty"`
	RPMLimit      *int64         `db:"rpm_limit" json:"rpm_limit,omitempty"`
	AllowedModels pq.StringArray `db:"allowed_models" json:"allowed_models"`
	Metadata      JSONB          `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// BudgetExhausted reports whether the user's spend has reached max_budget.
func (u *InternalUser) BudgetExhausted() bool {
	return u.MaxBudget != nil && u.Spend >= *u.MaxBudget
}
