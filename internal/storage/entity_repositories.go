package storage

import (
	"context"
	"database/sql"
	"fmt"

	"llmgate/internal/models"
)

// UserRepository handles internal user lookups
type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID retrieves an internal user by id
func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.InternalUser, error) {
	ctx, cancel := r.db.hotPathCtx(ctx)
	defer cancel()

	var user models.InternalUser
	query := `
		SELECT user_id, user_email, user_role, teams, max_budget, spend,
		       budget_reset_at, budget_duration, tpm_limit, rpm_limit,
		       allowed_models, metadata, created_at, updated_at
		FROM users
		WHERE user_id = $1`
	if err := r.db.conn.GetContext(ctx, &user, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// TeamRepository handles team and membership lookups
type TeamRepository struct {
	db *DB
}

func NewTeamRepository(db *DB) *TeamRepository {
	return &TeamRepository{db: db}
}

// GetByID retrieves a team by id
func (r *TeamRepository) GetByID(ctx context.Context, teamID string) (*models.Team, error) {
	ctx, cancel := r.db.hotPathCtx(ctx)
	defer cancel()

	var team models.Team
	query := `
		SELECT team_id, team_alias, org_id, budget_id, max_budget, spend,
		       budget_reset_at, budget_duration, tpm_limit, rpm_limit,
		       allowed_models, model_aliases, blocked, metadata,
		       created_at, updated_at
		FROM teams
		WHERE team_id = $1`
	if err := r.db.conn.GetContext(ctx, &team, query, teamID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return &team, nil
}

// GetMembership retrieves the (team, user) membership row, which carries the
// member's individual budget carve-out within the team.
func (r *TeamRepository) GetMembership(ctx context.Context, teamID, userID string) (*models.TeamMembership, error) {
	ctx, cancel := r.db.hotPathCtx(ctx)
	defer cancel()

	var m models.TeamMembership
	query := `
		SELECT team_id, user_id, role, max_budget, team_member_spend,
		       created_at, updated_at
		FROM team_memberships
		WHERE team_id = $1 AND user_id = $2`
	if err := r.db.conn.GetContext(ctx, &m, query, teamID, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get team membership: %w", err)
	}
	return &m, nil
}

// OrgRepository handles organization lookups
type OrgRepository struct {
	db *DB
}

func NewOrgRepository(db *DB) *OrgRepository {
	return &OrgRepository{db: db}
}

// GetByID retrieves an organization by id
func (r *OrgRepository) GetByID(ctx context.Context, orgID string) (*models.Organization, error) {
	ctx, cancel := r.db.hotPathCtx(ctx)
	defer cancel()

	var org models.Organization
	query := `
		SELECT org_id, org_alias, budget_id, max_budget, spend,
		       budget_reset_at, metadata, created_at, updated_at
		FROM organizations
		WHERE org_id = $1`
	if err := r.db.conn.GetContext(ctx, &org, query, orgID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOrgNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

// EndUserRepository handles end-user (customer) lookups
type EndUserRepository struct {
	db *DB
}

func NewEndUserRepository(db *DB) *EndUserRepository {
	return &EndUserRepository{db: db}
}

// GetByID retrieves an end user by id
func (r *EndUserRepository) GetByID(ctx context.Context, endUserID string) (*models.EndUser, error) {
	ctx, cancel := r.db.hotPathCtx(ctx)
	defer cancel()

	var eu models.EndUser
	query := `
		SELECT end_user_id, alias, budget_id, max_budget, spend,
		       budget_reset_at, budget_duration, allowed_region,
		       default_model, blocked, created_at, updated_at
		FROM end_users
		WHERE end_user_id = $1`
	if err := r.db.conn.GetContext(ctx, &eu, query, endUserID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEndUserNotFound
		}
		return nil, fmt.Errorf("failed to get end user: %w", err)
	}
	return &eu, nil
}

// BudgetRepository handles shared budget record lookups
type BudgetRepository struct {
	db *DB
}

func NewBudgetRepository(db *DB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

// GetByID retrieves a budget record by id
func (r *BudgetRepository) GetByID(ctx context.Context, budgetID string) (*models.Budget, error) {
	ctx, cancel := r.db.hotPathCtx(ctx)
	defer cancel()

	var b models.Budget
	query := `
		SELECT budget_id, max_budget, soft_budget, tpm_limit, rpm_limit,
		       model_max_budget, reset_duration, created_at, updated_at
		FROM budgets
		WHERE budget_id = $1`
	if err := r.db.conn.GetContext(ctx, &b, query, budgetID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBudgetNotFound
		}
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return &b, nil
}

// DeploymentRepository handles deployment catalog loads
type DeploymentRepository struct {
	db *DB
}

func NewDeploymentRepository(db *DB) *DeploymentRepository {
	return &DeploymentRepository{db: db}
}

// ListActive returns all enabled deployments, the router catalog's source.
func (r *DeploymentRepository) ListActive(ctx context.Context) ([]models.Deployment, error) {
	var deployments []models.Deployment
	query := `
		SELECT id, model_name, provider_model, api_base, access_groups,
		       weight, input_cost_per_token, output_cost_per_token,
		       enabled, metadata, created_at, updated_at
		FROM deployments
		WHERE enabled = true
		ORDER BY model_name, id`
	if err := r.db.conn.SelectContext(ctx, &deployments, query); err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return deployments, nil
}
