package storage

import (
	"context"
	"database/sql"
	"fmt"

	"llmgate/internal/models"
)

const virtualKeyColumns = `
	token_hash, key_alias, user_id, team_id, org_id, budget_id,
	allowed_models, model_max_budget, model_aliases,
	max_budget, soft_budget, spend, budget_reset_at, budget_duration,
	tpm_limit, rpm_limit, expires_at, blocked, metadata,
	created_at, updated_at`

// KeyRepository handles virtual key database operations
type KeyRepository struct {
	db *DB
}

// NewKeyRepository creates a new key repository
func NewKeyRepository(db *DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// GetByHash retrieves a virtual key by its SHA-256 token hash
func (r *KeyRepository) GetByHash(ctx context.Context, tokenHash string) (*models.VirtualKey, error) {
	ctx, cancel := r.db.hotPathCtx(ctx)
	defer cancel()

	var key models.VirtualKey
	query := fmt.Sprintf("SELECT %s FROM virtual_keys WHERE token_hash = $1", virtualKeyColumns)
	if err := r.db.conn.GetContext(ctx, &key, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get virtual key: %w", err)
	}
	return &key, nil
}

// Create inserts a new virtual key
func (r *KeyRepository) Create(ctx context.Context, key *models.VirtualKey) error {
	query := `
		INSERT INTO virtual_keys (
			token_hash, key_alias, user_id, team_id, org_id, budget_id,
			allowed_models, model_max_budget, model_aliases,
			max_budget, soft_budget, spend, budget_reset_at, budget_duration,
			tpm_limit, rpm_limit, expires_at, blocked, metadata,
			created_at, updated_at
		) VALUES (
			:token_hash, :key_alias, :user_id, :team_id, :org_id, :budget_id,
			:allowed_models, :model_max_budget, :model_aliases,
			:max_budget, :soft_budget, :spend, :budget_reset_at, :budget_duration,
			:tpm_limit, :rpm_limit, :expires_at, :blocked, :metadata,
			NOW(), NOW()
		)`
	if _, err := r.db.conn.NamedExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to create virtual key: %w", err)
	}
	return nil
}

// Delete removes a virtual key row. Historical spend logs are retained.
func (r *KeyRepository) Delete(ctx context.Context, tokenHash string) error {
	result, err := r.db.conn.ExecContext(ctx,
		"DELETE FROM virtual_keys WHERE token_hash = $1", tokenHash)
	if err != nil {
		return fmt.Errorf("failed to delete virtual key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrKeyNotFound
	}
	return nil
}
