package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"llmgate/internal/models"
)

// TeamMemberKey identifies a (team, user) membership row for spend deltas.
type TeamMemberKey struct {
	TeamID string
	UserID string
}

// KeyModelKey identifies a per-key per-model spend bucket.
type KeyModelKey struct {
	TokenHash string
	Model     string
}

// SpendDeltas is one flush batch of accumulated spend, keyed by dimension.
// Every map holds totals already summed in memory, so the flush cost is
// bounded by the number of distinct entities, not the number of requests.
type SpendDeltas struct {
	Keys        map[string]float64
	Users       map[string]float64
	Teams       map[string]float64
	TeamMembers map[TeamMemberKey]float64
	Orgs        map[string]float64
	EndUsers    map[string]float64
	KeyModels   map[KeyModelKey]float64
	Global      float64
}

// Empty reports whether the batch carries no spend at all.
func (d *SpendDeltas) Empty() bool {
	return len(d.Keys) == 0 && len(d.Users) == 0 && len(d.Teams) == 0 &&
		len(d.TeamMembers) == 0 && len(d.Orgs) == 0 && len(d.EndUsers) == 0 &&
		len(d.KeyModels) == 0 && d.Global == 0
}

// SpendRepository persists spend deltas, spend logs and budget resets
type SpendRepository struct {
	db *DB
}

// NewSpendRepository creates a new spend repository
func NewSpendRepository(db *DB) *SpendRepository {
	return &SpendRepository{db: db}
}

// ApplyDeltas applies one flush batch across all spend dimensions in a
// single transaction. Additive updates commute, so concurrent flushes from
// other replicas interleave safely.
func (r *SpendRepository) ApplyDeltas(ctx context.Context, deltas *SpendDeltas) error {
	if deltas.Empty() {
		return nil
	}

	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin spend transaction: %w", err)
	}
	defer tx.Rollback()

	apply := func(query string, args ...interface{}) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	}

	for hash, amount := range deltas.Keys {
		if err := apply(`
			UPDATE virtual_keys
			SET spend = spend + $1, updated_at = NOW()
			WHERE token_hash = $2`, amount, hash); err != nil {
			return fmt.Errorf("failed to update key spend: %w", err)
		}
	}
	for userID, amount := range deltas.Users {
		if err := apply(`
			UPDATE users
			SET spend = spend + $1, updated_at = NOW()
			WHERE user_id = $2`, amount, userID); err != nil {
			return fmt.Errorf("failed to update user spend: %w", err)
		}
	}
	for teamID, amount := range deltas.Teams {
		if err := apply(`
			UPDATE teams
			SET spend = spend + $1, updated_at = NOW()
			WHERE team_id = $2`, amount, teamID); err != nil {
			return fmt.Errorf("failed to update team spend: %w", err)
		}
	}
	for member, amount := range deltas.TeamMembers {
		if err := apply(`
			UPDATE team_memberships
			SET team_member_spend = team_member_spend + $1, updated_at = NOW()
			WHERE team_id = $2 AND user_id = $3`, amount, member.TeamID, member.UserID); err != nil {
			return fmt.Errorf("failed to update team member spend: %w", err)
		}
	}
	for orgID, amount := range deltas.Orgs {
		if err := apply(`
			UPDATE organizations
			SET spend = spend + $1, updated_at = NOW()
			WHERE org_id = $2`, amount, orgID); err != nil {
			return fmt.Errorf("failed to update org spend: %w", err)
		}
	}
	for endUserID, amount := range deltas.EndUsers {
		// End users are created on first sight, so upsert instead of update.
		if err := apply(`
			INSERT INTO end_users (end_user_id, spend, created_at, updated_at)
			VALUES ($1, $2, NOW(), NOW())
			ON CONFLICT (end_user_id)
			DO UPDATE SET spend = end_users.spend + EXCLUDED.spend, updated_at = NOW()`,
			endUserID, amount); err != nil {
			return fmt.Errorf("failed to update end user spend: %w", err)
		}
	}
	for bucket, amount := range deltas.KeyModels {
		// Daily buckets make the rolling per-model window a cheap range sum.
		if err := apply(`
			INSERT INTO key_model_spend (token_hash, model, day, spend)
			VALUES ($1, $2, DATE_TRUNC('day', NOW()), $3)
			ON CONFLICT (token_hash, model, day)
			DO UPDATE SET spend = key_model_spend.spend + EXCLUDED.spend`,
			bucket.TokenHash, bucket.Model, amount); err != nil {
			return fmt.Errorf("failed to update key model spend: %w", err)
		}
	}
	if deltas.Global != 0 {
		if err := apply(`
			UPDATE global_spend
			SET spend = spend + $1, updated_at = NOW()
			WHERE id = 1`, deltas.Global); err != nil {
			return fmt.Errorf("failed to update global spend: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit spend transaction: %w", err)
	}
	return nil
}

// InsertLogs inserts a batch of spend logs in a single multi-row statement.
func (r *SpendRepository) InsertLogs(ctx context.Context, logs []models.SpendLog) error {
	if len(logs) == 0 {
		return nil
	}

	var (
		placeholders []string
		args         []interface{}
	)
	for i, l := range logs {
		base := i * 16
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
			base+9, base+10, base+11, base+12, base+13, base+14, base+15, base+16))
		args = append(args,
			l.RequestID, l.CallType, l.TokenHash, l.UserID, l.TeamID, l.OrgID,
			l.EndUserID, l.Model, l.DeploymentID, l.Spend,
			l.PromptTokens, l.CompletionTokens, l.TotalTokens,
			l.StartTime, l.EndTime, l.Status)
	}

	query := fmt.Sprintf(`
		INSERT INTO spend_logs (
			request_id, call_type, token_hash, user_id, team_id, org_id,
			end_user_id, model, deployment_id, spend,
			prompt_tokens, completion_tokens, total_tokens,
			start_time, end_time, status
		) VALUES %s
		ON CONFLICT (request_id) DO NOTHING`, strings.Join(placeholders, ", "))

	if _, err := r.db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert spend logs: %w", err)
	}
	return nil
}

// ModelSpend returns the key's spend on one model since the given time.
func (r *SpendRepository) ModelSpend(ctx context.Context, tokenHash, model string, since time.Time) (float64, error) {
	ctx, cancel := r.db.hotPathCtx(ctx)
	defer cancel()

	var total sql.NullFloat64
	query := `
		SELECT SUM(spend)
		FROM key_model_spend
		WHERE token_hash = $1 AND model = $2 AND day >= DATE_TRUNC('day', $3::timestamptz)`
	if err := r.db.conn.GetContext(ctx, &total, query, tokenHash, model, since); err != nil {
		return 0, fmt.Errorf("failed to get model spend: %w", err)
	}
	return total.Float64, nil
}

// GlobalSpend returns the proxy-wide spend counter.
func (r *SpendRepository) GlobalSpend(ctx context.Context) (float64, error) {
	ctx, cancel := r.db.hotPathCtx(ctx)
	defer cancel()

	var spend float64
	if err := r.db.conn.GetContext(ctx, &spend,
		"SELECT spend FROM global_spend WHERE id = 1"); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get global spend: %w", err)
	}
	return spend, nil
}

// ResetElapsedBudgets zeroes spend and re-arms the reset timestamp for every
// row whose budget window has elapsed, across all budgeted entity tables.
// Runs on the flush cadence, so a reset becomes visible within one cycle.
func (r *SpendRepository) ResetElapsedBudgets(ctx context.Context, now time.Time) (int64, error) {
	var total int64

	reset := func(table, idColumn string) error {
		type row struct {
			ID       string  `db:"id"`
			Duration *string `db:"budget_duration"`
		}
		var rows []row
		query := fmt.Sprintf(`
			SELECT %s AS id, budget_duration
			FROM %s
			WHERE budget_reset_at IS NOT NULL AND budget_reset_at <= $1`, idColumn, table)
		if err := r.db.conn.SelectContext(ctx, &rows, query, now); err != nil {
			return fmt.Errorf("failed to scan %s resets: %w", table, err)
		}
		for _, rw := range rows {
			var next *time.Time
			if rw.Duration != nil {
				if d, err := time.ParseDuration(*rw.Duration); err == nil && d > 0 {
					t := now.UTC().Add(d)
					next = &t
				}
			}
			update := fmt.Sprintf(`
				UPDATE %s
				SET spend = 0, budget_reset_at = $1, updated_at = NOW()
				WHERE %s = $2`, table, idColumn)
			if _, err := r.db.conn.ExecContext(ctx, update, next, rw.ID); err != nil {
				return fmt.Errorf("failed to reset %s budget: %w", table, err)
			}
			total++
		}
		return nil
	}

	if err := reset("virtual_keys", "token_hash"); err != nil {
		return total, err
	}
	if err := reset("users", "user_id"); err != nil {
		return total, err
	}
	if err := reset("teams", "team_id"); err != nil {
		return total, err
	}
	if err := reset("end_users", "end_user_id"); err != nil {
		return total, err
	}
	return total, nil
}
