package models

import "time"

// SpendLog is one immutable accounting record per completed call. This path
// is pure observability, never enforcement, and can be disabled by config.
type SpendLog struct {
	RequestID    string    `db:"request_id" json:"request_id"`
	CallType     string    `db:"call_type" json:"call_type"`
	TokenHash    string    `db:"token_hash" json:"token_hash"`
	UserID       *string   `db:"user_id" json:"user_id,omitempty"`
	TeamID       *string   `db:"team_id" json:"team_id,omitempty"`
	OrgID        *string   `db:"org_id" json:"org_id,omitempty"`
	EndUserID    *string   `db:"end_user_id" json:"end_user_id,omitempty"`
	Model        string    `db:"model" json:"model"`
	DeploymentID string    `db:"deployment_id" json:"deployment_id"`
	Spend        float64   `db:"spend" json:"spend"`
	PromptTokens int       `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int   `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens  int       `db:"total_tokens" json:"total_tokens"`
	StartTime    time.Time `db:"start_time" json:"start_time"`
	EndTime      time.Time `db:"end_time" json:"end_time"`
	Status       string    `db:"status" json:"status"`
	Metadata     JSONB     `db:"metadata" json:"metadata,omitempty"`
}

// Attribution is the typed record of every entity a call's cost is charged
// against. It is constructed once by the authenticator and passed immutably
// to the enforcer, router and spend writer.
type Attribution struct {
	TokenHash string  `json:"user_api_key"`
	KeyAlias  string  `json:"user_api_key_alias,omitempty"`
	UserID    *string `json:"user_api_key_user_id,omitempty"`
	TeamID    *string `json:"user_api_key_team_id,omitempty"`
	OrgID     *string `json:"user_api_key_org_id,omitempty"`
	EndUserID *string `json:"end_user_id,omitempty"`
	Endpoint  string  `json:"endpoint,omitempty"`
}
