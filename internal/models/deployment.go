package models

import (
	"time"

	"github.com/lib/pq"
)

// Deployment is one configured backend target. Multiple deployments may share
// a ModelName (a "model group"), enabling load distribution and fallback.
type Deployment struct {
	ID                string         `db:"id" json:"id"`
	ModelName         string         `db:"model_name" json:"model_name"`
	ProviderModel     string         `db:"provider_model" json:"provider_model"`
	APIBase           string         `db:"api_base" json:"api_base"`
	AccessGroups      pq.StringArray `db:"access_groups" json:"access_groups"`
	Weight            int            `db:"weight" json:"weight"`
	InputCostPerToken *float64       `db:"input_cost_per_token" json:"input_cost_per_token,omitempty"`
	OutputCostPerToken *float64      `db:"output_cost_per_token" json:"output_cost_per_token,omitempty"`
	Enabled           bool           `db:"enabled" json:"enabled"`
	Metadata          JSONB          `db:"metadata" json:"metadata,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// InGroup reports whether the deployment is tagged with the access group.
func (d *Deployment) InGroup(group string) bool {
	for _, g := range d.AccessGroups {
		if g == group {
			return true
		}
	}
	return false
}

// Cost computes the call cost from token counts using per-deployment cost
// overrides; zero when no overrides are configured (provider-reported cost
// is used instead).
func (d *Deployment) Cost(inputTokens, outputTokens int) float64 {
	var cost float64
	if d.InputCostPerToken != nil {
		cost += float64(inputTokens) * *d.InputCostPerToken
	}
	if d.OutputCostPerToken != nil {
		cost += float64(outputTokens) * *d.OutputCostPerToken
	}
	return cost
}
