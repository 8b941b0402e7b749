package auth

import (
	"llmgate/internal/models"
)

// PrincipalKind distinguishes how a request was authenticated.
type PrincipalKind string

const (
	// KindMasterAdmin is the operator master key: full access, no budgets.
	KindMasterAdmin PrincipalKind = "master_admin"

	// KindVirtualKey is a gateway-issued sk- key resolved from the store.
	KindVirtualKey PrincipalKind = "virtual_key"

	// KindJWT is a JWT-authenticated caller mapped onto the entity graph.
	KindJWT PrincipalKind = "jwt"

	// KindPublic is the synthetic read-only identity for routes served
	// without credentials. It carries no key and no budget state.
	KindPublic PrincipalKind = "public"
)

// Principal is the fully hydrated identity of an admitted request: the
// credential plus every budgeted entity it attributes spend to. It is built
// once per cache window and reused across requests, so all fields are
// treated as read-only snapshots.
type Principal struct {
	Kind PrincipalKind   `json:"kind"`
	Role models.UserRole `json:"role"`

	Key        *models.VirtualKey     `json:"key,omitempty"`
	User       *models.InternalUser   `json:"user,omitempty"`
	Team       *models.Team           `json:"team,omitempty"`
	Membership *models.TeamMembership `json:"membership,omitempty"`
	Org        *models.Organization   `json:"org,omitempty"`

	// Budget is the shared budget record referenced by the key's budget_id,
	// when one is attached.
	Budget *models.Budget `json:"budget,omitempty"`
}

// Attribution builds the typed attribution record carried through
// enforcement, routing and spend accounting.
func (p *Principal) Attribution(endpoint string) models.Attribution {
	attr := models.Attribution{Endpoint: endpoint}
	if p.Key != nil {
		attr.TokenHash = p.Key.TokenHash
		attr.KeyAlias = p.Key.KeyAlias
		attr.UserID = p.Key.UserID
		attr.TeamID = p.Key.TeamID
		attr.OrgID = p.Key.OrgID
	}
	if p.User != nil && attr.UserID == nil {
		id := p.User.UserID
		attr.UserID = &id
	}
	if p.Team != nil && attr.TeamID == nil {
		id := p.Team.TeamID
		attr.TeamID = &id
	}
	if p.Org != nil && attr.OrgID == nil {
		id := p.Org.OrgID
		attr.OrgID = &id
	}
	return attr
}

// EffectiveTPMLimit resolves the tightest token-per-minute limit across the
// key, its budget record and the team.
func (p *Principal) EffectiveTPMLimit() *int64 {
	return tightest(
		keyLimit(p.Key, func(k *models.VirtualKey) *int64 { return k.TPMLimit }),
		budgetLimit(p.Budget, func(b *models.Budget) *int64 { return b.TPMLimit }),
		teamLimit(p.Team, func(t *models.Team) *int64 { return t.TPMLimit }),
	)
}

// EffectiveRPMLimit resolves the tightest request-per-minute limit.
func (p *Principal) EffectiveRPMLimit() *int64 {
	return tightest(
		keyLimit(p.Key, func(k *models.VirtualKey) *int64 { return k.RPMLimit }),
		budgetLimit(p.Budget, func(b *models.Budget) *int64 { return b.RPMLimit }),
		teamLimit(p.Team, func(t *models.Team) *int64 { return t.RPMLimit }),
	)
}

// ModelAliasTarget resolves a model alias, key-level aliases winning over
// team-level ones. Returns the input unchanged when no alias matches.
func (p *Principal) ModelAliasTarget(model string) string {
	if p.Key != nil && p.Key.ModelAliases != nil {
		if target, ok := p.Key.ModelAliases[model]; ok {
			return target
		}
	}
	if p.Team != nil && p.Team.ModelAliases != nil {
		if target, ok := p.Team.ModelAliases[model]; ok {
			return target
		}
	}
	return model
}

func keyLimit(k *models.VirtualKey, f func(*models.VirtualKey) *int64) *int64 {
	if k == nil {
		return nil
	}
	return f(k)
}

func budgetLimit(b *models.Budget, f func(*models.Budget) *int64) *int64 {
	if b == nil {
		return nil
	}
	return f(b)
}

func teamLimit(t *models.Team, f func(*models.Team) *int64) *int64 {
	if t == nil {
		return nil
	}
	return f(t)
}

func tightest(limits ...*int64) *int64 {
	var min *int64
	for _, l := range limits {
		if l == nil {
			continue
		}
		if min == nil || *l < *min {
			min = l
		}
	}
	return min
}
