// Package budget implements admission control: every budget dimension and
// rate limit a request must clear before it is allowed to reach a backend.
package budget

import (
	"context"
	"time"

	"llmgate/internal/alerting"
	"llmgate/internal/apierror"
	"llmgate/internal/auth"
	"llmgate/internal/cache"
	"llmgate/internal/models"
	"llmgate/internal/storage"
	"llmgate/internal/utils"
)

// Config holds enforcement settings
type Config struct {
	// GlobalMaxBudget caps proxy-wide spend across all keys. 0 = unlimited.
	GlobalMaxBudget float64

	// SoftBudgetFraction of max_budget at which a non-blocking alert fires.
	SoftBudgetFraction float64

	// ModelSpendWindow is the trailing window for per-model budget sums.
	ModelSpendWindow time.Duration

	// SpendCacheTTL bounds staleness of cached spend aggregates.
	SpendCacheTTL time.Duration
}

// Request carries everything the enforcer needs about one call.
type Request struct {
	// Model is the target model name after alias resolution.
	Model string

	// EndUser is the hydrated end-user record, nil when the payload names
	// none or the end user is not yet known to the store.
	EndUser *models.EndUser

	// EstimatedTokens is the pre-call token estimate used for TPM limiting.
	EstimatedTokens int64

	// AccessGroupGrant is set by the handler when the deployment catalog
	// expanded an access-group entry of the key's allowed-model list into a
	// grant covering Model.
	AccessGroupGrant bool
}

// Enforcer evaluates admission checks in a fixed order, returning the first
// violation. No lock spans the evaluation: each dimension reads its own
// spend/budget pair independently and tolerates one cache TTL of staleness.
type Enforcer struct {
	cfg     Config
	cache   *cache.HybridCache
	spend   *storage.SpendRepository
	limiter *RateLimiter
	alerts  *alerting.Dispatcher
	logger  *utils.Logger
}

// NewEnforcer creates an enforcer
func NewEnforcer(cfg Config, c *cache.HybridCache, spend *storage.SpendRepository, limiter *RateLimiter, alerts *alerting.Dispatcher) *Enforcer {
	if cfg.SoftBudgetFraction <= 0 || cfg.SoftBudgetFraction > 1 {
		cfg.SoftBudgetFraction = 0.85
	}
	if cfg.ModelSpendWindow <= 0 {
		cfg.ModelSpendWindow = 28 * 24 * time.Hour
	}
	return &Enforcer{
		cfg:     cfg,
		cache:   c,
		spend:   spend,
		limiter: limiter,
		alerts:  alerts,
		logger:  utils.NewLogger("enforcer"),
	}
}

// Evaluate runs every admission check for the request, cheapest and most
// common first, short-circuiting on the first violation. A nil return means
// the request is admitted.
func (e *Enforcer) Evaluate(ctx context.Context, p *auth.Principal, req Request) *apierror.Error {
	// Master admin bypasses budgets entirely.
	if p.Kind == auth.KindMasterAdmin {
		return nil
	}

	attr := p.Attribution("")

	if apiErr := e.checkBlocked(p, req.EndUser); apiErr != nil {
		return apiErr
	}

	// 1. Model access
	if apiErr := e.checkModelAccess(p, req.Model, req.AccessGroupGrant); apiErr != nil {
		return apiErr
	}

	// 2. Key spend vs max_budget
	if p.Key != nil {
		spend := e.freshKeySpend(ctx, p.Key)
		maxBudget := p.Key.MaxBudget
		if maxBudget == nil && p.Budget != nil {
			maxBudget = p.Budget.MaxBudget
		}
		if maxBudget != nil && spend >= *maxBudget {
			return apierror.NewBudgetExceeded(apierror.ScopeKey, spend, *maxBudget)
		}
		e.maybeSoftAlert(attr, apierror.ScopeKey, spend, maxBudget, softBudgetOf(p))
	}

	// 3. Key per-model spend vs the per-model budget map
	if apiErr := e.checkModelBudget(ctx, p, req.Model, attr); apiErr != nil {
		return apiErr
	}

	// 4. User spend vs user max_budget
	if p.User != nil && p.User.MaxBudget != nil {
		spend := e.freshUserSpend(ctx, p.User)
		if spend >= *p.User.MaxBudget {
			return apierror.NewBudgetExceeded(apierror.ScopeUser, spend, *p.User.MaxBudget)
		}
		e.maybeSoftAlert(attr, apierror.ScopeUser, spend, p.User.MaxBudget, nil)
	}

	// 5. Team-member carve-out budget
	if p.Membership != nil && p.Membership.BudgetExhausted() {
		return apierror.NewBudgetExceeded(apierror.ScopeTeamMember,
			p.Membership.TeamMemberSpend, *p.Membership.MaxBudget)
	}

	// 6. Token expiry, UTC-normalized, regardless of budget state
	if p.Key != nil && p.Key.IsExpired(time.Now()) {
		return apierror.New(apierror.KindExpiredKey,
			"key expired at %s", p.Key.ExpiresAt.UTC().Format(time.RFC3339))
	}

	// 7. Team spend vs team max_budget
	if p.Team != nil && p.Team.MaxBudget != nil {
		if p.Team.Spend >= *p.Team.MaxBudget {
			return apierror.NewBudgetExceeded(apierror.ScopeTeam, p.Team.Spend, *p.Team.MaxBudget)
		}
		e.maybeSoftAlert(attr, apierror.ScopeTeam, p.Team.Spend, p.Team.MaxBudget, nil)
	}

	// Org budget follows the team dimension: spend attributed to any team in
	// the org counts against it.
	if p.Org != nil && p.Org.BudgetExhausted() {
		return apierror.NewBudgetExceeded(apierror.ScopeOrg, p.Org.Spend, *p.Org.MaxBudget)
	}

	// End-user budget, when the payload names a known end user
	if req.EndUser != nil && req.EndUser.BudgetExhausted() {
		return apierror.NewBudgetExceeded(apierror.ScopeEndUser,
			req.EndUser.Spend, *req.EndUser.MaxBudget)
	}

	// 8. Global proxy spend
	if e.cfg.GlobalMaxBudget > 0 {
		global, err := e.globalSpend(ctx)
		if err != nil {
			e.logger.Warn("global spend lookup failed, skipping check", "error", err)
		} else if global >= e.cfg.GlobalMaxBudget {
			return apierror.NewBudgetExceeded(apierror.ScopeGlobal, global, e.cfg.GlobalMaxBudget)
		}
	}

	// Rate limits, after budgets: a budget rejection is permanent until a
	// reset, a rate rejection is transient, so budget wins the error kind.
	if apiErr := e.checkRateLimits(ctx, p, req.EstimatedTokens); apiErr != nil {
		return apiErr
	}

	return nil
}

func (e *Enforcer) checkBlocked(p *auth.Principal, endUser *models.EndUser) *apierror.Error {
	if p.Key != nil && p.Key.Blocked {
		return apierror.New(apierror.KindBlocked, "key %s is blocked", p.Key.KeyAlias)
	}
	if p.Team != nil && p.Team.Blocked {
		return apierror.New(apierror.KindBlocked, "team %s is blocked", p.Team.TeamID)
	}
	if endUser != nil && endUser.Blocked {
		return apierror.New(apierror.KindBlocked, "end user %s is blocked", endUser.EndUserID)
	}
	return nil
}

func (e *Enforcer) checkModelAccess(p *auth.Principal, model string, groupGrant bool) *apierror.Error {
	if model == "" {
		return apierror.NewParam(apierror.KindInvalidRequest, "model", "model is required")
	}
	if p.Key != nil && !p.Key.AllowsModel(model) && !groupGrant {
		return apierror.NewParam(apierror.KindModelAccessDenied, "model",
			"key is not allowed to call model %s", model)
	}
	if p.Team != nil && len(p.Team.AllowedModels) > 0 {
		allowed := false
		for _, m := range p.Team.AllowedModels {
			if m == "*" || m == model {
				allowed = true
				break
			}
		}
		if !allowed {
			return apierror.NewParam(apierror.KindModelAccessDenied, "model",
				"team %s is not allowed to call model %s", p.Team.TeamID, model)
		}
	}
	return nil
}

func (e *Enforcer) checkModelBudget(ctx context.Context, p *auth.Principal, model string, attr models.Attribution) *apierror.Error {
	if p.Key == nil {
		return nil
	}
	budgetMap := p.Key.ModelMaxBudget
	if len(budgetMap) == 0 && p.Budget != nil {
		budgetMap = p.Budget.ModelMaxBudget
	}
	if len(budgetMap) == 0 {
		return nil
	}
	maxBudget, ok := budgetMap[model]
	if !ok {
		return nil
	}

	cacheKey := "modelspend:" + p.Key.TokenHash + ":" + model
	var spend float64
	if !e.cache.Get(ctx, cacheKey, &spend) {
		since := time.Now().Add(-e.cfg.ModelSpendWindow)
		var err error
		spend, err = e.spend.ModelSpend(ctx, p.Key.TokenHash, model, since)
		if err != nil {
			// Fail open: per-model budgets are refinement, the key-level
			// budget has already been checked.
			e.logger.Warn("model spend lookup failed, skipping check",
				"model", model, "error", err)
			return nil
		}
		e.cache.Set(ctx, cacheKey, spend, e.cfg.SpendCacheTTL)
	}

	if spend >= maxBudget {
		return apierror.NewParam(apierror.KindBudgetExceeded, string(apierror.ScopeKeyModel),
			"budget for model %s exceeded: spend=%.6f max_budget=%.6f", model, spend, maxBudget)
	}
	e.maybeSoftAlert(attr, apierror.ScopeKeyModel, spend, &maxBudget, nil)
	return nil
}

func (e *Enforcer) checkRateLimits(ctx context.Context, p *auth.Principal, estimatedTokens int64) *apierror.Error {
	if p.Key == nil {
		return nil
	}
	id := p.Key.TokenHash

	if limit := p.EffectiveRPMLimit(); limit != nil {
		ok, err := e.limiter.AllowRequests(ctx, id, *limit)
		if err != nil {
			e.logger.Warn("rpm check failed, allowing", "error", err)
		} else if !ok {
			return apierror.New(apierror.KindRateLimited,
				"request rate limit of %d/min exceeded", *limit)
		}
	}
	if limit := p.EffectiveTPMLimit(); limit != nil {
		ok, err := e.limiter.AllowTokens(ctx, id, *limit, estimatedTokens)
		if err != nil {
			e.logger.Warn("tpm check failed, allowing", "error", err)
		} else if !ok {
			return apierror.New(apierror.KindRateLimited,
				"token rate limit of %d/min exceeded", *limit)
		}
	}
	return nil
}

// freshKeySpend prefers the spend figure the accounting writer pushed into
// the cache over the snapshot baked into the cached principal bundle.
func (e *Enforcer) freshKeySpend(ctx context.Context, key *models.VirtualKey) float64 {
	var cached float64
	if e.cache.Get(ctx, "spend:key:"+key.TokenHash, &cached) && cached > key.Spend {
		return cached
	}
	return key.Spend
}

func (e *Enforcer) freshUserSpend(ctx context.Context, user *models.InternalUser) float64 {
	var cached float64
	if e.cache.Get(ctx, "spend:user:"+user.UserID, &cached) && cached > user.Spend {
		return cached
	}
	return user.Spend
}

func (e *Enforcer) globalSpend(ctx context.Context) (float64, error) {
	var cached float64
	if e.cache.Get(ctx, "spend:global", &cached) {
		return cached, nil
	}
	global, err := e.spend.GlobalSpend(ctx)
	if err != nil {
		return 0, err
	}
	e.cache.Set(ctx, "spend:global", global, e.cfg.SpendCacheTTL)
	return global, nil
}

func softBudgetOf(p *auth.Principal) *float64 {
	if p.Key != nil && p.Key.SoftBudget != nil {
		return p.Key.SoftBudget
	}
	if p.Budget != nil && p.Budget.SoftBudget != nil {
		return p.Budget.SoftBudget
	}
	return nil
}

// maybeSoftAlert fires a non-blocking alert when spend crossed the soft
// threshold but the request is still admitted.
func (e *Enforcer) maybeSoftAlert(attr models.Attribution, scope apierror.BudgetScope, spend float64, maxBudget, softBudget *float64) {
	if e.alerts == nil {
		return
	}
	var threshold float64
	switch {
	case softBudget != nil:
		threshold = *softBudget
	case maxBudget != nil:
		threshold = *maxBudget * e.cfg.SoftBudgetFraction
	default:
		return
	}
	if spend < threshold {
		return
	}
	details := map[string]interface{}{
		"scope": string(scope),
		"spend": spend,
	}
	if maxBudget != nil {
		details["max_budget"] = *maxBudget
	}
	e.alerts.Dispatch(alerting.Event{
		Kind:        alerting.EventSoftBudget,
		Attribution: attr,
		Details:     details,
	})
}
