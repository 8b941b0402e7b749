// Package router resolves a model name to a concrete deployment and
// dispatches with fallback across the model group.
package router

import (
	"context"
	"errors"
	"time"

	"llmgate/internal/alerting"
	"llmgate/internal/apierror"
	"llmgate/internal/auth"
	"llmgate/internal/models"
	"llmgate/internal/utils"
)

// Config holds router settings
type Config struct {
	Strategy         string
	MaxAttempts      int
	DispatchTimeout  time.Duration
	FailureWindow    time.Duration
	FailureThreshold int
	CooldownPeriod   time.Duration
}

// Result is a successful routing outcome: the response plus the deployment
// that served it, for cost attribution.
type Result struct {
	Response   *Response
	Deployment *models.Deployment
	Attempts   int
}

// Router owns candidate selection, dispatch, fallback and health tracking.
type Router struct {
	cfg      Config
	catalog  *Catalog
	strategy Strategy
	health   *HealthTracker
	stats    *Stats
	adapter  ProviderAdapter
	alerts   *alerting.Dispatcher
	logger   *utils.Logger
}

// New creates a router
func New(cfg Config, catalog *Catalog, adapter ProviderAdapter, alerts *alerting.Dispatcher) *Router {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 60 * time.Second
	}
	stats := NewStats()
	return &Router{
		cfg:      cfg,
		catalog:  catalog,
		strategy: NewStrategy(cfg.Strategy, stats),
		health:   NewHealthTracker(cfg.FailureWindow, cfg.FailureThreshold, cfg.CooldownPeriod),
		stats:    stats,
		adapter:  adapter,
		alerts:   alerts,
		logger:   utils.NewLogger("router"),
	}
}

// Catalog exposes the deployment catalog for handlers and reload loops.
func (r *Router) Catalog() *Catalog { return r.catalog }

// Health exposes the tracker for the external health checker.
func (r *Router) Health() *HealthTracker { return r.health }

// ResolveModel maps the caller-supplied model name through key/team aliases
// first, then the global alias map.
func (r *Router) ResolveModel(p *auth.Principal, model string) string {
	resolved := p.ModelAliasTarget(model)
	return r.catalog.ResolveAlias(resolved)
}

// Route selects deployments for the resolved model and dispatches with
// fallback until one succeeds, a fatal error propagates, or candidates are
// exhausted.
func (r *Router) Route(ctx context.Context, p *auth.Principal, req *Request) (*Result, *apierror.Error) {
	candidates := r.candidateSet(p, req.Model)
	if len(candidates) == 0 {
		if r.catalog.KnownModel(req.Model) {
			// The group exists but every member is cooling down.
			return nil, apierror.NewParam(apierror.KindNoHealthyDeploy, "model",
				"no healthy deployment for model %s", req.Model)
		}
		return nil, apierror.NewParam(apierror.KindInvalidModelName, "model",
			"model %s is not configured", req.Model)
	}

	ordered := r.strategy.Order(req.Model, candidates)
	maxAttempts := r.cfg.MaxAttempts
	if maxAttempts > len(ordered) {
		maxAttempts = len(ordered)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		deployment := ordered[attempt]

		resp, err := r.dispatch(ctx, &deployment, req)
		if err == nil {
			r.health.RecordSuccess(deployment.ID)
			return &Result{Response: resp, Deployment: &deployment, Attempts: attempt + 1}, nil
		}

		if ctx.Err() != nil {
			return nil, apierror.New(apierror.KindClientDisconnected,
				"client disconnected during dispatch")
		}

		var fatal *FatalError
		if errors.As(err, &fatal) {
			// Non-retryable: the provider rejected the request itself, a
			// different deployment would reject it the same way.
			return nil, apierror.New(apierror.KindInvalidRequest,
				"provider rejected request: %v", fatal.Err)
		}

		lastErr = err
		r.logger.Warn("dispatch failed, trying next candidate",
			"deployment", deployment.ID, "attempt", attempt+1, "error", err)
		if r.health.RecordFailure(deployment.ID) && r.alerts != nil {
			r.alerts.Dispatch(alerting.Event{
				Kind: alerting.EventCooldown,
				Details: map[string]interface{}{
					"deployment": deployment.ID,
					"model":      req.Model,
				},
			})
		}
	}

	return nil, apierror.NewParam(apierror.KindFallbacksExhausted, "model",
		"all %d deployments for model %s failed, last error: %v",
		maxAttempts, req.Model, lastErr)
}

// candidateSet builds the healthy deployments for the model group. A key
// whose allowed-model list names a deployment id directly restricts the
// group to that one deployment.
func (r *Router) candidateSet(p *auth.Principal, model string) []models.Deployment {
	if p != nil && p.Key != nil {
		for _, entry := range p.Key.AllowedModels {
			if d, ok := r.catalog.ByID(entry); ok && d.ModelName == model {
				if r.health.IsHealthy(d.ID) {
					return []models.Deployment{d}
				}
				return nil
			}
		}
	}

	group := r.catalog.Group(model)
	healthy := make([]models.Deployment, 0, len(group))
	for _, d := range group {
		if r.health.IsHealthy(d.ID) {
			healthy = append(healthy, d)
		}
	}
	return healthy
}

func (r *Router) dispatch(ctx context.Context, deployment *models.Deployment, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DispatchTimeout)
	defer cancel()

	r.stats.DispatchStarted(deployment.ID)
	resp, err := r.adapter.Dispatch(ctx, deployment, req)
	var latency float64
	if resp != nil {
		latency = float64(resp.Latency.Milliseconds())
	}
	r.stats.DispatchFinished(deployment.ID, latency)
	return resp, err
}
