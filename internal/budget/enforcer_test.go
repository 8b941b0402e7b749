package budget

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"llmgate/internal/alerting"
	"llmgate/internal/apierror"
	"llmgate/internal/auth"
	"llmgate/internal/cache"
	"llmgate/internal/models"
	"llmgate/internal/spend"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int64) *int64       { return &v }

func newTestEnforcer(t *testing.T, cfg Config) (*Enforcer, *cache.HybridCache) {
	t.Helper()
	c := cache.NewHybridCache(100, time.Minute, nil)
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("cache open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if cfg.SpendCacheTTL == 0 {
		cfg.SpendCacheTTL = time.Minute
	}
	return NewEnforcer(cfg, c, nil, NewRateLimiter(nil), nil), c
}

func keyPrincipal(key *models.VirtualKey) *auth.Principal {
	return &auth.Principal{Kind: auth.KindVirtualKey, Role: models.RoleInternalUser, Key: key}
}

func TestEvaluateAdmitsUnbudgetedKey(t *testing.T) {
	e, _ := newTestEnforcer(t, Config{})
	p := keyPrincipal(&models.VirtualKey{TokenHash: "h1"})

	if apiErr := e.Evaluate(context.Background(), p, Request{Model: "gpt-4"}); apiErr != nil {
		t.Fatalf("expected admission, got %v", apiErr)
	}
}

func TestEvaluateModelAccess(t *testing.T) {
	e, _ := newTestEnforcer(t, Config{})

	p := keyPrincipal(&models.VirtualKey{
		TokenHash:     "h1",
		AllowedModels: []string{"gpt-3.5-turbo"},
	})

	apiErr := e.Evaluate(context.Background(), p, Request{Model: "gpt-4"})
	if apiErr == nil || apiErr.Type != apierror.KindModelAccessDenied {
		t.Fatalf("expected model_access_denied, got %v", apiErr)
	}
	if apiErr.StatusCode() != 403 {
		t.Errorf("status = %d, want 403", apiErr.StatusCode())
	}

	// An access-group grant admits the same request.
	if apiErr := e.Evaluate(context.Background(), p, Request{Model: "gpt-4", AccessGroupGrant: true}); apiErr != nil {
		t.Fatalf("group grant should admit, got %v", apiErr)
	}
}

func TestEvaluateBlockedEntities(t *testing.T) {
	e, _ := newTestEnforcer(t, Config{})

	tests := []struct {
		name string
		p    *auth.Principal
		req  Request
	}{
		{
			"blocked key",
			keyPrincipal(&models.VirtualKey{TokenHash: "h1", KeyAlias: "a", Blocked: true}),
			Request{Model: "gpt-4"},
		},
		{
			"blocked team",
			&auth.Principal{
				Kind: auth.KindVirtualKey,
				Key:  &models.VirtualKey{TokenHash: "h1"},
				Team: &models.Team{TeamID: "t1", Blocked: true},
			},
			Request{Model: "gpt-4"},
		},
		{
			"blocked end user",
			keyPrincipal(&models.VirtualKey{TokenHash: "h1"}),
			Request{Model: "gpt-4", EndUser: &models.EndUser{EndUserID: "eu1", Blocked: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := e.Evaluate(context.Background(), tt.p, tt.req)
			if apiErr == nil || apiErr.Type != apierror.KindBlocked {
				t.Fatalf("expected blocked, got %v", apiErr)
			}
		})
	}
}

// The pre-check semantic: a call is admitted while spend < max_budget, may
// overshoot, and the next call is rejected with the overshot figure.
func TestEvaluateKeyBudgetPreCheckSemantics(t *testing.T) {
	e, c := newTestEnforcer(t, Config{})
	ctx := context.Background()

	key := &models.VirtualKey{
		TokenHash: "h-sk-test",
		MaxBudget: floatPtr(1.00),
		Spend:     0.99,
	}
	p := keyPrincipal(key)

	// spend=0.99 < 1.00: admitted even though the call will overshoot.
	if apiErr := e.Evaluate(ctx, p, Request{Model: "gpt-4"}); apiErr != nil {
		t.Fatalf("call at spend=0.99 should be admitted, got %v", apiErr)
	}

	// The call cost 0.02; the accounting writer pushes the fresh figure.
	writer := spend.NewWriter(spend.Config{FlushInterval: time.Hour}, nil, c, time.Minute, nil)
	writer.Record(ctx, models.Attribution{TokenHash: key.TokenHash}, "gpt-4", 0.02, key.Spend, 0)

	apiErr := e.Evaluate(ctx, p, Request{Model: "gpt-4"})
	if apiErr == nil || apiErr.Type != apierror.KindBudgetExceeded {
		t.Fatalf("next call should be rejected, got %v", apiErr)
	}
	if apiErr.StatusCode() != 429 {
		t.Errorf("status = %d, want 429", apiErr.StatusCode())
	}
	if !strings.Contains(apiErr.Message, "spend=1.010000") ||
		!strings.Contains(apiErr.Message, "max_budget=1.000000") {
		t.Errorf("message should carry overshot spend and limit: %q", apiErr.Message)
	}
}

func TestEvaluateBudgetBeforeExpiry(t *testing.T) {
	e, _ := newTestEnforcer(t, Config{})
	past := time.Now().Add(-time.Hour)

	// An exhausted budget on an expired key reports the budget first: step 2
	// runs before step 6.
	p := keyPrincipal(&models.VirtualKey{
		TokenHash: "h1",
		MaxBudget: floatPtr(1),
		Spend:     2,
		ExpiresAt: &past,
	})
	apiErr := e.Evaluate(context.Background(), p, Request{Model: "gpt-4"})
	if apiErr == nil || apiErr.Type != apierror.KindBudgetExceeded {
		t.Fatalf("expected budget_exceeded first, got %v", apiErr)
	}

	// With budget headroom, expiry rejects.
	p = keyPrincipal(&models.VirtualKey{
		TokenHash: "h2",
		MaxBudget: floatPtr(10),
		Spend:     1,
		ExpiresAt: &past,
	})
	apiErr = e.Evaluate(context.Background(), p, Request{Model: "gpt-4"})
	if apiErr == nil || apiErr.Type != apierror.KindExpiredKey {
		t.Fatalf("expected expired_key, got %v", apiErr)
	}
}

func TestEvaluateUserAndTeamBudgets(t *testing.T) {
	e, _ := newTestEnforcer(t, Config{})

	p := &auth.Principal{
		Kind: auth.KindVirtualKey,
		Key:  &models.VirtualKey{TokenHash: "h1"},
		User: &models.InternalUser{UserID: "u1", MaxBudget: floatPtr(5), Spend: 5},
	}
	apiErr := e.Evaluate(context.Background(), p, Request{Model: "gpt-4"})
	if apiErr == nil || apiErr.Param != "user" {
		t.Fatalf("expected user budget rejection, got %v", apiErr)
	}

	p = &auth.Principal{
		Kind: auth.KindVirtualKey,
		Key:  &models.VirtualKey{TokenHash: "h1"},
		Team: &models.Team{TeamID: "t1", MaxBudget: floatPtr(10), Spend: 12},
	}
	apiErr = e.Evaluate(context.Background(), p, Request{Model: "gpt-4"})
	if apiErr == nil || apiErr.Param != "team" {
		t.Fatalf("expected team budget rejection, got %v", apiErr)
	}

	p = &auth.Principal{
		Kind: auth.KindVirtualKey,
		Key:  &models.VirtualKey{TokenHash: "h1"},
		Membership: &models.TeamMembership{
			TeamID: "t1", UserID: "u1",
			MaxBudget: floatPtr(1), TeamMemberSpend: 1.5,
		},
	}
	apiErr = e.Evaluate(context.Background(), p, Request{Model: "gpt-4"})
	if apiErr == nil || apiErr.Param != "team_member" {
		t.Fatalf("expected team member budget rejection, got %v", apiErr)
	}
}

func TestEvaluateOrgBudget(t *testing.T) {
	e, _ := newTestEnforcer(t, Config{})

	p := &auth.Principal{
		Kind: auth.KindVirtualKey,
		Key:  &models.VirtualKey{TokenHash: "h1"},
		Org:  &models.Organization{OrgID: "o1", MaxBudget: floatPtr(50), Spend: 55},
	}
	apiErr := e.Evaluate(context.Background(), p, Request{Model: "gpt-4"})
	if apiErr == nil || apiErr.Param != "org" {
		t.Fatalf("expected org budget rejection, got %v", apiErr)
	}

	// Org headroom admits.
	p.Org.Spend = 10
	if apiErr := e.Evaluate(context.Background(), p, Request{Model: "gpt-4"}); apiErr != nil {
		t.Fatalf("org under budget should admit, got %v", apiErr)
	}
}

// Concurrent admission against a shared key budget. The recorded spend figure
// only grows, so once it reaches max_budget admissions stop; with each worker
// recording an admitted call before its next attempt, over-admission is
// bounded by the calls in flight.
func TestEvaluateBudgetMonotonicUnderConcurrency(t *testing.T) {
	e, c := newTestEnforcer(t, Config{})
	ctx := context.Background()

	const (
		workers    = 8
		iterations = 10
		cost       = 0.10
		budgeted   = 10 // the budget covers exactly this many calls
	)
	key := &models.VirtualKey{TokenHash: "h-conc", MaxBudget: floatPtr(budgeted * cost)}
	writer := spend.NewWriter(spend.Config{FlushInterval: time.Hour}, nil, c, time.Minute, nil)

	var admitted int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := keyPrincipal(key)
			for i := 0; i < iterations; i++ {
				if apiErr := e.Evaluate(ctx, p, Request{Model: "gpt-4"}); apiErr != nil {
					return
				}
				atomic.AddInt64(&admitted, 1)
				writer.Record(ctx, models.Attribution{TokenHash: key.TokenHash}, "gpt-4", cost, key.Spend, 0)
			}
		}()
	}
	wg.Wait()

	got := atomic.LoadInt64(&admitted)
	if got < budgeted {
		t.Errorf("admitted %d calls, the budget covers %d", got, budgeted)
	}
	if got > budgeted+workers {
		t.Errorf("admitted %d calls, want at most %d (budget plus one in-flight per worker)",
			got, budgeted+workers)
	}

	// Every delta is recorded, so the next evaluation must reject.
	apiErr := e.Evaluate(ctx, keyPrincipal(key), Request{Model: "gpt-4"})
	if apiErr == nil || apiErr.Type != apierror.KindBudgetExceeded {
		t.Fatalf("exhausted budget must reject further calls, got %v", apiErr)
	}
}

func TestEvaluateModelBudgetFromCache(t *testing.T) {
	e, c := newTestEnforcer(t, Config{})
	ctx := context.Background()

	p := keyPrincipal(&models.VirtualKey{
		TokenHash:      "h1",
		ModelMaxBudget: models.FloatMap{"gpt-4": 0.50},
	})

	c.Set(ctx, "modelspend:h1:gpt-4", 0.60, time.Minute)
	apiErr := e.Evaluate(ctx, p, Request{Model: "gpt-4"})
	if apiErr == nil || apiErr.Type != apierror.KindBudgetExceeded {
		t.Fatalf("expected model budget rejection, got %v", apiErr)
	}

	// A model outside the budget map is unconstrained.
	if apiErr := e.Evaluate(ctx, p, Request{Model: "gpt-3.5-turbo"}); apiErr != nil {
		t.Fatalf("unbudgeted model should be admitted, got %v", apiErr)
	}
}

func TestEvaluateGlobalBudget(t *testing.T) {
	e, c := newTestEnforcer(t, Config{GlobalMaxBudget: 100})
	ctx := context.Background()

	c.Set(ctx, "spend:global", 99.0, time.Minute)
	p := keyPrincipal(&models.VirtualKey{TokenHash: "h1"})
	if apiErr := e.Evaluate(ctx, p, Request{Model: "gpt-4"}); apiErr != nil {
		t.Fatalf("under global budget, got %v", apiErr)
	}

	c.Set(ctx, "spend:global", 101.0, time.Minute)
	apiErr := e.Evaluate(ctx, p, Request{Model: "gpt-4"})
	if apiErr == nil || apiErr.Param != "global" {
		t.Fatalf("expected global budget rejection, got %v", apiErr)
	}
}

func TestEvaluateRPMLimit(t *testing.T) {
	e, _ := newTestEnforcer(t, Config{})
	ctx := context.Background()

	p := keyPrincipal(&models.VirtualKey{TokenHash: "h-rpm", RPMLimit: intPtr(2)})

	for i := 0; i < 2; i++ {
		if apiErr := e.Evaluate(ctx, p, Request{Model: "gpt-4"}); apiErr != nil {
			t.Fatalf("call %d should be admitted, got %v", i+1, apiErr)
		}
	}
	apiErr := e.Evaluate(ctx, p, Request{Model: "gpt-4"})
	if apiErr == nil || apiErr.Type != apierror.KindRateLimited {
		t.Fatalf("expected rate_limited on third call, got %v", apiErr)
	}
}

func TestEvaluateMasterAdminBypassesBudgets(t *testing.T) {
	e, _ := newTestEnforcer(t, Config{GlobalMaxBudget: 0.01})
	p := &auth.Principal{Kind: auth.KindMasterAdmin, Role: models.RoleProxyAdmin}

	if apiErr := e.Evaluate(context.Background(), p, Request{Model: "gpt-4"}); apiErr != nil {
		t.Fatalf("master admin must bypass enforcement, got %v", apiErr)
	}
}

type captureNotifier struct {
	events chan alerting.Event
}

func (n *captureNotifier) Notify(event alerting.Event) { n.events <- event }

func TestSoftBudgetAlertFires(t *testing.T) {
	capture := &captureNotifier{events: make(chan alerting.Event, 8)}
	dispatcher := alerting.NewDispatcher(8, capture)
	defer dispatcher.Close()

	c := cache.NewHybridCache(100, time.Minute, nil)
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("cache open: %v", err)
	}
	defer c.Close()
	e := NewEnforcer(Config{SoftBudgetFraction: 0.85, SpendCacheTTL: time.Minute}, c, nil, NewRateLimiter(nil), dispatcher)

	p := keyPrincipal(&models.VirtualKey{
		TokenHash: "h1",
		KeyAlias:  "soft",
		MaxBudget: floatPtr(10),
		Spend:     9, // over the 8.5 soft threshold, under the hard limit
	})
	if apiErr := e.Evaluate(context.Background(), p, Request{Model: "gpt-4"}); apiErr != nil {
		t.Fatalf("soft threshold must not reject, got %v", apiErr)
	}

	select {
	case event := <-capture.events:
		if event.Kind != alerting.EventSoftBudget {
			t.Errorf("event kind = %s, want %s", event.Kind, alerting.EventSoftBudget)
		}
		if event.Attribution.KeyAlias != "soft" {
			t.Errorf("event alias = %s, want soft", event.Attribution.KeyAlias)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a soft budget alert")
	}
}
