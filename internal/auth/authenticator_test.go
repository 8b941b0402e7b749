package auth

import (
	"context"
	"testing"
	"time"

	"llmgate/internal/apierror"
	"llmgate/internal/cache"
	"llmgate/internal/models"
)

func newTestAuthenticator(t *testing.T, cfg Config) *Authenticator {
	t.Helper()
	c := cache.NewHybridCache(10, time.Minute, nil)
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("cache open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return NewAuthenticator(cfg, nil, c)
}

func TestAuthenticateRequiresBearerScheme(t *testing.T) {
	a := newTestAuthenticator(t, Config{MasterKey: "sk-master"})
	ctx := context.Background()

	// The raw master key without the scheme is not a valid credential.
	p, apiErr := a.Authenticate(ctx, "/v1/chat/completions", "sk-master")
	if apiErr == nil || apiErr.Type != apierror.KindInvalidToken {
		t.Fatalf("credential without Bearer scheme must be rejected, got p=%v err=%v", p, apiErr)
	}
	if apiErr.StatusCode() != 401 {
		t.Errorf("status = %d, want 401", apiErr.StatusCode())
	}

	p, apiErr = a.Authenticate(ctx, "/v1/chat/completions", "Bearer sk-master")
	if apiErr != nil {
		t.Fatalf("Bearer master key should authenticate, got %v", apiErr)
	}
	if p.Kind != KindMasterAdmin {
		t.Errorf("Kind = %s, want master_admin", p.Kind)
	}
}

func TestAuthenticateMissingHeader(t *testing.T) {
	a := newTestAuthenticator(t, Config{MasterKey: "sk-master"})

	tests := []struct {
		name          string
		authorization string
	}{
		{"empty header", ""},
		{"scheme only", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, apiErr := a.Authenticate(context.Background(), "/v1/chat/completions", tt.authorization)
			if apiErr == nil || apiErr.Type != apierror.KindInvalidToken {
				t.Fatalf("expected invalid_token, got %v", apiErr)
			}
		})
	}
}

func TestPublicRouteYieldsReadOnlyPrincipal(t *testing.T) {
	a := newTestAuthenticator(t, Config{
		MasterKey:    "sk-master",
		PublicRoutes: []string{"/v1/models", "/v1/chat/completions"},
	})
	ctx := context.Background()

	p, apiErr := a.Authenticate(ctx, "/v1/models", "")
	if apiErr != nil {
		t.Fatalf("public route must admit without credentials, got %v", apiErr)
	}
	if p == nil {
		t.Fatal("public route must yield a principal, never nil")
	}
	if p.Kind != KindPublic || p.Role != models.RoleInternalUserViewOnly {
		t.Errorf("principal = kind %s role %s, want public view-only", p.Kind, p.Role)
	}

	// The synthetic principal is safe to use downstream.
	if attr := p.Attribution("/v1/models"); attr.TokenHash != "" {
		t.Errorf("public principal must carry no key attribution: %+v", attr)
	}
	if got := p.ModelAliasTarget("gpt-4"); got != "gpt-4" {
		t.Errorf("ModelAliasTarget = %q, want passthrough", got)
	}

	// A public inference route also yields the principal rather than nil.
	p, apiErr = a.Authenticate(ctx, "/v1/chat/completions", "")
	if apiErr != nil || p == nil {
		t.Fatalf("public inference route: p=%v err=%v", p, apiErr)
	}
}

func TestPublicMutatingRouteStaysForbidden(t *testing.T) {
	a := newTestAuthenticator(t, Config{
		MasterKey:    "sk-master",
		PublicRoutes: []string{"/key/generate"},
	})

	// Marking a mutating management route public does not open it: the
	// synthetic principal is view-only.
	_, apiErr := a.Authenticate(context.Background(), "/key/generate", "")
	if apiErr == nil || apiErr.Type != apierror.KindRouteForbidden {
		t.Fatalf("expected route_forbidden, got %v", apiErr)
	}
}
