package router

import (
	"testing"

	"llmgate/internal/models"
)

func TestCatalogGroupsAndLookup(t *testing.T) {
	c := testCatalog(
		models.Deployment{ID: "d1", ModelName: "gpt-4"},
		models.Deployment{ID: "d2", ModelName: "gpt-4"},
		models.Deployment{ID: "d3", ModelName: "claude-3"},
	)

	if got := len(c.Group("gpt-4")); got != 2 {
		t.Errorf("Group(gpt-4) has %d members, want 2", got)
	}
	if !c.KnownModel("claude-3") || c.KnownModel("nonexistent") {
		t.Error("KnownModel should match configured groups only")
	}

	d, ok := c.ByID("d3")
	if !ok || d.ModelName != "claude-3" {
		t.Errorf("ByID(d3) = %+v, %v", d, ok)
	}
	if _, ok := c.ByID("missing"); ok {
		t.Error("ByID(missing) should miss")
	}

	names := c.ModelNames()
	if len(names) != 2 {
		t.Errorf("ModelNames = %v, want 2 groups", names)
	}
}

func TestCatalogAccessGroupGrant(t *testing.T) {
	c := testCatalog()
	c.accessGroups = map[string][]string{
		"beta-models": {"gpt-4", "claude-3"},
	}

	if !c.GrantsModel([]string{"beta-models"}, "gpt-4") {
		t.Error("access group entry should grant member models")
	}
	if c.GrantsModel([]string{"beta-models"}, "gpt-3.5-turbo") {
		t.Error("access group must not grant models outside its list")
	}
	if c.GrantsModel([]string{"gpt-4"}, "gpt-4") {
		t.Error("a plain model entry is not an access group name")
	}
	if c.GrantsModel(nil, "gpt-4") {
		t.Error("empty allow list grants nothing via groups")
	}
}

func TestCatalogResolveAlias(t *testing.T) {
	c := testCatalog()

	if got := c.ResolveAlias("gpt-4o-alias"); got != "gpt-4" {
		t.Errorf("ResolveAlias = %q, want gpt-4", got)
	}
	if got := c.ResolveAlias("gpt-4"); got != "gpt-4" {
		t.Errorf("unaliased names pass through, got %q", got)
	}
}
