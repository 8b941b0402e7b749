package router

import (
	"testing"

	"llmgate/internal/models"
)

func deployments(ids ...string) []models.Deployment {
	out := make([]models.Deployment, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Deployment{ID: id, ModelName: "gpt-4"})
	}
	return out
}

func TestRoundRobinRotatesPrimary(t *testing.T) {
	s := NewStrategy("round-robin", nil)
	cands := deployments("a", "b", "c")

	primaries := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		ordered := s.Order("gpt-4", cands)
		if len(ordered) != 3 {
			t.Fatalf("order returned %d candidates, want 3", len(ordered))
		}
		primaries = append(primaries, ordered[0].ID)
	}

	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if primaries[i] != want[i] {
			t.Fatalf("primary sequence = %v, want %v", primaries, want)
		}
	}
}

func TestRoundRobinPreservesFallbackOrder(t *testing.T) {
	s := NewStrategy("round-robin", nil)
	cands := deployments("a", "b", "c")

	first := s.Order("gpt-4", cands)
	if first[0].ID != "a" || first[1].ID != "b" || first[2].ID != "c" {
		t.Errorf("first rotation = %v", idsOf(first))
	}
	second := s.Order("gpt-4", cands)
	if second[0].ID != "b" || second[1].ID != "c" || second[2].ID != "a" {
		t.Errorf("second rotation = %v", idsOf(second))
	}
}

func TestRoundRobinCursorPerModel(t *testing.T) {
	s := NewStrategy("round-robin", nil)

	s.Order("gpt-4", deployments("a", "b"))
	// Another model group starts from the beginning regardless.
	ordered := s.Order("claude-3", deployments("x", "y"))
	if ordered[0].ID != "x" {
		t.Errorf("new model group primary = %s, want x", ordered[0].ID)
	}
}

func TestLeastBusyPrefersIdleDeployment(t *testing.T) {
	stats := NewStats()
	s := NewStrategy("least-busy", stats)

	stats.DispatchStarted("a")
	stats.DispatchStarted("a")
	stats.DispatchStarted("b")

	ordered := s.Order("gpt-4", deployments("a", "b", "c"))
	if ordered[0].ID != "c" {
		t.Errorf("primary = %s, want idle deployment c", ordered[0].ID)
	}
	if ordered[2].ID != "a" {
		t.Errorf("busiest deployment should sort last, got %v", idsOf(ordered))
	}
}

func TestLowestLatencyProbesUnmeasuredFirst(t *testing.T) {
	stats := NewStats()
	s := NewStrategy("lowest-latency", stats)

	stats.DispatchStarted("a")
	stats.DispatchFinished("a", 120)
	stats.DispatchStarted("b")
	stats.DispatchFinished("b", 40)

	ordered := s.Order("gpt-4", deployments("a", "b", "fresh"))
	if ordered[0].ID != "fresh" {
		t.Errorf("unmeasured deployment should be probed first, got %v", idsOf(ordered))
	}
	if ordered[1].ID != "b" || ordered[2].ID != "a" {
		t.Errorf("measured deployments should sort by latency, got %v", idsOf(ordered))
	}
}

func TestLatencyEWMASmoothes(t *testing.T) {
	stats := NewStats()
	stats.DispatchStarted("a")
	stats.DispatchFinished("a", 100)
	stats.DispatchStarted("a")
	stats.DispatchFinished("a", 200)

	// 100*0.8 + 200*0.2 = 120
	if got := stats.Latency("a"); got != 120 {
		t.Errorf("Latency = %v, want 120", got)
	}
	if got := stats.InFlight("a"); got != 0 {
		t.Errorf("InFlight = %d, want 0", got)
	}
}

func TestWeightedRandomCoversEveryCandidate(t *testing.T) {
	s := NewStrategy("weighted-random", nil)
	cands := []models.Deployment{
		{ID: "heavy", Weight: 10},
		{ID: "light", Weight: 1},
	}

	heavyPrimary := 0
	for i := 0; i < 200; i++ {
		ordered := s.Order("gpt-4", cands)
		if len(ordered) != 2 {
			t.Fatalf("order returned %d candidates", len(ordered))
		}
		if ordered[0].ID == ordered[1].ID {
			t.Fatal("without-replacement ordering must not repeat a candidate")
		}
		if ordered[0].ID == "heavy" {
			heavyPrimary++
		}
	}
	// 10:1 weighting makes the heavy deployment the primary the vast
	// majority of the time; 120/200 is a generous lower bound.
	if heavyPrimary < 120 {
		t.Errorf("heavy deployment primary %d/200 times, expected weight to dominate", heavyPrimary)
	}
}

func TestUnknownStrategyFallsBackToRoundRobin(t *testing.T) {
	s := NewStrategy("does-not-exist", nil)
	if s.Name() != "round-robin" {
		t.Errorf("Name = %q, want round-robin", s.Name())
	}
}

func idsOf(ds []models.Deployment) []string {
	ids := make([]string, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	return ids
}
