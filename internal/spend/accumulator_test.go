package spend

import (
	"math"
	"sync"
	"testing"

	"llmgate/internal/models"
	"llmgate/internal/storage"
)

func strPtr(s string) *string { return &s }

func TestAddAttributesEveryDimension(t *testing.T) {
	a := NewAccumulator()

	a.Add(models.Attribution{
		TokenHash: "h1",
		UserID:    strPtr("u1"),
		TeamID:    strPtr("t1"),
		OrgID:     strPtr("o1"),
		EndUserID: strPtr("eu1"),
	}, "gpt-4", 0.5)

	deltas := a.Drain()
	if deltas.Keys["h1"] != 0.5 {
		t.Errorf("key delta = %v, want 0.5", deltas.Keys["h1"])
	}
	if deltas.Users["u1"] != 0.5 || deltas.Teams["t1"] != 0.5 || deltas.Orgs["o1"] != 0.5 {
		t.Error("user/team/org deltas missing")
	}
	if deltas.TeamMembers[storage.TeamMemberKey{TeamID: "t1", UserID: "u1"}] != 0.5 {
		t.Error("team member delta missing")
	}
	if deltas.EndUsers["eu1"] != 0.5 {
		t.Error("end user delta missing")
	}
	if deltas.KeyModels[storage.KeyModelKey{TokenHash: "h1", Model: "gpt-4"}] != 0.5 {
		t.Error("key model delta missing")
	}
	if deltas.Global != 0.5 {
		t.Errorf("global delta = %v, want 0.5", deltas.Global)
	}
}

func TestAddSkipsNullDimensions(t *testing.T) {
	a := NewAccumulator()
	a.Add(models.Attribution{TokenHash: "h1"}, "gpt-4", 1.0)

	deltas := a.Drain()
	if len(deltas.Users) != 0 || len(deltas.Teams) != 0 || len(deltas.EndUsers) != 0 {
		t.Error("null attribution dimensions must not accumulate")
	}
	if deltas.Keys["h1"] != 1.0 || deltas.Global != 1.0 {
		t.Error("key and global must still accumulate")
	}
}

func TestConcurrentAddsLoseNothing(t *testing.T) {
	a := NewAccumulator()

	const goroutines = 50
	const addsEach = 200
	const cost = 0.01

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < addsEach; i++ {
				a.Add(models.Attribution{TokenHash: "h1", TeamID: strPtr("t1")}, "gpt-4", cost)
			}
		}()
	}
	wg.Wait()

	deltas := a.Drain()
	want := float64(goroutines*addsEach) * cost
	if math.Abs(deltas.Keys["h1"]-want) > 1e-9 {
		t.Errorf("key delta = %v, want %v", deltas.Keys["h1"], want)
	}
	if math.Abs(deltas.Teams["t1"]-want) > 1e-9 {
		t.Errorf("team delta = %v, want %v", deltas.Teams["t1"], want)
	}
	if math.Abs(deltas.Global-want) > 1e-9 {
		t.Errorf("global delta = %v, want %v", deltas.Global, want)
	}
}

// A failed flush merged back and re-drained yields exactly one delta's
// worth: the retry protocol never double-counts and never drops.
func TestDrainMergeBackRetryIsExactlyOnce(t *testing.T) {
	a := NewAccumulator()
	a.Add(models.Attribution{TokenHash: "h1"}, "gpt-4", 0.25)

	// First flush attempt fails after drain.
	batch := a.Drain()
	if !a.Empty() {
		t.Fatal("accumulator should be empty after drain")
	}

	// New spend arrives while the failed batch is in limbo.
	a.Add(models.Attribution{TokenHash: "h1"}, "gpt-4", 0.10)

	a.MergeBack(batch)

	retry := a.Drain()
	if got := retry.Keys["h1"]; math.Abs(got-0.35) > 1e-9 {
		t.Errorf("retry batch = %v, want 0.35 (failed 0.25 + new 0.10)", got)
	}
	if !a.Empty() {
		t.Error("nothing should remain after the retry drain")
	}
}

func TestDrainReturnsIndependentMaps(t *testing.T) {
	a := NewAccumulator()
	a.Add(models.Attribution{TokenHash: "h1"}, "gpt-4", 1.0)

	first := a.Drain()
	a.Add(models.Attribution{TokenHash: "h1"}, "gpt-4", 2.0)
	second := a.Drain()

	if first.Keys["h1"] != 1.0 {
		t.Errorf("first batch mutated: %v", first.Keys["h1"])
	}
	if second.Keys["h1"] != 2.0 {
		t.Errorf("second batch = %v, want 2.0", second.Keys["h1"])
	}
}

func TestPendingKeySpend(t *testing.T) {
	a := NewAccumulator()
	a.Add(models.Attribution{TokenHash: "h1"}, "gpt-4", 0.3)
	a.Add(models.Attribution{TokenHash: "h1"}, "gpt-4", 0.2)

	if got := a.PendingKeySpend("h1"); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("PendingKeySpend = %v, want 0.5", got)
	}
	if got := a.PendingKeySpend("other"); got != 0 {
		t.Errorf("PendingKeySpend(other) = %v, want 0", got)
	}
}
