package router

import (
	"testing"
	"time"
)

func TestHealthyUntilThreshold(t *testing.T) {
	h := NewHealthTracker(time.Minute, 3, 30*time.Second)

	if !h.IsHealthy("d1") {
		t.Fatal("untouched deployment is healthy")
	}

	if h.RecordFailure("d1") {
		t.Fatal("first failure must not trip cooldown")
	}
	if h.RecordFailure("d1") {
		t.Fatal("second failure must not trip cooldown")
	}
	if !h.IsHealthy("d1") {
		t.Fatal("below threshold stays healthy")
	}

	if !h.RecordFailure("d1") {
		t.Fatal("third failure should report entering cooldown")
	}
	if h.IsHealthy("d1") {
		t.Fatal("deployment in cooldown is unhealthy")
	}
	// Further failures while cooling do not re-report the transition.
	if h.RecordFailure("d1") {
		t.Fatal("already-cooling deployment must not re-enter cooldown")
	}
}

func TestCooldownExpires(t *testing.T) {
	h := NewHealthTracker(time.Minute, 1, 20*time.Millisecond)

	h.RecordFailure("d1")
	if h.IsHealthy("d1") {
		t.Fatal("should be cooling")
	}

	time.Sleep(30 * time.Millisecond)
	if !h.IsHealthy("d1") {
		t.Fatal("cooldown elapsed, deployment gets another chance")
	}
	// The expired cooldown also cleared the failure history.
	if h.RecordFailure("d1"); h.IsHealthy("d1") {
		t.Fatal("threshold 1 trips again on the next failure")
	}
}

func TestSuccessClearsFailureWindow(t *testing.T) {
	h := NewHealthTracker(time.Minute, 3, 30*time.Second)

	h.RecordFailure("d1")
	h.RecordFailure("d1")
	h.RecordSuccess("d1")

	// The counter restarted, so two more failures stay under threshold.
	h.RecordFailure("d1")
	h.RecordFailure("d1")
	if !h.IsHealthy("d1") {
		t.Fatal("success should have reset the failure window")
	}
}

func TestFailuresOutsideWindowIgnored(t *testing.T) {
	h := NewHealthTracker(20*time.Millisecond, 2, 30*time.Second)

	h.RecordFailure("d1")
	time.Sleep(30 * time.Millisecond)
	// The earlier failure has rolled out of the window.
	if h.RecordFailure("d1") {
		t.Fatal("stale failures must not count toward the threshold")
	}
	if !h.IsHealthy("d1") {
		t.Fatal("only one failure inside the window")
	}
}

func TestMarkHealthyClearsCooldown(t *testing.T) {
	h := NewHealthTracker(time.Minute, 1, time.Hour)

	h.RecordFailure("d1")
	if h.IsHealthy("d1") {
		t.Fatal("should be cooling")
	}
	h.MarkHealthy("d1")
	if !h.IsHealthy("d1") {
		t.Fatal("MarkHealthy should clear the cooldown")
	}
}

func TestHealthTrackedPerDeployment(t *testing.T) {
	h := NewHealthTracker(time.Minute, 1, time.Hour)

	h.RecordFailure("d1")
	if h.IsHealthy("d1") {
		t.Fatal("d1 should be cooling")
	}
	if !h.IsHealthy("d2") {
		t.Fatal("d2 is unaffected by d1's failures")
	}
}
