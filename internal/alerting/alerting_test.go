package alerting

import (
	"sync"
	"testing"
	"time"

	"llmgate/internal/models"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(event Event) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) snapshot() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

type blockingNotifier struct {
	release chan struct{}
}

func (n *blockingNotifier) Notify(Event) { <-n.release }

func TestDispatchFansOutToEveryNotifier(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	d := NewDispatcher(16, a, b)

	d.Dispatch(Event{
		Kind:        EventSoftBudget,
		Attribution: models.Attribution{TokenHash: "h1", KeyAlias: "ci-bot"},
		Details:     map[string]interface{}{"spend": 8.5},
	})
	d.Close()

	for _, n := range []*recordingNotifier{a, b} {
		events := n.snapshot()
		if len(events) != 1 {
			t.Fatalf("notifier saw %d events, want 1", len(events))
		}
		if events[0].Kind != EventSoftBudget || events[0].Attribution.KeyAlias != "ci-bot" {
			t.Errorf("unexpected event: %+v", events[0])
		}
	}
}

func TestCloseDrainsPendingEvents(t *testing.T) {
	n := &recordingNotifier{}
	d := NewDispatcher(16, n)

	for i := 0; i < 10; i++ {
		d.Dispatch(Event{Kind: EventCooldown})
	}
	d.Close()

	if got := len(n.snapshot()); got != 10 {
		t.Errorf("delivered %d events after Close, want 10", got)
	}
}

func TestDispatchNeverBlocksOnFullQueue(t *testing.T) {
	blocker := &blockingNotifier{release: make(chan struct{})}
	d := NewDispatcher(1, blocker)

	done := make(chan struct{})
	go func() {
		// Far more events than the queue holds; extras are dropped.
		for i := 0; i < 50; i++ {
			d.Dispatch(Event{Kind: EventFlushFailure})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}

	close(blocker.release)
	d.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	d := NewDispatcher(4, NoopNotifier{})
	d.Close()
	d.Close()
}
