// Package alerting delivers soft-budget and operational notifications off the
// request path. Dispatch is fire-and-forget: a full queue drops the event
// rather than slowing down admission.
package alerting

import (
	"sync"

	"llmgate/internal/models"
	"llmgate/internal/utils"
)

// Event kinds
const (
	EventSoftBudget    = "soft_budget_crossed"
	EventBudgetCrossed = "budget_crossed"
	EventCooldown      = "deployment_cooldown"
	EventFlushFailure  = "spend_flush_failure"
)

// Event is one alert occurrence with its attribution context
type Event struct {
	Kind        string
	Attribution models.Attribution
	Details     map[string]interface{}
}

// Notifier receives alert events
type Notifier interface {
	Notify(event Event)
}

// Dispatcher fans events out to notifiers on a background goroutine
type Dispatcher struct {
	notifiers []Notifier
	events    chan Event
	logger    *utils.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher creates a dispatcher with a bounded event queue
func NewDispatcher(queueSize int, notifiers ...Notifier) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		notifiers: notifiers,
		events:    make(chan Event, queueSize),
		logger:    utils.NewLogger("alerting"),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.events {
		for _, n := range d.notifiers {
			n.Notify(event)
		}
	}
}

// Dispatch enqueues an event without blocking. Events are dropped when the
// queue is full.
func (d *Dispatcher) Dispatch(event Event) {
	select {
	case d.events <- event:
	default:
		d.logger.Warn("alert event dropped, queue full", "kind", event.Kind)
	}
}

// Close drains pending events and stops the dispatcher
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.events)
	})
	<-d.done
}

// LogNotifier writes alert events to the structured log
type LogNotifier struct {
	logger *utils.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: utils.NewLogger("alerts")}
}

// Notify logs the event
func (n *LogNotifier) Notify(event Event) {
	keyvals := []interface{}{"kind", event.Kind, "key_alias", event.Attribution.KeyAlias}
	for k, v := range event.Details {
		keyvals = append(keyvals, k, v)
	}
	n.logger.Warn("alert", keyvals...)
}

// NoopNotifier discards events
type NoopNotifier struct{}

// Notify discards the event
func (NoopNotifier) Notify(Event) {}
