package spend

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"llmgate/internal/alerting"
	"llmgate/internal/cache"
	"llmgate/internal/models"
	"llmgate/internal/storage"
	"llmgate/internal/utils"
)

// Config holds spend writer settings
type Config struct {
	// FlushInterval is the nominal tick; each tick is jittered +/-30% so
	// replicas don't flush in lockstep against the store.
	FlushInterval time.Duration
}

// Writer turns completed-call costs into durable spend updates off the
// request path. Record is cheap and synchronous-cache-only; the durable
// flush happens on a background tick.
type Writer struct {
	cfg    Config
	acc    *Accumulator
	repo   *storage.SpendRepository
	cache  *cache.HybridCache
	alerts *alerting.Dispatcher
	logger *utils.Logger

	cacheTTL time.Duration

	failures int
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWriter creates a spend writer
func NewWriter(cfg Config, repo *storage.SpendRepository, c *cache.HybridCache, cacheTTL time.Duration, alerts *alerting.Dispatcher) *Writer {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	return &Writer{
		cfg:      cfg,
		acc:      NewAccumulator(),
		repo:     repo,
		cache:    c,
		alerts:   alerts,
		logger:   utils.NewLogger("spend-writer"),
		cacheTTL: cacheTTL,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background flush loop
func (w *Writer) Start() {
	go w.run()
}

// Record accounts one completed call: accumulates the delta for the durable
// flush and immediately refreshes the cached spend for the key and user so
// the very next request enforces against the new figure.
func (w *Writer) Record(ctx context.Context, attr models.Attribution, model string, cost float64, priorKeySpend, priorUserSpend float64) {
	if cost <= 0 {
		return
	}
	w.acc.Add(attr, model, cost)

	if attr.TokenHash != "" {
		pending := w.acc.PendingKeySpend(attr.TokenHash)
		w.cache.Set(ctx, "spend:key:"+attr.TokenHash, priorKeySpend+pending, w.cacheTTL)
	}
	if attr.UserID != nil {
		w.cache.Set(ctx, "spend:user:"+*attr.UserID, priorUserSpend+cost, w.cacheTTL)
	}
}

func (w *Writer) run() {
	defer close(w.done)

	for {
		select {
		case <-time.After(w.jitteredInterval()):
			w.flush(context.Background())
			w.resetBudgets(context.Background())
		case <-w.stop:
			return
		}
	}
}

// jitteredInterval spreads ticks across 70%..130% of the nominal interval.
func (w *Writer) jitteredInterval() time.Duration {
	base := float64(w.cfg.FlushInterval)
	factor := 0.7 + rand.Float64()*0.6
	return time.Duration(base * factor)
}

// flush drains the accumulator and applies the batch to the store. On
// failure the batch is merged back and retried next tick; a delta is never
// dropped.
func (w *Writer) flush(ctx context.Context) {
	batch := w.acc.Drain()
	if batch.Empty() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := w.repo.ApplyDeltas(ctx, &batch); err != nil {
		w.acc.MergeBack(batch)
		w.failures++
		w.logger.Error("spend flush failed, deltas retained for retry",
			"error", err, "consecutive_failures", w.failures)
		if w.failures >= 3 && w.alerts != nil {
			w.alerts.Dispatch(alerting.Event{
				Kind: alerting.EventFlushFailure,
				Details: map[string]interface{}{
					"consecutive_failures": w.failures,
					"error":                err.Error(),
				},
			})
		}
		return
	}

	if w.failures > 0 {
		w.logger.Info("spend flush recovered", "after_failures", w.failures)
		w.failures = 0
	}
	w.logger.Debug("spend flush applied",
		"keys", len(batch.Keys), "teams", len(batch.Teams), "global", batch.Global)
}

// resetBudgets re-arms elapsed budget windows on the flush cadence.
func (w *Writer) resetBudgets(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := w.repo.ResetElapsedBudgets(ctx, time.Now())
	if err != nil {
		w.logger.Warn("budget reset pass failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("budget windows reset", "count", n)
	}
}

// Shutdown stops the loop and performs one final flush so no accumulated
// spend is lost on graceful exit.
func (w *Writer) Shutdown(ctx context.Context) {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
	w.flush(ctx)
}
