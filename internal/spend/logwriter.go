package spend

import (
	"context"
	"fmt"
	"time"

	"llmgate/internal/models"
	"llmgate/internal/queue"
	"llmgate/internal/storage"
	"llmgate/internal/utils"
)

// LogSink receives every persisted spend log record; used for the optional
// object-store archive.
type LogSink interface {
	Write(record models.SpendLog)
}

// LogWriter is the independent observability path: one immutable spend log
// record per completed call, batched through a queue into the store. It is
// never part of enforcement and can be disabled entirely via config.
type LogWriter struct {
	queue  queue.Queue
	dlq    queue.DeadLetterQueue
	repo   *storage.SpendRepository
	sink   LogSink // optional
	config *queue.Config
	logger *utils.Logger

	enabled     bool
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewLogWriter creates a spend log writer
func NewLogWriter(enabled bool, q queue.Queue, dlq queue.DeadLetterQueue, repo *storage.SpendRepository, sink LogSink, config *queue.Config) *LogWriter {
	if config == nil {
		config = queue.DefaultConfig("spend-logs")
	}
	return &LogWriter{
		queue:       q,
		dlq:         dlq,
		repo:        repo,
		sink:        sink,
		config:      config,
		logger:      utils.NewLogger("spend-log-writer"),
		enabled:     enabled,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine. No-op when disabled.
func (w *LogWriter) Start(ctx context.Context) {
	if !w.enabled {
		close(w.stoppedChan)
		return
	}
	go w.run(ctx)
}

// Stop gracefully stops the worker after draining in-flight batches
func (w *LogWriter) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue adds a spend log record. Dropped silently when the path is
// disabled; enqueue failures are logged, never surfaced to the caller.
func (w *LogWriter) Enqueue(ctx context.Context, record models.SpendLog) {
	if !w.enabled {
		return
	}
	if err := w.queue.Enqueue(ctx, record); err != nil {
		w.logger.Error("failed to enqueue spend log", "request_id", record.RequestID, "error", err)
	}
}

func (w *LogWriter) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			// Drain whatever is already queued before exiting.
			w.processBatch(ctx)
			w.logger.Info("spend log worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("spend log worker context cancelled")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

func (w *LogWriter) processBatch(ctx context.Context) {
	records, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if err != queue.ErrQueueClosed && ctx.Err() == nil {
			w.logger.Error("failed to dequeue spend logs", "error", err)
			time.Sleep(1 * time.Second) // Back off on error
		}
		return
	}
	if len(records) == 0 {
		return
	}

	w.logger.Debug("processing spend log batch", "count", len(records))

	if err := w.insertWithRetries(ctx, records); err != nil {
		w.logger.Error("batch insert exhausted retries, moving to DLQ",
			"count", len(records), "error", err)
		for _, record := range records {
			if w.dlq == nil {
				continue
			}
			if dlqErr := w.dlq.Add(ctx, record, err); dlqErr != nil {
				w.logger.Error("failed to add to dead letter queue",
					"request_id", record.RequestID, "error", dlqErr)
			}
		}
		return
	}

	if w.sink != nil {
		for _, record := range records {
			w.sink.Write(record)
		}
	}
}

func (w *LogWriter) insertWithRetries(ctx context.Context, records []models.SpendLog) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("retrying spend log batch", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}
		if err := w.repo.InsertLogs(ctx, records); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// QueueLength returns the current queue backlog
func (w *LogWriter) QueueLength(ctx context.Context) (int, error) {
	if !w.enabled {
		return 0, nil
	}
	return w.queue.Length(ctx)
}

// RetryDeadLetterItem re-enqueues one DLQ record by id
func (w *LogWriter) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}
	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}
	for _, dlItem := range items {
		if dlItem.ID == id {
			if err := w.queue.Enqueue(ctx, dlItem.Record); err != nil {
				return fmt.Errorf("failed to re-enqueue item: %w", err)
			}
			if err := w.dlq.Remove(ctx, id); err != nil {
				return fmt.Errorf("failed to remove from DLQ: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("item not found in dead letter queue")
}
