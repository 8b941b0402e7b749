// Package queue buffers spend log records for async batch insertion with two
// backends:
//
//  1. Memory queue (channel-based): no persistence, zero external
//     dependencies, fine for standalone deployments.
//  2. Redis queue (list-based): survives restarts and supports workers on
//     other replicas draining the same backlog.
//
// Failed batches are retried with exponential backoff and land in a
// dead-letter queue once retries are exhausted, so the accounting path never
// blocks a request and never silently drops a record.
package queue

import (
	"context"
	"errors"
	"time"

	"llmgate/internal/models"
)

var (
	// ErrQueueClosed is returned on operations against a closed queue
	ErrQueueClosed = errors.New("queue is closed")

	// ErrItemNotFound is returned when a dead letter item does not exist
	ErrItemNotFound = errors.New("item not found")
)

// Queue defines the interface for spend log buffering
type Queue interface {
	// Enqueue adds a record to the queue
	Enqueue(ctx context.Context, record models.SpendLog) error

	// DequeueWithTimeout retrieves up to maxItems records, waiting at most
	// timeout for the first one. Returns an empty slice on timeout.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]models.SpendLog, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue gracefully
	Close() error
}

// DeadLetterQueue holds records whose batch insert failed after all retries
type DeadLetterQueue interface {
	// Add stores a failed record with its error
	Add(ctx context.Context, record models.SpendLog, err error) error

	// List retrieves up to maxItems dead letter items
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove deletes an item after manual replay
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem wraps a failed record with failure metadata
type DeadLetterItem struct {
	ID        string           `json:"id"`
	Record    models.SpendLog  `json:"record"`
	Error     string           `json:"error"`
	Timestamp time.Time        `json:"timestamp"`
	Retries   int              `json:"retries"`
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of records per insert batch
	BatchSize int

	// BatchTimeout is how long a worker waits before flushing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of batch retry attempts
	MaxRetries int

	// RetryBackoff is the initial backoff duration, doubled per attempt
	RetryBackoff time.Duration

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		QueueName:    queueName,
	}
}

func generateID() string {
	return time.Now().UTC().Format("20060102150405.000000")
}
