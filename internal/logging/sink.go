// Package logging archives spend log records to object storage, independent
// of the durable store insert path.
package logging

import (
	"context"
	"sync"
	"time"

	"llmgate/internal/models"
	"llmgate/internal/utils"
)

// Uploader persists one batch of records, returning the destination key.
type Uploader interface {
	WriteBatch(ctx context.Context, records []models.SpendLog) (string, error)
}

// Config holds archive sink settings
type Config struct {
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
}

// ArchiveSink buffers spend log records and uploads them in JSONL batches.
// Write never blocks the caller: a full buffer drops the record, the durable
// store copy is unaffected.
type ArchiveSink struct {
	uploader Uploader
	cfg      Config
	logger   *utils.Logger

	records  chan models.SpendLog
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewArchiveSink creates and starts an archive sink
func NewArchiveSink(uploader Uploader, cfg Config) *ArchiveSink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Minute
	}
	s := &ArchiveSink{
		uploader: uploader,
		cfg:      cfg,
		logger:   utils.NewLogger("archive-sink"),
		records:  make(chan models.SpendLog, cfg.BufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Write buffers one record for archiving, dropping when the buffer is full.
func (s *ArchiveSink) Write(record models.SpendLog) {
	select {
	case s.records <- record:
	default:
		s.logger.Warn("archive buffer full, record dropped", "request_id", record.RequestID)
	}
}

func (s *ArchiveSink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]models.SpendLog, 0, s.cfg.FlushSize)
	for {
		select {
		case record := <-s.records:
			batch = append(batch, record)
			if len(batch) >= s.cfg.FlushSize {
				batch = s.upload(batch)
			}
		case <-ticker.C:
			batch = s.upload(batch)
		case <-s.stop:
			// Drain the buffer before the final upload.
			for {
				select {
				case record := <-s.records:
					batch = append(batch, record)
					continue
				default:
				}
				break
			}
			s.upload(batch)
			return
		}
	}
}

func (s *ArchiveSink) upload(batch []models.SpendLog) []models.SpendLog {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.uploader.WriteBatch(ctx, batch); err != nil {
		// Keep the batch for the next tick unless it has grown unbounded.
		s.logger.Error("archive upload failed", "count", len(batch), "error", err)
		if len(batch) < s.cfg.FlushSize*10 {
			return batch
		}
		s.logger.Error("archive batch dropped after repeated failures", "count", len(batch))
	}
	return batch[:0]
}

// Close flushes the remaining buffer and stops the sink
func (s *ArchiveSink) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}
