package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sd_backend/core"
)

// DefaultQueueCapacity is the buffered record count before Record
// starts dropping.
const DefaultQueueCapacity = 100

// Recorder queues generation records and writes them to the Store
// from a background goroutine, so a slow disk never adds latency to a
// generation response. When the queue is full the record is dropped
// with a warning; history is an observability aid, not a ledger.
type Recorder struct {
	store  *Store
	logger *zap.Logger

	queue  chan core.GenerationRecord
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewRecorder starts the background writer.
func NewRecorder(store *Store, capacity int, logger *zap.Logger) *Recorder {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		store:  store,
		logger: logger,
		queue:  make(chan core.GenerationRecord, capacity),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for record := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.Save(ctx, record); err != nil {
			r.logger.Warn("history write failed",
				zap.String("correlation_id", record.CorrelationID),
				zap.Error(err))
		}
		cancel()
	}
}

// Record queues a record without blocking. Returns false when the
// queue is full or the recorder is closed.
func (r *Recorder) Record(record core.GenerationRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	select {
	case r.queue <- record:
		return true
	default:
		r.logger.Warn("history queue full, dropping record",
			zap.String("operation", record.Operation))
		return false
	}
}

// Close stops accepting records and drains the queue before
// returning. Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}
