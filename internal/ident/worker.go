package ident

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/identree-go/internal/events"
	"github.com/tphakala/identree-go/internal/observability/metrics"
)

// RecomputeQueue runs categorization passes asynchronously. Producers hand
// in observation IDs without blocking; a worker pool drains them. Requests
// for an observation already waiting are coalesced, so a burst of changes
// to one observation costs one pass.
type RecomputeQueue struct {
	engine  *Engine
	queue   chan int64
	metrics *metrics.EngineMetrics

	mu      sync.Mutex
	pending map[int64]struct{}

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewRecomputeQueue creates a queue draining into the given engine and
// starts its workers.
func NewRecomputeQueue(engine *Engine, workers, bufferSize int) *RecomputeQueue {
	if workers < 1 {
		workers = 1
	}
	if bufferSize < 1 {
		bufferSize = 64
	}
	q := &RecomputeQueue{
		engine:  engine,
		queue:   make(chan int64, bufferSize),
		metrics: engine.metrics,
		pending: make(map[int64]struct{}),
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue requests a recategorization pass for the observation. Returns
// false when the request was dropped because the queue is full or shut
// down; a duplicate of a waiting request reports true without queueing.
func (q *RecomputeQueue) Enqueue(observationID int64) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	q.mu.Lock()
	if _, waiting := q.pending[observationID]; waiting {
		q.mu.Unlock()
		return true
	}
	q.pending[observationID] = struct{}{}
	depth := len(q.pending)
	q.mu.Unlock()

	select {
	case q.queue <- observationID:
		q.metrics.SetRecomputeQueueDepth(depth)
		return true
	default:
		q.forget(observationID)
		logger.Warn("recompute queue full, dropping request", "observation_id", observationID)
		return false
	}
}

func (q *RecomputeQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case observationID := <-q.queue:
			q.forget(observationID)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := q.engine.RecomputeCategories(ctx, observationID); err != nil {
				logger.Error("async recategorization failed",
					"observation_id", observationID,
					"error", err,
				)
			}
			cancel()
		}
	}
}

func (q *RecomputeQueue) forget(observationID int64) {
	q.mu.Lock()
	delete(q.pending, observationID)
	depth := len(q.pending)
	q.mu.Unlock()
	q.metrics.SetRecomputeQueueDepth(depth)
}

// Shutdown stops accepting work and waits for in-flight passes up to the
// timeout. The queue channel is never closed; producers may race a
// shutdown, so workers are stopped through the done channel alone.
func (q *RecomputeQueue) Shutdown(timeout time.Duration) error {
	q.closeOnce.Do(func() {
		close(q.done)
	})

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

// recomputeConsumer bridges the event bus to the recompute queue so every
// published identification change schedules a categorization pass.
type recomputeConsumer struct {
	queue *RecomputeQueue
}

// NewRecomputeConsumer returns an event bus consumer feeding the queue.
func NewRecomputeConsumer(queue *RecomputeQueue) events.Consumer {
	return &recomputeConsumer{queue: queue}
}

func (c *recomputeConsumer) Name() string { return "recategorizer" }

func (c *recomputeConsumer) ProcessEvent(event events.IdentificationEvent) error {
	if event.GetReason() == events.ReasonRecategorized {
		return nil
	}
	c.queue.Enqueue(event.GetObservationID())
	return nil
}

func (c *recomputeConsumer) ProcessBatch(batch []events.IdentificationEvent) error {
	for _, event := range batch {
		if err := c.ProcessEvent(event); err != nil {
			return err
		}
	}
	return nil
}

func (c *recomputeConsumer) SupportsBatching() bool { return true }
