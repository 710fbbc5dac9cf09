package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Topics used by the engine.
const (
	TopicGeneration = "campaign_generation"
	TopicDeliveries = "outbound_deliveries"
	TopicReceipts   = "delivery_receipts"
)

// Handler processes one message. A non-nil error asks the queue to redeliver.
type Handler func(ctx context.Context, payload []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler Handler) error
}

// InMemoryQueue is an in-process queue with retry
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	wg       sync.WaitGroup
	log      *zap.Logger

	MaxRetries int
	// Backoff returns the pause before retry n (1-based).
	Backoff func(n int) time.Duration
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log *zap.Logger, maxRetries int) *InMemoryQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		log:        log,
		MaxRetries: maxRetries,
		Backoff:    func(n int) time.Duration { return time.Duration(n*500) * time.Millisecond },
	}
}

// job wraps a message payload with retry info
type job struct {
	topic      string
	payload    []byte
	retryCount int
}

// Publish sends a message to all subscribers of topic
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	handlers := append([]Handler(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	// Handlers outlive the publishing request.
	ctx = context.WithoutCancel(ctx)
	for _, h := range handlers {
		q.wg.Add(1)
		body := append([]byte(nil), payload...)
		go q.process(ctx, h, job{topic: topic, payload: body})
	}
	return nil
}

// process handles retries and errors
func (q *InMemoryQueue) process(ctx context.Context, handler Handler, j job) {
	defer q.wg.Done()
	for {
		err := handler(ctx, j.payload)
		if err == nil {
			return
		}

		j.retryCount++
		if j.retryCount > q.MaxRetries {
			q.log.Error("job permanently failed",
				zap.String("topic", j.topic),
				zap.Int("attempts", j.retryCount),
				zap.Error(err))
			return
		}
		q.log.Warn("job failed, retrying",
			zap.String("topic", j.topic),
			zap.Int("attempt", j.retryCount),
			zap.Int("max_retries", q.MaxRetries),
			zap.Error(err))

		time.Sleep(q.Backoff(j.retryCount))
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished or given up.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}
