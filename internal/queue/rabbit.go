package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const retryHeader = "x-retry-count"

// RabbitQueue is a durable Queue over RabbitMQ. Each topic maps to a durable
// queue on the default exchange; consumers ack manually.
type RabbitQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *zap.Logger

	mu       sync.Mutex
	declared map[string]bool

	ctx    context.Context
	cancel context.CancelFunc

	MaxRetries int
	Prefetch   int
}

func DialRabbit(url string, log *zap.Logger, maxRetries int) (*RabbitQueue, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RabbitQueue{
		conn:       conn,
		ch:         ch,
		log:        log,
		declared:   map[string]bool{},
		ctx:        ctx,
		cancel:     cancel,
		MaxRetries: maxRetries,
		Prefetch:   8,
	}, nil
}

func (r *RabbitQueue) declare(topic string) error {
	if r.declared[topic] {
		return nil
	}
	_, err := r.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	r.declared[topic] = true
	return nil
}

func (r *RabbitQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.publish(topic, payload, 0)
}

func (r *RabbitQueue) publish(topic string, payload []byte, retries int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.declare(topic); err != nil {
		return err
	}
	err := r.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: int32(retries)},
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (r *RabbitQueue) Subscribe(topic string, handler Handler) error {
	r.mu.Lock()
	err := r.declare(topic)
	if err == nil {
		err = r.ch.Qos(r.Prefetch, 0, false)
	}
	var deliveries <-chan amqp.Delivery
	if err == nil {
		deliveries, err = r.ch.Consume(
			topic,
			"",
			false, // autoAck = false for reliability
			false,
			false,
			false,
			nil,
		)
	}
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	go func() {
		for d := range deliveries {
			r.handle(topic, d, handler)
		}
		r.log.Info("consumer stopped", zap.String("topic", topic))
	}()
	return nil
}

func (r *RabbitQueue) handle(topic string, d amqp.Delivery, handler Handler) {
	err := handler(r.ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retries := retryCount(d.Headers)
	if retries >= r.MaxRetries {
		r.log.Error("job permanently failed",
			zap.String("topic", topic),
			zap.Int("attempts", retries+1),
			zap.Error(err))
		// Dead-lettered if the broker has a DLX for the queue.
		_ = d.Nack(false, false)
		return
	}

	r.log.Warn("job failed, requeueing",
		zap.String("topic", topic),
		zap.Int("attempt", retries+1),
		zap.Error(err))
	if pubErr := r.publish(topic, d.Body, retries+1); pubErr != nil {
		r.log.Error("requeue failed", zap.String("topic", topic), zap.Error(pubErr))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// retryCount reads the retry header. AMQP tables decode integers as int32
// or int64 depending on the publisher.
func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return 0
}

func (r *RabbitQueue) Close() error {
	r.cancel()
	if err := r.ch.Close(); err != nil {
		r.conn.Close()
		return err
	}
	return r.conn.Close()
}
