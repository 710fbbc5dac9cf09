package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/queue"
)

// MockSender stands in for the delivery subsystem in local runs. It consumes
// envelopes and answers each with a sent or failed receipt.
type MockSender struct {
	q       queue.Queue
	log     *zap.Logger
	success float64

	// Roll returns a number in [0,1); a roll below the success rate sends.
	Roll func() float64
}

func NewMockSender(q queue.Queue, successRate float64, log *zap.Logger) *MockSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &MockSender{q: q, log: log, success: successRate, Roll: rand.Float64}
}

// Start subscribes the sender to the deliveries topic.
func (s *MockSender) Start() error {
	return s.q.Subscribe(queue.TopicDeliveries, s.Handle)
}

func (s *MockSender) Handle(ctx context.Context, payload []byte) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.log.Warn("dropping malformed envelope", zap.Error(err))
		return nil
	}

	rc := model.DeliveryReceipt{
		TenantID:          env.TenantID,
		MessageID:         env.MessageID,
		Status:            model.MessageSent,
		ProviderMessageID: "mock-" + env.Reference,
	}
	if s.Roll() >= s.success {
		rc.Status = model.MessageFailed
		rc.ProviderMessageID = ""
		rc.Error = "mock sending failed"
	}
	s.log.Info("mock send",
		zap.Int("message_id", env.MessageID),
		zap.String("channel", string(env.Channel)),
		zap.String("to", env.To),
		zap.String("status", string(rc.Status)))

	body, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("encode receipt for message %d: %w", env.MessageID, err)
	}
	return s.q.Publish(ctx, queue.TopicReceipts, body)
}
