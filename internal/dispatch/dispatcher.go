// Package dispatch hands queued outbound messages to the delivery subsystem.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/queue"
)

// Envelope is the wire format published for delivery workers.
type Envelope struct {
	Reference   string            `json:"reference"`
	TenantID    int               `json:"tenant_id"`
	MessageID   int               `json:"message_id"`
	CampaignID  int               `json:"campaign_id"`
	StepID      int               `json:"step_id"`
	RecipientID int               `json:"recipient_id"`
	Channel     model.Channel     `json:"channel"`
	To          string            `json:"to"`
	Subject     string            `json:"subject,omitempty"`
	Body        string            `json:"body"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	QueuedAt    time.Time         `json:"queued_at"`
}

// QueueDispatcher publishes envelopes on the outbound deliveries topic.
type QueueDispatcher struct {
	q     queue.Queue
	topic string
	Now   func() time.Time
}

func NewQueueDispatcher(q queue.Queue) *QueueDispatcher {
	return &QueueDispatcher{q: q, topic: queue.TopicDeliveries, Now: time.Now}
}

// Dispatch returns the hand-off reference the delivery side echoes back.
func (d *QueueDispatcher) Dispatch(ctx context.Context, msg *model.OutboundMessage) (string, error) {
	env := Envelope{
		Reference:   uuid.NewString(),
		TenantID:    msg.TenantID,
		MessageID:   msg.ID,
		CampaignID:  msg.CampaignID,
		StepID:      msg.StepID,
		RecipientID: msg.RecipientID,
		Channel:     msg.Channel,
		To:          msg.ToAddress,
		Subject:     msg.Subject,
		Body:        msg.RenderedContent,
		Metadata:    msg.Metadata,
		QueuedAt:    d.Now().UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope for message %d: %w", msg.ID, err)
	}
	if err := d.q.Publish(ctx, d.topic, payload); err != nil {
		return "", fmt.Errorf("dispatch message %d: %w", msg.ID, err)
	}
	return env.Reference, nil
}
