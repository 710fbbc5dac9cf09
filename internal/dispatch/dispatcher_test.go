package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-engine/internal/dispatch"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/queue"
)

type captureQueue struct {
	topic   string
	payload []byte
	err     error
}

func (c *captureQueue) Publish(_ context.Context, topic string, payload []byte) error {
	c.topic, c.payload = topic, payload
	return c.err
}

func (c *captureQueue) Subscribe(string, queue.Handler) error { return nil }

func TestDispatchPublishesEnvelope(t *testing.T) {
	q := &captureQueue{}
	d := dispatch.NewQueueDispatcher(q)
	d.Now = func() time.Time { return time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC) }

	ref, err := d.Dispatch(context.Background(), &model.OutboundMessage{
		ID: 42, TenantID: 1, CampaignID: 7, StepID: 70, RecipientID: 3,
		Channel: model.ChannelWhatsApp, ToAddress: "+966500000000",
		RenderedContent: "hi", Metadata: map[string]string{model.MetaMediaURL: "https://cdn/x.png"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.Equal(t, queue.TopicDeliveries, q.topic)

	var env dispatch.Envelope
	require.NoError(t, json.Unmarshal(q.payload, &env))
	assert.Equal(t, ref, env.Reference)
	assert.Equal(t, 42, env.MessageID)
	assert.Equal(t, "+966500000000", env.To)
	assert.Equal(t, "https://cdn/x.png", env.Metadata[model.MetaMediaURL])
	assert.Equal(t, 2026, env.QueuedAt.Year())
}

func TestDispatchPublishError(t *testing.T) {
	boom := errors.New("channel closed")
	_, err := dispatch.NewQueueDispatcher(&captureQueue{err: boom}).Dispatch(context.Background(), &model.OutboundMessage{ID: 1})
	assert.ErrorIs(t, err, boom)
}
