package dispatch_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-engine/internal/dispatch"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/queue"
)

func TestMockSenderAnswersWithReceipt(t *testing.T) {
	envelope, err := json.Marshal(dispatch.Envelope{Reference: "ref-1", TenantID: 1, MessageID: 42, Channel: model.ChannelSMS, To: "+1"})
	require.NoError(t, err)

	cases := []struct {
		roll float64
		want model.MessageStatus
	}{
		{0.1, model.MessageSent},
		{0.95, model.MessageFailed},
	}
	for _, tc := range cases {
		q := &captureQueue{}
		s := dispatch.NewMockSender(q, 0.9, nil)
		s.Roll = func() float64 { return tc.roll }

		require.NoError(t, s.Handle(context.Background(), envelope))
		assert.Equal(t, queue.TopicReceipts, q.topic)

		var rc model.DeliveryReceipt
		require.NoError(t, json.Unmarshal(q.payload, &rc))
		assert.Equal(t, tc.want, rc.Status)
		assert.Equal(t, 42, rc.MessageID)
		assert.Equal(t, 1, rc.TenantID)
	}
}

func TestMockSenderDropsGarbage(t *testing.T) {
	q := &captureQueue{}
	s := dispatch.NewMockSender(q, 1, nil)
	assert.NoError(t, s.Handle(context.Background(), []byte("{")))
	assert.Empty(t, q.topic)
}
