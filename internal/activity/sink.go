// Package activity records audit events for downstream consumers.
package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type Sink interface {
	Record(ctx context.Context, ev model.ActivityEvent) error
}

// Writer persists events.
type Writer interface {
	InsertEvents(ctx context.Context, events []model.ActivityEvent) error
}

// LoggingSink writes events through a Writer and mirrors them to the log.
// Write failures are logged and swallowed; audit never fails a business
// operation.
type LoggingSink struct {
	w   Writer
	log *zap.Logger
	Now func() time.Time
}

func NewLoggingSink(w Writer, log *zap.Logger) *LoggingSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingSink{w: w, log: log, Now: time.Now}
}

func (s *LoggingSink) Record(ctx context.Context, ev model.ActivityEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.Now().UTC()
	}
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("type", ev.Type),
		zap.Int("tenant_id", ev.TenantID),
	}
	if ev.CampaignID != 0 {
		fields = append(fields, zap.Int("campaign_id", ev.CampaignID))
	}
	if ev.RecipientID != 0 {
		fields = append(fields, zap.Int("recipient_id", ev.RecipientID))
	}
	if len(ev.Payload) > 0 {
		fields = append(fields, zap.Any("payload", ev.Payload))
	}
	s.log.Info("activity", fields...)

	if s.w == nil {
		return nil
	}
	if err := s.w.InsertEvents(ctx, []model.ActivityEvent{ev}); err != nil {
		s.log.Error("failed to persist activity event", zap.String("event_id", ev.ID), zap.Error(err))
	}
	return nil
}
