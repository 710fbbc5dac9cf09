package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/fatigue"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

// DeliveryService applies status receipts from the delivery subsystem.
type DeliveryService struct {
	Messages  repository.OutboundMessageRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Fatigue   *fatigue.Service
	Log       *zap.Logger
}

func NewDeliveryService(messages repository.OutboundMessageRepositoryInterface, campaigns repository.CampaignRepositoryInterface, fatigueSvc *fatigue.Service, log *zap.Logger) *DeliveryService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeliveryService{Messages: messages, Campaigns: campaigns, Fatigue: fatigueSvc, Log: log}
}

const maxReceiptAttempts = 3

// HandleReceipt moves the message forward. Duplicate and stale receipts are
// no-ops. The first transition into a delivered state counts toward the
// channel's fatigue threshold; failures never count.
func (s *DeliveryService) HandleReceipt(ctx context.Context, rc model.DeliveryReceipt) error {
	if rc.Status.Rank() < 1 && rc.Status != model.MessageFailed {
		s.Log.Warn("ignoring receipt with unsupported status",
			zap.Int("message_id", rc.MessageID), zap.String("status", string(rc.Status)))
		return nil
	}

	for attempt := 0; attempt < maxReceiptAttempts; attempt++ {
		msg, err := s.Messages.GetByID(ctx, rc.TenantID, rc.MessageID)
		if err != nil {
			if appErrors.IsNotFound(err) {
				s.Log.Warn("receipt for unknown message", zap.Int("tenant_id", rc.TenantID), zap.Int("message_id", rc.MessageID))
				return nil
			}
			return err
		}
		if !applies(msg, rc.Status) {
			return nil
		}

		// Counting happens before the write. A crash in between over-counts,
		// which suppresses early rather than over-sending.
		if rc.Status.Delivered() && !msg.Status.Delivered() {
			if err := s.countSent(ctx, msg); err != nil {
				return err
			}
		}

		ok, err := s.Messages.UpdateStatus(ctx, rc.TenantID, msg.ID, msg.Status, rc.Status, rc.ProviderMessageID, rc.Error)
		if err != nil {
			return err
		}
		if ok {
			s.Log.Info("message status updated",
				zap.Int("message_id", msg.ID),
				zap.String("from", string(msg.Status)),
				zap.String("to", string(rc.Status)))
			return nil
		}
	}
	return fmt.Errorf("message %d changed concurrently %d times", rc.MessageID, maxReceiptAttempts)
}

func applies(msg *model.OutboundMessage, to model.MessageStatus) bool {
	if msg.Direction != model.DirectionOutbound {
		return false
	}
	switch msg.Status {
	case model.MessageFailed, model.MessageCancelled:
		return false
	}
	if to == model.MessageFailed {
		// A provider may reject after accepting; a delivered message stays.
		return msg.Status == model.MessageQueued || msg.Status == model.MessageSent
	}
	return to.Rank() > msg.Status.Rank()
}

// countSent counts every send on the channel, whatever the fatigue rules of
// the sending campaign. Its policy only decides whether this send suppresses
// at once; other campaigns apply their threshold on evaluation.
func (s *DeliveryService) countSent(ctx context.Context, msg *model.OutboundMessage) error {
	var p fatigue.Policy
	c, err := s.Campaigns.GetByID(ctx, msg.TenantID, msg.CampaignID)
	switch {
	case err == nil:
		p = fatigue.PolicyFor(c.StopRules)
	case !appErrors.IsNotFound(err):
		return err
	}
	key := fatigue.Key{TenantID: msg.TenantID, RecipientID: msg.RecipientID, Channel: msg.Channel}
	err = s.Fatigue.RecordSent(ctx, key, msg.CampaignID, p)
	var gone *appErrors.ErrRecipientNotFound
	if errors.As(err, &gone) {
		s.Log.Warn("receipt for deleted recipient", zap.Int("message_id", msg.ID), zap.Int("recipient_id", msg.RecipientID))
		return nil
	}
	return err
}

// Subscribe consumes receipts from the queue. Malformed payloads are
// dropped.
func (s *DeliveryService) Subscribe(q queue.Queue) error {
	return q.Subscribe(queue.TopicReceipts, func(ctx context.Context, payload []byte) error {
		var rc model.DeliveryReceipt
		if err := json.Unmarshal(payload, &rc); err != nil {
			s.Log.Warn("dropping malformed receipt", zap.Error(err))
			return nil
		}
		err := s.HandleReceipt(ctx, rc)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.Log.Warn("receipt handling failed", zap.Int("message_id", rc.MessageID), zap.Error(err))
		}
		return err
	})
}
