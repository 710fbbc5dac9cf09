package fatigue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

// LedgerFunc mutates a loaded ledger in place. It reports whether the ledger
// changed and which audit events must be written with it.
type LedgerFunc func(ledger model.FatigueLedger) (changed bool, events []model.ActivityEvent, err error)

// Store persists ledgers. UpdateLedger must serialize calls per
// (tenant, recipient) and commit the ledger and its events atomically.
type Store interface {
	UpdateLedger(ctx context.Context, tenantID, recipientID int, fn LedgerFunc) error
}

// Key identifies one ledger record.
type Key struct {
	TenantID    int
	RecipientID int
	Channel     model.Channel
}

type Service struct {
	store Store
	log   *zap.Logger
	Now   func() time.Time
}

func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, Now: time.Now}
}

// Check applies pending threshold transitions and decides whether a send for
// campaignID may proceed. It does not spend reengagement quota.
func (s *Service) Check(ctx context.Context, key Key, campaignID int, p Policy, reengagement bool) (Verdict, error) {
	var verdict Verdict
	err := s.apply(ctx, key, campaignID, p, func(cf model.ChannelFatigue, now time.Time) (model.ChannelFatigue, []Transition, error) {
		next, trans := Advance(cf, Event{Kind: EventEvaluate, Reengagement: reengagement}, p, now)
		verdict = Decide(next, p, reengagement)
		return next, trans, nil
	})
	return verdict, err
}

// ConsumeReengagement spends one unit of quota for a reengagement send. It
// returns ErrQuotaExhausted if a concurrent send already used the last unit.
func (s *Service) ConsumeReengagement(ctx context.Context, key Key, campaignID int, p Policy) error {
	return s.apply(ctx, key, campaignID, p, func(cf model.ChannelFatigue, now time.Time) (model.ChannelFatigue, []Transition, error) {
		next, trans := Advance(cf, Event{Kind: EventEvaluate, Reengagement: true}, p, now)
		if v := Decide(next, p, true); !v.Allowed || !v.Reengagement {
			return next, trans, appErrors.ErrQuotaExhausted
		}
		next, more := Advance(next, Event{Kind: EventReengagementSend}, p, now)
		return next, append(trans, more...), nil
	})
}

// RefundReengagement gives back the quota unit of a reengagement send whose
// dispatch failed.
func (s *Service) RefundReengagement(ctx context.Context, key Key, campaignID int, p Policy) error {
	return s.advance(ctx, key, campaignID, p, Event{Kind: EventReengagementRefund})
}

// RecordSent counts a confirmed sent delivery toward the channel threshold.
func (s *Service) RecordSent(ctx context.Context, key Key, campaignID int, p Policy) error {
	return s.advance(ctx, key, campaignID, p, Event{Kind: EventSent})
}

// Reengage returns a suppressed channel to active after the recipient
// engaged again. Sunset channels are left alone.
func (s *Service) Reengage(ctx context.Context, key Key) error {
	return s.advance(ctx, key, 0, Policy{}, Event{Kind: EventReengaged})
}

// Reset clears the channel record, including sunset.
func (s *Service) Reset(ctx context.Context, key Key) error {
	return s.advance(ctx, key, 0, Policy{}, Event{Kind: EventReset})
}

func (s *Service) advance(ctx context.Context, key Key, campaignID int, p Policy, ev Event) error {
	return s.apply(ctx, key, campaignID, p, func(cf model.ChannelFatigue, now time.Time) (model.ChannelFatigue, []Transition, error) {
		next, trans := Advance(cf, ev, p, now)
		return next, trans, nil
	})
}

type stepFunc func(cf model.ChannelFatigue, now time.Time) (model.ChannelFatigue, []Transition, error)

// apply runs step under the store's per-recipient serialization. The ledger
// and events are written even when step returns an error, so a sunset found
// while losing a quota race is still recorded.
func (s *Service) apply(ctx context.Context, key Key, campaignID int, p Policy, step stepFunc) error {
	var stepErr error
	err := s.store.UpdateLedger(ctx, key.TenantID, key.RecipientID, func(ledger model.FatigueLedger) (bool, []model.ActivityEvent, error) {
		now := s.Now()
		cur := ledger.Channel(key.Channel)
		next, trans, err := step(cur, now)
		stepErr = err
		if next == cur {
			return false, nil, nil
		}
		ledger[key.Channel] = next
		events := make([]model.ActivityEvent, 0, len(trans))
		for _, t := range trans {
			events = append(events, s.event(key, campaignID, p, t, next, now))
			s.log.Info("fatigue transition",
				zap.Int("tenant_id", key.TenantID),
				zap.Int("recipient_id", key.RecipientID),
				zap.String("channel", string(key.Channel)),
				zap.String("from", string(t.From)),
				zap.String("to", string(t.To)),
				zap.Int("sent_count", next.SentCount))
		}
		return true, events, nil
	})
	if err != nil {
		return fmt.Errorf("update fatigue ledger: %w", err)
	}
	return stepErr
}

func (s *Service) event(key Key, campaignID int, p Policy, t Transition, cf model.ChannelFatigue, now time.Time) model.ActivityEvent {
	return model.ActivityEvent{
		ID:          uuid.NewString(),
		TenantID:    key.TenantID,
		Type:        eventType(t),
		CampaignID:  campaignID,
		RecipientID: key.RecipientID,
		Channel:     key.Channel,
		Payload: map[string]any{
			"from":              string(t.From),
			"to":                string(t.To),
			"sent_count":        cf.SentCount,
			"reengagement_used": cf.ReengagementUsed,
			"threshold":         p.Threshold,
			"reengagement_max":  p.ReengagementQuota,
		},
		CreatedAt: now.UTC(),
	}
}

func eventType(t Transition) string {
	switch {
	case t.Cause == EventReset:
		return model.EventFatigueReset
	case t.To == model.FatigueSuppressed:
		return model.EventFatigueSuppressed
	case t.To == model.FatigueSunset:
		return model.EventFatigueSunset
	case t.To == model.FatigueReengagement:
		return model.EventFatigueReengagement
	}
	return model.EventFatigueReengaged
}
