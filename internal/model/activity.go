package model

import "time"

// Activity event types.
const (
	EventFatigueSuppressed   = "fatigue.suppressed"
	EventFatigueSunset       = "fatigue.sunset"
	EventFatigueReengagement = "fatigue.reengagement"
	EventFatigueReengaged    = "fatigue.reengaged"
	EventFatigueReset        = "fatigue.reset"
	EventGenerationCompleted = "generation.completed"
	EventCampaignLaunched    = "campaign.launched"
	EventCampaignCompleted   = "campaign.completed"
)

// ActivityEvent is a structured audit record for downstream consumers.
type ActivityEvent struct {
	ID          string         `db:"id" json:"id"`
	TenantID    int            `db:"tenant_id" json:"tenant_id"`
	Type        string         `db:"type" json:"type"`
	CampaignID  int            `db:"campaign_id" json:"campaign_id,omitempty"`
	RecipientID int            `db:"recipient_id" json:"recipient_id,omitempty"`
	Channel     Channel        `db:"channel" json:"channel,omitempty"`
	Payload     map[string]any `db:"payload" json:"payload,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}
