// internal/model/campaign.go
package model

import (
	"fmt"
	"time"

	"github.com/unclebandit/campaign-engine/internal/audience"
	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return true
	}
	return false
}

type CampaignKind string

const (
	KindBroadcast CampaignKind = "broadcast"
	KindDrip      CampaignKind = "drip"
)

type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusRunning   CampaignStatus = "running"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
)

type Campaign struct {
	ID        int            `db:"id" json:"id"`
	TenantID  int            `db:"tenant_id" json:"tenant_id"`
	Name      string         `db:"name" json:"name"`
	Channel   Channel        `db:"channel" json:"channel"`
	Kind      CampaignKind   `db:"kind" json:"kind"`
	Status    CampaignStatus `db:"status" json:"status"`
	Audience  *audience.Node `db:"audience_rule" json:"audience_rule,omitempty"`
	StopRules StopRules      `db:"settings" json:"settings"`
	Steps     []Step         `json:"steps"`
	StartAt   *time.Time     `db:"start_at" json:"start_at,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

type Step struct {
	ID           int       `db:"id" json:"id"`
	CampaignID   int       `db:"campaign_id" json:"campaign_id"`
	Position     int       `db:"position" json:"position"`
	Channel      Channel   `db:"channel" json:"channel,omitempty"`
	TemplateID   int       `db:"template_id" json:"template_id"`
	Template     *Template `json:"template,omitempty"`
	DelayMinutes int       `db:"delay_minutes" json:"delay_minutes"`
	Active       bool      `db:"active" json:"active"`
}

// Template holds the raw content a step renders per recipient.
type Template struct {
	ID           int    `db:"id" json:"id"`
	TenantID     int    `db:"tenant_id" json:"tenant_id"`
	Name         string `db:"name" json:"name"`
	Subject      string `db:"subject" json:"subject,omitempty"`
	Body         string `db:"body" json:"body"`
	MediaURL     string `db:"media_url" json:"media_url,omitempty"`
	MediaCaption string `db:"media_caption" json:"media_caption,omitempty"`
	MediaType    string `db:"media_type" json:"media_type,omitempty"`
}

// StopRules is the typed form of the campaign settings column. The zero
// value disables every stop rule.
type StopRules struct {
	OptOut  bool `json:"opt_out"`
	WonLost bool `json:"won_lost"`
	Replied bool `json:"replied"`

	FatigueEnabled bool `json:"fatigue_enabled"`
	// FatigueThresholdMessages is the number of sent messages on a channel
	// after which the recipient is suppressed. Defaults to 5.
	FatigueThresholdMessages int `json:"fatigue_threshold_messages"`
	// FatigueReengagementMessages is the extra quota a reengagement journey
	// may spend on a suppressed recipient before sunset. Defaults to 1.
	FatigueReengagementMessages int  `json:"fatigue_reengagement_messages"`
	Reengagement                bool `json:"reengagement"`

	// TerminalStatuses are the recipient statuses excluded by WonLost.
	// Defaults to won and lost.
	TerminalStatuses []string `json:"terminal_statuses,omitempty"`

	AllowParallelImmediate bool `json:"allow_parallel_immediate"`
}

const (
	DefaultFatigueThreshold    = 5
	DefaultReengagementMessage = 1
)

var DefaultTerminalStatuses = []string{"won", "lost"}

// WithDefaults fills unset numeric and list settings.
func (s StopRules) WithDefaults() StopRules {
	if s.FatigueThresholdMessages <= 0 {
		s.FatigueThresholdMessages = DefaultFatigueThreshold
	}
	if s.FatigueReengagementMessages <= 0 {
		s.FatigueReengagementMessages = DefaultReengagementMessage
	}
	if len(s.TerminalStatuses) == 0 {
		s.TerminalStatuses = DefaultTerminalStatuses
	}
	return s
}

// StepChannel returns the channel a step sends on.
func (c *Campaign) StepChannel(s Step) Channel {
	if s.Channel != "" {
		return s.Channel
	}
	return c.Channel
}

func (c *Campaign) FindStep(id int) (Step, bool) {
	for _, s := range c.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// ActiveSteps returns steps that may be scheduled, in stored order.
func (c *Campaign) ActiveSteps() []Step {
	out := make([]Step, 0, len(c.Steps))
	for _, s := range c.Steps {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the structural invariants a campaign must hold before it
// can be launched.
func (c *Campaign) Validate() error {
	if !c.Channel.Valid() {
		return appErrors.NewValidation("channel", fmt.Sprintf("unsupported channel %q", c.Channel))
	}
	if c.Kind != KindBroadcast && c.Kind != KindDrip {
		return appErrors.NewValidation("kind", fmt.Sprintf("unsupported kind %q", c.Kind))
	}

	positions := make(map[int]bool, len(c.Steps))
	immediate := 0
	for _, s := range c.Steps {
		if positions[s.Position] {
			return appErrors.NewValidation("steps", fmt.Sprintf("duplicate position %d", s.Position))
		}
		positions[s.Position] = true
		if s.DelayMinutes < 0 {
			return appErrors.NewValidation("steps", fmt.Sprintf("step %d has negative delay", s.ID))
		}
		if s.Channel != "" && !s.Channel.Valid() {
			return appErrors.NewValidation("steps", fmt.Sprintf("step %d has unsupported channel %q", s.ID, s.Channel))
		}
		if s.Active && s.DelayMinutes == 0 {
			immediate++
		}
	}

	active := c.ActiveSteps()
	if len(active) == 0 {
		return appErrors.NewValidation("steps", "campaign has no active steps")
	}
	switch c.Kind {
	case KindBroadcast:
		if len(active) != 1 || active[0].DelayMinutes != 0 {
			return appErrors.NewValidation("steps", "broadcast campaign needs exactly one active step with delay 0")
		}
	case KindDrip:
		if immediate > 1 && !c.StopRules.AllowParallelImmediate {
			return appErrors.NewValidation("steps", "only one step may run at delay 0")
		}
	}
	return nil
}
