package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/unclebandit/campaign-engine/internal/fatigue"
	"github.com/unclebandit/campaign-engine/internal/model"
)

// Every read and write is scoped by tenant id. The poller's ClaimDue is the
// one cross-tenant query; the tasks it returns carry their tenant.

type CampaignRepositoryInterface interface {
	// GetByID loads the campaign with its steps and their templates.
	GetByID(ctx context.Context, tenantID, id int) (*model.Campaign, error)
	// ListCampaigns returns campaigns without steps, newest first, and the
	// total matching count. Empty filters match everything.
	ListCampaigns(ctx context.Context, tenantID, offset, limit int, channel, status string) ([]*model.Campaign, int, error)
	Create(ctx context.Context, c *model.Campaign) error
	CreateTemplate(ctx context.Context, t *model.Template) error
	// TransitionStatus moves the campaign to `to` only if it is currently in
	// one of `from`. startAt is written when non-nil.
	TransitionStatus(ctx context.Context, tenantID, id int, from []model.CampaignStatus, to model.CampaignStatus, startAt *time.Time) (bool, error)
}

type RecipientRepositoryInterface interface {
	GetByID(ctx context.Context, tenantID, id int) (*model.Recipient, error)
	// ListPage returns recipients with id > afterID in id order.
	ListPage(ctx context.Context, tenantID, afterID, limit int) ([]*model.Recipient, error)
	Create(ctx context.Context, r *model.Recipient) error
	HasConsent(ctx context.Context, tenantID int, r *model.Recipient, ch model.Channel) (bool, error)
	fatigue.Store
}

type OutboundMessageRepositoryInterface interface {
	// CreateQueued inserts a queued outbound message. It returns false when
	// an active message already exists for the campaign step and recipient.
	CreateQueued(ctx context.Context, msg *model.OutboundMessage) (bool, error)
	CreateInbound(ctx context.Context, msg *model.OutboundMessage) error
	GetByID(ctx context.Context, tenantID, id int) (*model.OutboundMessage, error)
	HasActive(ctx context.Context, tenantID, campaignID, stepID, recipientID int) (bool, error)
	HasInbound(ctx context.Context, tenantID, campaignID, recipientID int) (bool, error)
	MarkDispatched(ctx context.Context, tenantID, id int, reference string) error
	// UpdateStatus is a compare-and-set on the current status.
	UpdateStatus(ctx context.Context, tenantID, id int, from, to model.MessageStatus, providerID, lastError string) (bool, error)
	Stats(ctx context.Context, tenantID, campaignID int) (map[string]int, error)
}

type TaskRepositoryInterface interface {
	// InsertTasks ignores tasks whose (campaign, step) already exists, sets
	// each task's ID in place and returns how many were new.
	InsertTasks(ctx context.Context, tasks []model.GenerationTask) (int, error)
	// ClaimDue marks due pending tasks of running campaigns as dispatched.
	// Tasks dispatched before now-visibility are claimed again.
	ClaimDue(ctx context.Context, now time.Time, visibility time.Duration, limit int) ([]model.GenerationTask, error)
	MarkDone(ctx context.Context, tenantID, id int, at time.Time) error
	Release(ctx context.Context, tenantID, id int) error
	CountOpen(ctx context.Context, tenantID, campaignID int) (int, error)
	ListByCampaign(ctx context.Context, tenantID, campaignID int) ([]model.GenerationTask, error)
}

type ActivityRepositoryInterface interface {
	InsertEvents(ctx context.Context, events []model.ActivityEvent) error
}

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func toJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// fromJSON decodes a JSONB column; NULL or empty leaves v untouched.
func fromJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
