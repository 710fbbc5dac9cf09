package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

type OutboundMessageRepository struct {
	DB *sql.DB
}

// CreateQueued relies on outbound_messages_active_uniq; a conflicting insert
// is a no-op and reports false.
func (r *OutboundMessageRepository) CreateQueued(ctx context.Context, msg *model.OutboundMessage) (bool, error) {
	msg.Direction = model.DirectionOutbound
	msg.Status = model.MessageQueued
	meta, err := toJSON(nonNilFields(msg.Metadata))
	if err != nil {
		return false, err
	}

	query := `
        INSERT INTO outbound_messages
        (tenant_id, campaign_id, step_id, recipient_id, direction, status, channel, to_address, subject, rendered_content, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (campaign_id, step_id, recipient_id)
            WHERE direction = 'outbound' AND status NOT IN ('failed', 'cancelled')
            DO NOTHING
        RETURNING id, created_at, updated_at
    `
	err = r.DB.QueryRowContext(ctx, query,
		msg.TenantID, msg.CampaignID, msg.StepID, msg.RecipientID, msg.Direction, msg.Status,
		msg.Channel, msg.ToAddress, msg.Subject, msg.RenderedContent, meta,
	).Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert outbound message: %w", err)
	}
	return true, nil
}

// CreateInbound records a reply in a campaign thread.
func (r *OutboundMessageRepository) CreateInbound(ctx context.Context, msg *model.OutboundMessage) error {
	msg.Direction = model.DirectionInbound
	if msg.Status == "" {
		msg.Status = model.MessageDelivered
	}
	query := `
        INSERT INTO outbound_messages
        (tenant_id, campaign_id, recipient_id, direction, status, channel, to_address, rendered_content)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at, updated_at
    `
	return r.DB.QueryRowContext(ctx, query,
		msg.TenantID, msg.CampaignID, msg.RecipientID, msg.Direction, msg.Status, msg.Channel, msg.ToAddress, msg.RenderedContent,
	).Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt)
}

// GetByID fetches an outbound message by its ID
func (r *OutboundMessageRepository) GetByID(ctx context.Context, tenantID, id int) (*model.OutboundMessage, error) {
	query := `
        SELECT id, tenant_id, campaign_id, COALESCE(step_id, 0), recipient_id, direction, status, channel, to_address,
               subject, rendered_content, metadata, provider_message_id, last_error, retry_count, created_at, updated_at
        FROM outbound_messages
        WHERE id=$1 AND tenant_id=$2
    `
	var (
		msg  model.OutboundMessage
		meta []byte
	)
	err := r.DB.QueryRowContext(ctx, query, id, tenantID).Scan(
		&msg.ID, &msg.TenantID, &msg.CampaignID, &msg.StepID, &msg.RecipientID, &msg.Direction, &msg.Status,
		&msg.Channel, &msg.ToAddress, &msg.Subject, &msg.RenderedContent, &meta, &msg.ProviderMessageID,
		&msg.LastError, &msg.RetryCount, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewMessageNotFound(id)
		}
		return nil, err
	}
	if err := fromJSON(meta, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of message %d: %w", id, err)
	}
	return &msg, nil
}

func (r *OutboundMessageRepository) HasActive(ctx context.Context, tenantID, campaignID, stepID, recipientID int) (bool, error) {
	return r.exists(ctx, `
        SELECT 1 FROM outbound_messages
        WHERE tenant_id=$1 AND campaign_id=$2 AND step_id=$3 AND recipient_id=$4
          AND direction='outbound' AND status NOT IN ('failed', 'cancelled')
        LIMIT 1
    `, tenantID, campaignID, stepID, recipientID)
}

func (r *OutboundMessageRepository) HasInbound(ctx context.Context, tenantID, campaignID, recipientID int) (bool, error) {
	return r.exists(ctx, `
        SELECT 1 FROM outbound_messages
        WHERE tenant_id=$1 AND campaign_id=$2 AND recipient_id=$3 AND direction='inbound'
        LIMIT 1
    `, tenantID, campaignID, recipientID)
}

func (r *OutboundMessageRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var tmp int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&tmp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *OutboundMessageRepository) MarkDispatched(ctx context.Context, tenantID, id int, reference string) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE outbound_messages
        SET metadata = metadata || jsonb_build_object('dispatch_ref', $1::text), updated_at=NOW()
        WHERE id=$2 AND tenant_id=$3
    `, reference, id, tenantID)
	return err
}

func (r *OutboundMessageRepository) UpdateStatus(ctx context.Context, tenantID, id int, from, to model.MessageStatus, providerID, lastError string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE outbound_messages
        SET status=$1,
            provider_message_id=COALESCE(NULLIF($2, ''), provider_message_id),
            last_error=$3,
            retry_count=retry_count + CASE WHEN $1='failed' THEN 1 ELSE 0 END,
            updated_at=NOW()
        WHERE id=$4 AND tenant_id=$5 AND status=$6
    `, to, providerID, lastError, id, tenantID, from)
	if err != nil {
		return false, fmt.Errorf("update message %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *OutboundMessageRepository) Stats(ctx context.Context, tenantID, campaignID int) (map[string]int, error) {
	query := `
        SELECT status, COUNT(*) FROM outbound_messages
        WHERE tenant_id=$1 AND campaign_id=$2 AND direction='outbound'
        GROUP BY status
    `
	rows, err := r.DB.QueryContext(ctx, query, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := emptyStats()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func emptyStats() map[string]int {
	return map[string]int{
		string(model.MessageQueued):    0,
		string(model.MessageSent):      0,
		string(model.MessageDelivered): 0,
		string(model.MessageRead):      0,
		string(model.MessageFailed):    0,
		string(model.MessageCancelled): 0,
	}
}
