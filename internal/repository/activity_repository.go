package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type ActivityRepository struct {
	DB *sql.DB
}

func (r *ActivityRepository) InsertEvents(ctx context.Context, events []model.ActivityEvent) error {
	return insertEvents(ctx, r.DB, events)
}

func insertEvents(ctx context.Context, db DBTX, events []model.ActivityEvent) error {
	for _, ev := range events {
		payload, err := toJSON(ev.Payload)
		if err != nil {
			return fmt.Errorf("encode payload of event %s: %w", ev.ID, err)
		}
		_, err = db.ExecContext(ctx, `
            INSERT INTO activity_log (id, tenant_id, type, campaign_id, recipient_id, channel, payload, created_at)
            VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, 0), $6, $7, $8)
            ON CONFLICT (id) DO NOTHING
        `, ev.ID, ev.TenantID, ev.Type, ev.CampaignID, ev.RecipientID, ev.Channel, payload, ev.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.Type, err)
		}
	}
	return nil
}
