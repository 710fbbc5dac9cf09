package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/campaign-engine/internal/audience"
	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

type CampaignRepository struct {
	DB *sql.DB
}

// ====================== Campaigns ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	c.CreatedAt = time.Now().UTC()

	rule, err := toJSON(c.Audience)
	if err != nil {
		return fmt.Errorf("encode audience rule: %w", err)
	}
	settings, err := toJSON(c.StopRules)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO campaigns (tenant_id, name, channel, kind, status, audience_rule, settings, start_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	if err := tx.QueryRowContext(ctx, query, c.TenantID, c.Name, c.Channel, c.Kind, c.Status, rule, settings, c.StartAt, c.CreatedAt).Scan(&c.ID); err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	for i := range c.Steps {
		s := &c.Steps[i]
		s.CampaignID = c.ID
		var templateID any
		if s.TemplateID != 0 {
			templateID = s.TemplateID
		}
		err := tx.QueryRowContext(ctx, `
            INSERT INTO campaign_steps (campaign_id, position, channel, template_id, delay_minutes, active)
            VALUES ($1, $2, $3, $4, $5, $6)
            RETURNING id
        `, c.ID, s.Position, s.Channel, templateID, s.DelayMinutes, s.Active).Scan(&s.ID)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", s.Position, err)
		}
	}
	return tx.Commit()
}

func (r *CampaignRepository) CreateTemplate(ctx context.Context, t *model.Template) error {
	query := `
        INSERT INTO templates (tenant_id, name, subject, body, media_url, media_caption, media_type)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, t.TenantID, t.Name, t.Subject, t.Body, t.MediaURL, t.MediaCaption, t.MediaType).Scan(&t.ID)
}

func (r *CampaignRepository) TransitionStatus(ctx context.Context, tenantID, id int, from []model.CampaignStatus, to model.CampaignStatus, startAt *time.Time) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	query := `
        UPDATE campaigns
        SET status=$1, start_at=COALESCE($2::timestamptz, start_at), updated_at=NOW()
        WHERE id=$3 AND tenant_id=$4 AND status = ANY($5)
    `
	res, err := r.DB.ExecContext(ctx, query, to, startAt, id, tenantID, pq.Array(allowed))
	if err != nil {
		return false, fmt.Errorf("update campaign %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, tenantID, id int) (*model.Campaign, error) {
	query := `
        SELECT id, tenant_id, name, channel, kind, status, audience_rule, settings, start_at, created_at, updated_at
        FROM campaigns WHERE id=$1 AND tenant_id=$2
    `
	var (
		c        model.Campaign
		rule     []byte
		settings []byte
	)
	err := r.DB.QueryRowContext(ctx, query, id, tenantID).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Channel, &c.Kind, &c.Status,
		&rule, &settings, &c.StartAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}

	if err := fromJSON(settings, &c.StopRules); err != nil {
		return nil, appErrors.NewValidation("settings", err.Error())
	}
	c.Audience, err = audience.ParseJSON(rule)
	if err != nil {
		return nil, appErrors.NewValidation("audience_rule", err.Error())
	}

	steps, err := r.steps(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Steps = steps
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, tenantID, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	where := " WHERE tenant_id=$1"
	args := []any{tenantID}
	argPos := 2

	if channel != "" {
		where += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, tenant_id, name, channel, kind, status, settings, start_at, created_at, updated_at FROM campaigns` +
		where + fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		var (
			c        model.Campaign
			settings []byte
		)
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Channel, &c.Kind, &c.Status,
			&settings, &c.StartAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if err := fromJSON(settings, &c.StopRules); err != nil {
			return nil, 0, appErrors.NewValidation("settings", err.Error())
		}
		campaigns = append(campaigns, &c)
	}
	return campaigns, total, rows.Err()
}

// ====================== Steps ======================

func (r *CampaignRepository) steps(ctx context.Context, campaignID int) ([]model.Step, error) {
	query := `
        SELECT s.id, s.campaign_id, s.position, s.channel, COALESCE(s.template_id, 0), s.delay_minutes, s.active,
               t.id, t.tenant_id, t.name, t.subject, t.body, t.media_url, t.media_caption, t.media_type
        FROM campaign_steps s
        LEFT JOIN templates t ON t.id = s.template_id
        WHERE s.campaign_id=$1
        ORDER BY s.position
    `
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list steps of campaign %d: %w", campaignID, err)
	}
	defer rows.Close()

	steps := []model.Step{}
	for rows.Next() {
		var (
			s        model.Step
			tplID    sql.NullInt64
			tenantID sql.NullInt64
			name     sql.NullString
			subject  sql.NullString
			body     sql.NullString
			mediaURL sql.NullString
			caption  sql.NullString
			media    sql.NullString
		)
		if err := rows.Scan(
			&s.ID, &s.CampaignID, &s.Position, &s.Channel, &s.TemplateID, &s.DelayMinutes, &s.Active,
			&tplID, &tenantID, &name, &subject, &body, &mediaURL, &caption, &media,
		); err != nil {
			return nil, err
		}
		if tplID.Valid {
			s.Template = &model.Template{
				ID:           int(tplID.Int64),
				TenantID:     int(tenantID.Int64),
				Name:         name.String,
				Subject:      subject.String,
				Body:         body.String,
				MediaURL:     mediaURL.String,
				MediaCaption: caption.String,
				MediaType:    media.String,
			}
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}
