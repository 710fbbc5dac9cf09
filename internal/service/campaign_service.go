// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/render"
	"github.com/unclebandit/campaign-engine/internal/repository"
	"github.com/unclebandit/campaign-engine/internal/scheduler"
)

type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	OutboundRepo  repository.OutboundMessageRepositoryInterface
	TaskRepo      repository.TaskRepositoryInterface
	Scheduler     *scheduler.Scheduler
}

type CampaignDetails struct {
	ID        int                    `json:"id"`
	Name      string                 `json:"name"`
	Channel   model.Channel          `json:"channel"`
	Kind      model.CampaignKind     `json:"kind"`
	Status    model.CampaignStatus   `json:"status"`
	Settings  model.StopRules        `json:"settings"`
	Steps     []model.Step           `json:"steps"`
	Tasks     []model.GenerationTask `json:"tasks"`
	StartAt   *time.Time             `json:"start_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt *time.Time             `json:"updated_at"`
	Stats     map[string]int         `json:"stats"`
}

// Preview is a rendered step for one recipient.
type Preview struct {
	CampaignID  int               `json:"campaign_id"`
	StepID      int               `json:"step_id"`
	RecipientID int               `json:"recipient_id"`
	Channel     model.Channel     `json:"channel"`
	To          string            `json:"to"`
	Subject     string            `json:"subject,omitempty"`
	Body        string            `json:"body"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CreateCampaign stores a draft campaign. Inline step templates are
// compiled up front and saved before the campaign.
func (s *CampaignService) CreateCampaign(ctx context.Context, tenantID int, c *model.Campaign) (*model.Campaign, error) {
	c.ID = 0
	c.TenantID = tenantID
	c.Status = model.StatusDraft
	if err := c.Validate(); err != nil {
		return nil, err
	}
	for i := range c.Steps {
		tpl := c.Steps[i].Template
		if tpl == nil {
			if c.Steps[i].TemplateID == 0 && c.Steps[i].Active {
				return nil, appErrors.NewValidation("steps", fmt.Sprintf("step %d has no template", c.Steps[i].Position))
			}
			continue
		}
		if _, err := render.Compile(tpl); err != nil {
			return nil, appErrors.NewValidation("template", err.Error())
		}
	}
	for i := range c.Steps {
		tpl := c.Steps[i].Template
		if tpl == nil {
			continue
		}
		tpl.ID = 0
		tpl.TenantID = tenantID
		if tpl.Name == "" {
			tpl.Name = fmt.Sprintf("%s step %d", c.Name, c.Steps[i].Position)
		}
		if err := s.CampaignRepo.CreateTemplate(ctx, tpl); err != nil {
			return nil, err
		}
		c.Steps[i].TemplateID = tpl.ID
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RenderPreview renders a step for a recipient without writing anything.
// stepID 0 picks the first active step; a non-empty override body replaces
// the stored template.
func (s *CampaignService) RenderPreview(ctx context.Context, tenantID, campaignID, stepID, recipientID int, override *model.Template) (*Preview, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}

	var step model.Step
	if stepID == 0 {
		active := campaign.ActiveSteps()
		if len(active) == 0 {
			return nil, appErrors.NewValidation("steps", "campaign has no active steps")
		}
		step = active[0]
	} else {
		var ok bool
		if step, ok = campaign.FindStep(stepID); !ok {
			return nil, appErrors.NewStepNotFound(campaignID, stepID)
		}
	}

	recipient, err := s.RecipientRepo.GetByID(ctx, tenantID, recipientID)
	if err != nil {
		return nil, err
	}

	tpl := step.Template
	if override != nil && strings.TrimSpace(override.Body) != "" {
		tpl = override
	}
	if tpl == nil {
		return nil, appErrors.NewValidation("template", "step has no template")
	}
	msg, err := render.Compile(tpl)
	if err != nil {
		return nil, appErrors.NewValidation("template", err.Error())
	}

	ch := campaign.StepChannel(step)
	out := msg.Render(ch, recipient)
	return &Preview{
		CampaignID:  campaign.ID,
		StepID:      step.ID,
		RecipientID: recipient.ID,
		Channel:     ch,
		To:          recipient.Address(ch),
		Subject:     out.Subject,
		Body:        out.Body,
		Metadata:    out.Metadata,
	}, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, tenantID, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, tenantID, offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, tenantID, campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}

	stats, err := s.OutboundRepo.Stats(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	stats["total"] = total

	tasks, err := s.TaskRepo.ListByCampaign(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}

	return &CampaignDetails{
		ID:        campaign.ID,
		Name:      campaign.Name,
		Channel:   campaign.Channel,
		Kind:      campaign.Kind,
		Status:    campaign.Status,
		Settings:  campaign.StopRules,
		Steps:     campaign.Steps,
		Tasks:     tasks,
		StartAt:   campaign.StartAt,
		CreatedAt: campaign.CreatedAt,
		UpdatedAt: campaign.UpdatedAt,
		Stats:     stats,
	}, nil
}

func (s *CampaignService) Launch(ctx context.Context, tenantID, campaignID int) (*model.Campaign, []model.GenerationTask, error) {
	return s.Scheduler.Launch(ctx, tenantID, campaignID)
}

func (s *CampaignService) Pause(ctx context.Context, tenantID, campaignID int) error {
	return s.Scheduler.Pause(ctx, tenantID, campaignID)
}

func (s *CampaignService) Resume(ctx context.Context, tenantID, campaignID int) error {
	return s.Scheduler.Resume(ctx, tenantID, campaignID)
}
