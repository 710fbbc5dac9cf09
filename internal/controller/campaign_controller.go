// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/handler"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/service"
	"github.com/unclebandit/campaign-engine/internal/tenant"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Log             *zap.Logger
}

// Routes mounts the campaign endpoints.
func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns", c.ListCampaigns)
	r.Get("/campaigns/{id}", c.GetCampaignDetails)
	r.Post("/campaigns/{id}/launch", c.Launch)
	r.Post("/campaigns/{id}/pause", c.Pause)
	r.Post("/campaigns/{id}/resume", c.Resume)
	r.Post("/campaigns/{id}/personalized-preview", c.PersonalizedPreview)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenant.FromContext(r.Context())
	campaignID, err := handler.IntParam(r, "id")
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}

	var body struct {
		RecipientID      int             `json:"recipient_id"`
		StepID           int             `json:"step_id"`
		OverrideTemplate *model.Template `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.Error(w, c.Log, appErrors.NewValidation("body", err.Error()))
		return
	}
	if body.RecipientID <= 0 {
		handler.Error(w, c.Log, appErrors.NewValidation("recipient_id", "is required"))
		return
	}

	preview, err := c.CampaignService.RenderPreview(r.Context(), tenantID, campaignID, body.StepID, body.RecipientID, body.OverrideTemplate)
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}

	handler.JSON(w, http.StatusOK, map[string]any{
		"rendered_message": preview.Body,
		"preview":          preview,
		"used_override":    body.OverrideTemplate != nil && strings.TrimSpace(body.OverrideTemplate.Body) != "",
	})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenant.FromContext(r.Context())
	var body model.Campaign
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.Error(w, c.Log, appErrors.NewValidation("body", err.Error()))
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), tenantID, &body)
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenant.FromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), tenantID, page, pageSize, channel, status)
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}

	handler.JSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenant.FromContext(r.Context())
	id, err := handler.IntParam(r, "id")
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}

	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), tenantID, id)
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusOK, details)
}

// Launch plans the campaign's generation tasks and starts it.
func (c *CampaignController) Launch(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenant.FromContext(r.Context())
	id, err := handler.IntParam(r, "id")
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}

	campaign, tasks, err := c.CampaignService.Launch(r.Context(), tenantID, id)
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusOK, map[string]any{
		"campaign_id": campaign.ID,
		"status":      campaign.Status,
		"start_at":    campaign.StartAt,
		"tasks":       tasks,
	})
}

func (c *CampaignController) Pause(w http.ResponseWriter, r *http.Request) {
	c.transition(w, r, c.CampaignService.Pause, model.StatusPaused)
}

func (c *CampaignController) Resume(w http.ResponseWriter, r *http.Request) {
	c.transition(w, r, c.CampaignService.Resume, model.StatusRunning)
}

func (c *CampaignController) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenantID, id int) error, to model.CampaignStatus) {
	tenantID, _ := tenant.FromContext(r.Context())
	id, err := handler.IntParam(r, "id")
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	if err := op(r.Context(), tenantID, id); err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusOK, map[string]any{"campaign_id": id, "status": to})
}
