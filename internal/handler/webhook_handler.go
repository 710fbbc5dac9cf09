package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/fatigue"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository"
	"github.com/unclebandit/campaign-engine/internal/service"
	"github.com/unclebandit/campaign-engine/internal/tenant"
)

// WebhookHandler accepts callbacks from the delivery subsystem.
type WebhookHandler struct {
	Delivery   *service.DeliveryService
	Campaigns  repository.CampaignRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Messages   repository.OutboundMessageRepositoryInterface
	Fatigue    *fatigue.Service
	Log        *zap.Logger
}

func (h *WebhookHandler) Routes(r chi.Router) {
	r.Post("/webhooks/receipts", h.Receipt)
	r.Post("/webhooks/replies", h.Reply)
}

// Receipt applies a delivery status update.
func (h *WebhookHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	var rc model.DeliveryReceipt
	if err := json.NewDecoder(r.Body).Decode(&rc); err != nil {
		Error(w, h.Log, appErrors.NewValidation("body", err.Error()))
		return
	}
	if rc.MessageID <= 0 {
		Error(w, h.Log, appErrors.NewValidation("message_id", "is required"))
		return
	}
	rc.TenantID, _ = tenant.FromContext(r.Context())

	if err := h.Delivery.HandleReceipt(r.Context(), rc); err != nil {
		Error(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type replyRequest struct {
	CampaignID  int           `json:"campaign_id"`
	RecipientID int           `json:"recipient_id"`
	Channel     model.Channel `json:"channel"`
	From        string        `json:"from"`
	Body        string        `json:"body"`
}

// Reply records an inbound message in the campaign thread. A reply counts
// as engagement, so a suppressed channel returns to active.
func (h *WebhookHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, h.Log, appErrors.NewValidation("body", err.Error()))
		return
	}
	if req.CampaignID <= 0 || req.RecipientID <= 0 {
		Error(w, h.Log, appErrors.NewValidation("body", "campaign_id and recipient_id are required"))
		return
	}
	if !req.Channel.Valid() {
		Error(w, h.Log, appErrors.NewValidation("channel", "unsupported channel "+string(req.Channel)))
		return
	}
	tenantID, _ := tenant.FromContext(r.Context())
	if _, err := h.Campaigns.GetByID(r.Context(), tenantID, req.CampaignID); err != nil {
		Error(w, h.Log, err)
		return
	}
	if _, err := h.Recipients.GetByID(r.Context(), tenantID, req.RecipientID); err != nil {
		Error(w, h.Log, err)
		return
	}

	msg := &model.OutboundMessage{
		TenantID:        tenantID,
		CampaignID:      req.CampaignID,
		RecipientID:     req.RecipientID,
		Channel:         req.Channel,
		ToAddress:       strings.TrimSpace(req.From),
		RenderedContent: req.Body,
	}
	if err := h.Messages.CreateInbound(r.Context(), msg); err != nil {
		Error(w, h.Log, err)
		return
	}
	key := fatigue.Key{TenantID: tenantID, RecipientID: req.RecipientID, Channel: req.Channel}
	if err := h.Fatigue.Reengage(r.Context(), key); err != nil && !appErrors.IsNotFound(err) {
		h.Log.Warn("failed to mark recipient reengaged", zap.Int("recipient_id", req.RecipientID), zap.Error(err))
	}
	JSON(w, http.StatusCreated, map[string]int{"message_id": msg.ID})
}
