// internal/handler/fatigue_handler.go
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/fatigue"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository"
	"github.com/unclebandit/campaign-engine/internal/tenant"
)

// FatigueHandler exposes the manual fatigue operations for a recipient.
type FatigueHandler struct {
	Fatigue    *fatigue.Service
	Recipients repository.RecipientRepositoryInterface
	Log        *zap.Logger
}

func NewFatigueHandler(svc *fatigue.Service, recipients repository.RecipientRepositoryInterface, log *zap.Logger) *FatigueHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &FatigueHandler{Fatigue: svc, Recipients: recipients, Log: log}
}

// Routes mounts the handler under /recipients.
func (h *FatigueHandler) Routes(r chi.Router) {
	r.Get("/recipients/{id}/fatigue", h.GetLedger)
	r.Post("/recipients/{id}/fatigue/{channel}/reengage", h.Reengage)
	r.Post("/recipients/{id}/fatigue/{channel}/reset", h.Reset)
}

func (h *FatigueHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenant.FromContext(r.Context())
	id, err := IntParam(r, "id")
	if err != nil {
		Error(w, h.Log, err)
		return
	}
	rec, err := h.Recipients.GetByID(r.Context(), tenantID, id)
	if err != nil {
		Error(w, h.Log, err)
		return
	}
	ledger := rec.Fatigue
	if ledger == nil {
		ledger = model.FatigueLedger{}
	}
	JSON(w, http.StatusOK, map[string]any{"recipient_id": rec.ID, "fatigue": ledger})
}

// Reengage returns a suppressed channel to active. Sunset channels need Reset.
func (h *FatigueHandler) Reengage(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.Fatigue.Reengage)
}

func (h *FatigueHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.Fatigue.Reset)
}

func (h *FatigueHandler) apply(w http.ResponseWriter, r *http.Request, op func(context.Context, fatigue.Key) error) {
	tenantID, _ := tenant.FromContext(r.Context())
	id, err := IntParam(r, "id")
	if err != nil {
		Error(w, h.Log, err)
		return
	}
	ch := model.Channel(chi.URLParam(r, "channel"))
	if !ch.Valid() {
		Error(w, h.Log, appErrors.NewValidation("channel", "unsupported channel "+string(ch)))
		return
	}

	key := fatigue.Key{TenantID: tenantID, RecipientID: id, Channel: ch}
	if err := op(r.Context(), key); err != nil {
		Error(w, h.Log, err)
		return
	}
	rec, err := h.Recipients.GetByID(r.Context(), tenantID, id)
	if err != nil {
		Error(w, h.Log, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"recipient_id": id,
		"channel":      ch,
		"fatigue":      rec.Fatigue.Channel(ch),
	})
}
