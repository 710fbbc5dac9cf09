package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/activity"
	"github.com/unclebandit/campaign-engine/internal/audience"
	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/fatigue"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/render"
	"github.com/unclebandit/campaign-engine/internal/repository"
	"github.com/unclebandit/campaign-engine/internal/stoprule"
)

// Dispatcher hands a queued message to the delivery subsystem and returns
// its hand-off reference.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *model.OutboundMessage) (string, error)
}

// GenerationReport summarizes one run of a generation task.
type GenerationReport struct {
	TaskID     int            `json:"task_id"`
	TenantID   int            `json:"tenant_id"`
	CampaignID int            `json:"campaign_id"`
	StepID     int            `json:"step_id"`
	Considered int            `json:"considered"`
	Queued     int            `json:"queued"`
	Skipped    map[string]int `json:"skipped"`
	Errors     int            `json:"errors"`
	// Warning is set when the step could not run because of its configuration.
	Warning  string        `json:"warning,omitempty"`
	Duration time.Duration `json:"duration"`
}

type MessageGenerator struct {
	Campaigns  repository.CampaignRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Messages   repository.OutboundMessageRepositoryInterface
	Filter     *stoprule.Filter
	Fatigue    *fatigue.Service
	Dispatcher Dispatcher
	Activity   activity.Sink
	Log        *zap.Logger
	PageSize   int
}

func NewMessageGenerator(
	campaigns repository.CampaignRepositoryInterface,
	recipients repository.RecipientRepositoryInterface,
	messages repository.OutboundMessageRepositoryInterface,
	fatigueSvc *fatigue.Service,
	dispatcher Dispatcher,
	sink activity.Sink,
	log *zap.Logger,
) *MessageGenerator {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageGenerator{
		Campaigns:  campaigns,
		Recipients: recipients,
		Messages:   messages,
		Filter: &stoprule.Filter{
			Matcher:    audience.NewMatcher(log),
			Consent:    recipients,
			Replies:    messages,
			Fatigue:    fatigueSvc,
			Duplicates: messages,
		},
		Fatigue:    fatigueSvc,
		Dispatcher: dispatcher,
		Activity:   sink,
		Log:        log,
		PageSize:   500,
	}
}

// Generate runs one generation task. Re-running a task is safe: recipients
// that already hold an active message for the step are skipped.
func (g *MessageGenerator) Generate(ctx context.Context, task model.TaskMessage) (*GenerationReport, error) {
	started := time.Now()
	report := &GenerationReport{TaskID: task.TaskID, TenantID: task.TenantID, CampaignID: task.CampaignID, StepID: task.StepID, Skipped: map[string]int{}}
	log := g.Log.With(
		zap.Int("tenant_id", task.TenantID),
		zap.Int("campaign_id", task.CampaignID),
		zap.Int("step_id", task.StepID))

	c, err := g.Campaigns.GetByID(ctx, task.TenantID, task.CampaignID)
	if err != nil {
		var v *appErrors.ErrValidation
		if errors.As(err, &v) {
			return g.warn(log, report, err.Error()), nil
		}
		return report, err
	}
	if c.Status != model.StatusRunning {
		return report, appErrors.ErrCampaignNotRunning
	}
	step, ok := c.FindStep(task.StepID)
	if !ok {
		return report, appErrors.NewStepNotFound(c.ID, task.StepID)
	}
	if !step.Active {
		return g.warn(log, report, "step is inactive"), nil
	}
	msg, err := render.Compile(step.Template)
	if err != nil {
		return g.warn(log, report, err.Error()), nil
	}

	var tally stoprule.Tally
	pageSize := g.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	afterID := 0
	for {
		if err := ctx.Err(); err != nil {
			return g.finish(ctx, log, report, &tally, started), err
		}
		page, err := g.Recipients.ListPage(ctx, c.TenantID, afterID, pageSize)
		if err != nil {
			g.finish(ctx, log, report, &tally, started)
			return report, fmt.Errorf("list recipients after %d: %w", afterID, err)
		}
		for _, r := range page {
			if err := ctx.Err(); err != nil {
				return g.finish(ctx, log, report, &tally, started), err
			}
			report.Considered++
			g.process(ctx, log, c, step, msg, r, report, &tally)
		}
		if len(page) < pageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	g.finish(ctx, log, report, &tally, started)
	if report.Errors > 0 {
		return report, appErrors.ErrPartialRun
	}
	return report, nil
}

func (g *MessageGenerator) process(ctx context.Context, log *zap.Logger, c *model.Campaign, step model.Step, msg *render.Message, r *model.Recipient, report *GenerationReport, tally *stoprule.Tally) {
	log = log.With(zap.Int("recipient_id", r.ID))

	d, err := g.Filter.Eligible(ctx, c, step, r)
	if err != nil {
		report.Errors++
		log.Warn("eligibility check failed", zap.Error(err))
		return
	}
	if !d.Eligible {
		tally.Add(d.Reason)
		return
	}

	ch := c.StepChannel(step)
	addr := r.Address(ch)
	if addr == "" {
		tally.Add(stoprule.SkipNoAddress)
		return
	}

	out := msg.Render(ch, r)
	if strings.TrimSpace(out.Body) == "" {
		tally.Add(stoprule.SkipEmptyRender)
		return
	}

	om := &model.OutboundMessage{
		TenantID:        c.TenantID,
		CampaignID:      c.ID,
		StepID:          step.ID,
		RecipientID:     r.ID,
		Channel:         ch,
		ToAddress:       addr,
		Subject:         out.Subject,
		RenderedContent: out.Body,
		Metadata:        out.Metadata,
	}
	created, err := g.Messages.CreateQueued(ctx, om)
	if err != nil {
		report.Errors++
		log.Warn("failed to create outbound message", zap.Error(err))
		return
	}
	if !created {
		tally.Add(stoprule.SkipDuplicate)
		return
	}

	if d.Reengagement {
		key := fatigue.Key{TenantID: c.TenantID, RecipientID: r.ID, Channel: ch}
		err := g.Fatigue.ConsumeReengagement(ctx, key, c.ID, fatigue.PolicyFor(c.StopRules))
		if err != nil {
			g.cancel(ctx, log, om, err.Error())
			if errors.Is(err, appErrors.ErrQuotaExhausted) {
				tally.Add(stoprule.SkipQuotaExhausted)
				return
			}
			report.Errors++
			log.Warn("failed to spend reengagement quota", zap.Error(err))
			return
		}
	}

	ref, err := g.Dispatcher.Dispatch(ctx, om)
	if err != nil {
		log.Warn("dispatch failed", zap.Int("message_id", om.ID), zap.Error(err))
		if d.Reengagement {
			key := fatigue.Key{TenantID: c.TenantID, RecipientID: r.ID, Channel: ch}
			if rerr := g.Fatigue.RefundReengagement(ctx, key, c.ID, fatigue.PolicyFor(c.StopRules)); rerr != nil {
				report.Errors++
				log.Error("failed to refund reengagement quota", zap.Int("message_id", om.ID), zap.Error(rerr))
			}
		}
		if _, uerr := g.Messages.UpdateStatus(ctx, c.TenantID, om.ID, model.MessageQueued, model.MessageFailed, "", err.Error()); uerr != nil {
			report.Errors++
			log.Error("failed to mark message failed", zap.Int("message_id", om.ID), zap.Error(uerr))
		}
		tally.Add(stoprule.SkipDispatchFailed)
		return
	}
	if err := g.Messages.MarkDispatched(ctx, c.TenantID, om.ID, ref); err != nil {
		log.Warn("failed to store dispatch reference", zap.Int("message_id", om.ID), zap.Error(err))
	}
	report.Queued++
}

// cancel frees the dedup slot of a message that will not be dispatched.
func (g *MessageGenerator) cancel(ctx context.Context, log *zap.Logger, om *model.OutboundMessage, reason string) {
	if _, err := g.Messages.UpdateStatus(ctx, om.TenantID, om.ID, model.MessageQueued, model.MessageCancelled, "", reason); err != nil {
		log.Error("failed to cancel message", zap.Int("message_id", om.ID), zap.Error(err))
	}
}

func (g *MessageGenerator) warn(log *zap.Logger, report *GenerationReport, reason string) *GenerationReport {
	report.Warning = reason
	log.Warn("generation step skipped", zap.String("reason", reason))
	return report
}

func (g *MessageGenerator) finish(ctx context.Context, log *zap.Logger, report *GenerationReport, tally *stoprule.Tally, started time.Time) *GenerationReport {
	report.Skipped = tally.Snapshot()
	report.Duration = time.Since(started)
	log.Info("generation finished",
		zap.Int("considered", report.Considered),
		zap.Int("queued", report.Queued),
		zap.Int("errors", report.Errors),
		zap.String("skipped", tally.String()),
		zap.Duration("duration", report.Duration))

	if g.Activity != nil {
		skipped := make(map[string]any, len(report.Skipped))
		for k, v := range report.Skipped {
			skipped[k] = v
		}
		// Audit survives cancellation of the run itself.
		err := g.Activity.Record(context.WithoutCancel(ctx), model.ActivityEvent{
			TenantID:   report.TenantID,
			Type:       model.EventGenerationCompleted,
			CampaignID: report.CampaignID,
			Payload: map[string]any{
				"task_id":    report.TaskID,
				"step_id":    report.StepID,
				"considered": report.Considered,
				"queued":     report.Queued,
				"errors":     report.Errors,
				"skipped":    skipped,
			},
		})
		if err != nil {
			log.Warn("failed to record generation event", zap.Error(err))
		}
	}
	return report
}
