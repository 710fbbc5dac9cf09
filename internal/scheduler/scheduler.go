package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/activity"
	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

type Scheduler struct {
	Campaigns repository.CampaignRepositoryInterface
	Tasks     repository.TaskRepositoryInterface
	Activity  activity.Sink
	Log       *zap.Logger
	Now       func() time.Time
}

func New(campaigns repository.CampaignRepositoryInterface, tasks repository.TaskRepositoryInterface, sink activity.Sink, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{Campaigns: campaigns, Tasks: tasks, Activity: sink, Log: log, Now: time.Now}
}

// Launch moves a draft campaign to running and persists its tasks. Tasks are
// written before the status flips, so a retried launch never leaves a
// running campaign without tasks.
func (s *Scheduler) Launch(ctx context.Context, tenantID, campaignID int) (*model.Campaign, []model.GenerationTask, error) {
	c, err := s.Campaigns.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return nil, nil, err
	}
	if c.Status != model.StatusDraft {
		return nil, nil, appErrors.NewInvalidStatus(c.ID, string(c.Status), string(model.StatusRunning))
	}

	start := s.Now().UTC()
	if c.StartAt != nil {
		start = c.StartAt.UTC()
	}
	tasks, err := Plan(c, start)
	if err != nil {
		return nil, nil, err
	}

	inserted, err := s.Tasks.InsertTasks(ctx, tasks)
	if err != nil {
		return nil, nil, fmt.Errorf("persist tasks for campaign %d: %w", c.ID, err)
	}
	ok, err := s.Campaigns.TransitionStatus(ctx, tenantID, c.ID, []model.CampaignStatus{model.StatusDraft}, model.StatusRunning, &start)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, appErrors.NewInvalidStatus(c.ID, "non-draft", string(model.StatusRunning))
	}
	c.Status = model.StatusRunning
	c.StartAt = &start

	s.Log.Info("campaign launched",
		zap.Int("tenant_id", tenantID),
		zap.Int("campaign_id", c.ID),
		zap.String("kind", string(c.Kind)),
		zap.Int("tasks", len(tasks)),
		zap.Int("new_tasks", inserted),
		zap.Time("start_at", start))
	s.record(ctx, model.ActivityEvent{
		TenantID:   tenantID,
		Type:       model.EventCampaignLaunched,
		CampaignID: c.ID,
		Payload:    map[string]any{"tasks": len(tasks), "start_at": start.Format(time.RFC3339)},
	})
	return c, tasks, nil
}

func (s *Scheduler) Pause(ctx context.Context, tenantID, campaignID int) error {
	return s.transition(ctx, tenantID, campaignID, model.StatusRunning, model.StatusPaused)
}

func (s *Scheduler) Resume(ctx context.Context, tenantID, campaignID int) error {
	return s.transition(ctx, tenantID, campaignID, model.StatusPaused, model.StatusRunning)
}

func (s *Scheduler) transition(ctx context.Context, tenantID, campaignID int, from, to model.CampaignStatus) error {
	ok, err := s.Campaigns.TransitionStatus(ctx, tenantID, campaignID, []model.CampaignStatus{from}, to, nil)
	if err != nil {
		return err
	}
	if ok {
		s.Log.Info("campaign status changed",
			zap.Int("tenant_id", tenantID),
			zap.Int("campaign_id", campaignID),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return nil
	}
	c, err := s.Campaigns.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return err
	}
	return appErrors.NewInvalidStatus(campaignID, string(c.Status), string(to))
}

// Complete marks the task done and completes the campaign once no task is
// left open.
func (s *Scheduler) Complete(ctx context.Context, task model.GenerationTask) error {
	if err := s.Tasks.MarkDone(ctx, task.TenantID, task.ID, s.Now().UTC()); err != nil {
		return fmt.Errorf("mark task %d done: %w", task.ID, err)
	}
	open, err := s.Tasks.CountOpen(ctx, task.TenantID, task.CampaignID)
	if err != nil {
		return err
	}
	if open > 0 {
		return nil
	}
	ok, err := s.Campaigns.TransitionStatus(ctx, task.TenantID, task.CampaignID, []model.CampaignStatus{model.StatusRunning}, model.StatusCompleted, nil)
	if err != nil {
		return err
	}
	if ok {
		s.Log.Info("campaign completed", zap.Int("tenant_id", task.TenantID), zap.Int("campaign_id", task.CampaignID))
		s.record(ctx, model.ActivityEvent{TenantID: task.TenantID, Type: model.EventCampaignCompleted, CampaignID: task.CampaignID})
	}
	return nil
}

// Release hands a claimed task back to the poller.
func (s *Scheduler) Release(ctx context.Context, task model.GenerationTask) error {
	return s.Tasks.Release(ctx, task.TenantID, task.ID)
}

func (s *Scheduler) record(ctx context.Context, ev model.ActivityEvent) {
	if s.Activity == nil {
		return
	}
	if err := s.Activity.Record(ctx, ev); err != nil {
		s.Log.Warn("failed to record activity", zap.String("type", ev.Type), zap.Error(err))
	}
}
