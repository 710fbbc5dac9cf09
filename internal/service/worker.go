package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/lock"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/queue"
)

// Generator runs one generation task.
type Generator interface {
	Generate(ctx context.Context, task model.TaskMessage) (*GenerationReport, error)
}

// TaskLifecycle is satisfied by *scheduler.Scheduler.
type TaskLifecycle interface {
	Complete(ctx context.Context, task model.GenerationTask) error
	Release(ctx context.Context, task model.GenerationTask) error
}

// Worker processes generation jobs from the queue
type Worker struct {
	Generator Generator
	Tasks     TaskLifecycle
	Locker    lock.Locker
	LeaseTTL  time.Duration
	Log       *zap.Logger
}

// Constructor
func NewWorker(gen Generator, tasks TaskLifecycle, locker lock.Locker, leaseTTL time.Duration, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{Generator: gen, Tasks: tasks, Locker: locker, LeaseTTL: leaseTTL, Log: log}
}

// Start subscribes the worker to the generation topic.
func (w *Worker) Start(q queue.Queue) error {
	return q.Subscribe(queue.TopicGeneration, w.Handle)
}

// Handle processes one task payload. A returned error asks the queue to
// retry the task.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var msg model.TaskMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		w.Log.Warn("dropping malformed task", zap.Error(err))
		return nil
	}
	task := model.GenerationTask{ID: msg.TaskID, TenantID: msg.TenantID, CampaignID: msg.CampaignID, StepID: msg.StepID}
	log := w.Log.With(zap.Int("task_id", msg.TaskID), zap.Int("campaign_id", msg.CampaignID), zap.Int("step_id", msg.StepID))

	lease, err := w.Locker.Acquire(ctx, fmt.Sprintf("task:%d:%d", msg.CampaignID, msg.StepID), w.LeaseTTL)
	if errors.Is(err, appErrors.ErrLockNotAcquired) {
		// Another worker is on it; the poller re-claims if that worker dies.
		log.Info("task already leased")
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release lease", zap.Error(err))
		}
	}()

	report, err := w.Generator.Generate(ctx, msg)
	switch {
	case errors.Is(err, appErrors.ErrCampaignNotRunning):
		log.Info("campaign not running, releasing task")
		return w.Tasks.Release(ctx, task)
	case appErrors.IsNotFound(err):
		log.Warn("task target no longer exists", zap.Error(err))
		return w.Tasks.Complete(ctx, task)
	case err != nil:
		log.Warn("generation failed", zap.Error(err))
		return err
	}

	if report != nil && report.Warning != "" {
		log.Warn("task completed without generating", zap.String("warning", report.Warning))
	}
	return w.Tasks.Complete(ctx, task)
}
