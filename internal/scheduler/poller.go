package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

// Poller claims due tasks on a cron schedule and publishes them to the
// generation topic.
type Poller struct {
	Tasks      repository.TaskRepositoryInterface
	Queue      queue.Queue
	Log        *zap.Logger
	Visibility time.Duration
	BatchSize  int
	Now        func() time.Time

	cron *cron.Cron
}

func NewPoller(tasks repository.TaskRepositoryInterface, q queue.Queue, visibility time.Duration, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{Tasks: tasks, Queue: q, Log: log, Visibility: visibility, BatchSize: 100, Now: time.Now}
}

// Start schedules PollOnce every interval. Overlapping runs are skipped.
func (p *Poller) Start(ctx context.Context, interval time.Duration) error {
	p.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := p.cron.AddFunc("@every "+interval.String(), func() {
		if _, err := p.PollOnce(ctx); err != nil {
			p.Log.Error("poll failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule poller: %w", err)
	}
	p.cron.Start()
	p.Log.Info("poller started", zap.Duration("interval", interval))
	return nil
}

// Stop waits for a running poll to finish.
func (p *Poller) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}

// PollOnce claims due tasks and publishes them. A task that cannot be
// published is released so the next poll retries it.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	tasks, err := p.Tasks.ClaimDue(ctx, p.Now().UTC(), p.Visibility, p.BatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, t := range tasks {
		payload, err := json.Marshal(t.Message())
		if err != nil {
			return published, err
		}
		if err := p.Queue.Publish(ctx, queue.TopicGeneration, payload); err != nil {
			p.Log.Warn("publish task failed",
				zap.Int("task_id", t.ID),
				zap.Int("campaign_id", t.CampaignID),
				zap.Error(err))
			if relErr := p.Tasks.Release(ctx, t.TenantID, t.ID); relErr != nil {
				p.Log.Error("release task failed", zap.Int("task_id", t.ID), zap.Error(relErr))
			}
			continue
		}
		published++
	}
	if len(tasks) > 0 {
		p.Log.Info("published due tasks", zap.Int("claimed", len(tasks)), zap.Int("published", published))
	}
	return published, nil
}
