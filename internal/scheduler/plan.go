// Package scheduler turns launched campaigns into generation tasks and feeds
// due tasks to the generation queue.
package scheduler

import (
	"time"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

// Plan returns one pending task per schedulable step, due at start plus the
// step delay. Inactive steps are never planned.
func Plan(c *model.Campaign, start time.Time) ([]model.GenerationTask, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	steps := c.ActiveSteps()
	if c.Kind == model.KindBroadcast {
		// Validate guarantees exactly one active step with no delay.
		steps = steps[:1]
	}

	tasks := make([]model.GenerationTask, 0, len(steps))
	for _, s := range steps {
		if s.ID == 0 {
			return nil, appErrors.NewValidation("steps", "step is not persisted")
		}
		tasks = append(tasks, model.GenerationTask{
			TenantID:   c.TenantID,
			CampaignID: c.ID,
			StepID:     s.ID,
			DueAt:      start.Add(time.Duration(s.DelayMinutes) * time.Minute).UTC(),
			Status:     model.TaskPending,
		})
	}
	return tasks, nil
}
