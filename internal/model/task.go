package model

import "time"

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskDispatched TaskStatus = "dispatched"
	TaskDone       TaskStatus = "done"
)

// GenerationTask is one unit of generation work, unique per campaign step.
type GenerationTask struct {
	ID          int        `db:"id" json:"id"`
	TenantID    int        `db:"tenant_id" json:"tenant_id"`
	CampaignID  int        `db:"campaign_id" json:"campaign_id"`
	StepID      int        `db:"step_id" json:"step_id"`
	DueAt       time.Time  `db:"due_at" json:"due_at"`
	Status      TaskStatus `db:"status" json:"status"`
	Attempts    int        `db:"attempts" json:"attempts"`
	ClaimedAt   *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// TaskMessage is the queue payload for a generation task.
type TaskMessage struct {
	TaskID     int `json:"task_id"`
	TenantID   int `json:"tenant_id"`
	CampaignID int `json:"campaign_id"`
	StepID     int `json:"step_id"`
}

func (t GenerationTask) Message() TaskMessage {
	return TaskMessage{TaskID: t.ID, TenantID: t.TenantID, CampaignID: t.CampaignID, StepID: t.StepID}
}
