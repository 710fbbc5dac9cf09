package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type TaskRepository struct {
	DB *sql.DB
}

const taskColumns = `id, tenant_id, campaign_id, step_id, due_at, status, attempts, claimed_at, completed_at`

func scanTask(row rowScanner) (model.GenerationTask, error) {
	var t model.GenerationTask
	err := row.Scan(&t.ID, &t.TenantID, &t.CampaignID, &t.StepID, &t.DueAt, &t.Status, &t.Attempts, &t.ClaimedAt, &t.CompletedAt)
	return t, err
}

func (r *TaskRepository) InsertTasks(ctx context.Context, tasks []model.GenerationTask) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for i := range tasks {
		t := &tasks[i]
		// The no-op update lets RETURNING report the id of an existing row;
		// xmax is 0 only for a fresh insert.
		var fresh bool
		err := tx.QueryRowContext(ctx, `
            INSERT INTO generation_tasks (tenant_id, campaign_id, step_id, due_at, status)
            VALUES ($1, $2, $3, $4, 'pending')
            ON CONFLICT (campaign_id, step_id) DO UPDATE SET step_id = EXCLUDED.step_id
            RETURNING id, (xmax = 0)
        `, t.TenantID, t.CampaignID, t.StepID, t.DueAt).Scan(&t.ID, &fresh)
		if err != nil {
			return 0, fmt.Errorf("insert task for step %d: %w", t.StepID, err)
		}
		if fresh {
			t.Status = model.TaskPending
			inserted++
		}
	}
	return inserted, tx.Commit()
}

// ClaimDue uses SKIP LOCKED so concurrent pollers never claim the same row.
func (r *TaskRepository) ClaimDue(ctx context.Context, now time.Time, visibility time.Duration, limit int) ([]model.GenerationTask, error) {
	query := `
        UPDATE generation_tasks t
        SET status='dispatched', claimed_at=$1, attempts=t.attempts+1
        WHERE t.id IN (
            SELECT gt.id FROM generation_tasks gt
            JOIN campaigns c ON c.id = gt.campaign_id
            WHERE c.status = 'running'
              AND gt.due_at <= $1
              AND (gt.status = 'pending' OR (gt.status = 'dispatched' AND gt.claimed_at < $2))
            ORDER BY gt.due_at
            LIMIT $3
            FOR UPDATE OF gt SKIP LOCKED
        )
        RETURNING t.id, t.tenant_id, t.campaign_id, t.step_id, t.due_at, t.status, t.attempts, t.claimed_at, t.completed_at
    `
	rows, err := r.DB.QueryContext(ctx, query, now, now.Add(-visibility), limit)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	defer rows.Close()

	var out []model.GenerationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TaskRepository) MarkDone(ctx context.Context, tenantID, id int, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE generation_tasks SET status='done', completed_at=$1 WHERE id=$2 AND tenant_id=$3`,
		at, id, tenantID)
	return err
}

func (r *TaskRepository) Release(ctx context.Context, tenantID, id int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE generation_tasks SET status='pending', claimed_at=NULL WHERE id=$1 AND tenant_id=$2 AND status<>'done'`,
		id, tenantID)
	return err
}

func (r *TaskRepository) CountOpen(ctx context.Context, tenantID, campaignID int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generation_tasks WHERE tenant_id=$1 AND campaign_id=$2 AND status<>'done'`,
		tenantID, campaignID).Scan(&n)
	return n, err
}

func (r *TaskRepository) ListByCampaign(ctx context.Context, tenantID, campaignID int) ([]model.GenerationTask, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM generation_tasks WHERE tenant_id=$1 AND campaign_id=$2 ORDER BY due_at, id`,
		tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.GenerationTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
