package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-engine/internal/activity"
	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/lock"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/scheduler"
	"github.com/unclebandit/campaign-engine/internal/service"
)

type MockGenerator struct {
	err   error
	calls int
}

func (m *MockGenerator) Generate(_ context.Context, task model.TaskMessage) (*service.GenerationReport, error) {
	m.calls++
	return &service.GenerationReport{TaskID: task.TaskID}, m.err
}

type MockLifecycle struct {
	mu        sync.Mutex
	completed []int
	released  []int
}

func (m *MockLifecycle) Complete(_ context.Context, task model.GenerationTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, task.ID)
	return nil
}

func (m *MockLifecycle) Release(_ context.Context, task model.GenerationTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, task.ID)
	return nil
}

func taskPayload(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(model.TaskMessage{TaskID: 5, TenantID: tenantID, CampaignID: 2, StepID: 3})
	require.NoError(t, err)
	return b
}

func TestWorkerHandle(t *testing.T) {
	partial := appErrors.ErrPartialRun
	cases := []struct {
		name      string
		genErr    error
		wantErr   error
		completed []int
		released  []int
	}{
		{name: "success", completed: []int{5}},
		{name: "not running", genErr: appErrors.ErrCampaignNotRunning, released: []int{5}},
		{name: "step gone", genErr: appErrors.NewStepNotFound(2, 3), completed: []int{5}},
		{name: "partial run retries", genErr: partial, wantErr: partial},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &MockGenerator{err: tc.genErr}
			tasks := &MockLifecycle{}
			w := service.NewWorker(gen, tasks, lock.NewLocalLocker(), time.Minute, nil)

			err := w.Handle(context.Background(), taskPayload(t))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, 1, gen.calls)
			assert.Equal(t, tc.completed, tasks.completed)
			assert.Equal(t, tc.released, tasks.released)
		})
	}
}

func TestWorkerSkipsLeasedTask(t *testing.T) {
	locker := lock.NewLocalLocker()
	lease, err := locker.Acquire(context.Background(), "task:2:3", time.Minute)
	require.NoError(t, err)

	gen := &MockGenerator{}
	tasks := &MockLifecycle{}
	w := service.NewWorker(gen, tasks, locker, time.Minute, nil)
	require.NoError(t, w.Handle(context.Background(), taskPayload(t)))
	assert.Equal(t, 0, gen.calls)

	// The lease is free again once the holder lets go.
	require.NoError(t, lease.Release(context.Background()))
	require.NoError(t, w.Handle(context.Background(), taskPayload(t)))
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, []int{5}, tasks.completed)
}

func TestWorkerDropsMalformedPayload(t *testing.T) {
	gen := &MockGenerator{}
	w := service.NewWorker(gen, &MockLifecycle{}, lock.NewLocalLocker(), time.Minute, nil)
	assert.NoError(t, w.Handle(context.Background(), []byte("nope")))
	assert.Equal(t, 0, gen.calls)
}

func TestLaunchToMessagesEndToEnd(t *testing.T) {
	f := newFixture(t)
	c := broadcast(model.ChannelSMS, model.StopRules{OptOut: true})
	c.Status = model.StatusDraft
	c.Audience = riyadh()
	f.campaign(t, c, smsTemplate())
	f.recipient(t, "sara", "Riyadh")
	f.recipient(t, "omar", "Jeddah")

	sched := scheduler.New(f.store.Campaigns(), f.store.Tasks(), activity.NewLoggingSink(f.store.Activity(), nil), nil)
	sched.Now = func() time.Time { return now }
	q := queue.NewInMemoryQueue(nil, 2)
	q.Backoff = func(int) time.Duration { return 0 }
	w := service.NewWorker(f.gen, sched, lock.NewLocalLocker(), time.Minute, nil)
	require.NoError(t, w.Start(q))
	poller := scheduler.NewPoller(f.store.Tasks(), q, time.Minute, nil)
	poller.Now = func() time.Time { return now }

	ctx := context.Background()
	_, tasks, err := sched.Launch(ctx, tenantID, c.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	n, err := poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	q.Wait()

	msgs := f.store.MessagesFor(c.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi sara, see you in Riyadh", msgs[0].RenderedContent)

	got, err := f.store.Campaigns().GetByID(ctx, tenantID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)

	// Nothing is left to claim.
	n, err = poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPausedCampaignTaskIsReleased(t *testing.T) {
	f := newFixture(t)
	c := broadcast(model.ChannelSMS, model.StopRules{})
	c.Status = model.StatusDraft
	f.campaign(t, c, smsTemplate())
	f.recipient(t, "sara", "Riyadh")

	sched := scheduler.New(f.store.Campaigns(), f.store.Tasks(), nil, nil)
	sched.Now = func() time.Time { return now }
	w := service.NewWorker(f.gen, sched, lock.NewLocalLocker(), time.Minute, nil)

	ctx := context.Background()
	_, tasks, err := sched.Launch(ctx, tenantID, c.ID)
	require.NoError(t, err)
	require.NoError(t, sched.Pause(ctx, tenantID, c.ID))

	payload, err := json.Marshal(tasks[0].Message())
	require.NoError(t, err)
	require.NoError(t, w.Handle(ctx, payload))
	assert.Empty(t, f.store.MessagesFor(c.ID))

	open, err := f.store.Tasks().CountOpen(ctx, tenantID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, open)
}
