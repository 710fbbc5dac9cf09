package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/scheduler"
	"github.com/unclebandit/campaign-engine/internal/service"
)

func (f *fixture) campaignService() *service.CampaignService {
	sched := scheduler.New(f.store.Campaigns(), f.store.Tasks(), nil, nil)
	sched.Now = func() time.Time { return now }
	return &service.CampaignService{
		CampaignRepo:  f.store.Campaigns(),
		RecipientRepo: f.store.Recipients(),
		OutboundRepo:  f.store.Messages(),
		TaskRepo:      f.store.Tasks(),
		Scheduler:     sched,
	}
}

func TestRenderPreview(t *testing.T) {
	f := newFixture(t)
	svc := f.campaignService()
	c := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{}), smsTemplate())
	sara := f.recipient(t, "sara", "Riyadh")
	anon := f.recipient(t, "", "Dammam")

	p, err := svc.RenderPreview(context.Background(), tenantID, c.ID, 0, sara.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, c.Steps[0].ID, p.StepID)
	assert.Equal(t, "Hi sara, see you in Riyadh", p.Body)
	assert.Equal(t, "+9665sara", p.To)

	p, err = svc.RenderPreview(context.Background(), tenantID, c.ID, 0, anon.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi there, new offers", p.Body)

	// Previews never create messages.
	assert.Empty(t, f.store.MessagesFor(c.ID))
}

func TestRenderPreviewOverride(t *testing.T) {
	f := newFixture(t)
	svc := f.campaignService()
	c := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{}), smsTemplate())
	sara := f.recipient(t, "sara", "Riyadh")

	p, err := svc.RenderPreview(context.Background(), tenantID, c.ID, 0, sara.ID, &model.Template{Body: "Draft for {{city}}"})
	require.NoError(t, err)
	assert.Equal(t, "Draft for Riyadh", p.Body)

	// A blank override keeps the stored template.
	p, err = svc.RenderPreview(context.Background(), tenantID, c.ID, 0, sara.ID, &model.Template{Body: "  "})
	require.NoError(t, err)
	assert.Equal(t, "Hi sara, see you in Riyadh", p.Body)

	_, err = svc.RenderPreview(context.Background(), tenantID, c.ID, 0, sara.ID, &model.Template{Body: "{{#if city}}open"})
	var verr *appErrors.ErrValidation
	assert.ErrorAs(t, err, &verr)
}

func TestRenderPreviewErrors(t *testing.T) {
	f := newFixture(t)
	svc := f.campaignService()
	c := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{}), smsTemplate())
	sara := f.recipient(t, "sara", "Riyadh")
	ctx := context.Background()

	_, err := svc.RenderPreview(ctx, tenantID, 999, 0, sara.ID, nil)
	assert.True(t, appErrors.IsNotFound(err))

	_, err = svc.RenderPreview(ctx, tenantID, c.ID, 999, sara.ID, nil)
	assert.True(t, appErrors.IsNotFound(err))

	_, err = svc.RenderPreview(ctx, tenantID, c.ID, 0, 999, nil)
	assert.True(t, appErrors.IsNotFound(err))

	// Other tenants see nothing.
	_, err = svc.RenderPreview(ctx, tenantID+1, c.ID, 0, sara.ID, nil)
	assert.True(t, appErrors.IsNotFound(err))
}

func TestCampaignDetailsWithStats(t *testing.T) {
	f := newFixture(t)
	svc := f.campaignService()
	c := broadcast(model.ChannelSMS, model.StopRules{})
	c.Status = model.StatusDraft
	f.campaign(t, c, smsTemplate())
	f.recipient(t, "sara", "Riyadh")
	f.recipient(t, "omar", "Riyadh")
	ctx := context.Background()

	_, _, err := svc.Launch(ctx, tenantID, c.ID)
	require.NoError(t, err)
	_, err = f.run(c, 0)
	require.NoError(t, err)
	f.receipt(t, f.store.MessagesFor(c.ID)[0].ID, model.MessageDelivered)

	d, err := svc.GetCampaignDetailsWithStats(ctx, tenantID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, d.Status)
	require.NotNil(t, d.StartAt)
	assert.Equal(t, now, *d.StartAt)
	assert.Len(t, d.Steps, 1)
	require.Len(t, d.Tasks, 1)
	assert.Equal(t, model.TaskPending, d.Tasks[0].Status)
	assert.Equal(t, 2, d.Stats["total"])
	assert.Equal(t, 1, d.Stats["delivered"])
	assert.Equal(t, 1, d.Stats["queued"])
	assert.Equal(t, 0, d.Stats["failed"])
}

func TestCampaignLifecycle(t *testing.T) {
	f := newFixture(t)
	svc := f.campaignService()
	c := broadcast(model.ChannelSMS, model.StopRules{})
	c.Status = model.StatusDraft
	f.campaign(t, c, smsTemplate())
	ctx := context.Background()

	var invalid *appErrors.ErrInvalidStatus
	assert.ErrorAs(t, svc.Pause(ctx, tenantID, c.ID), &invalid)

	_, _, err := svc.Launch(ctx, tenantID, c.ID)
	require.NoError(t, err)
	_, _, err = svc.Launch(ctx, tenantID, c.ID)
	assert.ErrorAs(t, err, &invalid)

	require.NoError(t, svc.Pause(ctx, tenantID, c.ID))
	assert.ErrorAs(t, svc.Pause(ctx, tenantID, c.ID), &invalid)
	require.NoError(t, svc.Resume(ctx, tenantID, c.ID))

	got, err := f.store.Campaigns().GetByID(ctx, tenantID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
}
