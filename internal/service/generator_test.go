package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/stoprule"
)

func TestGenerateQueuesOnePerMatchingRecipient(t *testing.T) {
	f := newFixture(t)
	c := broadcast(model.ChannelSMS, model.StopRules{})
	c.Audience = riyadh()
	f.campaign(t, c, smsTemplate())
	sara := f.recipient(t, "sara", "Riyadh")
	f.recipient(t, "omar", "Jeddah")
	f.recipient(t, "lina", "riyadh")

	report, err := f.run(c, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Considered)
	assert.Equal(t, 2, report.Queued)
	assert.Equal(t, 1, report.Skipped[string(stoprule.SkipAudience)])

	msgs := f.store.MessagesFor(c.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, sara.ID, msgs[0].RecipientID)
	assert.Equal(t, model.MessageQueued, msgs[0].Status)
	assert.Equal(t, "Hi sara, see you in Riyadh", msgs[0].RenderedContent)
	assert.Equal(t, "+9665sara", msgs[0].ToAddress)
	assert.Equal(t, "ref-+9665sara", msgs[0].Metadata[model.MetaDispatchRef])
	assert.Len(t, f.dispatcher.Sent(), 2)
	assert.Len(t, f.store.EventsOfType(model.EventGenerationCompleted), 1)
}

func TestGenerateRerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{}), smsTemplate())
	f.recipient(t, "sara", "Riyadh")
	f.recipient(t, "omar", "Jeddah")

	_, err := f.run(c, 0)
	require.NoError(t, err)
	report, err := f.run(c, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Queued)
	assert.Equal(t, 2, report.Skipped[string(stoprule.SkipDuplicate)])
	assert.Len(t, f.store.MessagesFor(c.ID), 2)
	assert.Len(t, f.dispatcher.Sent(), 2)
}

func TestGenerateStopRules(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{OptOut: true, WonLost: true, Replied: true}), smsTemplate())

	ok := f.recipient(t, "sara", "Riyadh")
	won := f.recipient(t, "omar", "Riyadh", func(r *model.Recipient) { r.Status = "won" })
	lost := f.recipient(t, "nora", "Riyadh", func(r *model.Recipient) { r.Status = "Lost" })
	optedOut := f.recipient(t, "lina", "Riyadh", func(r *model.Recipient) { r.Consent[model.ChannelSMS] = false })
	replied := f.recipient(t, "ali", "Riyadh")
	require.NoError(t, f.store.Messages().CreateInbound(context.Background(), &model.OutboundMessage{
		TenantID: tenantID, CampaignID: c.ID, RecipientID: replied.ID, Channel: model.ChannelSMS, RenderedContent: "stop please",
	}))

	report, err := f.run(c, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Queued)
	assert.Equal(t, 2, report.Skipped[string(stoprule.SkipWonLost)])
	assert.Equal(t, 1, report.Skipped[string(stoprule.SkipOptOut)])
	assert.Equal(t, 1, report.Skipped[string(stoprule.SkipReplied)])

	msgs := f.store.MessagesFor(c.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, ok.ID, msgs[0].RecipientID)
	for _, m := range msgs {
		assert.NotContains(t, []int{won.ID, lost.ID, optedOut.ID, replied.ID}, m.RecipientID)
	}
}

func TestConsentWithdrawnAfterLoadIsHonoured(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{OptOut: true}), smsTemplate())
	r := f.recipient(t, "sara", "Riyadh")
	f.store.Recipients().SetConsent(r.ID, model.ChannelSMS, false)

	report, err := f.run(c, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Queued)
	assert.Equal(t, 1, report.Skipped[string(stoprule.SkipOptOut)])
}

func TestGenerateSkipsMissingAddressAndEmptyRender(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, broadcast(model.ChannelEmail, model.StopRules{}), &model.Template{Body: "{{#if city=Riyadh}}Hello {{first_name}}{{/if}}"})
	f.recipient(t, "sara", "Riyadh", func(r *model.Recipient) { r.Email = "" })
	f.recipient(t, "omar", "Jeddah")
	f.recipient(t, "lina", "Riyadh")

	report, err := f.run(c, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Queued)
	assert.Equal(t, 1, report.Skipped[string(stoprule.SkipNoAddress)])
	assert.Equal(t, 1, report.Skipped[string(stoprule.SkipEmptyRender)])
}

func TestGenerateWhatsAppMetadata(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, broadcast(model.ChannelWhatsApp, model.StopRules{}), &model.Template{
		Body:         "{{#lang ar}}مرحبا {{first_name|عميل}}{{/lang}}{{#lang en}}Hello {{first_name|customer}}{{/lang}}",
		MediaURL:     "https://cdn.example.com/{{city}}.jpg",
		MediaCaption: "Offer for {{first_name}}",
		MediaType:    "image",
	})
	f.recipient(t, "", "Riyadh", func(r *model.Recipient) { r.Locale = "ar_SA"; r.Phone = "+966500" })

	_, err := f.run(c, 0)
	require.NoError(t, err)
	msgs := f.store.MessagesFor(c.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "مرحبا عميل", msgs[0].RenderedContent)
	assert.Equal(t, "https://cdn.example.com/Riyadh.jpg", msgs[0].Metadata[model.MetaMediaURL])
	assert.Equal(t, "image", msgs[0].Metadata[model.MetaMediaType])
	assert.Equal(t, "Offer for ", msgs[0].Metadata[model.MetaMediaCaption])
}

func TestDripStepsAreIndependent(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, &model.Campaign{
		Name:    "onboarding",
		Channel: model.ChannelEmail,
		Kind:    model.KindDrip,
		Steps: []model.Step{
			{Position: 1, Active: true},
			{Position: 2, Active: true, DelayMinutes: 60},
		},
	}, &model.Template{Subject: "Welcome {{first_name}}", Body: "Step body"})
	f.recipient(t, "sara", "Riyadh")

	_, err := f.run(c, 0)
	require.NoError(t, err)
	_, err = f.run(c, 1)
	require.NoError(t, err)

	msgs := f.store.MessagesFor(c.ID)
	require.Len(t, msgs, 2)
	assert.NotEqual(t, msgs[0].StepID, msgs[1].StepID)
	assert.Equal(t, "Welcome sara", msgs[0].Subject)
}

func TestDispatchFailureMarksFailedAndRetryRequeues(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{}), smsTemplate())
	f.recipient(t, "sara", "Riyadh")
	f.dispatcher.failTo["+9665sara"] = true

	report, err := f.run(c, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Queued)
	assert.Equal(t, 1, report.Skipped[string(stoprule.SkipDispatchFailed)])
	msgs := f.store.MessagesFor(c.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageFailed, msgs[0].Status)
	assert.Equal(t, "provider unavailable", msgs[0].LastError)

	// A failed record does not block the next attempt.
	delete(f.dispatcher.failTo, "+9665sara")
	report, err = f.run(c, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Queued)
	assert.Len(t, f.store.MessagesFor(c.ID), 2)
}

func TestRecipientInfraErrorDoesNotAbortRun(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{}), smsTemplate())
	f.recipient(t, "sara", "Riyadh")
	bad := f.recipient(t, "omar", "Riyadh")
	f.recipient(t, "lina", "Riyadh")

	f.store.Hook = func(op string, args ...int) error {
		if op == "HasActive" && args[1] == bad.ID {
			return errors.New("connection reset")
		}
		return nil
	}
	report, err := f.run(c, 0)
	assert.ErrorIs(t, err, appErrors.ErrPartialRun)
	assert.Equal(t, 2, report.Queued)
	assert.Equal(t, 1, report.Errors)

	// The retry only adds the missing recipient.
	f.store.Hook = nil
	report, err = f.run(c, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Queued)
	assert.Equal(t, 2, report.Skipped[string(stoprule.SkipDuplicate)])
	assert.Len(t, f.store.MessagesFor(c.ID), 3)
}

func TestListFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{}), smsTemplate())
	boom := errors.New("db down")
	f.store.Hook = func(op string, _ ...int) error {
		if op == "ListPage" {
			return boom
		}
		return nil
	}
	_, err := f.run(c, 0)
	assert.ErrorIs(t, err, boom)
}

func TestPagingCoversEveryRecipient(t *testing.T) {
	f := newFixture(t)
	f.gen.PageSize = 2
	c := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{}), smsTemplate())
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		f.recipient(t, name, "Riyadh")
	}
	report, err := f.run(c, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Considered)
	assert.Equal(t, 5, report.Queued)
}

func TestCampaignMustBeRunning(t *testing.T) {
	f := newFixture(t)
	c := broadcast(model.ChannelSMS, model.StopRules{})
	c.Status = model.StatusPaused
	f.campaign(t, c, smsTemplate())
	f.recipient(t, "sara", "Riyadh")

	_, err := f.run(c, 0)
	assert.ErrorIs(t, err, appErrors.ErrCampaignNotRunning)
	assert.Empty(t, f.store.MessagesFor(c.ID))
}

func TestConfigurationProblemsEndStepWithWarning(t *testing.T) {
	f := newFixture(t)
	f.recipient(t, "sara", "Riyadh")

	missing := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{}), nil)
	report, err := f.run(missing, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Warning)

	broken := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{}), &model.Template{Body: "{{#if city=Riyadh}}unterminated"})
	report, err = f.run(broken, 0)
	require.NoError(t, err)
	assert.Contains(t, report.Warning, "body")

	assert.Empty(t, f.store.MessagesFor(missing.ID))
	assert.Empty(t, f.store.MessagesFor(broken.ID))
}

func TestUnknownStepIsNotFound(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{}), smsTemplate())
	_, err := f.gen.Generate(context.Background(), model.TaskMessage{TenantID: tenantID, CampaignID: c.ID, StepID: 9999})
	assert.True(t, appErrors.IsNotFound(err))
}

func TestCancelledContextStopsRun(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, broadcast(model.ChannelSMS, model.StopRules{}), smsTemplate())
	f.recipient(t, "sara", "Riyadh")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.gen.Generate(ctx, model.TaskMessage{TenantID: tenantID, CampaignID: c.ID, StepID: c.Steps[0].ID})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.store.MessagesFor(c.ID))
}
