package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

func TestValidateBroadcast(t *testing.T) {
	c := &model.Campaign{
		Channel: model.ChannelSMS,
		Kind:    model.KindBroadcast,
		Steps:   []model.Step{{ID: 1, Position: 1, Active: true}},
	}
	require.NoError(t, c.Validate())

	c.Steps[0].DelayMinutes = 10
	assertValidation(t, c.Validate())

	c.Steps = []model.Step{{ID: 1, Position: 1, Active: true}, {ID: 2, Position: 2, Active: true, DelayMinutes: 5}}
	assertValidation(t, c.Validate())

	// An inactive extra step is fine.
	c.Steps[1].Active = false
	require.NoError(t, c.Validate())
}

func TestValidateDrip(t *testing.T) {
	c := &model.Campaign{
		Channel: model.ChannelEmail,
		Kind:    model.KindDrip,
		Steps: []model.Step{
			{ID: 1, Position: 1, Active: true},
			{ID: 2, Position: 2, Active: true, DelayMinutes: 60},
		},
	}
	require.NoError(t, c.Validate())

	c.Steps[1].DelayMinutes = 0
	assertValidation(t, c.Validate())

	c.StopRules.AllowParallelImmediate = true
	require.NoError(t, c.Validate())

	c.Steps[1].Position = 1
	assertValidation(t, c.Validate())
}

func TestValidateRejectsBadChannelAndNoSteps(t *testing.T) {
	c := &model.Campaign{Channel: "fax", Kind: model.KindDrip}
	assertValidation(t, c.Validate())

	c.Channel = model.ChannelSMS
	assertValidation(t, c.Validate())
}

func TestStopRulesDefaults(t *testing.T) {
	s := model.StopRules{}.WithDefaults()
	assert.Equal(t, model.DefaultFatigueThreshold, s.FatigueThresholdMessages)
	assert.Equal(t, model.DefaultReengagementMessage, s.FatigueReengagementMessages)
	assert.Equal(t, []string{"won", "lost"}, s.TerminalStatuses)
	assert.False(t, s.FatigueEnabled)

	custom := model.StopRules{FatigueThresholdMessages: 2, TerminalStatuses: []string{"closed"}}.WithDefaults()
	assert.Equal(t, 2, custom.FatigueThresholdMessages)
	assert.Equal(t, []string{"closed"}, custom.TerminalStatuses)
}

func TestRecipientAttr(t *testing.T) {
	r := &model.Recipient{FirstName: "Sara", LastName: "Ali", Locale: "ar_SA", Fields: map[string]string{"City": "Riyadh"}}

	v, ok := r.Attr("first_name")
	assert.True(t, ok)
	assert.Equal(t, "Sara", v)

	v, ok = r.Attr("city")
	assert.True(t, ok)
	assert.Equal(t, "Riyadh", v)

	_, ok = r.Attr("interest")
	assert.False(t, ok)

	assert.Equal(t, "Sara Ali", mustAttr(t, r, "full_name"))
}

func TestRecipientAddress(t *testing.T) {
	r := &model.Recipient{Email: " a@example.com ", Phone: "+966500000000"}
	assert.Equal(t, "a@example.com", r.Address(model.ChannelEmail))
	assert.Equal(t, "+966500000000", r.Address(model.ChannelWhatsApp))
	assert.Equal(t, "", (&model.Recipient{}).Address(model.ChannelSMS))
}

func TestMessageStatusActive(t *testing.T) {
	assert.True(t, model.MessageQueued.Active())
	assert.True(t, model.MessageSent.Active())
	assert.False(t, model.MessageFailed.Active())
	assert.False(t, model.MessageCancelled.Active())
}

func mustAttr(t *testing.T, r *model.Recipient, name string) string {
	t.Helper()
	v, ok := r.Attr(name)
	require.True(t, ok)
	return v
}

func assertValidation(t *testing.T, err error) {
	t.Helper()
	var v *appErrors.ErrValidation
	assert.True(t, errors.As(err, &v), "expected validation error, got %v", err)
}
