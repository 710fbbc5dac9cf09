package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-engine/internal/activity"
	"github.com/unclebandit/campaign-engine/internal/audience"
	"github.com/unclebandit/campaign-engine/internal/fatigue"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository/memstore"
	"github.com/unclebandit/campaign-engine/internal/service"
)

const tenantID = 1

var now = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

// MockDispatcher records every handed-off message.
type MockDispatcher struct {
	mu     sync.Mutex
	sent   []model.OutboundMessage
	failTo map[string]bool
}

func (d *MockDispatcher) Dispatch(_ context.Context, msg *model.OutboundMessage) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failTo[msg.ToAddress] {
		return "", errors.New("provider unavailable")
	}
	d.sent = append(d.sent, *msg)
	return "ref-" + msg.ToAddress, nil
}

func (d *MockDispatcher) Sent() []model.OutboundMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.OutboundMessage(nil), d.sent...)
}

type fixture struct {
	store      *memstore.Store
	fatigue    *fatigue.Service
	dispatcher *MockDispatcher
	gen        *service.MessageGenerator
	delivery   *service.DeliveryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	store.Now = func() time.Time { return now }
	fat := fatigue.NewService(store.Recipients(), nil)
	fat.Now = func() time.Time { return now }
	d := &MockDispatcher{failTo: map[string]bool{}}
	sink := activity.NewLoggingSink(store.Activity(), nil)
	return &fixture{
		store:      store,
		fatigue:    fat,
		dispatcher: d,
		gen:        service.NewMessageGenerator(store.Campaigns(), store.Recipients(), store.Messages(), fat, d, sink, nil),
		delivery:   service.NewDeliveryService(store.Messages(), store.Campaigns(), fat, nil),
	}
}

// campaign stores tpl and a running campaign whose steps all use it.
func (f *fixture) campaign(t *testing.T, c *model.Campaign, tpl *model.Template) *model.Campaign {
	t.Helper()
	ctx := context.Background()
	c.TenantID = tenantID
	if c.Status == "" {
		c.Status = model.StatusRunning
	}
	if tpl != nil {
		tpl.TenantID = tenantID
		require.NoError(t, f.store.Campaigns().CreateTemplate(ctx, tpl))
		for i := range c.Steps {
			c.Steps[i].TemplateID = tpl.ID
		}
	}
	require.NoError(t, f.store.Campaigns().Create(ctx, c))
	return c
}

func broadcast(ch model.Channel, rules model.StopRules) *model.Campaign {
	return &model.Campaign{
		Name:      "promo",
		Channel:   ch,
		Kind:      model.KindBroadcast,
		StopRules: rules,
		Steps:     []model.Step{{Position: 1, Active: true}},
	}
}

func (f *fixture) recipient(t *testing.T, first, city string, mutate ...func(*model.Recipient)) *model.Recipient {
	t.Helper()
	r := &model.Recipient{
		TenantID:  tenantID,
		FirstName: first,
		Email:     first + "@example.com",
		Phone:     "+9665" + first,
		Status:    "open",
		Fields:    map[string]string{"city": city},
		Consent:   map[model.Channel]bool{model.ChannelSMS: true, model.ChannelEmail: true, model.ChannelWhatsApp: true},
	}
	for _, m := range mutate {
		m(r)
	}
	require.NoError(t, f.store.Recipients().Create(context.Background(), r))
	return r
}

func (f *fixture) run(c *model.Campaign, step int) (*service.GenerationReport, error) {
	return f.gen.Generate(context.Background(), model.TaskMessage{
		TaskID:     100 + step,
		TenantID:   c.TenantID,
		CampaignID: c.ID,
		StepID:     c.Steps[step].ID,
	})
}

func riyadh() *audience.Node {
	n := audience.Leaf("city", audience.OpEquals, "Riyadh")
	return &n
}

func smsTemplate() *model.Template {
	return &model.Template{Name: "promo", Body: "Hi {{first_name|there}}, {{#if city=Riyadh}}see you in Riyadh{{else}}new offers{{/if}}"}
}

func fatigueKey(recipientID int, ch model.Channel) fatigue.Key {
	return fatigue.Key{TenantID: tenantID, RecipientID: recipientID, Channel: ch}
}
