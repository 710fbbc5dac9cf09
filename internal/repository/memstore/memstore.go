// Package memstore is an in-memory implementation of the repository
// interfaces. It enforces the same uniqueness and tenant rules as the
// postgres schema and is used by tests and local runs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/fatigue"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

// Hook is called at the start of every operation with its name and leading
// integer arguments. A non-nil error aborts the operation.
type Hook func(op string, args ...int) error

type Store struct {
	mu sync.Mutex

	campaigns  map[int]*model.Campaign
	templates  map[int]*model.Template
	recipients map[int]*model.Recipient
	messages   map[int]*model.OutboundMessage
	tasks      map[int]*model.GenerationTask
	events     []model.ActivityEvent
	nextID     int

	Hook Hook
	Now  func() time.Time
}

func New() *Store {
	return &Store{
		campaigns:  map[int]*model.Campaign{},
		templates:  map[int]*model.Template{},
		recipients: map[int]*model.Recipient{},
		messages:   map[int]*model.OutboundMessage{},
		tasks:      map[int]*model.GenerationTask{},
		Now:        time.Now,
	}
}

func (s *Store) hook(op string, args ...int) error {
	if s.Hook == nil {
		return nil
	}
	return s.Hook(op, args...)
}

func (s *Store) id() int {
	s.nextID++
	return s.nextID
}

func (s *Store) Campaigns() *Campaigns   { return &Campaigns{s} }
func (s *Store) Recipients() *Recipients { return &Recipients{s} }
func (s *Store) Messages() *Messages     { return &Messages{s} }
func (s *Store) Tasks() *Tasks           { return &Tasks{s} }
func (s *Store) Activity() *Activity     { return &Activity{s} }

// Events returns a copy of every recorded activity event.
func (s *Store) Events() []model.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ActivityEvent(nil), s.events...)
}

// EventsOfType filters Events by type.
func (s *Store) EventsOfType(typ string) []model.ActivityEvent {
	var out []model.ActivityEvent
	for _, e := range s.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// MessagesFor returns outbound messages of a campaign ordered by id.
func (s *Store) MessagesFor(campaignID int) []model.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OutboundMessage
	for _, m := range s.messages {
		if m.CampaignID == campaignID && m.Direction == model.DirectionOutbound {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ====================== Campaigns ======================

type Campaigns struct{ s *Store }

var _ repository.CampaignRepositoryInterface = (*Campaigns)(nil)

func (r *Campaigns) Create(_ context.Context, c *model.Campaign) error {
	s := r.s
	if err := s.hook("CreateCampaign"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	c.ID = s.id()
	c.CreatedAt = s.Now().UTC()
	for i := range c.Steps {
		c.Steps[i].ID = s.id()
		c.Steps[i].CampaignID = c.ID
	}
	s.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (r *Campaigns) CreateTemplate(_ context.Context, t *model.Template) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (r *Campaigns) GetByID(_ context.Context, tenantID, id int) (*model.Campaign, error) {
	s := r.s
	if err := s.hook("GetCampaign", tenantID, id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	out := cloneCampaign(c)
	for i := range out.Steps {
		if tpl, ok := s.templates[out.Steps[i].TemplateID]; ok && tpl.TenantID == tenantID {
			cp := *tpl
			out.Steps[i].Template = &cp
		} else {
			out.Steps[i].Template = nil
		}
	}
	return out, nil
}

func (r *Campaigns) ListCampaigns(_ context.Context, tenantID, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	s := r.s
	if err := s.hook("ListCampaigns", tenantID); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*model.Campaign
	for _, c := range s.campaigns {
		if c.TenantID != tenantID ||
			(channel != "" && string(c.Channel) != channel) ||
			(status != "" && string(c.Status) != status) {
			continue
		}
		cp := cloneCampaign(c)
		cp.Steps = nil
		all = append(all, cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *Campaigns) TransitionStatus(_ context.Context, tenantID, id int, from []model.CampaignStatus, to model.CampaignStatus, startAt *time.Time) (bool, error) {
	s := r.s
	if err := s.hook("TransitionStatus", tenantID, id); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			if startAt != nil {
				t := *startAt
				c.StartAt = &t
			}
			now := s.Now().UTC()
			c.UpdatedAt = &now
			return true, nil
		}
	}
	return false, nil
}

// SetStatus overrides a campaign status directly.
func (r *Campaigns) SetStatus(id int, status model.CampaignStatus) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.campaigns[id]; ok {
		c.Status = status
	}
}

// ====================== Recipients ======================

type Recipients struct{ s *Store }

var _ repository.RecipientRepositoryInterface = (*Recipients)(nil)

func (r *Recipients) Create(_ context.Context, rec *model.Recipient) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.id()
	s.recipients[rec.ID] = cloneRecipient(rec)
	return nil
}

func (r *Recipients) GetByID(_ context.Context, tenantID, id int) (*model.Recipient, error) {
	s := r.s
	if err := s.hook("GetRecipient", tenantID, id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recipients[id]
	if !ok || rec.TenantID != tenantID {
		return nil, appErrors.NewRecipientNotFound(id)
	}
	return cloneRecipient(rec), nil
}

func (r *Recipients) ListPage(_ context.Context, tenantID, afterID, limit int) ([]*model.Recipient, error) {
	s := r.s
	if err := s.hook("ListPage", tenantID, afterID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.recipients))
	for id, rec := range s.recipients {
		if rec.TenantID == tenantID && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*model.Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneRecipient(s.recipients[id]))
	}
	return out, nil
}

func (r *Recipients) HasConsent(_ context.Context, tenantID int, rec *model.Recipient, ch model.Channel) (bool, error) {
	s := r.s
	if err := s.hook("HasConsent", tenantID, rec.ID); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.recipients[rec.ID]
	if !ok || stored.TenantID != tenantID {
		return false, nil
	}
	return stored.HasConsent(ch), nil
}

// SetConsent changes a stored consent flag.
func (r *Recipients) SetConsent(id int, ch model.Channel, v bool) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rec, ok := r.s.recipients[id]; ok {
		if rec.Consent == nil {
			rec.Consent = map[model.Channel]bool{}
		}
		rec.Consent[ch] = v
	}
}

// Ledger returns a copy of the stored fatigue ledger.
func (r *Recipients) Ledger(id int) model.FatigueLedger {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rec, ok := r.s.recipients[id]; ok {
		return rec.Fatigue.Clone()
	}
	return nil
}

func (r *Recipients) UpdateLedger(_ context.Context, tenantID, recipientID int, fn fatigue.LedgerFunc) error {
	s := r.s
	if err := s.hook("UpdateLedger", tenantID, recipientID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recipients[recipientID]
	if !ok || rec.TenantID != tenantID {
		return appErrors.NewRecipientNotFound(recipientID)
	}
	ledger := rec.Fatigue.Clone()
	changed, events, err := fn(ledger)
	if err != nil {
		return err
	}
	if changed {
		rec.Fatigue = ledger
		s.events = append(s.events, events...)
	}
	return nil
}

// ====================== Messages ======================

type Messages struct{ s *Store }

var _ repository.OutboundMessageRepositoryInterface = (*Messages)(nil)

func (r *Messages) CreateQueued(_ context.Context, msg *model.OutboundMessage) (bool, error) {
	s := r.s
	if err := s.hook("CreateQueued", msg.TenantID, msg.RecipientID); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked(msg.TenantID, msg.CampaignID, msg.StepID, msg.RecipientID) {
		return false, nil
	}
	now := s.Now().UTC()
	msg.ID = s.id()
	msg.Direction = model.DirectionOutbound
	msg.Status = model.MessageQueued
	msg.CreatedAt, msg.UpdatedAt = now, now
	cp := cloneMessage(msg)
	s.messages[msg.ID] = &cp
	return true, nil
}

func (r *Messages) CreateInbound(_ context.Context, msg *model.OutboundMessage) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now().UTC()
	msg.ID = s.id()
	msg.Direction = model.DirectionInbound
	if msg.Status == "" {
		msg.Status = model.MessageDelivered
	}
	msg.CreatedAt, msg.UpdatedAt = now, now
	cp := cloneMessage(msg)
	s.messages[msg.ID] = &cp
	return nil
}

func (r *Messages) GetByID(_ context.Context, tenantID, id int) (*model.OutboundMessage, error) {
	s := r.s
	if err := s.hook("GetMessage", tenantID, id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.TenantID != tenantID {
		return nil, appErrors.NewMessageNotFound(id)
	}
	cp := cloneMessage(m)
	return &cp, nil
}

func (r *Messages) HasActive(_ context.Context, tenantID, campaignID, stepID, recipientID int) (bool, error) {
	s := r.s
	if err := s.hook("HasActive", tenantID, recipientID); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(tenantID, campaignID, stepID, recipientID), nil
}

func (s *Store) activeLocked(tenantID, campaignID, stepID, recipientID int) bool {
	for _, m := range s.messages {
		if m.TenantID == tenantID && m.CampaignID == campaignID && m.StepID == stepID &&
			m.RecipientID == recipientID && m.Direction == model.DirectionOutbound && m.Status.Active() {
			return true
		}
	}
	return false
}

func (r *Messages) HasInbound(_ context.Context, tenantID, campaignID, recipientID int) (bool, error) {
	s := r.s
	if err := s.hook("HasInbound", tenantID, recipientID); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.TenantID == tenantID && m.CampaignID == campaignID && m.RecipientID == recipientID && m.Direction == model.DirectionInbound {
			return true, nil
		}
	}
	return false, nil
}

func (r *Messages) MarkDispatched(_ context.Context, tenantID, id int, reference string) error {
	s := r.s
	if err := s.hook("MarkDispatched", tenantID, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.TenantID != tenantID {
		return nil
	}
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata[model.MetaDispatchRef] = reference
	m.UpdatedAt = s.Now().UTC()
	return nil
}

func (r *Messages) UpdateStatus(_ context.Context, tenantID, id int, from, to model.MessageStatus, providerID, lastError string) (bool, error) {
	s := r.s
	if err := s.hook("UpdateStatus", tenantID, id); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.TenantID != tenantID || m.Status != from {
		return false, nil
	}
	m.Status = to
	if providerID != "" {
		m.ProviderMessageID = providerID
	}
	m.LastError = lastError
	if to == model.MessageFailed {
		m.RetryCount++
	}
	m.UpdatedAt = s.Now().UTC()
	return true, nil
}

func (r *Messages) Stats(_ context.Context, tenantID, campaignID int) (map[string]int, error) {
	s := r.s
	if err := s.hook("Stats", tenantID, campaignID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := map[string]int{}
	for _, st := range []model.MessageStatus{model.MessageQueued, model.MessageSent, model.MessageDelivered, model.MessageRead, model.MessageFailed, model.MessageCancelled} {
		stats[string(st)] = 0
	}
	for _, m := range s.messages {
		if m.TenantID == tenantID && m.CampaignID == campaignID && m.Direction == model.DirectionOutbound {
			stats[string(m.Status)]++
		}
	}
	return stats, nil
}

// ====================== Tasks ======================

type Tasks struct{ s *Store }

var _ repository.TaskRepositoryInterface = (*Tasks)(nil)

func (r *Tasks) InsertTasks(_ context.Context, tasks []model.GenerationTask) (int, error) {
	s := r.s
	if err := s.hook("InsertTasks"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for i := range tasks {
		t := &tasks[i]
		if existing := s.taskLocked(t.CampaignID, t.StepID); existing != nil {
			t.ID = existing.ID
			continue
		}
		t.ID = s.id()
		t.Status = model.TaskPending
		cp := *t
		s.tasks[t.ID] = &cp
		inserted++
	}
	return inserted, nil
}

func (s *Store) taskLocked(campaignID, stepID int) *model.GenerationTask {
	for _, t := range s.tasks {
		if t.CampaignID == campaignID && t.StepID == stepID {
			return t
		}
	}
	return nil
}

func (r *Tasks) ClaimDue(_ context.Context, now time.Time, visibility time.Duration, limit int) ([]model.GenerationTask, error) {
	s := r.s
	if err := s.hook("ClaimDue"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*model.GenerationTask
	for _, t := range s.tasks {
		c, ok := s.campaigns[t.CampaignID]
		if !ok || c.Status != model.StatusRunning || t.DueAt.After(now) {
			continue
		}
		stale := t.Status == model.TaskDispatched && t.ClaimedAt != nil && t.ClaimedAt.Before(now.Add(-visibility))
		if t.Status == model.TaskPending || stale {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].DueAt.Before(due[j].DueAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]model.GenerationTask, 0, len(due))
	for _, t := range due {
		claimed := now
		t.Status = model.TaskDispatched
		t.ClaimedAt = &claimed
		t.Attempts++
		out = append(out, *t)
	}
	return out, nil
}

func (r *Tasks) MarkDone(_ context.Context, tenantID, id int, at time.Time) error {
	s := r.s
	if err := s.hook("MarkDone", tenantID, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok && t.TenantID == tenantID {
		t.Status = model.TaskDone
		done := at
		t.CompletedAt = &done
	}
	return nil
}

func (r *Tasks) Release(_ context.Context, tenantID, id int) error {
	s := r.s
	if err := s.hook("Release", tenantID, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok && t.TenantID == tenantID && t.Status != model.TaskDone {
		t.Status = model.TaskPending
		t.ClaimedAt = nil
	}
	return nil
}

func (r *Tasks) CountOpen(_ context.Context, tenantID, campaignID int) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.TenantID == tenantID && t.CampaignID == campaignID && t.Status != model.TaskDone {
			n++
		}
	}
	return n, nil
}

func (r *Tasks) ListByCampaign(_ context.Context, tenantID, campaignID int) ([]model.GenerationTask, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.GenerationTask{}
	for _, t := range s.tasks {
		if t.TenantID == tenantID && t.CampaignID == campaignID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out, nil
}

// ====================== Activity ======================

type Activity struct{ s *Store }

var _ repository.ActivityRepositoryInterface = (*Activity)(nil)

func (r *Activity) InsertEvents(_ context.Context, events []model.ActivityEvent) error {
	s := r.s
	if err := s.hook("InsertEvents"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// ====================== copies ======================

func cloneCampaign(c *model.Campaign) *model.Campaign {
	cp := *c
	cp.Steps = append([]model.Step(nil), c.Steps...)
	cp.StopRules.TerminalStatuses = append([]string(nil), c.StopRules.TerminalStatuses...)
	return &cp
}

func cloneRecipient(r *model.Recipient) *model.Recipient {
	cp := *r
	if r.Fields != nil {
		cp.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			cp.Fields[k] = v
		}
	}
	if r.Consent != nil {
		cp.Consent = make(map[model.Channel]bool, len(r.Consent))
		for k, v := range r.Consent {
			cp.Consent[k] = v
		}
	}
	cp.Fatigue = r.Fatigue.Clone()
	return &cp
}

func cloneMessage(m *model.OutboundMessage) model.OutboundMessage {
	cp := *m
	if m.Metadata != nil {
		cp.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}
