// Package stoprule decides whether a recipient may receive a campaign step.
package stoprule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/unclebandit/campaign-engine/internal/audience"
	"github.com/unclebandit/campaign-engine/internal/fatigue"
	"github.com/unclebandit/campaign-engine/internal/model"
)

type SkipReason string

const (
	SkipAudience          SkipReason = "audience"
	SkipOptOut            SkipReason = "opt_out"
	SkipWonLost           SkipReason = "won_lost"
	SkipReplied           SkipReason = "replied"
	SkipFatigueSuppressed SkipReason = "fatigue_suppressed"
	SkipFatigueSunset     SkipReason = "fatigue_sunset"
	SkipDuplicate         SkipReason = "duplicate"
	SkipNoAddress         SkipReason = "no_address"
	SkipEmptyRender       SkipReason = "empty_render"
	SkipQuotaExhausted    SkipReason = "reengagement_quota"
	SkipDispatchFailed    SkipReason = "dispatch_failed"
	SkipError             SkipReason = "error"
)

// Decision is the outcome for one recipient.
type Decision struct {
	Eligible bool
	Reason   SkipReason
	// Reengagement is set when the send was admitted on reengagement quota.
	Reengagement bool
}

func skip(r SkipReason) Decision { return Decision{Reason: r} }

// ConsentLookup answers whether a recipient consented to a channel.
type ConsentLookup interface {
	HasConsent(ctx context.Context, tenantID int, r *model.Recipient, ch model.Channel) (bool, error)
}

// ReplyLookup answers whether a recipient wrote back in a campaign thread.
type ReplyLookup interface {
	HasInbound(ctx context.Context, tenantID, campaignID, recipientID int) (bool, error)
}

// DuplicateLookup answers whether an active outbound message already exists
// for the campaign step and recipient.
type DuplicateLookup interface {
	HasActive(ctx context.Context, tenantID, campaignID, stepID, recipientID int) (bool, error)
}

// FatigueChecker is satisfied by *fatigue.Service.
type FatigueChecker interface {
	Check(ctx context.Context, key fatigue.Key, campaignID int, p fatigue.Policy, reengagement bool) (fatigue.Verdict, error)
}

type Filter struct {
	Matcher    *audience.Matcher
	Consent    ConsentLookup
	Replies    ReplyLookup
	Fatigue    FatigueChecker
	Duplicates DuplicateLookup
}

// Eligible runs the stop rules in order and stops at the first failure:
// audience, consent, won/lost, replied, duplicate, fatigue. Skips are not
// errors; an error means a lookup failed.
func (f *Filter) Eligible(ctx context.Context, c *model.Campaign, s model.Step, r *model.Recipient) (Decision, error) {
	rules := c.StopRules.WithDefaults()
	ch := c.StepChannel(s)

	if !f.Matcher.Matches(c.Audience, r) {
		return skip(SkipAudience), nil
	}

	if rules.OptOut {
		ok, err := f.Consent.HasConsent(ctx, c.TenantID, r, ch)
		if err != nil {
			return Decision{}, fmt.Errorf("consent lookup: %w", err)
		}
		if !ok {
			return skip(SkipOptOut), nil
		}
	}

	if rules.WonLost && isTerminal(r.Status, rules.TerminalStatuses) {
		return skip(SkipWonLost), nil
	}

	if rules.Replied {
		replied, err := f.Replies.HasInbound(ctx, c.TenantID, c.ID, r.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("reply lookup: %w", err)
		}
		if replied {
			return skip(SkipReplied), nil
		}
	}

	// Duplicates are checked first: the fatigue check commits transitions.
	dup, err := f.Duplicates.HasActive(ctx, c.TenantID, c.ID, s.ID, r.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("duplicate lookup: %w", err)
	}
	if dup {
		return skip(SkipDuplicate), nil
	}

	var reengagement bool
	if rules.FatigueEnabled {
		key := fatigue.Key{TenantID: c.TenantID, RecipientID: r.ID, Channel: ch}
		v, err := f.Fatigue.Check(ctx, key, c.ID, fatigue.PolicyFor(rules), rules.Reengagement)
		if err != nil {
			return Decision{}, fmt.Errorf("fatigue check: %w", err)
		}
		if !v.Allowed {
			if v.State == model.FatigueSunset {
				return skip(SkipFatigueSunset), nil
			}
			return skip(SkipFatigueSuppressed), nil
		}
		reengagement = v.Reengagement
	}

	return Decision{Eligible: true, Reengagement: reengagement}, nil
}

func isTerminal(status string, terminal []string) bool {
	status = strings.TrimSpace(status)
	for _, t := range terminal {
		if strings.EqualFold(status, t) {
			return true
		}
	}
	return false
}

// Tally counts skip reasons across a run. Safe for concurrent use.
type Tally struct {
	mu     sync.Mutex
	counts map[SkipReason]int
}

func (t *Tally) Add(r SkipReason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts == nil {
		t.counts = map[SkipReason]int{}
	}
	t.counts[r]++
}

func (t *Tally) Count(r SkipReason) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[r]
}

func (t *Tally) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.counts {
		n += c
	}
	return n
}

// Snapshot returns the counts keyed by reason name.
func (t *Tally) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counts))
	for r, c := range t.counts {
		out[string(r)] = c
	}
	return out
}

// String renders the counts in a stable order for logs.
func (t *Tally) String() string {
	snap := t.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, snap[k]))
	}
	return strings.Join(parts, " ")
}
