// Package fatigue tracks per-recipient, per-channel contact fatigue.
//
// States move active -> suppressed -> reengagement -> sunset. Sunset is
// terminal for automated flows; only a manual reset leaves it.
package fatigue

import (
	"time"

	"github.com/unclebandit/campaign-engine/internal/model"
)

// Policy carries the thresholds of the campaign driving a transition.
type Policy struct {
	// Threshold is the sent count that suppresses an active channel.
	// Zero disables suppression.
	Threshold int
	// ReengagementQuota is how many sends a reengagement journey may spend on
	// a suppressed channel before it is sunset.
	ReengagementQuota int
}

// PolicyFor derives a Policy from campaign stop rules. Campaigns with
// fatigue disabled produce the zero policy.
func PolicyFor(rules model.StopRules) Policy {
	if !rules.FatigueEnabled {
		return Policy{}
	}
	rules = rules.WithDefaults()
	return Policy{
		Threshold:         rules.FatigueThresholdMessages,
		ReengagementQuota: rules.FatigueReengagementMessages,
	}
}

type EventKind int

const (
	// EventSent is a delivery confirmed as sent.
	EventSent EventKind = iota + 1
	// EventEvaluate applies pending threshold transitions before an
	// eligibility decision.
	EventEvaluate
	// EventReengagementSend spends one unit of reengagement quota.
	EventReengagementSend
	// EventReengaged is an external signal that the recipient engaged again.
	EventReengaged
	// EventReset is a manual reset of the channel record.
	EventReset
	// EventReengagementRefund returns a unit of quota spent on a send that
	// never left the system.
	EventReengagementRefund
)

type Event struct {
	Kind EventKind
	// Reengagement marks an evaluation made for a reengagement journey.
	Reengagement bool
}

// Transition records a state change produced by Advance.
type Transition struct {
	From  model.FatigueState
	To    model.FatigueState
	Cause EventKind
}

// Advance is the total transition function of the channel state machine.
// It never mutates its input.
func Advance(cf model.ChannelFatigue, ev Event, p Policy, now time.Time) (model.ChannelFatigue, []Transition) {
	if cf.State == "" {
		cf.State = model.FatigueActive
	}
	from := cf.State
	var out []Transition
	move := func(to model.FatigueState) {
		out = append(out, Transition{From: cf.State, To: to, Cause: ev.Kind})
		cf.State = to
	}
	touched := false

	switch ev.Kind {
	case EventSent:
		cf.SentCount++
		touched = true
		if cf.State == model.FatigueActive && overThreshold(cf, p) {
			move(model.FatigueSuppressed)
			cf.SuppressedAt = stamp(now)
		}

	case EventEvaluate:
		if cf.State == model.FatigueActive && overThreshold(cf, p) {
			move(model.FatigueSuppressed)
			cf.SuppressedAt = stamp(now)
		}
		if ev.Reengagement && suppressedLike(cf.State) && cf.ReengagementUsed >= p.ReengagementQuota {
			move(model.FatigueSunset)
			cf.SunsetAt = stamp(now)
		}

	case EventReengagementSend:
		if suppressedLike(cf.State) {
			cf.ReengagementUsed++
			touched = true
			if cf.State != model.FatigueReengagement {
				move(model.FatigueReengagement)
			}
		}

	case EventReengagementRefund:
		if cf.ReengagementUsed > 0 {
			cf.ReengagementUsed--
			touched = true
		}

	case EventReengaged:
		if suppressedLike(cf.State) {
			move(model.FatigueActive)
			cf.SentCount = 0
			cf.ReengagementUsed = 0
			cf.SuppressedAt = nil
		}

	case EventReset:
		reset := model.ChannelFatigue{State: model.FatigueActive}
		if cf.State != model.FatigueActive {
			out = append(out, Transition{From: cf.State, To: model.FatigueActive, Cause: ev.Kind})
		}
		touched = cf.SentCount != 0 || cf.ReengagementUsed != 0 || len(out) > 0
		cf = reset
	}

	if touched || cf.State != from {
		cf.UpdatedAt = stamp(now)
	}
	return cf, out
}

// Verdict is the read-side outcome for one send attempt.
type Verdict struct {
	Allowed bool
	// Reengagement is set when the send is allowed only as a reengagement
	// attempt and must spend quota.
	Reengagement bool
	State        model.FatigueState
}

// Decide reports whether a send may proceed from the given record. Callers
// apply EventEvaluate first so pending transitions are reflected.
func Decide(cf model.ChannelFatigue, p Policy, reengagement bool) Verdict {
	state := cf.State
	if state == "" {
		state = model.FatigueActive
	}
	v := Verdict{State: state}
	switch state {
	case model.FatigueActive:
		v.Allowed = !overThreshold(cf, p)
	case model.FatigueSuppressed, model.FatigueReengagement:
		if reengagement && cf.ReengagementUsed < p.ReengagementQuota {
			v.Allowed = true
			v.Reengagement = true
		}
	}
	return v
}

func overThreshold(cf model.ChannelFatigue, p Policy) bool {
	return p.Threshold > 0 && cf.SentCount >= p.Threshold
}

func suppressedLike(s model.FatigueState) bool {
	return s == model.FatigueSuppressed || s == model.FatigueReengagement
}

func stamp(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
