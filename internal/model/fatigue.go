// internal/model/fatigue.go
package model

import "time"

type FatigueState string

const (
	FatigueActive       FatigueState = "active"
	FatigueSuppressed   FatigueState = "suppressed"
	FatigueReengagement FatigueState = "reengagement"
	FatigueSunset       FatigueState = "sunset"
)

// ChannelFatigue is the per-channel fatigue record of one recipient.
type ChannelFatigue struct {
	State            FatigueState `json:"state"`
	SentCount        int          `json:"sent_count"`
	ReengagementUsed int          `json:"reengagement_used"`
	SuppressedAt     *time.Time   `json:"suppressed_at,omitempty"`
	SunsetAt         *time.Time   `json:"sunset_at,omitempty"`
	UpdatedAt        *time.Time   `json:"updated_at,omitempty"`
}

// FatigueLedger maps channel to its fatigue record. A missing channel is an
// active record with no sends.
type FatigueLedger map[Channel]ChannelFatigue

// Channel returns the record for c, defaulting to active.
func (l FatigueLedger) Channel(c Channel) ChannelFatigue {
	if cf, ok := l[c]; ok {
		if cf.State == "" {
			cf.State = FatigueActive
		}
		return cf
	}
	return ChannelFatigue{State: FatigueActive}
}

// Clone returns a deep copy.
func (l FatigueLedger) Clone() FatigueLedger {
	out := make(FatigueLedger, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}
