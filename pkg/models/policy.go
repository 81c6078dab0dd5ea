package models

import (
	"fmt"
	"time"
)

// EscalationStep names the channels notified at one tier and the delay
// before the following tier fires.
type EscalationStep struct {
	ChannelIDs   []string `json:"channelIds"`
	DelayMinutes int      `json:"delayMinutes"`
}

// EscalationPolicy is static configuration walked by the escalation
// engine for a firing, unacknowledged alert. It is consumed, never
// mutated, at escalation time.
type EscalationPolicy struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`

	Steps              []EscalationStep `json:"steps"`
	Repeat             bool             `json:"repeat"`
	RepeatAfterMinutes int              `json:"repeatAfterMinutes,omitempty"`
	MaxRepeats         int              `json:"maxRepeats,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate rejects malformed policies before they are persisted
func (p *EscalationPolicy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: policy name is required", ErrInvalid)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: policy requires at least one step", ErrInvalid)
	}
	for i, step := range p.Steps {
		if len(step.ChannelIDs) == 0 {
			return fmt.Errorf("%w: step %d has no channels", ErrInvalid, i)
		}
		if step.DelayMinutes < 0 {
			return fmt.Errorf("%w: step %d has a negative delay", ErrInvalid, i)
		}
	}
	if p.Repeat && p.RepeatAfterMinutes <= 0 {
		return fmt.Errorf("%w: repeat requires a positive repeatAfterMinutes", ErrInvalid)
	}
	return nil
}
