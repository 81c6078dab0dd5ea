// Package escalation walks an escalation policy's ordered steps. The
// walker is pure: it decides which channels to page now and when the next
// step runs, while the caller re-checks alert state at execution time and
// owns the actual scheduling.
package escalation

import (
	"fmt"
	"time"

	"github.com/brainz-lab/signal-sub000/pkg/models"
)

// StepPlan is the outcome of executing one escalation step: who to page
// now and, if the chain continues, which step runs next and after how
// long. Cycle counts completed repeat rounds; it only advances when the
// chain wraps back to step zero.
type StepPlan struct {
	ChannelIDs []string
	Continue   bool
	NextStep   int
	NextCycle  int
	NextDelay  time.Duration
}

// Plan resolves the step at stepIndex within repeat cycle. Returns an
// error when the index is out of range for the policy, which means the
// stored task no longer matches the policy definition.
func Plan(policy *models.EscalationPolicy, stepIndex, cycle int) (*StepPlan, error) {
	if stepIndex < 0 || stepIndex >= len(policy.Steps) {
		return nil, fmt.Errorf("%w: step %d out of range for policy %s (%d steps)",
			models.ErrInvalid, stepIndex, policy.ID, len(policy.Steps))
	}

	plan := &StepPlan{
		ChannelIDs: policy.Steps[stepIndex].ChannelIDs,
	}

	if next := stepIndex + 1; next < len(policy.Steps) {
		plan.Continue = true
		plan.NextStep = next
		plan.NextCycle = cycle
		plan.NextDelay = time.Duration(policy.Steps[next].DelayMinutes) * time.Minute
		return plan, nil
	}

	// last step: wrap to the top if the policy repeats and the cycle
	// budget is not exhausted (MaxRepeats 0 repeats forever)
	if policy.Repeat && (policy.MaxRepeats == 0 || cycle+1 < policy.MaxRepeats) {
		plan.Continue = true
		plan.NextStep = 0
		plan.NextCycle = cycle + 1
		plan.NextDelay = time.Duration(policy.RepeatAfterMinutes) * time.Minute
	}
	return plan, nil
}

// FirstDelay is the wait before the first step of a freshly started chain
func FirstDelay(policy *models.EscalationPolicy) time.Duration {
	if len(policy.Steps) == 0 {
		return 0
	}
	return time.Duration(policy.Steps[0].DelayMinutes) * time.Minute
}

// ShouldContinue reports whether the chain is still worth walking for
// this alert. Acknowledgement or resolution stops escalation.
func ShouldContinue(alert *models.Alert) bool {
	if alert == nil {
		return false
	}
	return alert.State == models.AlertStateFiring && !alert.Acknowledged
}
