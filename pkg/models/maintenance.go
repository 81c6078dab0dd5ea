package models

import (
	"fmt"
	"time"
)

// MaintenanceWindow is a time-boxed suppression scope. An empty RuleIDs
// set covers every rule in the project.
type MaintenanceWindow struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`

	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
	Active   bool      `json:"active"`

	RuleIDs    []string `json:"ruleIds,omitempty"`
	Recurrence string   `json:"recurrence,omitempty"` // "", "daily" or "weekly"

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate rejects malformed windows before they are persisted
func (w *MaintenanceWindow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("%w: window name is required", ErrInvalid)
	}
	if !w.EndsAt.After(w.StartsAt) {
		return fmt.Errorf("%w: endsAt must be after startsAt", ErrInvalid)
	}
	switch w.Recurrence {
	case "", "daily", "weekly":
	default:
		return fmt.Errorf("%w: unknown recurrence %q", ErrInvalid, w.Recurrence)
	}
	return nil
}

// Covers reports whether the window suppresses the given rule at the
// given instant. Recurring windows shift their interval forward by whole
// periods before the containment check.
func (w *MaintenanceWindow) Covers(ruleID string, now time.Time) bool {
	if !w.Active {
		return false
	}

	start, end := w.StartsAt, w.EndsAt
	if w.Recurrence != "" {
		period := 24 * time.Hour
		if w.Recurrence == "weekly" {
			period = 7 * 24 * time.Hour
		}
		if now.After(end) {
			elapsed := now.Sub(start)
			shift := (elapsed / period) * period
			start = start.Add(shift)
			end = end.Add(shift)
		}
	}
	if now.Before(start) || now.After(end) {
		return false
	}

	if len(w.RuleIDs) == 0 {
		return true
	}
	for _, id := range w.RuleIDs {
		if id == ruleID {
			return true
		}
	}
	return false
}
