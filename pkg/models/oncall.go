package models

import (
	"fmt"
	"time"
)

// ScheduleKind selects how an on-call schedule maps time to an identity
type ScheduleKind string

const (
	ScheduleKindWeekly   ScheduleKind = "weekly"
	ScheduleKindRotation ScheduleKind = "rotation"
)

// OnCallSchedule maps calendar time to a responsible identity, either via
// a weekday table or an N-day rotation over an ordered member list. The
// current shift is cached and only recomputed once it expires.
type OnCallSchedule struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"projectId"`
	Name      string       `json:"name"`
	Kind      ScheduleKind `json:"kind"`

	// Weekly mode: lowercase weekday name -> identity
	Weekly map[string]string `json:"weekly,omitempty"`

	// Rotation mode
	RotationDays  int       `json:"rotationDays,omitempty"`
	RotationStart time.Time `json:"rotationStart,omitempty"`
	Members       []string  `json:"members,omitempty"`

	CurrentOnCall     string     `json:"currentOnCall,omitempty"`
	CurrentShiftStart *time.Time `json:"currentShiftStart,omitempty"`
	CurrentShiftEnd   *time.Time `json:"currentShiftEnd,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate rejects malformed schedules before they are persisted
func (s *OnCallSchedule) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: schedule name is required", ErrInvalid)
	}
	switch s.Kind {
	case ScheduleKindWeekly:
		if len(s.Weekly) == 0 {
			return fmt.Errorf("%w: weekly schedule requires a weekday table", ErrInvalid)
		}
	case ScheduleKindRotation:
		if s.RotationDays != 1 && s.RotationDays != 7 {
			return fmt.Errorf("%w: rotation days must be 1 (daily) or 7 (weekly)", ErrInvalid)
		}
		if len(s.Members) == 0 {
			return fmt.Errorf("%w: rotation schedule requires members", ErrInvalid)
		}
		if s.RotationStart.IsZero() {
			return fmt.Errorf("%w: rotation schedule requires a start anchor", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown schedule kind %q", ErrInvalid, s.Kind)
	}
	return nil
}
