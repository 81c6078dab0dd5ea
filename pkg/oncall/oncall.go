// Package oncall resolves who is responsible for a schedule at a point
// in time, either from a weekday table or from an N-day rotation over an
// ordered member list.
package oncall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

// Shift is one resolved on-call assignment
type Shift struct {
	Identity string    `json:"identity"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Resolver computes shifts and keeps the schedule's cached assignment
// fresh. Now is swappable for tests.
type Resolver struct {
	store store.OnCallStore
	Now   func() time.Time
}

func NewResolver(st store.OnCallStore) *Resolver {
	return &Resolver{store: st, Now: time.Now}
}

// Resolve returns the current shift for the schedule. The cached shift
// is returned as long as it still covers now; otherwise the shift is
// recomputed and the cache written back.
func (r *Resolver) Resolve(ctx context.Context, scheduleID string) (*Shift, error) {
	sched, err := r.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	now := r.Now()

	if sched.CurrentShiftStart != nil && sched.CurrentShiftEnd != nil &&
		!now.Before(*sched.CurrentShiftStart) && now.Before(*sched.CurrentShiftEnd) {
		return &Shift{
			Identity: sched.CurrentOnCall,
			Start:    *sched.CurrentShiftStart,
			End:      *sched.CurrentShiftEnd,
		}, nil
	}

	shift, err := ShiftAt(sched, now)
	if err != nil {
		return nil, err
	}

	sched.CurrentOnCall = shift.Identity
	sched.CurrentShiftStart = &shift.Start
	sched.CurrentShiftEnd = &shift.End
	sched.UpdatedAt = now
	if err := r.store.UpdateSchedule(ctx, sched); err != nil {
		// the computed shift is still valid; a stale cache corrects itself
		logrus.Warnf("Schedule %s: failed to persist shift cache: %v", scheduleID, err)
	}
	return shift, nil
}

// ShiftAt computes the shift covering t without touching any cache
func ShiftAt(sched *models.OnCallSchedule, t time.Time) (*Shift, error) {
	switch sched.Kind {
	case models.ScheduleKindWeekly:
		return weeklyShift(sched, t)
	case models.ScheduleKindRotation:
		return rotationShift(sched, t)
	default:
		return nil, fmt.Errorf("%w: unknown schedule kind %q", models.ErrInvalid, sched.Kind)
	}
}

func weeklyShift(sched *models.OnCallSchedule, t time.Time) (*Shift, error) {
	day := strings.ToLower(t.Weekday().String())
	identity, ok := sched.Weekly[day]
	if !ok {
		return nil, fmt.Errorf("schedule %s has no entry for %s: %w", sched.ID, day, store.ErrNotFound)
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return &Shift{
		Identity: identity,
		Start:    start,
		End:      start.Add(24 * time.Hour),
	}, nil
}

func rotationShift(sched *models.OnCallSchedule, t time.Time) (*Shift, error) {
	if t.Before(sched.RotationStart) {
		return nil, fmt.Errorf("%w: rotation has not started yet", models.ErrInvalid)
	}
	days := int(t.Sub(sched.RotationStart).Hours() / 24)
	slot := days / sched.RotationDays
	index := slot % len(sched.Members)

	start := sched.RotationStart.Add(time.Duration(slot*sched.RotationDays) * 24 * time.Hour)
	return &Shift{
		Identity: sched.Members[index],
		Start:    start,
		End:      start.Add(time.Duration(sched.RotationDays) * 24 * time.Hour),
	}, nil
}
