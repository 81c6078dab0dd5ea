package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

type windowRow struct {
	ID         string    `db:"id"`
	ProjectID  string    `db:"project_id"`
	Name       string    `db:"name"`
	StartsAt   time.Time `db:"starts_at"`
	EndsAt     time.Time `db:"ends_at"`
	Active     bool      `db:"active"`
	RuleIDs    string    `db:"rule_ids"`
	Recurrence string    `db:"recurrence"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func toWindowRow(w *models.MaintenanceWindow) *windowRow {
	return &windowRow{
		ID:         w.ID,
		ProjectID:  w.ProjectID,
		Name:       w.Name,
		StartsAt:   w.StartsAt,
		EndsAt:     w.EndsAt,
		Active:     w.Active,
		RuleIDs:    marshalJSON(w.RuleIDs),
		Recurrence: w.Recurrence,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}
}

func (row *windowRow) toModel() *models.MaintenanceWindow {
	w := &models.MaintenanceWindow{
		ID:         row.ID,
		ProjectID:  row.ProjectID,
		Name:       row.Name,
		StartsAt:   row.StartsAt,
		EndsAt:     row.EndsAt,
		Active:     row.Active,
		Recurrence: row.Recurrence,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	unmarshalJSON(row.RuleIDs, &w.RuleIDs)
	return w
}

func (s *Store) CreateWindow(ctx context.Context, w *models.MaintenanceWindow) error {
	const q = `INSERT INTO maintenance_windows (
		id, project_id, name, starts_at, ends_at, active, rule_ids, recurrence, created_at, updated_at
	) VALUES (:id, :project_id, :name, :starts_at, :ends_at, :active, :rule_ids, :recurrence, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, toWindowRow(w)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("window %s: %w", w.ID, store.ErrConflict)
		}
		return fmt.Errorf("failed to insert window: %w", err)
	}
	return nil
}

func (s *Store) UpdateWindow(ctx context.Context, w *models.MaintenanceWindow) error {
	const q = `UPDATE maintenance_windows SET
		project_id = :project_id, name = :name, starts_at = :starts_at,
		ends_at = :ends_at, active = :active, rule_ids = :rule_ids,
		recurrence = :recurrence, updated_at = :updated_at
	WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, toWindowRow(w))
	if err != nil {
		return fmt.Errorf("failed to update window: %w", err)
	}
	return requireRowAffected(res, "window", w.ID)
}

func (s *Store) DeleteWindow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM maintenance_windows WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete window: %w", err)
	}
	return requireRowAffected(res, "window", id)
}

func (s *Store) GetWindow(ctx context.Context, id string) (*models.MaintenanceWindow, error) {
	var row windowRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM maintenance_windows WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("window %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get window: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListActiveWindows(ctx context.Context, projectID string) ([]*models.MaintenanceWindow, error) {
	query := "SELECT * FROM maintenance_windows WHERE active = 1 ORDER BY created_at"
	args := []interface{}{}
	if projectID != "" {
		query = "SELECT * FROM maintenance_windows WHERE active = 1 AND project_id = ? ORDER BY created_at"
		args = append(args, projectID)
	}
	var rows []windowRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}
	out := make([]*models.MaintenanceWindow, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// On-call schedules

type scheduleRow struct {
	ID                string     `db:"id"`
	ProjectID         string     `db:"project_id"`
	Name              string     `db:"name"`
	Kind              string     `db:"kind"`
	Weekly            string     `db:"weekly"`
	RotationDays      int        `db:"rotation_days"`
	RotationStart     *time.Time `db:"rotation_start"`
	Members           string     `db:"members"`
	CurrentOnCall     string     `db:"current_on_call"`
	CurrentShiftStart *time.Time `db:"current_shift_start"`
	CurrentShiftEnd   *time.Time `db:"current_shift_end"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

func toScheduleRow(sc *models.OnCallSchedule) *scheduleRow {
	row := &scheduleRow{
		ID:                sc.ID,
		ProjectID:         sc.ProjectID,
		Name:              sc.Name,
		Kind:              string(sc.Kind),
		Weekly:            marshalJSON(sc.Weekly),
		RotationDays:      sc.RotationDays,
		Members:           marshalJSON(sc.Members),
		CurrentOnCall:     sc.CurrentOnCall,
		CurrentShiftStart: sc.CurrentShiftStart,
		CurrentShiftEnd:   sc.CurrentShiftEnd,
		CreatedAt:         sc.CreatedAt,
		UpdatedAt:         sc.UpdatedAt,
	}
	if !sc.RotationStart.IsZero() {
		t := sc.RotationStart
		row.RotationStart = &t
	}
	return row
}

func (row *scheduleRow) toModel() *models.OnCallSchedule {
	sc := &models.OnCallSchedule{
		ID:                row.ID,
		ProjectID:         row.ProjectID,
		Name:              row.Name,
		Kind:              models.ScheduleKind(row.Kind),
		RotationDays:      row.RotationDays,
		CurrentOnCall:     row.CurrentOnCall,
		CurrentShiftStart: row.CurrentShiftStart,
		CurrentShiftEnd:   row.CurrentShiftEnd,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
	if row.RotationStart != nil {
		sc.RotationStart = *row.RotationStart
	}
	unmarshalJSON(row.Weekly, &sc.Weekly)
	unmarshalJSON(row.Members, &sc.Members)
	return sc
}

func (s *Store) CreateSchedule(ctx context.Context, sched *models.OnCallSchedule) error {
	const q = `INSERT INTO oncall_schedules (
		id, project_id, name, kind, weekly, rotation_days, rotation_start, members,
		current_on_call, current_shift_start, current_shift_end, created_at, updated_at
	) VALUES (:id, :project_id, :name, :kind, :weekly, :rotation_days, :rotation_start, :members,
		:current_on_call, :current_shift_start, :current_shift_end, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, toScheduleRow(sched)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("schedule %s: %w", sched.ID, store.ErrConflict)
		}
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sched *models.OnCallSchedule) error {
	const q = `UPDATE oncall_schedules SET
		project_id = :project_id, name = :name, kind = :kind, weekly = :weekly,
		rotation_days = :rotation_days, rotation_start = :rotation_start,
		members = :members, current_on_call = :current_on_call,
		current_shift_start = :current_shift_start, current_shift_end = :current_shift_end,
		updated_at = :updated_at
	WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, toScheduleRow(sched))
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return requireRowAffected(res, "schedule", sched.ID)
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM oncall_schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return requireRowAffected(res, "schedule", id)
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*models.OnCallSchedule, error) {
	var row scheduleRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM oncall_schedules WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListSchedules(ctx context.Context, projectID string) ([]*models.OnCallSchedule, error) {
	query := "SELECT * FROM oncall_schedules ORDER BY created_at"
	args := []interface{}{}
	if projectID != "" {
		query = "SELECT * FROM oncall_schedules WHERE project_id = ? ORDER BY created_at"
		args = append(args, projectID)
	}
	var rows []scheduleRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	out := make([]*models.OnCallSchedule, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}
