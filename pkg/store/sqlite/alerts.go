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

type alertRow struct {
	ID             string     `db:"id"`
	RuleID         string     `db:"rule_id"`
	Fingerprint    string     `db:"fingerprint"`
	State          string     `db:"state"`
	StartedAt      time.Time  `db:"started_at"`
	ResolvedAt     *time.Time `db:"resolved_at"`
	LastFiredAt    *time.Time `db:"last_fired_at"`
	Value          float64    `db:"value"`
	Threshold      float64    `db:"threshold"`
	Labels         string     `db:"labels"`
	Acknowledged   bool       `db:"acknowledged"`
	AcknowledgedAt *time.Time `db:"acknowledged_at"`
	AcknowledgedBy string     `db:"acknowledged_by"`
	NotifyCount    int        `db:"notify_count"`
	IncidentID     string     `db:"incident_id"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func toAlertRow(a *models.Alert) *alertRow {
	return &alertRow{
		ID:             a.ID,
		RuleID:         a.RuleID,
		Fingerprint:    a.Fingerprint,
		State:          string(a.State),
		StartedAt:      a.StartedAt,
		ResolvedAt:     a.ResolvedAt,
		LastFiredAt:    a.LastFiredAt,
		Value:          a.Value,
		Threshold:      a.Threshold,
		Labels:         marshalJSON(a.Labels),
		Acknowledged:   a.Acknowledged,
		AcknowledgedAt: a.AcknowledgedAt,
		AcknowledgedBy: a.AcknowledgedBy,
		NotifyCount:    a.NotifyCount,
		IncidentID:     a.IncidentID,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func (row *alertRow) toModel() *models.Alert {
	a := &models.Alert{
		ID:             row.ID,
		RuleID:         row.RuleID,
		Fingerprint:    row.Fingerprint,
		State:          models.AlertState(row.State),
		StartedAt:      row.StartedAt,
		ResolvedAt:     row.ResolvedAt,
		LastFiredAt:    row.LastFiredAt,
		Value:          row.Value,
		Threshold:      row.Threshold,
		Acknowledged:   row.Acknowledged,
		AcknowledgedAt: row.AcknowledgedAt,
		AcknowledgedBy: row.AcknowledgedBy,
		NotifyCount:    row.NotifyCount,
		IncidentID:     row.IncidentID,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	unmarshalJSON(row.Labels, &a.Labels)
	return a
}

const alertInsert = `INSERT INTO alerts (
	id, rule_id, fingerprint, state, started_at, resolved_at, last_fired_at,
	value, threshold, labels, acknowledged, acknowledged_at, acknowledged_by,
	notify_count, incident_id, created_at, updated_at
) VALUES (
	:id, :rule_id, :fingerprint, :state, :started_at, :resolved_at, :last_fired_at,
	:value, :threshold, :labels, :acknowledged, :acknowledged_at, :acknowledged_by,
	:notify_count, :incident_id, :created_at, :updated_at
)`

const alertUpdate = `UPDATE alerts SET
	state = :state, started_at = :started_at, resolved_at = :resolved_at,
	last_fired_at = :last_fired_at, value = :value, threshold = :threshold,
	labels = :labels, acknowledged = :acknowledged, acknowledged_at = :acknowledged_at,
	acknowledged_by = :acknowledged_by, notify_count = :notify_count,
	incident_id = :incident_id, updated_at = :updated_at
WHERE id = :id`

// CreateAlert inserts a new tracked alert. The partial unique index on
// (rule_id, fingerprint) over non-resolved rows turns a concurrent
// duplicate into store.ErrConflict.
func (s *Store) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if _, err := s.db.NamedExecContext(ctx, alertInsert, toAlertRow(alert)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("open alert exists for rule %s fingerprint %s: %w",
				alert.RuleID, alert.Fingerprint, store.ErrConflict)
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (s *Store) UpdateAlert(ctx context.Context, alert *models.Alert) error {
	res, err := s.db.NamedExecContext(ctx, alertUpdate, toAlertRow(alert))
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	return requireRowAffected(res, "alert", alert.ID)
}

func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM alerts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	return requireRowAffected(res, "alert", id)
}

func (s *Store) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	var row alertRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM alerts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) GetOpenAlert(ctx context.Context, ruleID, fingerprint string) (*models.Alert, error) {
	var row alertRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM alerts WHERE rule_id = ? AND fingerprint = ? AND state != 'resolved'",
		ruleID, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open alert for rule %s fingerprint %s: %w", ruleID, fingerprint, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open alert: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListAlertsByRule(ctx context.Context, ruleID string) ([]*models.Alert, error) {
	return s.selectAlerts(ctx, "SELECT * FROM alerts WHERE rule_id = ? ORDER BY created_at", ruleID)
}

func (s *Store) ListOpenAlertsByRule(ctx context.Context, ruleID string) ([]*models.Alert, error) {
	return s.selectAlerts(ctx,
		"SELECT * FROM alerts WHERE rule_id = ? AND state != 'resolved' ORDER BY created_at", ruleID)
}

func (s *Store) ListAlertsByTimeRange(ctx context.Context, ruleID string, start, end time.Time) ([]*models.Alert, error) {
	return s.selectAlerts(ctx,
		"SELECT * FROM alerts WHERE rule_id = ? AND started_at >= ? AND started_at <= ? ORDER BY started_at",
		ruleID, start, end)
}

func (s *Store) selectAlerts(ctx context.Context, query string, args ...interface{}) ([]*models.Alert, error) {
	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	out := make([]*models.Alert, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// Alert history

func (s *Store) AppendHistory(ctx context.Context, entry *models.AlertHistoryEntry) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO alert_history (rule_id, fingerprint, state, value, recorded_at) VALUES (?, ?, ?, ?, ?)",
		entry.RuleID, entry.Fingerprint, string(entry.State), entry.Value, entry.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

func (s *Store) ListHistorySince(ctx context.Context, ruleID, fingerprint string, since time.Time) ([]*models.AlertHistoryEntry, error) {
	type historyRow struct {
		ID          int64     `db:"id"`
		RuleID      string    `db:"rule_id"`
		Fingerprint string    `db:"fingerprint"`
		State       string    `db:"state"`
		Value       float64   `db:"value"`
		RecordedAt  time.Time `db:"recorded_at"`
	}
	var rows []historyRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM alert_history WHERE rule_id = ? AND fingerprint = ? AND recorded_at >= ? ORDER BY recorded_at",
		ruleID, fingerprint, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	out := make([]*models.AlertHistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, &models.AlertHistoryEntry{
			ID:          r.ID,
			RuleID:      r.RuleID,
			Fingerprint: r.Fingerprint,
			State:       models.EvalState(r.State),
			Value:       r.Value,
			RecordedAt:  r.RecordedAt,
		})
	}
	return out, nil
}

func (s *Store) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM alert_history WHERE recorded_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// Incidents

type incidentRow struct {
	ID               string     `db:"id"`
	ProjectID        string     `db:"project_id"`
	RuleID           string     `db:"rule_id"`
	Title            string     `db:"title"`
	Summary          string     `db:"summary"`
	Severity         string     `db:"severity"`
	Status           string     `db:"status"`
	TriggeredAt      time.Time  `db:"triggered_at"`
	AcknowledgedAt   *time.Time `db:"acknowledged_at"`
	AcknowledgedBy   string     `db:"acknowledged_by"`
	ResolvedAt       *time.Time `db:"resolved_at"`
	ResolvedBy       string     `db:"resolved_by"`
	Timeline         string     `db:"timeline"`
	AffectedServices string     `db:"affected_services"`
	ExternalRef      string     `db:"external_ref"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

func toIncidentRow(i *models.Incident) *incidentRow {
	return &incidentRow{
		ID:               i.ID,
		ProjectID:        i.ProjectID,
		RuleID:           i.RuleID,
		Title:            i.Title,
		Summary:          i.Summary,
		Severity:         string(i.Severity),
		Status:           string(i.Status),
		TriggeredAt:      i.TriggeredAt,
		AcknowledgedAt:   i.AcknowledgedAt,
		AcknowledgedBy:   i.AcknowledgedBy,
		ResolvedAt:       i.ResolvedAt,
		ResolvedBy:       i.ResolvedBy,
		Timeline:         marshalJSON(i.Timeline),
		AffectedServices: marshalJSON(i.AffectedServices),
		ExternalRef:      i.ExternalRef,
		CreatedAt:        i.CreatedAt,
		UpdatedAt:        i.UpdatedAt,
	}
}

func (row *incidentRow) toModel() *models.Incident {
	i := &models.Incident{
		ID:             row.ID,
		ProjectID:      row.ProjectID,
		RuleID:         row.RuleID,
		Title:          row.Title,
		Summary:        row.Summary,
		Severity:       models.Severity(row.Severity),
		Status:         models.IncidentStatus(row.Status),
		TriggeredAt:    row.TriggeredAt,
		AcknowledgedAt: row.AcknowledgedAt,
		AcknowledgedBy: row.AcknowledgedBy,
		ResolvedAt:     row.ResolvedAt,
		ResolvedBy:     row.ResolvedBy,
		ExternalRef:    row.ExternalRef,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	unmarshalJSON(row.Timeline, &i.Timeline)
	unmarshalJSON(row.AffectedServices, &i.AffectedServices)
	return i
}

const incidentInsert = `INSERT INTO incidents (
	id, project_id, rule_id, title, summary, severity, status, triggered_at,
	acknowledged_at, acknowledged_by, resolved_at, resolved_by,
	timeline, affected_services, external_ref, created_at, updated_at
) VALUES (
	:id, :project_id, :rule_id, :title, :summary, :severity, :status, :triggered_at,
	:acknowledged_at, :acknowledged_by, :resolved_at, :resolved_by,
	:timeline, :affected_services, :external_ref, :created_at, :updated_at
)`

const incidentUpdate = `UPDATE incidents SET
	title = :title, summary = :summary, severity = :severity, status = :status,
	acknowledged_at = :acknowledged_at, acknowledged_by = :acknowledged_by,
	resolved_at = :resolved_at, resolved_by = :resolved_by,
	timeline = :timeline, affected_services = :affected_services,
	external_ref = :external_ref, updated_at = :updated_at
WHERE id = :id`

func (s *Store) CreateIncident(ctx context.Context, incident *models.Incident) error {
	if _, err := s.db.NamedExecContext(ctx, incidentInsert, toIncidentRow(incident)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("incident %s: %w", incident.ID, store.ErrConflict)
		}
		return fmt.Errorf("failed to insert incident: %w", err)
	}
	return nil
}

func (s *Store) UpdateIncident(ctx context.Context, incident *models.Incident) error {
	res, err := s.db.NamedExecContext(ctx, incidentUpdate, toIncidentRow(incident))
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	return requireRowAffected(res, "incident", incident.ID)
}

func (s *Store) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	var row incidentRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM incidents WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) GetOpenIncidentByRule(ctx context.Context, ruleID string) (*models.Incident, error) {
	var row incidentRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM incidents WHERE rule_id = ? AND status != 'resolved' ORDER BY triggered_at DESC LIMIT 1",
		ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open incident for rule %s: %w", ruleID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open incident: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListIncidents(ctx context.Context, projectID string) ([]*models.Incident, error) {
	query := "SELECT * FROM incidents ORDER BY triggered_at"
	args := []interface{}{}
	if projectID != "" {
		query = "SELECT * FROM incidents WHERE project_id = ? ORDER BY triggered_at"
		args = append(args, projectID)
	}
	var rows []incidentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	out := make([]*models.Incident, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// Notifications

type notificationRow struct {
	ID         string     `db:"id"`
	ChannelID  string     `db:"channel_id"`
	RuleID     string     `db:"rule_id"`
	AlertID    string     `db:"alert_id"`
	IncidentID string     `db:"incident_id"`
	Kind       string     `db:"kind"`
	Status     string     `db:"status"`
	Payload    string     `db:"payload"`
	Response   string     `db:"response"`
	Error      string     `db:"error"`
	SkipReason string     `db:"skip_reason"`
	Attempt    int        `db:"attempt"`
	CreatedAt  time.Time  `db:"created_at"`
	SentAt     *time.Time `db:"sent_at"`
}

func toNotificationRow(n *models.Notification) *notificationRow {
	return &notificationRow{
		ID:         n.ID,
		ChannelID:  n.ChannelID,
		RuleID:     n.RuleID,
		AlertID:    n.AlertID,
		IncidentID: n.IncidentID,
		Kind:       string(n.Kind),
		Status:     string(n.Status),
		Payload:    n.Payload,
		Response:   n.Response,
		Error:      n.Error,
		SkipReason: n.SkipReason,
		Attempt:    n.Attempt,
		CreatedAt:  n.CreatedAt,
		SentAt:     n.SentAt,
	}
}

func (row *notificationRow) toModel() *models.Notification {
	return &models.Notification{
		ID:         row.ID,
		ChannelID:  row.ChannelID,
		RuleID:     row.RuleID,
		AlertID:    row.AlertID,
		IncidentID: row.IncidentID,
		Kind:       models.NotificationKind(row.Kind),
		Status:     models.NotificationStatus(row.Status),
		Payload:    row.Payload,
		Response:   row.Response,
		Error:      row.Error,
		SkipReason: row.SkipReason,
		Attempt:    row.Attempt,
		CreatedAt:  row.CreatedAt,
		SentAt:     row.SentAt,
	}
}

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	const q = `INSERT INTO notifications (
		id, channel_id, rule_id, alert_id, incident_id, kind, status,
		payload, response, error, skip_reason, attempt, created_at, sent_at
	) VALUES (:id, :channel_id, :rule_id, :alert_id, :incident_id, :kind, :status,
		:payload, :response, :error, :skip_reason, :attempt, :created_at, :sent_at)`
	if _, err := s.db.NamedExecContext(ctx, q, toNotificationRow(n)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("notification %s: %w", n.ID, store.ErrConflict)
		}
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *Store) UpdateNotification(ctx context.Context, n *models.Notification) error {
	const q = `UPDATE notifications SET
		status = :status, response = :response, error = :error,
		skip_reason = :skip_reason, attempt = :attempt, sent_at = :sent_at
	WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, toNotificationRow(n))
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return requireRowAffected(res, "notification", n.ID)
}

func (s *Store) ListNotificationsByAlert(ctx context.Context, alertID string) ([]*models.Notification, error) {
	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM notifications WHERE alert_id = ? ORDER BY created_at", alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	out := make([]*models.Notification, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) ListNotificationsByChannel(ctx context.Context, channelID string, limit int) ([]*models.Notification, error) {
	query := "SELECT * FROM notifications WHERE channel_id = ? ORDER BY created_at DESC"
	args := []interface{}{channelID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	out := make([]*models.Notification, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}
