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

type ruleRow struct {
	ID                 string     `db:"id"`
	ProjectID          string     `db:"project_id"`
	Name               string     `db:"name"`
	Description        string     `db:"description"`
	Backend            string     `db:"backend"`
	Spec               string     `db:"spec"`
	Severity           string     `db:"severity"`
	ChannelIDs         string     `db:"channel_ids"`
	EscalationPolicyID string     `db:"escalation_policy_id"`
	Enabled            bool       `db:"enabled"`
	Muted              bool       `db:"muted"`
	MutedUntil         *time.Time `db:"muted_until"`
	MuteReason         string     `db:"mute_reason"`
	EvalIntervalSecs   int        `db:"eval_interval_secs"`
	PendingPeriodSecs  int        `db:"pending_period_secs"`
	ResolvePeriodSecs  int        `db:"resolve_period_secs"`
	LastState          string     `db:"last_state"`
	LastEvaluatedAt    *time.Time `db:"last_evaluated_at"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

func toRuleRow(r *models.Rule) *ruleRow {
	return &ruleRow{
		ID:                 r.ID,
		ProjectID:          r.ProjectID,
		Name:               r.Name,
		Description:        r.Description,
		Backend:            r.Backend,
		Spec:               marshalJSON(r.Spec),
		Severity:           string(r.Severity),
		ChannelIDs:         marshalJSON(r.ChannelIDs),
		EscalationPolicyID: r.EscalationPolicyID,
		Enabled:            r.Enabled,
		Muted:              r.Muted,
		MutedUntil:         r.MutedUntil,
		MuteReason:         r.MuteReason,
		EvalIntervalSecs:   r.EvaluationIntervalSeconds,
		PendingPeriodSecs:  r.PendingPeriodSeconds,
		ResolvePeriodSecs:  r.ResolvePeriodSeconds,
		LastState:          string(r.LastState),
		LastEvaluatedAt:    r.LastEvaluatedAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func (row *ruleRow) toModel() *models.Rule {
	r := &models.Rule{
		ID:                        row.ID,
		ProjectID:                 row.ProjectID,
		Name:                      row.Name,
		Description:               row.Description,
		Backend:                   row.Backend,
		Severity:                  models.Severity(row.Severity),
		EscalationPolicyID:        row.EscalationPolicyID,
		Enabled:                   row.Enabled,
		Muted:                     row.Muted,
		MutedUntil:                row.MutedUntil,
		MuteReason:                row.MuteReason,
		EvaluationIntervalSeconds: row.EvalIntervalSecs,
		PendingPeriodSeconds:      row.PendingPeriodSecs,
		ResolvePeriodSeconds:      row.ResolvePeriodSecs,
		LastState:                 models.EvalState(row.LastState),
		LastEvaluatedAt:           row.LastEvaluatedAt,
		CreatedAt:                 row.CreatedAt,
		UpdatedAt:                 row.UpdatedAt,
	}
	unmarshalJSON(row.Spec, &r.Spec)
	unmarshalJSON(row.ChannelIDs, &r.ChannelIDs)
	return r
}

const ruleInsert = `INSERT INTO rules (
	id, project_id, name, description, backend, spec, severity, channel_ids,
	escalation_policy_id, enabled, muted, muted_until, mute_reason,
	eval_interval_secs, pending_period_secs, resolve_period_secs,
	last_state, last_evaluated_at, created_at, updated_at
) VALUES (
	:id, :project_id, :name, :description, :backend, :spec, :severity, :channel_ids,
	:escalation_policy_id, :enabled, :muted, :muted_until, :mute_reason,
	:eval_interval_secs, :pending_period_secs, :resolve_period_secs,
	:last_state, :last_evaluated_at, :created_at, :updated_at
)`

const ruleUpdate = `UPDATE rules SET
	project_id = :project_id, name = :name, description = :description,
	backend = :backend, spec = :spec, severity = :severity,
	channel_ids = :channel_ids, escalation_policy_id = :escalation_policy_id,
	enabled = :enabled, muted = :muted, muted_until = :muted_until,
	mute_reason = :mute_reason, eval_interval_secs = :eval_interval_secs,
	pending_period_secs = :pending_period_secs, resolve_period_secs = :resolve_period_secs,
	last_state = :last_state, last_evaluated_at = :last_evaluated_at,
	updated_at = :updated_at
WHERE id = :id`

func (s *Store) CreateRule(ctx context.Context, rule *models.Rule) error {
	if _, err := s.db.NamedExecContext(ctx, ruleInsert, toRuleRow(rule)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("rule %s: %w", rule.ID, store.ErrConflict)
		}
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

func (s *Store) UpdateRule(ctx context.Context, rule *models.Rule) error {
	res, err := s.db.NamedExecContext(ctx, ruleUpdate, toRuleRow(rule))
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return requireRowAffected(res, "rule", rule.ID)
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return requireRowAffected(res, "rule", id)
}

func (s *Store) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	var row ruleRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM rules WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListRules(ctx context.Context, projectID string) ([]*models.Rule, error) {
	query := "SELECT * FROM rules ORDER BY created_at"
	args := []interface{}{}
	if projectID != "" {
		query = "SELECT * FROM rules WHERE project_id = ? ORDER BY created_at"
		args = append(args, projectID)
	}
	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	out := make([]*models.Rule, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) ListEnabledRules(ctx context.Context) ([]*models.Rule, error) {
	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM rules WHERE enabled = 1 ORDER BY created_at"); err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	out := make([]*models.Rule, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// Escalation policies

type policyRow struct {
	ID                 string    `db:"id"`
	ProjectID          string    `db:"project_id"`
	Name               string    `db:"name"`
	Steps              string    `db:"steps"`
	Repeat             bool      `db:"repeat"`
	RepeatAfterMinutes int       `db:"repeat_after_minutes"`
	MaxRepeats         int       `db:"max_repeats"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func toPolicyRow(p *models.EscalationPolicy) *policyRow {
	return &policyRow{
		ID:                 p.ID,
		ProjectID:          p.ProjectID,
		Name:               p.Name,
		Steps:              marshalJSON(p.Steps),
		Repeat:             p.Repeat,
		RepeatAfterMinutes: p.RepeatAfterMinutes,
		MaxRepeats:         p.MaxRepeats,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func (row *policyRow) toModel() *models.EscalationPolicy {
	p := &models.EscalationPolicy{
		ID:                 row.ID,
		ProjectID:          row.ProjectID,
		Name:               row.Name,
		Repeat:             row.Repeat,
		RepeatAfterMinutes: row.RepeatAfterMinutes,
		MaxRepeats:         row.MaxRepeats,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	unmarshalJSON(row.Steps, &p.Steps)
	return p
}

func (s *Store) CreatePolicy(ctx context.Context, policy *models.EscalationPolicy) error {
	const q = `INSERT INTO escalation_policies (
		id, project_id, name, steps, repeat, repeat_after_minutes, max_repeats, created_at, updated_at
	) VALUES (:id, :project_id, :name, :steps, :repeat, :repeat_after_minutes, :max_repeats, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, toPolicyRow(policy)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("policy %s: %w", policy.ID, store.ErrConflict)
		}
		return fmt.Errorf("failed to insert policy: %w", err)
	}
	return nil
}

func (s *Store) UpdatePolicy(ctx context.Context, policy *models.EscalationPolicy) error {
	const q = `UPDATE escalation_policies SET
		project_id = :project_id, name = :name, steps = :steps, repeat = :repeat,
		repeat_after_minutes = :repeat_after_minutes, max_repeats = :max_repeats,
		updated_at = :updated_at
	WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, toPolicyRow(policy))
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	return requireRowAffected(res, "policy", policy.ID)
}

func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM escalation_policies WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	return requireRowAffected(res, "policy", id)
}

func (s *Store) GetPolicy(ctx context.Context, id string) (*models.EscalationPolicy, error) {
	var row policyRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM escalation_policies WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListPolicies(ctx context.Context, projectID string) ([]*models.EscalationPolicy, error) {
	query := "SELECT * FROM escalation_policies ORDER BY created_at"
	args := []interface{}{}
	if projectID != "" {
		query = "SELECT * FROM escalation_policies WHERE project_id = ? ORDER BY created_at"
		args = append(args, projectID)
	}
	var rows []policyRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	out := make([]*models.EscalationPolicy, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// Channels

type channelRow struct {
	ID           string     `db:"id"`
	ProjectID    string     `db:"project_id"`
	Name         string     `db:"name"`
	Type         string     `db:"type"`
	Config       string     `db:"config"`
	Enabled      bool       `db:"enabled"`
	VerifiedAt   *time.Time `db:"verified_at"`
	LastUsedAt   *time.Time `db:"last_used_at"`
	SuccessCount int        `db:"success_count"`
	FailureCount int        `db:"failure_count"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func toChannelRow(c *models.NotificationChannel) *channelRow {
	return &channelRow{
		ID:           c.ID,
		ProjectID:    c.ProjectID,
		Name:         c.Name,
		Type:         string(c.Type),
		Config:       marshalJSON(c.Config),
		Enabled:      c.Enabled,
		VerifiedAt:   c.VerifiedAt,
		LastUsedAt:   c.LastUsedAt,
		SuccessCount: c.SuccessCount,
		FailureCount: c.FailureCount,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func (row *channelRow) toModel() *models.NotificationChannel {
	c := &models.NotificationChannel{
		ID:           row.ID,
		ProjectID:    row.ProjectID,
		Name:         row.Name,
		Type:         models.ChannelType(row.Type),
		Enabled:      row.Enabled,
		VerifiedAt:   row.VerifiedAt,
		LastUsedAt:   row.LastUsedAt,
		SuccessCount: row.SuccessCount,
		FailureCount: row.FailureCount,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	unmarshalJSON(row.Config, &c.Config)
	return c
}

func (s *Store) CreateChannel(ctx context.Context, channel *models.NotificationChannel) error {
	const q = `INSERT INTO channels (
		id, project_id, name, type, config, enabled, verified_at, last_used_at,
		success_count, failure_count, created_at, updated_at
	) VALUES (:id, :project_id, :name, :type, :config, :enabled, :verified_at, :last_used_at,
		:success_count, :failure_count, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, toChannelRow(channel)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("channel %s: %w", channel.ID, store.ErrConflict)
		}
		return fmt.Errorf("failed to insert channel: %w", err)
	}
	return nil
}

func (s *Store) UpdateChannel(ctx context.Context, channel *models.NotificationChannel) error {
	const q = `UPDATE channels SET
		project_id = :project_id, name = :name, type = :type, config = :config,
		enabled = :enabled, verified_at = :verified_at, last_used_at = :last_used_at,
		success_count = :success_count, failure_count = :failure_count,
		updated_at = :updated_at
	WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, toChannelRow(channel))
	if err != nil {
		return fmt.Errorf("failed to update channel: %w", err)
	}
	return requireRowAffected(res, "channel", channel.ID)
}

func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM channels WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	return requireRowAffected(res, "channel", id)
}

func (s *Store) GetChannel(ctx context.Context, id string) (*models.NotificationChannel, error) {
	var row channelRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM channels WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListChannels(ctx context.Context, projectID string) ([]*models.NotificationChannel, error) {
	query := "SELECT * FROM channels ORDER BY created_at"
	args := []interface{}{}
	if projectID != "" {
		query = "SELECT * FROM channels WHERE project_id = ? ORDER BY created_at"
		args = append(args, projectID)
	}
	var rows []channelRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	out := make([]*models.NotificationChannel, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func requireRowAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	return nil
}
