// Package sqlite implements store.Store on an embedded sqlite database.
// Complex fields (rule specs, labels, timelines) are stored as JSON text;
// everything the engine filters on gets its own column.
package sqlite

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/brainz-lab/signal-sub000/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS rules (
	id                  TEXT PRIMARY KEY,
	project_id          TEXT NOT NULL,
	name                TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	backend             TEXT NOT NULL,
	spec                TEXT NOT NULL,
	severity            TEXT NOT NULL,
	channel_ids         TEXT NOT NULL DEFAULT '[]',
	escalation_policy_id TEXT NOT NULL DEFAULT '',
	enabled             INTEGER NOT NULL DEFAULT 1,
	muted               INTEGER NOT NULL DEFAULT 0,
	muted_until         TIMESTAMP,
	mute_reason         TEXT NOT NULL DEFAULT '',
	eval_interval_secs  INTEGER NOT NULL,
	pending_period_secs INTEGER NOT NULL DEFAULT 0,
	resolve_period_secs INTEGER NOT NULL DEFAULT 0,
	last_state          TEXT NOT NULL DEFAULT '',
	last_evaluated_at   TIMESTAMP,
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_project ON rules(project_id);
CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled);

CREATE TABLE IF NOT EXISTS alerts (
	id              TEXT PRIMARY KEY,
	rule_id         TEXT NOT NULL,
	fingerprint     TEXT NOT NULL,
	state           TEXT NOT NULL,
	started_at      TIMESTAMP NOT NULL,
	resolved_at     TIMESTAMP,
	last_fired_at   TIMESTAMP,
	value           REAL NOT NULL DEFAULT 0,
	threshold       REAL NOT NULL DEFAULT 0,
	labels          TEXT NOT NULL DEFAULT '{}',
	acknowledged    INTEGER NOT NULL DEFAULT 0,
	acknowledged_at TIMESTAMP,
	acknowledged_by TEXT NOT NULL DEFAULT '',
	notify_count    INTEGER NOT NULL DEFAULT 0,
	incident_id     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_dedup
	ON alerts(rule_id, fingerprint) WHERE state != 'resolved';
CREATE INDEX IF NOT EXISTS idx_alerts_rule ON alerts(rule_id);

CREATE TABLE IF NOT EXISTS alert_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id     TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	state       TEXT NOT NULL,
	value       REAL NOT NULL DEFAULT 0,
	recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_rule_fp ON alert_history(rule_id, fingerprint, recorded_at);

CREATE TABLE IF NOT EXISTS incidents (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL,
	rule_id           TEXT NOT NULL,
	title             TEXT NOT NULL,
	summary           TEXT NOT NULL DEFAULT '',
	severity          TEXT NOT NULL,
	status            TEXT NOT NULL,
	triggered_at      TIMESTAMP NOT NULL,
	acknowledged_at   TIMESTAMP,
	acknowledged_by   TEXT NOT NULL DEFAULT '',
	resolved_at       TIMESTAMP,
	resolved_by       TEXT NOT NULL DEFAULT '',
	timeline          TEXT NOT NULL DEFAULT '[]',
	affected_services TEXT NOT NULL DEFAULT '[]',
	external_ref      TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incidents_rule_status ON incidents(rule_id, status);

CREATE TABLE IF NOT EXISTS escalation_policies (
	id                   TEXT PRIMARY KEY,
	project_id           TEXT NOT NULL,
	name                 TEXT NOT NULL,
	steps                TEXT NOT NULL,
	repeat               INTEGER NOT NULL DEFAULT 0,
	repeat_after_minutes INTEGER NOT NULL DEFAULT 0,
	max_repeats          INTEGER NOT NULL DEFAULT 0,
	created_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS channels (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL,
	name          TEXT NOT NULL,
	type          TEXT NOT NULL,
	config        TEXT NOT NULL DEFAULT '{}',
	enabled       INTEGER NOT NULL DEFAULT 1,
	verified_at   TIMESTAMP,
	last_used_at  TIMESTAMP,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	channel_id  TEXT NOT NULL,
	rule_id     TEXT NOT NULL DEFAULT '',
	alert_id    TEXT NOT NULL DEFAULT '',
	incident_id TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL,
	payload     TEXT NOT NULL DEFAULT '',
	response    TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	skip_reason TEXT NOT NULL DEFAULT '',
	attempt     INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	sent_at     TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_notifications_alert ON notifications(alert_id);
CREATE INDEX IF NOT EXISTS idx_notifications_channel ON notifications(channel_id, created_at);

CREATE TABLE IF NOT EXISTS maintenance_windows (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	starts_at  TIMESTAMP NOT NULL,
	ends_at    TIMESTAMP NOT NULL,
	active     INTEGER NOT NULL DEFAULT 1,
	rule_ids   TEXT NOT NULL DEFAULT '[]',
	recurrence TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS oncall_schedules (
	id                  TEXT PRIMARY KEY,
	project_id          TEXT NOT NULL,
	name                TEXT NOT NULL,
	kind                TEXT NOT NULL,
	weekly              TEXT NOT NULL DEFAULT '{}',
	rotation_days       INTEGER NOT NULL DEFAULT 0,
	rotation_start      TIMESTAMP,
	members             TEXT NOT NULL DEFAULT '[]',
	current_on_call     TEXT NOT NULL DEFAULT '',
	current_shift_start TIMESTAMP,
	current_shift_end   TIMESTAMP,
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL
);
`

// Store implements store.Store on sqlite
type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// New opens (and if necessary creates) the database at path and applies
// the schema. Use path ":memory:" for an ephemeral database.
func New(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent evaluation passes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logrus.Infof("Opened sqlite store at %s", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a sqlite unique constraint error
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func marshalJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		logrus.Warnf("Failed to marshal value for storage: %v", err)
		return "null"
	}
	return string(b)
}

func unmarshalJSON(data string, v interface{}) {
	if data == "" {
		return
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		logrus.Warnf("Failed to unmarshal stored value: %v", err)
	}
}
