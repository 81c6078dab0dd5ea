package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/brainz-lab/signal-sub000/pkg/models"
)

// MemoryStore is a map-backed Store used in tests and as the default
// backend when no database is configured. All methods are safe for
// concurrent use.
type MemoryStore struct {
	mu sync.RWMutex

	rules         map[string]*models.Rule
	alerts        map[string]*models.Alert
	history       []*models.AlertHistoryEntry
	historySeq    int64
	incidents     map[string]*models.Incident
	policies      map[string]*models.EscalationPolicy
	channels      map[string]*models.NotificationChannel
	notifications map[string]*models.Notification
	notifySeq     []string
	windows       map[string]*models.MaintenanceWindow
	schedules     map[string]*models.OnCallSchedule
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:         make(map[string]*models.Rule),
		alerts:        make(map[string]*models.Alert),
		incidents:     make(map[string]*models.Incident),
		policies:      make(map[string]*models.EscalationPolicy),
		channels:      make(map[string]*models.NotificationChannel),
		notifications: make(map[string]*models.Notification),
		windows:       make(map[string]*models.MaintenanceWindow),
		schedules:     make(map[string]*models.OnCallSchedule),
	}
}

func (s *MemoryStore) Close() error { return nil }

// Rules

func (s *MemoryStore) CreateRule(ctx context.Context, rule *models.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; ok {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrConflict)
	}
	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateRule(ctx context.Context, rule *models.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; !ok {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}
	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	delete(s.rules, id)
	return nil
}

func (s *MemoryStore) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	cp := *rule
	return &cp, nil
}

func (s *MemoryStore) ListRules(ctx context.Context, projectID string) ([]*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Rule
	for _, r := range s.rules {
		if projectID == "" || r.ProjectID == projectID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(r *models.Rule) time.Time { return r.CreatedAt })
	return out, nil
}

func (s *MemoryStore) ListEnabledRules(ctx context.Context) ([]*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Rule
	for _, r := range s.rules {
		if r.Enabled {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(r *models.Rule) time.Time { return r.CreatedAt })
	return out, nil
}

// Alerts

func (s *MemoryStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.RuleID == alert.RuleID && a.Fingerprint == alert.Fingerprint && a.State != models.AlertStateResolved {
			return fmt.Errorf("open alert exists for rule %s fingerprint %s: %w", alert.RuleID, alert.Fingerprint, ErrConflict)
		}
	}
	cp := *alert
	s.alerts[alert.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateAlert(ctx context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.ID]; !ok {
		return fmt.Errorf("alert %s: %w", alert.ID, ErrNotFound)
	}
	cp := *alert
	s.alerts[alert.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteAlert(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[id]; !ok {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	delete(s.alerts, id)
	return nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetOpenAlert(ctx context.Context, ruleID, fingerprint string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.RuleID == ruleID && a.Fingerprint == fingerprint && a.State != models.AlertStateResolved {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("open alert for rule %s fingerprint %s: %w", ruleID, fingerprint, ErrNotFound)
}

func (s *MemoryStore) ListAlertsByRule(ctx context.Context, ruleID string) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Alert
	for _, a := range s.alerts {
		if a.RuleID == ruleID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(a *models.Alert) time.Time { return a.CreatedAt })
	return out, nil
}

func (s *MemoryStore) ListOpenAlertsByRule(ctx context.Context, ruleID string) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Alert
	for _, a := range s.alerts {
		if a.RuleID == ruleID && a.State != models.AlertStateResolved {
			cp := *a
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(a *models.Alert) time.Time { return a.CreatedAt })
	return out, nil
}

func (s *MemoryStore) ListAlertsByTimeRange(ctx context.Context, ruleID string, start, end time.Time) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Alert
	for _, a := range s.alerts {
		if a.RuleID == ruleID && !a.StartedAt.Before(start) && !a.StartedAt.After(end) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(a *models.Alert) time.Time { return a.StartedAt })
	return out, nil
}

// Alert history

func (s *MemoryStore) AppendHistory(ctx context.Context, entry *models.AlertHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historySeq++
	cp := *entry
	cp.ID = s.historySeq
	entry.ID = s.historySeq
	s.history = append(s.history, &cp)
	return nil
}

func (s *MemoryStore) ListHistorySince(ctx context.Context, ruleID, fingerprint string, since time.Time) ([]*models.AlertHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AlertHistoryEntry
	for _, e := range s.history {
		if e.RuleID == ruleID && e.Fingerprint == fingerprint && !e.RecordedAt.Before(since) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.history[:0]
	var pruned int64
	for _, e := range s.history {
		if e.RecordedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	s.history = kept
	return pruned, nil
}

// Incidents

func (s *MemoryStore) CreateIncident(ctx context.Context, incident *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[incident.ID]; ok {
		return fmt.Errorf("incident %s: %w", incident.ID, ErrConflict)
	}
	s.incidents[incident.ID] = cloneIncident(incident)
	return nil
}

func (s *MemoryStore) UpdateIncident(ctx context.Context, incident *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[incident.ID]; !ok {
		return fmt.Errorf("incident %s: %w", incident.ID, ErrNotFound)
	}
	s.incidents[incident.ID] = cloneIncident(incident)
	return nil
}

func (s *MemoryStore) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	return cloneIncident(inc), nil
}

func (s *MemoryStore) GetOpenIncidentByRule(ctx context.Context, ruleID string) (*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inc := range s.incidents {
		if inc.RuleID == ruleID && inc.Open() {
			return cloneIncident(inc), nil
		}
	}
	return nil, fmt.Errorf("open incident for rule %s: %w", ruleID, ErrNotFound)
}

func (s *MemoryStore) ListIncidents(ctx context.Context, projectID string) ([]*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Incident
	for _, inc := range s.incidents {
		if projectID == "" || inc.ProjectID == projectID {
			out = append(out, cloneIncident(inc))
		}
	}
	sortByCreated(out, func(i *models.Incident) time.Time { return i.TriggeredAt })
	return out, nil
}

func cloneIncident(in *models.Incident) *models.Incident {
	cp := *in
	cp.Timeline = append([]models.TimelineEvent(nil), in.Timeline...)
	cp.AffectedServices = append([]string(nil), in.AffectedServices...)
	return &cp
}

// Escalation policies

func (s *MemoryStore) CreatePolicy(ctx context.Context, policy *models.EscalationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[policy.ID]; ok {
		return fmt.Errorf("policy %s: %w", policy.ID, ErrConflict)
	}
	cp := *policy
	s.policies[policy.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdatePolicy(ctx context.Context, policy *models.EscalationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[policy.ID]; !ok {
		return fmt.Errorf("policy %s: %w", policy.ID, ErrNotFound)
	}
	cp := *policy
	s.policies[policy.ID] = &cp
	return nil
}

func (s *MemoryStore) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[id]; !ok {
		return fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	delete(s.policies, id)
	return nil
}

func (s *MemoryStore) GetPolicy(ctx context.Context, id string) (*models.EscalationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPolicies(ctx context.Context, projectID string) ([]*models.EscalationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.EscalationPolicy
	for _, p := range s.policies {
		if projectID == "" || p.ProjectID == projectID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(p *models.EscalationPolicy) time.Time { return p.CreatedAt })
	return out, nil
}

// Channels

func (s *MemoryStore) CreateChannel(ctx context.Context, channel *models.NotificationChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel.ID]; ok {
		return fmt.Errorf("channel %s: %w", channel.ID, ErrConflict)
	}
	cp := *channel
	s.channels[channel.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateChannel(ctx context.Context, channel *models.NotificationChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel.ID]; !ok {
		return fmt.Errorf("channel %s: %w", channel.ID, ErrNotFound)
	}
	cp := *channel
	s.channels[channel.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteChannel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; !ok {
		return fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	delete(s.channels, id)
	return nil
}

func (s *MemoryStore) GetChannel(ctx context.Context, id string) (*models.NotificationChannel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListChannels(ctx context.Context, projectID string) ([]*models.NotificationChannel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.NotificationChannel
	for _, c := range s.channels {
		if projectID == "" || c.ProjectID == projectID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(c *models.NotificationChannel) time.Time { return c.CreatedAt })
	return out, nil
}

// Notifications

func (s *MemoryStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID]; ok {
		return fmt.Errorf("notification %s: %w", n.ID, ErrConflict)
	}
	cp := *n
	s.notifications[n.ID] = &cp
	s.notifySeq = append(s.notifySeq, n.ID)
	return nil
}

func (s *MemoryStore) UpdateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID]; !ok {
		return fmt.Errorf("notification %s: %w", n.ID, ErrNotFound)
	}
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *MemoryStore) ListNotificationsByAlert(ctx context.Context, alertID string) ([]*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Notification
	for _, id := range s.notifySeq {
		n := s.notifications[id]
		if n != nil && n.AlertID == alertID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListNotificationsByChannel(ctx context.Context, channelID string, limit int) ([]*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Notification
	for i := len(s.notifySeq) - 1; i >= 0; i-- {
		n := s.notifications[s.notifySeq[i]]
		if n != nil && n.ChannelID == channelID {
			cp := *n
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Maintenance windows

func (s *MemoryStore) CreateWindow(ctx context.Context, w *models.MaintenanceWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[w.ID]; ok {
		return fmt.Errorf("window %s: %w", w.ID, ErrConflict)
	}
	cp := *w
	s.windows[w.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateWindow(ctx context.Context, w *models.MaintenanceWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[w.ID]; !ok {
		return fmt.Errorf("window %s: %w", w.ID, ErrNotFound)
	}
	cp := *w
	s.windows[w.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteWindow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[id]; !ok {
		return fmt.Errorf("window %s: %w", id, ErrNotFound)
	}
	delete(s.windows, id)
	return nil
}

func (s *MemoryStore) GetWindow(ctx context.Context, id string) (*models.MaintenanceWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[id]
	if !ok {
		return nil, fmt.Errorf("window %s: %w", id, ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) ListActiveWindows(ctx context.Context, projectID string) ([]*models.MaintenanceWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.MaintenanceWindow
	for _, w := range s.windows {
		if !w.Active {
			continue
		}
		if projectID == "" || w.ProjectID == projectID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(w *models.MaintenanceWindow) time.Time { return w.CreatedAt })
	return out, nil
}

// On-call schedules

func (s *MemoryStore) CreateSchedule(ctx context.Context, sched *models.OnCallSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sched.ID]; ok {
		return fmt.Errorf("schedule %s: %w", sched.ID, ErrConflict)
	}
	cp := *sched
	s.schedules[sched.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateSchedule(ctx context.Context, sched *models.OnCallSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sched.ID]; !ok {
		return fmt.Errorf("schedule %s: %w", sched.ID, ErrNotFound)
	}
	cp := *sched
	s.schedules[sched.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	delete(s.schedules, id)
	return nil
}

func (s *MemoryStore) GetSchedule(ctx context.Context, id string) (*models.OnCallSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	cp := *sched
	return &cp, nil
}

func (s *MemoryStore) ListSchedules(ctx context.Context, projectID string) ([]*models.OnCallSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.OnCallSchedule
	for _, sched := range s.schedules {
		if projectID == "" || sched.ProjectID == projectID {
			cp := *sched
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(sc *models.OnCallSchedule) time.Time { return sc.CreatedAt })
	return out, nil
}

func sortByCreated[T any](items []T, at func(T) time.Time) {
	sort.Slice(items, func(i, j int) bool { return at(items[i]).Before(at(items[j])) })
}
