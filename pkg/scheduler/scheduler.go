// Package scheduler drives rule evaluation: a cron runner fires each
// rule on its own interval, and an optional Kafka consumer turns
// external trigger messages into immediate evaluations.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/services"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

const defaultIntervalSeconds = 60

// evaluationTimeout bounds a single evaluation pass so a stuck backend
// cannot pin a cron slot forever.
const evaluationTimeout = 2 * time.Minute

// Scheduler runs one cron entry per enabled rule. Entries use
// SkipIfStillRunning so a slow evaluation never overlaps itself; two
// different rules still evaluate concurrently.
type Scheduler struct {
	cron     *cron.Cron
	store    store.Store
	pipeline *services.Pipeline

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

var _ services.RuleScheduler = (*Scheduler)(nil)

func New(st store.Store, pipeline *services.Pipeline) *Scheduler {
	logger := cron.PrintfLogger(logrus.StandardLogger())
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		)),
		store:    st,
		pipeline: pipeline,
		entries:  make(map[string]cron.EntryID),
	}
}

// Start schedules every enabled rule and launches the cron runner
func (s *Scheduler) Start(ctx context.Context) error {
	rules, err := s.store.ListEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rules for scheduling: %w", err)
	}
	for _, rule := range rules {
		if err := s.ScheduleRule(rule); err != nil {
			logrus.Errorf("Failed to schedule rule %s: %v", rule.ID, err)
		}
	}
	s.cron.Start()
	logrus.Infof("Scheduler started with %d rules", len(rules))
	return nil
}

// Stop halts the cron runner and waits for running evaluations
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logrus.Info("Scheduler stopped")
}

// ScheduleRule registers a cron entry firing on the rule's evaluation
// interval. Scheduling an already scheduled rule replaces its entry.
func (s *Scheduler) ScheduleRule(rule *models.Rule) error {
	interval := rule.EvaluationIntervalSeconds
	if interval <= 0 {
		interval = defaultIntervalSeconds
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[rule.ID]; ok {
		s.cron.Remove(id)
		delete(s.entries, rule.ID)
	}

	ruleID := rule.ID
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), evaluationTimeout)
		defer cancel()
		if err := s.pipeline.EvaluateRule(ctx, ruleID); err != nil {
			logrus.Errorf("Scheduled evaluation of rule %s failed: %v", ruleID, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron entry for rule %s: %w", rule.ID, err)
	}
	s.entries[rule.ID] = id
	logrus.Debugf("Scheduled rule %s every %ds", rule.ID, interval)
	return nil
}

// UnscheduleRule removes the rule's cron entry if present
func (s *Scheduler) UnscheduleRule(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[ruleID]; ok {
		s.cron.Remove(id)
		delete(s.entries, ruleID)
		logrus.Debugf("Unscheduled rule %s", ruleID)
	}
}

// Scheduled reports whether a rule currently has a cron entry
func (s *Scheduler) Scheduled(ruleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[ruleID]
	return ok
}
