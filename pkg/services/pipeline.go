package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brainz-lab/signal-sub000/pkg/alerting"
	"github.com/brainz-lab/signal-sub000/pkg/escalation"
	"github.com/brainz-lab/signal-sub000/pkg/evaluator"
	"github.com/brainz-lab/signal-sub000/pkg/models"
	"github.com/brainz-lab/signal-sub000/pkg/notify"
	"github.com/brainz-lab/signal-sub000/pkg/queue"
	"github.com/brainz-lab/signal-sub000/pkg/store"
)

// Task types handled by the pipeline
const (
	TaskEvaluateRule   = "evaluate_rule"
	TaskEvaluateAll    = "evaluate_all"
	TaskEscalationStep = "escalation_step"
	TaskDispatch       = "dispatch_notification"
)

// EvaluatePayload names the rule to evaluate
type EvaluatePayload struct {
	RuleID string `json:"ruleId"`
}

// EscalationPayload carries the chain position across steps
type EscalationPayload struct {
	RuleID   string `json:"ruleId"`
	AlertID  string `json:"alertId"`
	PolicyID string `json:"policyId"`
	Step     int    `json:"step"`
	Cycle    int    `json:"cycle"`
}

// DispatchPayload names one notification to deliver
type DispatchPayload struct {
	ChannelID string                  `json:"channelId"`
	RuleID    string                  `json:"ruleId,omitempty"`
	AlertID   string                  `json:"alertId,omitempty"`
	Kind      models.NotificationKind `json:"kind"`
}

// Pipeline wires evaluation, alert state, incidents, escalation and
// notification delivery into the task operations the scheduler drives.
type Pipeline struct {
	store      store.Store
	evaluator  *evaluator.Evaluator
	machine    *alerting.Machine
	correlator *alerting.Correlator
	dispatcher *notify.Dispatcher
	queue      *queue.Queue
	Now        func() time.Time
}

func NewPipeline(st store.Store, ev *evaluator.Evaluator, machine *alerting.Machine, correlator *alerting.Correlator, dispatcher *notify.Dispatcher, q *queue.Queue) *Pipeline {
	return &Pipeline{
		store:      st,
		evaluator:  ev,
		machine:    machine,
		correlator: correlator,
		dispatcher: dispatcher,
		queue:      q,
		Now:        time.Now,
	}
}

// RegisterTasks binds the pipeline's operations to the task queue
func (p *Pipeline) RegisterTasks(q *queue.Queue) {
	q.Register(TaskEvaluateRule, p.handleEvaluateRule)
	q.Register(TaskEvaluateAll, p.handleEvaluateAll)
	q.Register(TaskEscalationStep, p.handleEscalationStep)
	q.Register(TaskDispatch, p.handleDispatch)
}

func (p *Pipeline) handleEvaluateRule(ctx context.Context, task *queue.Task) error {
	var payload EvaluatePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		logrus.Errorf("Dropping malformed evaluate task %s: %v", task.ID, err)
		return nil
	}
	return p.EvaluateRule(ctx, payload.RuleID)
}

func (p *Pipeline) handleEvaluateAll(ctx context.Context, task *queue.Task) error {
	return p.EvaluateAllActiveRules(ctx)
}

func (p *Pipeline) handleEscalationStep(ctx context.Context, task *queue.Task) error {
	var payload EscalationPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		logrus.Errorf("Dropping malformed escalation task %s: %v", task.ID, err)
		return nil
	}
	return p.RunEscalationStep(ctx, &payload)
}

func (p *Pipeline) handleDispatch(ctx context.Context, task *queue.Task) error {
	var payload DispatchPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		logrus.Errorf("Dropping malformed dispatch task %s: %v", task.ID, err)
		return nil
	}
	return p.DispatchNotification(ctx, &payload, task.Attempt)
}

// EvaluateRule runs one evaluation pass for the rule: query, record
// history, advance alert state, correlate incidents, fan out
// notifications and kick off escalation.
func (p *Pipeline) EvaluateRule(ctx context.Context, ruleID string) error {
	rule, err := p.store.GetRule(ctx, ruleID)
	if errors.Is(err, store.ErrNotFound) {
		// rule deleted since the task was scheduled; nothing to retry
		logrus.Warnf("Skipping evaluation of missing rule %s", ruleID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load rule %s: %w", ruleID, err)
	}
	if !rule.Enabled {
		return nil
	}
	if rule.MutedAt(p.Now()) {
		logrus.Debugf("Skipping evaluation of muted rule %s", rule.ID)
		return nil
	}

	results, err := p.evaluator.Evaluate(ctx, rule)
	if err != nil {
		return fmt.Errorf("failed to evaluate rule %s: %w", ruleID, err)
	}

	now := p.Now()
	anyFiring := false
	seen := make(map[string]bool, len(results))
	for _, result := range results {
		seen[result.Fingerprint] = true
		if result.State == models.EvalStateFiring {
			anyFiring = true
		}
		if err := p.applyResult(ctx, rule, result, now); err != nil {
			return err
		}
	}

	// a group that dropped out of the answer entirely gets an ok verdict,
	// otherwise its open alert could never resolve
	if open, err := p.store.ListOpenAlertsByRule(ctx, rule.ID); err != nil {
		logrus.Errorf("Rule %s: failed to list open alerts: %v", rule.ID, err)
	} else {
		for _, alert := range open {
			if seen[alert.Fingerprint] {
				continue
			}
			result := models.EvaluationResult{
				State:       models.EvalStateOK,
				Fingerprint: alert.Fingerprint,
				Labels:      alert.Labels,
			}
			if err := p.applyResult(ctx, rule, result, now); err != nil {
				return err
			}
		}
	}

	rule.LastState = models.EvalStateOK
	if anyFiring {
		rule.LastState = models.EvalStateFiring
	}
	rule.LastEvaluatedAt = &now
	rule.UpdatedAt = now
	if err := p.store.UpdateRule(ctx, rule); err != nil {
		logrus.Errorf("Rule %s: failed to record evaluation timestamp: %v", rule.ID, err)
	}
	return nil
}

// applyResult records one evaluation result and advances its alert,
// firing the notification and escalation side effects on the edges.
func (p *Pipeline) applyResult(ctx context.Context, rule *models.Rule, result models.EvaluationResult, now time.Time) error {
	if err := p.store.AppendHistory(ctx, &models.AlertHistoryEntry{
		RuleID:      rule.ID,
		Fingerprint: result.Fingerprint,
		State:       result.State,
		Value:       result.Value,
		RecordedAt:  now,
	}); err != nil {
		logrus.Errorf("Rule %s: failed to record history: %v", rule.ID, err)
	}

	outcome, err := p.machine.Apply(ctx, rule, result)
	if err != nil {
		return fmt.Errorf("failed to advance alert state for rule %s: %w", rule.ID, err)
	}
	if outcome == nil {
		return nil
	}
	if outcome.Fired {
		p.onAlertFired(ctx, rule, outcome.Alert)
	}
	if outcome.Resolved {
		p.onAlertResolved(ctx, rule, outcome.Alert)
	}
	return nil
}

func (p *Pipeline) onAlertFired(ctx context.Context, rule *models.Rule, alert *models.Alert) {
	if _, err := p.correlator.OnAlertFired(ctx, rule, alert); err != nil {
		logrus.Errorf("Rule %s: failed to correlate fired alert %s: %v", rule.ID, alert.ID, err)
	}

	p.fanOut(rule, alert, models.NotificationKindFire)

	if rule.EscalationPolicyID == "" {
		return
	}
	policy, err := p.store.GetPolicy(ctx, rule.EscalationPolicyID)
	if err != nil {
		logrus.Errorf("Rule %s: escalation policy %s unavailable: %v", rule.ID, rule.EscalationPolicyID, err)
		return
	}
	payload := &EscalationPayload{
		RuleID:   rule.ID,
		AlertID:  alert.ID,
		PolicyID: policy.ID,
		Step:     0,
		Cycle:    0,
	}
	if _, err := p.queue.Enqueue(TaskEscalationStep, payload, escalation.FirstDelay(policy)); err != nil {
		logrus.Errorf("Rule %s: failed to start escalation chain: %v", rule.ID, err)
	}
}

func (p *Pipeline) onAlertResolved(ctx context.Context, rule *models.Rule, alert *models.Alert) {
	if _, err := p.correlator.OnAlertResolved(ctx, rule, alert); err != nil {
		logrus.Errorf("Rule %s: failed to correlate resolved alert %s: %v", rule.ID, alert.ID, err)
	}
	p.fanOut(rule, alert, models.NotificationKindResolve)
}

// fanOut enqueues one dispatch task per configured channel so each
// delivery retries independently.
func (p *Pipeline) fanOut(rule *models.Rule, alert *models.Alert, kind models.NotificationKind) {
	for _, channelID := range rule.ChannelIDs {
		payload := &DispatchPayload{
			ChannelID: channelID,
			RuleID:    rule.ID,
			AlertID:   alert.ID,
			Kind:      kind,
		}
		if _, err := p.queue.Enqueue(TaskDispatch, payload, 0); err != nil {
			logrus.Errorf("Rule %s: failed to enqueue %s notification for channel %s: %v",
				rule.ID, kind, channelID, err)
		}
	}
}

// EvaluateAllActiveRules runs a batch pass over every enabled, unmuted
// rule. One rule's failure never stops the pass.
func (p *Pipeline) EvaluateAllActiveRules(ctx context.Context) error {
	rules, err := p.store.ListEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enabled rules: %w", err)
	}

	now := p.Now()
	evaluated := 0
	failures := 0
	for _, rule := range rules {
		if rule.MutedAt(now) {
			continue
		}
		evaluated++
		if err := p.EvaluateRule(ctx, rule.ID); err != nil {
			failures++
			logrus.Errorf("Batch evaluation: rule %s failed: %v", rule.ID, err)
		}
	}
	logrus.Infof("Batch evaluation pass finished: %d rules, %d failures", evaluated, failures)
	return nil
}

// RunEscalationStep executes one step of an escalation chain. Alert
// state is re-checked at execution time: an alert that resolved or was
// acknowledged while the step waited stops the chain.
func (p *Pipeline) RunEscalationStep(ctx context.Context, payload *EscalationPayload) error {
	alert, err := p.store.GetAlert(ctx, payload.AlertID)
	if errors.Is(err, store.ErrNotFound) {
		logrus.Debugf("Escalation for missing alert %s stopped", payload.AlertID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load alert %s: %w", payload.AlertID, err)
	}
	if !escalation.ShouldContinue(alert) {
		logrus.Infof("Escalation for alert %s stopped (state %s, acknowledged %t)",
			alert.ID, alert.State, alert.Acknowledged)
		return nil
	}

	policy, err := p.store.GetPolicy(ctx, payload.PolicyID)
	if errors.Is(err, store.ErrNotFound) {
		logrus.Warnf("Escalation policy %s deleted, stopping chain for alert %s", payload.PolicyID, alert.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load policy %s: %w", payload.PolicyID, err)
	}

	plan, err := escalation.Plan(policy, payload.Step, payload.Cycle)
	if err != nil {
		logrus.Warnf("Escalation chain for alert %s no longer matches policy %s: %v", alert.ID, policy.ID, err)
		return nil
	}

	rule, err := p.store.GetRule(ctx, payload.RuleID)
	if err != nil {
		return fmt.Errorf("failed to load rule %s: %w", payload.RuleID, err)
	}

	for _, channelID := range plan.ChannelIDs {
		dp := &DispatchPayload{
			ChannelID: channelID,
			RuleID:    rule.ID,
			AlertID:   alert.ID,
			Kind:      models.NotificationKindEscalation,
		}
		if _, err := p.queue.Enqueue(TaskDispatch, dp, 0); err != nil {
			logrus.Errorf("Escalation step %d for alert %s: failed to enqueue channel %s: %v",
				payload.Step, alert.ID, channelID, err)
		}
	}

	alert.NotifyCount++
	alert.UpdatedAt = p.Now()
	if err := p.store.UpdateAlert(ctx, alert); err != nil {
		logrus.Warnf("Failed to bump notify count on alert %s: %v", alert.ID, err)
	}

	if !plan.Continue {
		logrus.Infof("Escalation chain for alert %s completed at step %d", alert.ID, payload.Step)
		return nil
	}
	next := &EscalationPayload{
		RuleID:   payload.RuleID,
		AlertID:  payload.AlertID,
		PolicyID: payload.PolicyID,
		Step:     plan.NextStep,
		Cycle:    plan.NextCycle,
	}
	if _, err := p.queue.Enqueue(TaskEscalationStep, next, plan.NextDelay); err != nil {
		return fmt.Errorf("failed to schedule escalation step %d for alert %s: %w", plan.NextStep, alert.ID, err)
	}
	return nil
}

// DispatchNotification delivers one notification. Suppression is a
// successful outcome; only transport failures propagate so the queue
// retries them.
func (p *Pipeline) DispatchNotification(ctx context.Context, payload *DispatchPayload, attempt int) error {
	req := &notify.Request{
		ChannelID: payload.ChannelID,
		Kind:      payload.Kind,
		Attempt:   attempt,
	}
	if payload.RuleID != "" {
		rule, err := p.store.GetRule(ctx, payload.RuleID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load rule %s: %w", payload.RuleID, err)
		}
		req.Rule = rule
	}
	if payload.AlertID != "" {
		alert, err := p.store.GetAlert(ctx, payload.AlertID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load alert %s: %w", payload.AlertID, err)
		}
		req.Alert = alert
	}

	_, err := p.dispatcher.Dispatch(ctx, req)
	if errors.Is(err, store.ErrNotFound) {
		logrus.Warnf("Dropping notification for missing channel %s", payload.ChannelID)
		return nil
	}
	return err
}
