// Package queue runs the engine's background tasks: evaluation passes,
// escalation steps and notification deliveries. Execution is
// at-least-once with per-task retry on capped exponential backoff.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Task is one unit of deferred work. Payload carries the handler's
// arguments as JSON so tasks survive being requeued.
type Task struct {
	ID      string
	Type    string
	Payload json.RawMessage
	Attempt int
}

// Handler executes one task. Returning an error requeues the task until
// the attempt budget runs out.
type Handler func(ctx context.Context, task *Task) error

const (
	defaultMaxAttempts = 5
	backoffFactor      = 2.0
	maxBackoff         = 5 * time.Minute
)

// Queue is an in-process delayed task queue with a fixed worker pool
type Queue struct {
	workers     int
	maxAttempts int
	baseBackoff time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
	timers   map[string]*time.Timer

	ready  chan *Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(workers int) *Queue {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		workers:     workers,
		maxAttempts: defaultMaxAttempts,
		baseBackoff: time.Second,
		handlers:    make(map[string]Handler),
		timers:      make(map[string]*time.Timer),
		ready:       make(chan *Task, 256),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register binds a handler to a task type. Must be called before Start.
func (q *Queue) Register(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

// Start launches the worker pool. Tasks enqueued before Start sit in
// the ready channel until workers come up.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	logrus.Infof("Task queue started with %d workers", q.workers)
}

// Stop cancels pending timers and waits for in-flight tasks
func (q *Queue) Stop() {
	q.mu.Lock()
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	logrus.Info("Task queue stopped")
}

// Enqueue schedules a task after delay. The payload is marshaled once
// and reused across retries.
func (q *Queue) Enqueue(taskType string, payload interface{}, delay time.Duration) (string, error) {
	q.mu.RLock()
	_, known := q.handlers[taskType]
	q.mu.RUnlock()
	if !known {
		return "", fmt.Errorf("no handler registered for task type %q", taskType)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode task payload: %w", err)
	}
	task := &Task{
		ID:      uuid.New().String(),
		Type:    taskType,
		Payload: data,
		Attempt: 1,
	}
	q.schedule(task, delay)
	return task.ID, nil
}

func (q *Queue) schedule(task *Task, delay time.Duration) {
	if delay <= 0 {
		select {
		case q.ready <- task:
		default:
			// ready channel full; fall back to a timer to avoid blocking
			delay = 10 * time.Millisecond
		}
		if delay <= 0 {
			return
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.timers[task.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, task.ID)
		ctx := q.ctx
		q.mu.Unlock()
		select {
		case q.ready <- task:
		case <-ctx.Done():
		}
	})
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.ready:
			q.run(task)
		}
	}
}

func (q *Queue) run(task *Task) {
	q.mu.RLock()
	handler := q.handlers[task.Type]
	q.mu.RUnlock()
	if handler == nil {
		logrus.Errorf("Task %s: no handler for type %q, dropping", task.ID, task.Type)
		return
	}

	err := handler(q.ctx, task)
	if err == nil {
		return
	}

	if task.Attempt >= q.maxAttempts {
		logrus.Errorf("Task %s (%s) failed after %d attempts, giving up: %v",
			task.ID, task.Type, task.Attempt, err)
		return
	}

	delay := q.Backoff(task.Attempt)
	logrus.Warnf("Task %s (%s) attempt %d failed, retrying in %s: %v",
		task.ID, task.Type, task.Attempt, delay, err)
	task.Attempt++
	q.schedule(task, delay)
}

// Backoff returns the wait before the retry following the given attempt:
// base doubling per attempt, capped at five minutes.
func (q *Queue) Backoff(attempt int) time.Duration {
	d := time.Duration(float64(q.baseBackoff) * math.Pow(backoffFactor, float64(attempt-1)))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
