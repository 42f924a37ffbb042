// Package notifier keeps the progress messages and final summary of
// background import jobs so clients can poll them.
package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrTaskNotFound = errors.New("task not found")

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Task status values.
const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

type Notification struct {
	UID       string    `json:"uid"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
	Completed bool      `json:"completed"`
}

// Task is one job as seen by a poller. Notifications are kept newest first.
type Task struct {
	ID            string         `json:"id"`
	JobType       string         `json:"jobType"`
	Status        string         `json:"status"`
	Created       time.Time      `json:"created"`
	Notifications []Notification `json:"notifications"`
	Summary       any            `json:"summary,omitempty"`
}

// Notifier records job progress.
type Notifier interface {
	Start(ctx context.Context, id, jobType string) error
	Notify(ctx context.Context, id string, level Level, message string, completed bool) error
	Complete(ctx context.Context, id string, summary any) error
	Task(ctx context.Context, id string) (*Task, error)
}

// InMemory is a concurrency-safe Notifier. Finished tasks are evicted after
// the retention period on the next Start.
type InMemory struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	retention time.Duration
	now       func() time.Time
}

func NewInMemory(retention time.Duration) *InMemory {
	return &InMemory{
		tasks:     make(map[string]*Task),
		retention: retention,
		now:       time.Now,
	}
}

func (n *InMemory) Start(_ context.Context, id, jobType string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evict()
	n.tasks[id] = &Task{ID: id, JobType: jobType, Status: StatusRunning, Created: n.now().UTC()}
	return nil
}

func (n *InMemory) Notify(_ context.Context, id string, level Level, message string, completed bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.Notifications = append([]Notification{{
		UID:       uuid.NewString(),
		Level:     level,
		Message:   message,
		Time:      n.now().UTC(),
		Completed: completed,
	}}, t.Notifications...)
	if completed {
		t.Status = StatusCompleted
		if level == LevelError {
			t.Status = StatusFailed
		}
	}
	return nil
}

func (n *InMemory) Complete(_ context.Context, id string, summary any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.Summary = summary
	if t.Status == StatusRunning {
		t.Status = StatusCompleted
	}
	return nil
}

// Task returns a copy of the task with the given id.
func (n *InMemory) Task(_ context.Context, id string) (*Task, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *t
	cp.Notifications = append([]Notification(nil), t.Notifications...)
	return &cp, nil
}

func (n *InMemory) evict() {
	if n.retention <= 0 {
		return
	}
	cutoff := n.now().Add(-n.retention)
	for id, t := range n.tasks {
		if t.Status != StatusRunning && t.Created.Before(cutoff) {
			delete(n.tasks, id)
		}
	}
}
