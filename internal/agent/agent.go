// Package agent provides the analysis agent framework: a common lifecycle
// and bounded worker pool shared by the five concrete agents.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelsec/threatmesh/internal/metrics"
)

// Registered agent ids.
const (
	NetworkMonitorID     = "network-monitor"
	BehaviorAnalysisID   = "behavior-analysis"
	ThreatIntelligenceID = "threat-intelligence"
	PatternLearningID    = "pattern-learning"
	ThreatResponseID     = "threat-response"
)

// DefaultTaskPriority is the mid-range priority assigned to new tasks.
const DefaultTaskPriority = 5

var (
	// ErrStopped is returned for submissions to a stopped agent.
	ErrStopped = errors.New("agent stopped")
	// ErrBadInput is returned when a task input has the wrong type for the
	// target agent.
	ErrBadInput = errors.New("unsupported task input")
)

// State is the lifecycle state of an agent.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateReady        State = "READY"
	StateProcessing   State = "PROCESSING"
	StateWaiting      State = "WAITING"
	StateError        State = "ERROR"
	StateStopped      State = "STOPPED"
)

// Status is a read-only snapshot of an agent's state and counters.
type Status struct {
	AgentID        string    `json:"agent_id"`
	State          State     `json:"state"`
	LastActivity   time.Time `json:"last_activity"`
	PendingTasks   int       `json:"pending_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	LastError      string    `json:"last_error,omitempty"`
}

// Task is one unit of work dispatched to an agent.
type Task struct {
	ID            string    `json:"id"`
	Input         any       `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	Priority      int       `json:"priority"`
	SourceAgentID string    `json:"source_agent_id,omitempty"`
	TargetAgentID string    `json:"target_agent_id,omitempty"`
}

// NewTask wraps an input payload in a task envelope with a generated id.
func NewTask(input any) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Input:     input,
		CreatedAt: time.Now(),
		Priority:  DefaultTaskPriority,
	}
}

// Result is the outcome of one task, delivered on the submission channel.
type Result struct {
	Value any
	Err   error
}

// Agent is the uniform contract every analysis agent honors. Submit is
// asynchronous: the returned channel receives exactly one Result.
type Agent interface {
	ID() string
	Initialize()
	Start()
	Stop()
	Status() Status
	Submit(ctx context.Context, task *Task) <-chan Result
}

// processFunc is the agent-specific task body.
type processFunc func(ctx context.Context, task *Task) (any, error)

// base carries the shared lifecycle, counters and worker pool. A task error
// marks the agent ERROR for telemetry but never stops it from accepting
// work; the next successful completion that drains the pending count moves
// it back to READY.
type base struct {
	id      string
	logger  *slog.Logger
	metrics *metrics.Metrics
	process processFunc
	slots   chan struct{}

	mu           sync.Mutex
	state        State
	initialized  bool
	pending      int
	completed    int
	lastError    string
	lastActivity time.Time
}

func newBase(id string, workers int, m *metrics.Metrics, logger *slog.Logger, process processFunc) *base {
	if workers <= 0 {
		workers = 1
	}
	return &base{
		id:           id,
		logger:       logger.With("agent_id", id),
		metrics:      m,
		process:      process,
		slots:        make(chan struct{}, workers),
		state:        StateInitializing,
		lastActivity: time.Now(),
	}
}

func (b *base) ID() string { return b.id }

// Initialize moves the agent to READY. Safe to call more than once.
func (b *base) Initialize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return
	}
	b.initialized = true
	b.state = StateReady
	b.lastActivity = time.Now()
	b.logger.Info("agent initialized")
}

// Start initializes the agent if needed and marks it PROCESSING.
func (b *base) Start() {
	b.Initialize()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateProcessing
	b.lastActivity = time.Now()
	b.logger.Info("agent started")
}

// Stop marks the agent STOPPED. Safe from any state.
func (b *base) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateStopped
	b.lastActivity = time.Now()
	b.logger.Info("agent stopped")
}

// Status returns a snapshot of the agent's state and counters.
func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		AgentID:        b.id,
		State:          b.state,
		LastActivity:   b.lastActivity,
		PendingTasks:   b.pending,
		CompletedTasks: b.completed,
		LastError:      b.lastError,
	}
}

// Submit schedules the task on the worker pool and returns a channel that
// receives exactly one Result. A processing error is delivered through the
// channel and leaves the agent usable.
func (b *base) Submit(ctx context.Context, task *Task) <-chan Result {
	ch := make(chan Result, 1)

	b.mu.Lock()
	if b.state == StateStopped {
		b.mu.Unlock()
		ch <- Result{Err: fmt.Errorf("agent %s: %w", b.id, ErrStopped)}
		return ch
	}
	task.TargetAgentID = b.id
	b.pending++
	b.state = StateProcessing
	b.lastActivity = time.Now()
	b.mu.Unlock()

	b.logger.Debug("task accepted", "task_id", task.ID, "priority", task.Priority)

	go func() {
		select {
		case b.slots <- struct{}{}:
		case <-ctx.Done():
			b.taskDone(ctx.Err())
			ch <- Result{Err: fmt.Errorf("agent %s: task %s: %w", b.id, task.ID, ctx.Err())}
			return
		}
		defer func() { <-b.slots }()

		out, err := b.process(ctx, task)
		b.taskDone(err)
		if err != nil {
			b.logger.Error("task failed", "task_id", task.ID, "error", err)
			ch <- Result{Err: fmt.Errorf("agent %s: task %s: %w", b.id, task.ID, err)}
			return
		}
		ch <- Result{Value: out}
	}()

	return ch
}

func (b *base) taskDone(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending--
	if err != nil {
		b.state = StateError
		b.lastError = err.Error()
	} else {
		b.completed++
		if b.pending == 0 && b.state != StateStopped {
			b.state = StateReady
		}
	}
	b.lastActivity = time.Now()

	if b.metrics != nil {
		b.metrics.AgentTasks.WithLabelValues(b.id).Inc()
		if err != nil {
			b.metrics.AgentTaskErrors.WithLabelValues(b.id).Inc()
		}
	}
}
