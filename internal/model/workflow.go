package model

import (
	"sync"
	"time"
)

// WorkflowStatus is the lifecycle state of a workflow execution.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowFailed    WorkflowStatus = "FAILED"
	WorkflowCancelled WorkflowStatus = "CANCELLED"
)

// WorkflowStep is one named checkpoint recorded while a workflow runs.
type WorkflowStep struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// WorkflowExecution tracks the progress of one workflow run. It is mutated
// by the workflow goroutine and read by the status API, so all access goes
// through its methods.
type WorkflowExecution struct {
	mu sync.Mutex

	WorkflowID string         `json:"workflow_id"`
	Name       string         `json:"name"`
	Status     WorkflowStatus `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at,omitempty"`
	Steps      []WorkflowStep `json:"steps"`
	Error      string         `json:"error,omitempty"`
	Result     string         `json:"result,omitempty"`
	Input      any            `json:"input,omitempty"`
}

// NewWorkflowExecution creates a RUNNING execution.
func NewWorkflowExecution(id, name string, input any) *WorkflowExecution {
	return &WorkflowExecution{
		WorkflowID: id,
		Name:       name,
		Status:     WorkflowRunning,
		StartedAt:  time.Now(),
		Input:      input,
	}
}

// AddStep appends a named step in execution order.
func (e *WorkflowExecution) AddStep(name, description string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Steps = append(e.Steps, WorkflowStep{
		Name:        name,
		Description: description,
		Timestamp:   time.Now(),
	})
}

// Complete marks the execution COMPLETED with a result summary.
func (e *WorkflowExecution) Complete(result string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Status = WorkflowCompleted
	e.EndedAt = time.Now()
	e.Result = result
}

// Fail marks the execution FAILED with an error summary.
func (e *WorkflowExecution) Fail(errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Status = WorkflowFailed
	e.EndedAt = time.Now()
	e.Error = errMsg
}

// Terminal reports whether the execution has finished, successfully or not.
func (e *WorkflowExecution) Terminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Status == WorkflowCompleted || e.Status == WorkflowFailed || e.Status == WorkflowCancelled
}

// CurrentStatus returns the status under the lock.
func (e *WorkflowExecution) CurrentStatus() WorkflowStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Status
}

// EndedBefore reports whether the execution terminated before cutoff.
func (e *WorkflowExecution) EndedBefore(cutoff time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	terminal := e.Status == WorkflowCompleted || e.Status == WorkflowFailed || e.Status == WorkflowCancelled
	return terminal && !e.EndedAt.IsZero() && e.EndedAt.Before(cutoff)
}

// Snapshot returns a copy safe to serialize without holding the lock.
func (e *WorkflowExecution) Snapshot() *WorkflowExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := &WorkflowExecution{
		WorkflowID: e.WorkflowID,
		Name:       e.Name,
		Status:     e.Status,
		StartedAt:  e.StartedAt,
		EndedAt:    e.EndedAt,
		Error:      e.Error,
		Result:     e.Result,
		Input:      e.Input,
	}
	snap.Steps = make([]WorkflowStep, len(e.Steps))
	copy(snap.Steps, e.Steps)
	return snap
}

// StepCount returns the number of recorded steps.
func (e *WorkflowExecution) StepCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Steps)
}

// WorkflowResult is what a finished workflow hands back to the caller.
// Exactly one of Actions or Report is populated depending on the workflow
// type; both are nil for an empty detection result.
type WorkflowResult struct {
	WorkflowID    string                   `json:"workflow_id"`
	Success       bool                     `json:"success"`
	Actions       []*ResponseAction        `json:"actions,omitempty"`
	Report        *ThreatCorrelationReport `json:"report,omitempty"`
	Error         string                   `json:"error,omitempty"`
	ExecutionTime time.Duration            `json:"execution_time_ns"`
	Alert         *ThreatAlert             `json:"alert,omitempty"`
	Risk          *RiskScore               `json:"risk,omitempty"`
}

// Successful reports whether the workflow produced a usable result.
func (r *WorkflowResult) Successful() bool {
	return r.Success && r.Error == ""
}

// ThreatCorrelationReport bundles the outcome of a correlation workflow.
type ThreatCorrelationReport struct {
	WorkflowID      string               `json:"workflow_id"`
	StartedAt       time.Time            `json:"started_at"`
	EndedAt         time.Time            `json:"ended_at"`
	NetworkAlerts   []*ThreatAlert       `json:"network_alerts"`
	BehaviorAlerts  []*ThreatAlert       `json:"behavior_alerts"`
	Correlations    []*ThreatCorrelation `json:"correlations"`
	AggregatedRisk  float64              `json:"aggregated_risk"`
	ResponseActions []*ResponseAction    `json:"response_actions"`
}

// TotalAlerts returns how many alerts were analyzed in total.
func (r *ThreatCorrelationReport) TotalAlerts() int {
	return len(r.NetworkAlerts) + len(r.BehaviorAlerts)
}

// HighConfidenceCorrelations counts correlations with confidence >= 0.8.
func (r *ThreatCorrelationReport) HighConfidenceCorrelations() int {
	n := 0
	for _, c := range r.Correlations {
		if c.Confidence >= 0.8 {
			n++
		}
	}
	return n
}

// WorkflowStatistics is a point-in-time snapshot of coordinator counters.
type WorkflowStatistics struct {
	ActiveWorkflows int     `json:"active_workflows"`
	TotalStarted    int64   `json:"total_started"`
	TotalCompleted  int64   `json:"total_completed"`
	TotalFailed     int64   `json:"total_failed"`
	AverageDuration float64 `json:"average_duration_ms"`
}

// SuccessRate returns completed/started as a percentage, 0 if none started.
func (s WorkflowStatistics) SuccessRate() float64 {
	if s.TotalStarted == 0 {
		return 0
	}
	return float64(s.TotalCompleted) / float64(s.TotalStarted) * 100
}

// FailureRate returns failed/started as a percentage, 0 if none started.
func (s WorkflowStatistics) FailureRate() float64 {
	if s.TotalStarted == 0 {
		return 0
	}
	return float64(s.TotalFailed) / float64(s.TotalStarted) * 100
}

// TotalProcessed returns the number of workflows that reached a terminal state.
func (s WorkflowStatistics) TotalProcessed() int64 {
	return s.TotalCompleted + s.TotalFailed
}
