// Package coordinator composes agent calls into named workflows, enforces
// the concurrent-workflow ceiling, applies the per-workflow resilience
// policies and tracks execution state and statistics.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/sentinelsec/threatmesh/internal/agent"
	"github.com/sentinelsec/threatmesh/internal/config"
	"github.com/sentinelsec/threatmesh/internal/metrics"
	"github.com/sentinelsec/threatmesh/internal/model"
	"github.com/sentinelsec/threatmesh/internal/orchestrator"
	"github.com/sentinelsec/threatmesh/internal/resilience"
)

// Workflow names.
const (
	WorkflowNetworkTraffic    = "network-traffic"
	WorkflowUserBehavior      = "user-behavior"
	WorkflowThreatCorrelation = "threat-correlation"
)

// maxResponseActions caps the action list returned by a workflow.
const maxResponseActions = 10

// ErrCapacity is returned synchronously when the RUNNING workflow count has
// reached the configured ceiling.
var ErrCapacity = errors.New("workflow capacity reached")

// AlertPublisher pushes finalized alerts and reports to the event bus.
// Publishing is best effort and never fails a workflow.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert *model.ThreatAlert) error
	PublishReport(ctx context.Context, report *model.ThreatCorrelationReport) error
}

// Coordinator runs the three workflow types over the agent set.
type Coordinator struct {
	cfg       *config.Config
	orch      *orchestrator.Orchestrator
	metrics   *metrics.Metrics
	logger    *slog.Logger
	publisher AlertPublisher

	networkPolicy     *resilience.Policy
	behaviorPolicy    *resilience.Policy
	correlationPolicy *resilience.Policy

	mu         sync.RWMutex
	executions map[string]*model.WorkflowExecution

	started     atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
	durationSum atomic.Int64 // nanoseconds across terminal workflows

	sweepMu     sync.Mutex
	sweepTicker *time.Ticker
	sweepStop   chan struct{}
}

// New wires a coordinator over the orchestrator. publisher may be nil.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, m *metrics.Metrics, publisher AlertPublisher, logger *slog.Logger) *Coordinator {
	logger = logger.With("component", "coordinator")
	return &Coordinator{
		cfg:               cfg,
		orch:              orch,
		metrics:           m,
		logger:            logger,
		publisher:         publisher,
		networkPolicy:     resilience.NewPolicy(WorkflowNetworkTraffic, cfg.NetworkPolicy, logger),
		behaviorPolicy:    resilience.NewPolicy(WorkflowUserBehavior, cfg.BehaviorPolicy, logger),
		correlationPolicy: resilience.NewPolicy(WorkflowThreatCorrelation, cfg.CorrelationPolicy, logger),
		executions:        make(map[string]*model.WorkflowExecution),
	}
}

// startWorkflow admits and registers a new execution. The capacity check
// counts RUNNING executions only, so a completed workflow frees its slot
// immediately even though the sweep has not evicted it yet.
func (c *Coordinator) startWorkflow(name string, input any) (*model.WorkflowExecution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	running := 0
	for _, exec := range c.executions {
		if exec.CurrentStatus() == model.WorkflowRunning {
			running++
		}
	}
	if running >= c.cfg.MaxConcurrentWorkflows {
		return nil, fmt.Errorf("%w: %d running, ceiling %d", ErrCapacity, running, c.cfg.MaxConcurrentWorkflows)
	}

	exec := model.NewWorkflowExecution(uuid.NewString(), name, input)
	c.executions[exec.WorkflowID] = exec
	c.started.Add(1)
	if c.metrics != nil {
		c.metrics.WorkflowsStarted.WithLabelValues(name).Inc()
	}
	c.logger.Info("workflow started", "workflow", name, "workflow_id", exec.WorkflowID)
	return exec, nil
}

// finishWorkflow records the terminal state and telemetry for exec.
func (c *Coordinator) finishWorkflow(exec *model.WorkflowExecution, result string, err error) {
	elapsed := time.Since(exec.StartedAt)
	c.durationSum.Add(int64(elapsed))

	if err != nil {
		exec.Fail(err.Error())
		c.failed.Add(1)
		if c.metrics != nil {
			c.metrics.WorkflowsFailed.WithLabelValues(exec.Name).Inc()
		}
		c.logger.Error("workflow failed",
			"workflow", exec.Name,
			"workflow_id", exec.WorkflowID,
			"elapsed", elapsed,
			"error", err)
	} else {
		exec.Complete(result)
		c.completed.Add(1)
		if c.metrics != nil {
			c.metrics.WorkflowsCompleted.WithLabelValues(exec.Name).Inc()
		}
		c.logger.Info("workflow completed",
			"workflow", exec.Name,
			"workflow_id", exec.WorkflowID,
			"elapsed", elapsed,
			"result", result)
	}
	if c.metrics != nil {
		c.metrics.WorkflowDuration.WithLabelValues(exec.Name).Observe(elapsed.Seconds())
	}
}

// fallbackResult is the structured failure returned when the resilience
// pipeline rejects or exhausts a workflow.
func fallbackResult(workflowID string, err error) *model.WorkflowResult {
	return &model.WorkflowResult{
		WorkflowID: workflowID,
		Success:    false,
		Error:      err.Error(),
	}
}

// GetWorkflowStatus returns a snapshot of one tracked execution, or false
// when the id is unknown or already swept.
func (c *Coordinator) GetWorkflowStatus(workflowID string) (*model.WorkflowExecution, bool) {
	c.mu.RLock()
	exec, ok := c.executions[workflowID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return exec.Snapshot(), true
}

// GetAllActiveWorkflows returns snapshots of every tracked execution,
// terminal ones included until the sweep evicts them.
func (c *Coordinator) GetAllActiveWorkflows() []*model.WorkflowExecution {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snaps := make([]*model.WorkflowExecution, 0, len(c.executions))
	for _, exec := range c.executions {
		snaps = append(snaps, exec.Snapshot())
	}
	return snaps
}

// GetWorkflowStatistics returns the counter snapshot. Repeated calls with
// no intervening workflow activity return identical values.
func (c *Coordinator) GetWorkflowStatistics() model.WorkflowStatistics {
	stats := model.WorkflowStatistics{
		TotalStarted:   c.started.Load(),
		TotalCompleted: c.completed.Load(),
		TotalFailed:    c.failed.Load(),
	}

	c.mu.RLock()
	for _, exec := range c.executions {
		if exec.CurrentStatus() == model.WorkflowRunning {
			stats.ActiveWorkflows++
		}
	}
	c.mu.RUnlock()

	if terminal := stats.TotalProcessed(); terminal > 0 {
		stats.AverageDuration = float64(c.durationSum.Load()) / float64(terminal) / float64(time.Millisecond)
	}
	return stats
}

// StartSweeper launches the periodic eviction of terminal executions older
// than the retention window.
func (c *Coordinator) StartSweeper() {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.sweepTicker != nil {
		return
	}
	c.sweepTicker = time.NewTicker(c.cfg.SweepInterval)
	c.sweepStop = make(chan struct{})
	go func(ticker *time.Ticker, stop chan struct{}) {
		for {
			select {
			case <-ticker.C:
				evicted := c.Sweep(time.Now().Add(-c.cfg.RetentionWindow))
				if evicted > 0 {
					c.logger.Info("swept terminal workflows", "evicted", evicted)
				}
			case <-stop:
				return
			}
		}
	}(c.sweepTicker, c.sweepStop)
	c.logger.Info("sweeper started", "interval", c.cfg.SweepInterval, "retention", c.cfg.RetentionWindow)
}

// StopSweeper halts the eviction loop.
func (c *Coordinator) StopSweeper() {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.sweepTicker == nil {
		return
	}
	c.sweepTicker.Stop()
	c.sweepTicker = nil
	close(c.sweepStop)
	c.sweepStop = nil
}

// Sweep removes terminal executions that ended before cutoff and returns
// how many were evicted.
func (c *Coordinator) Sweep(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for id, exec := range c.executions {
		if exec.EndedBefore(cutoff) {
			delete(c.executions, id)
			evicted++
		}
	}
	return evicted
}

// submitToAgent dispatches input through the orchestrator under the step
// timeout. An input the agent rejects as malformed will never succeed on a
// later attempt, so it is marked unrecoverable for the retry layer.
func (c *Coordinator) submitToAgent(ctx context.Context, agentID string, input any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
	defer cancel()
	out, err := c.orch.Submit(ctx, agentID, input)
	if errors.Is(err, agent.ErrBadInput) {
		return nil, retry.Unrecoverable(err)
	}
	return out, err
}

// enrichAlert attaches threat intelligence to the alert. A failed lookup
// degrades to a conservative unknown record instead of failing the caller.
func (c *Coordinator) enrichAlert(ctx context.Context, alert *model.ThreatAlert) {
	query := &model.IntelligenceQuery{
		Indicator: alert.SourceIP,
		Type:      model.IndicatorIP,
		Context:   "workflow enrichment",
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.EnrichmentTimeout)
	defer cancel()

	out, err := c.orch.Submit(ctx, agent.ThreatIntelligenceID, query)
	if err == nil {
		if intel, ok := out.(*model.ThreatIntelligence); ok {
			alert.Intelligence = intel
			return
		}
	}

	c.logger.Warn("intelligence enrichment degraded",
		"alert_id", alert.ID,
		"indicator", query.Indicator,
		"error", err)
	alert.Intelligence = &model.ThreatIntelligence{
		Indicator:  query.Indicator,
		Type:       query.Type,
		Malicious:  false,
		Confidence: 0,
		ThreatType: "Unknown",
		Reputation: "UNKNOWN",
		ReportedAt: time.Now(),
	}
}

// feedLearning offers a labeled sample to the pattern-learning agent. Best
// effort, failures are only logged.
func (c *Coordinator) feedLearning(ctx context.Context, modelType string, alert *model.ThreatAlert, features map[string]any) {
	sample := &model.LearningData{
		ID:          uuid.NewString(),
		ModelType:   modelType,
		Features:    features,
		Label:       alert.Severity,
		Priority:    alert.IsCritical(),
		Source:      alert.DetectedBy,
		CollectedAt: time.Now(),
	}
	if _, err := c.orch.Submit(ctx, agent.PatternLearningID, sample); err != nil {
		c.logger.Warn("learning feed skipped", "alert_id", alert.ID, "error", err)
	}
}

// planResponse asks the response agent for candidate actions and applies
// the coordinator's action hygiene: drop invalid entries, order by
// descending priority, cap the list.
func (c *Coordinator) planResponse(ctx context.Context, alert *model.ThreatAlert) ([]*model.ResponseAction, error) {
	out, err := c.submitToAgent(ctx, agent.ThreatResponseID, alert)
	if err != nil {
		return nil, err
	}
	actions, ok := out.([]*model.ResponseAction)
	if !ok {
		return nil, fmt.Errorf("unexpected response agent output %T", out)
	}
	return prepareActions(actions), nil
}

// prepareActions filters invalid actions, sorts by descending priority and
// caps the list at maxResponseActions. The sort is stable so equal
// priorities keep their original order.
func prepareActions(actions []*model.ResponseAction) []*model.ResponseAction {
	valid := make([]*model.ResponseAction, 0, len(actions))
	for _, a := range actions {
		if a.Valid() {
			valid = append(valid, a)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Priority > valid[j].Priority
	})
	if len(valid) > maxResponseActions {
		valid = valid[:maxResponseActions]
	}
	return valid
}

// publishAlert pushes the alert to the event bus when a publisher is wired.
func (c *Coordinator) publishAlert(ctx context.Context, alert *model.ThreatAlert) {
	if c.publisher == nil || alert == nil {
		return
	}
	if err := c.publisher.PublishAlert(ctx, alert); err != nil {
		c.logger.Warn("alert publish failed", "alert_id", alert.ID, "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.AlertsPublished.Inc()
	}
}

// publishReport pushes the correlation report to the event bus when a
// publisher is wired.
func (c *Coordinator) publishReport(ctx context.Context, report *model.ThreatCorrelationReport) {
	if c.publisher == nil || report == nil {
		return
	}
	if err := c.publisher.PublishReport(ctx, report); err != nil {
		c.logger.Warn("report publish failed", "workflow_id", report.WorkflowID, "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.AlertsPublished.Inc()
	}
}
