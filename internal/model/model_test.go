package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityOrdinal(t *testing.T) {
	assert.Equal(t, 0, SeverityLow.Ordinal())
	assert.Equal(t, 1, SeverityMedium.Ordinal())
	assert.Equal(t, 2, SeverityHigh.Ordinal())
	assert.Equal(t, 3, SeverityCritical.Ordinal())
	assert.Equal(t, 0, Severity("bogus").Ordinal())
}

func TestThreatAlertLifecycle(t *testing.T) {
	alert := NewThreatAlert()
	assert.NotEmpty(t, alert.ID)
	assert.False(t, alert.Processed)

	alert.MarkProcessed("wf-1")
	assert.True(t, alert.Processed)
	assert.Equal(t, "wf-1", alert.WorkflowID)
	assert.False(t, alert.ProcessedAt.IsZero())

	alert.Severity = SeverityHigh
	assert.True(t, alert.IsHighSeverity())
	assert.False(t, alert.IsCritical())

	alert.Severity = SeverityCritical
	assert.True(t, alert.IsHighSeverity())
	assert.True(t, alert.IsCritical())
}

func TestConfidenceLevels(t *testing.T) {
	assert.Equal(t, "HIGH", (&ThreatCorrelation{Confidence: 0.9}).ConfidenceLevel())
	assert.Equal(t, "MEDIUM", (&ThreatCorrelation{Confidence: 0.7}).ConfidenceLevel())
	assert.Equal(t, "LOW", (&ThreatCorrelation{Confidence: 0.4}).ConfidenceLevel())

	intel := &ThreatIntelligence{Confidence: 0.85}
	assert.Equal(t, "HIGH", intel.ConfidenceLevel())
	assert.InDelta(t, intel.Confidence, intel.ConfidenceScore(), 1e-9)
}

func TestIntelligenceFreshness(t *testing.T) {
	intel := &ThreatIntelligence{ReportedAt: time.Now().Add(-time.Hour)}
	assert.True(t, intel.Fresh(24*time.Hour))
	assert.False(t, intel.Fresh(30*time.Minute))
	assert.False(t, (&ThreatIntelligence{}).Fresh(24*time.Hour))
}

func TestWorkflowExecutionLifecycle(t *testing.T) {
	exec := NewWorkflowExecution("wf-1", "network-traffic", nil)
	assert.Equal(t, WorkflowRunning, exec.CurrentStatus())
	assert.False(t, exec.Terminal())

	exec.AddStep("detection", "packet analyzed")
	exec.AddStep("response", "actions planned")
	assert.Equal(t, 2, exec.StepCount())

	exec.Complete("2 actions")
	assert.True(t, exec.Terminal())
	assert.Equal(t, WorkflowCompleted, exec.CurrentStatus())
	assert.True(t, exec.EndedBefore(time.Now().Add(time.Second)))
	assert.False(t, exec.EndedBefore(time.Now().Add(-time.Second)))

	snap := exec.Snapshot()
	assert.Equal(t, exec.WorkflowID, snap.WorkflowID)
	require.Len(t, snap.Steps, 2)
	assert.Equal(t, "detection", snap.Steps[0].Name)

	// The snapshot serializes cleanly.
	_, err := json.Marshal(snap)
	require.NoError(t, err)
}

func TestWorkflowExecutionFail(t *testing.T) {
	exec := NewWorkflowExecution("wf-2", "user-behavior", nil)
	exec.Fail("agent unavailable")
	assert.True(t, exec.Terminal())
	assert.Equal(t, WorkflowFailed, exec.CurrentStatus())
	assert.Equal(t, "agent unavailable", exec.Snapshot().Error)
}

func TestWorkflowStatisticsRates(t *testing.T) {
	var none WorkflowStatistics
	assert.Zero(t, none.SuccessRate())
	assert.Zero(t, none.FailureRate())

	stats := WorkflowStatistics{TotalStarted: 10, TotalCompleted: 8, TotalFailed: 2}
	assert.InDelta(t, 80.0, stats.SuccessRate(), 1e-9)
	assert.InDelta(t, 20.0, stats.FailureRate(), 1e-9)
	assert.Equal(t, int64(10), stats.TotalProcessed())
}

func TestResponseActionHelpers(t *testing.T) {
	action := NewResponseAction("BLOCK_IP", "203.0.113.7", true)
	assert.Equal(t, ActionPending, action.Status)
	assert.Equal(t, 5, action.Priority)
	assert.False(t, action.Valid(), "missing description")

	action.Description = "Block at perimeter"
	assert.True(t, action.Valid())

	action.Priority = 9
	assert.Equal(t, "CRITICAL", action.PriorityLevel())

	action.MarkExecuted("threat-response", "done")
	assert.Equal(t, ActionExecuted, action.Status)
	assert.Equal(t, "threat-response", action.ExecutedBy)

	failed := NewResponseAction("ISOLATE_SYSTEM", "web-01", false)
	failed.MarkFailed("unreachable")
	assert.Equal(t, ActionFailed, failed.Status)
	assert.Equal(t, "unreachable", failed.Error)
}

func TestRiskScoreDominantFactor(t *testing.T) {
	risk := &RiskScore{BaseRisk: 0.5, TimeRisk: 0.2, LocationRisk: 0.1, BehaviorRisk: 0.4}
	assert.Equal(t, "BASE_THREAT", risk.DominantFactor())

	risk = &RiskScore{BaseRisk: 0.1, TimeRisk: 0.2, LocationRisk: 0.15, BehaviorRisk: 0.4}
	assert.Equal(t, "BEHAVIOR_BASED", risk.DominantFactor())

	risk = &RiskScore{BaseRisk: 0.1, TimeRisk: 0.05, LocationRisk: 0.3, BehaviorRisk: 0.2}
	assert.Equal(t, "LOCATION_BASED", risk.DominantFactor())

	// Ties keep the earlier factor.
	risk = &RiskScore{BaseRisk: 0.2, TimeRisk: 0.2, LocationRisk: 0.2, BehaviorRisk: 0.2}
	assert.Equal(t, "BASE_THREAT", risk.DominantFactor())
}

func TestCorrelationReportCounts(t *testing.T) {
	report := &ThreatCorrelationReport{
		NetworkAlerts:  []*ThreatAlert{NewThreatAlert(), NewThreatAlert()},
		BehaviorAlerts: []*ThreatAlert{NewThreatAlert()},
		Correlations: []*ThreatCorrelation{
			{Confidence: 0.9},
			{Confidence: 0.7},
		},
	}
	assert.Equal(t, 3, report.TotalAlerts())
	assert.Equal(t, 1, report.HighConfidenceCorrelations())
}
