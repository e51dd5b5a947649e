package coordinator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/threatmesh/internal/agent"
	"github.com/sentinelsec/threatmesh/internal/config"
	"github.com/sentinelsec/threatmesh/internal/metrics"
	"github.com/sentinelsec/threatmesh/internal/model"
	"github.com/sentinelsec/threatmesh/internal/orchestrator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, mutate func(*config.Config)) *Coordinator {
	t.Helper()

	cfg := config.Default()
	cfg.StepTimeout = 5 * time.Second
	cfg.EnrichmentTimeout = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	logger := testLogger()
	orch := orchestrator.New(logger)
	orch.Register(agent.NewNetworkMonitor(cfg.AgentWorkers, nil, logger))
	orch.Register(agent.NewBehaviorAnalyzer(cfg.AgentWorkers, cfg.ProfileMaxAge, nil, logger))
	orch.Register(agent.NewThreatIntel(cfg.AgentWorkers, cfg.IntelCacheSize, cfg.IntelCacheTTL, nil, logger))
	orch.Register(agent.NewPatternLearner(cfg.AgentWorkers, cfg.LearnBufferLimit, cfg.LearnFlushInterval, nil, logger))
	orch.Register(agent.NewThreatResponder(cfg.AgentWorkers, nil, logger))
	orch.StartAll()
	t.Cleanup(orch.StopAll)

	return New(cfg, orch, metrics.New(), nil, logger)
}

func maliciousPacket(sourceIP string, ts time.Time) *model.NetworkPacket {
	return &model.NetworkPacket{
		PacketID:        "pkt-1",
		SourceIP:        sourceIP,
		DestinationIP:   "10.0.0.10",
		DestinationPort: 443,
		Protocol:        "TCP",
		Payload:         "data with malicious_signature inside",
		Size:            512,
		Timestamp:       ts,
	}
}

func anomalousActivity(ip string, ts time.Time) *model.UserActivity {
	return &model.UserActivity{
		ActivityID:   "act-1",
		UserID:       "jdoe",
		IPAddress:    ip,
		ActivityType: "PRIVILEGE_ESCALATION",
		Successful:   true,
		Timestamp:    ts,
	}
}

func TestNetworkWorkflowMaliciousPacket(t *testing.T) {
	c := newTestCoordinator(t, nil)

	result, err := c.ProcessNetworkTraffic(context.Background(), maliciousPacket("203.0.113.7", time.Now()))
	require.NoError(t, err)
	require.True(t, result.Successful())

	require.NotNil(t, result.Alert)
	assert.Equal(t, model.SeverityMedium, result.Alert.Severity)
	assert.True(t, result.Alert.Processed)
	assert.Equal(t, result.WorkflowID, result.Alert.WorkflowID)

	require.NotEmpty(t, result.Actions)
	assert.LessOrEqual(t, len(result.Actions), maxResponseActions)
	for i := 1; i < len(result.Actions); i++ {
		assert.GreaterOrEqual(t, result.Actions[i-1].Priority, result.Actions[i].Priority)
	}

	exec, ok := c.GetWorkflowStatus(result.WorkflowID)
	require.True(t, ok)
	assert.Equal(t, model.WorkflowCompleted, exec.Status)
	assert.NotEmpty(t, exec.Steps)
}

func TestNetworkWorkflowEnrichesAlert(t *testing.T) {
	c := newTestCoordinator(t, nil)

	result, err := c.ProcessNetworkTraffic(context.Background(), maliciousPacket("203.0.113.7", time.Now()))
	require.NoError(t, err)
	require.NotNil(t, result.Alert)

	require.NotNil(t, result.Alert.Intelligence)
	assert.True(t, result.Alert.Intelligence.Malicious)
	assert.Equal(t, "203.0.113.7", result.Alert.Intelligence.Indicator)
}

func TestNetworkWorkflowCleanPacket(t *testing.T) {
	c := newTestCoordinator(t, nil)

	packet := &model.NetworkPacket{
		PacketID:        "pkt-2",
		SourceIP:        "10.0.0.5",
		DestinationPort: 443,
		Payload:         "GET /index.html",
		Timestamp:       time.Now(),
	}

	result, err := c.ProcessNetworkTraffic(context.Background(), packet)
	require.NoError(t, err)
	assert.True(t, result.Successful())
	assert.Nil(t, result.Alert)
	assert.Empty(t, result.Actions)
}

func TestBehaviorWorkflowEscalation(t *testing.T) {
	c := newTestCoordinator(t, nil)

	ts := time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC)
	result, err := c.ProcessUserBehavior(context.Background(), anomalousActivity("198.51.100.9", ts))
	require.NoError(t, err)
	require.True(t, result.Successful())

	require.NotNil(t, result.Risk)
	// HIGH base 0.5 + time 0.2 + location 0.15 + escalation 0.4, clamped.
	assert.InDelta(t, 1.0, result.Risk.Score, 1e-9)

	types := make(map[string]bool)
	for _, action := range result.Actions {
		types[action.Type] = true
	}
	assert.True(t, types["IMMEDIATE_LOCKOUT"])
	assert.True(t, types["REQUIRE_MFA"])
	assert.True(t, types["NOTIFY_SECURITY_TEAM"])

	for i := 1; i < len(result.Actions); i++ {
		assert.GreaterOrEqual(t, result.Actions[i-1].Priority, result.Actions[i].Priority)
	}
}

func TestBehaviorWorkflowNormalActivity(t *testing.T) {
	c := newTestCoordinator(t, nil)

	activity := &model.UserActivity{
		ActivityID:   "act-2",
		UserID:       "jdoe",
		IPAddress:    "10.0.0.5",
		ActivityType: "LOGIN",
		Successful:   true,
		Timestamp:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}

	result, err := c.ProcessUserBehavior(context.Background(), activity)
	require.NoError(t, err)
	assert.True(t, result.Successful())
	assert.Nil(t, result.Alert)
	assert.Nil(t, result.Risk)
}

func TestCapacityAdmission(t *testing.T) {
	c := newTestCoordinator(t, func(cfg *config.Config) {
		cfg.MaxConcurrentWorkflows = 1
	})

	first, err := c.startWorkflow(WorkflowNetworkTraffic, nil)
	require.NoError(t, err)

	_, err = c.startWorkflow(WorkflowNetworkTraffic, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapacity)

	// Completing the running workflow frees exactly one slot even though
	// the sweep has not evicted the entry.
	c.finishWorkflow(first, "done", nil)

	second, err := c.startWorkflow(WorkflowNetworkTraffic, nil)
	require.NoError(t, err)
	c.finishWorkflow(second, "done", nil)
}

func TestStatisticsIdempotent(t *testing.T) {
	c := newTestCoordinator(t, nil)

	_, err := c.ProcessNetworkTraffic(context.Background(), maliciousPacket("203.0.113.7", time.Now()))
	require.NoError(t, err)

	first := c.GetWorkflowStatistics()
	second := c.GetWorkflowStatistics()
	assert.Equal(t, first, second)

	assert.Equal(t, int64(1), first.TotalStarted)
	assert.Equal(t, int64(1), first.TotalCompleted)
	assert.Equal(t, int64(0), first.TotalFailed)
	assert.InDelta(t, 100.0, first.SuccessRate(), 1e-9)
	assert.Greater(t, first.AverageDuration, 0.0)
}

func TestSweepEvictsOldTerminalExecutions(t *testing.T) {
	c := newTestCoordinator(t, nil)

	exec, err := c.startWorkflow(WorkflowNetworkTraffic, nil)
	require.NoError(t, err)
	running, err := c.startWorkflow(WorkflowUserBehavior, nil)
	require.NoError(t, err)

	c.finishWorkflow(exec, "done", nil)

	evicted := c.Sweep(time.Now().Add(time.Minute))
	assert.Equal(t, 1, evicted)

	_, ok := c.GetWorkflowStatus(exec.WorkflowID)
	assert.False(t, ok)

	// RUNNING executions are never swept.
	_, ok = c.GetWorkflowStatus(running.WorkflowID)
	assert.True(t, ok)
	c.finishWorkflow(running, "done", nil)
}

func TestSweepHonorsRetentionCutoff(t *testing.T) {
	c := newTestCoordinator(t, nil)

	exec, err := c.startWorkflow(WorkflowNetworkTraffic, nil)
	require.NoError(t, err)
	c.finishWorkflow(exec, "done", nil)

	// The execution just ended, a cutoff in the past keeps it.
	assert.Equal(t, 0, c.Sweep(time.Now().Add(-time.Minute)))
	_, ok := c.GetWorkflowStatus(exec.WorkflowID)
	assert.True(t, ok)
}

func TestRateLimitedWorkflowReturnsFallback(t *testing.T) {
	c := newTestCoordinator(t, func(cfg *config.Config) {
		cfg.NetworkPolicy.RateLimit = 1
		cfg.NetworkPolicy.RatePeriod = time.Hour
	})

	_, err := c.ProcessNetworkTraffic(context.Background(), maliciousPacket("203.0.113.7", time.Now()))
	require.NoError(t, err)

	result, err := c.ProcessNetworkTraffic(context.Background(), maliciousPacket("203.0.113.7", time.Now()))
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)

	stats := c.GetWorkflowStatistics()
	assert.Equal(t, int64(2), stats.TotalStarted)
	assert.Equal(t, int64(1), stats.TotalFailed)
}

func TestSubmitToAgentBadInputUnrecoverable(t *testing.T) {
	c := newTestCoordinator(t, nil)

	out, err := c.submitToAgent(context.Background(), agent.NetworkMonitorID, "not a packet")
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, agent.ErrBadInput)
	assert.False(t, retry.IsRecoverable(err), "rejected input must not be retried")
}

func TestPrepareActions(t *testing.T) {
	valid := func(priority int) *model.ResponseAction {
		a := model.NewResponseAction("ACTION", "", false)
		a.Description = "desc"
		a.Priority = priority
		return a
	}

	var actions []*model.ResponseAction
	for i := 0; i < 12; i++ {
		actions = append(actions, valid(i))
	}
	actions = append(actions, &model.ResponseAction{Type: "NO_DESCRIPTION"})

	prepared := prepareActions(actions)
	require.Len(t, prepared, maxResponseActions)
	assert.Equal(t, 11, prepared[0].Priority)
	for i := 1; i < len(prepared); i++ {
		assert.Greater(t, prepared[i-1].Priority, prepared[i].Priority)
	}
}
