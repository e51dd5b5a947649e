package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/threatmesh/internal/model"
)

func alertAt(sourceIP string, ts time.Time) *model.ThreatAlert {
	alert := model.NewThreatAlert()
	alert.SourceIP = sourceIP
	alert.Severity = model.SeverityMedium
	alert.DetectedAt = ts
	return alert
}

func TestCorrelateAlerts(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		network  *model.ThreatAlert
		behavior *model.ThreatAlert
		types    []string
	}{
		{
			name:     "same ip and close in time yields both",
			network:  alertAt("203.0.113.5", base),
			behavior: alertAt("203.0.113.5", base.Add(5*time.Minute)),
			types:    []string{model.CorrelationTimeBased, model.CorrelationIPBased},
		},
		{
			name:     "close in time only",
			network:  alertAt("203.0.113.5", base),
			behavior: alertAt("198.51.100.9", base.Add(29*time.Minute)),
			types:    []string{model.CorrelationTimeBased},
		},
		{
			name:     "same ip only",
			network:  alertAt("203.0.113.5", base),
			behavior: alertAt("203.0.113.5", base.Add(2*time.Hour)),
			types:    []string{model.CorrelationIPBased},
		},
		{
			name:     "unrelated alerts",
			network:  alertAt("203.0.113.5", base),
			behavior: alertAt("198.51.100.9", base.Add(2*time.Hour)),
			types:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			correlations := correlateAlerts(
				[]*model.ThreatAlert{tt.network},
				[]*model.ThreatAlert{tt.behavior},
			)
			require.Len(t, correlations, len(tt.types))
			for i, corr := range correlations {
				assert.Equal(t, tt.types[i], corr.Type)
				switch corr.Type {
				case model.CorrelationTimeBased:
					assert.InDelta(t, timeCorrelationConfidence, corr.Confidence, 1e-9)
				case model.CorrelationIPBased:
					assert.InDelta(t, ipCorrelationConfidence, corr.Confidence, 1e-9)
				}
			}
		})
	}
}

func TestCorrelationWindowIsSymmetric(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	// Behavior alert before the network alert still correlates.
	correlations := correlateAlerts(
		[]*model.ThreatAlert{alertAt("203.0.113.5", base)},
		[]*model.ThreatAlert{alertAt("198.51.100.9", base.Add(-10*time.Minute))},
	)
	require.Len(t, correlations, 1)
	assert.Equal(t, model.CorrelationTimeBased, correlations[0].Type)
}

func TestAggregateRisk(t *testing.T) {
	assert.Zero(t, aggregateRisk(nil))

	correlations := []*model.ThreatCorrelation{
		{Confidence: 0.7},
		{Confidence: 0.9},
	}
	assert.InDelta(t, 0.8, aggregateRisk(correlations), 1e-9)

	// Many correlations clamp to 1.
	for i := 0; i < 5; i++ {
		correlations = append(correlations, &model.ThreatCorrelation{Confidence: 0.9})
	}
	assert.InDelta(t, 1.0, aggregateRisk(correlations), 1e-9)
}

func TestCorrelationActionsByRisk(t *testing.T) {
	tests := []struct {
		risk  float64
		types []string
	}{
		{0.9, []string{"INCIDENT_RESPONSE", "NETWORK_ISOLATION", "THREAT_HUNTING"}},
		{0.7, []string{"NETWORK_ISOLATION", "THREAT_HUNTING"}},
		{0.3, []string{"THREAT_HUNTING"}},
	}

	for _, tt := range tests {
		actions := correlationActions(tt.risk)
		require.Len(t, actions, len(tt.types))
		for i, action := range actions {
			assert.Equal(t, tt.types[i], action.Type)
		}
	}
}

func TestThreatCorrelationWorkflow(t *testing.T) {
	c := newTestCoordinator(t, nil)

	base := time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC)
	input := &CorrelationInput{
		Packets: []*model.NetworkPacket{
			maliciousPacket("203.0.113.5", base),
			{PacketID: "clean", SourceIP: "10.0.0.9", DestinationPort: 443, Timestamp: base},
		},
		Activities: []*model.UserActivity{
			anomalousActivity("203.0.113.5", base.Add(5*time.Minute)),
			{
				ActivityID:   "normal",
				UserID:       "asmith",
				IPAddress:    "10.0.0.3",
				ActivityType: "LOGIN",
				Timestamp:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
			},
		},
	}

	result, err := c.ProcessThreatCorrelation(context.Background(), input)
	require.NoError(t, err)
	require.True(t, result.Successful())

	report := result.Report
	require.NotNil(t, report)
	assert.Len(t, report.NetworkAlerts, 1)
	assert.Len(t, report.BehaviorAlerts, 1)
	assert.Equal(t, 2, report.TotalAlerts())

	// One pair matching both rules: 0.7*0.5 + 0.9*0.5.
	require.Len(t, report.Correlations, 2)
	assert.InDelta(t, 0.8, report.AggregatedRisk, 1e-9)
	assert.Equal(t, 1, report.HighConfidenceCorrelations())

	types := make(map[string]bool)
	for _, action := range report.ResponseActions {
		types[action.Type] = true
	}
	assert.True(t, types["NETWORK_ISOLATION"])
	assert.True(t, types["THREAT_HUNTING"])
	assert.False(t, types["INCIDENT_RESPONSE"], "risk of 0.8 does not cross the 0.8 threshold")
}

func TestThreatCorrelationWorkflowEmptyBatch(t *testing.T) {
	c := newTestCoordinator(t, nil)

	result, err := c.ProcessThreatCorrelation(context.Background(), &CorrelationInput{})
	require.NoError(t, err)
	require.True(t, result.Successful())
	require.NotNil(t, result.Report)
	assert.Zero(t, result.Report.AggregatedRisk)
	assert.Empty(t, result.Report.Correlations)

	types := make(map[string]bool)
	for _, action := range result.Report.ResponseActions {
		types[action.Type] = true
	}
	assert.True(t, types["THREAT_HUNTING"])
	assert.False(t, types["NETWORK_ISOLATION"])
}
