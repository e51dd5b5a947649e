package coordinator

import (
	"context"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelsec/threatmesh/internal/agent"
	"github.com/sentinelsec/threatmesh/internal/model"
)

// Correlation rule parameters.
const (
	timeCorrelationWindow     = 30 * time.Minute
	timeCorrelationConfidence = 0.7
	ipCorrelationConfidence   = 0.9
	correlationRiskWeight     = 0.5
)

// Correlation response plan thresholds over aggregated risk.
const (
	incidentResponseThreshold = 0.8
	networkIsolationThreshold = 0.6
)

// CorrelationInput is the batch input of the threat-correlation workflow.
type CorrelationInput struct {
	Packets    []*model.NetworkPacket `json:"packets"`
	Activities []*model.UserActivity  `json:"activities"`
}

// ProcessThreatCorrelation runs the threat-correlation workflow over a
// batch of network observations and user activities.
func (c *Coordinator) ProcessThreatCorrelation(ctx context.Context, input *CorrelationInput) (*model.WorkflowResult, error) {
	if input == nil {
		return nil, retry.Unrecoverable(fmt.Errorf("nil correlation input"))
	}

	exec, err := c.startWorkflow(WorkflowThreatCorrelation, input)
	if err != nil {
		return nil, err
	}

	out, err := c.correlationPolicy.Execute(ctx, func(ctx context.Context) (any, error) {
		return c.runCorrelationWorkflow(ctx, exec, input)
	})
	if err != nil {
		c.finishWorkflow(exec, "", err)
		return fallbackResult(exec.WorkflowID, err), err
	}

	result := out.(*model.WorkflowResult)
	c.finishWorkflow(exec, resultSummary(result), nil)
	return result, nil
}

func (c *Coordinator) runCorrelationWorkflow(ctx context.Context, exec *model.WorkflowExecution, input *CorrelationInput) (*model.WorkflowResult, error) {
	start := time.Now()
	exec.AddStep("fan-out", fmt.Sprintf("dispatching %d packets and %d activities",
		len(input.Packets), len(input.Activities)))

	networkAlerts, behaviorAlerts, err := c.collectAlerts(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("correlation fan-out: %w", err)
	}

	exec.AddStep("correlation", fmt.Sprintf("correlating %d network and %d behavior alerts",
		len(networkAlerts), len(behaviorAlerts)))
	correlations := correlateAlerts(networkAlerts, behaviorAlerts)

	aggregatedRisk := aggregateRisk(correlations)
	exec.AddStep("risk-aggregation", fmt.Sprintf("aggregated risk %.2f over %d correlations",
		aggregatedRisk, len(correlations)))

	exec.AddStep("response-plan", "correlation response plan generated")
	actions := prepareActions(correlationActions(aggregatedRisk))

	report := &model.ThreatCorrelationReport{
		WorkflowID:      exec.WorkflowID,
		StartedAt:       exec.StartedAt,
		EndedAt:         time.Now(),
		NetworkAlerts:   networkAlerts,
		BehaviorAlerts:  behaviorAlerts,
		Correlations:    correlations,
		AggregatedRisk:  aggregatedRisk,
		ResponseActions: actions,
	}

	c.publishReport(ctx, report)

	return &model.WorkflowResult{
		WorkflowID:    exec.WorkflowID,
		Success:       true,
		Report:        report,
		ExecutionTime: time.Since(start),
	}, nil
}

// collectAlerts fans out every observation to its detection agent and joins
// the results, dropping clean outcomes. The first submission failure
// cancels the remaining waits.
func (c *Coordinator) collectAlerts(ctx context.Context, input *CorrelationInput) ([]*model.ThreatAlert, []*model.ThreatAlert, error) {
	g, ctx := errgroup.WithContext(ctx)

	networkSlots := make([]*model.ThreatAlert, len(input.Packets))
	behaviorSlots := make([]*model.ThreatAlert, len(input.Activities))

	for i, packet := range input.Packets {
		i, packet := i, packet
		g.Go(func() error {
			out, err := c.submitToAgent(ctx, agent.NetworkMonitorID, packet)
			if err != nil {
				return err
			}
			if alert, ok := out.(*model.ThreatAlert); ok {
				networkSlots[i] = alert
			}
			return nil
		})
	}
	for i, activity := range input.Activities {
		i, activity := i, activity
		g.Go(func() error {
			out, err := c.submitToAgent(ctx, agent.BehaviorAnalysisID, activity)
			if err != nil {
				return err
			}
			if alert, ok := out.(*model.ThreatAlert); ok {
				behaviorSlots[i] = alert
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return compactAlerts(networkSlots), compactAlerts(behaviorSlots), nil
}

func compactAlerts(slots []*model.ThreatAlert) []*model.ThreatAlert {
	alerts := make([]*model.ThreatAlert, 0, len(slots))
	for _, alert := range slots {
		if alert != nil {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// correlateAlerts evaluates every (network, behavior) pair under the
// time-based and ip-based rules. A pair may match both.
func correlateAlerts(networkAlerts, behaviorAlerts []*model.ThreatAlert) []*model.ThreatCorrelation {
	var correlations []*model.ThreatCorrelation

	for _, na := range networkAlerts {
		for _, ba := range behaviorAlerts {
			if gap := na.DetectedAt.Sub(ba.DetectedAt); gap.Abs() <= timeCorrelationWindow {
				correlations = append(correlations, &model.ThreatCorrelation{
					ID:            uuid.NewString(),
					Type:          model.CorrelationTimeBased,
					NetworkAlert:  na,
					BehaviorAlert: ba,
					Confidence:    timeCorrelationConfidence,
					Description:   fmt.Sprintf("Alerts detected %s apart", gap.Abs().Round(time.Second)),
					CorrelatedAt:  time.Now(),
				})
			}
			if na.SourceIP != "" && na.SourceIP == ba.SourceIP {
				correlations = append(correlations, &model.ThreatCorrelation{
					ID:            uuid.NewString(),
					Type:          model.CorrelationIPBased,
					NetworkAlert:  na,
					BehaviorAlert: ba,
					Confidence:    ipCorrelationConfidence,
					Description:   "Alerts share source IP " + na.SourceIP,
					CorrelatedAt:  time.Now(),
				})
			}
		}
	}
	return correlations
}

// aggregateRisk sums the weighted correlation confidences, clamped to 1.
func aggregateRisk(correlations []*model.ThreatCorrelation) float64 {
	risk := 0.0
	for _, corr := range correlations {
		risk += corr.Confidence * correlationRiskWeight
	}
	if risk > 1 {
		risk = 1
	}
	return risk
}

// correlationActions builds the response plan for the aggregated risk.
func correlationActions(aggregatedRisk float64) []*model.ResponseAction {
	var actions []*model.ResponseAction

	add := func(actionType, description string, automatic bool, priority int) {
		action := model.NewResponseAction(actionType, "", automatic)
		action.Description = description
		action.Priority = priority
		actions = append(actions, action)
	}

	if aggregatedRisk > incidentResponseThreshold {
		add("INCIDENT_RESPONSE",
			"Activate the full incident response procedure", false, 10)
	}
	if aggregatedRisk > networkIsolationThreshold {
		add("NETWORK_ISOLATION",
			"Isolate the affected network segment", true, 9)
	}
	add("THREAT_HUNTING",
		"Start a proactive threat hunting sweep", false, 7)

	return actions
}
